package bootstrap

import (
	"time"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// Status is the outcome of a single action.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome is the final state of an executor run.
type Outcome string

const (
	OutcomeAllSucceeded     Outcome = "AllSucceeded"
	OutcomeStoppedOnFailure Outcome = "StoppedOnFailure"
	OutcomeCancelled        Outcome = "Cancelled"
)

// ActionResult records what happened to one action. It is not modified
// after it has been appended to a Report.
type ActionResult struct {
	Index    int               `json:"index"`
	Type     string            `json:"type"`
	Name     string            `json:"name,omitempty"`
	Status   Status            `json:"status"`
	Payload  map[string]any    `json:"payload,omitempty"`
	Outputs  map[string]string `json:"outputs,omitempty"`
	Error    *errors.Detail    `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`

	err error
}

// Err returns the original error of a failed action.
func (r ActionResult) Err() error {
	return r.err
}

// Report is the ordered list of action results of one run. Its length
// relative to the input tells how far execution progressed.
type Report struct {
	Results  []ActionResult `json:"results"`
	Outcome  Outcome        `json:"outcome"`
	Total    int            `json:"total"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
}

// Succeeded reports whether every action ran and succeeded.
func (r *Report) Succeeded() bool {
	return r.Outcome == OutcomeAllSucceeded
}

// Failure returns the failing action, or nil.
func (r *Report) Failure() *ActionResult {
	if len(r.Results) == 0 {
		return nil
	}
	last := &r.Results[len(r.Results)-1]
	if last.Status == StatusFailed {
		return last
	}
	return nil
}

// Err returns the error that stopped the run, or nil when the run was not
// stopped by a failure.
func (r *Report) Err() error {
	if f := r.Failure(); f != nil {
		return f.err
	}
	return nil
}
