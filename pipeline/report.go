package pipeline

import (
	"time"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/bootstrap"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/content"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// Phase names a step of a stage deployment. Phases run in declaration order.
type Phase string

const (
	PhaseInitialization     Phase = "Initialization"
	PhaseContentDeployment  Phase = "ContentDeployment"
	PhaseWorkflowDeployment Phase = "WorkflowDeployment"
	PhaseBootstrapExecution Phase = "BootstrapExecution"
	PhaseEventEmission      Phase = "EventEmission"
)

// Phases lists every phase in execution order.
var Phases = []Phase{
	PhaseInitialization,
	PhaseContentDeployment,
	PhaseWorkflowDeployment,
	PhaseBootstrapExecution,
	PhaseEventEmission,
}

// Status is the outcome of a stage or phase.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// PhaseResult records one phase of a stage run.
type PhaseResult struct {
	Phase    Phase          `json:"phase"`
	Status   Status         `json:"status"`
	Duration time.Duration  `json:"duration"`
	Error    *errors.Detail `json:"error,omitempty"`
}

// Diagnostic is a non-fatal problem recorded during a stage run.
type Diagnostic struct {
	Phase   Phase          `json:"phase"`
	Message string         `json:"message"`
	Error   *errors.Detail `json:"error,omitempty"`
}

// StageReport is the outcome of deploying one stage.
type StageReport struct {
	Stage  string `json:"stage"`
	Target string `json:"target"`
	Status Status `json:"status"`

	// FailedPhase and Error are set when Status is failed or cancelled.
	FailedPhase Phase          `json:"failed_phase,omitempty"`
	Error       *errors.Detail `json:"error,omitempty"`

	Phases    []PhaseResult        `json:"phases"`
	Content   []content.ItemResult `json:"content,omitempty"`
	Workflows map[string]string    `json:"workflows,omitempty"`
	Bootstrap *bootstrap.Report    `json:"bootstrap,omitempty"`

	// Diagnostics holds best-effort failures, such as event emission, that
	// do not change Status.
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`

	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	err error
}

// Succeeded reports whether every phase of the stage succeeded or was skipped.
func (r *StageReport) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Err returns the error that failed the stage, or nil.
func (r *StageReport) Err() error {
	return r.err
}

// Phase returns the result of phase p, if it ran or was skipped.
func (r *StageReport) Phase(p Phase) (PhaseResult, bool) {
	for _, pr := range r.Phases {
		if pr.Phase == p {
			return pr, true
		}
	}
	return PhaseResult{}, false
}

func (r *StageReport) fail(phase Phase, status Status, err error) {
	r.Status = status
	r.FailedPhase = phase
	r.Error = errors.DetailOf(err)
	r.err = err
}

// Report aggregates the stage reports of one deploy request.
type Report struct {
	Application string                  `json:"application"`
	Stages      map[string]*StageReport `json:"stages"`
	// Order lists the stages in the order they were requested.
	Order    []string  `json:"order"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Stage returns the report of the named stage.
func (r *Report) Stage(name string) *StageReport {
	return r.Stages[name]
}

// Succeeded reports whether every requested stage succeeded.
func (r *Report) Succeeded() bool {
	for _, name := range r.Order {
		if sr := r.Stages[name]; sr == nil || !sr.Succeeded() {
			return false
		}
	}
	return true
}

// Failed returns the names of stages that did not succeed, in request order.
func (r *Report) Failed() []string {
	var failed []string
	for _, name := range r.Order {
		if sr := r.Stages[name]; sr == nil || !sr.Succeeded() {
			failed = append(failed, name)
		}
	}
	return failed
}

// ExitCode is 0 when every stage succeeded and 1 otherwise.
func (r *Report) ExitCode() int {
	if r.Succeeded() {
		return 0
	}
	return 1
}
