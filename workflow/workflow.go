// Package workflow is the workflow-engine capability: it creates or updates
// job definitions, starts runs and reports run status. The AWS Glue backend
// is used for real deployments; Memory serves tests and dry runs.
package workflow

import (
	"context"
	"time"
)

// Status is the state of a workflow run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Definition is a fully resolved workflow ready to be submitted.
type Definition struct {
	Name        string
	Description string
	// ScriptLocation is the object-store URL of the entry point script.
	ScriptLocation string
	Role           string
	Command        string
	GlueVersion    string
	Arguments      map[string]string
	Tags           map[string]string
}

// Ref identifies a workflow and, once started, one of its runs.
type Ref struct {
	Name  string `json:"name"`
	RunID string `json:"run_id,omitempty"`
}

// Snapshot is the observed state of a run at one point in time.
type Snapshot struct {
	Ref      Ref       `json:"ref"`
	Status   Status    `json:"status"`
	Sequence int       `json:"sequence"`
	Log      string    `json:"log,omitempty"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}

// Engine submits and tracks workflows.
type Engine interface {
	// Upsert creates the workflow or updates it in place.
	Upsert(ctx context.Context, def Definition) (Ref, error)
	// Start begins a run. args override the definition's default arguments.
	Start(ctx context.Context, ref Ref, args map[string]string) (Ref, error)
	// Status reports the state of ref's run, or of the latest run when
	// ref has no run ID.
	Status(ctx context.Context, ref Ref) (Snapshot, error)
}
