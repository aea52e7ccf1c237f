// Package events publishes deployment lifecycle notifications.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event detail types.
const (
	TypeDeploymentSucceeded = "Deployment Succeeded"
	TypeDeploymentFailed    = "Deployment Failed"
	TypeDeploymentCancelled = "Deployment Cancelled"
)

// Emitter publishes a single event. Implementations must be safe for
// concurrent use since stages may deploy in parallel.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload any) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, eventType string, payload any) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, eventType string, payload any) error {
	return f(ctx, eventType, payload)
}

// DeploymentEvent is emitted once per deployed stage.
type DeploymentEvent struct {
	// EventID uniquely identifies this event instance.
	EventID string `json:"event_id"`

	// Timestamp is when the event was generated, in UTC.
	Timestamp time.Time `json:"timestamp"`

	// Application is the manifest's application name.
	Application string `json:"application"`

	// Stage is the deployed stage.
	Stage string `json:"stage"`

	// Target is the stage's deployment target, when it differs from Stage.
	Target string `json:"target,omitempty"`

	// Status is the stage's overall status (succeeded, failed, cancelled).
	Status string `json:"status"`

	// FailedPhase names the phase that failed. Empty on success.
	FailedPhase string `json:"failed_phase,omitempty"`

	// Error is the failure message. Empty on success.
	Error string `json:"error,omitempty"`

	// Metadata carries additional key-value pairs such as the account ID.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewDeploymentEvent stamps a new event with a fresh ID and the current time.
func NewDeploymentEvent(application, stage, status string) DeploymentEvent {
	return DeploymentEvent{
		EventID:     uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Application: application,
		Stage:       stage,
		Status:      status,
	}
}

// TypeFor maps a stage status to its event detail type.
func TypeFor(status string) string {
	switch status {
	case "succeeded":
		return TypeDeploymentSucceeded
	case "cancelled":
		return TypeDeploymentCancelled
	default:
		return TypeDeploymentFailed
	}
}
