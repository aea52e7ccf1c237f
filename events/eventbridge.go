package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// Defaults for the EventBridge emitter.
const (
	DefaultBus    = "default"
	DefaultSource = "smus.cicd"
)

// EventBridgeAPI is the subset of the EventBridge client used by the emitter.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridge emits events onto an EventBridge bus.
type EventBridge struct {
	client EventBridgeAPI
	bus    string
	source string
	logger *slog.Logger
}

// Option configures an EventBridge emitter.
type Option func(*EventBridge)

// WithBus sets the target event bus name or ARN.
func WithBus(bus string) Option {
	return func(e *EventBridge) {
		if bus != "" {
			e.bus = bus
		}
	}
}

// WithSource sets the event source field.
func WithSource(source string) Option {
	return func(e *EventBridge) {
		if source != "" {
			e.source = source
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *EventBridge) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEventBridge creates an emitter around an existing client.
func NewEventBridge(client EventBridgeAPI, opts ...Option) *EventBridge {
	e := &EventBridge{
		client: client,
		bus:    DefaultBus,
		source: DefaultSource,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEventBridgeFromConfig creates an emitter from an AWS config.
func NewEventBridgeFromConfig(cfg aws.Config, opts ...Option) *EventBridge {
	return NewEventBridge(eventbridge.NewFromConfig(cfg), opts...)
}

// Emit marshals payload to JSON and puts it as a single entry. A rejected
// entry is reported as a PUBLISH_FAILED error.
func (e *EventBridge) Emit(ctx context.Context, eventType string, payload any) error {
	detail, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "failed to encode event detail")
	}

	out, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			EventBusName: aws.String(e.bus),
			Source:       aws.String(e.source),
			DetailType:   aws.String(eventType),
			Detail:       aws.String(string(detail)),
		}},
	})
	if err != nil {
		return errors.Wrap(err, errors.CodePublishFailed, "failed to put event").
			WithContext("bus", e.bus).
			WithContext("type", eventType)
	}

	if out.FailedEntryCount > 0 {
		pe := errors.Newf(errors.CodePublishFailed, "event bus %s rejected %s event", e.bus, eventType)
		for _, entry := range out.Entries {
			if entry.ErrorCode != nil {
				pe = pe.WithContext("entry_error_code", aws.ToString(entry.ErrorCode)).
					WithContext("entry_error", aws.ToString(entry.ErrorMessage))
				break
			}
		}
		return pe
	}

	var id string
	if len(out.Entries) > 0 {
		id = aws.ToString(out.Entries[0].EventId)
	}
	e.logger.DebugContext(ctx, "event emitted", "bus", e.bus, "type", eventType, "event_id", id)
	return nil
}
