package events_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/events"
)

type mockEventBridge struct {
	putEventsFunc func(*eventbridge.PutEventsInput) (*eventbridge.PutEventsOutput, error)
	input         *eventbridge.PutEventsInput
}

func (m *mockEventBridge) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	m.input = in
	return m.putEventsFunc(in)
}

func accepted(*eventbridge.PutEventsInput) (*eventbridge.PutEventsOutput, error) {
	return &eventbridge.PutEventsOutput{Entries: []types.PutEventsResultEntry{{EventId: aws.String("e-1")}}}, nil
}

func TestEventBridgeEmit(t *testing.T) {
	client := &mockEventBridge{putEventsFunc: accepted}
	emitter := events.NewEventBridge(client, events.WithBus("deployments"), events.WithSource("acme.cicd"))

	ev := events.NewDeploymentEvent("analytics", "dev", "succeeded")
	require.NoError(t, emitter.Emit(context.Background(), events.TypeDeploymentSucceeded, ev))

	require.Len(t, client.input.Entries, 1)
	entry := client.input.Entries[0]
	assert.Equal(t, "deployments", aws.ToString(entry.EventBusName))
	assert.Equal(t, "acme.cicd", aws.ToString(entry.Source))
	assert.Equal(t, events.TypeDeploymentSucceeded, aws.ToString(entry.DetailType))

	var got events.DeploymentEvent
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &got))
	assert.Equal(t, ev.EventID, got.EventID)
	assert.Equal(t, "dev", got.Stage)
	assert.Empty(t, got.FailedPhase)
}

func TestEventBridgeDefaults(t *testing.T) {
	client := &mockEventBridge{putEventsFunc: accepted}
	require.NoError(t, events.NewEventBridge(client, events.WithBus("")).Emit(context.Background(), "x", map[string]string{}))
	assert.Equal(t, events.DefaultBus, aws.ToString(client.input.Entries[0].EventBusName))
	assert.Equal(t, events.DefaultSource, aws.ToString(client.input.Entries[0].Source))
}

func TestEventBridgeFailures(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(*eventbridge.PutEventsInput) (*eventbridge.PutEventsOutput, error)
		payload any
		code    errors.ErrorCode
	}{
		{
			name: "api error",
			fn: func(*eventbridge.PutEventsInput) (*eventbridge.PutEventsOutput, error) {
				return nil, fmt.Errorf("connection reset")
			},
			payload: map[string]string{},
			code:    errors.CodePublishFailed,
		},
		{
			name: "rejected entry",
			fn: func(*eventbridge.PutEventsInput) (*eventbridge.PutEventsOutput, error) {
				return &eventbridge.PutEventsOutput{
					FailedEntryCount: 1,
					Entries: []types.PutEventsResultEntry{{
						ErrorCode:    aws.String("ThrottlingException"),
						ErrorMessage: aws.String("rate exceeded"),
					}},
				}, nil
			},
			payload: map[string]string{},
			code:    errors.CodePublishFailed,
		},
		{
			name:    "unencodable payload",
			fn:      accepted,
			payload: func() {},
			code:    errors.CodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := events.NewEventBridge(&mockEventBridge{putEventsFunc: tt.fn}).Emit(context.Background(), "x", tt.payload)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestRejectedEntryDetail(t *testing.T) {
	client := &mockEventBridge{putEventsFunc: func(*eventbridge.PutEventsInput) (*eventbridge.PutEventsOutput, error) {
		return &eventbridge.PutEventsOutput{
			FailedEntryCount: 1,
			Entries:          []types.PutEventsResultEntry{{ErrorCode: aws.String("Throttled"), ErrorMessage: aws.String("slow down")}},
		}, nil
	}}
	err := events.NewEventBridge(client).Emit(context.Background(), "x", struct{}{})
	d := errors.DetailOf(err)
	require.NotNil(t, d)
	assert.Equal(t, "Throttled", d.Context["entry_error_code"])
	assert.Equal(t, "slow down", d.Context["entry_error"])
}

func TestNewDeploymentEvent(t *testing.T) {
	a := events.NewDeploymentEvent("app", "dev", "failed")
	b := events.NewDeploymentEvent("app", "dev", "failed")
	assert.NotEqual(t, a.EventID, b.EventID)
	_, err := uuid.Parse(a.EventID)
	assert.NoError(t, err)
	assert.Equal(t, "UTC", a.Timestamp.Location().String())
}

func TestTypeFor(t *testing.T) {
	assert.Equal(t, events.TypeDeploymentSucceeded, events.TypeFor("succeeded"))
	assert.Equal(t, events.TypeDeploymentFailed, events.TypeFor("failed"))
	assert.Equal(t, events.TypeDeploymentCancelled, events.TypeFor("cancelled"))
}

func TestRecorder(t *testing.T) {
	r := &events.Recorder{}
	require.NoError(t, r.Emit(context.Background(), "a", 1))
	r.Err = fmt.Errorf("bus down")
	assert.Error(t, r.Emit(context.Background(), "b", 2))

	recs := r.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[1].Type)

	assert.NoError(t, events.Discard.Emit(context.Background(), "c", nil))
}
