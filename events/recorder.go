package events

import (
	"context"
	"sync"
)

// Record is one event captured by a Recorder.
type Record struct {
	Type    string
	Payload any
}

// Recorder keeps emitted events in memory. Setting Err makes every Emit
// fail with it after recording the attempt.
type Recorder struct {
	mu      sync.Mutex
	records []Record
	Err     error
}

// Emit implements Emitter.
func (r *Recorder) Emit(_ context.Context, eventType string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Type: eventType, Payload: payload})
	return r.Err
}

// Records returns a copy of everything emitted so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, string, any) error { return nil })
