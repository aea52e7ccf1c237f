package workflow

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// Memory is an in-process Engine for tests and dry runs. Runs report the
// statuses queued with Script, one per Status call; the last queued status
// repeats once the queue is drained. Without a script runs succeed at once.
type Memory struct {
	mu          sync.Mutex
	definitions map[string]Definition
	runs        map[string]*memoryRun
	script      []Status
	nextRun     int
}

type memoryRun struct {
	ref    Ref
	args   map[string]string
	script []Status
}

// NewMemory creates an empty engine.
func NewMemory() *Memory {
	return &Memory{
		definitions: make(map[string]Definition),
		runs:        make(map[string]*memoryRun),
	}
}

// Script sets the status sequence reported by runs started afterwards.
func (m *Memory) Script(statuses ...Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = statuses
}

// Definition returns the stored definition of name.
func (m *Memory) Definition(name string) (Definition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[name]
	return def, ok
}

// Upsert implements Engine.
func (m *Memory) Upsert(ctx context.Context, def Definition) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}
	if def.Name == "" {
		return Ref{}, errors.New(errors.CodeInvalidInput, "workflow name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	def.Arguments = maps.Clone(def.Arguments)
	m.definitions[def.Name] = def
	return Ref{Name: def.Name}, nil
}

// Start implements Engine.
func (m *Memory) Start(ctx context.Context, ref Ref, args map[string]string) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.definitions[ref.Name]; !ok {
		return Ref{}, errors.Newf(errors.CodeNotFound, "workflow %s does not exist", ref.Name)
	}
	m.nextRun++
	run := &memoryRun{
		ref:    Ref{Name: ref.Name, RunID: fmt.Sprintf("jr_%04d", m.nextRun)},
		args:   maps.Clone(args),
		script: append([]Status(nil), m.script...),
	}
	m.runs[run.ref.RunID] = run
	return run.ref, nil
}

// Status implements Engine.
func (m *Memory) Status(ctx context.Context, ref Ref) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[ref.RunID]
	if ref.RunID == "" {
		run, ok = m.latest(ref.Name)
	}
	if !ok {
		return Snapshot{}, errors.Newf(errors.CodeNotFound, "no run %q for workflow %s", ref.RunID, ref.Name)
	}

	status := StatusSucceeded
	if len(run.script) > 0 {
		status = run.script[0]
		if len(run.script) > 1 {
			run.script = run.script[1:]
		}
	}
	return Snapshot{Ref: run.ref, Status: status, Time: time.Now()}, nil
}

func (m *Memory) latest(name string) (*memoryRun, bool) {
	var found *memoryRun
	for _, r := range m.runs {
		if r.ref.Name == name && (found == nil || r.ref.RunID > found.ref.RunID) {
			found = r
		}
	}
	return found, found != nil
}
