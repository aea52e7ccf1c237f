// Package bootstrap dispatches declarative bootstrap actions to their
// handlers and runs a stage's action list with first-failure-stops
// semantics.
//
// Handlers are registered once at process start:
//
//	reg := bootstrap.NewRegistry()
//	reg.MustRegister(bootstrap.MustParseActionType("workflow.create"), handler)
//	reg.Seal()
//
// After Seal the registry is read-only and may be shared across stage runs.
package bootstrap

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/manifest"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/resolver"
)

// ActionType identifies an action as category plus verb, e.g. workflow.create.
// Matching is exact and case-sensitive.
type ActionType struct {
	Category string
	Verb     string
}

// ParseActionType parses "category.verb".
func ParseActionType(s string) (ActionType, error) {
	category, verb, ok := strings.Cut(s, ".")
	if !ok || category == "" || verb == "" || strings.Contains(verb, ".") {
		return ActionType{}, errors.Newf(errors.CodeInvalidInput,
			"action type %q must have the form category.verb", s)
	}
	return ActionType{Category: category, Verb: verb}, nil
}

// MustParseActionType is like ParseActionType but panics on error. It is
// meant for registration call sites with constant names.
func MustParseActionType(s string) ActionType {
	t, err := ParseActionType(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t ActionType) String() string {
	return t.Category + "." + t.Verb
}

// Invocation is everything a handler receives for one action.
type Invocation struct {
	Type  ActionType
	Name  string
	Index int
	// Params holds the action parameters with every template resolved.
	Params Params
	// Scope is a read-only view of the stage context at dispatch time.
	Scope resolver.View
	// Env holds the stage variables with every template resolved. Handlers
	// that start processes use it instead of Stage.Variables.
	Env      map[string]string
	Manifest *manifest.Manifest
	Stage    *manifest.Stage
}

// Result is the successful outcome of a handler.
type Result struct {
	// Payload is free-form data recorded in the report.
	Payload map[string]any
	// Outputs are injected into the stage context for later actions.
	Outputs map[string]string
}

// Handler executes one action type. Handlers validate their own parameters.
type Handler interface {
	Execute(ctx context.Context, inv Invocation) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv Invocation) (Result, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, inv Invocation) (Result, error) {
	return f(ctx, inv)
}

// Registry maps action types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[ActionType]Handler
	sealed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[ActionType]Handler)}
}

// Register adds a handler. Registering a type twice, or registering after
// Seal, is a configuration error.
func (r *Registry) Register(t ActionType, h Handler) error {
	if t.Category == "" || t.Verb == "" {
		return errors.Newf(errors.CodeInvalidInput, "invalid action type %q", t)
	}
	if h == nil {
		return errors.Newf(errors.CodeInvalidInput, "nil handler for %s", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.Newf(errors.CodeInternal, "registry is sealed, cannot register %s", t)
	}
	if _, exists := r.handlers[t]; exists {
		return errors.Newf(errors.CodeAlreadyRegistered, "handler already registered for %s", t)
	}
	r.handlers[t] = h
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(t ActionType, h Handler) {
	if err := r.Register(t, h); err != nil {
		panic(err)
	}
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Lookup returns the handler for the given action type string.
func (r *Registry) Lookup(actionType string) (Handler, error) {
	t, err := ParseActionType(actionType)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknownActionType, "unknown action type")
	}

	r.mu.RLock()
	h, ok := r.handlers[t]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.CodeUnknownActionType, "no handler registered for %s", t).
			WithContext("action_type", actionType)
	}
	return h, nil
}

// Has reports whether a handler is registered for actionType. It matches
// manifest.ActionTypeChecker.
func (r *Registry) Has(actionType string) bool {
	_, err := r.Lookup(actionType)
	return err == nil
}

// Types returns the registered action types sorted by name.
func (r *Registry) Types() []ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]ActionType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	slices.SortFunc(types, func(a, b ActionType) int {
		return strings.Compare(a.String(), b.String())
	})
	return types
}
