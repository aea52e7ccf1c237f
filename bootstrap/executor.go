package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/manifest"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/resolver"
)

// OutputPrefix is the scope namespace for action outputs. An output "x" of
// action 2 is visible as action.2.x, and as action.<name>.x when the action
// is named.
const OutputPrefix = "action."

// Executor runs a stage's bootstrap actions in declared order and stops at
// the first failure.
type Executor struct {
	registry *Registry
	resolver *resolver.Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides time.Now for report timestamps.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an executor dispatching through registry and
// resolving parameters with res.
func NewExecutor(registry *Registry, res *resolver.Resolver, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		resolver: res,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Target names the manifest and stage the actions belong to.
type Target struct {
	Manifest *manifest.Manifest
	Stage    *manifest.Stage
}

// Run executes actions against scope. Cancellation of ctx is honored
// between actions only; a handler that has started always runs to
// completion. The report is returned however far execution got.
func (e *Executor) Run(ctx context.Context, target Target, actions []manifest.BootstrapAction, scope *resolver.Scope) *Report {
	report := &Report{
		Outcome: OutcomeAllSucceeded,
		Total:   len(actions),
		Started: e.now(),
	}
	defer func() { report.Finished = e.now() }()

	for i, action := range actions {
		if ctx.Err() != nil {
			e.logger.WarnContext(ctx, "bootstrap cancelled",
				"completed", i, "total", len(actions))
			report.Outcome = OutcomeCancelled
			return report
		}

		result := e.runAction(ctx, target, i, action, scope)
		report.Results = append(report.Results, result)

		if result.Status == StatusFailed {
			e.logger.ErrorContext(ctx, "bootstrap action failed",
				"index", i, "type", action.Type, "error", result.err)
			report.Outcome = OutcomeStoppedOnFailure
			return report
		}

		if len(result.Outputs) > 0 {
			scope.SetAll(OutputPrefix+strconv.Itoa(i)+".", result.Outputs)
			if action.Name != "" {
				scope.SetAll(OutputPrefix+action.Name+".", result.Outputs)
			}
		}
	}
	return report
}

func (e *Executor) runAction(
	ctx context.Context,
	target Target,
	index int,
	action manifest.BootstrapAction,
	scope *resolver.Scope,
) ActionResult {
	start := e.now()
	result := ActionResult{Index: index, Type: action.Type, Name: action.Name}

	fail := func(err error) ActionResult {
		result.Status = StatusFailed
		result.err = err
		result.Error = errors.DetailOf(err)
		result.Duration = e.now().Sub(start)
		return result
	}

	view := scope.Snapshot()
	params, err := e.resolver.ResolveMap(ctx, action.Parameters, view)
	if err != nil {
		return fail(err)
	}

	var env map[string]string
	if target.Stage != nil && len(target.Stage.Variables) > 0 {
		env, err = e.resolver.ResolveStrings(ctx, target.Stage.Variables, view)
		if err != nil {
			return fail(errors.WrapWithContext(err, errors.CodeOf(err), "failed to resolve stage variables",
				map[string]interface{}{"stage": target.Stage.Name, "variable": resolver.FailedPath(err)}))
		}
	}

	handler, err := e.registry.Lookup(action.Type)
	if err != nil {
		return fail(err)
	}
	actionType, _ := ParseActionType(action.Type)

	e.logger.InfoContext(ctx, "running bootstrap action",
		"index", index, "type", action.Type, "name", action.Name)

	inv := Invocation{
		Type:     actionType,
		Name:     action.Name,
		Index:    index,
		Params:   Params(params),
		Scope:    view,
		Env:      env,
		Manifest: target.Manifest,
		Stage:    target.Stage,
	}
	out, err := invoke(context.WithoutCancel(ctx), handler, inv)
	if err != nil {
		return fail(classify(err, action.Type))
	}

	result.Status = StatusSucceeded
	result.Payload = out.Payload
	result.Outputs = out.Outputs
	result.Duration = e.now().Sub(start)

	e.logger.DebugContext(ctx, "bootstrap action succeeded",
		"index", index, "type", action.Type, "outputs", len(out.Outputs))
	return result
}

func invoke(ctx context.Context, h Handler, inv Invocation) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.CodeInternal, "handler for %s panicked: %v", inv.Type, r)
		}
	}()
	return h.Execute(ctx, inv)
}

// classify gives unstructured handler errors the collaborator kind.
func classify(err error, actionType string) error {
	var e *errors.Error
	if errors.As(err, &e) {
		return err
	}
	return errors.Wrap(err, errors.CodeExecutionFailed, fmt.Sprintf("action %s failed", actionType))
}
