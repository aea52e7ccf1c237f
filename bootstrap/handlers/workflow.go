package handlers

import (
	"context"
	"log/slog"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/bootstrap"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/monitor"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/resolver"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/workflow"
)

// workflowCreate upserts a workflow declared in the manifest content.
type workflowCreate struct {
	deployer *workflow.Deployer
	logger   *slog.Logger
}

func (h *workflowCreate) Execute(ctx context.Context, inv bootstrap.Invocation) (bootstrap.Result, error) {
	name, err := inv.Params.String("workflow")
	if err != nil {
		return bootstrap.Result{}, err
	}
	if inv.Manifest == nil {
		return bootstrap.Result{}, errors.New(errors.CodeInternal, "workflow.create needs the manifest")
	}
	wf, ok := inv.Manifest.Content.Workflow(name)
	if !ok {
		return bootstrap.Result{}, errors.Newf(errors.CodeInvalidReference, "workflow %q is not declared in content", name)
	}

	dest := workflow.Destination{
		Bucket: lookup(inv, resolver.KeyStageBucket),
		Prefix: lookup(inv, resolver.KeyStagePrefix),
	}
	def, ref, err := h.deployer.Deploy(ctx, inv.Manifest.FS, wf, dest, inv.Scope)
	if err != nil {
		return bootstrap.Result{}, err
	}

	return bootstrap.Result{
		Payload: map[string]any{"workflow": ref.Name, "script": def.ScriptLocation},
		Outputs: map[string]string{"name": ref.Name},
	}, nil
}

// workflowRun starts a workflow run and optionally waits for it.
//
// Parameters: workflow (required), arguments, wait, timeout, interval.
type workflowRun struct {
	engine  workflow.Engine
	monitor monitor.Options
	logger  *slog.Logger
}

func (h *workflowRun) Execute(ctx context.Context, inv bootstrap.Invocation) (bootstrap.Result, error) {
	name, err := inv.Params.String("workflow")
	if err != nil {
		return bootstrap.Result{}, err
	}
	// The deployed job name, when the workflow deployment phase ran.
	if deployed, ok := inv.Scope.Lookup(resolver.WorkflowKey(name, "name")); ok && deployed != "" {
		name = deployed
	}
	args, err := inv.Params.StringMap("arguments")
	if err != nil {
		return bootstrap.Result{}, err
	}
	wait, err := inv.Params.Bool("wait", false)
	if err != nil {
		return bootstrap.Result{}, err
	}
	opts := h.monitor
	if opts.Timeout, err = inv.Params.Duration("timeout", opts.Timeout); err != nil {
		return bootstrap.Result{}, err
	}
	if opts.Interval, err = inv.Params.Duration("interval", opts.Interval); err != nil {
		return bootstrap.Result{}, err
	}
	if opts.Logger == nil {
		opts.Logger = h.logger
	}

	ref, err := h.engine.Start(ctx, workflow.Ref{Name: name}, args)
	if err != nil {
		return bootstrap.Result{}, err
	}
	h.logger.InfoContext(ctx, "workflow started", "workflow", ref.Name, "run_id", ref.RunID)

	outputs := map[string]string{"run_id": ref.RunID, "status": string(workflow.StatusRunning)}
	payload := map[string]any{"workflow": ref.Name, "run_id": ref.RunID}
	if !wait {
		return bootstrap.Result{Payload: payload, Outputs: outputs}, nil
	}

	last, err := monitor.Wait(ctx, h.engine, ref, opts, func(s workflow.Snapshot) {
		h.logger.DebugContext(ctx, "workflow status", "workflow", ref.Name, "run_id", ref.RunID, "status", s.Status)
	})
	if err != nil {
		return bootstrap.Result{}, err
	}
	outputs["status"] = string(last.Status)
	payload["status"] = string(last.Status)

	switch last.Status {
	case workflow.StatusSucceeded:
		return bootstrap.Result{Payload: payload, Outputs: outputs}, nil
	case workflow.StatusTimedOut:
		return bootstrap.Result{}, errors.Newf(errors.CodeTimeout, "workflow %s run %s did not finish in time", ref.Name, ref.RunID)
	default:
		return bootstrap.Result{}, errors.Newf(errors.CodeExecutionFailed, "workflow %s run %s ended %s", ref.Name, ref.RunID, last.Status).
			WithContext("message", last.Message)
	}
}
