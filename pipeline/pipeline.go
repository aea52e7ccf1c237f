// Package pipeline drives a manifest through the per-stage deployment
// phases: Initialization, ContentDeployment, WorkflowDeployment,
// BootstrapExecution and EventEmission.
//
// Phases of a stage run strictly in order and the first failing phase aborts
// the rest of that stage. Stages are independent units of failure: one
// stage failing never prevents another requested stage from running.
package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/bootstrap"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/content"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/events"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/manifest"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/resolver"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/storage"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/workflow"
)

// DefaultEmitTimeout bounds the event emission phase.
const DefaultEmitTimeout = 10 * time.Second

// Pipeline deploys manifests. It is safe for concurrent use once built.
type Pipeline struct {
	registry  *bootstrap.Registry
	resolver  *resolver.Resolver
	executor  *bootstrap.Executor
	transfer  storage.Transfer
	content   *content.Deployer
	workflows *workflow.Deployer
	identity  Identity
	emitter   events.Emitter

	env         map[string]string
	region      string
	parallel    bool
	emitTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStorage sets the transfer used to ensure stage buckets exist.
func WithStorage(t storage.Transfer) Option {
	return func(p *Pipeline) {
		p.transfer = t
	}
}

// WithContent sets the content deployer. Without one, a manifest declaring
// content fails its ContentDeployment phase.
func WithContent(d *content.Deployer) Option {
	return func(p *Pipeline) {
		p.content = d
	}
}

// WithWorkflows sets the workflow deployer.
func WithWorkflows(d *workflow.Deployer) Option {
	return func(p *Pipeline) {
		p.workflows = d
	}
}

// WithIdentity sets the account lookup used during Initialization.
func WithIdentity(id Identity) Option {
	return func(p *Pipeline) {
		p.identity = id
	}
}

// WithEmitter enables the EventEmission phase.
func WithEmitter(e events.Emitter) Option {
	return func(p *Pipeline) {
		p.emitter = e
	}
}

// WithEnvironment sets the environment layer of every stage scope.
// Defaults to the process environment.
func WithEnvironment(env map[string]string) Option {
	return func(p *Pipeline) {
		p.env = env
	}
}

// WithRegion sets the region used by stages that do not declare one.
func WithRegion(region string) Option {
	return func(p *Pipeline) {
		p.region = region
	}
}

// WithParallel deploys the requested stages concurrently.
func WithParallel(parallel bool) Option {
	return func(p *Pipeline) {
		p.parallel = parallel
	}
}

// WithEmitTimeout bounds event emission.
func WithEmitTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.emitTimeout = d
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides time.Now for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a Pipeline dispatching bootstrap actions through registry and
// resolving templates with res.
func New(registry *bootstrap.Registry, res *resolver.Resolver, opts ...Option) *Pipeline {
	if res == nil {
		res = resolver.New()
	}
	p := &Pipeline{
		registry:    registry,
		resolver:    res,
		emitTimeout: DefaultEmitTimeout,
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.env == nil {
		p.env = resolver.Environ()
	}
	p.executor = bootstrap.NewExecutor(registry, res,
		bootstrap.WithLogger(p.logger),
		bootstrap.WithClock(p.now))
	return p
}

// Deploy validates m and deploys the named stages, or every stage when
// stages is empty. A validation failure is returned before any collaborator
// is contacted. Otherwise the report is returned with a nil error, whatever
// the outcome of the individual stages.
func (p *Pipeline) Deploy(ctx context.Context, m *manifest.Manifest, stages []string) (*Report, error) {
	if m == nil {
		return nil, errors.New(errors.CodeInvalidInput, "manifest is required")
	}

	diags := manifest.Validate(m, manifest.ValidateOptions{
		Stages:          stages,
		KnownActionType: p.registry.Has,
	})
	if err := diags.Err(); err != nil {
		p.logger.ErrorContext(ctx, "manifest failed pre-flight validation",
			"application", m.ApplicationName, "diagnostics", len(diags))
		return nil, err
	}

	names := requestedStages(m, stages)
	report := &Report{
		Application: m.ApplicationName,
		Stages:      make(map[string]*StageReport, len(names)),
		Order:       names,
		Started:     p.now(),
	}

	results := make([]*StageReport, len(names))
	if p.parallel && len(names) > 1 {
		var g errgroup.Group
		for i, name := range names {
			st, _ := m.Stage(name)
			g.Go(func() error {
				results[i] = p.runStage(ctx, m, st)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, name := range names {
			st, _ := m.Stage(name)
			results[i] = p.runStage(ctx, m, st)
		}
	}

	for _, sr := range results {
		report.Stages[sr.Stage] = sr
	}
	report.Finished = p.now()

	p.logger.InfoContext(ctx, "deployment finished",
		"application", m.ApplicationName,
		"stages", len(names),
		"failed", len(report.Failed()))
	return report, nil
}

func requestedStages(m *manifest.Manifest, stages []string) []string {
	if len(stages) == 0 {
		return m.Stages.Names()
	}
	names := make([]string, 0, len(stages))
	for _, s := range stages {
		if !slices.Contains(names, s) {
			names = append(names, s)
		}
	}
	return names
}

// stageRun holds the state of one stage deployment. The scope is owned by
// the run and never shared with another stage.
type stageRun struct {
	p      *Pipeline
	m      *manifest.Manifest
	st     *manifest.Stage
	scope  *resolver.Scope
	report *StageReport
	logger *slog.Logger

	bucket  string
	prefix  string
	account string
}

// phaseStep is one pipeline phase. A phase body runs to completion once
// started unless it checks cancellation at its own boundaries.
type phaseStep struct {
	phase Phase
	skip  func() bool
	run   func(ctx context.Context) error
	// interruptible phases receive the caller's context and stop between
	// their own units of work.
	interruptible bool
}

func (p *Pipeline) runStage(ctx context.Context, m *manifest.Manifest, st *manifest.Stage) *StageReport {
	sr := &StageReport{
		Stage:   st.Name,
		Target:  st.TargetName(),
		Status:  StatusSucceeded,
		Started: p.now(),
	}

	scope := resolver.NewScope(p.env, m.Variables, st.Variables)
	scope.Set(resolver.KeyStageName, st.Name)
	scope.Set(resolver.KeyStageTarget, st.TargetName())
	scope.Set(resolver.KeyAppName, m.ApplicationName)

	r := &stageRun{
		p:      p,
		m:      m,
		st:     st,
		scope:  scope,
		report: sr,
		logger: p.logger.With("application", m.ApplicationName, "stage", st.Name),
	}
	r.logger.InfoContext(ctx, "deploying stage", "target", sr.Target)

	steps := []phaseStep{
		{phase: PhaseInitialization, run: r.initialize},
		{phase: PhaseContentDeployment, skip: m.Content.Empty, run: r.deployContent},
		{phase: PhaseWorkflowDeployment, skip: func() bool { return len(m.Content.Workflows) == 0 }, run: r.deployWorkflows},
		{phase: PhaseBootstrapExecution, skip: func() bool { return len(st.Bootstrap.Actions) == 0 }, run: r.runBootstrap, interruptible: true},
	}
	for _, step := range steps {
		r.runPhase(ctx, step)
	}
	r.emit(ctx)

	sr.Finished = p.now()
	if sr.Succeeded() {
		r.logger.InfoContext(ctx, "stage deployed", "duration", sr.Finished.Sub(sr.Started))
	} else {
		r.logger.ErrorContext(ctx, "stage deployment failed",
			"status", sr.Status, "phase", sr.FailedPhase, "error", sr.err)
	}
	return sr
}

func (r *stageRun) runPhase(ctx context.Context, step phaseStep) {
	sr := r.report
	if sr.Status != StatusSucceeded {
		sr.Phases = append(sr.Phases, PhaseResult{Phase: step.phase, Status: StatusSkipped})
		return
	}
	if err := ctx.Err(); err != nil {
		sr.fail(step.phase, StatusCancelled,
			errors.Wrap(err, errors.CodeCancelled, "deployment cancelled before "+string(step.phase)))
		sr.Phases = append(sr.Phases, PhaseResult{Phase: step.phase, Status: StatusSkipped})
		return
	}
	if step.skip != nil && step.skip() {
		r.logger.DebugContext(ctx, "phase skipped", "phase", step.phase)
		sr.Phases = append(sr.Phases, PhaseResult{Phase: step.phase, Status: StatusSkipped})
		return
	}

	r.logger.InfoContext(ctx, "phase started", "phase", step.phase)
	runCtx := ctx
	if !step.interruptible {
		runCtx = context.WithoutCancel(ctx)
	}
	start := r.p.now()
	err := step.run(runCtx)
	result := PhaseResult{Phase: step.phase, Status: StatusSucceeded, Duration: r.p.now().Sub(start)}
	if err != nil {
		status := StatusFailed
		if errors.HasCode(err, errors.CodeCancelled) {
			status = StatusCancelled
		}
		result.Status = status
		result.Error = errors.DetailOf(err)
		sr.fail(step.phase, status, err)
	}
	sr.Phases = append(sr.Phases, result)
}

func (r *stageRun) initialize(ctx context.Context) error {
	fields, err := r.p.resolver.ResolveStrings(ctx, map[string]string{
		"region": r.st.Region,
		"bucket": r.st.Bucket,
	}, r.scope)
	if err != nil {
		return errors.Wrap(err, errors.CodeOf(err), "failed to resolve stage settings").
			WithContext("field", resolver.FailedPath(err))
	}

	region := fields["region"]
	if region == "" {
		region = r.p.region
	}
	if region != "" {
		r.scope.Set(resolver.KeyStageRegion, region)
	}

	if r.p.identity != nil {
		account, err := r.p.identity.AccountID(ctx)
		if err != nil {
			return err
		}
		r.account = account
		r.scope.Set(resolver.KeyStageAccount, account)
	}

	r.bucket = fields["bucket"]
	needsBucket := !r.m.Content.Empty() || len(r.m.Content.Workflows) > 0
	if r.bucket == "" && needsBucket {
		return errors.Newf(errors.CodeInvalidConfig,
			"stage %s declares content but no bucket", r.st.Name).
			WithContext("stage", r.st.Name)
	}
	if r.bucket != "" {
		if r.p.transfer != nil {
			if err := r.p.transfer.EnsureBucket(ctx, r.bucket, region); err != nil {
				return storage.Classify(err, "failed to ensure stage bucket "+r.bucket)
			}
		}
		r.prefix = storage.JoinKey(r.m.ApplicationName, r.st.TargetName())
		r.scope.Set(resolver.KeyStageBucket, r.bucket)
		r.scope.Set(resolver.KeyStagePrefix, r.prefix)
	}

	for _, conn := range r.st.Connections {
		props, err := r.p.resolver.ResolveStrings(ctx, conn.Properties, r.scope)
		if err != nil {
			return errors.Wrap(err, errors.CodeOf(err), "failed to resolve connection "+conn.Name).
				WithContext("connection", conn.Name).
				WithContext("property", resolver.FailedPath(err))
		}
		r.scope.SetAll(resolver.ConnectionKey(conn.Name, ""), props)
		if conn.Type != "" {
			r.scope.Set(resolver.ConnectionKey(conn.Name, "type"), conn.Type)
		}
	}

	r.logger.InfoContext(ctx, "stage initialized",
		"region", region, "bucket", r.bucket, "connections", len(r.st.Connections))
	return nil
}

func (r *stageRun) deployContent(ctx context.Context) error {
	if r.p.content == nil {
		return errors.New(errors.CodeInvalidConfig, "manifest declares content but no content deployer is configured")
	}
	results, err := r.p.content.Deploy(ctx, r.m,
		content.Destination{Bucket: r.bucket, Prefix: r.prefix},
		r.scope.Snapshot())
	r.report.Content = results
	return err
}

func (r *stageRun) deployWorkflows(ctx context.Context) error {
	if r.p.workflows == nil {
		return errors.New(errors.CodeInvalidConfig, "manifest declares workflows but no workflow engine is configured")
	}
	dest := workflow.Destination{
		Bucket: r.bucket,
		Prefix: r.prefix,
		Tags: map[string]string{
			"smus:application": r.m.ApplicationName,
			"smus:stage":       r.st.Name,
		},
	}

	r.report.Workflows = make(map[string]string, len(r.m.Content.Workflows))
	for _, wf := range r.m.Content.Workflows {
		def, ref, err := r.p.workflows.Deploy(ctx, r.m.FS, wf, dest, r.scope.Snapshot())
		if err != nil {
			return err
		}
		r.report.Workflows[wf.Name] = ref.Name
		r.scope.Set(resolver.WorkflowKey(wf.Name, "name"), ref.Name)
		r.scope.Set(resolver.WorkflowKey(wf.Name, "script"), def.ScriptLocation)
	}
	return nil
}

func (r *stageRun) runBootstrap(ctx context.Context) error {
	target := bootstrap.Target{Manifest: r.m, Stage: r.st}
	report := r.p.executor.Run(ctx, target, r.st.Bootstrap.Actions, r.scope)
	r.report.Bootstrap = report

	switch report.Outcome {
	case bootstrap.OutcomeCancelled:
		return errors.Newf(errors.CodeCancelled, "bootstrap cancelled after %d of %d actions",
			len(report.Results), report.Total)
	case bootstrap.OutcomeStoppedOnFailure:
		f := report.Failure()
		err := f.Err()
		return errors.WrapWithContext(err, errors.CodeOf(err),
			"bootstrap action "+f.Type+" failed",
			map[string]interface{}{"action_index": f.Index, "action_type": f.Type})
	}
	return nil
}

// emit publishes the stage outcome. It runs after failures too, and its
// own failure is recorded as a diagnostic without touching the stage status.
func (r *stageRun) emit(ctx context.Context) {
	sr := r.report
	if r.p.emitter == nil || !r.st.EventsEnabled() {
		sr.Phases = append(sr.Phases, PhaseResult{Phase: PhaseEventEmission, Status: StatusSkipped})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.p.emitTimeout)
	defer cancel()

	ev := events.NewDeploymentEvent(r.m.ApplicationName, sr.Stage, string(sr.Status))
	if sr.Target != sr.Stage {
		ev.Target = sr.Target
	}
	if sr.Status != StatusSucceeded {
		ev.FailedPhase = string(sr.FailedPhase)
		if sr.err != nil {
			ev.Error = sr.err.Error()
		}
	}
	if r.account != "" {
		ev.Metadata = map[string]string{"account": r.account}
	}

	start := r.p.now()
	err := r.p.emitter.Emit(ctx, events.TypeFor(string(sr.Status)), ev)
	result := PhaseResult{Phase: PhaseEventEmission, Status: StatusSucceeded, Duration: r.p.now().Sub(start)}
	if err != nil {
		r.logger.WarnContext(ctx, "event emission failed", "error", err)
		result.Status = StatusFailed
		result.Error = errors.DetailOf(err)
		sr.Diagnostics = append(sr.Diagnostics, Diagnostic{
			Phase:   PhaseEventEmission,
			Message: "deployment event was not published",
			Error:   errors.DetailOf(err),
		})
	}
	sr.Phases = append(sr.Phases, result)
}
