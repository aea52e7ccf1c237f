package pipeline_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/bootstrap"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/content"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/events"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/manifest"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/pipeline"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/resolver"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/storage"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/workflow"
)

// fakeTransfer stores objects in memory and fails every call touching failBucket.
type fakeTransfer struct {
	mu         sync.Mutex
	failBucket string
	// onPut runs before every upload, outside the lock.
	onPut      func(obj storage.Object)
	objects    map[string][]byte
	ensured    []string
}

func (f *fakeTransfer) Put(ctx context.Context, obj storage.Object) (*storage.PutResult, error) {
	if f.onPut != nil {
		f.onPut(obj)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if obj.Bucket == f.failBucket {
		return nil, fmt.Errorf("put %s: %w", obj.Key, storage.ErrAccessDenied)
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[obj.Bucket+"/"+obj.Key] = obj.Body
	return &storage.PutResult{Bucket: obj.Bucket, Key: obj.Key}, nil
}

func (f *fakeTransfer) EnsureBucket(_ context.Context, bucket, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, bucket)
	return nil
}

func (f *fakeTransfer) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

// recordingHandler counts calls and captures the invocations it received.
type recordingHandler struct {
	mu    sync.Mutex
	calls atomic.Int32
	invs  []bootstrap.Invocation
	fn    func(ctx context.Context, inv bootstrap.Invocation) (bootstrap.Result, error)
}

func (h *recordingHandler) Execute(ctx context.Context, inv bootstrap.Invocation) (bootstrap.Result, error) {
	h.calls.Add(1)
	h.mu.Lock()
	h.invs = append(h.invs, inv)
	h.mu.Unlock()
	if h.fn != nil {
		return h.fn(ctx, inv)
	}
	return bootstrap.Result{Outputs: map[string]string{"done": "yes"}}, nil
}

type fixture struct {
	transfer *fakeTransfer
	engine   *workflow.Memory
	handler  *recordingHandler
	recorder *events.Recorder
	registry *bootstrap.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		transfer: &fakeTransfer{},
		engine:   workflow.NewMemory(),
		handler:  &recordingHandler{},
		recorder: &events.Recorder{},
		registry: bootstrap.NewRegistry(),
	}
	require.NoError(t, f.registry.Register(bootstrap.MustParseActionType("test.record"), f.handler))
	f.registry.Seal()
	return f
}

func (f *fixture) pipeline(opts ...pipeline.Option) *pipeline.Pipeline {
	res := resolver.New()
	base := []pipeline.Option{
		pipeline.WithStorage(f.transfer),
		pipeline.WithContent(content.NewDeployer(f.transfer, content.WithResolver(res))),
		pipeline.WithWorkflows(workflow.NewDeployer(f.engine, f.transfer, res, nil)),
		pipeline.WithIdentity(pipeline.StaticIdentity("123456789012")),
		pipeline.WithEmitter(f.recorder),
		pipeline.WithEnvironment(map[string]string{"TEAM": "data"}),
		pipeline.WithRegion("us-west-2"),
	}
	return pipeline.New(f.registry, res, append(base, opts...)...)
}

func testManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "src/main.py", []byte("print(1)"), 0o644))
	require.NoError(t, util.WriteFile(fs, "jobs/etl.py", []byte("etl()"), 0o644))

	return &manifest.Manifest{
		Version:         "1.0.0",
		ApplicationName: "analytics",
		Variables:       map[string]string{"OWNER": "${TEAM}"},
		FS:              fs,
		Content: manifest.Content{
			Storage:   []manifest.StorageItem{{Name: "code", Path: "src"}},
			Workflows: []manifest.Workflow{{Name: "etl", Script: "jobs/etl.py", Arguments: map[string]string{"--stage": "${stage.name}"}}},
		},
		Stages: manifest.Stages{
			{
				Name:   "dev",
				Bucket: "dev-artifacts",
				Bootstrap: manifest.Bootstrap{Actions: []manifest.BootstrapAction{
					{Type: "test.record", Name: "first", Parameters: map[string]any{"owner": "${OWNER}"}},
				}},
			},
			{
				Name:   "test",
				Target: "qa",
				Bucket: "test-artifacts",
				Region: "eu-west-1",
				Connections: []manifest.Connection{{
					Name:       "warehouse",
					Type:       "REDSHIFT",
					Properties: map[string]string{"url": "jdbc:redshift://${stage.target}.example.com"},
				}},
				Bootstrap: manifest.Bootstrap{Actions: []manifest.BootstrapAction{
					{Type: "test.record", Name: "first", Parameters: map[string]any{"owner": "${OWNER}"}},
					{Type: "test.record", Parameters: map[string]any{"previous": "${action.first.done}"}},
				}},
			},
		},
	}
}

func phaseStatuses(sr *pipeline.StageReport) map[pipeline.Phase]pipeline.Status {
	out := make(map[pipeline.Phase]pipeline.Status, len(sr.Phases))
	for _, p := range sr.Phases {
		out[p.Phase] = p.Status
	}
	return out
}

func TestDeployStagesAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.transfer.failBucket = "dev-artifacts"

	report, err := f.pipeline().Deploy(context.Background(), testManifest(t), []string{"dev", "test"})
	require.NoError(t, err)

	dev := report.Stage("dev")
	require.NotNil(t, dev)
	assert.Equal(t, pipeline.StatusFailed, dev.Status)
	assert.Equal(t, pipeline.PhaseContentDeployment, dev.FailedPhase)
	require.NotNil(t, dev.Error)
	assert.Equal(t, errors.CodeForbidden, dev.Error.Code)
	assert.Equal(t, errors.KindCollaborator, dev.Error.Kind)
	assert.Equal(t, map[pipeline.Phase]pipeline.Status{
		pipeline.PhaseInitialization:     pipeline.StatusSucceeded,
		pipeline.PhaseContentDeployment:  pipeline.StatusFailed,
		pipeline.PhaseWorkflowDeployment: pipeline.StatusSkipped,
		pipeline.PhaseBootstrapExecution: pipeline.StatusSkipped,
		pipeline.PhaseEventEmission:      pipeline.StatusSucceeded,
	}, phaseStatuses(dev))
	assert.Nil(t, dev.Bootstrap)

	qa := report.Stage("test")
	require.NotNil(t, qa)
	assert.Equal(t, pipeline.StatusSucceeded, qa.Status)
	assert.Empty(t, qa.FailedPhase)
	assert.Nil(t, qa.Error)
	for phase, status := range phaseStatuses(qa) {
		assert.Equal(t, pipeline.StatusSucceeded, status, phase)
	}
	require.NotNil(t, qa.Bootstrap)
	assert.Len(t, qa.Bootstrap.Results, 2)
	assert.True(t, f.transfer.has("test-artifacts/analytics/qa/code/main.py"))
	assert.True(t, f.transfer.has("test-artifacts/analytics/qa/workflows/etl/etl.py"))

	assert.False(t, report.Succeeded())
	assert.Equal(t, 1, report.ExitCode())
	assert.Equal(t, []string{"dev"}, report.Failed())
	assert.Equal(t, int32(2), f.handler.calls.Load())

	records := f.recorder.Records()
	require.Len(t, records, 2)
	assert.Equal(t, events.TypeDeploymentFailed, records[0].Type)
	ev := records[0].Payload.(events.DeploymentEvent)
	assert.Equal(t, "dev", ev.Stage)
	assert.Equal(t, string(pipeline.PhaseContentDeployment), ev.FailedPhase)
	assert.Equal(t, "123456789012", ev.Metadata["account"])
	assert.Equal(t, events.TypeDeploymentSucceeded, records[1].Type)
	assert.Equal(t, "qa", records[1].Payload.(events.DeploymentEvent).Target)
}

func TestDeployInjectsStageContext(t *testing.T) {
	f := newFixture(t)

	report, err := f.pipeline().Deploy(context.Background(), testManifest(t), []string{"test"})
	require.NoError(t, err)
	require.True(t, report.Succeeded(), "%+v", report.Stage("test").Error)
	assert.Equal(t, 0, report.ExitCode())

	require.Len(t, f.handler.invs, 2)
	first, second := f.handler.invs[0], f.handler.invs[1]

	owner, err := first.Params.String("owner")
	require.NoError(t, err)
	assert.Equal(t, "data", owner)
	previous, err := second.Params.String("previous")
	require.NoError(t, err)
	assert.Equal(t, "yes", previous)

	for key, want := range map[string]string{
		resolver.KeyStageName:       "test",
		resolver.KeyStageTarget:     "qa",
		resolver.KeyStageRegion:     "eu-west-1",
		resolver.KeyStageAccount:    "123456789012",
		resolver.KeyStageBucket:     "test-artifacts",
		resolver.KeyStagePrefix:     "analytics/qa",
		resolver.KeyAppName:         "analytics",
		"connection.warehouse.url":  "jdbc:redshift://qa.example.com",
		"connection.warehouse.type": "REDSHIFT",
		"workflow.etl.name":         "etl",
		"workflow.etl.script":       "s3://test-artifacts/analytics/qa/workflows/etl/etl.py",
	} {
		got, ok := first.Scope.Lookup(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}

	_, ok := first.Scope.Lookup("action.first.done")
	assert.False(t, ok, "outputs must not be visible to the action producing them")

	def, ok := f.engine.Definition("etl")
	require.True(t, ok)
	assert.Equal(t, "analytics", def.Tags["smus:application"])
	assert.Equal(t, "test", def.Arguments["--stage"])
	assert.Equal(t, map[string]string{"etl": "etl"}, report.Stage("test").Workflows)
	assert.Equal(t, []string{"test-artifacts"}, f.transfer.ensured)
}

func TestDeployEventFailureIsDiagnostic(t *testing.T) {
	f := newFixture(t)
	f.recorder.Err = errors.New(errors.CodePublishFailed, "bus unavailable")

	report, err := f.pipeline().Deploy(context.Background(), testManifest(t), []string{"dev"})
	require.NoError(t, err)

	dev := report.Stage("dev")
	assert.Equal(t, pipeline.StatusSucceeded, dev.Status)
	assert.Empty(t, dev.FailedPhase)
	assert.Nil(t, dev.Error)
	assert.True(t, report.Succeeded())

	require.Len(t, dev.Diagnostics, 1)
	assert.Equal(t, pipeline.PhaseEventEmission, dev.Diagnostics[0].Phase)
	require.NotNil(t, dev.Diagnostics[0].Error)
	assert.Equal(t, errors.CodePublishFailed, dev.Diagnostics[0].Error.Code)

	emission, ok := dev.Phase(pipeline.PhaseEventEmission)
	require.True(t, ok)
	assert.Equal(t, pipeline.StatusFailed, emission.Status)
}

func TestDeployPreflightRejectsUnknownActions(t *testing.T) {
	f := newFixture(t)
	m := testManifest(t)
	m.Stages[1].Bootstrap.Actions = append(m.Stages[1].Bootstrap.Actions,
		manifest.BootstrapAction{Type: "quicksight.import"})

	for _, stages := range [][]string{nil, {"dev"}} {
		report, err := f.pipeline().Deploy(context.Background(), m, stages)
		require.Error(t, err, "stages %v", stages)
		assert.Nil(t, report)
		assert.Equal(t, errors.CodeInvalidManifest, errors.CodeOf(err))
		assert.True(t, errors.HasCode(err, errors.CodeUnknownActionType))
		assert.True(t, errors.IsValidation(err))

		plan := pipeline.Describe(m, f.registry, stages)
		assert.False(t, plan.Valid(), "describe agrees with deploy for stages %v", stages)
	}

	assert.Zero(t, f.handler.calls.Load())
	assert.Empty(t, f.transfer.ensured)
	assert.Empty(t, f.recorder.Records())
}

func TestDeployRejectsUndeclaredStage(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline().Deploy(context.Background(), testManifest(t), []string{"prod"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeUnknownStage))
	assert.Empty(t, f.transfer.ensured)
}

func TestDeployCancelled(t *testing.T) {
	t.Run("before the first phase", func(t *testing.T) {
		f := newFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report, err := f.pipeline().Deploy(ctx, testManifest(t), []string{"dev"})
		require.NoError(t, err)

		dev := report.Stage("dev")
		assert.Equal(t, pipeline.StatusCancelled, dev.Status)
		assert.Equal(t, pipeline.PhaseInitialization, dev.FailedPhase)
		assert.Equal(t, errors.CodeCancelled, dev.Error.Code)
		assert.Empty(t, f.transfer.ensured)
		assert.Zero(t, f.handler.calls.Load())

		records := f.recorder.Records()
		require.Len(t, records, 1)
		assert.Equal(t, events.TypeDeploymentCancelled, records[0].Type)
	})

	t.Run("between bootstrap actions", func(t *testing.T) {
		f := newFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f.handler.fn = func(context.Context, bootstrap.Invocation) (bootstrap.Result, error) {
			cancel()
			return bootstrap.Result{Outputs: map[string]string{"done": "yes"}}, nil
		}

		report, err := f.pipeline().Deploy(ctx, testManifest(t), []string{"test"})
		require.NoError(t, err)

		qa := report.Stage("test")
		assert.Equal(t, pipeline.StatusCancelled, qa.Status)
		assert.Equal(t, pipeline.PhaseBootstrapExecution, qa.FailedPhase)
		assert.Equal(t, int32(1), f.handler.calls.Load())
		require.NotNil(t, qa.Bootstrap)
		assert.Equal(t, bootstrap.OutcomeCancelled, qa.Bootstrap.Outcome)
		assert.Len(t, qa.Bootstrap.Results, 1)
	})
}

func TestDeployCancelledDuringContentFinishesPhase(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.transfer.onPut = func(storage.Object) { cancel() }

	m := testManifest(t)
	require.NoError(t, util.WriteFile(m.FS, "src/lib.py", []byte("def f(): pass"), 0o644))

	p := pipeline.New(f.registry, resolver.New(),
		pipeline.WithStorage(f.transfer),
		pipeline.WithContent(content.NewDeployer(f.transfer, content.WithConcurrency(1))),
		pipeline.WithWorkflows(workflow.NewDeployer(f.engine, f.transfer, nil, nil)),
		pipeline.WithIdentity(pipeline.StaticIdentity("123456789012")),
		pipeline.WithEmitter(f.recorder),
	)
	report, err := p.Deploy(ctx, m, []string{"dev"})
	require.NoError(t, err)

	dev := report.Stage("dev")
	assert.Equal(t, pipeline.StatusCancelled, dev.Status)
	assert.Equal(t, pipeline.PhaseWorkflowDeployment, dev.FailedPhase)

	phases := phaseStatuses(dev)
	assert.Equal(t, pipeline.StatusSucceeded, phases[pipeline.PhaseInitialization])
	assert.Equal(t, pipeline.StatusSucceeded, phases[pipeline.PhaseContentDeployment])
	assert.Equal(t, pipeline.StatusSkipped, phases[pipeline.PhaseWorkflowDeployment])

	assert.True(t, f.transfer.has("dev-artifacts/analytics/dev/code/main.py"))
	assert.True(t, f.transfer.has("dev-artifacts/analytics/dev/code/lib.py"))
	_, deployed := f.engine.Definition("etl")
	assert.False(t, deployed, "no workflow is deployed after cancellation")
}

func TestDeployBootstrapFailure(t *testing.T) {
	f := newFixture(t)
	f.handler.fn = func(context.Context, bootstrap.Invocation) (bootstrap.Result, error) {
		return bootstrap.Result{}, errors.New(errors.CodeExecutionFailed, "stack rollback")
	}

	report, err := f.pipeline().Deploy(context.Background(), testManifest(t), []string{"test"})
	require.NoError(t, err)

	qa := report.Stage("test")
	assert.Equal(t, pipeline.StatusFailed, qa.Status)
	assert.Equal(t, pipeline.PhaseBootstrapExecution, qa.FailedPhase)
	assert.Equal(t, errors.CodeExecutionFailed, qa.Error.Code)
	assert.Equal(t, "test.record", qa.Error.Context["action_type"])
	assert.Equal(t, int32(1), f.handler.calls.Load())
	require.NotNil(t, qa.Bootstrap.Failure())
	assert.Equal(t, 0, qa.Bootstrap.Failure().Index)
}

func TestDeployInitializationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *manifest.Manifest)
		code   errors.ErrorCode
	}{
		{
			name:   "content without bucket",
			mutate: func(m *manifest.Manifest) { m.Stages[0].Bucket = "" },
			code:   errors.CodeInvalidConfig,
		},
		{
			name:   "unresolved region",
			mutate: func(m *manifest.Manifest) { m.Stages[0].Region = "${REGION}" },
			code:   errors.CodeUndefinedVariable,
		},
		{
			name: "unresolved connection property",
			mutate: func(m *manifest.Manifest) {
				m.Stages[0].Connections = []manifest.Connection{{Name: "db", Properties: map[string]string{"host": "${DB_HOST}"}}}
			},
			code: errors.CodeUndefinedVariable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			m := testManifest(t)
			tt.mutate(m)

			report, err := f.pipeline().Deploy(context.Background(), m, []string{"dev"})
			require.NoError(t, err)

			dev := report.Stage("dev")
			assert.Equal(t, pipeline.StatusFailed, dev.Status)
			assert.Equal(t, pipeline.PhaseInitialization, dev.FailedPhase)
			assert.Equal(t, tt.code, dev.Error.Code)
			assert.Zero(t, f.handler.calls.Load())
		})
	}
}

func TestDeploySkipsUndeclaredPhases(t *testing.T) {
	f := newFixture(t)
	disabled := false
	m := &manifest.Manifest{
		ApplicationName: "bare",
		Stages:          manifest.Stages{{Name: "dev", Events: &disabled}},
	}

	report, err := f.pipeline().Deploy(context.Background(), m, nil)
	require.NoError(t, err)

	dev := report.Stage("dev")
	assert.Equal(t, pipeline.StatusSucceeded, dev.Status)
	assert.Equal(t, map[pipeline.Phase]pipeline.Status{
		pipeline.PhaseInitialization:     pipeline.StatusSucceeded,
		pipeline.PhaseContentDeployment:  pipeline.StatusSkipped,
		pipeline.PhaseWorkflowDeployment: pipeline.StatusSkipped,
		pipeline.PhaseBootstrapExecution: pipeline.StatusSkipped,
		pipeline.PhaseEventEmission:      pipeline.StatusSkipped,
	}, phaseStatuses(dev))
	assert.Empty(t, f.transfer.ensured)
	assert.Empty(t, f.recorder.Records())
}

func TestDeployParallel(t *testing.T) {
	f := newFixture(t)

	// Each stage's first action waits for the other stage to arrive, which
	// only succeeds when stages run concurrently.
	var arrived sync.WaitGroup
	arrived.Add(2)
	var once sync.Map
	f.handler.fn = func(_ context.Context, inv bootstrap.Invocation) (bootstrap.Result, error) {
		stage, _ := inv.Scope.Lookup(resolver.KeyStageName)
		if _, seen := once.LoadOrStore(stage, true); !seen {
			arrived.Done()
			done := make(chan struct{})
			go func() { arrived.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				return bootstrap.Result{}, errors.New(errors.CodeTimeout, "stages did not run concurrently")
			}
		}
		return bootstrap.Result{Outputs: map[string]string{"done": "yes"}}, nil
	}

	report, err := f.pipeline(pipeline.WithParallel(true)).Deploy(context.Background(), testManifest(t), nil)
	require.NoError(t, err)
	assert.True(t, report.Succeeded(), "failed stages: %v", report.Failed())
	assert.Equal(t, []string{"dev", "test"}, report.Order)
	assert.Len(t, f.recorder.Records(), 2)
}

func TestDeployWithoutCollaborators(t *testing.T) {
	f := newFixture(t)
	p := pipeline.New(f.registry, nil, pipeline.WithEnvironment(map[string]string{}))

	report, err := p.Deploy(context.Background(), testManifest(t), []string{"dev"})
	require.NoError(t, err)

	dev := report.Stage("dev")
	assert.Equal(t, pipeline.PhaseContentDeployment, dev.FailedPhase)
	assert.Equal(t, errors.CodeInvalidConfig, dev.Error.Code)
}
