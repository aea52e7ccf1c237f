package main

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/glue"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/bootstrap"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/bootstrap/handlers"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/config"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/content"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/events"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/executor"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/monitor"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/pipeline"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/resolver"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/secrets"
	awsprovider "github.com/aws/CICD-for-SageMakerUnifiedStudio/secrets/providers/aws"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/secrets/providers/memory"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/session"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/storage"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/workflow"
)

// app holds the collaborators of one command invocation. Fields left nil
// are built from the AWS session on first use; tests preset them.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	session     *session.Session
	transfer    storage.Transfer
	engine      workflow.Engine
	connections handlers.ConnectionAPI
	secrets     *secrets.Manager
	runner      executor.Runner
	emitter     events.Emitter
	identity    pipeline.Identity
}

func (a *app) awsSession(ctx context.Context) (*session.Session, error) {
	if a.session != nil {
		return a.session, nil
	}
	s, err := session.New(ctx,
		session.WithRegion(a.cfg.AWS.Region),
		session.WithProfile(a.cfg.AWS.Profile),
		session.WithEndpoint(a.cfg.AWS.Endpoint),
		session.WithMaxRetries(a.cfg.AWS.MaxRetries),
		session.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	a.session = s
	return s, nil
}

func (a *app) storage(ctx context.Context) (storage.Transfer, error) {
	if a.transfer != nil {
		return a.transfer, nil
	}
	switch a.cfg.Storage.Backend {
	case config.BackendMinio:
		mc := a.cfg.Storage.Minio
		t, err := storage.NewMinio(storage.MinioConfig{
			Endpoint:        mc.Endpoint,
			AccessKeyID:     mc.AccessKeyID,
			SecretAccessKey: mc.SecretAccessKey,
			Region:          mc.Region,
			Secure:          mc.Secure,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.transfer = t
	default:
		s, err := a.awsSession(ctx)
		if err != nil {
			return nil, err
		}
		a.transfer = storage.NewS3(s.S3(), storage.WithS3Logger(a.logger))
	}
	return a.transfer, nil
}

func (a *app) workflowEngine(ctx context.Context) (workflow.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	s, err := a.awsSession(ctx)
	if err != nil {
		return nil, err
	}
	a.engine = workflow.NewGlueFromConfig(s.Config(), workflow.WithLogger(a.logger))
	return a.engine, nil
}

func (a *app) connectionAPI(ctx context.Context) (handlers.ConnectionAPI, error) {
	if a.connections != nil {
		return a.connections, nil
	}
	s, err := a.awsSession(ctx)
	if err != nil {
		return nil, err
	}
	a.connections = s.Glue()
	return a.connections, nil
}

func (a *app) secretManager(ctx context.Context) (*secrets.Manager, error) {
	if a.secrets != nil {
		return a.secrets, nil
	}
	m := secrets.NewManager(&secrets.Config{
		DefaultProvider: a.cfg.Secrets.Provider,
		AuditLogger:     secrets.NewSlogAuditLogger(a.logger),
	})
	if err := m.RegisterProvider("memory", memory.New()); err != nil {
		return nil, err
	}
	if a.cfg.Secrets.Provider == config.ProviderAWS {
		s, err := a.awsSession(ctx)
		if err != nil {
			return nil, err
		}
		p := awsprovider.NewFromConfig(s.Config(),
			awsprovider.WithLogger(a.logger),
			awsprovider.WithRecoveryWindow(a.cfg.Secrets.RecoveryWindowDays))
		if err := m.RegisterProvider(awsprovider.ProviderName, p); err != nil {
			return nil, err
		}
	}
	a.secrets = m
	return m, nil
}

func (a *app) eventEmitter(ctx context.Context) (events.Emitter, error) {
	if a.emitter != nil || !a.cfg.Events.Enabled {
		return a.emitter, nil
	}
	s, err := a.awsSession(ctx)
	if err != nil {
		return nil, err
	}
	a.emitter = events.NewEventBridge(s.EventBridge(),
		events.WithBus(a.cfg.Events.Bus),
		events.WithSource(a.cfg.Events.Source),
		events.WithLogger(a.logger))
	return a.emitter, nil
}

func (a *app) callerIdentity(ctx context.Context) (pipeline.Identity, error) {
	if a.identity != nil {
		return a.identity, nil
	}
	s, err := a.awsSession(ctx)
	if err != nil {
		return nil, err
	}
	a.identity = pipeline.NewSTSIdentity(s.STS())
	return a.identity, nil
}

func (a *app) monitorOptions() monitor.Options {
	return monitor.Options{
		Interval: a.cfg.Monitor.Interval,
		Timeout:  a.cfg.Monitor.Timeout,
		Logger:   a.logger,
	}
}

// registry builds the sealed action registry over the given collaborators.
func (a *app) registry(deps handlers.Deps) (*bootstrap.Registry, error) {
	deps.CDKBinary = a.cfg.CDK.Binary
	deps.Monitor = a.monitorOptions()
	deps.Logger = a.logger

	reg := bootstrap.NewRegistry()
	if err := handlers.Register(reg, deps); err != nil {
		return nil, err
	}
	reg.Seal()
	return reg, nil
}

// offlineRegistry knows every built-in action type without touching any
// external service. It backs side-effect free commands such as describe.
func (a *app) offlineRegistry() (*bootstrap.Registry, error) {
	return a.registry(handlers.Deps{
		Runner:      executor.RunnerFunc(func(context.Context, executor.Command) (*executor.Result, error) { return &executor.Result{}, nil }),
		Workflows:   workflow.NewDeployer(workflow.NewMemory(), nil, nil, a.logger),
		Secrets:     secrets.NewManager(nil),
		Connections: glue.New(glue.Options{}),
	})
}

// pipeline wires every collaborator into a deployment pipeline.
func (a *app) pipeline(ctx context.Context, parallel bool) (*pipeline.Pipeline, error) {
	transfer, err := a.storage(ctx)
	if err != nil {
		return nil, err
	}
	engine, err := a.workflowEngine(ctx)
	if err != nil {
		return nil, err
	}
	sm, err := a.secretManager(ctx)
	if err != nil {
		return nil, err
	}
	emitter, err := a.eventEmitter(ctx)
	if err != nil {
		return nil, err
	}
	identity, err := a.callerIdentity(ctx)
	if err != nil {
		return nil, err
	}
	connections, err := a.connectionAPI(ctx)
	if err != nil {
		return nil, err
	}

	res := resolver.New(resolver.WithSecretFetcher(sm), resolver.WithLogger(a.logger))
	workflows := workflow.NewDeployer(engine, transfer, res, a.logger)

	runner := a.runner
	if runner == nil {
		runner = executor.NewLocal(executor.WithLogger(a.logger))
	}
	reg, err := a.registry(handlers.Deps{Runner: runner, Workflows: workflows, Secrets: sm, Connections: connections})
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithStorage(transfer),
		pipeline.WithContent(content.NewDeployer(transfer,
			content.WithConcurrency(a.cfg.Storage.Concurrency),
			content.WithResolver(res),
			content.WithLogger(a.logger))),
		pipeline.WithWorkflows(workflows),
		pipeline.WithIdentity(identity),
		pipeline.WithRegion(a.regionDefault()),
		pipeline.WithParallel(parallel),
		pipeline.WithEmitTimeout(a.cfg.Events.Timeout),
		pipeline.WithLogger(a.logger),
	}
	if emitter != nil {
		opts = append(opts, pipeline.WithEmitter(emitter))
	}
	return pipeline.New(reg, res, opts...), nil
}

func (a *app) regionDefault() string {
	if a.session != nil {
		return a.session.Region()
	}
	return a.cfg.AWS.Region
}
