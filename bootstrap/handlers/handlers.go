// Package handlers provides the built-in bootstrap actions:
//
//	cdk.deploy, cdk.destroy, cdk.synth, cdk.diff   run the AWS CDK CLI
//	workflow.create, workflow.run                   manage content workflows
//	secrets.put                                     write a secret
//	datazone.create_connection                      upsert a catalog connection
//
// Register wires the actions whose collaborators are present in Deps.
package handlers

import (
	"context"
	"log/slog"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/bootstrap"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/executor"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/monitor"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/workflow"
)

// SecretWriter stores a secret at a [provider://]path location.
type SecretWriter interface {
	Store(ctx context.Context, path string, value []byte) error
}

// Deps are the collaborators available to handlers. Nil collaborators
// leave their actions unregistered.
type Deps struct {
	// Runner executes the CDK CLI.
	Runner executor.Runner
	// CDKBinary overrides the CDK executable name. Defaults to "cdk".
	CDKBinary string

	Workflows *workflow.Deployer
	// Monitor holds the default polling options for workflow.run with wait.
	Monitor monitor.Options

	Secrets SecretWriter

	// Connections manages catalog connections, usually a *glue.Client.
	Connections ConnectionAPI

	Logger *slog.Logger
}

// Register adds every action supported by deps to reg.
func Register(reg *bootstrap.Registry, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	handlers := map[string]bootstrap.Handler{}

	if deps.Runner != nil {
		binary := deps.CDKBinary
		if binary == "" {
			binary = "cdk"
		}
		for _, verb := range []string{"deploy", "destroy", "synth", "diff"} {
			handlers["cdk."+verb] = &cdkHandler{runner: deps.Runner, binary: binary, command: verb, logger: logger}
		}
	}

	if deps.Workflows != nil {
		handlers["workflow.create"] = &workflowCreate{deployer: deps.Workflows, logger: logger}
		handlers["workflow.run"] = &workflowRun{engine: deps.Workflows.Engine(), monitor: deps.Monitor, logger: logger}
	}

	if deps.Secrets != nil {
		handlers["secrets.put"] = &secretsPut{store: deps.Secrets, logger: logger}
	}

	if deps.Connections != nil {
		handlers["datazone.create_connection"] = &connectionCreate{api: deps.Connections, logger: logger}
	}

	for name, h := range handlers {
		t, err := bootstrap.ParseActionType(name)
		if err != nil {
			return err
		}
		if err := reg.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}

func lookup(inv bootstrap.Invocation, key string) string {
	v, _ := inv.Scope.Lookup(key)
	return v
}
