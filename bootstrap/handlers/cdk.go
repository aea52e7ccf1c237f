package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/bootstrap"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/executor"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/resolver"
)

// cdkHandler runs one CDK CLI command against an app directory.
//
// Parameters:
//
//	appPath               CDK app directory, relative to the manifest (required)
//	stackName             stack to target; all stacks when omitted
//	context               -c key=value pairs; stage, projectName and region are defaulted
//	environmentVariables  extra process environment; stage variables fill the gaps
//	extraArgs             appended to the command line
//	region                overrides the stage region
//	outputsFile           deploy only; where cdk writes stack outputs
type cdkHandler struct {
	runner  executor.Runner
	binary  string
	command string
	logger  *slog.Logger
}

func (h *cdkHandler) Execute(ctx context.Context, inv bootstrap.Invocation) (bootstrap.Result, error) {
	appPath, err := h.appPath(inv)
	if err != nil {
		return bootstrap.Result{}, err
	}
	stackName, err := inv.Params.OptionalString("stackName", "")
	if err != nil {
		return bootstrap.Result{}, err
	}
	region, err := inv.Params.OptionalString("region", lookup(inv, resolver.KeyStageRegion))
	if err != nil {
		return bootstrap.Result{}, err
	}
	if region == "" && inv.Stage != nil {
		region = inv.Stage.Region
	}
	cdkContext, err := h.context(inv, region)
	if err != nil {
		return bootstrap.Result{}, err
	}
	env, err := h.environment(inv, region)
	if err != nil {
		return bootstrap.Result{}, err
	}
	extra, err := inv.Params.StringSlice("extraArgs")
	if err != nil {
		return bootstrap.Result{}, err
	}

	args := []string{h.command}
	if stackName != "" {
		args = append(args, stackName)
	}
	switch h.command {
	case "deploy":
		args = append(args, "--require-approval=never")
	case "destroy":
		args = append(args, "--force")
	}
	for _, k := range slices.Sorted(maps.Keys(cdkContext)) {
		args = append(args, "-c", k+"="+cdkContext[k])
	}
	args = append(args, extra...)

	var outputsFile string
	if h.command == "deploy" {
		outputsFile, err = inv.Params.OptionalString("outputsFile", "")
		if err != nil {
			return bootstrap.Result{}, err
		}
		if outputsFile == "" {
			outputsFile = filepath.Join(os.TempDir(), fmt.Sprintf("cdk-outputs-%s-%d.json", lookup(inv, resolver.KeyStageName), inv.Index))
		}
		args = append(args, "--outputs-file", outputsFile)
	}

	stack := stackName
	if stack == "" {
		stack = "all"
	}
	h.logger.InfoContext(ctx, "running cdk", "command", h.command, "app", appPath, "stack", stack)

	res, runErr := h.runner.Run(ctx, executor.Command{Program: h.binary, Args: args, Dir: appPath, Env: env})
	payload := map[string]any{
		"action":     "cdk." + h.command,
		"stack_name": stack,
		"app_path":   appPath,
	}

	if h.command == "diff" {
		// cdk diff exits 1 when the stacks differ.
		if runErr != nil && executor.ExitCode(runErr) != 1 {
			return bootstrap.Result{}, h.failure(runErr)
		}
		changed := runErr != nil
		payload["has_changes"] = changed
		if res != nil {
			payload["diff_output"] = res.Stdout
		}
		return bootstrap.Result{Payload: payload, Outputs: map[string]string{"has_changes": fmt.Sprint(changed)}}, nil
	}
	if runErr != nil {
		return bootstrap.Result{}, h.failure(runErr)
	}

	outputs := map[string]string{"stack_name": stack}
	switch h.command {
	case "synth":
		payload["template"] = res.Stdout
	case "deploy":
		stackOutputs, err := readOutputs(outputsFile)
		if err != nil {
			h.logger.WarnContext(ctx, "failed to read cdk outputs", "file", outputsFile, "error", err)
		}
		payload["outputs"] = stackOutputs
		for k, v := range stackOutputs {
			outputs[k] = v
		}
	}
	return bootstrap.Result{Payload: payload, Outputs: outputs}, nil
}

func (h *cdkHandler) appPath(inv bootstrap.Invocation) (string, error) {
	p, err := inv.Params.String("appPath")
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) && inv.Manifest != nil && inv.Manifest.Dir != "" {
		p = filepath.Join(inv.Manifest.Dir, p)
	}
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return "", errors.Newf(errors.CodeInvalidInput, "cdk app path %s does not exist", p).
			WithContext("parameter", "appPath")
	}
	return p, nil
}

func (h *cdkHandler) context(inv bootstrap.Invocation, region string) (map[string]string, error) {
	out, err := inv.Params.StringMap("context")
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = make(map[string]string)
	}
	defaults := map[string]string{
		"stage":       lookup(inv, resolver.KeyStageName),
		"projectName": lookup(inv, resolver.KeyAppName),
		"region":      region,
	}
	for k, v := range defaults {
		if _, set := out[k]; !set && v != "" {
			out[k] = v
		}
	}
	return out, nil
}

func (h *cdkHandler) environment(inv bootstrap.Invocation, region string) (map[string]string, error) {
	env, err := inv.Params.StringMap("environmentVariables")
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = make(map[string]string)
	}
	for k, v := range inv.Env {
		if _, set := env[k]; !set {
			env[k] = v
		}
	}
	if region != "" {
		env["AWS_DEFAULT_REGION"] = region
		env["CDK_DEFAULT_REGION"] = region
	}
	if account := lookup(inv, resolver.KeyStageAccount); account != "" {
		if _, set := env["CDK_DEFAULT_ACCOUNT"]; !set {
			env["CDK_DEFAULT_ACCOUNT"] = account
		}
	}
	return env, nil
}

func (h *cdkHandler) failure(err error) error {
	code := executor.ExitCode(err)
	return errors.Wrap(err, errors.CodeExecutionFailed, fmt.Sprintf("cdk %s failed (exit code %d)", h.command, code))
}

// readOutputs flattens a cdk outputs file into "<stack>.<key>" entries.
func readOutputs(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return map[string]string{}, err
	}
	var stacks map[string]map[string]any
	if err := json.Unmarshal(data, &stacks); err != nil {
		return map[string]string{}, err
	}
	out := make(map[string]string)
	for stack, values := range stacks {
		for k, v := range values {
			if s, ok := v.(string); ok {
				out[stack+"."+k] = s
			} else {
				out[stack+"."+k] = fmt.Sprint(v)
			}
		}
	}
	return out, nil
}
