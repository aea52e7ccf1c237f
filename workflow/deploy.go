package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/manifest"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/resolver"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/storage"
)

// Destination is where workflow scripts are shipped for a stage.
type Destination struct {
	Bucket string
	Prefix string
	// Tags are attached to every definition.
	Tags map[string]string
}

// ScriptKey returns the object key of a workflow script.
func (d Destination) ScriptKey(workflowName, script string) string {
	return storage.JoinKey(d.Prefix, "workflows", workflowName, path.Base(script))
}

// Deployer ships manifest workflows to an Engine: the script is uploaded
// next to the stage content and the job definition is created or updated.
type Deployer struct {
	engine   Engine
	transfer storage.Transfer
	resolver *resolver.Resolver
	logger   *slog.Logger
}

// NewDeployer creates a Deployer. logger may be nil.
func NewDeployer(engine Engine, transfer storage.Transfer, res *resolver.Resolver, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if res == nil {
		res = resolver.New()
	}
	return &Deployer{engine: engine, transfer: transfer, resolver: res, logger: logger}
}

// Engine returns the engine definitions are submitted to.
func (d *Deployer) Engine() Engine {
	return d.engine
}

// Deploy resolves wf against scope, uploads its script from fsys unless it
// already points at s3://, and upserts the job.
func (d *Deployer) Deploy(ctx context.Context, fsys billy.Filesystem, wf manifest.Workflow, dest Destination, scope resolver.Lookuper) (Definition, Ref, error) {
	def, err := d.resolve(ctx, wf, scope)
	if err != nil {
		return Definition{}, Ref{}, err
	}
	for k, v := range dest.Tags {
		if def.Tags == nil {
			def.Tags = make(map[string]string, len(dest.Tags))
		}
		def.Tags[k] = v
	}

	if !strings.HasPrefix(def.ScriptLocation, "s3://") {
		location, err := d.uploadScript(ctx, fsys, def.Name, def.ScriptLocation, dest)
		if err != nil {
			return Definition{}, Ref{}, err
		}
		def.ScriptLocation = location
	}

	ref, err := d.engine.Upsert(ctx, def)
	if err != nil {
		return Definition{}, Ref{}, err
	}
	d.logger.InfoContext(ctx, "workflow deployed", "workflow", def.Name, "script", def.ScriptLocation)
	return def, ref, nil
}

func (d *Deployer) resolve(ctx context.Context, wf manifest.Workflow, scope resolver.Lookuper) (Definition, error) {
	fields := map[string]string{
		"name":        wf.Name,
		"description": wf.Description,
		"script":      wf.Script,
		"role":        wf.Role,
		"command":     wf.Command,
		"glueVersion": wf.GlueVersion,
	}
	resolved, err := d.resolver.ResolveStrings(ctx, fields, scope)
	if err != nil {
		return Definition{}, wrapResolution(err, wf.Name)
	}
	args, err := d.resolver.ResolveStrings(ctx, wf.Arguments, scope)
	if err != nil {
		return Definition{}, wrapResolution(err, wf.Name)
	}

	return Definition{
		Name:           resolved["name"],
		Description:    resolved["description"],
		ScriptLocation: resolved["script"],
		Role:           resolved["role"],
		Command:        resolved["command"],
		GlueVersion:    resolved["glueVersion"],
		Arguments:      args,
	}, nil
}

func (d *Deployer) uploadScript(ctx context.Context, fsys billy.Filesystem, name, script string, dest Destination) (string, error) {
	if fsys == nil {
		return "", errors.Newf(errors.CodeInvalidInput, "workflow %s: no filesystem to read script %s from", name, script)
	}
	if d.transfer == nil {
		return "", errors.Newf(errors.CodeInvalidConfig, "workflow %s: no storage configured for script upload", name)
	}
	body, err := util.ReadFile(fsys, script)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeNotFound, fmt.Sprintf("workflow %s: failed to read script", name)).
			WithContext("script", script)
	}

	key := dest.ScriptKey(name, script)
	if _, err := d.transfer.Put(ctx, storage.Object{Bucket: dest.Bucket, Key: key, Body: body}); err != nil {
		return "", storage.Classify(err, fmt.Sprintf("workflow %s: failed to upload script", name))
	}
	return fmt.Sprintf("s3://%s/%s", dest.Bucket, key), nil
}

func wrapResolution(err error, name string) error {
	code := errors.CodeOf(err)
	if code == errors.CodeUnknown {
		code = errors.CodeInvalidInput
	}
	return errors.WrapWithContext(err, code, "workflow "+name+": failed to resolve definition", map[string]interface{}{
		"workflow": name,
		"field":    resolver.FailedPath(err),
	})
}
