package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/smithy-go"

	cerrors "github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

const (
	// DefaultLogGroup is where Glue writes job driver output.
	DefaultLogGroup    = "/aws-glue/jobs/output"
	defaultCommand     = "glueetl"
	defaultGlueVersion = "4.0"
	defaultLogLines    = 20
)

// GlueAPI is the subset of the Glue client used by the engine.
type GlueAPI interface {
	GetJob(ctx context.Context, params *glue.GetJobInput, optFns ...func(*glue.Options)) (*glue.GetJobOutput, error)
	CreateJob(ctx context.Context, params *glue.CreateJobInput, optFns ...func(*glue.Options)) (*glue.CreateJobOutput, error)
	UpdateJob(ctx context.Context, params *glue.UpdateJobInput, optFns ...func(*glue.Options)) (*glue.UpdateJobOutput, error)
	StartJobRun(ctx context.Context, params *glue.StartJobRunInput, optFns ...func(*glue.Options)) (*glue.StartJobRunOutput, error)
	GetJobRun(ctx context.Context, params *glue.GetJobRunInput, optFns ...func(*glue.Options)) (*glue.GetJobRunOutput, error)
	GetJobRuns(ctx context.Context, params *glue.GetJobRunsInput, optFns ...func(*glue.Options)) (*glue.GetJobRunsOutput, error)
}

// LogsAPI is the subset of the CloudWatch Logs client used for log excerpts.
type LogsAPI interface {
	GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

// Glue implements Engine on AWS Glue jobs.
type Glue struct {
	client   GlueAPI
	logs     LogsAPI
	logger   *slog.Logger
	logGroup string
	logLines int32
	now      func() time.Time
}

// GlueOption configures a Glue engine.
type GlueOption func(*Glue)

// WithLogs enables log excerpts in snapshots.
func WithLogs(logs LogsAPI) GlueOption {
	return func(g *Glue) {
		g.logs = logs
	}
}

// WithLogGroup overrides DefaultLogGroup.
func WithLogGroup(group string) GlueOption {
	return func(g *Glue) {
		g.logGroup = group
	}
}

// WithLogLines sets how many trailing log lines a snapshot carries.
func WithLogLines(n int32) GlueOption {
	return func(g *Glue) {
		if n > 0 {
			g.logLines = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) GlueOption {
	return func(g *Glue) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGlue creates a Glue engine.
func NewGlue(client GlueAPI, opts ...GlueOption) *Glue {
	g := &Glue{
		client:   client,
		logger:   slog.New(slog.DiscardHandler),
		logGroup: DefaultLogGroup,
		logLines: defaultLogLines,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewGlueFromConfig creates a Glue engine with clients built from cfg.
func NewGlueFromConfig(cfg aws.Config, opts ...GlueOption) *Glue {
	opts = append([]GlueOption{WithLogs(cloudwatchlogs.NewFromConfig(cfg))}, opts...)
	return NewGlue(glue.NewFromConfig(cfg), opts...)
}

// Upsert implements Engine.
func (g *Glue) Upsert(ctx context.Context, def Definition) (Ref, error) {
	if def.Name == "" {
		return Ref{}, cerrors.New(cerrors.CodeInvalidInput, "workflow name is required")
	}
	if def.ScriptLocation == "" {
		return Ref{}, cerrors.Newf(cerrors.CodeInvalidInput, "workflow %s has no script location", def.Name)
	}

	command := &types.JobCommand{
		Name:           aws.String(orDefault(def.Command, defaultCommand)),
		ScriptLocation: aws.String(def.ScriptLocation),
		PythonVersion:  aws.String("3"),
	}

	_, err := g.client.GetJob(ctx, &glue.GetJobInput{JobName: aws.String(def.Name)})
	var notFound *types.EntityNotFoundException
	switch {
	case err == nil:
		g.logger.InfoContext(ctx, "updating workflow", "workflow", def.Name)
		_, err = g.client.UpdateJob(ctx, &glue.UpdateJobInput{
			JobName: aws.String(def.Name),
			JobUpdate: &types.JobUpdate{
				Description:      optional(def.Description),
				Role:             optional(def.Role),
				Command:          command,
				GlueVersion:      aws.String(orDefault(def.GlueVersion, defaultGlueVersion)),
				DefaultArguments: def.Arguments,
			},
		})
		if err != nil {
			return Ref{}, glueError(err, "update", def.Name)
		}
	case errors.As(err, &notFound):
		if def.Role == "" {
			return Ref{}, cerrors.Newf(cerrors.CodeInvalidInput, "workflow %s needs a role to be created", def.Name)
		}
		g.logger.InfoContext(ctx, "creating workflow", "workflow", def.Name)
		_, err = g.client.CreateJob(ctx, &glue.CreateJobInput{
			Name:             aws.String(def.Name),
			Description:      optional(def.Description),
			Role:             aws.String(def.Role),
			Command:          command,
			GlueVersion:      aws.String(orDefault(def.GlueVersion, defaultGlueVersion)),
			DefaultArguments: def.Arguments,
			Tags:             def.Tags,
		})
		if err != nil {
			return Ref{}, glueError(err, "create", def.Name)
		}
	default:
		return Ref{}, glueError(err, "get", def.Name)
	}

	return Ref{Name: def.Name}, nil
}

// Start implements Engine.
func (g *Glue) Start(ctx context.Context, ref Ref, args map[string]string) (Ref, error) {
	input := &glue.StartJobRunInput{JobName: aws.String(ref.Name)}
	if len(args) > 0 {
		input.Arguments = args
	}
	out, err := g.client.StartJobRun(ctx, input)
	if err != nil {
		return Ref{}, glueError(err, "start", ref.Name)
	}
	run := Ref{Name: ref.Name, RunID: aws.ToString(out.JobRunId)}
	g.logger.InfoContext(ctx, "started workflow run", "workflow", run.Name, "run_id", run.RunID)
	return run, nil
}

// Status implements Engine.
func (g *Glue) Status(ctx context.Context, ref Ref) (Snapshot, error) {
	var run *types.JobRun
	if ref.RunID == "" {
		out, err := g.client.GetJobRuns(ctx, &glue.GetJobRunsInput{
			JobName:    aws.String(ref.Name),
			MaxResults: aws.Int32(1),
		})
		if err != nil {
			return Snapshot{}, glueError(err, "status", ref.Name)
		}
		if len(out.JobRuns) == 0 {
			return Snapshot{Ref: ref, Status: StatusUnknown, Message: "workflow has no runs", Time: g.now()}, nil
		}
		run = &out.JobRuns[0]
	} else {
		out, err := g.client.GetJobRun(ctx, &glue.GetJobRunInput{
			JobName: aws.String(ref.Name),
			RunId:   aws.String(ref.RunID),
		})
		if err != nil {
			return Snapshot{}, glueError(err, "status", ref.Name)
		}
		run = out.JobRun
	}
	if run == nil {
		return Snapshot{Ref: ref, Status: StatusUnknown, Time: g.now()}, nil
	}

	snap := Snapshot{
		Ref:     Ref{Name: ref.Name, RunID: aws.ToString(run.Id)},
		Status:  mapRunState(run.JobRunState),
		Message: aws.ToString(run.ErrorMessage),
		Time:    g.now(),
	}
	snap.Log = g.logExcerpt(ctx, snap.Ref.RunID)
	return snap, nil
}

// logExcerpt returns the last lines of the run's driver log. Log access is
// best-effort; failures leave the excerpt empty.
func (g *Glue) logExcerpt(ctx context.Context, runID string) string {
	if g.logs == nil || runID == "" {
		return ""
	}
	out, err := g.logs.GetLogEvents(ctx, &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(g.logGroup),
		LogStreamName: aws.String(runID),
		Limit:         aws.Int32(g.logLines),
		StartFromHead: aws.Bool(false),
	})
	if err != nil {
		var rnf *logtypes.ResourceNotFoundException
		if !errors.As(err, &rnf) {
			g.logger.DebugContext(ctx, "cannot read workflow logs", "run_id", runID, "error", err)
		}
		return ""
	}

	lines := make([]string, 0, len(out.Events))
	for _, ev := range out.Events {
		lines = append(lines, strings.TrimRight(aws.ToString(ev.Message), "\n"))
	}
	return strings.Join(lines, "\n")
}

func mapRunState(state types.JobRunState) Status {
	switch state {
	case types.JobRunStateStarting, types.JobRunStateRunning, types.JobRunStateStopping, types.JobRunStateWaiting:
		return StatusRunning
	case types.JobRunStateSucceeded:
		return StatusSucceeded
	case types.JobRunStateFailed, types.JobRunStateError, types.JobRunStateStopped, types.JobRunStateExpired:
		return StatusFailed
	case types.JobRunStateTimeout:
		return StatusTimedOut
	default:
		return StatusUnknown
	}
}

func glueError(err error, op, name string) error {
	code := cerrors.CodeExecutionFailed
	var notFound *types.EntityNotFoundException
	var apiErr smithy.APIError
	switch {
	case errors.As(err, &notFound):
		code = cerrors.CodeNotFound
	case errors.As(err, &apiErr) && strings.HasPrefix(apiErr.ErrorCode(), "AccessDenied"):
		code = cerrors.CodeForbidden
	}
	return cerrors.Wrap(err, code, fmt.Sprintf("glue %s %s failed", op, name)).
		WithContext("workflow", name)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
