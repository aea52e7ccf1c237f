// Package content ships manifest content to a stage bucket.
//
// Storage items and dashboards are read from the manifest filesystem, git
// items are cloned into memory. Items are uploaded concurrently on a
// bounded worker pool; the first failure cancels the remaining items.
package content

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/manifest"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/resolver"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/storage"
)

// Kind is the type of a content item.
type Kind string

const (
	KindStorage   Kind = "storage"
	KindGit       Kind = "git"
	KindDashboard Kind = "dashboard"
)

// Destination is the bucket and key prefix a stage's content lands in.
type Destination struct {
	Bucket string
	Prefix string
}

// ItemResult summarizes one uploaded item.
type ItemResult struct {
	Name     string        `json:"name"`
	Kind     Kind          `json:"kind"`
	Location string        `json:"location"`
	Objects  int           `json:"objects"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration"`
}

// Deployer uploads manifest content through a storage.Transfer.
type Deployer struct {
	transfer    storage.Transfer
	cloner      Cloner
	resolver    *resolver.Resolver
	concurrency int
	logger      *slog.Logger
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithConcurrency bounds the number of items uploaded at once.
func WithConcurrency(n int) Option {
	return func(d *Deployer) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithCloner replaces the git cloner.
func WithCloner(c Cloner) Option {
	return func(d *Deployer) {
		if c != nil {
			d.cloner = c
		}
	}
}

// WithResolver sets the resolver used for item fields.
func WithResolver(r *resolver.Resolver) Option {
	return func(d *Deployer) {
		if r != nil {
			d.resolver = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deployer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDeployer creates a Deployer.
func NewDeployer(transfer storage.Transfer, opts ...Option) *Deployer {
	d := &Deployer{
		transfer:    transfer,
		cloner:      GitCloner{Depth: 1},
		resolver:    resolver.New(),
		concurrency: runtime.GOMAXPROCS(0),
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type job struct {
	name string
	kind Kind
	run  func(ctx context.Context) (ItemResult, error)
}

// Deploy uploads every storage, git and dashboard item of m to dest.
// Results are returned in manifest order for the items that completed,
// together with the first error.
func (d *Deployer) Deploy(ctx context.Context, m *manifest.Manifest, dest Destination, scope resolver.Lookuper) ([]ItemResult, error) {
	if dest.Bucket == "" {
		return nil, errors.New(errors.CodeInvalidInput, "content destination bucket is required")
	}

	jobs := d.jobs(m, dest, scope)
	results := make([]*ItemResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			res, err := j.run(gctx)
			if err != nil {
				return withItem(err, j.name, j.kind)
			}
			res.Name, res.Kind, res.Duration = j.name, j.kind, time.Since(start)
			results[i] = &res
			d.logger.InfoContext(gctx, "content item deployed",
				"item", j.name, "kind", j.kind, "objects", res.Objects, "location", res.Location)
			return nil
		})
	}
	err := g.Wait()

	out := make([]ItemResult, 0, len(jobs))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, err
}

func (d *Deployer) jobs(m *manifest.Manifest, dest Destination, scope resolver.Lookuper) []job {
	var jobs []job
	for _, it := range m.Content.Storage {
		jobs = append(jobs, job{name: it.Name, kind: KindStorage, run: func(ctx context.Context) (ItemResult, error) {
			return d.deployStorage(ctx, m, it, dest, scope)
		}})
	}
	for _, it := range m.Content.Git {
		jobs = append(jobs, job{name: it.Name, kind: KindGit, run: func(ctx context.Context) (ItemResult, error) {
			return d.deployGit(ctx, it, dest, scope)
		}})
	}
	for _, it := range m.Content.Dashboards {
		jobs = append(jobs, job{name: it.Name, kind: KindDashboard, run: func(ctx context.Context) (ItemResult, error) {
			return d.deployDashboard(ctx, m, it, dest, scope)
		}})
	}
	return jobs
}

func withItem(err error, name string, kind Kind) error {
	code := errors.CodeOf(err)
	if code == errors.CodeUnknown {
		code = errors.CodeExecutionFailed
	}
	return errors.WrapWithContext(err, code, "content item "+name+" failed", map[string]interface{}{
		"item": name,
		"kind": string(kind),
	})
}
