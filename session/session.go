// Package session owns the AWS configuration of one process run. A Session
// is created by the caller and handed to every collaborator that needs a
// service client, so no component reaches for a hidden global client.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// DefaultRegion is used when neither options nor the credential chain name one.
const DefaultRegion = "us-east-1"

// Options configures a Session.
type Options struct {
	Region   string
	Profile  string
	Endpoint string
	// MaxRetries overrides the SDK retryer's attempt count when positive.
	MaxRetries int
	// Timeout bounds each HTTP request when positive.
	Timeout   time.Duration
	AWSConfig *aws.Config
	Logger    *slog.Logger
}

// Option configures a Session.
type Option func(*Options)

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(o *Options) {
		o.Region = region
	}
}

// WithProfile selects a shared config profile.
func WithProfile(profile string) Option {
	return func(o *Options) {
		o.Profile = profile
	}
}

// WithEndpoint points every client at a custom endpoint, such as LocalStack.
// S3 switches to path-style addressing.
func WithEndpoint(endpoint string) Option {
	return func(o *Options) {
		o.Endpoint = endpoint
	}
}

// WithMaxRetries sets the maximum number of attempts per request.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithAWSConfig uses cfg instead of loading the default configuration.
func WithAWSConfig(cfg aws.Config) Option {
	return func(o *Options) {
		o.AWSConfig = &cfg
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Session holds the resolved AWS configuration.
type Session struct {
	cfg      aws.Config
	endpoint string
}

// New loads the AWS configuration.
func New(ctx context.Context, opts ...Option) (*Session, error) {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var cfg aws.Config
	if o.AWSConfig != nil {
		cfg = o.AWSConfig.Copy()
	} else {
		var loadOpts []func(*config.LoadOptions) error
		if o.Region != "" {
			loadOpts = append(loadOpts, config.WithRegion(o.Region))
		}
		if o.Profile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(o.Profile))
		}
		loaded, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to load AWS configuration")
		}
		cfg = loaded
	}

	if o.Region != "" {
		cfg.Region = o.Region
	} else if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if o.MaxRetries > 0 {
		cfg.RetryMaxAttempts = o.MaxRetries
	}
	if o.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(o.Endpoint)
	}

	logger.DebugContext(ctx, "aws session ready",
		"region", cfg.Region, "profile", o.Profile, "endpoint", o.Endpoint)
	return &Session{cfg: cfg, endpoint: o.Endpoint}, nil
}

// Config returns a copy of the AWS configuration.
func (s *Session) Config() aws.Config {
	return s.cfg.Copy()
}

// Region returns the configured region.
func (s *Session) Region() string {
	return s.cfg.Region
}

// Endpoint returns the custom endpoint, or "".
func (s *Session) Endpoint() string {
	return s.endpoint
}

// S3 returns a new S3 client.
func (s *Session) S3() *s3.Client {
	return s3.NewFromConfig(s.cfg, func(o *s3.Options) {
		if s.endpoint != "" {
			o.UsePathStyle = true
		}
	})
}

// SecretsManager returns a new Secrets Manager client.
func (s *Session) SecretsManager() *secretsmanager.Client {
	return secretsmanager.NewFromConfig(s.cfg)
}

// Glue returns a new Glue client.
func (s *Session) Glue() *glue.Client {
	return glue.NewFromConfig(s.cfg)
}

// CloudWatchLogs returns a new CloudWatch Logs client.
func (s *Session) CloudWatchLogs() *cloudwatchlogs.Client {
	return cloudwatchlogs.NewFromConfig(s.cfg)
}

// EventBridge returns a new EventBridge client.
func (s *Session) EventBridge() *eventbridge.Client {
	return eventbridge.NewFromConfig(s.cfg)
}

// STS returns a new STS client.
func (s *Session) STS() *sts.Client {
	return sts.NewFromConfig(s.cfg)
}
