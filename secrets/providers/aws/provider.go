// Package aws provides an AWS Secrets Manager provider.
//
// The provider is built from the caller's aws.Config so it shares the
// credentials, region and endpoint of the rest of a deployment session:
//
//	provider := aws.NewFromConfig(sess.Config())
//	manager.RegisterProvider("aws", provider)
//
// Versions select either a staging label (AWSCURRENT, AWSPREVIOUS,
// AWSPENDING) or a version ID.
package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/secrets"
)

// ProviderName is the name the provider reports and registers under by default.
const ProviderName = "aws"

// SecretsManagerAPI is the subset of the Secrets Manager client used by the provider.
type SecretsManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
	DescribeSecret(
		ctx context.Context,
		params *secretsmanager.DescribeSecretInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.DescribeSecretOutput, error)
	CreateSecret(
		ctx context.Context,
		params *secretsmanager.CreateSecretInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(
		ctx context.Context,
		params *secretsmanager.PutSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(
		ctx context.Context,
		params *secretsmanager.DeleteSecretInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.DeleteSecretOutput, error)
}

// Provider implements secrets.WriteableProvider on top of AWS Secrets Manager.
// It is safe for concurrent use.
type Provider struct {
	client         SecretsManagerAPI
	logger         *slog.Logger
	recoveryWindow int64
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger used for provider diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRecoveryWindow sets the number of days a deleted secret stays recoverable.
// Zero deletes immediately without recovery.
func WithRecoveryWindow(days int64) Option {
	return func(p *Provider) {
		p.recoveryWindow = days
	}
}

// New creates a provider over an existing client.
func New(client SecretsManagerAPI, opts ...Option) *Provider {
	p := &Provider{
		client:         client,
		logger:         slog.New(slog.DiscardHandler),
		recoveryWindow: 7,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a provider with a client built from cfg.
func NewFromConfig(cfg aws.Config, opts ...Option) *Provider {
	return New(secretsmanager.NewFromConfig(cfg), opts...)
}

// Name implements secrets.Provider.
func (p *Provider) Name() string {
	return ProviderName
}

// Close implements secrets.Provider. The SDK client needs no cleanup.
func (p *Provider) Close() error {
	return nil
}

// HealthCheck describes a secret that does not exist; a not-found answer
// proves the client can reach the service.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String("smus-cicd-health-check"),
	})
	if err == nil {
		return nil
	}
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return nil
	}
	return fmt.Errorf("health check failed: %w", err)
}

// Resolve implements secrets.Provider.
func (p *Provider) Resolve(ctx context.Context, ref secrets.SecretRef) (*secrets.Secret, error) {
	if ref.Path == "" {
		return nil, fmt.Errorf("secret reference path cannot be empty: %w", secrets.ErrInvalidRef)
	}

	input := &secretsmanager.GetSecretValueInput{SecretId: aws.String(ref.Path)}
	if ref.Version != "" {
		if isVersionStage(ref.Version) {
			input.VersionStage = aws.String(ref.Version)
		} else {
			input.VersionId = aws.String(ref.Version)
		}
	}

	p.logger.DebugContext(ctx, "retrieving secret", "secret_name", ref.Path)
	out, err := p.client.GetSecretValue(ctx, input)
	if err != nil {
		return nil, mapAWSError(ref, err)
	}

	var value []byte
	switch {
	case out.SecretString != nil:
		value = []byte(*out.SecretString)
	case out.SecretBinary != nil:
		value = append([]byte(nil), out.SecretBinary...)
	default:
		return nil, fmt.Errorf("secret %q has no value: %w", ref.Path, secrets.ErrProviderError)
	}

	secret := &secrets.Secret{Value: value, Version: aws.ToString(out.VersionId)}
	if out.CreatedDate != nil {
		secret.CreatedAt = *out.CreatedDate
	}
	return secret, nil
}

// Exists implements secrets.Provider. Secrets scheduled for deletion do not exist.
func (p *Provider) Exists(ctx context.Context, ref secrets.SecretRef) (bool, error) {
	if ref.Path == "" {
		return false, fmt.Errorf("secret reference path cannot be empty: %w", secrets.ErrInvalidRef)
	}

	out, err := p.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{SecretId: aws.String(ref.Path)})
	if err != nil {
		var rnf *types.ResourceNotFoundException
		if errors.As(err, &rnf) {
			return false, nil
		}
		var ire *types.InvalidRequestException
		if errors.As(err, &ire) && strings.Contains(aws.ToString(ire.Message), "marked deleted") {
			return false, nil
		}
		return false, mapAWSError(ref, err)
	}
	return out.DeletedDate == nil, nil
}

// Store implements secrets.WriteableProvider. New secrets are created with
// the reference metadata as tags; existing secrets get a new version.
func (p *Provider) Store(ctx context.Context, ref secrets.SecretRef, value []byte) error {
	exists, err := p.Exists(ctx, ref)
	if err != nil {
		return err
	}

	var str *string
	var bin []byte
	if isBinary(value) {
		bin = value
	} else {
		str = aws.String(string(value))
	}

	if exists {
		p.logger.InfoContext(ctx, "updating secret", "secret_name", ref.Path)
		_, err = p.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(ref.Path),
			SecretString: str,
			SecretBinary: bin,
		})
		if err != nil {
			return mapAWSError(ref, err)
		}
		return nil
	}

	input := &secretsmanager.CreateSecretInput{
		Name:         aws.String(ref.Path),
		SecretString: str,
		SecretBinary: bin,
	}
	for k, v := range ref.Metadata {
		input.Tags = append(input.Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	p.logger.InfoContext(ctx, "creating secret", "secret_name", ref.Path)
	if _, err := p.client.CreateSecret(ctx, input); err != nil {
		return mapAWSError(ref, err)
	}
	return nil
}

// Delete implements secrets.WriteableProvider.
func (p *Provider) Delete(ctx context.Context, ref secrets.SecretRef) error {
	exists, err := p.Exists(ctx, ref)
	if err != nil || !exists {
		return err
	}

	input := &secretsmanager.DeleteSecretInput{SecretId: aws.String(ref.Path)}
	if p.recoveryWindow > 0 {
		input.RecoveryWindowInDays = aws.Int64(p.recoveryWindow)
	} else {
		input.ForceDeleteWithoutRecovery = aws.Bool(true)
	}

	if _, err := p.client.DeleteSecret(ctx, input); err != nil {
		return mapAWSError(ref, err)
	}
	return nil
}

// mapAWSError converts SDK errors into the secrets package sentinels.
func mapAWSError(ref secrets.SecretRef, err error) error {
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return fmt.Errorf("secret %q not found: %w", ref.Path, secrets.ErrSecretNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "AccessDenied":
			return fmt.Errorf("access denied for secret %q: %w", ref.Path, secrets.ErrAccessDenied)
		case "DecryptionFailure":
			return fmt.Errorf("cannot decrypt secret %q: %w", ref.Path, secrets.ErrAccessDenied)
		}
	}

	return secrets.WrapProviderError(ProviderName, ref, err, "secrets manager request failed")
}

func isVersionStage(v string) bool {
	return v == "AWSCURRENT" || v == "AWSPREVIOUS" || v == "AWSPENDING"
}

// isBinary reports whether data holds control bytes other than common whitespace.
func isBinary(data []byte) bool {
	for _, b := range data {
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			return true
		}
	}
	return false
}
