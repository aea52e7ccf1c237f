package pipeline

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// Identity resolves the account the deployment runs as.
type Identity interface {
	AccountID(ctx context.Context) (string, error)
}

// STSAPI is the subset of the STS client used by STSIdentity.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// STSIdentity looks the account up with GetCallerIdentity.
type STSIdentity struct {
	client STSAPI
}

// NewSTSIdentity creates an Identity backed by STS.
func NewSTSIdentity(client STSAPI) *STSIdentity {
	return &STSIdentity{client: client}
}

// AccountID implements Identity.
func (s *STSIdentity) AccountID(ctx context.Context) (string, error) {
	out, err := s.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", errors.Wrap(err, errors.CodeUnavailable, "failed to resolve caller identity")
	}
	return aws.ToString(out.Account), nil
}

// StaticIdentity returns a fixed account ID.
type StaticIdentity string

// AccountID implements Identity.
func (s StaticIdentity) AccountID(context.Context) (string, error) {
	return string(s), nil
}
