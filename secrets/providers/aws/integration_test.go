//go:build integration

package aws_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/internal/testutil"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/secrets"
	awsprovider "github.com/aws/CICD-for-SageMakerUnifiedStudio/secrets/providers/aws"
)

func TestMain(m *testing.M) {
	code := m.Run()
	_ = testutil.Terminate(context.Background())
	os.Exit(code)
}

func TestIntegrationProviderLifecycle(t *testing.T) {
	ctx := context.Background()
	p := awsprovider.NewFromConfig(testutil.LocalStack(ctx, t))
	require.NoError(t, p.HealthCheck(ctx))

	ref := secrets.SecretRef{Path: "smus-cicd/integration/token", Metadata: map[string]string{"stage": "dev"}}

	ok, err := p.Exists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Store(ctx, ref, []byte("first")))
	require.NoError(t, p.Store(ctx, ref, []byte("second")), "storing again adds a version")

	s, err := p.Resolve(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "second", string(s.Value))
	assert.NotEmpty(t, s.Version)

	require.NoError(t, p.Delete(ctx, ref))
	_, err = p.Resolve(ctx, secrets.SecretRef{Path: "smus-cicd/integration/missing"})
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
}
