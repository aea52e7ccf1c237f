package memory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/secrets"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/secrets/providers/memory"
)

var _ secrets.WriteableProvider = (*memory.Provider)(nil)

func TestProviderStoreAndResolve(t *testing.T) {
	ctx := context.Background()
	p := memory.New()

	require.NoError(t, p.Store(ctx, secrets.SecretRef{Path: "db/password"}, []byte("v1")))
	require.NoError(t, p.Store(ctx, secrets.SecretRef{Path: "db/password", Version: "old"}, []byte("v0")))

	s, err := p.Resolve(ctx, secrets.SecretRef{Path: "db/password"})
	require.NoError(t, err)
	assert.Equal(t, "v1", s.String())
	assert.Equal(t, "latest", s.Version)

	s, err = p.Resolve(ctx, secrets.SecretRef{Path: "db/password", Version: "old"})
	require.NoError(t, err)
	assert.Equal(t, "v0", s.String())

	require.NoError(t, p.Store(ctx, secrets.SecretRef{Path: "db/password"}, []byte("v2")))
	s, err = p.Resolve(ctx, secrets.SecretRef{Path: "db/password"})
	require.NoError(t, err)
	assert.Equal(t, "v2", s.String())
}

func TestProviderResolveReturnsCopies(t *testing.T) {
	ctx := context.Background()
	p := memory.NewWithValues(map[string]string{"token": "abc"})

	s, err := p.Resolve(ctx, secrets.SecretRef{Path: "token"})
	require.NoError(t, err)
	s.Clear()

	again, err := p.Resolve(ctx, secrets.SecretRef{Path: "token"})
	require.NoError(t, err)
	assert.Equal(t, "abc", again.String())
}

func TestProviderNotFound(t *testing.T) {
	ctx := context.Background()
	p := memory.NewWithValues(map[string]string{"token": "abc"})

	_, err := p.Resolve(ctx, secrets.SecretRef{Path: "missing"})
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)

	_, err = p.Resolve(ctx, secrets.SecretRef{Path: "token", Version: "v9"})
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)

	ok, err := p.Exists(ctx, secrets.SecretRef{Path: "missing"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProviderDelete(t *testing.T) {
	ctx := context.Background()
	p := memory.NewWithValues(map[string]string{"token": "abc"})

	require.NoError(t, p.Delete(ctx, secrets.SecretRef{Path: "token"}))
	ok, err := p.Exists(ctx, secrets.SecretRef{Path: "token"})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, p.Delete(ctx, secrets.SecretRef{Path: "token"}), "deleting twice is not an error")
}

func TestProviderRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := memory.New()
	_, err := p.Resolve(ctx, secrets.SecretRef{Path: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, p.Store(ctx, secrets.SecretRef{Path: "x"}, nil), context.Canceled)
}

func TestProviderStoreRejectsEmptyPath(t *testing.T) {
	err := memory.New().Store(context.Background(), secrets.SecretRef{}, []byte("x"))
	assert.ErrorIs(t, err, secrets.ErrInvalidRef)
}

func TestProviderConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	p := memory.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = p.Store(ctx, secrets.SecretRef{Path: "shared"}, []byte("value"))
		}()
		go func() {
			defer wg.Done()
			_, _ = p.Resolve(ctx, secrets.SecretRef{Path: "shared"})
		}()
	}
	wg.Wait()

	s, err := p.Resolve(ctx, secrets.SecretRef{Path: "shared"})
	require.NoError(t, err)
	assert.Equal(t, "value", s.String())
	assert.NoError(t, p.Close())
}
