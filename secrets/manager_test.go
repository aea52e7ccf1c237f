package secrets_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/secrets"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/secrets/providers/memory"
)

// readOnlyProvider wraps a provider and hides its write methods.
type readOnlyProvider struct {
	secrets.Provider
}

func newManager(t *testing.T, audit secrets.AuditLogger) *secrets.Manager {
	t.Helper()
	m := secrets.NewManager(&secrets.Config{DefaultProvider: "memory", AuditLogger: audit})
	require.NoError(t, m.RegisterProvider("memory", memory.NewWithValues(map[string]string{
		"db/password": "hunter2",
	})))
	require.NoError(t, m.RegisterProvider("vault", readOnlyProvider{memory.NewWithValues(map[string]string{
		"db/password": "from-vault",
	})}))
	return m
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		raw      string
		provider string
		ref      secrets.SecretRef
		wantErr  bool
	}{
		{raw: "db/password", ref: secrets.SecretRef{Path: "db/password"}},
		{raw: "aws://db/password", provider: "aws", ref: secrets.SecretRef{Path: "db/password"}},
		{raw: "db/password@AWSPREVIOUS", ref: secrets.SecretRef{Path: "db/password", Version: "AWSPREVIOUS"}},
		{raw: "memory://a@v1", provider: "memory", ref: secrets.SecretRef{Path: "a", Version: "v1"}},
		{raw: "", wantErr: true},
		{raw: "://a", wantErr: true},
		{raw: "a@", wantErr: true},
		{raw: "aws://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			provider, ref, err := secrets.ParsePath(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, secrets.ErrInvalidRef)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, provider)
			assert.Equal(t, tt.ref, ref)
		})
	}
}

func TestManagerFetch(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)

	v, err := m.Fetch(ctx, "db/password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	v, err = m.Fetch(ctx, "vault://db/password")
	require.NoError(t, err)
	assert.Equal(t, "from-vault", v)

	_, err = m.Fetch(ctx, "missing")
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
	assert.True(t, secrets.IsProviderError(err))

	_, err = m.Fetch(ctx, "nope://db/password")
	assert.ErrorContains(t, err, `provider "nope" not found`)
}

func TestManagerRegisterProvider(t *testing.T) {
	m := secrets.NewManager(nil)

	require.Error(t, m.RegisterProvider("", memory.New()))
	require.Error(t, m.RegisterProvider("x", nil))
	require.NoError(t, m.RegisterProvider("first", memory.New()))
	assert.ErrorContains(t, m.RegisterProvider("first", memory.New()), "already registered")
	require.NoError(t, m.RegisterProvider("second", memory.New()))

	assert.Equal(t, []string{"first", "second"}, m.Providers())

	require.NoError(t, m.Store(context.Background(), "k", []byte("v")))
	v, err := m.Fetch(context.Background(), "first://k")
	require.NoError(t, err)
	assert.Equal(t, "v", v, "the first registered provider becomes the default")
}

func TestManagerStore(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)

	require.NoError(t, m.Store(ctx, "app/token", []byte("t0k3n")))
	v, err := m.Fetch(ctx, "app/token")
	require.NoError(t, err)
	assert.Equal(t, "t0k3n", v)

	err = m.Store(ctx, "vault://app/token", []byte("x"))
	assert.ErrorIs(t, err, secrets.ErrReadOnly)
}

func TestManagerAutoClear(t *testing.T) {
	m := secrets.NewManager(&secrets.Config{AutoClear: true})
	require.NoError(t, m.RegisterProvider("memory", memory.NewWithValues(map[string]string{"k": "v"})))

	s, err := m.Resolve(context.Background(), secrets.SecretRef{Path: "k"})
	require.NoError(t, err)
	assert.Equal(t, "v", s.String())
	assert.Nil(t, s.Value)
	assert.Equal(t, "", s.String())
}

func TestManagerAudit(t *testing.T) {
	ctx := context.Background()
	audit := &secrets.RecordingAuditLogger{}
	m := newManager(t, audit)

	_, _ = m.Fetch(ctx, "db/password")
	_, _ = m.Fetch(ctx, "missing")
	_ = m.Store(ctx, "new", []byte("x"))

	entries := audit.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "resolve", entries[0].Action)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "db/password", entries[0].Path)
	assert.False(t, entries[1].Success)
	assert.NotEmpty(t, entries[1].Error)
	assert.Equal(t, "store", entries[2].Action)

	for _, e := range entries {
		assert.NotContains(t, e.Error, "hunter2")
	}
}

func TestManagerHealthCheckAndClose(t *testing.T) {
	m := newManager(t, nil)
	assert.NoError(t, m.HealthCheck(context.Background()))
	assert.NoError(t, m.Close())
	assert.Empty(t, m.Providers())

	_, err := m.Fetch(context.Background(), "db/password")
	assert.Error(t, err)
}

func TestProviderErrorWrapping(t *testing.T) {
	assert.NoError(t, secrets.WrapProviderError("aws", secrets.SecretRef{}, nil, "msg"))

	cause := errors.New("throttled")
	err := secrets.WrapProviderError("aws", secrets.SecretRef{Path: "p"}, cause, "failed")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, `failed: provider "aws" error for secret "p": throttled`, err.Error())
}

func TestSecretClear(t *testing.T) {
	s := &secrets.Secret{Value: []byte("abc")}
	backing := s.Value
	b := s.Bytes()
	s.Clear()

	assert.Equal(t, []byte("abc"), b)
	assert.Nil(t, s.Value)
	assert.Equal(t, []byte{0, 0, 0}, backing)
}
