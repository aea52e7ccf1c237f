// Package memory provides an in-memory secret provider for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/secrets"
)

// latestVersion is the version used when a reference does not name one.
const latestVersion = "latest"

// Provider stores secrets in memory. It is safe for concurrent use.
type Provider struct {
	mu    sync.RWMutex
	store map[string]map[string]*secrets.Secret
}

// New creates an empty provider.
func New() *Provider {
	return &Provider{store: make(map[string]map[string]*secrets.Secret)}
}

// NewWithValues creates a provider seeded with the latest version of each path.
func NewWithValues(values map[string]string) *Provider {
	p := New()
	for path, v := range values {
		p.put(secrets.SecretRef{Path: path}, []byte(v))
	}
	return p
}

// Name implements secrets.Provider.
func (p *Provider) Name() string {
	return "memory"
}

// HealthCheck implements secrets.Provider. The memory provider is always healthy.
func (p *Provider) HealthCheck(context.Context) error {
	return nil
}

// Close zeroes and drops every stored secret.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, versions := range p.store {
		for _, s := range versions {
			s.Clear()
		}
		delete(p.store, path)
	}
	return nil
}

// Resolve implements secrets.Provider.
func (p *Provider) Resolve(ctx context.Context, ref secrets.SecretRef) (*secrets.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve operation cancelled: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.lookup(ref)
	if !ok {
		return nil, fmt.Errorf("%s@%s: %w", ref.Path, versionOf(ref), secrets.ErrSecretNotFound)
	}
	return &secrets.Secret{
		Value:     append([]byte(nil), s.Value...),
		Version:   s.Version,
		CreatedAt: s.CreatedAt,
	}, nil
}

// Exists implements secrets.Provider.
func (p *Provider) Exists(ctx context.Context, ref secrets.SecretRef) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("exists operation cancelled: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.lookup(ref)
	return ok, nil
}

// Store implements secrets.WriteableProvider. Writing without a version
// replaces the latest value.
func (p *Provider) Store(ctx context.Context, ref secrets.SecretRef, value []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store operation cancelled: %w", err)
	}
	if ref.Path == "" {
		return fmt.Errorf("secret path cannot be empty: %w", secrets.ErrInvalidRef)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.put(ref, value)
	return nil
}

// Delete implements secrets.WriteableProvider.
func (p *Provider) Delete(ctx context.Context, ref secrets.SecretRef) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete operation cancelled: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	versions, ok := p.store[ref.Path]
	if !ok {
		return nil
	}
	if s, ok := versions[versionOf(ref)]; ok {
		s.Clear()
		delete(versions, versionOf(ref))
	}
	if len(versions) == 0 {
		delete(p.store, ref.Path)
	}
	return nil
}

func (p *Provider) lookup(ref secrets.SecretRef) (*secrets.Secret, bool) {
	versions, ok := p.store[ref.Path]
	if !ok {
		return nil, false
	}
	s, ok := versions[versionOf(ref)]
	return s, ok
}

func (p *Provider) put(ref secrets.SecretRef, value []byte) {
	if p.store[ref.Path] == nil {
		p.store[ref.Path] = make(map[string]*secrets.Secret)
	}
	version := versionOf(ref)
	if old, ok := p.store[ref.Path][version]; ok {
		old.Clear()
	}
	p.store[ref.Path][version] = &secrets.Secret{
		Value:     append([]byte(nil), value...),
		Version:   version,
		CreatedAt: time.Now(),
	}
}

func versionOf(ref secrets.SecretRef) string {
	if ref.Version == "" {
		return latestVersion
	}
	return ref.Version
}
