package secrets

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config configures a Manager.
type Config struct {
	// DefaultProvider serves paths that do not name a provider.
	DefaultProvider string

	// AutoClear marks every resolved Secret as AutoClear.
	AutoClear bool

	// AuditLogger, when set, receives an entry for every resolve and store.
	AuditLogger AuditLogger
}

// Manager routes secret operations to named providers.
// It is safe for concurrent use.
type Manager struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	defaultProvider string
	autoClear       bool
	audit           AuditLogger
}

// NewManager creates a Manager. A nil config is treated as the zero Config.
func NewManager(config *Config) *Manager {
	if config == nil {
		config = &Config{}
	}
	return &Manager{
		providers:       make(map[string]Provider),
		defaultProvider: config.DefaultProvider,
		autoClear:       config.AutoClear,
		audit:           config.AuditLogger,
	}
}

// RegisterProvider adds a provider under name. Registering the same name
// twice is an error.
func (m *Manager) RegisterProvider(name string, provider Provider) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("provider cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.providers[name]; exists {
		return fmt.Errorf("provider with name %q already registered", name)
	}
	m.providers[name] = provider
	if m.defaultProvider == "" {
		m.defaultProvider = name
	}
	return nil
}

// Providers returns the registered provider names, sorted.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) provider(name string) (Provider, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if name == "" {
		name = m.defaultProvider
	}
	if name == "" {
		return nil, "", fmt.Errorf("no default provider configured")
	}
	p, ok := m.providers[name]
	if !ok {
		return nil, name, fmt.Errorf("provider %q not found", name)
	}
	return p, name, nil
}

// Resolve resolves ref with the default provider.
func (m *Manager) Resolve(ctx context.Context, ref SecretRef) (*Secret, error) {
	return m.ResolveFrom(ctx, "", ref)
}

// ResolveFrom resolves ref with the named provider. An empty name selects
// the default provider.
func (m *Manager) ResolveFrom(ctx context.Context, providerName string, ref SecretRef) (*Secret, error) {
	p, name, err := m.provider(providerName)
	if err != nil {
		m.logAccess(ctx, "resolve", ref, err)
		return nil, err
	}

	secret, err := p.Resolve(ctx, ref)
	m.logAccess(ctx, "resolve", ref, err)
	if err != nil {
		return nil, WrapProviderError(name, ref, err, "failed to resolve secret")
	}
	secret.AutoClear = m.autoClear
	return secret, nil
}

// StoreIn writes value to ref through the named provider, which must be writeable.
func (m *Manager) StoreIn(ctx context.Context, providerName string, ref SecretRef, value []byte) error {
	p, name, err := m.provider(providerName)
	if err != nil {
		m.logAccess(ctx, "store", ref, err)
		return err
	}

	w, ok := p.(WriteableProvider)
	if !ok {
		err := fmt.Errorf("provider %q: %w", name, ErrReadOnly)
		m.logAccess(ctx, "store", ref, err)
		return err
	}

	err = w.Store(ctx, ref, value)
	m.logAccess(ctx, "store", ref, err)
	if err != nil {
		return WrapProviderError(name, ref, err, "failed to store secret")
	}
	return nil
}

// Store writes value to a [provider://]path[@version] location.
func (m *Manager) Store(ctx context.Context, path string, value []byte) error {
	providerName, ref, err := ParsePath(path)
	if err != nil {
		return err
	}
	return m.StoreIn(ctx, providerName, ref, value)
}

// Fetch resolves a [provider://]path[@version] string and returns the value
// as a string. The resolved copy is zeroed before returning.
func (m *Manager) Fetch(ctx context.Context, path string) (string, error) {
	providerName, ref, err := ParsePath(path)
	if err != nil {
		return "", err
	}
	secret, err := m.ResolveFrom(ctx, providerName, ref)
	if err != nil {
		return "", err
	}
	value := string(secret.Value)
	secret.Clear()
	return value, nil
}

// HealthCheck checks every registered provider.
func (m *Manager) HealthCheck(ctx context.Context) error {
	for _, name := range m.Providers() {
		p, _, err := m.provider(name)
		if err != nil {
			return err
		}
		if err := p.HealthCheck(ctx); err != nil {
			return fmt.Errorf("provider %q unhealthy: %w", name, err)
		}
	}
	return nil
}

// Close closes every provider and empties the registry.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, p := range m.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close provider %q: %w", name, err))
		}
	}
	m.providers = make(map[string]Provider)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("errors during shutdown: %v", errs)
}

func (m *Manager) logAccess(ctx context.Context, action string, ref SecretRef, err error) {
	if m.audit != nil {
		m.audit.LogAccess(ctx, action, ref, err == nil, err)
	}
}
