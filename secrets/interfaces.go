package secrets

import "context"

// Provider is a secret backend.
type Provider interface {
	// Name returns the provider identifier, e.g. "aws" or "memory".
	Name() string

	// Resolve retrieves a secret. A missing secret yields an error wrapping ErrSecretNotFound.
	Resolve(ctx context.Context, ref SecretRef) (*Secret, error)

	// Exists reports whether the secret exists without reading its value.
	Exists(ctx context.Context, ref SecretRef) (bool, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases provider resources.
	Close() error
}

// WriteableProvider is a Provider that can create and remove secrets.
type WriteableProvider interface {
	Provider

	// Store creates the secret or writes a new value for it.
	Store(ctx context.Context, ref SecretRef, value []byte) error

	// Delete removes the secret. Deleting a missing secret is not an error.
	Delete(ctx context.Context, ref SecretRef) error
}

// AuditLogger records secret access. Implementations must not log values.
type AuditLogger interface {
	LogAccess(ctx context.Context, action string, ref SecretRef, success bool, err error)
}
