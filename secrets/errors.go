package secrets

import (
	"errors"
	"fmt"
)

var (
	// ErrSecretNotFound indicates the secret does not exist or has no such version.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrProviderError indicates a provider failure that fits no other category.
	ErrProviderError = errors.New("provider error")

	// ErrInvalidRef indicates a malformed secret reference.
	ErrInvalidRef = errors.New("invalid secret reference")

	// ErrAccessDenied indicates the caller may not read or write the secret.
	ErrAccessDenied = errors.New("access denied")

	// ErrReadOnly indicates a write was attempted against a read-only provider.
	ErrReadOnly = errors.New("provider is read-only")
)

// ProviderError wraps a provider failure with the provider name and the reference.
type ProviderError struct {
	Provider string
	Ref      SecretRef
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %q error for secret %q: %v", e.Provider, e.Ref.Path, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a ProviderError.
func NewProviderError(provider string, ref SecretRef, err error) *ProviderError {
	return &ProviderError{Provider: provider, Ref: ref, Err: err}
}

// IsProviderError reports whether err contains a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// WrapProviderError wraps err in a ProviderError prefixed by msg. It returns
// nil when err is nil.
func WrapProviderError(provider string, ref SecretRef, err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, NewProviderError(provider, ref, err))
}

// ValidationError describes an invalid reference. Value never holds secret data.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %q: %s (value: %q)", e.Field, e.Message, e.Value)
}

// Unwrap makes every ValidationError match ErrInvalidRef.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRef
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}
