// Package secrets provides the secret-fetch capability used when templates
// contain ${SECRET:path} references, and the write path used by the
// secrets.put bootstrap action.
//
// A Manager holds named providers. Paths may select a provider and a version:
//
//	db/password              default provider, latest version
//	aws://db/password        the "aws" provider
//	db/password@AWSPREVIOUS  a specific version or stage
//
// Resolved values are handed out as copies; Secret.Clear zeroes the backing
// memory when the caller is done.
package secrets

import (
	"strings"
	"time"
)

// Secret is a resolved secret value.
type Secret struct {
	// Value contains the secret data. It must never be logged.
	Value []byte
	// Version identifies the version that was resolved, if the provider reports one.
	Version string
	// CreatedAt records when the version was created.
	CreatedAt time.Time
	// AutoClear zeroes Value after the first String or Bytes call.
	AutoClear bool
}

// SecretRef locates a secret without carrying its value.
type SecretRef struct {
	Path     string
	Version  string
	Metadata map[string]string
}

// String returns the value as a string, clearing it afterwards when AutoClear is set.
func (s *Secret) String() string {
	if s.Value == nil {
		return ""
	}
	value := string(s.Value)
	if s.AutoClear {
		s.Clear()
	}
	return value
}

// Bytes returns a copy of the value, clearing it afterwards when AutoClear is set.
func (s *Secret) Bytes() []byte {
	if s.Value == nil {
		return nil
	}
	value := append([]byte(nil), s.Value...)
	if s.AutoClear {
		s.Clear()
	}
	return value
}

// Clear zeroes the value in memory.
func (s *Secret) Clear() {
	for i := range s.Value {
		s.Value[i] = 0
	}
	s.Value = nil
}

// ParsePath splits a secret path of the form [provider://]path[@version].
// The provider is empty when the path does not name one.
func ParsePath(raw string) (provider string, ref SecretRef, err error) {
	rest := strings.TrimSpace(raw)
	if p, after, ok := strings.Cut(rest, "://"); ok {
		provider, rest = p, after
		if provider == "" {
			return "", SecretRef{}, NewValidationError("path", raw, "provider name is empty")
		}
	}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		ref.Version = rest[i+1:]
		rest = rest[:i]
		if ref.Version == "" {
			return "", SecretRef{}, NewValidationError("path", raw, "version is empty")
		}
	}
	if rest == "" {
		return "", SecretRef{}, NewValidationError("path", raw, "secret path is empty")
	}
	ref.Path = rest
	return provider, ref, nil
}
