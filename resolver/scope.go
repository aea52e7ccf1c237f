// Package resolver expands template references in manifest values against a
// layered variable scope.
//
// Supported forms:
//
//	${VAR}            variable lookup, most specific layer first
//	${VAR:default}    variable lookup with a fallback
//	${SECRET:path}    secret fetched through an injected SecretFetcher
//	${SECRET:p#key}   single field of a JSON secret
//	$${               a literal "${"
//
// References may be nested (${SECRET:${ENV}/db}); a looked-up value that
// itself contains references is expanded again, up to a fixed depth.
package resolver

import (
	"os"
	"sort"
	"strings"
	"sync"
)

// Layer identifies one level of a Scope. Higher layers shadow lower ones.
type Layer int

const (
	LayerEnvironment Layer = iota
	LayerManifest
	LayerStage
	LayerInjected
	numLayers
)

func (l Layer) String() string {
	switch l {
	case LayerEnvironment:
		return "environment"
	case LayerManifest:
		return "manifest"
	case LayerStage:
		return "stage"
	case LayerInjected:
		return "injected"
	default:
		return "unknown"
	}
}

// Lookuper is the read side of a scope.
type Lookuper interface {
	Lookup(key string) (string, bool)
}

// Scope is a layered key/value store used to resolve templates for one
// stage run. Values are only ever added to the injected layer.
type Scope struct {
	mu     sync.RWMutex
	layers [numLayers]map[string]string
}

// NewScope builds a scope from the environment, manifest and stage layers.
// The maps are copied.
func NewScope(env, manifestVars, stageVars map[string]string) *Scope {
	s := &Scope{}
	s.layers[LayerEnvironment] = copyMap(env)
	s.layers[LayerManifest] = copyMap(manifestVars)
	s.layers[LayerStage] = copyMap(stageVars)
	s.layers[LayerInjected] = map[string]string{}
	return s
}

// Environ converts os.Environ into a map suitable for the environment layer.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// Lookup returns the value of key from the most specific layer defining it.
func (s *Scope) Lookup(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for l := LayerInjected; l >= LayerEnvironment; l-- {
		if v, ok := s.layers[l][key]; ok {
			return v, true
		}
	}
	return "", false
}

// Set injects a value. It shadows any value of the same key in lower layers.
func (s *Scope) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers[LayerInjected][key] = value
}

// SetAll injects every entry of values under prefix.
func (s *Scope) SetAll(prefix string, values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.layers[LayerInjected][prefix+k] = v
	}
}

// Injected returns the keys added during the run, sorted.
func (s *Scope) Injected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.layers[LayerInjected]))
	for k := range s.layers[LayerInjected] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns an immutable view of the scope as it is now.
func (s *Scope) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	merged := make(map[string]string)
	for l := LayerEnvironment; l < numLayers; l++ {
		for k, v := range s.layers[l] {
			merged[k] = v
		}
	}
	return View{values: merged}
}

// View is a read-only, point-in-time copy of a Scope.
type View struct {
	values map[string]string
}

// Lookup implements Lookuper.
func (v View) Lookup(key string) (string, bool) {
	val, ok := v.values[key]
	return val, ok
}

// WithPrefix returns every entry whose key starts with prefix, with the
// prefix removed.
func (v View) WithPrefix(prefix string) map[string]string {
	out := make(map[string]string)
	for k, val := range v.values {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			out[rest] = val
		}
	}
	return out
}

// MapLookuper adapts a plain map to Lookuper.
type MapLookuper map[string]string

// Lookup implements Lookuper.
func (m MapLookuper) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
