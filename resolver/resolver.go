package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// DefaultMaxDepth bounds how many times a looked-up value is re-expanded.
const DefaultMaxDepth = 5

const secretKeyword = "SECRET"

// SecretFetcher retrieves secret values by path.
type SecretFetcher interface {
	Fetch(ctx context.Context, path string) (string, error)
}

// SecretFetcherFunc adapts a function to SecretFetcher.
type SecretFetcherFunc func(ctx context.Context, path string) (string, error)

// Fetch implements SecretFetcher.
func (f SecretFetcherFunc) Fetch(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// Resolver expands templates. It holds no per-run state and is safe for
// concurrent use.
type Resolver struct {
	secrets  SecretFetcher
	maxDepth int
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSecretFetcher sets the capability used for ${SECRET:...} references.
// Without one, every secret reference fails with SECRET_UNAVAILABLE.
func WithSecretFetcher(f SecretFetcher) Option {
	return func(r *Resolver) {
		r.secrets = f
	}
}

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// WithLogger sets the logger. Values are never logged.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		maxDepth: DefaultMaxDepth,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve expands every reference in template. Strings without "${" are
// returned unchanged. The scope is never modified.
func (r *Resolver) Resolve(ctx context.Context, template string, scope Lookuper) (string, error) {
	return r.expand(ctx, template, scope, 0)
}

// HasReferences reports whether s contains a template expression.
func HasReferences(s string) bool {
	return strings.Contains(s, "${")
}

func (r *Resolver) expand(ctx context.Context, s string, scope Lookuper, depth int) (string, error) {
	if !HasReferences(s) {
		return s, nil
	}
	if depth >= r.maxDepth {
		return "", errors.Newf(errors.CodeCyclicOrTooDeep,
			"expansion exceeded depth %d at %q", r.maxDepth, truncate(s))
	}

	var b strings.Builder
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "$${") {
			b.WriteString("${")
			i += 3
			continue
		}
		if !strings.HasPrefix(s[i:], "${") {
			b.WriteByte(s[i])
			i++
			continue
		}

		end := closingBrace(s, i+2)
		if end < 0 {
			return "", errors.Newf(errors.CodeMalformedTemplate, "unterminated reference in %q", truncate(s))
		}
		val, err := r.evaluate(ctx, s[i+2:end], scope, depth)
		if err != nil {
			return "", err
		}
		b.WriteString(val)
		i = end + 1
	}
	return b.String(), nil
}

// evaluate resolves the body of one ${...} expression.
func (r *Resolver) evaluate(ctx context.Context, expr string, scope Lookuper, depth int) (string, error) {
	namePart, defPart, hasDefault := splitDefault(expr)

	name, err := r.expand(ctx, namePart, scope, depth+1)
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.Newf(errors.CodeMalformedTemplate, "empty reference ${%s}", expr)
	}

	if name == secretKeyword {
		if !hasDefault {
			return "", errors.New(errors.CodeMalformedTemplate, "secret reference requires a path: ${SECRET:path}")
		}
		path, err := r.expand(ctx, defPart, scope, depth+1)
		if err != nil {
			return "", err
		}
		return r.fetchSecret(ctx, path)
	}

	if val, ok := scope.Lookup(name); ok {
		return r.expand(ctx, val, scope, depth+1)
	}
	if hasDefault {
		return r.expand(ctx, defPart, scope, depth+1)
	}
	return "", errors.New(errors.CodeUndefinedVariable, "undefined variable").WithContext("variable", name)
}

func (r *Resolver) fetchSecret(ctx context.Context, path string) (string, error) {
	path, field, hasField := strings.Cut(path, "#")
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New(errors.CodeMalformedTemplate, "secret reference has an empty path")
	}
	if r.secrets == nil {
		return "", errors.New(errors.CodeSecretUnavailable, "no secret store configured").
			WithContext("secret", path)
	}

	r.logger.DebugContext(ctx, "fetching secret", "secret_path", path)
	val, err := r.secrets.Fetch(ctx, path)
	if err != nil {
		return "", errors.WrapWithContext(err, errors.CodeSecretUnavailable, "secret fetch failed",
			map[string]interface{}{"secret": path})
	}
	if !hasField {
		return val, nil
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(val), &doc); err != nil {
		return "", errors.WrapWithContext(err, errors.CodeSecretUnavailable, "secret is not a JSON object",
			map[string]interface{}{"secret": path})
	}
	v, ok := doc[field]
	if !ok {
		return "", errors.New(errors.CodeSecretUnavailable, "secret has no such field").
			WithContext("secret", path).
			WithContext("field", field)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// ResolveValue resolves every string leaf of a structured value made of
// maps and slices. Non-string scalars are returned as they are. Map keys
// are visited in sorted order; the first failing leaf aborts resolution and
// its path is available through FailedPath.
func (r *Resolver) ResolveValue(ctx context.Context, value any, scope Lookuper) (any, error) {
	return r.resolveValue(ctx, value, scope, "")
}

// ResolveMap resolves a parameter mapping.
func (r *Resolver) ResolveMap(ctx context.Context, m map[string]any, scope Lookuper) (map[string]any, error) {
	out, err := r.resolveValue(ctx, m, scope, "")
	if err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]any{}, nil
	}
	return out.(map[string]any), nil
}

// ResolveStrings resolves every value of a string map.
func (r *Resolver) ResolveStrings(ctx context.Context, m map[string]string, scope Lookuper) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for _, k := range sortedKeys(m) {
		v, err := r.Resolve(ctx, m[k], scope)
		if err != nil {
			return nil, leafError(err, k)
		}
		out[k] = v
	}
	return out, nil
}

func (r *Resolver) resolveValue(ctx context.Context, value any, scope Lookuper, path string) (any, error) {
	switch v := value.(type) {
	case string:
		s, err := r.Resolve(ctx, v, scope)
		if err != nil {
			return nil, leafError(err, path)
		}
		return s, nil
	case map[string]any:
		if v == nil {
			return nil, nil
		}
		out := make(map[string]any, len(v))
		for _, k := range sortedKeys(v) {
			res, err := r.resolveValue(ctx, v[k], scope, joinPath(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = res
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(v))
		for _, k := range sortedKeys(v) {
			res, err := r.resolveValue(ctx, v[k], scope, joinPath(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = res
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			res, err := r.resolveValue(ctx, item, scope, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			res, err := r.resolveValue(ctx, item, scope, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil
	default:
		return value, nil
	}
}

const pathContextKey = "path"

// FailedPath returns the leaf path recorded on a structured-value resolution
// error, or "" when there is none.
func FailedPath(err error) string {
	for err != nil {
		var e *errors.Error
		if !errors.As(err, &e) {
			return ""
		}
		if p, ok := e.Context[pathContextKey].(string); ok {
			return p
		}
		err = e.Err
	}
	return ""
}

func leafError(err error, path string) error {
	if path == "" {
		return err
	}
	return errors.WrapWithContext(err, errors.CodeOf(err), "cannot resolve value",
		map[string]interface{}{pathContextKey: path})
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

// splitDefault splits an expression body at the first top-level colon.
func splitDefault(expr string) (string, string, bool) {
	depth := 0
	for i := 0; i < len(expr); i++ {
		switch {
		case strings.HasPrefix(expr[i:], "${"):
			depth++
			i++
		case expr[i] == '}':
			depth--
		case expr[i] == ':' && depth == 0:
			return expr[:i], expr[i+1:], true
		}
	}
	return expr, "", false
}

// closingBrace returns the index of the brace closing the expression that
// starts at from, or -1.
func closingBrace(s string, from int) int {
	depth := 1
	for j := from; j < len(s); j++ {
		switch {
		case strings.HasPrefix(s[j:], "${"):
			depth++
			j++
		case s[j] == '}':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string) string {
	const limit = 64
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
