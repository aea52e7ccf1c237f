package bootstrap

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// Params are resolved action parameters with typed accessors. Accessor
// errors carry CodeInvalidInput and the parameter name.
type Params map[string]any

// Has reports whether key is set to a non-nil value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns a required string parameter.
func (p Params) String(key string) (string, error) {
	if !p.Has(key) {
		return "", paramError(key, "is required")
	}
	s, err := p.OptionalString(key, "")
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", paramError(key, "must not be empty")
	}
	return s, nil
}

// OptionalString returns a string parameter or def when it is absent.
// Numbers and booleans are converted to their string form.
func (p Params) OptionalString(key, def string) (string, error) {
	if !p.Has(key) {
		return def, nil
	}
	switch v := p[key].(type) {
	case string:
		return v, nil
	case int, int64, float64, bool:
		return fmt.Sprint(v), nil
	default:
		return "", paramError(key, fmt.Sprintf("must be a string, got %T", v))
	}
}

// Bool returns a boolean parameter or def when it is absent. String values
// such as "true" are accepted since templates always resolve to strings.
func (p Params) Bool(key string, def bool) (bool, error) {
	if !p.Has(key) {
		return def, nil
	}
	switch v := p[key].(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, paramError(key, fmt.Sprintf("must be a boolean, got %q", v))
		}
		return b, nil
	default:
		return false, paramError(key, fmt.Sprintf("must be a boolean, got %T", v))
	}
}

// Duration returns a duration parameter or def when it is absent. Integers
// are seconds; strings use time.ParseDuration syntax or plain seconds.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	if !p.Has(key) {
		return def, nil
	}
	switch v := p[key].(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, paramError(key, fmt.Sprintf("must be a duration, got %q", v))
		}
		return d, nil
	default:
		return 0, paramError(key, fmt.Sprintf("must be a duration, got %T", v))
	}
}

// StringMap returns a mapping parameter with scalar values converted to strings.
func (p Params) StringMap(key string) (map[string]string, error) {
	out := map[string]string{}
	if !p.Has(key) {
		return out, nil
	}
	m, ok := p[key].(map[string]any)
	if !ok {
		return nil, paramError(key, fmt.Sprintf("must be a mapping, got %T", p[key]))
	}
	for k, v := range m {
		switch v.(type) {
		case map[string]any, []any:
			return nil, paramError(key+"."+k, "must be a scalar")
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}

// StringSlice returns a list parameter. A single string is a one-element list.
func (p Params) StringSlice(key string) ([]string, error) {
	if !p.Has(key) {
		return nil, nil
	}
	switch v := p[key].(type) {
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			switch item.(type) {
			case map[string]any, []any, nil:
				return nil, paramError(fmt.Sprintf("%s[%d]", key, i), "must be a scalar")
			}
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	default:
		return nil, paramError(key, fmt.Sprintf("must be a list, got %T", v))
	}
}

// Keys returns the parameter names, sorted.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func paramError(key, msg string) error {
	return errors.Newf(errors.CodeInvalidInput, "parameter %q %s", key, msg).
		WithContext("parameter", key)
}
