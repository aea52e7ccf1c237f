package config

import (
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// Environment variables that override file settings.
const (
	EnvRegion   = "SMUS_REGION"
	EnvProfile  = "SMUS_PROFILE"
	EnvEndpoint = "SMUS_ENDPOINT"
	EnvLogLevel = "SMUS_LOG_LEVEL"
	EnvBackend  = "SMUS_STORAGE_BACKEND"
	EnvEvents   = "SMUS_EVENTS_ENABLED"
)

// Load reads the configuration at path, or discovers smus-cicd/config.toml
// in the XDG config directories when path is empty. A missing discovered
// file is not an error; a missing explicit file is. Environment overrides
// are applied and the result validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if found, err := xdg.SearchConfigFile(RelPath); err == nil {
			path = found
		}
	}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.Path = path
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath returns where a new user config file belongs.
func DefaultPath() (string, error) {
	return xdg.ConfigFile(RelPath)
}

func decodeFile(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		code := errors.CodeInvalidConfig
		if errors.Is(err, fs.ErrNotExist) {
			code = errors.CodeNotFound
		}
		return errors.WrapWithContext(err, code, "failed to read configuration file",
			map[string]interface{}{"path": path})
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.WrapWithContext(
			errors.Newf(errors.CodeInvalidConfig, "unknown keys: %s", strings.Join(keys, ", ")),
			errors.CodeInvalidConfig,
			"configuration file has unknown keys",
			map[string]interface{}{"path": path},
		)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvRegion, &c.AWS.Region)
	set(EnvProfile, &c.AWS.Profile)
	set(EnvEndpoint, &c.AWS.Endpoint)
	set(EnvLogLevel, &c.Log.Level)
	set(EnvBackend, &c.Storage.Backend)

	if v, ok := lookup(EnvEvents); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidConfig,
				fmt.Sprintf("%s must be a boolean, got %q", EnvEvents, v))
		}
		c.Events.Enabled = enabled
	}
	return nil
}

// Validate checks that every setting has a usable value.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Storage.Backend {
	case BackendS3:
	case BackendMinio:
		if c.Storage.Minio.Endpoint == "" {
			add("storage.minio.endpoint is required when storage.backend is %q", BackendMinio)
		}
	default:
		add("storage.backend must be %q or %q, got %q", BackendS3, BackendMinio, c.Storage.Backend)
	}
	if c.Storage.Concurrency < 1 {
		add("storage.concurrency must be at least 1, got %d", c.Storage.Concurrency)
	}
	if c.AWS.MaxRetries < 0 {
		add("aws.max_retries must not be negative")
	}

	switch c.Secrets.Provider {
	case ProviderAWS, ProviderMemory:
	default:
		add("secrets.provider must be %q or %q, got %q", ProviderAWS, ProviderMemory, c.Secrets.Provider)
	}
	if w := c.Secrets.RecoveryWindowDays; w != 0 && (w < 7 || w > 30) {
		add("secrets.recovery_window_days must be between 7 and 30, got %d", w)
	}

	if c.Events.Enabled && c.Events.Bus == "" {
		add("events.bus is required when events are enabled")
	}
	if c.Monitor.Interval <= 0 {
		add("monitor.interval must be positive")
	}
	if c.Monitor.Timeout < 0 {
		add("monitor.timeout must not be negative")
	}
	if c.CDK.Binary == "" {
		add("cdk.binary is required")
	}

	if _, err := c.Log.level(); err != nil {
		add("log.level: %v", err)
	}
	switch c.Log.Format {
	case FormatText, FormatJSON:
	default:
		add("log.format must be %q or %q, got %q", FormatText, FormatJSON, c.Log.Format)
	}

	if len(problems) > 0 {
		err := errors.New(errors.CodeInvalidConfig, "invalid configuration: "+strings.Join(problems, "; "))
		if c.Path != "" {
			err = err.WithContext("path", c.Path)
		}
		return err
	}
	return nil
}
