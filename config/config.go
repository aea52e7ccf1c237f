// Package config loads the smus-cicd tool configuration.
//
// Settings are layered: built-in defaults, then the TOML file, then SMUS_*
// environment variables. Command-line flags are applied last by the CLI.
//
// The file is looked up under the XDG config directories as
// smus-cicd/config.toml unless an explicit path is given:
//
//	[aws]
//	region = "us-west-2"
//	profile = "deploy"
//
//	[storage]
//	backend = "s3"
//	concurrency = 8
//
//	[monitor]
//	interval = "15s"
//	timeout = "2h"
//
//	[log]
//	level = "debug"
//	format = "json"
package config

import (
	"time"
)

// RelPath is the config file location relative to the XDG config directories.
const RelPath = "smus-cicd/config.toml"

// Storage backends.
const (
	BackendS3    = "s3"
	BackendMinio = "minio"
)

// Secret providers.
const (
	ProviderAWS    = "aws"
	ProviderMemory = "memory"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the complete tool configuration.
type Config struct {
	AWS     AWSConfig     `toml:"aws"`
	Storage StorageConfig `toml:"storage"`
	Secrets SecretsConfig `toml:"secrets"`
	Events  EventsConfig  `toml:"events"`
	Monitor MonitorConfig `toml:"monitor"`
	CDK     CDKConfig     `toml:"cdk"`
	Log     LogConfig     `toml:"log"`

	// Path is the file the configuration was read from, or "" when only
	// defaults and the environment applied.
	Path string `toml:"-"`
}

// AWSConfig selects the AWS account, region and endpoint.
type AWSConfig struct {
	Region     string `toml:"region"`
	Profile    string `toml:"profile"`
	Endpoint   string `toml:"endpoint"`
	MaxRetries int    `toml:"max_retries"`
}

// StorageConfig selects the content transfer backend.
type StorageConfig struct {
	Backend     string      `toml:"backend"`
	Concurrency int         `toml:"concurrency"`
	Minio       MinioConfig `toml:"minio"`
}

// MinioConfig holds the settings of an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	Region          string `toml:"region"`
	Secure          bool   `toml:"secure"`
}

// SecretsConfig selects the secret store.
type SecretsConfig struct {
	Provider           string `toml:"provider"`
	RecoveryWindowDays int64  `toml:"recovery_window_days"`
}

// EventsConfig controls deployment event publishing.
type EventsConfig struct {
	Enabled bool          `toml:"enabled"`
	Bus     string        `toml:"bus"`
	Source  string        `toml:"source"`
	Timeout time.Duration `toml:"timeout"`
}

// MonitorConfig controls workflow polling.
type MonitorConfig struct {
	Interval time.Duration `toml:"interval"`
	Timeout  time.Duration `toml:"timeout"`
}

// CDKConfig locates the CDK toolkit.
type CDKConfig struct {
	Binary string `toml:"binary"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:     BackendS3,
			Concurrency: 4,
		},
		Secrets: SecretsConfig{
			Provider:           ProviderAWS,
			RecoveryWindowDays: 7,
		},
		Events: EventsConfig{
			Enabled: true,
			Bus:     "default",
			Source:  "smus.cicd",
			Timeout: 10 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval: 10 * time.Second,
			Timeout:  time.Hour,
		},
		CDK: CDKConfig{
			Binary: "cdk",
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatText,
		},
	}
}
