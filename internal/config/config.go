// Package config loads the exporter's runtime configuration.
//
// Configuration merges three layers, lowest precedence first: built-in
// defaults, an optional YAML file, and VISIONZONES_* environment
// variables. Nothing is required just to boot; the settings that a job
// submission needs (compute project, output bucket) are validated at
// submission time so read-only surfaces keep working on a bare install.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the decoded configuration tree.
type Config struct {
	Compute  ComputeConfig `mapstructure:"compute"`
	Storage  StorageConfig `mapstructure:"storage"`
	Queue    QueueConfig   `mapstructure:"queue"`
	Server   ServerConfig  `mapstructure:"server"`
	Export   ExportConfig  `mapstructure:"export"`
	Paddocks PaddockConfig `mapstructure:"paddocks"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

// ComputeConfig points at the remote compute backend.
type ComputeConfig struct {
	// Project is the backend project identifier. Required to submit jobs.
	Project string `mapstructure:"project"`

	// BaseURL is the backend API root.
	BaseURL string `mapstructure:"base_url"`

	// Token is a bearer token for the backend, if it requires one.
	Token string `mapstructure:"token"`

	// RequestsPerSecond throttles start/poll calls. Zero disables the
	// limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig points at the object store jobs export into.
type StorageConfig struct {
	// Provider selects "s3" or "file".
	Provider string `mapstructure:"provider"`

	// Bucket receives all job output. Required to submit jobs.
	Bucket string `mapstructure:"bucket"`

	// Endpoint overrides the S3 endpoint, e.g. a GCS interoperability URL.
	Endpoint string `mapstructure:"endpoint"`

	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`

	// BaseDir backs the "file" provider.
	BaseDir string `mapstructure:"base_dir"`
}

// QueueConfig configures the optional distributed queue. Presence of the
// URL is the sole switch between local and queued dispatch.
type QueueConfig struct {
	URL string `mapstructure:"url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig tunes job execution.
type ExportConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Workers      int           `mapstructure:"workers"`
}

// PaddockConfig locates the paddock database.
type PaddockConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig selects level and output profile.
type LoggingConfig struct {
	Level string `mapstructure:"level"`

	// Profile is STRUCTURED (JSON) or CLI (console).
	Profile string `mapstructure:"profile"`
}

// Load reads configuration. file may be empty; when set it must exist.
func Load(file string) (*Config, error) {
	v := viper.New()

	// Every key needs a default, even an empty one, or environment-only
	// values are invisible to Unmarshal.
	v.SetDefault("compute.project", "")
	v.SetDefault("compute.base_url", "")
	v.SetDefault("compute.token", "")
	v.SetDefault("compute.requests_per_second", 5.0)
	v.SetDefault("compute.timeout", 30*time.Second)

	v.SetDefault("storage.provider", "s3")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.profile", "")
	v.SetDefault("storage.base_dir", "")

	v.SetDefault("queue.url", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	// Archive downloads stream for as long as the job is large.
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("export.poll_interval", 10*time.Second)
	v.SetDefault("export.workers", 2)

	v.SetDefault("paddocks.path", "paddocks.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetEnvPrefix("VISIONZONES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// ValidateForSubmission checks the settings a job submission depends on.
// Their absence is a configuration error, not an input error.
func (c *Config) ValidateForSubmission() error {
	var missing []string
	if strings.TrimSpace(c.Compute.Project) == "" {
		missing = append(missing, "compute.project")
	}
	if strings.TrimSpace(c.Compute.BaseURL) == "" {
		missing = append(missing, "compute.base_url")
	}
	if strings.TrimSpace(c.Storage.Bucket) == "" {
		missing = append(missing, "storage.bucket")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Addr returns the host:port the server binds.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
