package app

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/danielnaab/site-scanning-engine/internal/analyzer"
	"github.com/danielnaab/site-scanning-engine/internal/database"
	"github.com/danielnaab/site-scanning-engine/internal/ingest"
	"github.com/danielnaab/site-scanning-engine/internal/logging"
	"github.com/danielnaab/site-scanning-engine/internal/metrics"
	"github.com/danielnaab/site-scanning-engine/internal/queue"
	"github.com/danielnaab/site-scanning-engine/internal/scanner"
	"github.com/danielnaab/site-scanning-engine/internal/webclient"
)

// EnvPrefix prefixes every environment override, e.g.
// SITESCAN_DATABASE_DSN or SITESCAN_WEB_RENDERER_BACKEND.
const EnvPrefix = "SITESCAN"

// Config aggregates the per-package configuration.
type Config struct {
	Log      logging.Config   `mapstructure:"log" yaml:"log"`
	Web      webclient.Config `mapstructure:"web" yaml:"web"`
	Analyzer analyzer.Config  `mapstructure:"analyzer" yaml:"analyzer"`
	Scanner  scanner.Config   `mapstructure:"scanner" yaml:"scanner"`
	Database database.Config  `mapstructure:"database" yaml:"database"`
	Queue    queue.Config     `mapstructure:"queue" yaml:"queue"`
	Ingest   ingest.Config    `mapstructure:"ingest" yaml:"ingest"`
	Metrics  metrics.Config   `mapstructure:"metrics" yaml:"metrics"`
	Server   ServerConfig     `mapstructure:"server" yaml:"server"`
	Jobs     JobsConfig       `mapstructure:"jobs" yaml:"jobs"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// AllowedOrigins is used for CORS and websocket origin checks. "*"
	// allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// JobsConfig controls how long finished API jobs are remembered.
type JobsConfig struct {
	Retention       time.Duration `mapstructure:"retention" yaml:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// DefaultConfig returns a Config populated with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Log:      logging.DefaultConfig(),
		Web:      webclient.DefaultConfig(),
		Analyzer: analyzer.DefaultConfig(),
		Scanner:  scanner.DefaultConfig(),
		Database: database.DefaultConfig(),
		Queue:    queue.DefaultConfig(),
		Ingest:   ingest.DefaultConfig(),
		Metrics:  metrics.DefaultConfig(),
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Jobs: JobsConfig{
			Retention:       time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
	}
}

// LoadConfig layers defaults, the optional YAML file at path and SITESCAN_
// environment variables, then validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every leaf of def with v so environment overrides
// apply to keys the file does not mention.
func setDefaults(v *viper.Viper, def *Config) error {
	raw, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Web.MaxRedirects < 0 {
		errs = append(errs, fmt.Errorf("web.max_redirects must be >= 0"))
	}
	if c.Web.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("web.timeout must be positive"))
	}
	if c.Web.Renderer.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("web.renderer.pool_size must be >= 1"))
	}
	if err := c.Analyzer.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("analyzer: %w", err))
	}
	if c.Scanner.Deadline < 0 {
		errs = append(errs, fmt.Errorf("scanner.deadline must be >= 0"))
	}
	switch c.Database.Driver {
	case database.DriverSQLite, database.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not sqlite or postgres", c.Database.Driver))
	}
	switch c.Queue.Backend {
	case queue.BackendMemory, queue.BackendRedis, queue.BackendRabbitMQ:
	default:
		errs = append(errs, fmt.Errorf("queue.backend %q is not memory, redis or rabbitmq", c.Queue.Backend))
	}
	if c.Queue.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("queue.worker.concurrency must be >= 1"))
	}
	if c.Queue.Worker.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("queue.worker.max_attempts must be >= 1"))
	}
	return errors.Join(errs...)
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ScanDeadline is the configured deadline, or one derived from the stage
// timeouts when none is set.
func (c *Config) ScanDeadline() time.Duration {
	if c.Scanner.Deadline > 0 {
		return c.Scanner.Deadline
	}
	return scanner.DeriveDeadline(c.Analyzer, c.Web.Renderer)
}
