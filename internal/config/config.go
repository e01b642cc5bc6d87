// Package config loads runledger configuration from an optional YAML file
// and RUNLEDGER_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Engine   EngineConfig   `yaml:"engine"`
	Log      LogConfig      `yaml:"log"`
	NATS     NATSConfig     `yaml:"nats"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// DatabaseConfig selects the store. postgres:// and postgresql:// DSNs use
// Postgres; anything else is a SQLite path.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// HTTPConfig configures the ingest server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is requests per minute per client. 0 disables limiting.
	RateLimit      int      `yaml:"rate_limit"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// EngineConfig tunes reconciliation.
type EngineConfig struct {
	ParentRetryDelay time.Duration `yaml:"parent_retry_delay"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NATSConfig configures the JetStream consumer. An empty URL disables it.
type NATSConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Subject   string `yaml:"subject"`
	Durable   string `yaml:"durable"`
	BatchSize int    `yaml:"batch_size"`
}

// TracingConfig configures OTLP trace export. An empty endpoint disables export.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Insecure    bool    `yaml:"insecure"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{DSN: "file:runledger.db"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       600,
			AllowedOrigins:  []string{"*"},
		},
		Engine: EngineConfig{ParentRetryDelay: 2 * time.Second},
		Log:    LogConfig{Level: "info", Format: "json"},
		NATS: NATSConfig{
			Stream:    "RUNLEDGER",
			Subject:   "runledger.events",
			Durable:   "runledger-ingest",
			BatchSize: 32,
		},
		Tracing: TracingConfig{
			ServiceName: "runledger",
			SampleRatio: 1,
		},
	}
}

// Load returns Default overlaid with the YAML file at path (when path is
// non-empty) and then with environment overrides. Unknown keys in the file
// are errors.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if c.Engine.ParentRetryDelay < 0 {
		return fmt.Errorf("engine.parent_retry_delay must not be negative, got %s", c.Engine.ParentRetryDelay)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1], got %v", c.Tracing.SampleRatio)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must not be negative, got %d", c.HTTP.RateLimit)
	}
	if c.NATS.URL != "" && (c.NATS.Stream == "" || c.NATS.Subject == "" || c.NATS.Durable == "") {
		return errors.New("nats.stream, nats.subject and nats.durable are required when nats.url is set")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("RUNLEDGER_DATABASE_DSN", &cfg.Database.DSN)
	str("RUNLEDGER_HTTP_ADDR", &cfg.HTTP.Addr)
	dur("RUNLEDGER_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	dur("RUNLEDGER_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	dur("RUNLEDGER_HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)
	integer("RUNLEDGER_HTTP_RATE_LIMIT", &cfg.HTTP.RateLimit)
	if v := os.Getenv("RUNLEDGER_HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}
	dur("RUNLEDGER_ENGINE_PARENT_RETRY_DELAY", &cfg.Engine.ParentRetryDelay)
	str("RUNLEDGER_LOG_LEVEL", &cfg.Log.Level)
	str("RUNLEDGER_LOG_FORMAT", &cfg.Log.Format)
	str("RUNLEDGER_NATS_URL", &cfg.NATS.URL)
	str("RUNLEDGER_NATS_STREAM", &cfg.NATS.Stream)
	str("RUNLEDGER_NATS_SUBJECT", &cfg.NATS.Subject)
	str("RUNLEDGER_NATS_DURABLE", &cfg.NATS.Durable)
	integer("RUNLEDGER_NATS_BATCH_SIZE", &cfg.NATS.BatchSize)
	str("RUNLEDGER_TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	str("RUNLEDGER_TRACING_SERVICE_NAME", &cfg.Tracing.ServiceName)
	if v := os.Getenv("RUNLEDGER_TRACING_SAMPLE_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RUNLEDGER_TRACING_SAMPLE_RATIO: %w", err))
		} else {
			cfg.Tracing.SampleRatio = f
		}
	}
	if v := os.Getenv("RUNLEDGER_TRACING_INSECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RUNLEDGER_TRACING_INSECURE: %w", err))
		} else {
			cfg.Tracing.Insecure = b
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
