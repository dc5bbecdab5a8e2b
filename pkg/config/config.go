package config

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fluxorio/webpool/pkg/core"
	"github.com/fluxorio/webpool/pkg/core/concurrency"
)

// EnvPrefix is the prefix for environment overrides, e.g. WEBPOOL_SERVER_ADDR.
const EnvPrefix = "WEBPOOL"

// Config is the complete server configuration.
type Config struct {
	Server  Server  `yaml:"server" json:"server"`
	Static  Static  `yaml:"static" json:"static"`
	Log     Log     `yaml:"log" json:"log"`
	Metrics Metrics `yaml:"metrics" json:"metrics"`
	Tracing Tracing `yaml:"tracing" json:"tracing"`
	Events  Events  `yaml:"events" json:"events"`
}

// Server configures the connection acceptor and the worker pool.
type Server struct {
	Addr         string   `yaml:"addr" json:"addr"`
	Workers      int      `yaml:"workers" json:"workers"`
	MaxConns     int      `yaml:"max_conns" json:"max_conns"` // 0 means unlimited
	ReadTimeout  Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout" json:"write_timeout"`
}

// Static describes where response bodies come from.
type Static struct {
	Dir      string            `yaml:"dir" json:"dir"`
	Index    string            `yaml:"index" json:"index"`
	NotFound string            `yaml:"not_found" json:"not_found"`
	Routes   map[string]string `yaml:"routes" json:"routes"` // request path -> file under Dir
}

// Log selects the log format and level.
type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// Tracing configures the OpenTelemetry exporter.
type Tracing struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Exporter    string `yaml:"exporter" json:"exporter"` // stdout or zipkin
	ZipkinURL   string `yaml:"zipkin_url" json:"zipkin_url"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// Events configures access-event publishing. An empty NATSURL disables it.
type Events struct {
	NATSURL string `yaml:"nats_url" json:"nats_url"`
	Subject string `yaml:"subject" json:"subject"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:         "127.0.0.1:7878",
			Workers:      4,
			ReadTimeout:  Duration(5 * time.Second),
			WriteTimeout: Duration(5 * time.Second),
		},
		Static: Static{
			Dir:      "static",
			Index:    "index.html",
			NotFound: "404.html",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Metrics: Metrics{
			Addr: "127.0.0.1:9090",
			Path: "/metrics",
		},
		Tracing: Tracing{
			Exporter:    "stdout",
			ServiceName: "webpool",
		},
		Events: Events{
			Subject: "webpool.access",
		},
	}
}

// LoadFile returns Default() overlaid with path (if non-empty) and the
// WEBPOOL_* environment, validated.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := LoadWithEnv(path, EnvPrefix, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Workers < 1 {
		return fmt.Errorf("validation failed: server.workers: %w", concurrency.ErrInvalidPoolSize)
	}

	validators := []Validator{
		RequiredFields("Server.Addr", "Static.Dir", "Static.Index", "Static.NotFound"),
		RangeValidator("Server.Workers", 1, 4096),
		RangeValidator("Server.MaxConns", 0, 1<<20),
		ValidatorFunc(c.validateLog),
	}
	if c.Metrics.Enabled {
		validators = append(validators, RequiredFields("Metrics.Addr", "Metrics.Path"))
	}
	if c.Tracing.Enabled {
		validators = append(validators, OneOfValidator("Tracing.Exporter", "stdout", "zipkin"))
		if c.Tracing.Exporter == "zipkin" {
			validators = append(validators, RequiredFields("Tracing.ZipkinURL"))
		}
	}
	if c.Events.NATSURL != "" {
		validators = append(validators, RequiredFields("Events.Subject"))
	}
	return Validate(c, validators...)
}

// validateLog accepts exactly the spellings core.NewLoggerFor accepts.
func (c *Config) validateLog(interface{}) error {
	if _, err := core.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("field Log.Level: %w", err)
	}
	if _, err := core.NewLoggerFor(io.Discard, c.Log.Format, c.Log.Level); err != nil {
		return fmt.Errorf("field Log.Format: %w", err)
	}
	return nil
}

// Duration is a time.Duration written as "5s" or "250ms" in config files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. JSON strings and
// environment overrides go through here.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
