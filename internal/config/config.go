// Package config provides configuration types, defaults, and persistence
// for the gemini command.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config holds all configuration options.
type Config struct {
	Workers      int              `mapstructure:"workers" yaml:"workers"`
	ReadTimeout  time.Duration    `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration    `mapstructure:"write_timeout" yaml:"write_timeout"`
	Listeners    []ListenerConfig `mapstructure:"listeners" yaml:"listeners"`
	CertDir      string           `mapstructure:"cert_dir" yaml:"cert_dir,omitempty"`
	Root         string           `mapstructure:"root" yaml:"root"`
	Client       ClientConfig     `mapstructure:"client" yaml:"client"`
	Tracing      TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
}

// ListenerConfig is one address the server listens on, with the key pair
// presented there.
type ListenerConfig struct {
	IP   string `mapstructure:"ip" yaml:"ip"`
	Port int    `mapstructure:"port" yaml:"port"`
	Key  string `mapstructure:"key" yaml:"key"`
	Cert string `mapstructure:"cert" yaml:"cert"`
}

// Addr returns the listener address in host:port form.
func (l ListenerConfig) Addr() string {
	return net.JoinHostPort(l.IP, strconv.Itoa(l.Port))
}

// ClientConfig holds the request limits used by the get command.
type ClientConfig struct {
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxBodySize         int64         `mapstructure:"max_body_size" yaml:"max_body_size"`
	MaxTransferDuration time.Duration `mapstructure:"max_transfer_duration" yaml:"max_transfer_duration"`
	AllowedMIMETypes    []string      `mapstructure:"allowed_mime_types" yaml:"allowed_mime_types,omitempty"`
	KnownHosts          string        `mapstructure:"known_hosts" yaml:"known_hosts,omitempty"`
	StrictPort          bool          `mapstructure:"strict_port" yaml:"strict_port"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are recorded and exported.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Exporter selects the export backend: "none", "stdout" or "otlp".
	Exporter string `mapstructure:"exporter" yaml:"exporter"`

	// OTLPEndpoint is the collector address for the "otlp" exporter.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`

	// ServiceName identifies this process in traces.
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	// SampleRate is the fraction of traces recorded, 0 to 1.
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Workers:      0, // runtime.NumCPU()
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Listeners: []ListenerConfig{
			{IP: "0.0.0.0", Port: 1965, Key: "key.pem", Cert: "cert.pem"},
		},
		Root: ".",
		Client: ClientConfig{
			Timeout:     30 * time.Second,
			MaxBodySize: 32 << 20,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "stdout",
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "gemini",
			SampleRate:   1.0,
		},
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	for i, l := range c.Listeners {
		if l.Port <= 0 || l.Port > 65535 {
			return fmt.Errorf("listeners[%d].port must be between 1 and 65535, got %d", i, l.Port)
		}
		if c.CertDir == "" && (l.Key == "" || l.Cert == "") {
			return fmt.Errorf("listeners[%d] needs key and cert unless cert_dir is set", i)
		}
	}
	if c.Client.MaxBodySize < 0 {
		return fmt.Errorf("client.max_body_size must not be negative, got %d", c.Client.MaxBodySize)
	}
	return ValidateTracing(c.Tracing)
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(t TracingConfig) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}
	switch t.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be \"none\", \"stdout\", or \"otlp\", got %q", t.Exporter)
	}
	if t.Enabled && t.Exporter == "otlp" && t.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
	}
	return nil
}
