package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables overriding configuration keys,
// e.g. GEMINI_CLIENT_TIMEOUT for client.timeout.
const EnvPrefix = "GEMINI"

// SetDefaults registers Defaults with v so that every key is known to
// viper, including for environment lookups.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("workers", d.Workers)
	v.SetDefault("read_timeout", d.ReadTimeout)
	v.SetDefault("write_timeout", d.WriteTimeout)
	v.SetDefault("listeners", []map[string]any{{
		"ip":   d.Listeners[0].IP,
		"port": d.Listeners[0].Port,
		"key":  d.Listeners[0].Key,
		"cert": d.Listeners[0].Cert,
	}})
	v.SetDefault("cert_dir", d.CertDir)
	v.SetDefault("root", d.Root)
	v.SetDefault("client.timeout", d.Client.Timeout)
	v.SetDefault("client.max_body_size", d.Client.MaxBodySize)
	v.SetDefault("client.max_transfer_duration", d.Client.MaxTransferDuration)
	v.SetDefault("client.allowed_mime_types", d.Client.AllowedMIMETypes)
	v.SetDefault("client.known_hosts", d.Client.KnownHosts)
	v.SetDefault("client.strict_port", d.Client.StrictPort)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}

// DefaultPath returns the user configuration file,
// ~/.config/gemini/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "gemini", "config.yaml")
}

// Load reads the configuration into v and decodes it. If path is empty
// the default location is tried; a missing default file is not an error.
// Environment variables with EnvPrefix override file values.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
