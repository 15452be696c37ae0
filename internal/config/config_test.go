package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultsValid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		Name   string
		Modify func(*Config)
		Err    string
	}{
		{"negative workers", func(c *Config) { c.Workers = -1 }, "workers"},
		{"port zero", func(c *Config) { c.Listeners[0].Port = 0 }, "listeners[0].port"},
		{"port too large", func(c *Config) { c.Listeners[0].Port = 70000 }, "listeners[0].port"},
		{"missing key", func(c *Config) { c.Listeners[0].Key = "" }, "needs key and cert"},
		{"negative body size", func(c *Config) { c.Client.MaxBodySize = -1 }, "max_body_size"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "sample_rate"},
		{"exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }, "exporter"},
		{"otlp endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
			c.Tracing.OTLPEndpoint = ""
		}, "otlp_endpoint"},
	}
	for _, test := range tests {
		cfg := Defaults()
		test.Modify(&cfg)
		err := cfg.Validate()
		require.Error(t, err, test.Name)
		require.Contains(t, err.Error(), test.Err, test.Name)
	}

	// A certificate directory replaces per-listener key pairs.
	cfg := Defaults()
	cfg.CertDir = "/var/lib/gemini/certs"
	cfg.Listeners[0].Key, cfg.Listeners[0].Cert = "", ""
	require.NoError(t, cfg.Validate())
}

func TestListenerAddr(t *testing.T) {
	require.Equal(t, "0.0.0.0:1965", Defaults().Listeners[0].Addr())
	require.Equal(t, "[::1]:1966", ListenerConfig{IP: "::1", Port: 1966}.Addr())
}

func TestMarshalDurations(t *testing.T) {
	data, err := Marshal(Defaults())
	require.NoError(t, err)
	text := string(data)
	require.Contains(t, text, "read_timeout: 30s")
	require.Contains(t, text, "timeout: 30s")
	require.Contains(t, text, "max_transfer_duration: 0s")
	require.Contains(t, text, "max_body_size: 33554432")

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))
	require.Equal(t, "30s", raw["write_timeout"])
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Defaults()
	cfg.Workers = 4
	cfg.ReadTimeout = 5 * time.Second
	cfg.Root = "/srv/gemini"
	cfg.Client.AllowedMIMETypes = []string{"text/gemini"}
	require.NoError(t, Save(path, cfg, false))
	require.Error(t, Save(path, cfg, false))
	require.NoError(t, Save(path, cfg, true))

	got, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, 4, got.Workers)
	require.Equal(t, 5*time.Second, got.ReadTimeout)
	require.Equal(t, "/srv/gemini", got.Root)
	require.Equal(t, []string{"text/gemini"}, got.Client.AllowedMIMETypes)
	require.Equal(t, cfg.Listeners, got.Listeners)
	require.Equal(t, cfg.Tracing, got.Tracing)
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root: /from/file\n"), 0o644))

	t.Setenv("GEMINI_CLIENT_TIMEOUT", "5s")
	t.Setenv("GEMINI_ROOT", "/from/env")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.Client.Timeout)
	require.Equal(t, "/from/env", cfg.Root)
	require.Equal(t, 30*time.Second, cfg.ReadTimeout)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	// A missing default file falls back to the defaults.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, Defaults().Client.Timeout, cfg.Client.Timeout)
	require.Equal(t, Defaults().Client.MaxBodySize, cfg.Client.MaxBodySize)
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: -2\n"), 0o644))
	_, err := Load(viper.New(), path)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "workers"))
}
