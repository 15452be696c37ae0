package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Keys whose values are time.Duration and are written as "30s" rather
// than nanoseconds.
var durationKeys = map[string]bool{
	"read_timeout":          true,
	"write_timeout":         true,
	"timeout":               true,
	"max_transfer_duration": true,
}

// Marshal encodes the configuration as YAML.
func Marshal(cfg Config) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	formatDurations(&doc)

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()
	return buf.Bytes(), nil
}

func formatDurations(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if durationKeys[key.Value] && value.Kind == yaml.ScalarNode {
				if ns, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
					value.Value = time.Duration(ns).String()
					value.Tag = "!!str"
				}
			}
		}
	}
	for _, c := range n.Content {
		formatDurations(c)
	}
}

// Save writes the configuration to path, creating its directory. An
// existing file is only replaced when overwrite is set.
func Save(path string, cfg Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
