// Package config loads dirwatchd's daemon configuration: the output log
// destination and the list of directory roots to watch.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Root is one configured watch root.
type Root struct {
	Path string `json:"path"`
}

// Config holds all daemon configuration.
type Config struct {
	OutputPath string `json:"outputPath"`
	Dirs       []Root `json:"dirs"`
}

// Load reads configuration from a JSON file at path. dirwatchd's
// configuration has no sensible defaults: outputPath and
// dirs are both mandatory, so a missing or incomplete file is a startup
// error rather than something to paper over.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.dedupeDirs()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.OutputPath == "" {
		return fmt.Errorf("config: outputPath is required")
	}
	if len(c.Dirs) == 0 {
		return fmt.Errorf("config: dirs is required and must be non-empty")
	}
	for i, d := range c.Dirs {
		if d.Path == "" {
			return fmt.Errorf("config: dirs[%d].path is required", i)
		}
	}
	return nil
}

// dedupeDirs collapses duplicate root paths while preserving the order
// of first appearance.
func (c *Config) dedupeDirs() {
	seen := make(map[string]bool, len(c.Dirs))
	out := c.Dirs[:0]
	for _, d := range c.Dirs {
		if seen[d.Path] {
			continue
		}
		seen[d.Path] = true
		out = append(out, d)
	}
	c.Dirs = out
}

// ConfigPath resolves the configuration file location: $DIRWATCHD_CONFIG
// if set, otherwise /etc/dirwatchd/config.json.
func ConfigPath() string {
	if p := os.Getenv("DIRWATCHD_CONFIG"); p != "" {
		return p
	}
	return "/etc/dirwatchd/config.json"
}
