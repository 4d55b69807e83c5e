package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coderelay/idebridge"
)

// Config is the yaml server configuration. Flags override file values.
type Config struct {
	HTTPPort         int      `yaml:"http_port"`
	IDEName          string   `yaml:"ide_name"`
	WorkspaceFolders []string `yaml:"workspace_folders"`
	HeartbeatSeconds int      `yaml:"heartbeat_seconds"`
	LogLevel         string   `yaml:"log_level"`
}

func defaultConfigPath() string {
	return filepath.Join(idebridge.ResolveConfigDir(), "config.yaml")
}

// loadConfig reads the yaml config at path. A missing default config is not
// an error; a missing explicit one is.
func loadConfig(path string, explicit bool) (Config, error) {
	cfg := Config{
		IDEName:  "idebridge",
		LogLevel: "info",
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(bs, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.IDEName == "" {
		cfg.IDEName = "idebridge"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

func (c Config) heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}
