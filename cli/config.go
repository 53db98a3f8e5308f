package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultServer  = "http://localhost:8080"
	defaultTimeout = 10 * time.Second
)

// Config is the client configuration stored in config.yaml.
type Config struct {
	Server  string        `yaml:"server"`
	Token   string        `yaml:"token,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/taskboard/config.yaml, or the
// platform equivalent.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "taskboard", "config.yaml"), nil
}

// LoadConfig reads path. A missing file yields the defaults. TASKBOARD_SERVER
// and TASKBOARD_TOKEN override the file.
func LoadConfig(path string) (Config, error) {
	cfg, err := readConfigFile(path)
	if err != nil {
		return Config{}, err
	}
	if v := strings.TrimSpace(os.Getenv("TASKBOARD_SERVER")); v != "" {
		cfg.Server = v
	}
	if v := strings.TrimSpace(os.Getenv("TASKBOARD_TOKEN")); v != "" {
		cfg.Token = v
	}
	cfg.applyDefaults()
	return cfg, nil
}

func readConfigFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server == "" {
		c.Server = defaultServer
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// SaveConfig writes cfg to path, creating the directory. The file holds a
// token so it is only readable by the owner.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
