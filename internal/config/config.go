package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models verdyct.yml.
type Config struct {
	API struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`
	Watch struct {
		Interval string `yaml:"interval"`
		Sound    bool   `yaml:"sound"`
	} `yaml:"watch"`
	Session struct {
		TokenFile string `yaml:"token_file"`
	} `yaml:"session"`
	Storage struct {
		DBFile string `yaml:"db_file"`
	} `yaml:"storage"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run verdyct init or create it by hand", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the workspace defaults when verdyct.yml does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("config.api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config.api.base_url must be an absolute URL")
	}
	if _, err := time.ParseDuration(c.API.Timeout); err != nil {
		return fmt.Errorf("config.api.timeout: %w", err)
	}
	d, err := time.ParseDuration(c.Watch.Interval)
	if err != nil {
		return fmt.Errorf("config.watch.interval: %w", err)
	}
	if d < time.Second {
		return fmt.Errorf("config.watch.interval must be at least 1s")
	}
	if c.Session.TokenFile == "" {
		return fmt.Errorf("config.session.token_file is required")
	}
	if c.Storage.DBFile == "" {
		return fmt.Errorf("config.storage.db_file is required")
	}
	return nil
}

// PollInterval returns the parsed watch interval. Validate must have passed.
func (c *Config) PollInterval() time.Duration {
	d, _ := time.ParseDuration(c.Watch.Interval)
	return d
}

// APITimeout returns the parsed per-request timeout.
func (c *Config) APITimeout() time.Duration {
	d, _ := time.ParseDuration(c.API.Timeout)
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "verdyct.yml")
}

// Default returns the built-in defaults.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML for verdyct init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `api:
  base_url: http://127.0.0.1:8000
  timeout: 10s

watch:
  interval: 5s
  sound: true

session:
  token_file: .verdyct/session.token

storage:
  db_file: .verdyct/verdyct.db
`
