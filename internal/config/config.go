package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.aide/config.toml.
type Config struct {
	DefaultSession string  `toml:"default_session"`
	Backend        Backend `toml:"backend"`
	Auth           Auth    `toml:"auth"`
}

// Backend holds the Aide API endpoint settings.
type Backend struct {
	BaseURL string `toml:"base_url"`
}

// Auth holds the auth project settings used for the token grant and the
// realtime channel. AnonKey is the public project key, not a secret
// credential; the refresh token lives in the session dir instead.
type Auth struct {
	URL     string `toml:"url"`
	AnonKey string `toml:"anon_key"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
