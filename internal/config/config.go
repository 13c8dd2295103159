package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server     ServerConfig
	Classifier ClassifierConfig
	Storage    StorageConfig
	Cache      CacheConfig
	Auth       AuthConfig
	Log        LogConfig
	Owner      OwnerConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type ClassifierConfig struct {
	BaseURL string
	APIKey  string
	Timeout string
}

type StorageConfig struct {
	DataDir string
}

type CacheConfig struct {
	TTL           string
	SchemaVersion int
}

type AuthConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

type OwnerConfig struct {
	ID string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Classifier: ClassifierConfig{
			BaseURL: "http://localhost:8080",
			Timeout: "60s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Cache: CacheConfig{
			TTL:           "24h",
			SchemaVersion: 1,
		},
		Log: LogConfig{
			Level: "info",
		},
		Owner: OwnerConfig{
			ID: "default",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/braindump/config.json, then applies BRAINDUMP_* environment
// variable overrides. Secrets (classifier API key, API auth token) come from
// the environment only and never touch the file.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Classifier.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: classifier API key. " +
			"Set it via environment variable BRAINDUMP_CLASSIFIER_API_KEY")
	}

	if _, err := time.ParseDuration(cfg.Cache.TTL); err != nil {
		return Config{}, fmt.Errorf("invalid cache.ttl %q: %w", cfg.Cache.TTL, err)
	}
	if _, err := time.ParseDuration(cfg.Classifier.Timeout); err != nil {
		return Config{}, fmt.Errorf("invalid classifier.timeout %q: %w", cfg.Classifier.Timeout, err)
	}

	return cfg, nil
}

// CacheTTL returns the parsed cache TTL. Load has already validated it.
func (c Config) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.Cache.TTL)
	return d
}

// ClassifierTimeout returns the parsed classifier request timeout.
func (c Config) ClassifierTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Classifier.Timeout)
	return d
}
