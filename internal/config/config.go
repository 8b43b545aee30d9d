package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Auth      AuthConfig
	Client    ClientConfig
	Feed      FeedConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port int
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// ClientConfig is used by the CLI commands that act as an app client.
type ClientConfig struct {
	BaseURL string
	Token   string
}

type FeedConfig struct {
	BaseURL string
	Origin  string
}

type TelemetryConfig struct {
	QueueSize int
	Workers   int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:      4000,
			RateLimit: 600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			TokenTTL: 30 * 24 * time.Hour,
		},
		Client: ClientConfig{
			BaseURL: "http://127.0.0.1:4000",
		},
		Telemetry: TelemetryConfig{
			QueueSize: 64,
			Workers:   2,
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "roamr-data"
		}
	}
	return filepath.Join(dir, "roamr")
}

// Load reads configuration from the JSON config file, then environment
// variables, then the local secrets file.
//
// The config file lives at $XDG_CONFIG_HOME/roamr/config.json. Environment
// variables (ROAMR_*) override file values. Secrets are never read from the
// config file: they come from their environment variable or from
// $XDG_DATA_HOME/roamr/secrets.json.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewSecretStore())
}

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		v, err := secrets.Get(s.key)
		if err != nil {
			return Config{}, fmt.Errorf("reading secret %s: %w", s.key, err)
		}
		if v != "" {
			s.apply(&cfg, v)
		}
	}

	return cfg, nil
}
