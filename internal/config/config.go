package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Storage StorageConfig
	Import  ImportConfig
	Search  SearchConfig
	Log     LogConfig
	Users   UsersConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type ImportConfig struct {
	BatchSize  int
	MaxRetries int
}

type SearchConfig struct {
	CacheTTL     string
	DefaultLimit int
}

type LogConfig struct {
	Level string
}

type UsersConfig struct {
	DefaultUser string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Import: ImportConfig{
			BatchSize:  5,
			MaxRetries: 2,
		},
		Search: SearchConfig{
			CacheTTL:     "5m",
			DefaultLimit: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
		Users: UsersConfig{
			DefaultUser: "default",
		},
	}
}

// Load reads configuration with the following precedence, lowest first:
// built-in defaults, the JSON config file at $XDG_CONFIG_HOME/pagevault/
// config.json, a .env file in the working directory, then PAGEVAULT_*
// environment variables.
func Load() (Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if _, err := cfg.SearchCacheTTL(); err != nil {
		return Config{}, fmt.Errorf("invalid search.cache_ttl: %w", err)
	}
	return cfg, nil
}

// SearchCacheTTL parses the configured cache TTL.
func (c Config) SearchCacheTTL() (time.Duration, error) {
	return time.ParseDuration(c.Search.CacheTTL)
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "pagevault-data"
		}
	}
	return filepath.Join(dir, "pagevault")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "pagevault", "config.json")
}
