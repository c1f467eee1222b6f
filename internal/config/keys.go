package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PAGEVAULT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "PAGEVAULT_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "ollama.base_url", typ: kString, env: "PAGEVAULT_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "PAGEVAULT_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PAGEVAULT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "import.batch_size", typ: kInt, env: "PAGEVAULT_IMPORT_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Import.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Import.BatchSize },
	},
	{
		key: "import.max_retries", typ: kInt, env: "PAGEVAULT_IMPORT_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Import.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Import.MaxRetries },
	},
	{
		key: "search.cache_ttl", typ: kString, env: "PAGEVAULT_SEARCH_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Search.CacheTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.CacheTTL },
	},
	{
		key: "search.default_limit", typ: kInt, env: "PAGEVAULT_SEARCH_DEFAULT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Search.DefaultLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.DefaultLimit },
	},
	{
		key: "log.level", typ: kString, env: "PAGEVAULT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "users.default_user", typ: kString, env: "PAGEVAULT_DEFAULT_USER",
		apply:   func(cfg *Config, v any) { cfg.Users.DefaultUser = v.(string) },
		extract: func(cfg Config) any { return cfg.Users.DefaultUser },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
