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
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // secrets file account for secret keys
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "TEAMTASKS_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "TEAMTASKS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TEAMTASKS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "TEAMTASKS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "openai.base_url", typ: kString, env: "TEAMTASKS_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.model", typ: kString, env: "TEAMTASKS_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "openai.temperature", typ: kFloat, env: "TEAMTASKS_OPENAI_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.OpenAI.Temperature },
	},
	{
		key: "openai.timeout", typ: kString, env: "TEAMTASKS_OPENAI_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Timeout },
	},
	{
		key: "openai.api_key", typ: kString, env: "OPENAI_API_KEY",
		secret: true, account: "openai_api_key",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "auth.jwt_secret", typ: kString, env: "JWT_SECRET",
		secret: true, account: "jwt_secret",
		apply:   func(cfg *Config, v any) { cfg.Auth.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.JWTSecret },
	},
	{
		key: "auth.token_ttl", typ: kString, env: "TEAMTASKS_AUTH_TOKEN_TTL",
		apply:   func(cfg *Config, v any) { cfg.Auth.TokenTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.TokenTTL },
	},
	{
		key: "chat.prompt_source", typ: kString, env: "TEAMTASKS_CHAT_PROMPT_SOURCE",
		apply:   func(cfg *Config, v any) { cfg.Chat.PromptSource = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.PromptSource },
	},
	{
		key: "chat.prompt_name", typ: kString, env: "TEAMTASKS_CHAT_PROMPT_NAME",
		apply:   func(cfg *Config, v any) { cfg.Chat.PromptName = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.PromptName },
	},
	{
		key: "chat.tools_enabled", typ: kBool, env: "TEAMTASKS_CHAT_TOOLS_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Chat.ToolsEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Chat.ToolsEnabled },
	},
	{
		key: "notify.ping_interval", typ: kString, env: "TEAMTASKS_NOTIFY_PING_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Notify.PingInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.PingInterval },
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
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
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// applySecrets fills secret keys that are still empty from the secrets store.
func applySecrets(cfg *Config, ss secretStore) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := ss.Get(s.account); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
