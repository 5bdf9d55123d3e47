package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	OpenAI  OpenAIConfig
	Auth    AuthConfig
	Chat    ChatConfig
	Notify  NotifyConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type OpenAIConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     string
	APIKey      string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  string
}

type ChatConfig struct {
	PromptSource string
	PromptName   string
	ToolsEnabled bool
}

type NotifyConfig struct {
	PingInterval string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3001,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		OpenAI: OpenAIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-3.5-turbo",
			Temperature: 0.7,
			Timeout:     "60s",
		},
		Auth: AuthConfig{
			TokenTTL: "24h",
		},
		Chat: ChatConfig{
			PromptSource: "fixed",
			PromptName:   "AI_Tasks",
			ToolsEnabled: true,
		},
		Notify: NotifyConfig{
			PingInterval: "30s",
		},
	}
}

// Load reads configuration from the JSON config file, environment
// variables, and the secrets file, in that order of precedence (later wins,
// except the secrets file only fills secrets that are still empty).
//
// The config file lives at $XDG_CONFIG_HOME/teamtasks/config.json and the
// secrets file at $XDG_DATA_HOME/teamtasks/secrets.json. Environment
// variables are TEAMTASKS_*, plus OPENAI_API_KEY and JWT_SECRET.
//
// A missing OpenAI key is not an error here; chat requests report it.
func Load() (Config, error) {
	return loadWith(newFileBackend(ConfigFilePath()), secretsFile{path: SecretsFilePath()})
}

func loadWith(b ConfigBackend, ss secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	applySecrets(&cfg, ss)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	switch c.Chat.PromptSource {
	case "fixed", "stored":
	default:
		return fmt.Errorf("invalid config: chat.prompt_source must be \"fixed\" or \"stored\", got %q", c.Chat.PromptSource)
	}
	for key, v := range map[string]string{
		"openai.timeout":       c.OpenAI.Timeout,
		"auth.token_ttl":       c.Auth.TokenTTL,
		"notify.ping_interval": c.Notify.PingInterval,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid config: %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid config: %s must be positive", key)
		}
	}
	return nil
}

// OpenAITimeout returns openai.timeout as a duration.
func (c Config) OpenAITimeout() time.Duration { return durationOrZero(c.OpenAI.Timeout) }

// TokenTTL returns auth.token_ttl as a duration.
func (c Config) TokenTTL() time.Duration { return durationOrZero(c.Auth.TokenTTL) }

// PingInterval returns notify.ping_interval as a duration.
func (c Config) PingInterval() time.Duration { return durationOrZero(c.Notify.PingInterval) }

// durationOrZero parses a duration already checked by validate. Zero is
// returned for unparsable input so callers fall back to their defaults.
func durationOrZero(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// ErrMissingJWTSecret is returned by RequireJWTSecret when no signing
// secret is configured.
var ErrMissingJWTSecret = errors.New("missing required config: JWT secret. " +
	"Set it via environment variable JWT_SECRET or `teamtasks config set-secret auth.jwt_secret <value>`")

// RequireJWTSecret fails when the server cannot verify bearer tokens.
func (c Config) RequireJWTSecret() error {
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}
