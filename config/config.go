package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/abiqua/relay-service/internal/domain/model"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	EncryptionModeClient = "client"
	EncryptionModeServer = "server"
)

type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	Environment string `mapstructure:"environment"`

	RedisURL               string `mapstructure:"redis_url"`
	ConversationTTLSeconds int    `mapstructure:"conversation_ttl_seconds"`

	ControllerAPIKeys string `mapstructure:"controller_api_keys"`

	EncryptionMode    string `mapstructure:"encryption_mode"`
	EncryptionKeySeed string `mapstructure:"encryption_key_seed"`

	DemoMode       bool   `mapstructure:"demo_mode"`
	FrontendOrigin string `mapstructure:"frontend_origin"`
}

// LoadConfig reads the environment (optionally layered over a YAML file) into
// a validated Config. Environment variables use the flat upper-case names
// (REDIS_URL, DEMO_MODE, ...).
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http_addr", ":8000")
	v.SetDefault("environment", EnvProduction)
	v.SetDefault("redis_url", "")
	v.SetDefault("conversation_ttl_seconds", int(model.DefaultConversationTTL/time.Second))
	v.SetDefault("controller_api_keys", "")
	v.SetDefault("encryption_mode", EncryptionModeClient)
	v.SetDefault("encryption_key_seed", "")
	v.SetDefault("demo_mode", false)
	v.SetDefault("frontend_origin", "")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.EncryptionMode {
	case EncryptionModeClient:
	case EncryptionModeServer:
		if c.EncryptionKeySeed == "" {
			return fmt.Errorf("config: ENCRYPTION_KEY_SEED is required in server mode")
		}
		if c.Environment == EnvProduction {
			return fmt.Errorf("config: server-side encryption mode is not allowed in production")
		}
	default:
		return fmt.Errorf("config: unknown ENCRYPTION_MODE %q", c.EncryptionMode)
	}

	if c.DemoMode && c.Environment == EnvProduction {
		return fmt.Errorf("config: DEMO_MODE must be disabled in production")
	}
	return nil
}

func (c *Config) ConversationTTL() time.Duration {
	if c.ConversationTTLSeconds <= 0 {
		return model.DefaultConversationTTL
	}
	return time.Duration(c.ConversationTTLSeconds) * time.Second
}

// ControllerKeys splits the comma-separated key list, dropping empty entries.
func (c *Config) ControllerKeys() []string {
	var keys []string
	for _, k := range strings.Split(c.ControllerAPIKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func (c *Config) Development() bool { return c.Environment == EnvDevelopment }
