package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`

	BackendURL   string `mapstructure:"backend_url" validate:"required,url"`
	BackendToken string `mapstructure:"backend_token"`
	ProviderURL  string `mapstructure:"provider_url" validate:"required"`

	UserID      string `mapstructure:"user_id" validate:"required"`
	DisplayName string `mapstructure:"display_name" validate:"required"`
	Role        string `mapstructure:"role" validate:"oneof=deponent verifier"`

	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"min=1s"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"min=1s"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"min=1s"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8091)
	v.SetDefault("backend_url", "http://localhost:8080/api")
	v.SetDefault("provider_url", "wss://rtc.example.net")
	v.SetDefault("role", "deponent")
	v.SetDefault("poll_interval", "10s")
	v.SetDefault("heartbeat_interval", "10s")
	v.SetDefault("request_timeout", "15s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
