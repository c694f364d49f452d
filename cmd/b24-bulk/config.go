package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration. Values come from the optional YAML file,
// then from the environment, which wins.
type Config struct {
	WebhookURL  string        `yaml:"webhook_url" env:"B24_WEBHOOK_URL" validate:"required,url"`
	RedisAddr   string        `yaml:"redis_addr" env:"B24_REDIS_ADDR"`
	Timeout     time.Duration `yaml:"timeout" env:"B24_TIMEOUT" default:"30s" validate:"gt=0"`
	MaxRetries  uint          `yaml:"max_retries" env:"B24_MAX_RETRIES" default:"3" validate:"lte=10"`
	LogLevel    string        `yaml:"log_level" env:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	LogPretty   bool          `yaml:"log_pretty" env:"LOG_PRETTY"`
	MetricsAddr string        `yaml:"metrics_addr" env:"METRICS_ADDR"`
}

// loadConfig reads .env (if present), the YAML file at path (if set) and the
// environment, then applies defaults and validates.
func loadConfig(path string) (Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := defaults.Set(&cfg); err != nil {
		return cfg, fmt.Errorf("apply defaults: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
