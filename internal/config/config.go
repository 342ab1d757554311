package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverPebble   = "pebble"

	DefaultModel = "gpt-4o"
)

type Config struct {
	Port        string   `yaml:"port"`
	DatabaseURL string   `yaml:"database_url"`
	StoreDriver string   `yaml:"store_driver"`
	PebblePath  string   `yaml:"pebble_path"`
	CORSOrigins []string `yaml:"cors_origins"`
	LogLevel    string   `yaml:"log_level"`

	OpenAIKey      string   `yaml:"openai_api_key"`
	OpenAIBaseURL  string   `yaml:"openai_base_url"`
	DefaultModel   string   `yaml:"default_model"`
	AllowedModels  []string `yaml:"allowed_models"`
	SystemPrompt   string   `yaml:"system_prompt"`
	GatewayTimeout Duration `yaml:"gateway_timeout"`
	SaveTimeout    Duration `yaml:"save_timeout"`
	MaxSteps       int      `yaml:"max_steps"`

	MaxAttachmentSize SizeBytes `yaml:"max_attachment_size"`

	AuthSigningKey string  `yaml:"auth_signing_key"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

func Defaults() *Config {
	return &Config{
		Port:              "8080",
		StoreDriver:       DriverPostgres,
		PebblePath:        "./.chatdb",
		CORSOrigins:       []string{"*"},
		LogLevel:          "info",
		DefaultModel:      DefaultModel,
		AllowedModels:     []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"},
		GatewayTimeout:    Duration(30 * time.Second),
		SaveTimeout:       Duration(10 * time.Second),
		MaxSteps:          5,
		MaxAttachmentSize: 10 << 20,
		RateLimitRPS:      2,
		RateLimitBurst:    5,
	}
}

// Load reads .env, then the optional YAML file, then environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "./config.yaml"
	}

	cfg := Defaults()
	if err := LoadFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges the YAML file at path into cfg.
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with any non-empty environment values.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = splitList(v)
		}
	}

	str("PORT", &cfg.Port)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("STORE_DRIVER", &cfg.StoreDriver)
	str("PEBBLE_PATH", &cfg.PebblePath)
	list("CORS_ORIGINS", &cfg.CORSOrigins)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("OPENAI_API_KEY", &cfg.OpenAIKey)
	str("OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	str("OPENAI_MODEL", &cfg.DefaultModel)
	list("OPENAI_ALLOWED_MODELS", &cfg.AllowedModels)
	str("SYSTEM_PROMPT", &cfg.SystemPrompt)
	str("AUTH_SIGNING_KEY", &cfg.AuthSigningKey)

	if v := getenv("GATEWAY_TIMEOUT"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GATEWAY_TIMEOUT: %w", err)
		}
		cfg.GatewayTimeout = d
	}
	if v := getenv("SAVE_TIMEOUT"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SAVE_TIMEOUT: %w", err)
		}
		cfg.SaveTimeout = d
	}
	if v := getenv("MAX_ATTACHMENT_SIZE"); v != "" {
		s, err := ParseSize(v)
		if err != nil {
			return fmt.Errorf("MAX_ATTACHMENT_SIZE: %w", err)
		}
		cfg.MaxAttachmentSize = s
	}
	if v := getenv("MAX_STEPS"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("MAX_STEPS: %w", err)
		}
		cfg.MaxSteps = n
	}
	if v := getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = f
	}
	if v := getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimitBurst = n
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is not set"))
		}
	case DriverPebble:
		if c.PebblePath == "" {
			errs = append(errs, errors.New("pebble_path is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store_driver %q", c.StoreDriver))
	}
	if c.OpenAIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY not set"))
	}
	if c.AuthSigningKey == "" {
		errs = append(errs, errors.New("AUTH_SIGNING_KEY not set"))
	}
	if c.DefaultModel == "" {
		c.DefaultModel = DefaultModel
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("gateway_timeout must be positive"))
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = Duration(10 * time.Second)
	}
	if c.MaxSteps < 1 {
		c.MaxSteps = 1
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
