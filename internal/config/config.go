package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port          int    `yaml:"port"`
	ServiceSecret string `yaml:"service_secret"` // HMAC key for service JWTs
	TriggerSecret string `yaml:"trigger_secret"` // shared secret header for the daily trigger
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ProviderConfig struct {
	OpenAIKey          string `yaml:"openai_key"`
	GeminiKey          string `yaml:"gemini_key"`
	GeminiURL          string `yaml:"gemini_url"`
	PerplexityKey      string `yaml:"perplexity_key"`
	PerplexityBaseURL  string `yaml:"perplexity_base_url"`
	DefaultModel       string `yaml:"default_model"`
	ConcurrentLimit    int    `yaml:"concurrent_limit"`      // max concurrent calls per provider
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"` // redis sliding-window limit per provider
}

type WorkerConfig struct {
	Pool            int           `yaml:"pool"`          // continuation pool size
	DriverBudget    time.Duration `yaml:"driver_budget"` // per-invocation time budget
	TaskBatch       int           `yaml:"task_batch"`    // tasks popped per ledger round-trip
	RetryMax        int           `yaml:"retry_max"`     // retries after the first provider call
	BreakerTrips    int           `yaml:"breaker_trips"` // consecutive failures before opening
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type SchedulerConfig struct {
	DailyAt string `yaml:"daily_at"` // "HH:MM" UTC; empty disables the in-process trigger
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Providers ProviderConfig  `yaml:"providers"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// env overrides for secrets
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("SERVICE_SECRET"); v != "" {
		cfg.Server.ServiceSecret = v
	}
	if v := os.Getenv("TRIGGER_SECRET"); v != "" {
		cfg.Server.TriggerSecret = v
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Providers.ConcurrentLimit <= 0 {
		cfg.Providers.ConcurrentLimit = 8
	}
	if cfg.Providers.RateLimitPerMinute <= 0 {
		cfg.Providers.RateLimitPerMinute = 60
	}
	if cfg.Providers.DefaultModel == "" {
		cfg.Providers.DefaultModel = "gpt-4o-mini"
	}
	if cfg.Worker.Pool <= 0 {
		cfg.Worker.Pool = 4
	}
	if cfg.Worker.DriverBudget <= 0 {
		cfg.Worker.DriverBudget = 55 * time.Second
	}
	if cfg.Worker.TaskBatch <= 0 {
		cfg.Worker.TaskBatch = 10
	}
	if cfg.Worker.RetryMax <= 0 {
		cfg.Worker.RetryMax = 3
	}
	if cfg.Worker.BreakerTrips <= 0 {
		cfg.Worker.BreakerTrips = 5
	}
	if cfg.Worker.BreakerCooldown <= 0 {
		cfg.Worker.BreakerCooldown = time.Minute
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
