package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/orchestra/pkg/model"
)

// Config is the full orchestra daemon configuration.
type Config struct {
	Server    ServerConfig        `yaml:"server"`
	DBPath    string              `yaml:"db_path"` // SQLite path, ":memory:" for testing
	Ollama    OllamaConfig        `yaml:"ollama"`
	Redis     RedisConfig         `yaml:"redis"`
	Health    HealthConfig        `yaml:"health"`
	Dispatch  DispatchConfig      `yaml:"dispatch"`
	History   HistoryConfig       `yaml:"history"`
	Scheduler SchedulerConfig     `yaml:"scheduler"`
	Affinity  map[string][]string `yaml:"affinity"`

	Resources []model.Resource       `yaml:"resources"`
	Tasks     []model.TaskDefinition `yaml:"tasks"`
	Schedules []model.ScheduleSpec   `yaml:"schedules"`
}

// ServerConfig holds configuration for the HTTP API.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// OllamaConfig points at the local inference provider. An empty URL disables
// discovery and the monitor treats the pool as healthy.
type OllamaConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig enables the optional redis mirror when Addr is set.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Prefix    string        `yaml:"prefix"`
	StatusTTL time.Duration `yaml:"status_ttl"`
	MaxLen    int64         `yaml:"max_len"`
}

// HealthConfig tunes the probe and refresh loops.
type HealthConfig struct {
	ProbeInterval   time.Duration `yaml:"probe_interval"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
}

// DispatchConfig tunes the worker pool.
type DispatchConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	QueueSize      int           `yaml:"queue_size"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// HistoryConfig sizes the in-memory ring.
type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// SchedulerConfig controls cron evaluation.
type SchedulerConfig struct {
	Timezone     string `yaml:"timezone"`
	LoadDefaults bool   `yaml:"load_defaults"`
}

// Default returns sensible defaults, including the stock task catalog and
// seed schedules.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:      ":8080",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Ollama: OllamaConfig{Timeout: 30 * time.Second},
		Redis: RedisConfig{
			Prefix:    "orchestra",
			StatusTTL: 10 * time.Minute,
			MaxLen:    1000,
		},
		Health: HealthConfig{
			ProbeInterval:   30 * time.Second,
			RefreshInterval: 5 * time.Minute,
			ProbeTimeout:    5 * time.Second,
		},
		Dispatch: DispatchConfig{
			MaxConcurrent:  3,
			QueueSize:      256,
			DefaultTimeout: 60 * time.Second,
		},
		History:   HistoryConfig{Capacity: 500},
		Scheduler: SchedulerConfig{Timezone: "Local", LoadDefaults: true},
		Affinity:  DefaultAffinity(),
		Tasks:     DefaultTasks(),
		Schedules: DefaultSchedules(),
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ORCHESTRA_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("ORCHESTRA_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ORCHESTRA_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("ORCHESTRA_OLLAMA_URL"); v != "" {
		c.Ollama.URL = v
	}
	if v := os.Getenv("ORCHESTRA_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("ORCHESTRA_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("ORCHESTRA_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ORCHESTRA_MAX_CONCURRENT: %w", err)
		}
		c.Dispatch.MaxConcurrent = n
	}
	return nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Dispatch.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("dispatch.max_concurrent must be >= 1, got %d", c.Dispatch.MaxConcurrent))
	}
	if c.Health.ProbeInterval <= 0 {
		errs = append(errs, errors.New("health.probe_interval must be positive"))
	}
	if c.Health.RefreshInterval <= 0 {
		errs = append(errs, errors.New("health.refresh_interval must be positive"))
	}
	if c.History.Capacity < 1 {
		errs = append(errs, fmt.Errorf("history.capacity must be >= 1, got %d", c.History.Capacity))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Tasks))
	for _, t := range c.Tasks {
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[t.Ref] {
			errs = append(errs, fmt.Errorf("duplicate task ref %q", t.Ref))
		}
		seen[t.Ref] = true
	}
	return errors.Join(errs...)
}

// Location resolves the scheduler timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}
