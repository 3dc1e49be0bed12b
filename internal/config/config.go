package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is read from YAML and then overridden by QUIZ_* environment variables.
type Config struct {
	Server struct {
		Port string `yaml:"port" env:"PORT"`
	} `yaml:"server" envPrefix:"SERVER_"`
	Redis struct {
		Addr     string `yaml:"addr" env:"ADDR"`
		Password string `yaml:"password" env:"PASSWORD"`
		DB       int    `yaml:"db" env:"DB"`
		TTL      string `yaml:"ttl" env:"TTL"`
	} `yaml:"redis" envPrefix:"REDIS_"`
	Postgres struct {
		URL string `yaml:"url" env:"URL"`
	} `yaml:"postgres" envPrefix:"POSTGRES_"`
	Quiz struct {
		TTL string `yaml:"ttl" env:"TTL"`
	} `yaml:"quiz" envPrefix:"QUIZ_"`
	Auth struct {
		Secret string `yaml:"secret" env:"SECRET"`
		Issuer string `yaml:"issuer" env:"ISSUER"`
	} `yaml:"auth" envPrefix:"AUTH_"`
	Session struct {
		SweepSchedule string `yaml:"sweepSchedule" env:"SWEEP_SCHEDULE"`
		EvictAfter    string `yaml:"evictAfter" env:"EVICT_AFTER"`
	} `yaml:"session" envPrefix:"SESSION_"`
	Mirror struct {
		Workers      int    `yaml:"workers" env:"WORKERS"`
		Attempts     int    `yaml:"attempts" env:"ATTEMPTS"`
		Backoff      string `yaml:"backoff" env:"BACKOFF"`
		Retention    int    `yaml:"retention" env:"RETENTION"`
		Outbox       int    `yaml:"outbox" env:"OUTBOX"`
		DrainTimeout string `yaml:"drainTimeout" env:"DRAIN_TIMEOUT"`
	} `yaml:"mirror" envPrefix:"MIRROR_"`
	Log struct {
		Level       string `yaml:"level" env:"LEVEL"`
		Development bool   `yaml:"development" env:"DEVELOPMENT"`
	} `yaml:"log" envPrefix:"LOG_"`
}

// Load reads YAML config from path, then applies environment overrides.
// A missing file is not an error; the environment alone may configure the service.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "QUIZ_"}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
