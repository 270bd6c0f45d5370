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

type Config struct {
	Server    Server    `yaml:"server"`
	Redis     Redis     `yaml:"redis"`
	Postgres  Postgres  `yaml:"postgres"`
	Questions Questions `yaml:"questions"`
	Session   Session   `yaml:"session"`
	Heartbeat Heartbeat `yaml:"heartbeat"`
	Log       Log       `yaml:"log"`
}

type Server struct {
	Port string `yaml:"port" env:"PORT"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	TTL      string `yaml:"ttl" env:"REDIS_TTL"`
}

type Postgres struct {
	URL string `yaml:"url" env:"POSTGRES_URL"`
}

type Questions struct {
	TTL           string `yaml:"ttl" env:"QUESTIONS_TTL"`
	DefaultAmount int    `yaml:"default_amount" env:"QUESTIONS_DEFAULT_AMOUNT"`
}

type Session struct {
	// LiveDelay is how long a question stays in preparing before answers open.
	LiveDelay  string `yaml:"live_delay" env:"SESSION_LIVE_DELAY"`
	SendBuffer int    `yaml:"send_buffer" env:"SESSION_SEND_BUFFER"`
}

type Heartbeat struct {
	Interval      string `yaml:"interval" env:"HEARTBEAT_INTERVAL"`
	TimeoutFactor int    `yaml:"timeout_factor" env:"HEARTBEAT_TIMEOUT_FACTOR"`
}

type Log struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Default is the configuration used when nothing else is provided.
func Default() Config {
	return Config{
		Server:    Server{Port: "8080"},
		Redis:     Redis{TTL: "24h"},
		Questions: Questions{TTL: "10m", DefaultAmount: 10},
		Session:   Session{LiveDelay: "2s", SendBuffer: 64},
		Heartbeat: Heartbeat{Interval: "10s", TimeoutFactor: 3},
		Log:       Log{Level: "info", Format: "text"},
	}
}

// Load reads YAML config from path, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
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
	}
	if err := env.Parse(&cfg); err != nil {
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
