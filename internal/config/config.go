package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port" env:"QUIZROOM_PORT"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr" env:"QUIZROOM_REDIS_ADDR"`
		Password string `yaml:"password" env:"QUIZROOM_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"QUIZROOM_REDIS_DB"`
		TTL      string `yaml:"ttl" env:"QUIZROOM_REDIS_TTL"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" env:"QUIZROOM_POSTGRES_URL"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl" env:"QUIZROOM_QUIZ_TTL"`
	} `yaml:"quiz"`
	Room struct {
		GracePeriod    string `yaml:"grace_period" env:"QUIZROOM_ROOM_GRACE_PERIOD"`
		MaxPlayers     int    `yaml:"max_players" env:"QUIZROOM_ROOM_MAX_PLAYERS"`
		AnswerDeadline string `yaml:"answer_deadline" env:"QUIZROOM_ROOM_ANSWER_DEADLINE"`
		OutboxSize     int    `yaml:"outbox_size" env:"QUIZROOM_ROOM_OUTBOX_SIZE"`
	} `yaml:"room"`
	Auth struct {
		Secret     string `yaml:"secret" env:"QUIZROOM_AUTH_SECRET"`
		Issuer     string `yaml:"issuer" env:"QUIZROOM_AUTH_ISSUER"`
		CookieName string `yaml:"cookie_name" env:"QUIZROOM_AUTH_COOKIE_NAME"`
		// AllowedOrigins are extra browser origins allowed to open the socket.
		AllowedOrigins []string `yaml:"allowed_origins" env:"QUIZROOM_AUTH_ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"auth"`
	Log struct {
		Level       string `yaml:"level" env:"QUIZROOM_LOG_LEVEL"`
		Development bool   `yaml:"development" env:"QUIZROOM_LOG_DEVELOPMENT"`
	} `yaml:"log"`
}

// Load reads YAML config from path, then applies QUIZROOM_* environment overrides.
// A missing file is not an error when the environment carries the configuration.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return cfg, err
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

// IntOr returns v, or fallback when v is not positive.
func IntOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
