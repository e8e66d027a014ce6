package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

type AppConfig struct {
	BaseURL   string `yaml:"base_url"`
	EventsURL string `yaml:"events_url"`

	UserID   string `yaml:"user_id"`
	UserCode string `yaml:"user_code"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	DefaultMode        string `yaml:"mode"`
	PerQuestionSeconds int    `yaml:"question_seconds"`

	MsgDir string `yaml:"msg_dir"`
}

// Load reads the optional YAML file pointed at by DUELLO_CONFIG, then lets
// environment variables override individual fields.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		DefaultMode:        "info",
		PerQuestionSeconds: 24,
	}

	if path := strings.TrimSpace(os.Getenv("DUELLO_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("DUELLO_BASE_URL")); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DUELLO_EVENTS_URL")); v != "" {
		cfg.EventsURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DUELLO_USER_ID")); v != "" {
		cfg.UserID = v
	}
	if v := strings.TrimSpace(os.Getenv("DUELLO_USER_CODE")); v != "" {
		cfg.UserCode = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DUELLO_MODE")); v != "" {
		cfg.DefaultMode = v
	}
	if v := strings.TrimSpace(os.Getenv("DUELLO_QUESTION_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PerQuestionSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DUELLO_MSG_DIR")); v != "" {
		cfg.MsgDir = v
	}

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.EventsURL == "" && cfg.BaseURL != "" {
		cfg.EventsURL = cfg.BaseURL + "/api/duello/events"
	}

	switch cfg.DefaultMode {
	case "info", "speed":
	default:
		return nil, fmt.Errorf("invalid mode %q (want info or speed)", cfg.DefaultMode)
	}

	if cfg.BaseURL == "" {
		return nil, errors.New("DUELLO_BASE_URL is required")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, errors.New("DUELLO_USER_ID is required")
	}

	return cfg, nil
}
