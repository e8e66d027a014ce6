package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DUELLO_CONFIG", "DUELLO_BASE_URL", "DUELLO_EVENTS_URL", "DUELLO_USER_ID",
		"DUELLO_USER_CODE", "REDIS_URL", "DATABASE_URL", "DUELLO_MODE",
		"DUELLO_QUESTION_SECONDS", "DUELLO_MSG_DIR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DUELLO_BASE_URL", "https://duello.example.com/")
	t.Setenv("DUELLO_USER_ID", "u1")
	t.Setenv("DUELLO_QUESTION_SECONDS", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://duello.example.com" {
		t.Fatalf("base url not trimmed: %q", cfg.BaseURL)
	}
	if cfg.EventsURL != "https://duello.example.com/api/duello/events" {
		t.Fatalf("events url not derived: %q", cfg.EventsURL)
	}
	if cfg.PerQuestionSeconds != 30 {
		t.Fatalf("question seconds: %d", cfg.PerQuestionSeconds)
	}
	if cfg.DefaultMode != "info" {
		t.Fatalf("default mode: %q", cfg.DefaultMode)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "duello.yaml")
	body := []byte("base_url: https://file.example.com\nuser_id: file-user\nmode: speed\nquestion_seconds: 12\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DUELLO_CONFIG", path)
	t.Setenv("DUELLO_USER_ID", "env-user")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://file.example.com" {
		t.Fatalf("file value lost: %q", cfg.BaseURL)
	}
	if cfg.UserID != "env-user" {
		t.Fatalf("env must override file, got %q", cfg.UserID)
	}
	if cfg.DefaultMode != "speed" || cfg.PerQuestionSeconds != 12 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadRequiredFields(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected error without base url")
	}

	t.Setenv("DUELLO_BASE_URL", "https://duello.example.com")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without user id")
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("DUELLO_BASE_URL", "https://duello.example.com")
	t.Setenv("DUELLO_USER_ID", "u1")
	t.Setenv("DUELLO_MODE", "turbo")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
