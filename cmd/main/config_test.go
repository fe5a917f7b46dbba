package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if *cfg != *DefaultConfig() {
		t.Errorf("LoadConfig() = %+v, want defaults", cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default config was not written: %v", err)
	}
	var onDisk Config
	if err = json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("written config is not valid JSON: %v", err)
	}
	if onDisk != *cfg {
		t.Errorf("config on disk = %+v, want %+v", onDisk, cfg)
	}
}

func TestLoadConfigKeepsDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"order": 3, "seed": 9}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	want := DefaultConfig()
	want.Order = 3
	want.Seed = 9
	if *cfg != *want {
		t.Errorf("LoadConfig() = %+v, want %+v", cfg, want)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	testCases := []struct {
		name          string
		content       string
		errorContains string
	}{
		{"Malformed JSON", `{"order": `, "failed to parse"},
		{"Zero order", `{"order": 0}`, "order must be at least 1"},
		{"Negative max", `{"max_length": -1}`, "max_length"},
		{"Unknown log level", `{"log_level": "loud"}`, "unknown log level"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("expected an error but got none")
			}
			if !strings.Contains(err.Error(), tc.errorContains) {
				t.Errorf("expected error to contain %q, got %q", tc.errorContains, err.Error())
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	testCases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tc := range testCases {
		got, err := parseLogLevel(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("parseLogLevel(%q) = %v, %v; want %v, error %v", tc.in, got, err, tc.want, tc.wantErr)
		}
	}
}

func TestConfigManagerUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cm, err := NewConfigManager(path)
	if err != nil {
		t.Fatalf("NewConfigManager() error = %v", err)
	}
	cm.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	updated := cm.Get()
	updated.TopK = 5
	if err = cm.Update(updated); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if cm.Get().TopK != 5 {
		t.Errorf("Get().TopK = %d, want 5", cm.Get().TopK)
	}
	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.TopK != 5 {
		t.Errorf("TopK on disk = %d, want 5", reloaded.TopK)
	}

	bad := cm.Get()
	bad.Order = 0
	if err = cm.Update(bad); err == nil {
		t.Error("expected Update() to reject order 0")
	}
	if cm.Get().Order != DefaultConfig().Order {
		t.Errorf("rejected update changed the config: %+v", cm.Get())
	}
}
