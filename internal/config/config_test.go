package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithNoFileOrFlagsUsesDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, nil, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"tcpPort": 7000, "dataPath": "/var/data"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TcpPort != 7000 || cfg.DataPath != "/var/data" {
		t.Fatalf("expected file values to override defaults, got %+v", cfg)
	}
	if cfg.WorkerPoolSize != Default().WorkerPoolSize {
		t.Fatalf("expected an unset field to keep its default, got %d", cfg.WorkerPoolSize)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"tcpPort": 7000}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, []string{"-tcp-port", "9999"}, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TcpPort != 9999 {
		t.Fatalf("expected the flag to win over the file, got %d", cfg.TcpPort)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, nil, "/no/such/config.json")
	if err != nil {
		t.Fatalf("expected a missing config file to be tolerated, got %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults when the config file is absent, got %+v", cfg)
	}
}

func TestIsDevReflectsEnvVar(t *testing.T) {
	t.Setenv("ENV", "dev")
	if !IsDev() {
		t.Fatalf("expected IsDev to be true when ENV=dev")
	}
	t.Setenv("ENV", "prod")
	if IsDev() {
		t.Fatalf("expected IsDev to be false when ENV=prod")
	}
}
