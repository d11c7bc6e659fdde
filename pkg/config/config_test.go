package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Engine.MaxCallDepth != DefaultMaxCallDepth {
		t.Errorf("default call depth: got %d, want %d", cfg.Engine.MaxCallDepth, DefaultMaxCallDepth)
	}
	if cfg.Engine.MaxInstructions != 0 {
		t.Errorf("instruction limit should default to disabled, got %d", cfg.Engine.MaxInstructions)
	}
	if cfg.Cache.Enabled {
		t.Error("cache should default to disabled")
	}
	if cfg.Trace.Instructions {
		t.Error("tracing should default to off")
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Engine.MaxCallDepth != DefaultMaxCallDepth {
		t.Errorf("got call depth %d, want %d", cfg.Engine.MaxCallDepth, DefaultMaxCallDepth)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	doc := `
[engine]
max_call_depth = 64
max_instructions = 100000

[cache]
enabled = true
path = "/tmp/blocks.db"

[trace]
instructions = true
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.MaxCallDepth != 64 {
		t.Errorf("call depth: got %d, want 64", cfg.Engine.MaxCallDepth)
	}
	if cfg.Engine.MaxInstructions != 100000 {
		t.Errorf("instruction limit: got %d, want 100000", cfg.Engine.MaxInstructions)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Path != "/tmp/blocks.db" {
		t.Errorf("cache: %+v", cfg.Cache)
	}
	if !cfg.Trace.Instructions {
		t.Error("tracing should be on")
	}
}

func TestLoadPartialDocumentKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[cache]\nenabled = true\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.MaxCallDepth != DefaultMaxCallDepth {
		t.Errorf("unset call depth should fall back to %d, got %d",
			DefaultMaxCallDepth, cfg.Engine.MaxCallDepth)
	}
	if !cfg.Cache.Enabled {
		t.Error("cache setting lost")
	}
}

func TestLoadNegativeDepthFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[engine]\nmax_call_depth = -1\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.MaxCallDepth != DefaultMaxCallDepth {
		t.Errorf("got %d, want %d", cfg.Engine.MaxCallDepth, DefaultMaxCallDepth)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[engine\nmax_call_depth = 1"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatal("malformed TOML should fail")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error should name the file: %v", err)
	}
}
