package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName+".yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.File != "" {
		t.Fatalf("File = %q, want none", cfg.File)
	}
	if cfg.ThumbnailWidth != 512 || cfg.UndoLimit != 100 || cfg.Renderer != "vbo" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Workers <= 0 {
		t.Fatalf("Workers = %d", cfg.Workers)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
map_paths: [maps, lots]
thumbnail_width: 256
undo_limit: 20
use256: true
renderer: direct
log:
  level: debug
  format: json
`)
	t.Setenv("WORLDED_UNDO_LIMIT", "7")
	t.Setenv("WORLDED_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.File != path {
		t.Fatalf("File = %q", cfg.File)
	}
	if len(cfg.MapPaths) != 2 || cfg.MapPaths[1] != "lots" {
		t.Fatalf("MapPaths = %v", cfg.MapPaths)
	}
	if cfg.ThumbnailWidth != 256 || !cfg.Use256 || cfg.Renderer != "direct" {
		t.Fatalf("file values = %+v", cfg)
	}
	if cfg.UndoLimit != 7 {
		t.Fatalf("UndoLimit = %d, want env override 7", cfg.UndoLimit)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Fatalf("Log = %+v", cfg.Log)
	}
}

func TestLoadSearchPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(dir)
	writeConfig(t, dir, "thumbnail_width: 128\n")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ThumbnailWidth != 128 {
		t.Fatalf("ThumbnailWidth = %d", cfg.ThumbnailWidth)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"renderer", "renderer: opengl\n", "renderer"},
		{"undo", "undo_limit: 0\n", "undo_limit"},
		{"level", "log:\n  level: loud\n", "log level"},
		{"format", "log:\n  format: xml\n", "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing explicit file accepted")
	}
}

func TestFindMap(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	if err := os.WriteFile(filepath.Join(b, "barn.map.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &Config{MapPaths: []string{a, b}}

	tests := []struct {
		in, want string
	}{
		{"barn.map.json", filepath.Join(b, "barn.map.json")},
		{"silo.map.json", "silo.map.json"},
		{filepath.Join("lots", "barn.map.json"), filepath.Join("lots", "barn.map.json")},
	}
	for _, tt := range tests {
		if got := cfg.FindMap(tt.in); got != tt.want {
			t.Errorf("FindMap(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worlded.log")
	log, err := NewLogger(Log{Level: "info", Format: "console", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("hidden")
	log.Info("loaded world")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"loaded world"`) {
		t.Fatalf("log file = %s", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Fatal("debug entry written at info level")
	}

	if _, err := NewLogger(Log{Level: "nope"}); err == nil {
		t.Fatal("bad level accepted")
	}
}

func TestDefaultFileLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worlded.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ThumbnailWidth != 512 || cfg.UndoLimit != 100 || cfg.Workers <= 0 {
		t.Fatalf("default file = %+v", cfg)
	}
	if err := WriteDefault(path); err == nil {
		t.Fatal("existing config overwritten")
	}
}
