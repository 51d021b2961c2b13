package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `{"outputPath": "/var/log/dirwatchd.log", "dirs": [{"path": "/var/data"}, {"path": "/home/alice"}]}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutputPath != "/var/log/dirwatchd.log" {
		t.Errorf("OutputPath = %q", cfg.OutputPath)
	}
	if len(cfg.Dirs) != 2 || cfg.Dirs[0].Path != "/var/data" || cfg.Dirs[1].Path != "/home/alice" {
		t.Errorf("Dirs = %+v", cfg.Dirs)
	}
}

func TestLoadDedupesDirsPreservingOrder(t *testing.T) {
	path := writeConfig(t, `{"outputPath": "/var/log/dirwatchd.log", "dirs": [{"path": "/a"}, {"path": "/b"}, {"path": "/a"}]}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Dirs) != 2 || cfg.Dirs[0].Path != "/a" || cfg.Dirs[1].Path != "/b" {
		t.Errorf("Dirs = %+v", cfg.Dirs)
	}
}

func TestLoadMissingOutputPathIsError(t *testing.T) {
	path := writeConfig(t, `{"dirs": [{"path": "/a"}]}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing outputPath")
	}
}

func TestLoadMissingDirsIsError(t *testing.T) {
	path := writeConfig(t, `{"outputPath": "/var/log/dirwatchd.log", "dirs": []}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty dirs")
	}
}

func TestLoadMissingFileIsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadMalformedJSONIsError(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestConfigPathRespectsEnvOverride(t *testing.T) {
	t.Setenv("DIRWATCHD_CONFIG", "/tmp/custom-config.json")
	if got := ConfigPath(); got != "/tmp/custom-config.json" {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestConfigPathDefault(t *testing.T) {
	t.Setenv("DIRWATCHD_CONFIG", "")
	if got := ConfigPath(); got != "/etc/dirwatchd/config.json" {
		t.Errorf("ConfigPath() = %q", got)
	}
}
