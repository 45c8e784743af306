package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmptyPathReturnsZeroValue(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Defaults.BufferPoolSize != 0 || cfg.Defaults.RotateSeconds != 0 {
		t.Errorf("Defaults = %+v, want zero value with no path given", cfg.Defaults)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load of a missing file should not error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load should return a non-nil zero-value Config for a missing file")
	}
}

func TestLoadAppliesDefaultsWhenFilePresentButFieldsOmitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipfixd.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  console:\n    level: debug\n"), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Defaults.BufferPoolSize != 50000 {
		t.Errorf("BufferPoolSize = %d, want 50000 default", cfg.Defaults.BufferPoolSize)
	}
	if cfg.Defaults.RotateSeconds != 300 {
		t.Errorf("RotateSeconds = %d, want 300 default", cfg.Defaults.RotateSeconds)
	}
	if cfg.Logging.Console.Level != "debug" {
		t.Errorf("Logging.Console.Level = %q, want debug", cfg.Logging.Console.Level)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	yamlContent := `
defaults:
  buffer_pool_size: 1000
  rotate_seconds: 60
logging:
  console:
    enabled: true
    level: info
    format: text
  file:
    enabled: true
    level: warn
    format: json
    path: /var/log/ipfixd.log
metrics:
  enabled: true
  listen: ":9100"
alert:
  enabled: true
  upstream_url: "https://example.internal/hook"
  insecure_skip_verify: true
`
	path := filepath.Join(t.TempDir(), "full.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Defaults.BufferPoolSize != 1000 || cfg.Defaults.RotateSeconds != 60 {
		t.Errorf("Defaults = %+v, want explicit non-default values preserved", cfg.Defaults)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != ":9100" {
		t.Errorf("Metrics = %+v, want enabled on :9100", cfg.Metrics)
	}
	if !cfg.Alert.Enabled || cfg.Alert.UpstreamURL != "https://example.internal/hook" || !cfg.Alert.InsecureSkipVerify {
		t.Errorf("Alert = %+v, did not parse as expected", cfg.Alert)
	}
	if !cfg.Logging.File.Enabled || cfg.Logging.File.Path != "/var/log/ipfixd.log" {
		t.Errorf("Logging.File = %+v, did not parse as expected", cfg.Logging.File)
	}
}

func TestLoadMalformedYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("defaults: [this is not a mapping"), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}
