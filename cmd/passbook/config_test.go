package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xraph/passbook/extension"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(newViper())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Driver != extension.DriverMemory {
		t.Errorf("driver = %q", cfg.Driver)
	}
	if cfg.BatchSize != 450 {
		t.Errorf("batch size = %d", cfg.BatchSize)
	}
	if cfg.RetentionWindow != 30*24*time.Hour {
		t.Errorf("retention window = %v", cfg.RetentionWindow)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.HTTP.ShutdownTimeout != 10*time.Second {
		t.Errorf("http = %+v", cfg.HTTP)
	}
}

func TestLoadConfigSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passbook.yaml")
	file := `
driver: sqlite
dsn: /tmp/from-file.db
batch_size: 100
retention_window: 48h
log:
  format: json
`
	if err := os.WriteFile(path, []byte(file), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PASSBOOK_BATCH_SIZE", "25")

	cmd := newRootCommand()
	if err := cmd.PersistentFlags().Set("config", path); err != nil {
		t.Fatal(err)
	}
	if err := cmd.PersistentFlags().Set("dsn", "/tmp/from-flag.db"); err != nil {
		t.Fatal(err)
	}

	// The root command owns its viper instance; rebuild one bound the same way.
	v := newViper()
	bindFlags(v, cmd, map[string]string{
		"config": "config",
		"dsn":    "dsn",
	}, true)

	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"file", cfg.Driver, extension.DriverSQLite},
		{"flag beats file", cfg.DSN, "/tmp/from-flag.db"},
		{"env beats file", cfg.BatchSize, 25},
		{"file duration", cfg.RetentionWindow, 48 * time.Hour},
		{"file log format", cfg.Log.Format, "json"},
		{"default", cfg.Log.Level, "info"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	v := newViper()
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := loadConfig(v); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(logConfig{Format: "json", Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept", "k", "v")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"kept"`) {
		t.Errorf("expected json warn line, got %s", out)
	}

	for _, bad := range []logConfig{{Format: "xml", Level: "info"}, {Format: "text", Level: "loud"}} {
		if _, err := newLogger(bad, &buf); err == nil {
			t.Errorf("newLogger(%+v) succeeded", bad)
		}
	}
}
