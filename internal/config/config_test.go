package config

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_NoWarnings(t *testing.T) {
	if warnings := Default().Validate(); len(warnings) != 0 {
		t.Errorf("default config should have no warnings, got %v", warnings)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		want   string // substring of the expected warning
	}{
		{"relative base url", func(c *Config) { c.Bugzilla.BaseURL = "bugzilla.local" }, "base_url"},
		{"negative rate", func(c *Config) { c.Bugzilla.RequestsPerSecond = -1 }, "requests_per_second"},
		{"negative depth", func(c *Config) { c.Graph.MaxDepth = -1 }, "max_depth"},
		{"zero chunk", func(c *Config) { c.Graph.ChunkSize = 0 }, "chunk_size"},
		{"negative stuck", func(c *Config) { c.Graph.StuckAfter = -time.Second }, "stuck_after"},
		{"bad marker", func(c *Config) { c.Graph.Marker.Pattern = "([" }, "marker pattern"},
		{"bad alias", func(c *Config) { c.Graph.Aliases = map[string]string{"x": "abc"} }, "alias"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"tracing no endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Endpoint = "" }, "endpoint"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			warnings := cfg.Validate()
			if len(warnings) != 1 || !strings.Contains(warnings[0], tt.want) {
				t.Errorf("expected one warning about %q, got %v", tt.want, warnings)
			}
		})
	}
}

func TestValidate_ZeroDepthIsValid(t *testing.T) {
	cfg := Default()
	cfg.Graph.MaxDepth = 0
	if warnings := cfg.Validate(); len(warnings) != 0 {
		t.Errorf("max_depth 0 should be valid, got %v", warnings)
	}
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	writeConfig(t, path, `
bugzilla:
  base_url: https://bugzilla.example.org
  requests_per_second: 2.5
graph:
  max_depth: 2
  chunk_size: 25
  notify_interval: 1s
  aliases:
    Customize: "1234"
dashboard:
  listen: ":8081"
log:
  format: json
`)
	t.Setenv("TRACKER_GRAPH_MAX_DEPTH", "7")
	t.Setenv("TRACKER_BUGZILLA_API_KEY", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bugzilla.BaseURL != "https://bugzilla.example.org" || cfg.Bugzilla.RequestsPerSecond != 2.5 {
		t.Errorf("unexpected bugzilla config %+v", cfg.Bugzilla)
	}
	if cfg.Bugzilla.APIKey != "secret" {
		t.Errorf("expected api key from environment, got %q", cfg.Bugzilla.APIKey)
	}
	if cfg.Graph.MaxDepth != 7 {
		t.Errorf("expected environment to override max_depth, got %d", cfg.Graph.MaxDepth)
	}
	if cfg.Graph.ChunkSize != 25 || cfg.Graph.NotifyInterval != time.Second {
		t.Errorf("unexpected graph config %+v", cfg.Graph)
	}
	if cfg.Dashboard.Listen != ":8081" || cfg.Log.Format != "json" {
		t.Errorf("unexpected dashboard/log config %+v %+v", cfg.Dashboard, cfg.Log)
	}

	// Unset keys keep their defaults.
	if cfg.Graph.DefaultRoot != Default().Graph.DefaultRoot || cfg.Graph.Tag != "Australis" {
		t.Errorf("expected defaults for unset keys, got %+v", cfg.Graph)
	}

	aliases := cfg.Graph.AliasTable()
	if aliases.Resolve("customize") != "1234" {
		t.Errorf("expected lowercased configured alias, got %v", aliases)
	}
	if aliases.Resolve("australis-meta") != "870032" {
		t.Errorf("expected built-in alias to survive, got %v", aliases)
	}
}

func TestAliasTable_IgnoresCase(t *testing.T) {
	g := Default().Graph
	g.Aliases = map[string]string{"UITour": "862998"}

	aliases := g.AliasTable()
	for _, root := range []string{"UITour", "uitour", "UITOUR"} {
		if got := aliases.Resolve(root); got != "862998" {
			t.Errorf("Resolve(%q) = %q, expected 862998", root, got)
		}
	}
}

func TestLoad_WithoutFile(t *testing.T) {
	cfg, err := NewLoader("").Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Graph.MaxDepth != Default().Graph.MaxDepth || cfg.Dashboard.Listen != ":9090" {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoader_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	writeConfig(t, path, "graph:\n  max_depth: 2\n")

	l := NewLoader(path)
	if _, err := l.Load(); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 8)
	l.Watch(func(cfg *Config, err error) {
		if err == nil {
			changed <- cfg
		}
	})

	writeConfig(t, path, "graph:\n  max_depth: 5\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case cfg := <-changed:
			if cfg.Graph.MaxDepth == 5 {
				return
			}
		case <-ctx.Done():
			t.Fatal("expected a reload with max_depth 5")
		}
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf)
	logger.Debug("cycle started", "root", "870032")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q", buf.String())
	}
	if entry["msg"] != "cycle started" || entry["root"] != "870032" {
		t.Errorf("unexpected entry %v", entry)
	}

	buf.Reset()
	logger = LogConfig{Level: "bogus"}.NewLogger(&buf)
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("unknown level should fall back to info")
	}
	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}
