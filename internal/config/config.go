package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/efebarandurmaz/bugtracker/internal/bug"
	"github.com/efebarandurmaz/bugtracker/internal/bugzilla"
	"github.com/efebarandurmaz/bugtracker/internal/depgraph"
	"github.com/efebarandurmaz/bugtracker/internal/fetch"
	"github.com/efebarandurmaz/bugtracker/internal/table"
)

// EnvPrefix prefixes environment overrides: graph.max_depth is read from
// TRACKER_GRAPH_MAX_DEPTH.
const EnvPrefix = "TRACKER"

// Config holds all application configuration.
type Config struct {
	Bugzilla  BugzillaConfig  `mapstructure:"bugzilla"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

type BugzillaConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type GraphConfig struct {
	MaxDepth    int    `mapstructure:"max_depth"`
	ChunkSize   int    `mapstructure:"chunk_size"`
	DefaultRoot string `mapstructure:"default_root"`

	// Aliases add to the built-in alias table. Viper lowercases map keys,
	// so alias names are case-insensitive.
	Aliases map[string]string `mapstructure:"aliases"`

	NotifyInterval time.Duration `mapstructure:"notify_interval"`
	// StuckAfter marks a cycle degraded in health checks. Zero disables it.
	StuckAfter time.Duration `mapstructure:"stuck_after"`

	Marker MarkerConfig `mapstructure:"marker"`
	// Tag is the whiteboard project tag, as in "[Australis:P1]".
	Tag string `mapstructure:"tag"`
}

type MarkerConfig struct {
	Field   string `mapstructure:"field"`
	Pattern string `mapstructure:"pattern"`
}

type DashboardConfig struct {
	Listen string `mapstructure:"listen"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Output  string `mapstructure:"output"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Bugzilla: BugzillaConfig{
			BaseURL: bugzilla.DefaultBaseURL,
			Timeout: 30 * time.Second,
			Burst:   1,
		},
		Graph: GraphConfig{
			MaxDepth:       fetch.DefaultMaxDepth,
			ChunkSize:      depgraph.DefaultChunkSize,
			DefaultRoot:    bugzilla.DefaultRoot,
			NotifyInterval: fetch.DefaultNotifyInterval,
			StuckAfter:     5 * time.Minute,
			Marker: MarkerConfig{
				Field:   bug.FieldWhiteboard,
				Pattern: bug.DefaultMarkerPattern,
			},
			Tag: table.DefaultTag,
		},
		Dashboard: DashboardConfig{Listen: ":9090"},
		Log:       LogConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "bugtracker",
			Environment: "development",
			SampleRate:  1.0,
		},
		Audit: AuditConfig{Output: "stderr"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("bugzilla.base_url", d.Bugzilla.BaseURL)
	v.SetDefault("bugzilla.api_key", d.Bugzilla.APIKey)
	v.SetDefault("bugzilla.user_agent", d.Bugzilla.UserAgent)
	v.SetDefault("bugzilla.timeout", d.Bugzilla.Timeout)
	v.SetDefault("bugzilla.requests_per_second", d.Bugzilla.RequestsPerSecond)
	v.SetDefault("bugzilla.burst", d.Bugzilla.Burst)

	v.SetDefault("graph.max_depth", d.Graph.MaxDepth)
	v.SetDefault("graph.chunk_size", d.Graph.ChunkSize)
	v.SetDefault("graph.default_root", d.Graph.DefaultRoot)
	v.SetDefault("graph.aliases", map[string]string{})
	v.SetDefault("graph.notify_interval", d.Graph.NotifyInterval)
	v.SetDefault("graph.stuck_after", d.Graph.StuckAfter)
	v.SetDefault("graph.marker.field", d.Graph.Marker.Field)
	v.SetDefault("graph.marker.pattern", d.Graph.Marker.Pattern)
	v.SetDefault("graph.tag", d.Graph.Tag)

	v.SetDefault("dashboard.listen", d.Dashboard.Listen)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.output", d.Audit.Output)
}

// AliasTable returns the built-in alias table extended by the configured
// aliases.
func (c GraphConfig) AliasTable() bugzilla.Aliases {
	aliases := bugzilla.DefaultAliases()
	for name, id := range c.Aliases {
		aliases[strings.ToLower(name)] = id
	}
	return aliases
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if u, err := url.Parse(c.Bugzilla.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		warnings = append(warnings, fmt.Sprintf("bugzilla base_url %q is not an absolute URL", c.Bugzilla.BaseURL))
	}
	if c.Bugzilla.RequestsPerSecond < 0 {
		warnings = append(warnings, fmt.Sprintf("bugzilla requests_per_second %.2f is negative; requests are unlimited", c.Bugzilla.RequestsPerSecond))
	}

	if c.Graph.MaxDepth < 0 {
		warnings = append(warnings, fmt.Sprintf("graph max_depth %d is negative; using %d", c.Graph.MaxDepth, fetch.DefaultMaxDepth))
	}
	if c.Graph.ChunkSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("graph chunk_size %d must be positive; using %d", c.Graph.ChunkSize, depgraph.DefaultChunkSize))
	}
	if c.Graph.StuckAfter < 0 {
		warnings = append(warnings, fmt.Sprintf("graph stuck_after %s is negative; the stuck-cycle check is off", c.Graph.StuckAfter))
	}
	if c.Graph.Marker.Pattern != "" {
		if _, err := regexp.Compile(c.Graph.Marker.Pattern); err != nil {
			warnings = append(warnings, fmt.Sprintf("graph marker pattern %q does not compile: %v", c.Graph.Marker.Pattern, err))
		}
	}
	for name, id := range c.Graph.Aliases {
		if _, ok := bug.ID(id).Int(); !ok {
			warnings = append(warnings, fmt.Sprintf("graph alias %q maps to non-numeric bug %q", name, id))
		}
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		warnings = append(warnings, fmt.Sprintf("log level %q is unknown; using info", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		warnings = append(warnings, fmt.Sprintf("log format %q is unknown; using text", c.Log.Format))
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		warnings = append(warnings, "tracing is enabled but endpoint is empty")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}

	return warnings
}

// Loader reads configuration from an optional file and the environment,
// and can watch the file for changes.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a loader for path. An empty path reads only defaults
// and the environment.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v, path: path}
}

// Path returns the config file path, if any.
func (l *Loader) Path() string {
	return l.path
}

// Load reads and decodes the configuration.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Watch calls fn with the re-read configuration whenever the file
// changes. It does nothing without a config file. fn runs on viper's
// watcher goroutine.
func (l *Loader) Watch(fn func(cfg *Config, err error)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fn(l.decode())
	})
	l.v.WatchConfig()
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	cfg, err := NewLoader(path).Load()
	if err != nil {
		return nil, err
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return cfg, nil
}

// NewLogger builds a logger from the log section. Unknown levels fall
// back to info and unknown formats to text.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
