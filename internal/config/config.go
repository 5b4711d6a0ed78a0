// Package config loads traviz settings from defaults, an optional
// traviz.yaml, and TRAVIZ_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/relations"
	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

// Config is the root configuration.
type Config struct {
	UI        UIConfig           `mapstructure:"ui"`
	Collector CollectorConfig    `mapstructure:"collector"`
	Storage   StorageConfig      `mapstructure:"storage"`
	Log       LogConfig          `mapstructure:"log"`
	Metrics   MetricsConfig      `mapstructure:"metrics"`
	Cache     CacheConfig        `mapstructure:"cache"`
	Modes     []ModeConfig       `mapstructure:"modes"`
	Filters   []modes.NodeFilter `mapstructure:"filters"`

	Relations     []relations.Relation `mapstructure:"relations"`
	RelationViews []relations.View     `mapstructure:"relation_views"`
}

// UIConfig tunes the viewer.
type UIConfig struct {
	// HandleTolerance is the grab distance of the window handles, in cells.
	HandleTolerance float64 `mapstructure:"handle_tolerance"`
	// ZoomStep is the span scale per wheel notch.
	ZoomStep    float64 `mapstructure:"zoom_step"`
	DefaultMode string  `mapstructure:"default_mode"`
	// InitialWindow is the fraction of the trace selected after a load,
	// anchored at the trace start.
	InitialWindow float64 `mapstructure:"initial_window"`
	LabelWidth    int     `mapstructure:"label_width"`
	GapThreshold  string  `mapstructure:"gap_threshold"`
	// DefaultRelationView is the relation view active after a load.
	DefaultRelationView string `mapstructure:"default_relation_view"`
}

// CollectorConfig points at the trace collector.
type CollectorConfig struct {
	URL     string `mapstructure:"url"`
	Timeout string `mapstructure:"timeout"`
}

// StorageConfig locates the catalog database.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LogConfig controls the structured log. An empty File disables logging.
type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// MetricsConfig enables the status server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// CacheConfig sizes the render cache.
type CacheConfig struct {
	RenderEntries int64 `mapstructure:"render_entries"`
}

// ModeConfig declares a structured mode.
type ModeConfig struct {
	Name      string            `mapstructure:"name"`
	Rules     []modes.Rule      `mapstructure:"rules"`
	ShowNodes []modes.Condition `mapstructure:"show_nodes"`
}

// Mode converts the declaration into a registrable mode.
func (m ModeConfig) Mode() modes.Mode {
	return modes.Mode{Name: m.Name, Options: modes.StructuredOptions{Rules: m.Rules, ShowNodes: m.ShowNodes}}
}

// GapThresholdDuration parses the gap threshold, defaulting to 1ms.
func (c *UIConfig) GapThresholdDuration() time.Duration {
	d, _ := time.ParseDuration(c.GapThreshold)
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

// MinGap returns the gap threshold in trace time.
func (c *UIConfig) MinGap() trace.Time {
	return trace.Time(c.GapThresholdDuration().Nanoseconds())
}

// GetTimeoutDuration parses the collector timeout, defaulting to 30s.
func (c *CollectorConfig) GetTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are plain scalars; decoding them cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ui.handle_tolerance", 1.0)
	v.SetDefault("ui.zoom_step", 0.8)
	v.SetDefault("ui.default_mode", modes.ModeEverything)
	v.SetDefault("ui.initial_window", 1.0)
	v.SetDefault("ui.label_width", 32)
	v.SetDefault("ui.gap_threshold", "1ms")
	v.SetDefault("ui.default_relation_view", relations.NoRelationsView)
	v.SetDefault("collector.url", "http://localhost:8080/raw_trace")
	v.SetDefault("collector.timeout", "30s")
	v.SetDefault("storage.db_path", defaultDBPath())
	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("cache.render_entries", 256)
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "traviz.db"
	}
	return filepath.Join(home, ".traviz", "catalog.db")
}

// Load reads configuration. When path is empty, traviz.yaml is searched in
// the working directory and $HOME/.traviz; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("traviz")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".traviz"))
		}
	}

	v.SetEnvPrefix("TRAVIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and the declared modes, filters, relations
// and relation views.
func (c *Config) Validate() error {
	if c.UI.HandleTolerance < 0 {
		return fmt.Errorf("ui.handle_tolerance must not be negative")
	}
	if c.UI.ZoomStep <= 0 || c.UI.ZoomStep >= 1 {
		return fmt.Errorf("ui.zoom_step must be in (0, 1), got %v", c.UI.ZoomStep)
	}
	if c.UI.InitialWindow <= 0 || c.UI.InitialWindow > 1 {
		return fmt.Errorf("ui.initial_window must be in (0, 1], got %v", c.UI.InitialWindow)
	}
	if c.UI.LabelWidth < 8 {
		return fmt.Errorf("ui.label_width must be at least 8")
	}
	if c.UI.GapThreshold != "" {
		if _, err := time.ParseDuration(c.UI.GapThreshold); err != nil {
			return fmt.Errorf("ui.gap_threshold: %w", err)
		}
	}
	if c.Cache.RenderEntries < 0 {
		return fmt.Errorf("cache.render_entries must not be negative")
	}
	for _, m := range c.Modes {
		if m.Name == "" {
			return fmt.Errorf("modes: entry without a name")
		}
		if err := (modes.StructuredOptions{Rules: m.Rules, ShowNodes: m.ShowNodes}).Validate(); err != nil {
			return fmt.Errorf("mode %s: %w", m.Name, err)
		}
	}
	for _, f := range c.Filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	if _, err := relations.NewSet(c.Relations, c.RelationViews); err != nil {
		return fmt.Errorf("relations: %w", err)
	}
	return nil
}

// UserModes returns the declared structured modes.
func (c *Config) UserModes() []modes.Mode {
	out := make([]modes.Mode, 0, len(c.Modes))
	for _, m := range c.Modes {
		out = append(out, m.Mode())
	}
	return out
}
