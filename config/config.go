// CLAUDE:SUMMARY rendercheck config structs, YAML loading with defaults, validation, and warnings for non-upstream tolerances.
// Package config handles rendercheck configuration from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/rendercheck/compare"
	"github.com/hazyhaar/rendercheck/fixture"
	"github.com/hazyhaar/rendercheck/harness"
	"github.com/hazyhaar/rendercheck/server"
)

// Config is the top-level rendercheck configuration.
type Config struct {
	LogLevel string                `yaml:"log_level"` // debug | info | warn | error
	Server   server.Config         `yaml:"server"`
	Harness  harness.Config        `yaml:"harness"`
	Browser  harness.BrowserConfig `yaml:"browser"`
	Compare  CompareConfig         `yaml:"compare"`
	History  HistoryConfig         `yaml:"history"`
	Defaults DefaultsConfig        `yaml:"defaults"`
	Corpus   CorpusConfig          `yaml:"corpus"`
}

// CompareConfig controls the image comparator.
type CompareConfig struct {
	CropMismatched bool    `yaml:"crop_mismatched"`
	IncludeAA      bool    `yaml:"include_aa"`
	DiffAlpha      float64 `yaml:"diff_alpha"`
}

// HistoryConfig controls the run history database.
type HistoryConfig struct {
	Disabled      bool          `yaml:"disabled"`
	Path          string        `yaml:"path"`
	Retention     time.Duration `yaml:"retention"` // 0 = keep everything
	MetricsBuffer int           `yaml:"metrics_buffer"`
	MetricsFlush  time.Duration `yaml:"metrics_flush"`
	FlakyRuns     int           `yaml:"flaky_runs"`
}

// DefaultsConfig overrides the comparison tolerances of fixtures that do not
// declare their own. Baselines were recorded against the upstream values,
// so any override is reported by Warnings.
type DefaultsConfig struct {
	Allowed   float64 `yaml:"allowed"`
	Threshold float64 `yaml:"threshold"`
}

// CorpusConfig locates the upstream render test tree for `rendercheck corpus`.
type CorpusConfig struct {
	Source       string `yaml:"source"`
	AssetsSource string `yaml:"assets_source"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Overrides are flag and environment values applied over the file before
// defaults are derived. Zero fields are ignored.
type Overrides struct {
	LogLevel    string
	Port        int
	FixturesDir string
	ResultsDir  string
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	return Load(path, Overrides{})
}

// Load reads the YAML file at path (none when empty), applies ov, then
// defaults, and validates the result.
func Load(path string, ov Overrides) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	cfg.apply(ov)
	return cfg.finish()
}

// Parse decodes YAML configuration and applies defaults. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	return cfg.finish()
}

func decode(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &cfg, nil
}

func (c *Config) finish() (*Config, error) {
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) apply(ov Overrides) {
	if ov.LogLevel != "" {
		c.LogLevel = ov.LogLevel
	}
	if ov.Port != 0 {
		c.Server.Port = ov.Port
	}
	if ov.FixturesDir != "" {
		c.Server.FixturesDir = ov.FixturesDir
		c.Harness.FixturesDir = ov.FixturesDir
	}
	if ov.ResultsDir != "" {
		c.Server.ResultsDir = ov.ResultsDir
		c.Harness.ResultsDir = ov.ResultsDir
	}
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = server.DefaultPort
	}
	if c.Server.FixturesDir == "" {
		c.Server.FixturesDir = "fixtures"
	}
	if c.Server.AssetsDir == "" {
		c.Server.AssetsDir = filepath.Join(c.Server.FixturesDir, "assets")
	}
	if c.Server.ResultsDir == "" {
		c.Server.ResultsDir = "results"
	}
	if c.Server.CDNDir == "" {
		c.Server.CDNDir = filepath.Join(".cache", "cdn")
	}
	if c.Harness.BaseURL == "" {
		c.Harness.BaseURL = "http://localhost:" + strconv.Itoa(c.Server.Port)
	}
	if c.Harness.FixturesDir == "" {
		c.Harness.FixturesDir = c.Server.FixturesDir
	}
	if c.Harness.ResultsDir == "" {
		c.Harness.ResultsDir = c.Server.ResultsDir
	}
	if c.Harness.SkipPrefixes == nil {
		c.Harness.SkipPrefixes = append([]string(nil), fixture.DefaultSkipPrefixes...)
	}
	if c.Compare.DiffAlpha <= 0 {
		c.Compare.DiffAlpha = 0.1
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(".cache", "history.db")
	}
	if c.History.MetricsBuffer <= 0 {
		c.History.MetricsBuffer = 100
	}
	if c.History.MetricsFlush <= 0 {
		c.History.MetricsFlush = 5 * time.Second
	}
	if c.History.FlakyRuns <= 0 {
		c.History.FlakyRuns = 10
	}
	if c.Defaults.Allowed == 0 {
		c.Defaults.Allowed = fixture.DefaultAllowed
	}
	if c.Defaults.Threshold == 0 {
		c.Defaults.Threshold = fixture.DefaultThreshold
	}
}

// Validate rejects values no run could work with.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Harness.RefreshInterval < 0 || c.Harness.FlushInterval < 0 || c.Harness.RecycleEvery < 0 {
		return fmt.Errorf("config: harness intervals must not be negative")
	}
	if c.Defaults.Allowed < 0 || c.Defaults.Allowed > 1 {
		return fmt.Errorf("config: defaults.allowed %v outside [0,1]", c.Defaults.Allowed)
	}
	if c.Defaults.Threshold < 0 || c.Defaults.Threshold > 1 {
		return fmt.Errorf("config: defaults.threshold %v outside [0,1]", c.Defaults.Threshold)
	}
	if c.Compare.DiffAlpha > 1 {
		return fmt.Errorf("config: compare.diff_alpha %v above 1", c.Compare.DiffAlpha)
	}
	return nil
}

// Warnings lists settings that diverge from the upstream harness and
// therefore make results incomparable with upstream baselines.
func (c *Config) Warnings() []string {
	var out []string
	if c.Defaults.Allowed != fixture.DefaultAllowed {
		out = append(out, fmt.Sprintf("defaults.allowed %v differs from upstream %v", c.Defaults.Allowed, fixture.DefaultAllowed))
	}
	if c.Defaults.Threshold != fixture.DefaultThreshold {
		out = append(out, fmt.Sprintf("defaults.threshold %v differs from upstream %v", c.Defaults.Threshold, fixture.DefaultThreshold))
	}
	if c.Browser.Flags != nil {
		out = append(out, "browser.flags replaces the software GL switches baselines were rendered with")
	}
	if c.Compare.CropMismatched {
		out = append(out, "compare.crop_mismatched scores size mismatches partially instead of as a full difference")
	}
	return out
}

// ApplyDefaults rewrites the tolerances of entries still carrying the
// upstream defaults and returns how many were changed. Entries with their
// own values are left alone.
func (c *Config) ApplyDefaults(entries []fixture.Entry) int {
	n := 0
	for i := range entries {
		e := &entries[i]
		changed := false
		if e.Allowed == fixture.DefaultAllowed && c.Defaults.Allowed != fixture.DefaultAllowed {
			e.Allowed = c.Defaults.Allowed
			changed = true
		}
		if e.Threshold == fixture.DefaultThreshold && c.Defaults.Threshold != fixture.DefaultThreshold {
			e.Threshold = c.Defaults.Threshold
			changed = true
		}
		if changed {
			n++
		}
	}
	return n
}

// CompareOptions returns the comparator options for the compare section.
func (c *Config) CompareOptions() []compare.Option {
	opts := []compare.Option{compare.WithDiffAlpha(c.Compare.DiffAlpha)}
	if c.Compare.CropMismatched {
		opts = append(opts, compare.WithCropMismatched())
	}
	if c.Compare.IncludeAA {
		opts = append(opts, compare.WithIncludeAA())
	}
	return opts
}

// ManifestPath is the manifest location under the fixtures dir.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Server.FixturesDir, fixture.ManifestFile)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("config: log level %q: %w", s, err)
	}
	return l, nil
}
