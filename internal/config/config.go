// Package config loads patlower settings from a YAML file, PATLOWER_*
// environment variables and defaults, in increasing order of precedence
// below command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orizon-lang/patlower/internal/debug"
	perrors "github.com/orizon-lang/patlower/internal/errors"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "patlower.yaml"

// Config is the full tool configuration.
type Config struct {
	Jobs         int          `yaml:"jobs"`
	ShadowPolicy string       `yaml:"shadow_policy"`
	Color        string       `yaml:"color"`
	Emit         EmitOptions  `yaml:"emit"`
	Cache        CacheOptions `yaml:"cache"`
	Log          LogOptions   `yaml:"log"`
	Watch        WatchOptions `yaml:"watch"`
}

// EmitOptions selects the artifacts written per input file.
type EmitOptions struct {
	OutDir    string `yaml:"out_dir"`
	MIR       bool   `yaml:"mir"`
	Metadata  bool   `yaml:"metadata"`
	DebugJSON bool   `yaml:"debug_json"`
	DWARF     bool   `yaml:"dwarf"`
	SourceMap bool   `yaml:"source_map"`
}

// CacheOptions configures the artifact cache.
type CacheOptions struct {
	Kind    string `yaml:"kind"` // none, memory, sqlite
	Path    string `yaml:"path"`
	Entries int    `yaml:"entries"`
}

type LogOptions struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WatchOptions struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Jobs:         runtime.GOMAXPROCS(0),
		ShadowPolicy: debug.ShadowPerName.String(),
		Color:        "auto",
		Emit: EmitOptions{
			OutDir:   "",
			MIR:      false,
			Metadata: true,
		},
		Cache: CacheOptions{
			Kind:    "memory",
			Path:    filepath.Join(".patlower", "cache.db"),
			Entries: 256,
		},
		Log: LogOptions{
			Level: "info",
		},
		Watch: WatchOptions{
			Debounce: 150 * time.Millisecond,
		},
	}
}

// Load reads path over the defaults. A missing file is an error unless
// optional is set.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, perrors.Wrap(err, perrors.CategoryConfig, "CONFIG_READ", "read "+path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryConfig, "CONFIG_PARSE", "parse "+path)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields from PATLOWER_* variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	str("PATLOWER_SHADOW_POLICY", &c.ShadowPolicy)
	str("PATLOWER_COLOR", &c.Color)
	str("PATLOWER_OUT_DIR", &c.Emit.OutDir)
	str("PATLOWER_CACHE", &c.Cache.Kind)
	str("PATLOWER_CACHE_PATH", &c.Cache.Path)
	str("PATLOWER_LOG_LEVEL", &c.Log.Level)
	str("PATLOWER_LOG_FORMAT", &c.Log.Format)

	if v := getenv("PATLOWER_JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return perrors.InvalidConfig("PATLOWER_JOBS", err.Error())
		}
		c.Jobs = n
	}
	if v := getenv("PATLOWER_WATCH_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return perrors.InvalidConfig("PATLOWER_WATCH_DEBOUNCE", err.Error())
		}
		c.Watch.Debounce = d
	}
	return nil
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if c.Jobs < 1 {
		return perrors.InvalidConfig("jobs", fmt.Sprintf("must be at least 1, got %d", c.Jobs))
	}
	if _, err := c.Policy(); err != nil {
		return perrors.InvalidConfig("shadow_policy", err.Error())
	}
	if !oneOf(c.Color, "auto", "always", "never") {
		return perrors.InvalidConfig("color", fmt.Sprintf("%q: want auto, always or never", c.Color))
	}
	if !oneOf(c.Cache.Kind, "none", "memory", "sqlite") {
		return perrors.InvalidConfig("cache.kind", fmt.Sprintf("%q: want none, memory or sqlite", c.Cache.Kind))
	}
	if c.Cache.Kind == "sqlite" && c.Cache.Path == "" {
		return perrors.InvalidConfig("cache.path", "required for the sqlite cache")
	}
	if !oneOf(strings.ToLower(c.Log.Level), "debug", "info", "warn", "error", "disabled") {
		return perrors.InvalidConfig("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	if !oneOf(c.Log.Format, "", "console", "json") {
		return perrors.InvalidConfig("log.format", fmt.Sprintf("%q: want console or json", c.Log.Format))
	}
	if c.Watch.Debounce < 0 {
		return perrors.InvalidConfig("watch.debounce", "must not be negative")
	}
	return nil
}

// Policy returns the configured debug shadow-variable policy.
func (c *Config) Policy() (debug.ShadowPolicy, error) {
	return debug.ParseShadowPolicy(c.ShadowPolicy)
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
