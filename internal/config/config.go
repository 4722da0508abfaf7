// Package config loads the siteroll project configuration using Viper.
//
// The configuration comes from .siteroll.yml, SITEROLL_ environment
// variables and command-line flags. It describes the site (input and output
// directories), the bundles attached to it, logging and metrics export.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/siteroll/internal/bundler"
	serrors "github.com/conneroisu/siteroll/internal/errors"
)

// Defaults applied by SetDefaults.
const (
	DefaultInputDir  = "src"
	DefaultOutputDir = "_site"
	DefaultShortcode = "rollup"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultDebounce  = 300 * time.Millisecond
)

type Config struct {
	Site    SiteConfig     `mapstructure:"site" yaml:"site"`
	Bundles []BundleConfig `mapstructure:"bundles" yaml:"bundles"`
	Log     LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Watch   WatchConfig    `mapstructure:"watch" yaml:"watch"`
}

type SiteConfig struct {
	Input       string   `mapstructure:"input" yaml:"input"`
	Output      string   `mapstructure:"output" yaml:"output"`
	Ignore      []string `mapstructure:"ignore" yaml:"ignore,omitempty"`
	Concurrency int      `mapstructure:"concurrency" yaml:"concurrency,omitempty"`
}

// BundleConfig configures one coordinator. Exactly one of Config and
// Bundle must be set.
type BundleConfig struct {
	Shortcode string `mapstructure:"shortcode" yaml:"shortcode"`
	// Config is the path of a bundle configuration file (.yml, .json or
	// .toml).
	Config string `mapstructure:"config" yaml:"config,omitempty"`
	// Bundle is an inline bundle configuration. Keys pass through Viper and
	// are therefore lowercased.
	Bundle        map[string]interface{} `mapstructure:"bundle" yaml:"bundle,omitempty"`
	AbsolutePaths bool                   `mapstructure:"absolute_paths" yaml:"absolute_paths"`
	AbsoluteFrom  string                 `mapstructure:"absolute_from" yaml:"absolute_from,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type MetricsConfig struct {
	// Textfile is where build metrics are written after each build, in
	// the Prometheus text format. Empty disables the export.
	Textfile string `mapstructure:"textfile" yaml:"textfile,omitempty"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("site.input", DefaultInputDir)
	v.SetDefault("site.output", DefaultOutputDir)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("watch.debounce", DefaultDebounce)
}

// Load reads the configuration from the global Viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads, defaults and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigLoad, "cannot decode configuration", err)
	}

	for i := range config.Bundles {
		if config.Bundles[i].Shortcode == "" {
			config.Bundles[i].Shortcode = DefaultShortcode
		}
	}

	result := ValidateConfigWithDetails(&config)
	if result.HasErrors() {
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigInvalid, "invalid configuration", result.Err())
	}

	return &config, nil
}

// Source returns the bundle configuration source of b. Relative config
// paths resolve against root.
func (b BundleConfig) Source(root string) (bundler.ConfigSource, error) {
	if b.Config != "" {
		return bundler.FromFile(b.Config, root), nil
	}

	cfg, err := bundler.DecodeConfig(b.Bundle)
	if err != nil {
		var se *serrors.SiterollError
		if errors.As(err, &se) {
			return nil, se.WithInstance(b.Shortcode)
		}
		return nil, fmt.Errorf("bundle %s: %w", b.Shortcode, err)
	}
	return bundler.StaticConfig{Config: cfg}, nil
}
