package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	serrors "github.com/conneroisu/siteroll/internal/errors"
)

// Config is the resolved configuration handed to the external bundler.
type Config struct {
	Input    InputSpec
	Output   OutputConfig
	Watch    WatchConfig
	Target   string
	Platform string
	External []string
	Define   map[string]string
}

// OutputConfig controls where and how bundles are written.
type OutputConfig struct {
	Dir       string
	Format    string
	Sourcemap bool
	Minify    bool
	Splitting bool
	// EntryNames is the bundler's naming pattern for entries the registry
	// does not know about (user-declared inputs).
	EntryNames string
	ChunkNames string
}

// WatchConfig lists extra paths the host should watch.
type WatchConfig struct {
	Include []string
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	switch c.Input.Kind {
	case InputList:
		out.Input = ListInput(c.Input.List...)
	case InputMapping:
		out.Input = MappingInput(c.Input.Mapping)
	}
	out.External = append([]string(nil), c.External...)
	out.Watch.Include = append([]string(nil), c.Watch.Include...)
	if c.Define != nil {
		out.Define = make(map[string]string, len(c.Define))
		for k, v := range c.Define {
			out.Define[k] = v
		}
	}
	return &out
}

// Validate checks the fields the bundling phase depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Output.Dir) == "" {
		return serrors.NewConfigError(serrors.ErrCodeConfigInvalid, "bundle config needs output.dir", nil)
	}
	switch strings.ToLower(c.Output.Format) {
	case "", "es", "esm", "module", "cjs", "commonjs", "iife":
	default:
		return serrors.NewConfigError(serrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unsupported output.format %q", c.Output.Format), nil)
	}
	if c.Output.Splitting && !isESM(c.Output.Format) {
		return serrors.NewConfigError(serrors.ErrCodeConfigInvalid, "output.splitting requires the esm format", nil)
	}
	return nil
}

func isESM(format string) bool {
	switch strings.ToLower(format) {
	case "", "es", "esm", "module":
		return true
	}
	return false
}

// ConfigSource produces a bundle configuration.
type ConfigSource interface {
	Load(ctx context.Context) (*Config, error)
}

// StaticConfig is a configuration supplied directly.
type StaticConfig struct {
	Config *Config
}

// Load returns a copy of the static configuration.
func (s StaticConfig) Load(ctx context.Context) (*Config, error) {
	if s.Config == nil {
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigInvalid, "no bundle configuration supplied", nil)
	}
	cfg := s.Config.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FactoryOptions is passed to configuration factories. It is currently
// always empty.
type FactoryOptions struct{}

// ConfigFactory produces a configuration on demand.
type ConfigFactory func(opts FactoryOptions) (*Config, error)

// Load calls the factory with empty options.
func (f ConfigFactory) Load(ctx context.Context) (*Config, error) {
	cfg, err := f(FactoryOptions{})
	if err != nil {
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigLoad, "bundle config factory failed", err)
	}
	if cfg == nil {
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigInvalid, "bundle config factory returned nil", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FileConfig loads a configuration file. The format follows the extension:
// .yml/.yaml, .json or .toml. Relative paths resolve against Root.
type FileConfig struct {
	Path string
	Root string
}

// FromFile returns a ConfigSource for path.
func FromFile(path, root string) FileConfig {
	return FileConfig{Path: path, Root: root}
}

// Load reads and decodes the file.
func (f FileConfig) Load(ctx context.Context) (*Config, error) {
	path := f.Path
	if !filepath.IsAbs(path) && f.Root != "" {
		path = filepath.Join(f.Root, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigLoad, "cannot read bundle config", err).WithFile(f.Path)
	}

	raw := map[string]interface{}{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, &raw)
	case ".json":
		err = json.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigLoad,
			fmt.Sprintf("unsupported bundle config extension %q", ext), nil).WithFile(f.Path)
	}
	if err != nil {
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigLoad, "cannot parse bundle config", err).WithFile(f.Path)
	}

	cfg, err := DecodeConfig(raw)
	if err != nil {
		if se, ok := err.(*serrors.SiterollError); ok {
			return nil, se.WithFile(f.Path)
		}
		return nil, err
	}
	return cfg, nil
}

type rawConfig struct {
	Input  interface{} `mapstructure:"input"`
	Output struct {
		Dir        string `mapstructure:"dir"`
		Format     string `mapstructure:"format"`
		Sourcemap  bool   `mapstructure:"sourcemap"`
		Minify     bool   `mapstructure:"minify"`
		Splitting  bool   `mapstructure:"splitting"`
		EntryNames string `mapstructure:"entry_names"`
		ChunkNames string `mapstructure:"chunk_names"`
	} `mapstructure:"output"`
	Watch struct {
		Include interface{} `mapstructure:"include"`
	} `mapstructure:"watch"`
	Target   string            `mapstructure:"target"`
	Platform string            `mapstructure:"platform"`
	External []string          `mapstructure:"external"`
	Define   map[string]string `mapstructure:"define"`
}

// DecodeConfig converts a decoded document into a Config. Unknown keys are
// rejected so typos surface as configuration errors.
func DecodeConfig(raw map[string]interface{}) (*Config, error) {
	var rc rawConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rc,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, serrors.NewInternalError(serrors.ErrCodeConfigLoad, "cannot build config decoder", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigInvalid, "invalid bundle config", err)
	}

	input, err := ParseInputSpec(rc.Input)
	if err != nil {
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigInvalid, "invalid bundle input", err)
	}

	include, err := stringList(rc.Watch.Include)
	if err != nil {
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigInvalid, "invalid watch.include", err)
	}

	cfg := &Config{
		Input: input,
		Output: OutputConfig{
			Dir:        filepath.FromSlash(rc.Output.Dir),
			Format:     rc.Output.Format,
			Sourcemap:  rc.Output.Sourcemap,
			Minify:     rc.Output.Minify,
			Splitting:  rc.Output.Splitting,
			EntryNames: rc.Output.EntryNames,
			ChunkNames: rc.Output.ChunkNames,
		},
		Watch:    WatchConfig{Include: include},
		Target:   rc.Target,
		Platform: rc.Platform,
		External: rc.External,
		Define:   rc.Define,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stringList accepts a single string or a list of strings.
func stringList(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("[%d]: expected string, got %T", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list, got %T", raw)
	}
}
