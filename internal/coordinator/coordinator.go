// Package coordinator drives one bundle through a site build.
//
// A Coordinator attaches to a Host. While pages render it collects the
// scripts they declare, names each unique source once and hands back the
// markup that loads the future bundle file. After rendering it runs the
// bundler once over everything collected and forces the bundler's entry file
// names to the names already embedded in the rendered pages.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/conneroisu/siteroll/internal/bundler"
	serrors "github.com/conneroisu/siteroll/internal/errors"
	"github.com/conneroisu/siteroll/internal/logging"
	"github.com/conneroisu/siteroll/internal/metrics"
	"github.com/conneroisu/siteroll/internal/naming"
	"github.com/conneroisu/siteroll/internal/paths"
	"github.com/conneroisu/siteroll/internal/registry"
)

const (
	// DefaultShortcode is the reference-declaration name used when none is
	// configured.
	DefaultShortcode = "rollup"

	// ServerlessEnv suppresses the bundling phase when set to a non-empty
	// value.
	ServerlessEnv = "SITEROLL_SERVERLESS"
)

// State is the coordinator's position in the build lifecycle.
type State int

const (
	StateIdle State = iota
	StateCollecting
	StateBundling
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateBundling:
		return "bundling"
	default:
		return "unknown"
	}
}

// Options configures a Coordinator. Only Config is required.
type Options struct {
	// Shortcode is the name pages declare scripts with.
	Shortcode string
	// Namer assigns bundle file names. Defaults to a ContentNamer.
	Namer naming.NamingStrategy
	// NameCacheSize wraps the namer in an LRU keyed by file metadata when
	// positive.
	NameCacheSize int
	// Markup renders the tag embedded into pages. Defaults to DefaultMarkup.
	Markup MarkupGenerator
	// Config supplies the bundle configuration.
	Config bundler.ConfigSource
	// AbsolutePaths selects root-anchored import paths.
	AbsolutePaths bool
	// AbsoluteFrom is the directory absolute import paths are computed
	// from. Defaults to the host's output directory.
	AbsoluteFrom string
	// Root is the project root. Defaults to the working directory.
	Root string
	// Bundler runs the bundling phase. Defaults to esbuild.
	Bundler bundler.Bundler
	// Ownership detects sources shared between coordinators. Defaults to
	// registry.Shared.
	Ownership *registry.OwnershipRegistry
	// SkipManifest disables writing the bundle manifest.
	SkipManifest bool
	Logger       logging.Logger
	Metrics      *metrics.BuildMetrics
}

// Coordinator collects script references for one bundle and bundles them
// once rendering is done.
type Coordinator struct {
	instance     string
	host         Host
	normalizer   *paths.Normalizer
	registry     *registry.ReferenceRegistry
	markup       MarkupGenerator
	bundler      bundler.Bundler
	source       bundler.ConfigSource
	absolute     bool
	absoluteFrom string
	skipManifest bool
	logger       logging.Logger
	metrics      *metrics.BuildMetrics

	ready     chan struct{}
	config    *bundler.Config
	resolver  *paths.Resolver
	configErr error

	mu    sync.Mutex
	state State
}

// New creates a Coordinator and attaches it to host. Loading the bundle
// configuration starts immediately; declarations and the bundling phase
// wait for it.
func New(host Host, opts Options) (*Coordinator, error) {
	if host == nil {
		return nil, serrors.NewValidationError(serrors.ErrCodeValidationFailed, "coordinator needs a host")
	}
	if opts.Config == nil {
		return nil, serrors.NewValidationError(serrors.ErrCodeValidationFailed, "coordinator needs a bundle configuration")
	}
	if opts.Shortcode == "" {
		opts.Shortcode = DefaultShortcode
	}

	normalizer, err := paths.NewNormalizer(opts.Root)
	if err != nil {
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigInvalid, "invalid project root", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	logger = logger.WithComponent("coordinator").With("instance", opts.Shortcode)

	namer := opts.Namer
	if namer == nil {
		namer = naming.NewContentNamer(normalizer.Root)
	}
	if opts.NameCacheSize > 0 {
		cached, err := naming.NewCachedNamer(namer, normalizer.Root, opts.NameCacheSize)
		if err != nil {
			return nil, serrors.NewInternalError(serrors.ErrCodeNamingFailed, "cannot create naming cache", err)
		}
		namer = cached
	}

	markup := opts.Markup
	if markup == nil {
		markup = DefaultMarkup
	}

	b := opts.Bundler
	if b == nil {
		b = bundler.NewEsbuild(normalizer.Root)
	}

	absoluteFrom := opts.AbsoluteFrom
	if absoluteFrom == "" {
		absoluteFrom = host.OutputDir()
	}

	c := &Coordinator{
		instance:     opts.Shortcode,
		host:         host,
		normalizer:   normalizer,
		registry:     registry.NewReferenceRegistry(opts.Shortcode, namer, opts.Ownership, logger),
		markup:       markup,
		bundler:      b,
		source:       opts.Config,
		absolute:     opts.AbsolutePaths,
		absoluteFrom: absoluteFrom,
		skipManifest: opts.SkipManifest,
		logger:       logger,
		metrics:      opts.Metrics,
		ready:        make(chan struct{}),
	}

	go c.resolveConfig(context.Background())

	host.OnBuildStart(c.BuildStart)
	host.OnBuildEnd(c.BuildEnd)
	host.AddShortcode(opts.Shortcode, c.Declare)

	return c, nil
}

// Instance returns the coordinator's shortcode name.
func (c *Coordinator) Instance() string {
	return c.instance
}

// Registry returns the coordinator's reference registry.
func (c *Coordinator) Registry() *registry.ReferenceRegistry {
	return c.registry
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) resolveConfig(ctx context.Context) {
	defer close(c.ready)

	cfg, err := c.source.Load(ctx)
	if err != nil {
		c.configErr = asSiterollError(err, serrors.ErrorTypeConfig).WithInstance(c.instance)
		c.logger.Error(ctx, c.configErr, "failed to load bundle configuration")
		return
	}

	mode := paths.ModeRelative
	if c.absolute {
		mode = paths.ModeAbsolute
	}
	c.config = cfg
	c.resolver = paths.NewResolver(c.normalizer, cfg.Output.Dir, c.absoluteFrom, mode)

	for _, pattern := range cfg.Watch.Include {
		c.host.AddWatchTarget(pattern)
	}
	c.logger.Debug(ctx, "bundle configuration loaded",
		"output_dir", cfg.Output.Dir,
		"import_paths", mode.String(),
		"watch_targets", len(cfg.Watch.Include),
	)
}

// Config waits for the bundle configuration and returns it.
func (c *Coordinator) Config(ctx context.Context) (*bundler.Config, error) {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if c.configErr != nil {
		return nil, c.configErr
	}
	return c.config, nil
}

// BuildStart discards the references of the previous build.
func (c *Coordinator) BuildStart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registry.Reset()
	c.registry.Ownership().Reset()
	c.state = StateCollecting
	c.logger.Debug(ctx, "build started")
	return nil
}

// Declare registers src for the page and returns the markup loading its
// bundle. Pages that are not written get no markup and register nothing.
func (c *Coordinator) Declare(ctx context.Context, page PageContext, src string, fileRelative bool) (string, error) {
	if !page.Written {
		c.metrics.IncSkippedReference(c.instance)
		return "", nil
	}

	if _, err := c.Config(ctx); err != nil {
		return "", err
	}

	source, err := c.normalizer.Normalize(src, page.InputPath, fileRelative)
	if err != nil {
		return "", serrors.NewValidationError(serrors.ErrCodePathResolve, err.Error()).
			WithInstance(c.instance).WithFile(page.InputPath)
	}

	name, err := c.registry.Register(ctx, source)
	if err != nil {
		return "", asSiterollError(err, serrors.ErrorTypeIO).WithInstance(c.instance)
	}
	c.metrics.IncReference(c.instance)

	importPath, err := c.resolver.ImportPath(name, page.OutputPath)
	if err != nil {
		return "", serrors.NewIOError(serrors.ErrCodePathResolve, "cannot compute import path", err).
			WithInstance(c.instance).WithFile(page.InputPath)
	}

	out, err := c.markup.Generate(ctx, importPath, page)
	if err != nil {
		return "", serrors.NewBuildError(serrors.ErrCodeRenderFailed, "markup generation failed", err).
			WithInstance(c.instance).WithFile(page.InputPath)
	}
	return out, nil
}

// BuildEnd runs the bundling phase over every source declared since
// BuildStart.
func (c *Coordinator) BuildEnd(ctx context.Context) error {
	c.setState(StateBundling)
	defer c.setState(StateIdle)

	if os.Getenv(ServerlessEnv) != "" {
		c.logger.Debug(ctx, "serverless mode, skipping bundling")
		c.metrics.ObserveBundle(c.instance, metrics.OutcomeServerless, 0, 0)
		return nil
	}

	cfg, err := c.Config(ctx)
	if err != nil {
		return err
	}

	sources := c.registry.Keys()
	c.metrics.SetSources(c.instance, len(sources))
	c.metrics.SetCollisions(c.registry.Ownership().Collisions())
	if len(sources) == 0 {
		c.logger.Debug(ctx, "no scripts declared, skipping bundling")
		c.metrics.ObserveBundle(c.instance, metrics.OutcomeSkipped, 0, 0)
		return nil
	}

	perf := logging.StartOperation(c.logger, "bundle")
	result, err := c.bundle(ctx, cfg, sources)
	if err != nil {
		perf.EndWithError(ctx, err)
		c.metrics.ObserveBundle(c.instance, metrics.OutcomeFailed, perf.Elapsed(), 0)
		return err
	}

	total := 0
	for _, out := range result.Outputs {
		total += out.Bytes
	}
	for _, w := range result.Warnings {
		c.logger.Warn(ctx, nil, "bundler warning", "message", w)
	}
	c.metrics.ObserveBundle(c.instance, metrics.OutcomeWritten, perf.Elapsed(), total)

	if !c.skipManifest {
		path, err := bundler.WriteManifest(c.normalizer.Abs(cfg.Output.Dir), &bundler.Manifest{
			Instance:  c.instance,
			BuildTime: time.Now().UTC(),
			Sources:   c.registry.Snapshot(),
			Outputs:   result.Outputs,
		})
		if err != nil {
			return serrors.NewIOError(serrors.ErrCodeBundleWrite, "cannot write bundle manifest", err).WithInstance(c.instance)
		}
		c.logger.Debug(ctx, "manifest written", "path", path)
	}

	perf.End(ctx, "sources", len(sources), "outputs", len(result.Outputs), "bytes", total)
	return nil
}

func (c *Coordinator) bundle(ctx context.Context, cfg *bundler.Config, sources []string) (*bundler.WriteResult, error) {
	input := bundler.MergeInputs(cfg.Input, sources)

	b, err := c.bundler.Bundle(ctx, input, cfg)
	if err != nil {
		return nil, asSiterollError(err, serrors.ErrorTypeBuild).WithInstance(c.instance)
	}

	result, err := b.Write(ctx, bundler.OutputOptions{
		OutputConfig:   cfg.Output,
		EntryFileNames: c.entryFileName,
	})
	closeErr := b.Close()
	if err != nil {
		return nil, asSiterollError(err, serrors.ErrorTypeBuild).WithInstance(c.instance)
	}
	if closeErr != nil {
		return nil, serrors.NewBuildError(serrors.ErrCodeBundleWrite, "cannot close bundle", closeErr).WithInstance(c.instance)
	}
	return result, nil
}

// entryFileName maps a chunk back to the name assigned to its source. An
// empty result leaves naming to the bundler.
func (c *Coordinator) entryFileName(chunk bundler.Chunk) string {
	if chunk.FacadeModuleID == "" {
		return ""
	}
	source, err := c.normalizer.Normalize(chunk.FacadeModuleID, "", false)
	if err != nil {
		return ""
	}
	name, _ := c.registry.Lookup(source)
	return name
}

// asSiterollError returns err as a *SiterollError, wrapping foreign errors
// with the given type.
func asSiterollError(err error, t serrors.ErrorType) *serrors.SiterollError {
	if se, ok := err.(*serrors.SiterollError); ok {
		return se
	}
	code := serrors.ErrCodeBundleFailed
	switch t {
	case serrors.ErrorTypeConfig:
		code = serrors.ErrCodeConfigLoad
	case serrors.ErrorTypeIO:
		code = serrors.ErrCodeNamingFailed
	}
	return &serrors.SiterollError{Type: t, Code: code, Message: fmt.Sprintf("%s failed", t), Cause: err}
}
