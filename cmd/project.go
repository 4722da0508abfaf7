package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/conneroisu/siteroll/internal/config"
	"github.com/conneroisu/siteroll/internal/coordinator"
	"github.com/conneroisu/siteroll/internal/logging"
	"github.com/conneroisu/siteroll/internal/metrics"
	"github.com/conneroisu/siteroll/internal/site"
)

// project wires a site engine to one coordinator per configured bundle.
type project struct {
	root         string
	cfg          *config.Config
	logger       logging.Logger
	metrics      *metrics.BuildMetrics
	engine       *site.Engine
	coordinators []*coordinator.Coordinator
}

func newLogger(cfg config.LogConfig, out io.Writer) logging.Logger {
	level, _ := logging.ParseLevel(cfg.Level)
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Format,
		Output: out,
	})
}

func newProject(cfg *config.Config, root string) (*project, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	p := &project{
		root:    absRoot,
		cfg:     cfg,
		logger:  newLogger(cfg.Log, os.Stderr),
		metrics: metrics.New(),
	}

	p.engine, err = site.New(site.Options{
		Root:        absRoot,
		InputDir:    cfg.Site.Input,
		OutputDir:   cfg.Site.Output,
		Ignore:      cfg.Site.Ignore,
		Concurrency: cfg.Site.Concurrency,
		Logger:      p.logger,
		Metrics:     p.metrics,
	})
	if err != nil {
		return nil, err
	}

	for _, b := range cfg.Bundles {
		source, err := b.Source(absRoot)
		if err != nil {
			return nil, err
		}
		c, err := coordinator.New(p.engine, coordinator.Options{
			Shortcode:     b.Shortcode,
			Config:        source,
			AbsolutePaths: b.AbsolutePaths,
			AbsoluteFrom:  b.AbsoluteFrom,
			Root:          absRoot,
			NameCacheSize: nameCacheSize,
			Logger:        p.logger,
			Metrics:       p.metrics,
		})
		if err != nil {
			return nil, err
		}
		p.coordinators = append(p.coordinators, c)
	}

	return p, nil
}

// nameCacheSize keeps file names across watch rebuilds.
const nameCacheSize = 512

// build renders the site once and exports metrics when configured.
func (p *project) build(ctx context.Context) (*site.Result, error) {
	result, err := p.engine.Build(ctx)
	if mErr := p.metrics.WriteTextfile(p.metricsPath()); mErr != nil {
		p.logger.Warn(ctx, mErr, "cannot write metrics textfile")
	}
	return result, err
}

func (p *project) metricsPath() string {
	path := p.cfg.Metrics.Textfile
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.root, path)
}

func printResult(w io.Writer, p *project, result *site.Result) {
	fmt.Fprintf(w, "Rendered %d pages (%d written, %d skipped) in %s\n",
		result.Pages, result.Written, result.Skipped, result.Duration.Round(time.Millisecond))
	for _, c := range p.coordinators {
		fmt.Fprintf(w, "  %s: %d scripts declared\n", c.Instance(), c.Registry().Len())
	}
}
