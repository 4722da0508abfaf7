// Package site is a small static site engine that hosts coordinators.
//
// Pages are HTML or Go template files under the input directory with an
// optional YAML front matter block. Every shortcode registered by a
// coordinator becomes a template function, so a page loads a script with
// {{ rollup "scripts/app.js" }} or, relative to the page itself,
// {{ rollup "app.js" true }}. A build fires the start hooks, renders all
// pages concurrently, writes them and fires the end hooks.
package site

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/siteroll/internal/coordinator"
	serrors "github.com/conneroisu/siteroll/internal/errors"
	"github.com/conneroisu/siteroll/internal/logging"
	"github.com/conneroisu/siteroll/internal/metrics"
	"github.com/conneroisu/siteroll/internal/paths"
)

// LayoutDir is the directory below the input directory holding layouts.
const LayoutDir = "_layouts"

var pageExtensions = map[string]bool{
	".html": true,
	".tmpl": true,
}

var shortcodeName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configures an Engine.
type Options struct {
	// Root is the project root. Defaults to the working directory.
	Root string
	// InputDir holds the pages, relative to Root.
	InputDir string
	// OutputDir receives the rendered site, relative to Root.
	OutputDir string
	// Ignore lists doublestar patterns, relative to InputDir, of files that
	// are not pages.
	Ignore []string
	// Concurrency bounds parallel page rendering. Zero means one worker per
	// page.
	Concurrency int
	Logger      logging.Logger
	Metrics     *metrics.BuildMetrics
}

// Page is one discovered page.
type Page struct {
	// InputPath is the absolute path of the source file.
	InputPath string
	// OutputPath is the absolute path of the rendered file, empty when the
	// page is not written.
	OutputPath string
	// URL is the site path the page is served from.
	URL     string
	Written bool
	// Data is the page's front matter.
	Data map[string]interface{}

	body []byte
}

// Context returns the coordinator view of the page.
func (p *Page) Context() coordinator.PageContext {
	return coordinator.PageContext{
		InputPath:  p.InputPath,
		OutputPath: p.OutputPath,
		Written:    p.Written,
	}
}

// Result summarizes a build.
type Result struct {
	Pages    int
	Written  int
	Skipped  int
	Duration time.Duration
}

// Engine renders a site and implements coordinator.Host.
type Engine struct {
	root        string
	inputDir    string
	outputDir   string
	ignore      []string
	concurrency int
	logger      logging.Logger
	metrics     *metrics.BuildMetrics

	mu           sync.RWMutex
	startHooks   []coordinator.Hook
	endHooks     []coordinator.Hook
	shortcodes   map[string]coordinator.Shortcode
	watchTargets []string
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigInvalid, "invalid project root", err)
	}
	if opts.InputDir == "" || opts.OutputDir == "" {
		return nil, serrors.NewValidationError(serrors.ErrCodeValidationFailed, "site needs input and output directories")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}

	return &Engine{
		root:        root,
		inputDir:    absUnder(root, opts.InputDir),
		outputDir:   absUnder(root, opts.OutputDir),
		ignore:      opts.Ignore,
		concurrency: opts.Concurrency,
		logger:      logger.WithComponent("site"),
		metrics:     opts.Metrics,
		shortcodes:  make(map[string]coordinator.Shortcode),
	}, nil
}

func absUnder(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

// OnBuildStart registers a hook run before rendering.
func (e *Engine) OnBuildStart(hook coordinator.Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startHooks = append(e.startHooks, hook)
}

// OnBuildEnd registers a hook run after every page is written.
func (e *Engine) OnBuildEnd(hook coordinator.Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.endHooks = append(e.endHooks, hook)
}

// AddShortcode exposes fn to page templates under name. A later
// registration with the same name replaces the earlier one.
func (e *Engine) AddShortcode(name string, fn coordinator.Shortcode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.shortcodes[name]; exists {
		e.logger.Warn(context.Background(), nil, "shortcode replaced", "shortcode", name)
	}
	e.shortcodes[name] = fn
}

// AddWatchTarget records an extra pattern for watch mode.
func (e *Engine) AddWatchTarget(pattern string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.watchTargets {
		if existing == pattern {
			return
		}
	}
	e.watchTargets = append(e.watchTargets, pattern)
}

// WatchTargets returns the patterns registered with AddWatchTarget.
func (e *Engine) WatchTargets() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.watchTargets...)
}

// OutputDir returns the absolute output directory.
func (e *Engine) OutputDir() string {
	return e.outputDir
}

// InputDir returns the absolute input directory.
func (e *Engine) InputDir() string {
	return e.inputDir
}

// Root returns the absolute project root.
func (e *Engine) Root() string {
	return e.root
}

// Discover finds and parses every page, sorted by input path.
func (e *Engine) Discover(ctx context.Context) ([]*Page, error) {
	var pages []*Page

	err := filepath.WalkDir(e.inputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(e.inputDir, path)
		if err != nil {
			return err
		}
		slashRel := paths.ToSlash(rel)

		if d.IsDir() {
			if path == e.inputDir {
				return nil
			}
			if path == e.outputDir || strings.HasPrefix(d.Name(), "_") || strings.HasPrefix(d.Name(), ".") ||
				d.Name() == "node_modules" || e.ignored(slashRel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !pageExtensions[strings.ToLower(filepath.Ext(path))] || e.ignored(slashRel) {
			return nil
		}

		page, err := e.loadPage(path, rel)
		if err != nil {
			return err
		}
		pages = append(pages, page)
		return nil
	})
	if err != nil {
		if se, ok := err.(*serrors.SiterollError); ok {
			return nil, se
		}
		return nil, serrors.NewIOError(serrors.ErrCodeRenderFailed, "cannot discover pages", err).WithFile(e.inputDir)
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].InputPath < pages[j].InputPath })
	return pages, nil
}

func (e *Engine) ignored(slashRel string) bool {
	for _, pattern := range e.ignore {
		if ok, _ := doublestar.Match(pattern, slashRel); ok {
			return true
		}
	}
	return false
}

func (e *Engine) loadPage(path, rel string) (*Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.NewIOError(serrors.ErrCodeRenderFailed, "cannot read page", err).WithFile(rel)
	}

	fm, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, serrors.NewValidationError(serrors.ErrCodeRenderFailed, err.Error()).WithFile(rel)
	}

	page := &Page{InputPath: path, Data: fm, body: body, Written: true}

	outRel := strings.TrimSuffix(rel, filepath.Ext(rel)) + ".html"
	switch permalink := fm["permalink"].(type) {
	case nil:
	case bool:
		if !permalink {
			page.Written = false
		}
	case string:
		outRel = strings.TrimPrefix(filepath.FromSlash(permalink), string(filepath.Separator))
		if strings.HasSuffix(permalink, "/") || outRel == "" {
			outRel = filepath.Join(outRel, "index.html")
		}
	default:
		return nil, serrors.NewValidationError(serrors.ErrCodeRenderFailed,
			fmt.Sprintf("permalink must be a string or false, got %T", permalink)).WithFile(rel)
	}

	if page.Written {
		page.OutputPath = filepath.Join(e.outputDir, outRel)
		if !strings.HasPrefix(page.OutputPath, e.outputDir+string(filepath.Separator)) {
			return nil, serrors.NewValidationError(serrors.ErrCodeRenderFailed, "permalink escapes the output directory").WithFile(rel)
		}
	}
	page.URL = pageURL(outRel)
	return page, nil
}

func pageURL(outRel string) string {
	u := "/" + paths.ToSlash(outRel)
	if strings.HasSuffix(u, "/index.html") {
		u = strings.TrimSuffix(u, "index.html")
	}
	return u
}

// Build runs one full build.
func (e *Engine) Build(ctx context.Context) (*Result, error) {
	perf := logging.StartOperation(e.logger, "build")

	result, err := e.build(ctx)
	e.metrics.ObserveBuild(err)
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}

	result.Duration = perf.Elapsed()
	e.metrics.IncPages(result.Written)
	perf.End(ctx, "pages", result.Pages, "written", result.Written, "skipped", result.Skipped)
	return result, nil
}

func (e *Engine) build(ctx context.Context) (*Result, error) {
	e.mu.RLock()
	startHooks := append([]coordinator.Hook(nil), e.startHooks...)
	endHooks := append([]coordinator.Hook(nil), e.endHooks...)
	shortcodes := make(map[string]coordinator.Shortcode, len(e.shortcodes))
	for name, fn := range e.shortcodes {
		shortcodes[name] = fn
	}
	e.mu.RUnlock()

	for name := range shortcodes {
		if !shortcodeName.MatchString(name) {
			return nil, serrors.NewValidationError(serrors.ErrCodeInvalidShortcode,
				fmt.Sprintf("shortcode %q is not a valid template function name", name))
		}
	}

	for _, hook := range startHooks {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	pages, err := e.Discover(ctx)
	if err != nil {
		return nil, err
	}

	var written, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	for _, page := range pages {
		page := page
		g.Go(func() error {
			out, err := e.render(gctx, page, shortcodes)
			if err != nil {
				return err
			}
			if !page.Written {
				skipped.Add(1)
				return nil
			}
			if err := writeFile(page.OutputPath, out); err != nil {
				return serrors.NewIOError(serrors.ErrCodeRenderFailed, "cannot write page", err).WithFile(page.OutputPath)
			}
			written.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var hookErrs []error
	for _, hook := range endHooks {
		if err := hook(ctx); err != nil {
			hookErrs = append(hookErrs, err)
		}
	}
	if len(hookErrs) == 1 {
		return nil, hookErrs[0]
	}
	if len(hookErrs) > 1 {
		return nil, errors.Join(hookErrs...)
	}

	return &Result{
		Pages:   len(pages),
		Written: int(written.Load()),
		Skipped: int(skipped.Load()),
	}, nil
}

// pageData is the template data of a page or layout.
type pageData struct {
	Page    *Page
	Data    map[string]interface{}
	Content template.HTML
}

// render executes the page template and its layout, if any. Unwritten
// pages are rendered too, so their templates still run.
func (e *Engine) render(ctx context.Context, page *Page, shortcodes map[string]coordinator.Shortcode) ([]byte, error) {
	rel, _ := filepath.Rel(e.root, page.InputPath)
	funcs := e.funcMap(ctx, page, shortcodes)

	body, err := execute(page.InputPath, string(page.body), funcs, pageData{Page: page, Data: page.Data})
	if err != nil {
		return nil, renderError(err, rel)
	}

	layout, _ := page.Data["layout"].(string)
	if layout == "" {
		return body, nil
	}

	layoutPath := filepath.Join(e.inputDir, LayoutDir, filepath.FromSlash(layout))
	data, err := os.ReadFile(layoutPath)
	if err != nil {
		return nil, serrors.NewIOError(serrors.ErrCodeRenderFailed, "cannot read layout "+layout, err).WithFile(rel)
	}
	_, layoutBody, err := splitFrontMatter(data)
	if err != nil {
		return nil, serrors.NewValidationError(serrors.ErrCodeRenderFailed, err.Error()).WithFile(layoutPath)
	}

	out, err := execute(layoutPath, string(layoutBody), funcs, pageData{
		Page:    page,
		Data:    page.Data,
		Content: template.HTML(body),
	})
	if err != nil {
		return nil, renderError(err, rel)
	}
	return out, nil
}

func (e *Engine) funcMap(ctx context.Context, page *Page, shortcodes map[string]coordinator.Shortcode) template.FuncMap {
	pc := page.Context()
	funcs := template.FuncMap{}
	for name, fn := range shortcodes {
		fn := fn
		funcs[name] = func(src string, fileRelative ...bool) (template.HTML, error) {
			relative := len(fileRelative) > 0 && fileRelative[0]
			out, err := fn(ctx, pc, src, relative)
			return template.HTML(out), err
		}
	}
	return funcs
}

func execute(name, text string, funcs template.FuncMap, data pageData) ([]byte, error) {
	tmpl, err := template.New(filepath.Base(name)).Funcs(funcs).Parse(text)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// renderError keeps a typed cause, such as a naming failure raised by a
// shortcode, and wraps anything else as a render failure.
func renderError(err error, rel string) error {
	var se *serrors.SiterollError
	if errors.As(err, &se) {
		if se.FilePath == "" {
			se.WithFile(rel)
		}
		return se
	}
	return serrors.NewBuildError(serrors.ErrCodeRenderFailed, "cannot render page", err).WithFile(rel)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
