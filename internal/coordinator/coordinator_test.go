package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/siteroll/internal/bundler"
	serrors "github.com/conneroisu/siteroll/internal/errors"
	"github.com/conneroisu/siteroll/internal/naming"
	"github.com/conneroisu/siteroll/internal/registry"
	"github.com/conneroisu/siteroll/internal/testutils"
)

type fakeHost struct {
	mu         sync.Mutex
	outputDir  string
	starts     []Hook
	ends       []Hook
	shortcodes map[string]Shortcode
	watch      []string
}

func newFakeHost(outputDir string) *fakeHost {
	return &fakeHost{outputDir: outputDir, shortcodes: map[string]Shortcode{}}
}

func (h *fakeHost) OnBuildStart(hook Hook)                 { h.starts = append(h.starts, hook) }
func (h *fakeHost) OnBuildEnd(hook Hook)                   { h.ends = append(h.ends, hook) }
func (h *fakeHost) AddShortcode(name string, fn Shortcode) { h.shortcodes[name] = fn }
func (h *fakeHost) OutputDir() string                      { return h.outputDir }

func (h *fakeHost) AddWatchTarget(pattern string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watch = append(h.watch, pattern)
}

func (h *fakeHost) start(t *testing.T) {
	t.Helper()
	for _, hook := range h.starts {
		require.NoError(t, hook(context.Background()))
	}
}

func (h *fakeHost) end() error {
	for _, hook := range h.ends {
		if err := hook(context.Background()); err != nil {
			return err
		}
	}
	return nil
}

// fakeBundler records invocations and resolves entry names the way a real
// bundler would: through the EntryFileNames override.
type fakeBundler struct {
	root     string
	writeErr error

	mu     sync.Mutex
	calls  int
	inputs []bundler.InputSpec
	names  map[string]string
	closed int
}

func (f *fakeBundler) Bundle(ctx context.Context, input bundler.InputSpec, cfg *bundler.Config) (bundler.Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, input)
	return &fakeBundle{parent: f, input: input}, nil
}

func (f *fakeBundler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBundle struct {
	parent *fakeBundler
	input  bundler.InputSpec
}

func (b *fakeBundle) Write(ctx context.Context, opts bundler.OutputOptions) (*bundler.WriteResult, error) {
	f := b.parent
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = map[string]string{}
	result := &bundler.WriteResult{}
	for _, entry := range b.input.Entries() {
		name := opts.EntryFileNames(bundler.Chunk{
			FacadeModuleID: filepath.Join(f.root, entry.Source),
			Name:           entry.Name,
			IsEntry:        true,
		})
		f.names[entry.Source] = name
		result.Outputs = append(result.Outputs, bundler.OutputFile{
			Path:       filepath.Join(opts.Dir, name),
			Bytes:      10,
			EntryPoint: entry.Source,
		})
	}
	return result, nil
}

func (b *fakeBundle) Close() error {
	b.parent.mu.Lock()
	defer b.parent.mu.Unlock()
	b.parent.closed++
	return nil
}

type countingNamer struct {
	calls atomic.Int32
	next  naming.NamingStrategy
}

func (c *countingNamer) AssignName(ctx context.Context, source string) (string, error) {
	c.calls.Add(1)
	return c.next.AssignName(ctx, source)
}

type fixture struct {
	root    string
	host    *fakeHost
	bundler *fakeBundler
	coord   *Coordinator
	page    PageContext
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	root := testutils.CreateTempProject(t)
	testutils.WriteFile(t, root, "a.js", "console.log(1)")

	host := newFakeHost("_site")
	fb := &fakeBundler{root: root}
	opts := Options{
		Root:      root,
		Bundler:   fb,
		Ownership: registry.NewOwnershipRegistry(),
		Config: bundler.StaticConfig{Config: &bundler.Config{
			Output: bundler.OutputConfig{Dir: filepath.Join("_site", "js")},
		}},
	}
	if mutate != nil {
		mutate(&opts)
	}

	coord, err := New(host, opts)
	require.NoError(t, err)

	return &fixture{
		root:    root,
		host:    host,
		bundler: fb,
		coord:   coord,
		page: PageContext{
			InputPath:  filepath.Join("src", "index.html"),
			OutputPath: filepath.Join("_site", "index.html"),
			Written:    true,
		},
	}
}

var moduleTag = regexp.MustCompile(`^<script src="js/a-[0-9a-f]{6}\.js" type="module"></script>$`)

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{Config: bundler.StaticConfig{}})
	assert.True(t, serrors.IsType(err, serrors.ErrorTypeValidation))

	_, err = New(newFakeHost("_site"), Options{})
	assert.True(t, serrors.IsType(err, serrors.ErrorTypeValidation))
}

func TestNew_RegistersWithHost(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, DefaultShortcode, f.coord.Instance())
	assert.Contains(t, f.host.shortcodes, "rollup")
	assert.Len(t, f.host.starts, 1)
	assert.Len(t, f.host.ends, 1)
	assert.Equal(t, StateIdle, f.coord.State())
}

func TestDeclare_ScenarioA(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.host.start(t)
	assert.Equal(t, StateCollecting, f.coord.State())

	markup, err := f.host.shortcodes["rollup"](ctx, f.page, "a.js", false)
	require.NoError(t, err)
	assert.Regexp(t, moduleTag, markup)

	require.NoError(t, f.host.end())
	assert.Equal(t, StateIdle, f.coord.State())

	require.Equal(t, 1, f.bundler.Calls())
	assert.Equal(t, bundler.ListInput("a.js"), f.bundler.inputs[0])
	assert.Equal(t, 1, f.bundler.closed, "bundle handle is closed")

	name, ok := f.coord.Registry().Lookup("a.js")
	require.True(t, ok)
	assert.Equal(t, name, f.bundler.names["a.js"], "bundler output uses the assigned name")
	assert.Contains(t, markup, name)
}

func TestDeclare_Idempotent(t *testing.T) {
	namer := &countingNamer{}
	f := newFixture(t, func(o *Options) {
		namer.next = naming.NewContentNamer(o.Root)
		o.Namer = namer
	})
	ctx := context.Background()
	f.host.start(t)

	first, err := f.coord.Declare(ctx, f.page, "a.js", false)
	require.NoError(t, err)
	second, err := f.coord.Declare(ctx, f.page, filepath.Join(f.root, "a.js"), false)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), namer.calls.Load(), "naming runs once per source")
	assert.Equal(t, 1, f.coord.Registry().Len())
}

func TestDeclare_ConcurrentNamesOnce(t *testing.T) {
	namer := &countingNamer{}
	f := newFixture(t, func(o *Options) {
		namer.next = naming.NewContentNamer(o.Root)
		o.Namer = namer
	})
	f.host.start(t)

	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.coord.Declare(context.Background(), f.page, "a.js", false)
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
	assert.Equal(t, int32(1), namer.calls.Load())
}

func TestDeclare_FileRelative(t *testing.T) {
	f := newFixture(t, nil)
	testutils.WriteFile(t, f.root, "src/pages/widget.js", "export default 1")
	f.host.start(t)

	page := PageContext{
		InputPath:  filepath.Join("src", "pages", "about.html"),
		OutputPath: filepath.Join("_site", "about", "index.html"),
		Written:    true,
	}
	markup, err := f.coord.Declare(context.Background(), page, "widget.js", true)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join("src", "pages", "widget.js")}, f.coord.Registry().Keys())
	assert.Regexp(t, `^<script src="\.\./js/widget-[0-9a-f]{6}\.js" type="module"></script>$`, markup)
}

func TestDeclare_AbsolutePaths(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.AbsolutePaths = true })
	f.host.start(t)

	page := f.page
	page.OutputPath = filepath.Join("_site", "deep", "nested", "index.html")
	markup, err := f.coord.Declare(context.Background(), page, "a.js", false)
	require.NoError(t, err)
	assert.Regexp(t, `^<script src="/js/a-[0-9a-f]{6}\.js" type="module"></script>$`, markup)
}

func TestDeclare_AbsoluteFrom(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.AbsolutePaths = true
		o.AbsoluteFrom = "."
	})
	f.host.start(t)

	markup, err := f.coord.Declare(context.Background(), f.page, "a.js", false)
	require.NoError(t, err)
	assert.Regexp(t, `^<script src="/_site/js/a-[0-9a-f]{6}\.js" type="module"></script>$`, markup)
}

func TestDeclare_ScenarioC_UnwrittenPage(t *testing.T) {
	namer := &countingNamer{}
	f := newFixture(t, func(o *Options) {
		namer.next = naming.NewContentNamer(o.Root)
		o.Namer = namer
	})
	f.host.start(t)

	markup, err := f.coord.Declare(context.Background(), PageContext{InputPath: "src/feed.html"}, "a.js", false)
	require.NoError(t, err)
	assert.Empty(t, markup)
	assert.Zero(t, f.coord.Registry().Len())
	assert.Zero(t, namer.calls.Load())

	require.NoError(t, f.host.end())
	assert.Zero(t, f.bundler.Calls(), "nothing to bundle")
}

func TestDeclare_MissingFile(t *testing.T) {
	f := newFixture(t, nil)
	f.host.start(t)

	_, err := f.coord.Declare(context.Background(), f.page, "missing.js", false)
	require.Error(t, err)
	assert.True(t, serrors.IsIOError(err))

	var se *serrors.SiterollError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "rollup", se.Instance)
}

func TestDeclare_CustomMarkup(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Markup = MarkupFunc(func(ctx context.Context, importPath string, page PageContext) (string, error) {
			return fmt.Sprintf("%s|%s", importPath, page.InputPath), nil
		})
	})
	f.host.start(t)

	markup, err := f.coord.Declare(context.Background(), f.page, "a.js", false)
	require.NoError(t, err)
	assert.Regexp(t, `^js/a-[0-9a-f]{6}\.js\|src/index\.html$`, filepath.ToSlash(markup))
}

func TestScenarioB_SharedSourceWarnsOnce(t *testing.T) {
	root := testutils.CreateTempProject(t)
	testutils.WriteFile(t, root, "shared.js", "export const x = 1")

	logger := testutils.NewRecordingLogger()
	ownership := registry.NewOwnershipRegistry()
	host := newFakeHost("_site")
	page := PageContext{InputPath: "src/index.html", OutputPath: filepath.Join("_site", "index.html"), Written: true}

	var coords []*Coordinator
	for _, name := range []string{"app", "admin"} {
		c, err := New(host, Options{
			Shortcode: name,
			Root:      root,
			Logger:    logger,
			Ownership: ownership,
			Bundler:   &fakeBundler{root: root},
			Config: bundler.StaticConfig{Config: &bundler.Config{
				Output: bundler.OutputConfig{Dir: filepath.Join("_site", name)},
			}},
		})
		require.NoError(t, err)
		coords = append(coords, c)
	}

	host.start(t)
	for _, c := range coords {
		_, err := host.shortcodes[c.Instance()](context.Background(), page, "shared.js", false)
		require.NoError(t, err)
	}

	warns := logger.Entries("warn")
	require.Len(t, warns, 1)
	assert.Equal(t, "shared.js", warns[0].Fields["source"])
	assert.Equal(t, "app", warns[0].Fields["previous_instance"])
	assert.Equal(t, "admin", warns[0].Fields["instance"])

	for _, c := range coords {
		_, ok := c.Registry().Lookup("shared.js")
		assert.True(t, ok, "%s registered the source", c.Instance())
	}
}

func TestBuildEnd_ScenarioD_Serverless(t *testing.T) {
	t.Setenv(ServerlessEnv, "1")
	f := newFixture(t, nil)
	f.host.start(t)

	_, err := f.coord.Declare(context.Background(), f.page, "a.js", false)
	require.NoError(t, err)

	require.NoError(t, f.host.end())
	assert.Zero(t, f.bundler.Calls())
	assert.NoFileExists(t, filepath.Join(f.root, "_site", "js", "rollup.manifest.json"))
}

func TestBuildEnd_ScenarioE_MappingInput(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Config = bundler.StaticConfig{Config: &bundler.Config{
			Input:  bundler.MappingInput(map[string]string{"main": "main.js"}),
			Output: bundler.OutputConfig{Dir: "dist"},
		}}
	})
	testutils.WriteFile(t, f.root, "extra.js", "1")
	f.host.start(t)

	_, err := f.coord.Declare(context.Background(), f.page, "extra.js", false)
	require.NoError(t, err)
	require.NoError(t, f.host.end())

	require.Equal(t, 1, f.bundler.Calls())
	assert.Equal(t, bundler.MappingInput(map[string]string{"main": "main.js", "extra.js": "extra.js"}), f.bundler.inputs[0])
	assert.Empty(t, f.bundler.names["main.js"], "user entries keep bundler naming")
	assert.Regexp(t, `^extra-[0-9a-f]{6}\.js$`, f.bundler.names["extra.js"])
}

func TestBuildStart_ResetsRegistry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.host.start(t)
	_, err := f.coord.Declare(ctx, f.page, "a.js", false)
	require.NoError(t, err)
	require.Equal(t, 1, f.coord.Registry().Len())
	require.Equal(t, 1, f.coord.Registry().Ownership().Len())

	f.host.start(t)
	assert.Zero(t, f.coord.Registry().Len())
	assert.Zero(t, f.coord.Registry().Ownership().Len())

	require.NoError(t, f.host.end())
	assert.Zero(t, f.bundler.Calls(), "removed pages leave nothing behind")
}

func TestBuildEnd_WritesManifest(t *testing.T) {
	f := newFixture(t, nil)
	f.host.start(t)

	_, err := f.coord.Declare(context.Background(), f.page, "a.js", false)
	require.NoError(t, err)
	require.NoError(t, f.host.end())

	m, err := bundler.ReadManifest(filepath.Join(f.root, "_site", "js", "rollup.manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, "rollup", m.Instance)
	assert.Equal(t, f.coord.Registry().Snapshot(), m.Sources)
	assert.Len(t, m.Outputs, 1)
}

func TestBuildEnd_BundlerFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.bundler.writeErr = serrors.NewBuildError(serrors.ErrCodeBundleFailed, "esbuild failed", errors.New("syntax"))
	f.host.start(t)

	_, err := f.coord.Declare(context.Background(), f.page, "a.js", false)
	require.NoError(t, err)

	err = f.host.end()
	require.Error(t, err)
	assert.True(t, serrors.IsBuildError(err))
	assert.Equal(t, 1, f.bundler.closed, "bundle is closed after a failed write")
	assert.Equal(t, StateIdle, f.coord.State())
}

func TestConfigFailurePropagates(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Config = bundler.ConfigFactory(func(bundler.FactoryOptions) (*bundler.Config, error) {
			return nil, errors.New("cannot evaluate")
		})
	})
	f.host.start(t)

	_, err := f.coord.Declare(context.Background(), f.page, "a.js", false)
	assert.True(t, serrors.IsConfigError(err))

	err = f.host.end()
	assert.True(t, serrors.IsConfigError(err))
	assert.Zero(t, f.bundler.Calls())
}

func TestWatchIncludeForwarded(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Config = bundler.StaticConfig{Config: &bundler.Config{
			Output: bundler.OutputConfig{Dir: "dist"},
			Watch:  bundler.WatchConfig{Include: []string{"lib/**/*.js", "vendor/*.js"}},
		}}
	})

	_, err := f.coord.Config(context.Background())
	require.NoError(t, err)

	f.host.mu.Lock()
	defer f.host.mu.Unlock()
	assert.Equal(t, []string{"lib/**/*.js", "vendor/*.js"}, f.host.watch)
}

func TestConfig_HonoursContext(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	f := newFixture(t, func(o *Options) {
		o.Config = bundler.ConfigFactory(func(bundler.FactoryOptions) (*bundler.Config, error) {
			<-block
			return &bundler.Config{Output: bundler.OutputConfig{Dir: "dist"}}, nil
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.coord.Config(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEndToEndWithEsbuild(t *testing.T) {
	root := testutils.CreateTempProject(t)
	testutils.WriteFile(t, root, "scripts/lib.js", "export const greet = () => 'hello';\n")
	testutils.WriteFile(t, root, "scripts/app.js", "import { greet } from './lib.js';\nconsole.log(greet());\n")

	host := newFakeHost("_site")
	c, err := New(host, Options{
		Root:          root,
		Ownership:     registry.NewOwnershipRegistry(),
		NameCacheSize: 16,
		Config: bundler.StaticConfig{Config: &bundler.Config{
			Output: bundler.OutputConfig{Dir: filepath.Join("_site", "assets")},
		}},
	})
	require.NoError(t, err)

	host.start(t)
	page := PageContext{InputPath: "src/index.html", OutputPath: filepath.Join("_site", "index.html"), Written: true}
	markup, err := c.Declare(context.Background(), page, filepath.Join("scripts", "app.js"), false)
	require.NoError(t, err)
	require.NoError(t, host.end())

	name, ok := c.Registry().Lookup(filepath.Join("scripts", "app.js"))
	require.True(t, ok)
	assert.Contains(t, markup, "assets/"+name)
	assert.FileExists(t, filepath.Join(root, "_site", "assets", name))
	assert.FileExists(t, filepath.Join(root, "_site", "assets", "rollup.manifest.json"))
}
