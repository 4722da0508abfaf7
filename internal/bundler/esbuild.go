package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	serrors "github.com/conneroisu/siteroll/internal/errors"
)

// Esbuild bundles with the esbuild Go API.
type Esbuild struct {
	// Root is the working directory input paths are relative to.
	Root string
}

// NewEsbuild returns an esbuild-backed Bundler rooted at root.
func NewEsbuild(root string) *Esbuild {
	return &Esbuild{Root: root}
}

// Bundle validates the inputs and returns a handle that writes on demand.
func (e *Esbuild) Bundle(ctx context.Context, input InputSpec, cfg *Config) (Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := input.Entries()
	if len(entries) == 0 {
		return nil, serrors.NewBuildError(serrors.ErrCodeBundleFailed, "bundler needs at least one input", nil)
	}
	if cfg == nil {
		return nil, serrors.NewConfigError(serrors.ErrCodeConfigInvalid, "bundler needs a configuration", nil)
	}

	root, err := filepath.Abs(e.Root)
	if err != nil {
		return nil, serrors.NewBuildError(serrors.ErrCodeBundleFailed, "cannot resolve bundler root", err)
	}

	return &esbuildBundle{root: root, entries: entries, cfg: cfg}, nil
}

type esbuildBundle struct {
	root    string
	entries []Entry
	cfg     *Config

	mu     sync.Mutex
	closed bool
}

func (b *esbuildBundle) Write(ctx context.Context, opts OutputOptions) (*WriteResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, serrors.NewInternalError(serrors.ErrCodeBundleWrite, "write on closed bundle", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	build, err := b.buildOptions(opts)
	if err != nil {
		return nil, err
	}

	result := api.Build(build)
	if len(result.Errors) > 0 {
		msgs := api.FormatMessages(result.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage})
		return nil, serrors.NewBuildError(serrors.ErrCodeBundleFailed, "esbuild failed",
			fmt.Errorf("%s", strings.TrimSpace(strings.Join(msgs, "\n"))))
	}

	var meta Metafile
	if err := json.Unmarshal([]byte(result.Metafile), &meta); err != nil {
		return nil, serrors.NewBuildError(serrors.ErrCodeBundleWrite, "cannot parse esbuild metafile", err)
	}

	out := &WriteResult{
		Warnings: api.FormatMessages(result.Warnings, api.FormatMessagesOptions{Kind: api.WarningMessage}),
	}
	for p, o := range meta.Outputs {
		out.Outputs = append(out.Outputs, OutputFile{
			Path:       filepath.FromSlash(p),
			Bytes:      o.Bytes,
			EntryPoint: filepath.FromSlash(o.EntryPoint),
		})
	}
	sort.Slice(out.Outputs, func(i, j int) bool { return out.Outputs[i].Path < out.Outputs[j].Path })
	return out, nil
}

func (b *esbuildBundle) buildOptions(opts OutputOptions) (api.BuildOptions, error) {
	output := opts.OutputConfig
	if output.Dir == "" {
		output = b.cfg.Output
	}

	outExt := ""
	points := make([]api.EntryPoint, 0, len(b.entries))
	for _, entry := range b.entries {
		input := entry.Source
		if !filepath.IsAbs(input) {
			input = filepath.Join(b.root, input)
		}

		outputPath := entry.Name
		if opts.EntryFileNames != nil {
			if name := opts.EntryFileNames(Chunk{FacadeModuleID: input, Name: entry.Name, IsEntry: true}); name != "" {
				ext := filepath.Ext(name)
				if outExt != "" && ext != outExt {
					return api.BuildOptions{}, serrors.NewBuildError(serrors.ErrCodeBundleFailed,
						fmt.Sprintf("entry names mix extensions %q and %q", outExt, ext), nil)
				}
				outExt = ext
				outputPath = strings.TrimSuffix(name, ext)
			}
		}
		points = append(points, api.EntryPoint{InputPath: input, OutputPath: outputPath})
	}

	outdir := output.Dir
	if !filepath.IsAbs(outdir) {
		outdir = filepath.Join(b.root, outdir)
	}

	build := api.BuildOptions{
		EntryPointsAdvanced: points,
		AbsWorkingDir:       b.root,
		Outdir:              outdir,
		Bundle:              true,
		Write:               true,
		Metafile:            true,
		LogLevel:            api.LogLevelSilent,
		Format:              esbuildFormat(output.Format),
		Platform:            esbuildPlatform(b.cfg.Platform),
		Target:              esbuildTarget(b.cfg.Target),
		Splitting:           output.Splitting,
		EntryNames:          output.EntryNames,
		ChunkNames:          output.ChunkNames,
		External:            b.cfg.External,
		Define:              b.cfg.Define,
		MinifyWhitespace:    output.Minify,
		MinifyIdentifiers:   output.Minify,
		MinifySyntax:        output.Minify,
	}
	if output.Sourcemap {
		build.Sourcemap = api.SourceMapLinked
	}
	if outExt != "" && outExt != ".js" {
		build.OutExtension = map[string]string{".js": outExt}
	}
	return build, nil
}

func (b *esbuildBundle) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.entries = nil
	return nil
}

func esbuildFormat(format string) api.Format {
	switch strings.ToLower(format) {
	case "cjs", "commonjs":
		return api.FormatCommonJS
	case "iife":
		return api.FormatIIFE
	default:
		return api.FormatESModule
	}
}

func esbuildPlatform(platform string) api.Platform {
	switch strings.ToLower(platform) {
	case "node":
		return api.PlatformNode
	case "neutral":
		return api.PlatformNeutral
	default:
		return api.PlatformBrowser
	}
}

func esbuildTarget(target string) api.Target {
	switch strings.ToLower(target) {
	case "es2015", "es6":
		return api.ES2015
	case "es2016":
		return api.ES2016
	case "es2017":
		return api.ES2017
	case "es2018":
		return api.ES2018
	case "es2019":
		return api.ES2019
	case "es2020":
		return api.ES2020
	case "es2021":
		return api.ES2021
	case "es2022":
		return api.ES2022
	default:
		return api.ESNext
	}
}

var _ Bundler = (*Esbuild)(nil)
