// Package bundler is the boundary to the external JavaScript bundler.
//
// It owns the input specification and its merge rules, bundle configuration
// loading, and a Bundler abstraction shaped like a two-step bundle/write
// API: Bundle resolves inputs, Write emits files under caller-controlled
// entry names, Close releases the handle. The default implementation drives
// esbuild.
package bundler

import "context"

// Chunk describes one output the bundler is about to write.
type Chunk struct {
	// FacadeModuleID is the absolute path of the module the chunk was
	// produced from. It is empty for shared chunks.
	FacadeModuleID string
	// Name is the entry name from a mapping input, or empty.
	Name    string
	IsEntry bool
}

// OutputOptions are the write-time options. EntryFileNames, when set,
// overrides the file name of every entry chunk; returning "" keeps the
// bundler's own naming for that chunk.
type OutputOptions struct {
	OutputConfig
	EntryFileNames func(Chunk) string
}

// OutputFile is one file written by the bundler.
type OutputFile struct {
	// Path is relative to the bundler's working directory.
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
	// EntryPoint is the source the file was produced from, relative to
	// the working directory, when the file is an entry chunk.
	EntryPoint string `json:"entry_point,omitempty"`
}

// WriteResult reports what a Write produced.
type WriteResult struct {
	Outputs  []OutputFile
	Warnings []string
}

// Bundle is a resolved bundle ready to be written.
type Bundle interface {
	Write(ctx context.Context, opts OutputOptions) (*WriteResult, error)
	Close() error
}

// Bundler creates bundles from an input specification and configuration.
type Bundler interface {
	Bundle(ctx context.Context, input InputSpec, cfg *Config) (Bundle, error)
}
