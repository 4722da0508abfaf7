package coordinator

import "context"

// PageContext describes the page a script reference is declared from.
type PageContext struct {
	// InputPath is the page's source file.
	InputPath string
	// OutputPath is where the rendered page is written. Empty when Written
	// is false.
	OutputPath string
	// Written is false for pages that are rendered but never persisted.
	Written bool
}

// Shortcode declares a script reference from a page and returns the markup
// to embed in it.
type Shortcode func(ctx context.Context, page PageContext, src string, fileRelative bool) (string, error)

// Hook is a build lifecycle callback.
type Hook func(ctx context.Context) error

// Host is the page-rendering engine a Coordinator attaches to.
type Host interface {
	OnBuildStart(hook Hook)
	OnBuildEnd(hook Hook)
	AddShortcode(name string, fn Shortcode)
	AddWatchTarget(pattern string)
	// OutputDir is the directory the site is written to.
	OutputDir() string
}
