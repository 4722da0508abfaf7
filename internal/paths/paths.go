// Package paths normalizes script references to root-relative source keys and
// computes the import path embedded into rendered pages.
package paths

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Mode selects how import paths are computed.
type Mode int

const (
	// ModeRelative computes import paths relative to the directory holding
	// the page's rendered output file.
	ModeRelative Mode = iota
	// ModeAbsolute computes root-anchored import paths relative to a site
	// root directory.
	ModeAbsolute
)

// String returns the string representation of the Mode
func (m Mode) String() string {
	switch m {
	case ModeRelative:
		return "relative"
	case ModeAbsolute:
		return "absolute"
	default:
		return "unknown"
	}
}

// Normalizer turns the different spellings of a script path into one
// SourceReference key: the path made absolute, then relative to Root.
type Normalizer struct {
	// Root is the project root. Relative paths resolve against it.
	Root string
}

// NewNormalizer returns a Normalizer rooted at root. An empty root means the
// current working directory.
func NewNormalizer(root string) (*Normalizer, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root %s: %w", root, err)
	}
	return &Normalizer{Root: abs}, nil
}

// Normalize returns the root-relative key for src. When fileRelative is set,
// src is resolved against the directory of pageInputPath instead of the root.
func (n *Normalizer) Normalize(src, pageInputPath string, fileRelative bool) (string, error) {
	if src == "" {
		return "", fmt.Errorf("empty script path")
	}

	if fileRelative && !filepath.IsAbs(src) {
		src = filepath.Join(filepath.Dir(n.abs(pageInputPath)), src)
	}

	rel, err := filepath.Rel(n.Root, n.abs(src))
	if err != nil {
		return "", fmt.Errorf("making %s relative to %s: %w", src, n.Root, err)
	}
	return rel, nil
}

// Abs resolves a root-relative key (or any path) to an absolute path.
func (n *Normalizer) Abs(p string) string {
	return n.abs(p)
}

func (n *Normalizer) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(n.Root, p)
}

// Resolver computes ImportPaths for assigned bundle file names.
type Resolver struct {
	normalizer *Normalizer
	bundleDir  string
	siteRoot   string
	mode       Mode
}

// NewResolver builds a Resolver. bundleDir is the bundler's output directory,
// siteRoot the directory absolute import paths are anchored at.
func NewResolver(n *Normalizer, bundleDir, siteRoot string, mode Mode) *Resolver {
	return &Resolver{
		normalizer: n,
		bundleDir:  bundleDir,
		siteRoot:   siteRoot,
		mode:       mode,
	}
}

// Mode returns the configured import path mode.
func (r *Resolver) Mode() Mode {
	return r.mode
}

// ImportPath returns the path a page written to pageOutputPath must use to
// load the bundle file named assignedName.
func (r *Resolver) ImportPath(assignedName, pageOutputPath string) (string, error) {
	target := r.normalizer.abs(filepath.Join(r.bundleDir, assignedName))

	var from, anchor string
	switch r.mode {
	case ModeAbsolute:
		from = r.normalizer.abs(r.siteRoot)
		anchor = "/"
	default:
		if pageOutputPath == "" {
			return "", fmt.Errorf("relative import path for %s needs a page output path", assignedName)
		}
		from = filepath.Dir(r.normalizer.abs(pageOutputPath))
		anchor = "."
	}

	rel, err := filepath.Rel(from, target)
	if err != nil {
		return "", fmt.Errorf("computing import path for %s: %w", assignedName, err)
	}

	return path.Join(anchor, ToSlash(rel)), nil
}

// ToSlash converts separators to forward slashes regardless of the host,
// including backslashes on hosts where they are not separators.
func ToSlash(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
}
