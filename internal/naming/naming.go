// Package naming derives deterministic bundle file names for script sources.
//
// The default ContentNamer streams a file into a SHA-256 digest seeded with
// the source's root-relative path, so identical contents at different paths
// get different names and moving a file busts caches. The digest is truncated
// and appended to the file's base name to stay recognizable and URL-safe.
package naming

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	serrors "github.com/conneroisu/siteroll/internal/errors"
	"github.com/conneroisu/siteroll/internal/paths"
)

// NamingStrategy assigns the output file name for a normalized source path.
// Implementations must be safe for concurrent use with different paths and
// return the same name for an unchanged (path, contents) pair.
type NamingStrategy interface {
	AssignName(ctx context.Context, source string) (string, error)
}

// NamingFunc adapts a plain function to NamingStrategy.
type NamingFunc func(ctx context.Context, source string) (string, error)

// AssignName calls f.
func (f NamingFunc) AssignName(ctx context.Context, source string) (string, error) {
	return f(ctx, source)
}

const (
	// pathSeparator splits the path seed from the file contents in the digest.
	pathSeparator = "---SITEROLL SOURCE BOUNDARY---"

	DefaultHashLength = 6
	DefaultExtension  = ".js"
)

// ContentNamer is the default NamingStrategy.
type ContentNamer struct {
	// Root is the directory source paths are relative to.
	Root string
	// HashLength is the number of hex digest characters kept.
	HashLength int
	// Extension is appended to every assigned name.
	Extension string
}

// NewContentNamer creates a ContentNamer reading sources below root.
func NewContentNamer(root string) *ContentNamer {
	return &ContentNamer{
		Root:       root,
		HashLength: DefaultHashLength,
		Extension:  DefaultExtension,
	}
}

// AssignName returns "<base>-<hash><ext>" for source. Read failures are
// returned as I/O errors and never retried.
func (c *ContentNamer) AssignName(ctx context.Context, source string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	digest, err := c.Digest(source)
	if err != nil {
		return "", err
	}

	return FormatName(source, digest, c.hashLength(), c.extension()), nil
}

// Digest returns the full hex digest of the path seed and file contents.
func (c *ContentNamer) Digest(source string) (string, error) {
	file, err := os.Open(c.resolve(source))
	if err != nil {
		return "", serrors.NewIOError(serrors.ErrCodeNamingFailed, "cannot read script source", err).
			WithFile(source)
	}
	defer file.Close()

	h := sha256.New()
	// Seed with the slash-normalized path so names agree across hosts.
	io.WriteString(h, paths.ToSlash(source))
	io.WriteString(h, pathSeparator)

	if _, err := io.Copy(h, file); err != nil {
		return "", serrors.NewIOError(serrors.ErrCodeNamingFailed, "cannot read script source", err).
			WithFile(source)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *ContentNamer) resolve(source string) string {
	if filepath.IsAbs(source) || c.Root == "" {
		return source
	}
	return filepath.Join(c.Root, source)
}

func (c *ContentNamer) hashLength() int {
	if c.HashLength <= 0 {
		return DefaultHashLength
	}
	return c.HashLength
}

func (c *ContentNamer) extension() string {
	if c.Extension == "" {
		return DefaultExtension
	}
	return c.Extension
}

// FormatName combines a source's base name with a truncated digest.
func FormatName(source, digest string, hashLength int, ext string) string {
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if hashLength > len(digest) {
		hashLength = len(digest)
	}
	return base + "-" + digest[:hashLength] + ext
}
