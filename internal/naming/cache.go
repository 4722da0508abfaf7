package naming

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of remembered names.
const DefaultCacheSize = 4096

// CachedNamer memoizes another NamingStrategy by file metadata. The key is
// (path, size, modification time), so an edited file is renamed on the next
// build while untouched files skip the digest entirely.
type CachedNamer struct {
	next  NamingStrategy
	root  string
	cache *lru.Cache[string, string]
}

// NewCachedNamer wraps next with a metadata-keyed LRU cache.
func NewCachedNamer(next NamingStrategy, root string, size int) (*CachedNamer, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating naming cache: %w", err)
	}
	return &CachedNamer{next: next, root: root, cache: cache}, nil
}

// AssignName returns the cached name when the file metadata is unchanged.
func (c *CachedNamer) AssignName(ctx context.Context, source string) (string, error) {
	p := source
	if !filepath.IsAbs(p) && c.root != "" {
		p = filepath.Join(c.root, p)
	}

	stat, err := os.Stat(p)
	if err != nil {
		// Let the wrapped strategy produce the error it would normally report.
		return c.next.AssignName(ctx, source)
	}

	key := fmt.Sprintf("%s:%d:%d", source, stat.Size(), stat.ModTime().UnixNano())
	if name, ok := c.cache.Get(key); ok {
		return name, nil
	}

	name, err := c.next.AssignName(ctx, source)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, name)
	return name, nil
}

// Len returns the number of cached names.
func (c *CachedNamer) Len() int {
	return c.cache.Len()
}

// Purge drops every cached name.
func (c *CachedNamer) Purge() {
	c.cache.Purge()
}
