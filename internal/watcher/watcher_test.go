package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	root := t.TempDir()
	watcher, err := NewFileWatcher(root, 100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
	assert.Equal(t, root, watcher.Root())
}

func TestFileWatcherAddPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))

	watcher, err := NewFileWatcher(root, 100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NoError(t, watcher.AddPath("src"))
	assert.Error(t, watcher.AddPath("missing"))
	assert.Error(t, watcher.AddPath(filepath.Join("..", "elsewhere")), "paths outside the root are rejected")
}

func TestAddPattern(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib", "deep", ".cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "single.js"), []byte("1"), 0o644))

	watcher, err := NewFileWatcher(root, 100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, watcher.AddPattern("lib/**/*.js"))
	require.NoError(t, watcher.AddPattern("lib/single.js"))
	assert.Error(t, watcher.AddPattern("nothere/**"))

	list := watcher.watcher.WatchList()
	assert.Contains(t, list, filepath.Join(root, "lib"))
	assert.Contains(t, list, filepath.Join(root, "lib", "deep"))
	assert.NotContains(t, list, filepath.Join(root, "lib", "deep", ".cache"), "hidden directories are skipped")
}

func TestStaticBase(t *testing.T) {
	tests := map[string]string{
		"src/**/*.js":    filepath.FromSlash("src"),
		"lib/a.js":       filepath.FromSlash("lib/a.js"),
		"**/*.js":        ".",
		"a/b/{c,d}/*.js": filepath.FromSlash("a/b"),
	}
	for pattern, want := range tests {
		assert.Equal(t, want, StaticBase(pattern), pattern)
	}
}

func TestFilters(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "project")
	site := filepath.Join(root, "_site")

	pattern := PatternFilter(root, "lib/**/*.js", "vendor/*.js")
	assert.True(t, pattern(filepath.Join(root, "lib", "a", "b.js")))
	assert.True(t, pattern(filepath.Join(root, "vendor", "x.js")))
	assert.False(t, pattern(filepath.Join(root, "vendor", "deep", "x.js")))
	assert.False(t, pattern(filepath.Join(root, "lib", "a.css")))

	under := UnderDirFilter(filepath.Join(root, "src"))
	assert.True(t, under(filepath.Join(root, "src", "index.html")))
	assert.False(t, under(filepath.Join(root, "srcx", "index.html")))

	exclude := ExcludeDirFilter(site)
	assert.False(t, exclude(filepath.Join(site, "js", "a.js")))
	assert.True(t, exclude(filepath.Join(root, "src", "a.js")))

	either := AnyFilter(under, pattern)
	assert.True(t, either(filepath.Join(root, "src", "x.html")))
	assert.True(t, either(filepath.Join(root, "lib", "x.js")))
	assert.False(t, either(filepath.Join(root, "README.md")))

	assert.False(t, NoGitFilter("repo/.git/HEAD"))
	assert.True(t, NoGitFilter("repo/src/a.js"))

	assert.False(t, NoEditorTempFilter("src/a.js~"))
	assert.False(t, NoEditorTempFilter("src/.a.js.swp"))
	assert.False(t, NoEditorTempFilter("src/.#a.js"))
	assert.True(t, NoEditorTempFilter("src/a.js"))
}

func TestDebouncer(t *testing.T) {
	debouncer := &Debouncer{
		delay:   50 * time.Millisecond,
		events:  make(chan ChangeEvent, 100),
		output:  make(chan []ChangeEvent, 10),
		pending: make([]ChangeEvent, 0),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go debouncer.start(ctx)

	debouncer.events <- ChangeEvent{Path: "b.js", Type: EventTypeCreated}
	debouncer.events <- ChangeEvent{Path: "b.js", Type: EventTypeModified}
	debouncer.events <- ChangeEvent{Path: "a.js", Type: EventTypeModified}

	select {
	case events := <-debouncer.output:
		require.Len(t, events, 2)
		assert.Equal(t, "a.js", events[0].Path, "batches are sorted by path")
		assert.Equal(t, "b.js", events[1].Path)
		assert.Equal(t, EventTypeModified, events[1].Type, "last event per path wins")
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never flushed")
	}
}

func TestFileWatcherDeliversFilteredChanges(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	out := filepath.Join(root, "_site")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.MkdirAll(out, 0o755))

	watcher, err := NewFileWatcher(root, 50*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, watcher.AddRecursive(root))
	watcher.AddFilter(ExcludeDirFilter(out))
	watcher.AddFilter(NoEditorTempFilter)

	var mu sync.Mutex
	var seen []string
	watcher.AddHandler(func(ctx context.Context, events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			seen = append(seen, e.Path)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(out, "index.html"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "page.html~"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "page.html"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range seen {
			if p == filepath.Join(src, "page.html") {
				return true
			}
		}
		return false
	}, 3*time.Second, 25*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, p := range seen {
		assert.NotEqual(t, filepath.Join(out, "index.html"), p, "output writes are ignored")
		assert.NotEqual(t, filepath.Join(src, "page.html~"), p, "editor backups are ignored")
	}
}

func TestFileWatcherWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()

	watcher, err := NewFileWatcher(root, 30*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()
	require.NoError(t, watcher.AddRecursive(root))

	var mu sync.Mutex
	var seen []string
	watcher.AddHandler(func(ctx context.Context, events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			seen = append(seen, e.Path)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	newDir := filepath.Join(root, "posts")
	require.NoError(t, os.MkdirAll(newDir, 0o755))

	assert.Eventually(t, func() bool {
		for _, p := range watcher.watcher.WatchList() {
			if p == newDir {
				return true
			}
		}
		return false
	}, 3*time.Second, 25*time.Millisecond)

	target := filepath.Join(newDir, "first.html")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range seen {
			if p == target {
				return true
			}
		}
		return false
	}, 3*time.Second, 25*time.Millisecond)
}
