//go:build property

package watcher

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties checks batch shape for arbitrary event streams.
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("flush yields one sorted event per path", prop.ForAll(
		func(ids []int) bool {
			d := &Debouncer{
				delay:   time.Hour,
				events:  make(chan ChangeEvent, 1),
				output:  make(chan []ChangeEvent, 1),
				pending: make([]ChangeEvent, 0),
			}

			unique := make(map[string]bool)
			for i, id := range ids {
				path := fmt.Sprintf("file-%d.html", id)
				unique[path] = true
				d.pending = append(d.pending, ChangeEvent{Path: path, Size: int64(i)})
			}
			d.flush()

			if len(ids) == 0 {
				return len(d.output) == 0
			}

			batch := <-d.output
			if len(batch) != len(unique) {
				return false
			}
			return sort.SliceIsSorted(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path }) &&
				len(d.pending) == 0
		},
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.Property("static base stops at the first glob segment", prop.ForAll(
		func(dirs []string, glob string) bool {
			pattern := strings.Join(append(append([]string(nil), dirs...), glob), "/")
			want := "."
			if len(dirs) > 0 {
				want = filepath.Join(dirs...)
			}
			return StaticBase(pattern) == want
		},
		gen.SliceOf(gen.Identifier()),
		gen.OneConstOf("*.js", "**/*.js", "[ab].js", "{x,y}.js"),
	))

	properties.TestingRun(t)
}
