package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizer_Normalize(t *testing.T) {
	root := t.TempDir()
	n, err := NewNormalizer(root)
	require.NoError(t, err)

	want := filepath.Join("src", "a.js")

	tests := []struct {
		name         string
		src          string
		page         string
		fileRelative bool
	}{
		{name: "root relative", src: "src/a.js"},
		{name: "dotted", src: "./src/../src/a.js"},
		{name: "absolute", src: filepath.Join(root, "src", "a.js")},
		{name: "relative to template", src: "../a.js", page: "src/pages/index.html", fileRelative: true},
		{name: "relative to absolute template", src: "a.js", page: filepath.Join(root, "src", "index.html"), fileRelative: true},
		{name: "absolute ignores template", src: filepath.Join(root, "src", "a.js"), page: "other/x.html", fileRelative: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.src, tt.page, tt.fileRelative)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestNormalizer_Empty(t *testing.T) {
	n, err := NewNormalizer(t.TempDir())
	require.NoError(t, err)

	_, err = n.Normalize("", "", false)
	assert.Error(t, err)
}

func TestNormalizer_OutsideRoot(t *testing.T) {
	root := t.TempDir()
	n, err := NewNormalizer(filepath.Join(root, "site"))
	require.NoError(t, err)

	got, err := n.Normalize(filepath.Join(root, "shared", "x.js"), "", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "shared", "x.js"), got)
}

func TestResolver_Relative(t *testing.T) {
	n, err := NewNormalizer(t.TempDir())
	require.NoError(t, err)
	r := NewResolver(n, "_site/js", "_site", ModeRelative)

	tests := []struct {
		page string
		want string
	}{
		{page: "_site/index.html", want: "js/a-0a1b2c.js"},
		{page: "_site/blog/post/index.html", want: "../../js/a-0a1b2c.js"},
		{page: "_site/js/demo.html", want: "a-0a1b2c.js"},
	}

	for _, tt := range tests {
		t.Run(tt.page, func(t *testing.T) {
			got, err := r.ImportPath("a-0a1b2c.js", tt.page)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_Absolute(t *testing.T) {
	n, err := NewNormalizer(t.TempDir())
	require.NoError(t, err)

	r := NewResolver(n, "_site/assets/js", "_site", ModeAbsolute)
	assert.Equal(t, ModeAbsolute, r.Mode())

	for _, page := range []string{"_site/index.html", "_site/a/b/c/index.html", ""} {
		got, err := r.ImportPath("main-ffee00.js", page)
		require.NoError(t, err)
		assert.Equal(t, "/assets/js/main-ffee00.js", got)
	}
}

func TestResolver_RelativeNeedsOutput(t *testing.T) {
	n, err := NewNormalizer(t.TempDir())
	require.NoError(t, err)

	r := NewResolver(n, "_site/js", "_site", ModeRelative)
	_, err = r.ImportPath("a.js", "")
	assert.Error(t, err)
}

func TestToSlash(t *testing.T) {
	assert.Equal(t, "a/b/c.js", ToSlash(`a\b\c.js`))
	assert.Equal(t, "../js/x.js", ToSlash("../js/x.js"))
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "relative", ModeRelative.String())
	assert.Equal(t, "absolute", ModeAbsolute.String())
	assert.Equal(t, "unknown", Mode(9).String())
}
