package coordinator

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// MarkupGenerator renders the markup that loads a bundle from a page.
type MarkupGenerator interface {
	Generate(ctx context.Context, importPath string, page PageContext) (string, error)
}

// MarkupFunc adapts a function to MarkupGenerator.
type MarkupFunc func(ctx context.Context, importPath string, page PageContext) (string, error)

// Generate calls f.
func (f MarkupFunc) Generate(ctx context.Context, importPath string, page PageContext) (string, error) {
	return f(ctx, importPath, page)
}

// ModuleScript is a module-type script tag loading src.
func ModuleScript(src string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<script src="`+templ.EscapeString(src)+`" type="module"></script>`)
		return err
	})
}

// ComponentMarkup renders the component built by fn for every reference.
func ComponentMarkup(fn func(importPath string, page PageContext) templ.Component) MarkupGenerator {
	return MarkupFunc(func(ctx context.Context, importPath string, page PageContext) (string, error) {
		var sb strings.Builder
		if err := fn(importPath, page).Render(ctx, &sb); err != nil {
			return "", err
		}
		return sb.String(), nil
	})
}

// DefaultMarkup renders ModuleScript.
var DefaultMarkup = ComponentMarkup(func(importPath string, _ PageContext) templ.Component {
	return ModuleScript(importPath)
})
