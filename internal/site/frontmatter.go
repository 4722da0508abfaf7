package site

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

var frontMatterDelim = []byte("---")

// splitFrontMatter separates a leading YAML front matter block from the
// page body. Pages without one get empty front matter.
func splitFrontMatter(data []byte) (map[string]interface{}, []byte, error) {
	fm := map[string]interface{}{}

	trimmed := bytes.TrimPrefix(data, []byte("\ufeff"))
	if !bytes.HasPrefix(trimmed, frontMatterDelim) {
		return fm, data, nil
	}

	rest := trimmed[len(frontMatterDelim):]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || len(bytes.TrimSpace(rest[:nl])) != 0 {
		// "---something" on the first line is body text.
		return fm, data, nil
	}
	rest = rest[nl+1:]

	end := -1
	for offset := 0; offset <= len(rest); {
		line := rest[offset:]
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		if bytes.Equal(bytes.TrimRight(line, " \t\r"), frontMatterDelim) {
			end = offset
			break
		}
		if offset+len(line) >= len(rest) {
			break
		}
		offset += len(line) + 1
	}
	if end < 0 {
		return nil, nil, fmt.Errorf("unterminated front matter")
	}

	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return nil, nil, fmt.Errorf("parsing front matter: %w", err)
	}
	if fm == nil {
		fm = map[string]interface{}{}
	}

	body := rest[end+len(frontMatterDelim):]
	body = bytes.TrimPrefix(body, []byte("\r"))
	body = bytes.TrimPrefix(body, []byte("\n"))
	return fm, body, nil
}
