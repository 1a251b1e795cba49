package render

import (
	"regexp"
	"strings"
)

// fileRefPattern finds file references in free text, either a path with a
// directory and optional lines (src/core/logging.go:53-65) or a bare file
// name with a line (go.mod:59).
var fileRefPattern = regexp.MustCompile("(?:([^\\s`,:;]+/[^\\s`,:;]+)(?::([0-9]+))?(?:-([0-9]+))?|([^\\s`,:;]+):([0-9]+)(?:-([0-9]+))?)")

type fileRef struct {
	path, start, end string
}

// replaceFileRefs rewrites every file reference in text with fn.
func replaceFileRefs(text string, fn func(ref fileRef, match string) string) string {
	matches := fileRefPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	group := func(m []int, i int) string {
		if m[2*i] < 0 {
			return ""
		}
		return text[m[2*i]:m[2*i+1]]
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		ref := fileRef{path: group(m, 1), start: group(m, 2), end: group(m, 3)}
		if ref.path == "" {
			ref = fileRef{path: group(m, 4), start: group(m, 5), end: group(m, 6)}
		}
		b.WriteString(fn(ref, text[m[0]:m[1]]))
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}
