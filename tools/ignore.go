package tools

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// alwaysIgnored is skipped in every repository, gitignored or not.
var alwaysIgnored = []string{
	"node_modules",
	".git",
	"__pycache__",
	".venv",
	"venv",
	".pytest_cache",
	".mypy_cache",
	"*.pyc",
	".DS_Store",
}

type ignoreRule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
}

// IgnoreFilter answers whether a path inside one working directory is
// gitignored. Build one per directory with LoadIgnoreFilter.
type IgnoreFilter struct {
	root  string
	rules []ignoreRule
}

// LoadIgnoreFilter reads root/.gitignore. A missing file yields a filter that
// only applies the built in ignores.
func LoadIgnoreFilter(root string) (*IgnoreFilter, error) {
	f := &IgnoreFilter{root: root}
	file, err := os.Open(filepath.Join(root, ".gitignore"))
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if rule, ok := parseIgnoreLine(scanner.Text()); ok {
			f.rules = append(f.rules, rule)
		}
	}
	return f, scanner.Err()
}

// NewIgnoreFilter builds a filter from gitignore lines.
func NewIgnoreFilter(root string, lines ...string) *IgnoreFilter {
	f := &IgnoreFilter{root: root}
	for _, line := range lines {
		if rule, ok := parseIgnoreLine(line); ok {
			f.rules = append(f.rules, rule)
		}
	}
	return f
}

func parseIgnoreLine(line string) (ignoreRule, bool) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return ignoreRule{}, false
	}
	var r ignoreRule
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	line = strings.TrimPrefix(line, `\`)
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	} else if strings.Contains(line, "/") {
		r.anchored = true
	}
	if line == "" {
		return ignoreRule{}, false
	}
	r.pattern = line
	return r, true
}

func (r ignoreRule) matches(p string) bool {
	target := p
	if !r.anchored {
		target = path.Base(p)
	}
	ok, err := doublestar.Match(r.pattern, target)
	return err == nil && ok
}

// Ignored reports whether rel (relative to the root) is ignored, either by
// the built in list or by .gitignore. A path is also ignored when one of its
// parent directories is.
func (f *IgnoreFilter) Ignored(rel string) bool {
	rel = path.Clean(filepath.ToSlash(rel))
	rel = strings.TrimPrefix(rel, "./")
	if rel == "." || rel == "" {
		return false
	}
	parts := strings.Split(rel, "/")
	for _, part := range parts {
		for _, pattern := range alwaysIgnored {
			if ok, _ := path.Match(pattern, part); ok {
				return true
			}
		}
	}
	if f == nil {
		return false
	}
	for i := 1; i <= len(parts); i++ {
		sub := strings.Join(parts[:i], "/")
		isDir := i < len(parts) || f.isDir(sub)
		if f.match(sub, isDir) {
			return true
		}
	}
	return false
}

func (f *IgnoreFilter) match(p string, isDir bool) bool {
	ignored := false
	for _, r := range f.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.matches(p) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (f *IgnoreFilter) isDir(rel string) bool {
	info, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(rel)))
	return err == nil && info.IsDir()
}
