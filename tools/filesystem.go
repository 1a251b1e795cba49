package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/volary-ai/analyzer-agent/errors"
)

const (
	listLimit    = 100
	grepLimit    = 100
	blameTimeout = 30 * time.Second
	grepTimeout  = 5 * time.Second
)

// Workspace exposes read-only repository tools rooted at one directory.
type Workspace struct {
	root   string
	ignore *IgnoreFilter
	hidden []string
}

// NewWorkspace creates the file tools for root. Paths matching one of the
// hidden doublestar patterns are neither listed nor readable.
func NewWorkspace(root string, ignore *IgnoreFilter, hidden []string) *Workspace {
	return &Workspace{root: root, ignore: ignore, hidden: hidden}
}

// Root returns the working directory of the workspace.
func (w *Workspace) Root() string { return w.root }

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.Match(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

func (w *Workspace) resolve(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return "", errors.Wrapf(err, "path '%s' is outside the working directory", p)
		}
		p = rel
	}
	rel := filepath.ToSlash(filepath.Clean(p))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errors.New("path '%s' is outside the working directory", p)
	}
	hidden, err := isPathRestricted(rel, w.hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path '%s' is hidden", p)
	}
	return rel, nil
}

// List returns every non-ignored path matching glob, sorted.
func (w *Workspace) List(glob string) ([]string, error) {
	glob = strings.TrimPrefix(filepath.ToSlash(glob), "./")
	if glob == "" || glob == "." {
		glob = "*"
	}
	matches, err := doublestar.Glob(os.DirFS(w.root), glob)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid glob '%s'", glob)
	}
	out := matches[:0]
	for _, m := range matches {
		if w.ignore.Ignored(m) {
			continue
		}
		if hidden, _ := isPathRestricted(m, w.hidden); hidden {
			continue
		}
		out = append(out, m)
	}
	slices.Sort(out)
	return out, nil
}

// ReadFile returns the lines of p between from and to (1-indexed, inclusive,
// zero meaning unbounded). Git blame annotations are included when the file
// is tracked, otherwise lines are numbered.
func (w *Workspace) ReadFile(ctx context.Context, p string, from, to int) (string, error) {
	rel, err := w.resolve(p)
	if err != nil {
		return "", err
	}

	res, err := runCommand(ctx, w.root, blameTimeout, "git", "blame", "--date=short", "--", rel)
	if err == nil && res.ExitCode == 0 {
		lines := strings.Split(res.Stdout, "\n")
		if from == 0 && to == 0 {
			return res.Stdout, nil
		}
		start, end := lineWindow(len(lines), from, to)
		return strings.Join(lines[start:end], "\n"), nil
	}

	data, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(rel)))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", p)
	}
	content := string(data)
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}
	start, end := lineWindow(len(lines), from, to)
	numbered := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		numbered = append(numbered, fmt.Sprintf("%4d→%s", i+1, strings.TrimRightFunc(lines[i], unicode.IsSpace)))
	}
	return strings.Join(numbered, "\n"), nil
}

// lineWindow converts an inclusive 1-indexed range into slice bounds.
func lineWindow(n, from, to int) (int, int) {
	start, end := 0, n
	if from > 0 {
		start = min(from-1, n)
	}
	if to > 0 {
		end = min(to, n)
	}
	if end < start {
		end = start
	}
	return start, end
}

// Grep searches tracked files with git grep and formats the matches for the
// model. Failures are reported in the returned text.
func (w *Workspace) Grep(ctx context.Context, pattern, dir, filePattern string) string {
	args := []string{"grep", "-n", "-E", "-e", pattern}
	if dir != "." && dir != "" {
		args = append(args, "--")
		if filePattern != "*" && filePattern != "" {
			args = append(args, dir+"/"+filePattern)
		} else {
			args = append(args, dir)
		}
	} else if filePattern != "*" && filePattern != "" {
		args = append(args, "--", filePattern)
	}

	res, err := runCommand(ctx, w.root, grepTimeout, "git", args...)
	switch {
	case errors.Is(err, errCommandTimeout):
		return fmt.Sprintf("Search timed out after %s. Try narrowing the search with a more specific path or file_pattern.", grepTimeout)
	case err != nil:
		return fmt.Sprintf("Error executing grep: %v", err)
	case res.ExitCode == 1:
		return fmt.Sprintf("No matches found for pattern '%s'", pattern)
	case res.ExitCode != 0:
		return fmt.Sprintf("Error searching: %s", strings.TrimSpace(res.Stderr))
	}

	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		file, _, _ := strings.Cut(line, ":")
		if hidden, _ := isPathRestricted(file, w.hidden); hidden {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return fmt.Sprintf("No matches found for pattern '%s'", pattern)
	}
	if len(lines) > grepLimit {
		return fmt.Sprintf("Found %d matches (showing first %d):\n%s", len(lines), grepLimit, strings.Join(lines[:grepLimit], "\n"))
	}
	return strings.Join(lines, "\n")
}

type lsArgs struct {
	Glob string `json:"glob" desc:"The glob pattern to match files with. Supports the ** extension for recursive search."`
}

type readFileArgs struct {
	Path     string `json:"path" desc:"The path of the file to read, relative to the working directory"`
	FromLine *int   `json:"from_line,omitempty" desc:"Optional starting line number (1-indexed, inclusive)"`
	ToLine   *int   `json:"to_line,omitempty" desc:"Optional ending line number (1-indexed, inclusive)"`
}

type grepArgs struct {
	Pattern     string `json:"pattern" desc:"The extended regex pattern to search for"`
	Path        string `json:"path" default:"." desc:"The directory to search in"`
	FilePattern string `json:"file_pattern" default:"*" desc:"Glob pattern to filter files"`
}

// Tools returns ls, read_file and grep bound to the workspace.
func (w *Workspace) Tools() []Tool {
	ls := MustFunc("ls", `Lists files under the working directory.

Examples:
ls(glob="*") lists top level files and folders
ls(glob="**/*") lists files and folders recursively
ls(glob="*.py") lists .py files in the working directory

Ignored files (.gitignore and common build or cache folders) are left out.`,
		func(_ context.Context, a lsArgs) (Result, error) {
			paths, err := w.List(a.Glob)
			if err != nil {
				return Result{}, err
			}
			if len(paths) > listLimit {
				return Text(fmt.Sprintf("found %d results. Showing first %d: \n%s", len(paths), listLimit, strings.Join(paths[:listLimit], "\n"))), nil
			}
			return Text(strings.Join(paths, "\n")), nil
		})

	readFile := MustFunc("read_file", `Reads a file relative to the working directory.
Tracked files include git blame annotations showing when each line last changed.`,
		func(ctx context.Context, a readFileArgs) (Result, error) {
			from, to := 0, 0
			if a.FromLine != nil {
				from = *a.FromLine
			}
			if a.ToLine != nil {
				to = *a.ToLine
			}
			content, err := w.ReadFile(ctx, a.Path, from, to)
			if err != nil {
				return Result{}, err
			}
			return Text(content), nil
		})

	grep := MustFunc("grep", `Searches for a regex in tracked files using git grep (respects .gitignore).

Examples:
grep(pattern="TODO", file_pattern="*.py") searches for TODO in Python files
grep(pattern="import.*requests", path="src") searches src/ for imports of requests`,
		func(ctx context.Context, a grepArgs) (Result, error) {
			return Text(w.Grep(ctx, a.Pattern, a.Path, a.FilePattern)), nil
		})

	return []Tool{ls, readFile, grep}
}
