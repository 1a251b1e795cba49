package analysis

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/volary-ai/analyzer-agent/tools"
)

// contextLines is how many lines around a referenced range are shown to the
// evaluator.
const contextLines = 5

const noRepoContext = "No additional repository context available."

// Contextualise reads the code each file reference points at, widened by a
// few lines either side. Unreadable files are reported in place of their
// content.
func Contextualise(ctx context.Context, ws *tools.Workspace, issue Issue) IssueWithContext {
	contents := make(map[string]string, len(issue.Files))
	for _, ref := range issue.Files {
		from, to := 0, 0
		if ref.LineStart != nil {
			from = max(1, *ref.LineStart-contextLines)
		}
		if ref.LineEnd != nil {
			to = *ref.LineEnd + contextLines
		}
		content, err := ws.ReadFile(ctx, ref.Path, from, to)
		if err != nil {
			content = "Error reading file: " + err.Error()
		}
		contents[ref.Path] = content
	}
	return IssueWithContext{Issue: issue, FileContents: contents}
}

// ContextualiseAll runs Contextualise for every issue concurrently, keeping
// the input order.
func ContextualiseAll(ctx context.Context, ws *tools.Workspace, issues []Issue) EvaluationInput {
	out := make([]IssueWithContext, len(issues))
	var g errgroup.Group
	g.SetLimit(8)
	for i, issue := range issues {
		g.Go(func() error {
			out[i] = Contextualise(ctx, ws, issue)
			return nil
		})
	}
	_ = g.Wait()
	return EvaluationInput{Issues: out}
}

var contextDocs = []struct{ file, heading string }{
	{"README.md", "README.md"},
	{"CLAUDE.md", "CLAUDE.md (Project Instructions)"},
	{"AGENTS.md", "AGENTS.md (Project Instructions)"},
}

// RepoContext summarises the repository for the discovery prompts: the top
// level listing followed by any README and agent instruction files.
func RepoContext(ws *tools.Workspace) string {
	var parts []string
	if top, err := ws.List("*"); err == nil && len(top) > 0 {
		parts = append(parts, "## Repository Structure (top level)", "```", strings.Join(top, "\n"), "```")
	}
	for _, doc := range contextDocs {
		data, err := os.ReadFile(filepath.Join(ws.Root(), doc.file))
		if err != nil {
			continue
		}
		parts = append(parts, "\n## "+doc.heading, "```markdown", string(data), "```")
	}
	if len(parts) == 0 {
		return noRepoContext
	}
	return strings.Join(parts, "\n")
}
