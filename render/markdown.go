package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/volary-ai/analyzer-agent/analysis"
)

// SummaryMarkdown renders the issues as a GitHub flavoured markdown table.
// File references become links to the repository's source when both repo
// (owner/name) and revision are known.
func SummaryMarkdown(a analysis.EvaluatedAnalysis, repo, revision string) string {
	evaluated := a.Evaluated()
	var rows []string
	if evaluated {
		rows = []string{
			"| Title       | Description    | Action         | Evaluation        | Files              |",
			"| ----------- | -------------- | -------------- | ----------------- | ------------------ |",
		}
	} else {
		rows = []string{
			"| Title       | Description    | Action         | Files              |",
			"| ----------- | -------------- | -------------- | ------------------ |",
		}
	}
	for _, issue := range a.Issues {
		cells := []string{
			issue.Title,
			addSourceLinks(issue.ShortDescription, repo, revision),
			addSourceLinks(issue.RecommendedAction, repo, revision),
		}
		if evaluated {
			cells = append(cells, markdownEvaluation(issue.Evaluation))
		}
		cells = append(cells, markdownFiles(issue.Files, repo, revision))
		for i, c := range cells {
			cells[i] = strings.ReplaceAll(c, "\n", "<br>")
		}
		rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
	}
	return strings.Join(rows, "\n")
}

func markdownEvaluation(c *analysis.Criteria) string {
	if c == nil {
		return "-"
	}
	var lines []string
	for _, f := range evalFields(*c) {
		lines = append(lines, f.key+": "+f.value)
	}
	return strings.Join(lines, "\n")
}

func addSourceLinks(text, repo, revision string) string {
	if repo == "" || revision == "" {
		return text
	}
	return replaceFileRefs(text, func(ref fileRef, _ string) string {
		return markdownLink(ref, repo, revision)
	})
}

func markdownFiles(files []analysis.FileReference, repo, revision string) string {
	if len(files) == 0 {
		return "-"
	}
	lines := make([]string, len(files))
	for i, f := range files {
		if repo == "" || revision == "" {
			lines[i] = f.String()
			continue
		}
		ref := fileRef{path: f.Path}
		if f.LineStart != nil {
			ref.start = strconv.Itoa(*f.LineStart)
			if f.LineEnd != nil {
				ref.end = strconv.Itoa(*f.LineEnd)
			}
		}
		lines[i] = markdownLink(ref, repo, revision)
	}
	return strings.Join(lines, "\n")
}

func markdownLink(ref fileRef, repo, revision string) string {
	text, anchor := ref.path, ""
	switch {
	case ref.end != "":
		text = fmt.Sprintf("%s:%s-%s", ref.path, ref.start, ref.end)
		anchor = fmt.Sprintf("#L%s-L%s", ref.start, ref.end)
	case ref.start != "":
		text = fmt.Sprintf("%s:%s", ref.path, ref.start)
		anchor = "#L" + ref.start
	}
	return fmt.Sprintf("[%s](https://github.com/%s/blob/%s/%s%s)", text, repo, revision, ref.path, anchor)
}

// Markdown writes md to w, rendered for the terminal when w is one and as is
// otherwise.
func Markdown(w io.Writer, md string) error {
	if IsTerminal(w) {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(Width(w)),
		)
		if err == nil {
			if out, err := renderer.Render(md); err == nil {
				_, err = io.WriteString(w, out)
				return err
			}
		}
	}
	_, err := io.WriteString(w, md+"\n")
	return err
}
