package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/volary-ai/analyzer-agent/analysis"
)

const (
	red     = lipgloss.Color("1")
	green   = lipgloss.Color("2")
	yellow  = lipgloss.Color("3")
	magenta = lipgloss.Color("5")
	cyan    = lipgloss.Color("6")
	white   = lipgloss.Color("7")
)

var (
	impactColours = map[analysis.Level]lipgloss.Color{analysis.LevelLow: red, analysis.LevelMedium: cyan, analysis.LevelHigh: green}
	effortColours = map[analysis.Level]lipgloss.Color{analysis.LevelLow: green, analysis.LevelMedium: cyan, analysis.LevelHigh: red}
)

// evalField is one line of an issue's evaluation.
type evalField struct {
	key, value string
	colour     lipgloss.Color
}

func yesNo(b bool) (string, lipgloss.Color) {
	if b {
		return "Yes", green
	}
	return "No", red
}

func level(l analysis.Level, colours map[analysis.Level]lipgloss.Color) (string, lipgloss.Color) {
	s := strings.ToLower(string(l))
	colour, ok := colours[analysis.Level(s)]
	if !ok {
		colour = white
	}
	if s == "" {
		return "", colour
	}
	return strings.ToUpper(s[:1]) + s[1:], colour
}

func evalFields(c analysis.Criteria) []evalField {
	var fields []evalField
	for _, b := range []struct {
		key string
		v   bool
	}{{"Objective", c.Objective}, {"Actionable", c.Actionable}, {"Production", c.Production}, {"Local", c.Local}} {
		v, colour := yesNo(b.v)
		fields = append(fields, evalField{b.key, v, colour})
	}
	v, colour := level(c.ImpactScore, impactColours)
	fields = append(fields, evalField{"Impact Score", v, colour})
	v, colour = level(c.Effort, effortColours)
	return append(fields, evalField{"Effort", v, colour})
}

type issueColumn struct {
	header string
	width  int
	style  lipgloss.Style
}

// Issues writes the issues of an analysis as a table followed by their count.
// The evaluation column is shown when any issue has been evaluated. A width of
// zero leaves the table at its natural size.
func Issues(w io.Writer, a analysis.EvaluatedAnalysis, width int) error {
	r := lipgloss.NewRenderer(w)
	evaluated := a.Evaluated()
	highlight := r.NewStyle().Foreground(cyan)

	columns := []issueColumn{
		{"Title", 30, r.NewStyle().Foreground(cyan).Bold(true)},
		{"Description", 40, r.NewStyle().Foreground(white)},
		{"Action", 35, r.NewStyle().Foreground(green)},
	}
	if evaluated {
		columns = append(columns, issueColumn{"Evaluation", 25, r.NewStyle().Foreground(yellow)})
	}
	columns = append(columns, issueColumn{"Files", 50, r.NewStyle().Faint(true)})

	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = c.header
	}

	rows := make([][]string, 0, len(a.Issues))
	for _, issue := range a.Issues {
		row := []string{
			issue.Title,
			highlightFiles(issue.ShortDescription, highlight),
			highlightFiles(issue.RecommendedAction, highlight),
		}
		if evaluated {
			row = append(row, evaluationCell(r, issue.Evaluation))
		}
		rows = append(rows, append(row, filesCell(issue.Files)))
	}

	header := r.NewStyle().Bold(true).Foreground(magenta).Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderRow(true).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			c := columns[col]
			return c.style.Width(c.width).Padding(0, 1)
		})
	if width > 0 {
		t = t.Width(width)
	}

	_, err := fmt.Fprintf(w, "%s\n\n%s\n", t.Render(), r.NewStyle().Bold(true).Render(fmt.Sprintf("Total issues found: %d", len(a.Issues))))
	return err
}

func highlightFiles(text string, style lipgloss.Style) string {
	return replaceFileRefs(text, func(_ fileRef, match string) string {
		return style.Render(match)
	})
}

func evaluationCell(r *lipgloss.Renderer, c *analysis.Criteria) string {
	if c == nil {
		return "-"
	}
	var lines []string
	for _, f := range evalFields(*c) {
		lines = append(lines, f.key+": "+r.NewStyle().Foreground(f.colour).Render(f.value))
	}
	return strings.Join(lines, "\n")
}

func filesCell(files []analysis.FileReference) string {
	if len(files) == 0 {
		return "-"
	}
	lines := make([]string, len(files))
	for i, f := range files {
		lines[i] = f.String()
	}
	return strings.Join(lines, "\n")
}
