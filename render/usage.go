package render

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/volary-ai/analyzer-agent/llm"
)

// Usage writes the token usage and cost of every agent, then the totals and
// the cache hit rate.
func Usage(w io.Writer, s llm.UsageSummary) error {
	if len(s.Agents) == 0 {
		return nil
	}
	r := lipgloss.NewRenderer(w)
	row := func(a llm.AgentUsage) []string {
		return []string{
			a.Agent,
			a.Model,
			strconv.Itoa(a.Calls),
			thousands(a.PromptTokens),
			thousands(a.CachedTokens),
			thousands(a.CompletionTokens),
			thousands(a.TotalTokens),
			fmt.Sprintf("$%.6f", a.Cost),
		}
	}
	rows := make([][]string, 0, len(s.Agents)+1)
	for _, a := range s.Agents {
		rows = append(rows, row(a))
	}
	total := s.Total
	total.Model = ""
	rows = append(rows, row(total))
	totalRow := len(rows) - 1

	header := r.NewStyle().Bold(true).Foreground(magenta).Padding(0, 1)
	cell := r.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("Agent", "Model", "Calls", "Prompt", "Cached", "Completion", "Total", "Cost").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case row == totalRow:
				return cell.Bold(true)
			case col == 0:
				return cell.Foreground(cyan)
			case col == 1:
				return cell.Faint(true)
			}
			return cell
		})

	title := r.NewStyle().Bold(true).Foreground(magenta).Render("Usage Summary")
	rate := r.NewStyle().Foreground(green).Render(fmt.Sprintf("Cache hit rate: %.1f%%", s.CacheHitRate()))
	_, err := fmt.Fprintf(w, "\n%s\n%s\n%s\n", title, t.Render(), rate)
	return err
}

// thousands formats n with comma separators.
func thousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := n < 0
	if neg {
		s = s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
