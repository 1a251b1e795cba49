package terminal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/volary-ai/analyzer-agent/agent"
	"github.com/volary-ai/analyzer-agent/session"
)

// Verbosity controls how much tool activity is printed.
type Verbosity string

const (
	VerbosityNone Verbosity = "none"
	VerbosityInfo Verbosity = "info"
	VerbosityAll  Verbosity = "all"
)

// previewLength is how much of a tool result is shown at VerbosityAll.
const previewLength = 200

type styles struct {
	task      lipgloss.Style
	update    lipgloss.Style
	heading   lipgloss.Style
	dim       lipgloss.Style
	reasoning lipgloss.Style
	err       lipgloss.Style
	status    map[agent.Status]lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		task:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		update:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("15")),
		heading:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		dim:       r.NewStyle().Faint(true),
		reasoning: r.NewStyle().Faint(true).Italic(true),
		err:       r.NewStyle().Faint(true).Foreground(lipgloss.Color("1")),
		status: map[agent.Status]lipgloss.Style{
			agent.StatusPending:    r.NewStyle().Foreground(lipgloss.Color("7")),
			agent.StatusInProgress: r.NewStyle().Foreground(lipgloss.Color("3")),
			agent.StatusCompleted:  r.NewStyle().Foreground(lipgloss.Color("2")),
		},
	}
}

// Printer writes agent events to a terminal. It is safe for concurrent use
// by several agents.
type Printer struct {
	mu        sync.Mutex
	w         io.Writer
	verbosity Verbosity
	styles    styles
}

var _ agent.Observer = (*Printer)(nil)

// New creates a Printer writing to w. Colours are only used when w is a
// terminal.
func New(w io.Writer, verbosity Verbosity) *Printer {
	return &Printer{
		w:         w,
		verbosity: verbosity,
		styles:    newStyles(lipgloss.NewRenderer(w)),
	}
}

func (p *Printer) print(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w)
	for _, l := range lines {
		fmt.Fprintln(p.w, l)
	}
}

// render styles each line on its own so lipgloss does not pad multi-line
// text into a block.
func render(style lipgloss.Style, text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = style.Render(l)
	}
	return strings.Join(lines, "\n")
}

func prefix(task string) string {
	if task == "" {
		return ""
	}
	return "[" + task + "] "
}

func (p *Printer) TaskStarted(task string) {
	p.print(render(p.styles.task, "Task: "+task))
}

func (p *Printer) UserUpdate(msg string) {
	p.print(render(p.styles.update, msg))
}

func (p *Printer) TodosChanged(todos []agent.TODO) {
	lines := []string{render(p.styles.heading, "TODO List:")}
	if len(todos) == 0 {
		lines = append(lines, "  "+render(p.styles.dim, "(empty)"))
	}
	for _, t := range todos {
		style, ok := p.styles.status[t.Status]
		if !ok {
			style = p.styles.status[agent.StatusPending]
		}
		lines = append(lines, "  "+render(style, t.Status.Marker()+" "+t.Content))
	}
	p.print(lines...)
}

func (p *Printer) Reasoning(task, text string) {
	p.print(render(p.styles.dim, prefix(task)+"Reasoning:"), render(p.styles.reasoning, text))
}

func (p *Printer) AssistantText(task, text string) {
	p.print(render(p.styles.update, prefix(task)+text))
}

func (p *Printer) ToolExecuted(task string, call session.ToolCall, content string, err error) {
	if p.verbosity == VerbosityNone || p.verbosity == "" {
		return
	}
	lines := []string{render(p.styles.dim, prefix(task)+"Executing tool: "+call.Name)}
	if p.verbosity == VerbosityAll {
		lines = append(lines, render(p.styles.dim, "Arguments: "+indentJSON(call.Arguments)))
		if err != nil {
			lines = append(lines, render(p.styles.err, "Error: "+err.Error()))
		} else {
			lines = append(lines, render(p.styles.dim, "Result: "+preview(content)))
		}
	} else if err != nil {
		lines = append(lines, render(p.styles.err, "Error: "+err.Error()))
	}
	p.print(lines...)
}

func (p *Printer) MaxIterationsReached(n int) {
	p.print(render(p.styles.dim, fmt.Sprintf("Reached maximum iterations (%d)", n)))
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLength {
		return s
	}
	return string(r[:previewLength]) + "..."
}

func indentJSON(raw string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return strings.TrimSpace(raw)
	}
	return buf.String()
}
