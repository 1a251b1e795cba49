package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/volary-ai/analyzer-agent/tools"
)

const (
	updateUserTool = "update_user"
	setTodosTool   = "set_todos"
)

// Status of a TODO item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Marker is the checkbox shown for the status.
func (s Status) Marker() string {
	switch s {
	case StatusInProgress:
		return "[→]"
	case StatusCompleted:
		return "[✓]"
	default:
		return "[ ]"
	}
}

// TODO is one item of the agent's self managed plan.
type TODO struct {
	Content string `json:"content" desc:"A description of the task"`
	Status  Status `json:"status" enum:"pending,in_progress,completed" desc:"The state of the task"`
}

type updateUserArgs struct {
	Msg string `json:"msg" desc:"The message to display to the user"`
}

type setTodosArgs struct {
	Todos []TODO `json:"todos" desc:"The complete list of TODO items, replacing any existing TODOs"`
}

// pseudoTools are offered to every agent but handled by the loop itself.
// Their functions are never called; they only carry the schema.
var pseudoTools = []tools.Tool{
	tools.MustFunc(updateUserTool, `Keeps the user up to date with your current thinking as you explore the repository.

<good-usage reason="short and addressing the user">
Let me identify key areas of tech debt in the repo. Let's start with gathering some basic information.
</good-usage>

<bad-usage reason="longer and addressing self">
We are tasked with identifying key areas of tech debt in the repo. We should start by gathering information about
the structure of the repo and then produce an actionable list of the most pertinent issues.
</bad-usage>

Usage notes:
- Keep the message reasonably short (around 200 characters max)
- Address the user as if they've asked you to perform this task`,
		func(context.Context, updateUserArgs) (tools.Result, error) { return tools.Text(""), nil }),
	tools.MustFunc(setTodosTool, `Updates the TODO list. This completely replaces the existing TODO list.

Each TODO has a content describing the task and a status of pending, in_progress or completed.`,
		func(context.Context, setTodosArgs) (tools.Result, error) { return tools.Text(""), nil }),
}

func isPseudoTool(name string) bool {
	return name == updateUserTool || name == setTodosTool
}

// reminder is the system message appended before every completion so the
// model keeps its plan in view.
func reminder(todos []TODO) string {
	if len(todos) == 0 {
		return "Reminder: you currently have no items in your TODO list"
	}
	lines := make([]string, 0, len(todos))
	for _, t := range todos {
		lines = append(lines, fmt.Sprintf("%s %s", t.Status.Marker(), t.Content))
	}
	return "Reminder: You are currently doing the following:\n" + strings.Join(lines, "\n")
}
