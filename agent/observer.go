package agent

import "github.com/volary-ai/analyzer-agent/session"

// Observer receives the operator facing events of a run. Implementations are
// called from the loop's goroutine, but delegates run their own loops
// concurrently, so a shared Observer must be safe for concurrent use.
type Observer interface {
	TaskStarted(task string)
	UserUpdate(msg string)
	TodosChanged(todos []TODO)
	Reasoning(task, text string)
	AssistantText(task, text string)
	ToolExecuted(task string, call session.ToolCall, content string, err error)
	MaxIterationsReached(max int)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) TaskStarted(string)                                   {}
func (NopObserver) UserUpdate(string)                                    {}
func (NopObserver) TodosChanged([]TODO)                                  {}
func (NopObserver) Reasoning(string, string)                             {}
func (NopObserver) AssistantText(string, string)                         {}
func (NopObserver) ToolExecuted(string, session.ToolCall, string, error) {}
func (NopObserver) MaxIterationsReached(int)                             {}
