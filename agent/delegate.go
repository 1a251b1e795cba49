package agent

import (
	"context"

	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/tools"
)

// Factory builds a fresh agent for one delegated task.
type Factory func() (*Agent, error)

type delegateArgs struct {
	Task        string `json:"task" desc:"A short 3-5 word description of the task to report back to the user"`
	Description string `json:"description" desc:"A description of the task including any context that might be useful. The sub-agent does not have access to the information you have (e.g. code snippets) unless it is included here."`
}

// DelegateOption configures DelegateTool.
type DelegateOption func(*delegateConfig)

type delegateConfig struct {
	prompt func(description string) string
}

// WithPrompt builds the sub-agent's prompt from the task description.
func WithPrompt(fn func(description string) string) DelegateOption {
	return func(c *delegateConfig) { c.prompt = fn }
}

// DelegateTool exposes a nested agent loop as a tool. Every call builds a new
// agent from factory, so concurrent calls share no history or TODOs.
func DelegateTool(name, description string, factory Factory, opts ...DelegateOption) tools.Tool {
	cfg := delegateConfig{prompt: func(d string) string { return d }}
	for _, opt := range opts {
		opt(&cfg)
	}
	return tools.MustFunc(name, description, func(ctx context.Context, args delegateArgs) (tools.Result, error) {
		sub, err := factory()
		if err != nil {
			return tools.Result{}, errors.Wrapf(err, "failed to create sub-agent")
		}
		out, err := sub.Run(ctx, RunOptions{Task: args.Task, Prompt: cfg.prompt(args.Description)})
		if err != nil {
			return tools.Result{}, err
		}
		return tools.Text(out), nil
	})
}
