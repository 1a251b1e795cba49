// Package agent runs a model in a tool calling loop until it produces a final
// answer.
//
// Each iteration appends a reminder of the agent's TODO list, asks the
// completer for the next message and acts on the finish reason:
//
//   - stop: the content is the answer. Empty answers are retried with a
//     corrective user message a bounded number of times.
//   - tool_calls: the calls are executed and their results appended.
//   - anything else ends the run with a BadFinishReasonError.
//
// Every agent is also offered two tools that the loop handles itself:
// update_user shows a progress message to the operator through the Observer,
// and set_todos replaces the agent's TODO list. The remaining calls of a
// message run concurrently on a bounded pool and their results are appended
// in call ID order. Tool failures are reported to the model as "Error: ..."
// content and never end the run.
//
// # Usage
//
//	a, err := agent.New(client, agent.Config{
//	    Name:        "Tech Debt Analyzer",
//	    Instruction: prompt,
//	    Model:       "openai/gpt-5.1",
//	    Tools:       registry,
//	})
//	if err != nil {
//	    // handle error
//	}
//	analysis, err := agent.RunTyped[Analysis](ctx, a, agent.RunOptions{Prompt: "Find tech debt"})
//
// # Delegation
//
// DelegateTool wraps a Factory as a tool, letting a coordinator hand focused
// tasks to sub-agents that run in parallel, each with its own history.
//
// # Subpackages
//
// agent/terminal renders Observer events on the terminal.
package agent
