package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/session"
	"github.com/volary-ai/analyzer-agent/tools"
)

const maxParallelTools = 10

// toolResult is the outcome of one call. It always becomes exactly one tool
// message.
type toolResult struct {
	call    session.ToolCall
	content string
	err     error
}

func (r toolResult) message() session.Message {
	content := r.content
	if r.err != nil {
		content = "Error: " + r.err.Error()
	}
	return session.ToolResult(r.call, content)
}

// callTools answers every tool call of one assistant message. Pseudo-tools
// are handled first, in order, then the remaining calls run concurrently and
// their results are appended sorted by call ID. Tool failures become error
// content and never abort the run.
func (a *Agent) callTools(ctx context.Context, calls []session.ToolCall) {
	for _, call := range calls {
		if call.Name == updateUserTool {
			a.handleUpdateUser(call)
		}
	}
	for _, call := range calls {
		if call.Name == setTodosTool {
			a.handleSetTodos(call)
		}
	}

	var actual []session.ToolCall
	for _, call := range calls {
		if !isPseudoTool(call.Name) {
			actual = append(actual, call)
		}
	}
	if len(actual) == 0 {
		return
	}

	results := make([]toolResult, len(actual))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(len(actual), maxParallelTools))
	for i, call := range actual {
		g.Go(func() error {
			results[i] = a.callTool(gctx, call)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].call.ID < results[j].call.ID })
	for _, r := range results {
		a.observer.ToolExecuted(a.task, r.call, r.content, r.err)
		ev := a.log.Debug().Str("tool", r.call.Name).Str("call_id", r.call.ID).RawJSON("arguments", argumentsJSON(r.call.Arguments))
		if r.err != nil {
			ev = ev.AnErr("tool_error", r.err)
		}
		ev.Msg("executed tool")
		a.history.Append(r.message())
	}
}

// callTool runs one real tool, turning panics into errors.
func (a *Agent) callTool(ctx context.Context, call session.ToolCall) (res toolResult) {
	res.call = call
	defer func() {
		if p := recover(); p != nil {
			a.log.Error().Str("tool", call.Name).Bytes("stack", debug.Stack()).Msg("tool panicked")
			res.content = ""
			res.err = fmt.Errorf("tool %s panicked: %v", call.Name, p)
		}
	}()

	tool, ok := a.tools.Get(call.Name)
	if !ok {
		res.err = fmt.Errorf("unknown tool %q", call.Name)
		return res
	}
	out, err := tool.Call(ctx, json.RawMessage(call.Arguments))
	if err != nil {
		res.err = err
		return res
	}
	content, err := out.Content()
	if err != nil {
		res.err = err
		return res
	}
	res.content = content
	return res
}

func (a *Agent) handleUpdateUser(call session.ToolCall) {
	args, err := tools.DecodeArgs[updateUserArgs](nil, json.RawMessage(call.Arguments))
	if err != nil {
		a.history.Append(toolResult{call: call, err: errors.Wrapf(err, "invalid arguments for %s", updateUserTool)}.message())
		return
	}
	if args.Msg != "" {
		a.observer.UserUpdate(args.Msg)
	}
	a.history.Append(session.ToolResult(call, "Message displayed to user successfully."))
}

func (a *Agent) handleSetTodos(call session.ToolCall) {
	args, err := tools.DecodeArgs[setTodosArgs](nil, json.RawMessage(call.Arguments))
	if err != nil {
		a.history.Append(toolResult{call: call, err: errors.Wrapf(err, "invalid arguments for %s", setTodosTool)}.message())
		return
	}
	a.todos = args.Todos
	a.history.Append(session.ToolResult(call, fmt.Sprintf("TODO list updated with %d items", len(args.Todos))))
	a.observer.TodosChanged(a.Todos())
}

// argumentsJSON returns arguments that are safe to embed in a log line.
func argumentsJSON(raw string) []byte {
	if raw == "" || !json.Valid([]byte(raw)) {
		return []byte("{}")
	}
	return []byte(raw)
}
