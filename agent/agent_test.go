package agent

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/llm"
	"github.com/volary-ai/analyzer-agent/session"
	"github.com/volary-ai/analyzer-agent/tools"
)

// scripted replays responses in order and records every request.
type scripted struct {
	mu        sync.Mutex
	responses []*llm.Response
	requests  []*llm.Request
}

func (s *scripted) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("no scripted response left")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func answer(content string) *llm.Response {
	return &llm.Response{
		Message:      session.Message{Role: session.RoleAssistant, Content: content},
		FinishReason: llm.FinishStop,
	}
}

func toolCalls(calls ...session.ToolCall) *llm.Response {
	return &llm.Response{
		Message:      session.Message{Role: session.RoleAssistant, ToolCalls: calls},
		FinishReason: llm.FinishToolCalls,
	}
}

func call(id, name, args string) session.ToolCall {
	return session.ToolCall{ID: id, Name: name, Arguments: args}
}

type recordingObserver struct {
	NopObserver
	mu      sync.Mutex
	updates []string
	todos   [][]TODO
	tools   []string
}

func (o *recordingObserver) UserUpdate(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, msg)
}

func (o *recordingObserver) TodosChanged(todos []TODO) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.todos = append(o.todos, todos)
}

func (o *recordingObserver) ToolExecuted(_ string, c session.ToolCall, _ string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools = append(o.tools, c.ID)
}

type echoArgs struct {
	Text string `json:"text"`
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg, err := tools.NewRegistry(
		tools.MustFunc("echo", "echoes", func(_ context.Context, a echoArgs) (tools.Result, error) {
			return tools.Text(a.Text), nil
		}),
		tools.MustFunc("fail", "fails", func(context.Context, struct{}) (tools.Result, error) {
			return tools.Result{}, fmt.Errorf("disk on fire")
		}),
		tools.MustFunc("explode", "panics", func(context.Context, struct{}) (tools.Result, error) {
			panic("boom")
		}),
		tools.MustFunc("stats", "structured", func(context.Context, struct{}) (tools.Result, error) {
			return tools.Structured(map[string]int{"files": 3}), nil
		}),
	)
	require.NoError(t, err)
	return reg
}

func newTestAgent(t *testing.T, c llm.Completer, cfg Config) *Agent {
	t.Helper()
	if cfg.Tools == nil {
		cfg.Tools = testRegistry(t)
	}
	cfg.Logger = zerolog.Nop()
	a, err := New(c, cfg)
	require.NoError(t, err)
	return a
}

func toolMessages(history []session.Message) []session.Message {
	var out []session.Message
	for _, m := range history {
		if m.Role == session.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

func TestRunReturnsFinalAnswer(t *testing.T) {
	c := &scripted{responses: []*llm.Response{answer("all done")}}
	a := newTestAgent(t, c, Config{Name: "tester", Instruction: "sys", Model: "m"})

	out, err := a.Run(context.Background(), RunOptions{Prompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, "all done", out)

	require.Len(t, c.requests, 1)
	req := c.requests[0]
	assert.Equal(t, "tester", req.AgentName)
	assert.Equal(t, "m", req.Model)
	assert.Equal(t, "sys", req.SystemPrompt)
	assert.Equal(t, []session.Message{
		session.User("go"),
		session.System("Reminder: you currently have no items in your TODO list"),
	}, req.Messages)

	var names []string
	for _, d := range req.Tools {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"echo", "fail", "explode", "stats", "update_user", "set_todos"}, names)
}

func TestToolResultsAreSortedAndErrorsContained(t *testing.T) {
	c := &scripted{responses: []*llm.Response{
		toolCalls(
			call("c", "fail", "{}"),
			call("a", "echo", `{"text":"hi"}`),
			call("e", "missing", "{}"),
			call("b", "explode", "{}"),
			call("d", "stats", ""),
			call("f", "echo", `{"text":`),
		),
		answer("done"),
	}}
	obs := &recordingObserver{}
	a := newTestAgent(t, c, Config{Observer: obs})

	_, err := a.Run(context.Background(), RunOptions{Prompt: "go"})
	require.NoError(t, err)

	msgs := toolMessages(a.History())
	require.Len(t, msgs, 6)
	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ToolCallID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, ids)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, obs.tools)

	assert.Equal(t, "hi", msgs[0].Content)
	assert.True(t, strings.HasPrefix(msgs[1].Content, "Error: "), msgs[1].Content)
	assert.Contains(t, msgs[1].Content, "boom")
	assert.True(t, strings.HasPrefix(msgs[2].Content, "Error: "))
	assert.Contains(t, msgs[2].Content, "disk on fire")
	assert.JSONEq(t, `{"files":3}`, msgs[3].Content)
	assert.Equal(t, `Error: unknown tool "missing"`, msgs[4].Content)
	assert.True(t, strings.HasPrefix(msgs[5].Content, "Error: "))
}

func TestPseudoToolsAreHandledFirst(t *testing.T) {
	c := &scripted{responses: []*llm.Response{
		toolCalls(
			call("z1", "echo", `{"text":"x"}`),
			call("z0", "fail", "{}"),
			call("z2", "set_todos", `{"todos":[{"content":"read code","status":"in_progress"},{"content":"report","status":"pending"}]}`),
			call("z3", "update_user", `{"msg":"Looking around"}`),
		),
		answer("done"),
	}}
	obs := &recordingObserver{}
	a := newTestAgent(t, c, Config{Observer: obs})

	_, err := a.Run(context.Background(), RunOptions{Prompt: "go"})
	require.NoError(t, err)

	msgs := toolMessages(a.History())
	require.Len(t, msgs, 4)
	assert.Equal(t, session.ToolResult(call("z3", "update_user", ""), "Message displayed to user successfully."), msgs[0])
	assert.Equal(t, session.ToolResult(call("z2", "set_todos", ""), "TODO list updated with 2 items"), msgs[1])
	assert.Equal(t, "z0", msgs[2].ToolCallID)
	assert.Equal(t, "Error: disk on fire", msgs[2].Content)
	assert.Equal(t, "z1", msgs[3].ToolCallID)
	assert.Equal(t, "x", msgs[3].Content)

	assert.Equal(t, []string{"Looking around"}, obs.updates)
	require.Len(t, obs.todos, 1)
	assert.Equal(t, []string{"z0", "z1"}, obs.tools)

	// the next request reminds the model of its plan
	require.Len(t, c.requests, 2)
	last := c.requests[1].Messages[len(c.requests[1].Messages)-1]
	assert.Equal(t, session.System("Reminder: You are currently doing the following:\n[→] read code\n[ ] report"), last)
	assert.Equal(t, []TODO{{Content: "read code", Status: StatusInProgress}, {Content: "report", Status: StatusPending}}, a.Todos())
}

// rendezvous holds every caller until want of them are running at once, then
// lets them all through. It records the highest number seen running together.
type rendezvous struct {
	want    int
	running atomic.Int32
	peak    atomic.Int32
	arrived atomic.Int32
	once    sync.Once
	open    chan struct{}
}

func newRendezvous(want int) *rendezvous {
	return &rendezvous{want: want, open: make(chan struct{})}
}

func (r *rendezvous) wait(ctx context.Context) error {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if int(r.arrived.Add(1)) >= r.want {
		r.once.Do(func() { close(r.open) })
	}
	select {
	case <-r.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("only %d of %d calls ran together", r.running.Load(), r.want)
	}
}

func TestToolCallsRunConcurrentlyWithinLimit(t *testing.T) {
	tests := map[string]struct {
		ids  []string
		want []string
	}{
		"small batch": {
			ids:  []string{"b", "c", "a"},
			want: []string{"a", "b", "c"},
		},
		"batch over the pool size": {
			ids:  []string{"07", "14", "02", "11", "00", "09", "05", "13", "01", "10", "04", "12", "06", "03", "08"},
			want: []string{"00", "01", "02", "03", "04", "05", "06", "07", "08", "09", "10", "11", "12", "13", "14"},
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			gate := newRendezvous(min(len(test.ids), maxParallelTools))
			reg, err := tools.NewRegistry(tools.MustFunc("slow", "sleeps", func(ctx context.Context, _ struct{}) (tools.Result, error) {
				time.Sleep(time.Duration(rand.IntN(20)) * time.Millisecond)
				if err := gate.wait(ctx); err != nil {
					return tools.Result{}, err
				}
				time.Sleep(time.Duration(rand.IntN(5)) * time.Millisecond)
				return tools.Text("ok"), nil
			}))
			require.NoError(t, err)

			var calls []session.ToolCall
			for _, id := range test.ids {
				calls = append(calls, call(id, "slow", "{}"))
			}
			c := &scripted{responses: []*llm.Response{toolCalls(calls...), answer("done")}}
			obs := &recordingObserver{}
			a := newTestAgent(t, c, Config{Tools: reg, Observer: obs})

			_, err = a.Run(context.Background(), RunOptions{Prompt: "go"})
			require.NoError(t, err)

			msgs := toolMessages(a.History())
			require.Len(t, msgs, len(test.ids))
			var got []string
			for _, m := range msgs {
				assert.Equal(t, "ok", m.Content, m.ToolCallID)
				got = append(got, m.ToolCallID)
			}
			assert.Equal(t, test.want, got)
			assert.Equal(t, test.want, obs.tools)

			assert.LessOrEqual(t, int(gate.peak.Load()), maxParallelTools)
			assert.Equal(t, min(len(test.ids), maxParallelTools), int(gate.peak.Load()))
		})
	}
}

func TestFreshRunClearsTodos(t *testing.T) {
	c := &scripted{responses: []*llm.Response{
		toolCalls(call("t1", "set_todos", `{"todos":[{"content":"old plan","status":"in_progress"}]}`)),
		answer("one"),
		answer("two"),
	}}
	a := newTestAgent(t, c, Config{})

	_, err := a.Run(context.Background(), RunOptions{Prompt: "one"})
	require.NoError(t, err)
	require.Len(t, a.Todos(), 1)

	_, err = a.Run(context.Background(), RunOptions{Prompt: "two"})
	require.NoError(t, err)
	assert.Empty(t, a.Todos())

	require.Len(t, c.requests, 3)
	assert.Equal(t, []session.Message{
		session.User("two"),
		session.System("Reminder: you currently have no items in your TODO list"),
	}, c.requests[2].Messages)
}

func TestContinueKeepsTodos(t *testing.T) {
	c := &scripted{responses: []*llm.Response{
		toolCalls(call("t1", "set_todos", `{"todos":[{"content":"old plan","status":"in_progress"}]}`)),
		answer("one"),
		answer("two"),
	}}
	a := newTestAgent(t, c, Config{})

	_, err := a.Run(context.Background(), RunOptions{Prompt: "one"})
	require.NoError(t, err)
	_, err = a.Run(context.Background(), RunOptions{Prompt: "two", Continue: true})
	require.NoError(t, err)

	assert.Equal(t, []TODO{{Content: "old plan", Status: StatusInProgress}}, a.Todos())
	msgs := c.requests[2].Messages
	assert.Equal(t, session.System("Reminder: You are currently doing the following:\n[→] old plan"), msgs[len(msgs)-1])
}

func TestEmptyResponseIsRetried(t *testing.T) {
	c := &scripted{responses: []*llm.Response{answer(""), answer("  "), answer("finally")}}
	a := newTestAgent(t, c, Config{MaxIterations: 1, MaxRetriesOnEmpty: DefaultMaxRetriesOnEmpty})

	out, err := a.Run(context.Background(), RunOptions{Prompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, "finally", out)

	corrections := 0
	for _, m := range a.History() {
		if m.Role == session.RoleUser && m.Content == "Your previous response was empty. Please provide the requested output." {
			corrections++
		}
	}
	assert.Equal(t, 2, corrections)
}

func TestEmptyResponseAfterRetries(t *testing.T) {
	c := &scripted{responses: []*llm.Response{answer(""), answer(""), answer("")}}
	a := newTestAgent(t, c, Config{MaxRetriesOnEmpty: DefaultMaxRetriesOnEmpty})

	_, err := a.Run(context.Background(), RunOptions{Prompt: "go"})
	var emptyErr *EmptyResponseError
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, 1, emptyErr.Iterations)
	assert.Len(t, c.requests, 3)
}

func TestMaxIterations(t *testing.T) {
	c := &scripted{}
	for i := range 3 {
		c.responses = append(c.responses, toolCalls(call(fmt.Sprint(i), "echo", `{"text":"again"}`)))
	}
	a := newTestAgent(t, c, Config{MaxIterations: 3})

	_, err := a.Run(context.Background(), RunOptions{Prompt: "go"})
	var maxErr *MaxIterationsError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 3, maxErr.Max)
	assert.Equal(t, llm.FinishToolCalls, maxErr.LastFinishReason)
	assert.Len(t, c.requests, 3)
}

func TestBadFinishReason(t *testing.T) {
	c := &scripted{responses: []*llm.Response{{
		Message:      session.Message{Role: session.RoleAssistant, Content: "truncated"},
		FinishReason: llm.FinishLength,
	}}}
	a := newTestAgent(t, c, Config{})

	_, err := a.Run(context.Background(), RunOptions{Prompt: "go"})
	var badErr *BadFinishReasonError
	require.ErrorAs(t, err, &badErr)
	assert.Equal(t, "length", badErr.Reason)
}

func TestCompleterErrorsAreNotRetried(t *testing.T) {
	c := &failing{err: &llm.APIRequestError{StatusCode: 500, Body: "oops"}}
	a := newTestAgent(t, c, Config{})

	_, err := a.Run(context.Background(), RunOptions{Prompt: "go"})
	var apiErr *llm.APIRequestError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 1, c.calls)
}

type failing struct {
	err   error
	calls int
}

func (f *failing) Complete(context.Context, *llm.Request) (*llm.Response, error) {
	f.calls++
	return nil, f.err
}

func TestContinueKeepsHistory(t *testing.T) {
	c := &scripted{responses: []*llm.Response{answer("one"), answer("two"), answer("three")}}
	a := newTestAgent(t, c, Config{})

	_, err := a.Run(context.Background(), RunOptions{Prompt: "first"})
	require.NoError(t, err)
	_, err = a.Run(context.Background(), RunOptions{Prompt: "second", Continue: true})
	require.NoError(t, err)
	assert.Equal(t, "first", a.History()[0].Content)

	_, err = a.Run(context.Background(), RunOptions{Prompt: "third"})
	require.NoError(t, err)
	assert.Equal(t, "third", a.History()[0].Content)
}

func TestReservedToolNames(t *testing.T) {
	reg, err := tools.NewRegistry(tools.MustFunc("set_todos", "", func(context.Context, struct{}) (tools.Result, error) {
		return tools.Text(""), nil
	}))
	require.NoError(t, err)
	_, err = New(&scripted{}, Config{Tools: reg})
	assert.Error(t, err)
}

type finding struct {
	Title    string `json:"title"`
	Severity string `json:"severity" default:"low" enum:"low,high"`
}

func (finding) SchemaName() string { return "finding" }

func TestRunTyped(t *testing.T) {
	c := &scripted{responses: []*llm.Response{answer("```json\n{\"title\":\"Unused code\"}\n```")}}
	a := newTestAgent(t, c, Config{})

	got, err := RunTyped[finding](context.Background(), a, RunOptions{Prompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, finding{Title: "Unused code", Severity: "low"}, got)

	require.NotNil(t, c.requests[0].Output)
	assert.Equal(t, "finding", c.requests[0].Output.Name)
	assert.Equal(t, []string{"title"}, c.requests[0].Output.Schema.Required)
}

func TestRunTypedValidationFailure(t *testing.T) {
	tests := map[string]string{
		"not json":       "I found nothing",
		"missing field":  `{"severity":"high"}`,
		"bad enum value": `{"title":"x","severity":"medium"}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			c := &scripted{responses: []*llm.Response{answer(content)}}
			a := newTestAgent(t, c, Config{})

			_, err := RunTyped[finding](context.Background(), a, RunOptions{Prompt: "go"})
			var valErr *OutputValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Equal(t, content, valErr.Raw)
		})
	}
}

// byAgent answers each agent from its own script so delegates can run
// concurrently.
type byAgent struct {
	mu      sync.Mutex
	scripts map[string][]*llm.Response
	calls   map[string]int
}

func (b *byAgent) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := req.AgentName
	if key == "delegate" {
		// each delegate prompt names its task
		key = req.Messages[0].Content
	}
	script := b.scripts[key]
	if len(script) == 0 {
		return nil, errors.New("no response for %s", key)
	}
	b.scripts[key] = script[1:]
	b.calls[req.AgentName]++
	return script[0], nil
}

func TestDelegateTool(t *testing.T) {
	c := &byAgent{
		calls: map[string]int{},
		scripts: map[string][]*llm.Response{
			"coordinator": {
				toolCalls(
					call("1", "delegate", `{"task":"check tests","description":"tests"}`),
					call("2", "delegate", `{"task":"check deps","description":"deps"}`),
				),
				answer("summary"),
			},
			"Investigate: tests": {toolCalls(call("t1", "set_todos", `{"todos":[{"content":"look","status":"pending"}]}`)), answer("no unit tests")},
			"Investigate: deps":  {answer("deps are current")},
		},
	}

	var mu sync.Mutex
	var subs []*Agent
	factory := func() (*Agent, error) {
		sub, err := New(c, Config{Name: "delegate", Logger: zerolog.Nop()})
		mu.Lock()
		subs = append(subs, sub)
		mu.Unlock()
		return sub, err
	}
	reg, err := tools.NewRegistry(DelegateTool("delegate", "delegates", factory, WithPrompt(func(d string) string {
		return "Investigate: " + d
	})))
	require.NoError(t, err)

	coordinator := newTestAgent(t, c, Config{Name: "coordinator", Tools: reg})
	out, err := coordinator.Run(context.Background(), RunOptions{Prompt: "analyse"})
	require.NoError(t, err)
	assert.Equal(t, "summary", out)

	msgs := toolMessages(coordinator.History())
	require.Len(t, msgs, 2)
	assert.Equal(t, "no unit tests", msgs[0].Content)
	assert.Equal(t, "deps are current", msgs[1].Content)

	assert.Empty(t, coordinator.Todos())
	require.Len(t, subs, 2)
	assert.Equal(t, 3, c.calls["delegate"])
}
