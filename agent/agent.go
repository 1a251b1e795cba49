package agent

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/llm"
	"github.com/volary-ai/analyzer-agent/session"
	"github.com/volary-ai/analyzer-agent/tools"
)

const (
	DefaultMaxIterations     = 50
	DefaultMaxRetriesOnEmpty = 2

	emptyResponseCorrection = "Your previous response was empty. Please provide the requested output."
)

// Config describes an agent. Name is the bucket its usage is recorded under.
type Config struct {
	Name              string
	Instruction       string
	Model             string
	Tools             *tools.Registry
	MaxIterations     int
	MaxRetriesOnEmpty int
	Observer          Observer
	Logger            zerolog.Logger
}

// Agent drives a model through tool calls until it produces a final answer.
// An Agent runs one loop at a time; create one per concurrent task.
type Agent struct {
	name        string
	instruction string
	model       string
	completer   llm.Completer
	tools       *tools.Registry
	descriptors []tools.Descriptor

	maxIterations     int
	maxRetriesOnEmpty int
	observer          Observer
	log               zerolog.Logger

	history session.History
	todos   []TODO
	task    string
}

// New creates an agent. Tools may not shadow the built in update_user and
// set_todos tools.
func New(completer llm.Completer, cfg Config) (*Agent, error) {
	if completer == nil {
		return nil, errors.New("agent %s: a completer is required", cfg.Name)
	}
	reg := cfg.Tools
	if reg == nil {
		reg, _ = tools.NewRegistry()
	}
	for _, t := range reg.Tools() {
		if isPseudoTool(t.Name()) {
			return nil, errors.New("agent %s: tool name %q is reserved", cfg.Name, t.Name())
		}
	}

	a := &Agent{
		name:              cfg.Name,
		instruction:       cfg.Instruction,
		model:             cfg.Model,
		completer:         completer,
		tools:             reg,
		maxIterations:     cfg.MaxIterations,
		maxRetriesOnEmpty: cfg.MaxRetriesOnEmpty,
		observer:          cfg.Observer,
		log:               cfg.Logger.With().Str("agent", cfg.Name).Logger(),
	}
	if a.name == "" {
		a.name = "Agent"
	}
	if a.maxIterations <= 0 {
		a.maxIterations = DefaultMaxIterations
	}
	if a.maxRetriesOnEmpty < 0 {
		a.maxRetriesOnEmpty = 0
	}
	if a.observer == nil {
		a.observer = NopObserver{}
	}
	a.descriptors = reg.Descriptors()
	for _, t := range pseudoTools {
		a.descriptors = append(a.descriptors, tools.Describe(t))
	}
	return a, nil
}

// Name returns the agent's usage bucket name.
func (a *Agent) Name() string { return a.name }

// History returns a copy of the messages of the current or last run.
func (a *Agent) History() []session.Message { return a.history.Messages() }

// Todos returns a copy of the current TODO list.
func (a *Agent) Todos() []TODO {
	out := make([]TODO, len(a.todos))
	copy(out, a.todos)
	return out
}

// RunOptions configures one run.
type RunOptions struct {
	// Task is a short label used to prefix operator output.
	Task string
	// Prompt is appended as a user message when non-empty.
	Prompt string
	// Output requests a structured answer validated against its schema.
	Output *llm.OutputSchema
	// Continue keeps the history of the previous run.
	Continue bool
}

// Run loops until the model answers, returning its raw final content. When
// an output schema is set the content is checked to be JSON matching it.
func (a *Agent) Run(ctx context.Context, opts RunOptions) (string, error) {
	if !opts.Continue {
		a.history.Reset()
		a.todos = nil
	}
	if opts.Prompt != "" {
		a.history.Append(session.User(opts.Prompt))
	}
	a.task = opts.Task
	if a.task != "" {
		a.observer.TaskStarted(a.task)
	}
	log := a.log.With().Str("task", a.task).Logger()

	retries := 0
	lastFinish := ""
	for i := 0; i < a.maxIterations; {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		a.history.Append(session.System(reminder(a.todos)))

		resp, err := a.completer.Complete(ctx, &llm.Request{
			AgentName:    a.name,
			Model:        a.model,
			SystemPrompt: a.instruction,
			Messages:     a.history.Messages(),
			Tools:        a.descriptors,
			Output:       opts.Output,
		})
		if err != nil {
			return "", errors.Wrapf(err, "agent %s: completion failed", a.name)
		}

		msg := resp.Message
		msg.Role = session.RoleAssistant
		if msg.FinishReason == "" {
			msg.FinishReason = resp.FinishReason
		}
		a.history.Append(msg)
		lastFinish = resp.FinishReason
		log.Debug().Int("iteration", i+1).Str("finish_reason", resp.FinishReason).Int("tool_calls", len(msg.ToolCalls)).Msg("completion")

		switch resp.FinishReason {
		case llm.FinishStop:
			if strings.TrimSpace(msg.Content) == "" {
				if retries < a.maxRetriesOnEmpty {
					retries++
					log.Warn().Int("retry", retries).Msg("empty response, asking the model again")
					a.history.Append(session.User(emptyResponseCorrection))
					continue
				}
				return "", &EmptyResponseError{Iterations: i + 1}
			}
			if opts.Output != nil {
				if err := validateOutput(opts.Output.Schema, msg.Content); err != nil {
					return "", err
				}
			}
			return msg.Content, nil

		case llm.FinishToolCalls:
			if msg.Reasoning != "" {
				a.observer.Reasoning(a.task, msg.Reasoning)
			}
			if msg.Content != "" {
				a.observer.AssistantText(a.task, msg.Content)
			}
			a.callTools(ctx, msg.ToolCalls)
			i++

		default:
			return "", &BadFinishReasonError{Reason: resp.FinishReason}
		}
	}

	a.observer.MaxIterationsReached(a.maxIterations)
	return "", &MaxIterationsError{Max: a.maxIterations, LastFinishReason: lastFinish}
}

// stripCodeFence removes a markdown code fence some models wrap JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func validateOutput(schema *tools.Schema, raw string) error {
	var v any
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &v); err != nil {
		return &OutputValidationError{Err: err, Raw: raw}
	}
	if err := schema.Validate(v); err != nil {
		return &OutputValidationError{Err: err, Raw: raw}
	}
	return nil
}

// OutputSchemaFor derives the structured output schema for T.
func OutputSchemaFor[T tools.Model]() (*llm.OutputSchema, error) {
	schema, err := tools.DeriveFor[T]()
	if err != nil {
		return nil, err
	}
	var zero T
	name := zero.SchemaName()
	if name == "" {
		name = strings.ToLower(reflect.TypeFor[T]().Name())
	}
	return &llm.OutputSchema{Name: name, Schema: schema}, nil
}

// RunTyped runs a with T's schema as the requested output and decodes the
// validated answer into T, filling declared defaults.
func RunTyped[T tools.Model](ctx context.Context, a *Agent, opts RunOptions) (T, error) {
	var zero T
	out, err := OutputSchemaFor[T]()
	if err != nil {
		return zero, errors.Wrapf(err, "cannot describe output type")
	}
	opts.Output = out
	raw, err := a.Run(ctx, opts)
	if err != nil {
		return zero, err
	}
	v, err := tools.DecodeArgs[T](out.Schema, json.RawMessage(stripCodeFence(raw)))
	if err != nil {
		return zero, &OutputValidationError{Err: err, Raw: raw}
	}
	return v, nil
}
