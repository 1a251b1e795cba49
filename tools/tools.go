package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/volary-ai/analyzer-agent/errors"
)

// Tool is an action the model can invoke. Implementations must be safe for
// concurrent calls.
type Tool interface {
	Name() string
	Description() string
	Parameters() *Schema
	Call(ctx context.Context, args json.RawMessage) (Result, error)
}

// Descriptor is what gets sent to the model for each tool.
type Descriptor struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Describe returns the descriptor of t.
func Describe(t Tool) Descriptor {
	return Descriptor{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()}
}

type resultKind int

const (
	textResult resultKind = iota
	structuredResult
)

// Result is either plain text or a structured value that is sent to the
// model as JSON.
type Result struct {
	kind  resultKind
	text  string
	value any
}

// Text wraps a plain text result.
func Text(s string) Result { return Result{kind: textResult, text: s} }

// Structured wraps a value that is serialised to JSON for the model.
func Structured(v any) Result { return Result{kind: structuredResult, value: v} }

// IsStructured reports whether the result holds a structured value.
func (r Result) IsStructured() bool { return r.kind == structuredResult }

// Content renders the result as tool message content.
func (r Result) Content() (string, error) {
	if r.kind == textResult {
		return r.text, nil
	}
	data, err := json.Marshal(r.value)
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialise tool result")
	}
	return string(data), nil
}

// Func is a Tool backed by a typed Go function. The parameter schema is
// derived from A when the tool is created.
type Func[A any] struct {
	name        string
	description string
	params      *Schema
	fn          func(context.Context, A) (Result, error)
}

// NewFunc creates a tool from fn. It fails if A can't be described.
func NewFunc[A any](name, description string, fn func(context.Context, A) (Result, error)) (*Func[A], error) {
	if reflect.TypeFor[A]().Kind() != reflect.Struct {
		return nil, errors.New("tool %s: argument type must be a struct, got %s", name, reflect.TypeFor[A]())
	}
	params, err := DeriveFor[A]()
	if err != nil {
		return nil, errors.Wrapf(err, "tool %s", name)
	}
	return &Func[A]{name: name, description: description, params: params, fn: fn}, nil
}

// MustFunc is NewFunc for tools whose argument types are fixed at compile
// time. It panics if the schema can't be derived.
func MustFunc[A any](name, description string, fn func(context.Context, A) (Result, error)) *Func[A] {
	f, err := NewFunc(name, description, fn)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Func[A]) Name() string        { return f.name }
func (f *Func[A]) Description() string { return f.description }
func (f *Func[A]) Parameters() *Schema { return f.params }

// Call decodes the model's arguments into A, filling declared defaults first.
func (f *Func[A]) Call(ctx context.Context, raw json.RawMessage) (Result, error) {
	args, err := DecodeArgs[A](f.params, raw)
	if err != nil {
		return Result{}, errors.Wrapf(err, "invalid arguments for %s", f.name)
	}
	return f.fn(ctx, args)
}

// DecodeArgs decodes raw JSON arguments into A, applying schema defaults to
// properties the model left out.
func DecodeArgs[A any](schema *Schema, raw json.RawMessage) (A, error) {
	var args A
	var generic any = map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &generic); err != nil {
			return args, err
		}
	}
	generic = schema.ApplyDefaults(generic)
	data, err := json.Marshal(generic)
	if err != nil {
		return args, err
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return args, err
	}
	return args, nil
}

// Registry maps tool names to tools, keeping registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry holding ts. Duplicate names are an error.
func NewRegistry(ts ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool.
func (r *Registry) Register(t Tool) error {
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q is already registered", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns the tools in registration order.
func (r *Registry) Tools() []Tool {
	if r == nil {
		return nil
	}
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Descriptors returns the descriptors of every tool in registration order.
func (r *Registry) Descriptors() []Descriptor {
	var out []Descriptor
	for _, t := range r.Tools() {
		out = append(out, Describe(t))
	}
	return out
}

// With returns a copy of the registry with ts added.
func (r *Registry) With(ts ...Tool) (*Registry, error) {
	return NewRegistry(append(r.Tools(), ts...)...)
}
