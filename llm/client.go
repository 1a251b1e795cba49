package llm

import (
	"context"

	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/session"
	"github.com/volary-ai/analyzer-agent/tools"
)

// Finish reasons the agent loop understands. Backends map their provider's
// stop reasons onto these.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// OutputSchema asks the model to answer with JSON matching Schema.
type OutputSchema struct {
	Name   string
	Schema *tools.Schema
}

// Request is one chat completion round trip.
type Request struct {
	// AgentName is the bucket usage is recorded under.
	AgentName    string
	Model        string
	SystemPrompt string
	Messages     []session.Message
	Tools        []tools.Descriptor
	Output       *OutputSchema
}

// Usage is the token and cost accounting reported for one call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	CachedTokens     int64
	TotalTokens      int64
	Cost             float64
}

// Response is the assistant's reply.
type Response struct {
	Message      session.Message
	FinishReason string
	Usage        Usage
}

// Completer performs one completion. Implementations must not retry.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Backend is a provider specific Completer.
type Backend interface {
	Completer
	// Name identifies the provider in logs.
	Name() string
}

// Client sends requests through a backend and records usage for each
// successful call.
type Client struct {
	backend Backend
	usage   *UsageTracker
}

// NewClient wraps backend. A nil tracker gets a fresh one.
func NewClient(backend Backend, usage *UsageTracker) *Client {
	if usage == nil {
		usage = NewUsageTracker()
	}
	return &Client{backend: backend, usage: usage}
}

// Usage returns the tracker shared by everything using this client.
func (c *Client) Usage() *UsageTracker { return c.usage }

func (c *Client) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.backend.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	c.usage.Record(req.AgentName, req.Model, resp.Usage)
	return resp, nil
}

// Providers accepted by NewBackend.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderGemini    = "gemini"
)

// Providers lists every supported provider.
var Providers = []string{ProviderOpenAI, ProviderAnthropic, ProviderBedrock, ProviderGemini}

// NewBackend creates the backend for provider. Endpoint only applies to the
// OpenAI compatible backend; Bedrock uses the AWS credential chain.
func NewBackend(ctx context.Context, provider, endpoint, apiKey string) (Backend, error) {
	switch provider {
	case ProviderOpenAI, "":
		return NewOpenAIBackend(endpoint, apiKey), nil
	case ProviderAnthropic:
		return NewAnthropicBackend(apiKey), nil
	case ProviderBedrock:
		return NewBedrockBackend(ctx)
	case ProviderGemini:
		return NewGeminiBackend(ctx, apiKey)
	default:
		return nil, errors.New("unknown provider %q", provider)
	}
}
