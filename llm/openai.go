package llm

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/tidwall/gjson"

	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/session"
	"github.com/volary-ai/analyzer-agent/tools"
)

const (
	requestTimeout = 60 * time.Second
	connectTimeout = 10 * time.Second

	// DefaultEndpoint is OpenRouter's OpenAI compatible API.
	DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"
)

// OpenAIBackend talks to any OpenAI compatible chat completions endpoint.
type OpenAIBackend struct {
	client *openai.Client
}

// NormalizeEndpoint turns a full ".../chat/completions" URL into the base URL
// the SDK expects.
func NormalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	endpoint = strings.TrimSuffix(endpoint, "/chat/completions")
	return endpoint + "/"
}

// NewOpenAIBackend creates a backend for endpoint. The SDK's own retries are
// disabled; callers decide what to retry.
func NewOpenAIBackend(endpoint, apiKey string) *OpenAIBackend {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:       http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}
	c := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(NormalizeEndpoint(endpoint)),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(requestTimeout),
		option.WithJSONSet("usage", map[string]any{"include": true}),
	)
	// The &c is required, do not replace and just use c
	return &OpenAIBackend{client: &c}
}

func (o *OpenAIBackend) Name() string { return "openai" }

// Complete sends the request and converts the reply.
func (o *OpenAIBackend) Complete(ctx context.Context, req *Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: convertMessagesToOpenAI(req.SystemPrompt, req.Messages),
		Tools:    convertToolsToOpenAI(req.Tools),
	}
	if req.Output != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.Output.Name,
					Strict: openai.Bool(false),
					Schema: req.Output.Schema.Map(),
				},
			},
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	return processOpenAIResponse(resp)
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		body := apiErr.RawJSON()
		if body == "" {
			body = apiErr.Error()
		}
		return &APIRequestError{StatusCode: apiErr.StatusCode, Body: body}
	}
	if isConnectionFailure(err) {
		return &ConnectionError{Err: err}
	}
	return &ResponseParseError{Msg: "failed to decode response", Err: err}
}

// processOpenAIResponse converts the first choice into an assistant message.
// Cost and reasoning are not part of the OpenAI schema, so they are read from
// the raw body.
func processOpenAIResponse(resp *openai.ChatCompletion) (*Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, &ResponseParseError{Msg: "response has no choices"}
	}
	raw := resp.RawJSON()
	choice := resp.Choices[0]

	msg := session.Message{
		Role:         session.RoleAssistant,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Reasoning:    gjson.Get(raw, "choices.0.message.reasoning").String(),
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return &Response{
		Message:      msg,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			CachedTokens:     resp.Usage.PromptTokensDetails.CachedTokens,
			Cost:             gjson.Get(raw, "usage.cost").Float(),
		},
	}, nil
}

func convertMessagesToOpenAI(systemPrompt string, messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case session.RoleAssistant:
			assistant := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Name,
						Arguments: argumentsOrEmpty(tc.Arguments),
					},
				})
			}
			out = append(out, assistant.ToParam())
		case session.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func convertToolsToOpenAI(ds []tools.Descriptor) []openai.ChatCompletionToolUnionParam {
	if len(ds) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(ds))
	for _, d := range ds {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  openai.FunctionParameters(parametersMap(d.Parameters)),
		}))
	}
	return out
}

// parametersMap returns the JSON form of a parameter schema, defaulting to
// an object without properties.
func parametersMap(s *tools.Schema) map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return s.Map()
}

func argumentsOrEmpty(args string) string {
	if strings.TrimSpace(args) == "" {
		return "{}"
	}
	return args
}
