package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/session"
	"github.com/volary-ai/analyzer-agent/tools"
)

const anthropicMaxTokens = 8192

// AnthropicBackend is a backend for the Anthropic Messages API.
type AnthropicBackend struct {
	client *anthropic.Client
}

// NewAnthropicBackend creates a backend authenticated with apiKey.
func NewAnthropicBackend(apiKey string) *AnthropicBackend {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(requestTimeout),
	)
	return &AnthropicBackend{client: &client}
}

func (a *AnthropicBackend) Name() string { return "anthropic" }

// Complete sends the request to the Messages API.
func (a *AnthropicBackend) Complete(ctx context.Context, req *Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: anthropicMaxTokens,
		Messages:  toAnthropicParams(buildTurns(req.Messages)),
	}
	if system := systemWithSchema(req.SystemPrompt, req.Output); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, d := range req.Tools {
		schema := parametersMap(d.Parameters)
		required, _ := schema["required"].([]any)
		var names []string
		for _, r := range required {
			if s, ok := r.(string); ok {
				names = append(names, s)
			}
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   names,
			},
		}})
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &APIRequestError{StatusCode: apiErr.StatusCode, Body: apiErr.RawJSON()}
		}
		if isConnectionFailure(err) {
			return nil, &ConnectionError{Err: err}
		}
		return nil, &ResponseParseError{Msg: "failed to decode response", Err: err}
	}
	return processAnthropicResponse(resp)
}

func processAnthropicResponse(resp *anthropic.Message) (*Response, error) {
	if resp == nil {
		return nil, &ResponseParseError{Msg: "empty response"}
	}
	msg := session.Message{Role: session.RoleAssistant}
	var text strings.Builder
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ThinkingBlock:
			msg.Reasoning += b.Thinking
		case anthropic.ToolUseBlock:
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: string(b.Input),
			})
		}
	}
	msg.Content = text.String()
	msg.FinishReason = anthropicFinishReason(string(resp.StopReason))

	return &Response{
		Message:      msg,
		FinishReason: msg.FinishReason,
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens + resp.Usage.CacheReadInputTokens + resp.Usage.CacheCreationInputTokens,
			CachedTokens:     resp.Usage.CacheReadInputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.CacheReadInputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// anthropicFinishReason maps Anthropic stop reasons onto the OpenAI names.
func anthropicFinishReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "tool_use":
		return FinishToolCalls
	case "max_tokens":
		return FinishLength
	default:
		return reason
	}
}

// systemWithSchema appends the output schema to the system prompt for
// providers without a native structured output option.
func systemWithSchema(system string, out *OutputSchema) string {
	if out == nil {
		return system
	}
	data, err := json.Marshal(out.Schema.Map())
	if err != nil {
		return system
	}
	instruction := "When you have finished, respond with only a JSON object (no prose or code fences) matching this JSON schema:\n" + string(data)
	if system == "" {
		return instruction
	}
	return system + "\n\n" + instruction
}

// anthropicBlock is one content block in Anthropic's wire format. Bedrock
// takes it as JSON directly.
type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTurn struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

// buildTurns converts the history into alternating user/assistant turns.
// System messages inside the history become user text and consecutive
// messages of the same role are merged, since the API rejects both.
func buildTurns(messages []session.Message) []anthropicTurn {
	var turns []anthropicTurn
	push := func(role string, blocks ...anthropicBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content = append(turns[n-1].Content, blocks...)
			return
		}
		turns = append(turns, anthropicTurn{Role: role, Content: blocks})
	}

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleAssistant:
			var blocks []anthropicBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: json.RawMessage(argumentsOrEmpty(tc.Arguments)),
				})
			}
			push("assistant", blocks...)
		case session.RoleTool:
			push("user", anthropicBlock{Type: "tool_result", ToolUseID: msg.ToolCallID, Content: msg.Content})
		case session.RoleSystem:
			push("user", anthropicBlock{Type: "text", Text: "<system-reminder>\n" + msg.Content + "\n</system-reminder>"})
		default:
			if msg.Content != "" {
				push("user", anthropicBlock{Type: "text", Text: msg.Content})
			}
		}
	}
	return turns
}

func toAnthropicParams(turns []anthropicTurn) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		var content []anthropic.ContentBlockParamUnion
		for _, b := range turn.Content {
			switch b.Type {
			case "text":
				content = append(content, anthropic.ContentBlockParamUnion{OfText: &anthropic.TextBlockParam{Text: b.Text}})
			case "tool_use":
				content = append(content, anthropic.ContentBlockParamUnion{OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    b.ID,
					Name:  b.Name,
					Input: b.Input,
				}})
			case "tool_result":
				content = append(content, anthropic.ContentBlockParamUnion{OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: b.ToolUseID,
					Content: []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{Text: b.Content},
					}},
				}})
			}
		}
		role := anthropic.MessageParamRoleUser
		if turn.Role == "assistant" {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: content})
	}
	return out
}

// descriptorsToAnthropicJSON renders tool descriptors in Anthropic's JSON
// tool format.
func descriptorsToAnthropicJSON(ds []tools.Descriptor) []map[string]any {
	var out []map[string]any
	for _, d := range ds {
		out = append(out, map[string]any{
			"name":         d.Name,
			"description":  d.Description,
			"input_schema": parametersMap(d.Parameters),
		})
	}
	return out
}
