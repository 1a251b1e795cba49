package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"

	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/session"
	"github.com/volary-ai/analyzer-agent/tools"
)

// GeminiBackend is a backend for the Google Gemini API.
type GeminiBackend struct {
	client *genai.Client
}

// NewGeminiBackend creates a Gemini client authenticated with apiKey.
func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, errors.New("a Gemini API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	return &GeminiBackend{client: client}, nil
}

func (g *GeminiBackend) Name() string { return "gemini" }

// Close releases the underlying connection.
func (g *GeminiBackend) Close() error { return g.client.Close() }

// Complete sends the history as a chat session. A model is built per call
// since GenerativeModel is not safe to reconfigure concurrently.
func (g *GeminiBackend) Complete(ctx context.Context, req *Request) (*Response, error) {
	contents := convertMessagesToGemini(req.Messages)
	if len(contents) == 0 {
		return nil, errors.New("cannot send an empty conversation to Gemini")
	}

	model := g.client.GenerativeModel(req.Model)
	if system := systemWithSchema(req.SystemPrompt, req.Output); system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	model.Tools = convertToolsToGemini(req.Tools)

	chat := model.StartChat()
	chat.History = contents[:len(contents)-1]
	resp, err := chat.SendMessage(ctx, contents[len(contents)-1].Parts...)
	if err != nil {
		var blocked *genai.BlockedError
		var apiErr *apierror.APIError
		switch {
		case errors.As(err, &blocked):
			return nil, &ResponseParseError{Msg: "response was blocked", Err: err}
		case isConnectionFailure(err):
			return nil, &ConnectionError{Err: err}
		case errors.As(err, &apiErr):
			return nil, &APIRequestError{StatusCode: apiErr.HTTPCode(), Body: apiErr.Error()}
		default:
			return nil, &ConnectionError{Err: err}
		}
	}
	return processGeminiResponse(resp)
}

func processGeminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &ResponseParseError{Msg: "response has no candidates"}
	}
	cand := resp.Candidates[0]

	msg := session.Message{Role: session.RoleAssistant}
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			args, err := json.Marshal(p.Args)
			if err != nil {
				return nil, &ResponseParseError{Msg: "invalid function call arguments", Err: err}
			}
			// Gemini has no call IDs, so one is made up from the position.
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ID:        fmt.Sprintf("call_%d_%s", len(msg.ToolCalls), p.Name),
				Name:      p.Name,
				Arguments: string(args),
			})
		}
	}
	msg.Content = text.String()

	switch {
	case len(msg.ToolCalls) > 0:
		msg.FinishReason = FinishToolCalls
	case cand.FinishReason == genai.FinishReasonStop:
		msg.FinishReason = FinishStop
	case cand.FinishReason == genai.FinishReasonMaxTokens:
		msg.FinishReason = FinishLength
	default:
		msg.FinishReason = strings.ToLower(fmt.Sprint(cand.FinishReason))
	}

	out := &Response{Message: msg, FinishReason: msg.FinishReason}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int64(u.PromptTokenCount),
			CachedTokens:     int64(u.CachedContentTokenCount),
			CompletionTokens: int64(u.CandidatesTokenCount),
			TotalTokens:      int64(u.TotalTokenCount),
		}
	}
	return out, nil
}

// convertMessagesToGemini builds alternating user/model contents. Tool
// results are function responses on the user side and system reminders
// become user text.
func convertMessagesToGemini(messages []session.Message) []*genai.Content {
	var contents []*genai.Content
	push := func(role string, parts ...genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := map[string]any{}
				_ = json.Unmarshal([]byte(argumentsOrEmpty(tc.Arguments)), &args)
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
			}
			push("model", parts...)
		case session.RoleTool:
			push("user", genai.FunctionResponse{
				Name:     msg.ToolName,
				Response: map[string]any{"content": msg.Content},
			})
		case session.RoleSystem:
			push("user", genai.Text("<system-reminder>\n"+msg.Content+"\n</system-reminder>"))
		default:
			if msg.Content != "" {
				push("user", genai.Text(msg.Content))
			}
		}
	}
	return contents
}

func convertToolsToGemini(ds []tools.Descriptor) []*genai.Tool {
	if len(ds) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(ds))
	for _, d := range ds {
		fd := &genai.FunctionDeclaration{Name: d.Name, Description: d.Description}
		if d.Parameters != nil && len(d.Parameters.Properties) > 0 {
			fd.Parameters = convertSchemaToGemini(d.Parameters)
		}
		decls = append(decls, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

var geminiTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"integer": genai.TypeInteger,
	"number":  genai.TypeNumber,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

func convertSchemaToGemini(s *tools.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        geminiTypes[s.Type],
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
		Items:       convertSchemaToGemini(s.Items),
	}
	if len(s.Enum) > 0 {
		out.Format = "enum"
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = convertSchemaToGemini(p)
		}
	}
	return out
}
