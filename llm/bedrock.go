package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/tidwall/gjson"

	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/session"
)

// invoker is the part of the Bedrock runtime client the backend uses.
type invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockBackend runs Anthropic models on AWS Bedrock.
type BedrockBackend struct {
	client invoker
}

// NewBedrockBackend loads the default AWS configuration. The region falls
// back to us-east-1 when none is configured.
func NewBedrockBackend(ctx context.Context) (*BedrockBackend, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	cfg.RetryMaxAttempts = 1
	return &BedrockBackend{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (b *BedrockBackend) Name() string { return "bedrock" }

// Complete invokes the model with an Anthropic Messages request body.
func (b *BedrockBackend) Complete(ctx context.Context, req *Request) (*Response, error) {
	body, err := createBedrockRequest(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Bedrock request")
	}
	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		var respErr *smithyhttp.ResponseError
		if errors.As(err, &respErr) {
			return nil, &APIRequestError{StatusCode: respErr.HTTPStatusCode(), Body: respErr.Err.Error()}
		}
		return nil, &ConnectionError{Err: err}
	}
	return processBedrockResponse(resp.Body)
}

func createBedrockRequest(req *Request) ([]byte, error) {
	request := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        anthropicMaxTokens,
		"messages":          buildTurns(req.Messages),
	}
	if system := systemWithSchema(req.SystemPrompt, req.Output); system != "" {
		request["system"] = system
	}
	if len(req.Tools) > 0 {
		request["tools"] = descriptorsToAnthropicJSON(req.Tools)
	}
	return json.Marshal(request)
}

// processBedrockResponse reads an Anthropic Messages response body.
func processBedrockResponse(body []byte) (*Response, error) {
	if !gjson.ValidBytes(body) {
		return nil, &ResponseParseError{Msg: "response body is not JSON"}
	}
	res := gjson.ParseBytes(body)
	if e := res.Get("error"); e.Exists() {
		return nil, &ResponseParseError{Msg: "Bedrock returned an error: " + e.String()}
	}
	content := res.Get("content")
	if !content.IsArray() {
		return nil, &ResponseParseError{Msg: "response has no content"}
	}

	msg := session.Message{Role: session.RoleAssistant}
	var text strings.Builder
	for _, item := range content.Array() {
		switch item.Get("type").String() {
		case "text":
			text.WriteString(item.Get("text").String())
		case "thinking":
			msg.Reasoning += item.Get("thinking").String()
		case "tool_use":
			args := item.Get("input").Raw
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ID:        item.Get("id").String(),
				Name:      item.Get("name").String(),
				Arguments: args,
			})
		}
	}
	msg.Content = text.String()
	msg.FinishReason = anthropicFinishReason(res.Get("stop_reason").String())

	input := res.Get("usage.input_tokens").Int()
	cacheRead := res.Get("usage.cache_read_input_tokens").Int()
	cacheWrite := res.Get("usage.cache_creation_input_tokens").Int()
	output := res.Get("usage.output_tokens").Int()
	return &Response{
		Message:      msg,
		FinishReason: msg.FinishReason,
		Usage: Usage{
			PromptTokens:     input + cacheRead + cacheWrite,
			CachedTokens:     cacheRead,
			CompletionTokens: output,
			TotalTokens:      input + cacheRead + cacheWrite + output,
		},
	}, nil
}
