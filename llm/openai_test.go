package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/volary-ai/analyzer-agent/session"
	"github.com/volary-ai/analyzer-agent/tools"
)

const completionBody = `{
  "id": "gen-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "test-model",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "looking",
      "reasoning": "need to list files",
      "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "ls", "arguments": "{\"glob\":\"*\"}"}}]
    }
  }],
  "usage": {
    "prompt_tokens": 100,
    "completion_tokens": 20,
    "total_tokens": 120,
    "prompt_tokens_details": {"cached_tokens": 40},
    "cost": 0.0125
  }
}`

func newTestServer(t *testing.T, status int, body string, gotBody *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if gotBody != nil {
			data, _ := io.ReadAll(r.Body)
			*gotBody = string(data)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"https://openrouter.ai/api/v1/chat/completions":  "https://openrouter.ai/api/v1/",
		"https://openrouter.ai/api/v1/chat/completions/": "https://openrouter.ai/api/v1/",
		"https://api.openai.com/v1":                      "https://api.openai.com/v1/",
		"http://localhost:8080/v1/":                      "http://localhost:8080/v1/",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, NormalizeEndpoint(in))
		})
	}
}

func TestOpenAIComplete(t *testing.T) {
	var sent string
	srv := newTestServer(t, http.StatusOK, completionBody, &sent)
	backend := NewOpenAIBackend(srv.URL+"/chat/completions", "secret")

	params, err := tools.DeriveFor[struct {
		Glob string `json:"glob"`
	}]()
	require.NoError(t, err)
	output, err := tools.DeriveFor[struct {
		Answer string `json:"answer"`
	}]()
	require.NoError(t, err)

	resp, err := backend.Complete(context.Background(), &Request{
		AgentName:    "test",
		Model:        "test-model",
		SystemPrompt: "be helpful",
		Messages: []session.Message{
			session.User("hi"),
			{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{{ID: "c0", Name: "ls", Arguments: `{"glob":"*"}`}}},
			session.ToolResult(session.ToolCall{ID: "c0", Name: "ls"}, "a.go"),
			session.System("Reminder: you currently have no items in your TODO list"),
		},
		Tools:  []tools.Descriptor{{Name: "ls", Description: "list", Parameters: params}},
		Output: &OutputSchema{Name: "answer", Schema: output},
	})
	require.NoError(t, err)

	body := gjson.Parse(sent)
	assert.Equal(t, "test-model", body.Get("model").String())
	assert.True(t, body.Get("usage.include").Bool())
	assert.Equal(t, "system", body.Get("messages.0.role").String())
	assert.Equal(t, "be helpful", body.Get("messages.0.content").String())
	assert.Equal(t, "user", body.Get("messages.1.role").String())
	assert.Equal(t, "c0", body.Get("messages.2.tool_calls.0.id").String())
	assert.Equal(t, "tool", body.Get("messages.3.role").String())
	assert.Equal(t, "c0", body.Get("messages.3.tool_call_id").String())
	assert.Equal(t, "system", body.Get("messages.4.role").String())
	assert.Equal(t, "function", body.Get("tools.0.type").String())
	assert.Equal(t, "ls", body.Get("tools.0.function.name").String())
	assert.Equal(t, "string", body.Get("tools.0.function.parameters.properties.glob.type").String())
	assert.Equal(t, "json_schema", body.Get("response_format.type").String())
	assert.Equal(t, "answer", body.Get("response_format.json_schema.name").String())
	assert.False(t, body.Get("response_format.json_schema.strict").Bool())

	assert.Equal(t, FinishToolCalls, resp.FinishReason)
	assert.Equal(t, "looking", resp.Message.Content)
	assert.Equal(t, "need to list files", resp.Message.Reasoning)
	assert.Equal(t, []session.ToolCall{{ID: "call_1", Name: "ls", Arguments: `{"glob":"*"}`}}, resp.Message.ToolCalls)
	assert.Equal(t, Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120, CachedTokens: 40, Cost: 0.0125}, resp.Usage)
}

func TestOpenAIErrors(t *testing.T) {
	t.Run("non 2xx status", func(t *testing.T) {
		srv := newTestServer(t, http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, nil)
		_, err := NewOpenAIBackend(srv.URL, "secret").Complete(context.Background(), &Request{Model: "m"})
		var apiErr *APIRequestError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
		assert.NotEmpty(t, apiErr.Body)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := newTestServer(t, http.StatusOK, `{"choices": [`, nil)
		_, err := NewOpenAIBackend(srv.URL, "secret").Complete(context.Background(), &Request{Model: "m"})
		var parseErr *ResponseParseError
		require.ErrorAs(t, err, &parseErr)
	})

	t.Run("no choices", func(t *testing.T) {
		srv := newTestServer(t, http.StatusOK, `{"id":"x","choices":[]}`, nil)
		_, err := NewOpenAIBackend(srv.URL, "secret").Complete(context.Background(), &Request{Model: "m"})
		var parseErr *ResponseParseError
		require.ErrorAs(t, err, &parseErr)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := NewOpenAIBackend(url, "secret").Complete(context.Background(), &Request{Model: "m"})
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
	})
}

func TestClientRecordsUsage(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, completionBody, nil)
	client := NewClient(NewOpenAIBackend(srv.URL, "secret"), nil)

	for range 2 {
		_, err := client.Complete(context.Background(), &Request{AgentName: "discovery", Model: "test-model"})
		require.NoError(t, err)
	}

	got := client.Usage().Agent("discovery")
	assert.Equal(t, 2, got.Calls)
	assert.Equal(t, "test-model", got.Model)
	assert.EqualValues(t, 200, got.PromptTokens)
	assert.EqualValues(t, 80, got.CachedTokens)
	assert.InDelta(t, 0.025, got.Cost, 1e-9)
}
