package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volary-ai/analyzer-agent/analysis"
	"github.com/volary-ai/analyzer-agent/config"
	"github.com/volary-ai/analyzer-agent/history"
	"github.com/volary-ai/analyzer-agent/llm"
	"github.com/volary-ai/analyzer-agent/session"
)

// isolate runs the test in an empty repository without user configuration.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	for _, env := range []string{"COMPLETIONS_API_KEY", "COMPLETIONS_PROVIDER", "COORDINATOR_MODEL", "DELEGATE_MODEL", "COMPLETIONS_ENDPOINT", "VOLARY_CACHE_DIR", "GITHUB_REPOSITORY", "GITHUB_SHA"} {
		t.Setenv(env, "")
	}
	repo := t.TempDir()
	t.Chdir(repo)
	return repo
}

// stubBackend answers each agent with a canned final answer.
type stubBackend struct {
	mu       sync.Mutex
	answers  map[string]string
	requests []string
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req.AgentName)
	msg := session.Message{Role: session.RoleAssistant, Content: s.answers[req.AgentName]}
	return &llm.Response{
		Message:      msg,
		FinishReason: llm.FinishStop,
		Usage:        llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}, nil
}

func run(t *testing.T, a *app, stdin string, args ...string) error {
	t.Helper()
	a.stdin = strings.NewReader(stdin)
	return a.command().Run(context.Background(), append([]string{"analyzer", "--log-level", "error"}, args...))
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	applyFlags(&cfg, flags{CoordinatorModel: "big", CacheDir: "/cache"})

	assert.Equal(t, "big", cfg.CoordinatorModel)
	assert.Equal(t, config.DefaultDelegateModel, cfg.DelegateModel)
	assert.Equal(t, "/cache", cfg.CacheDir)
	assert.Equal(t, llm.ProviderOpenAI, cfg.Provider)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "", want: time.Time{}},
		{in: "48h", want: now.Add(-48 * time.Hour)},
		{in: "2025-06-01", want: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{in: "2025-06-01T10:00:00Z", want: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		{in: "last week", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSince(tt.in, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), got)
		})
	}
}

func TestPrintCommand(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	a := newApp(nil, &stdout, &stderr)

	input := `{"issues": [{"title": "Upgrade foo", "short_description": "foo is old", "files": [{"path": "go.mod"}]}]}`
	require.NoError(t, run(t, a, input, "print"))

	assert.Contains(t, stdout.String(), "Upgrade foo")
	assert.Contains(t, stdout.String(), "Total issues found: 1")
	assert.NotContains(t, stdout.String(), "Evaluation")
}

func TestSummaryCommand(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	a := newApp(nil, &stdout, &stderr)

	input := `{"issues": [{"title": "Upgrade foo", "short_description": "see go.mod:3", "recommended_action": "Bump it"}]}`
	require.NoError(t, run(t, a, input, "summary", "--repo", "o/r", "--revision", "abc"))

	assert.Contains(t, stdout.String(), "| Upgrade foo | see [go.mod:3](https://github.com/o/r/blob/abc/go.mod#L3) | Bump it | - |")
}

func TestAnalyzeRequiresAPIKey(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	err := run(t, newApp(nil, &stdout, &stderr), "", "analyze")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--completions_api_key is required")
	assert.Empty(t, stdout.String())
}

func TestRunSavesHistory(t *testing.T) {
	repo := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(repo, "go.mod"), []byte("module example.com/m\n\nrequire example.com/foo v1.0.0\n"), 0o644))
	cacheDir := t.TempDir()

	backend := &stubBackend{answers: map[string]string{
		analysis.AnalyzerAgent: `{"issues": [{"title": "Upgrade foo", "short_description": "foo is old", "files": [{"path": "go.mod", "line_start": 3, "line_end": 3}]}]}`,
		analysis.EvaluatorAgent: `{"issues": [{"id": "issue-1", "title": "Upgrade foo", "objective": true, "actionable": true,
			"production": true, "local": true, "impact_score": "high", "effort": "low"}]}`,
	}}

	var stdout, stderr bytes.Buffer
	a := newApp(nil, &stdout, &stderr)
	a.newBackend = func(context.Context, string, string, string) (llm.Backend, error) { return backend, nil }

	require.NoError(t, run(t, a, "", "--completions_api_key", "k", "--cache_dir", cacheDir, "--tool-verbosity", "none", "run"))

	assert.Equal(t, []string{analysis.AnalyzerAgent, analysis.EvaluatorAgent}, backend.requests)
	assert.Contains(t, stdout.String(), "Impact Score: High")
	assert.Contains(t, stdout.String(), "Total issues found: 1")
	assert.Contains(t, stderr.String(), "Usage Summary")
	assert.Contains(t, stderr.String(), "Cache hit rate: 0.0%")

	stdout.Reset()
	a = newApp(nil, &stdout, &stderr)
	require.NoError(t, run(t, a, "", "--cache_dir", cacheDir, "history", "--json", "--since", "1h"))

	var records []history.Record
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "Upgrade foo", records[0].Issue.Title)
	assert.NotEmpty(t, records[0].ID)
}
