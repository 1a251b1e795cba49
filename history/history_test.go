package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volary-ai/analyzer-agent/analysis"
)

func TestRepoID(t *testing.T) {
	a := RepoID("git@github.com:volary-ai/analyzer.git", "/x")
	assert.Len(t, a, 16)
	assert.Equal(t, a, RepoID("git@github.com:volary-ai/analyzer.git", "/y"))
	assert.NotEqual(t, a, RepoID("", "/x"))
	assert.Equal(t, RepoID("", "/x"), RepoID("", "/x"))
}

func TestSaveAndLoad(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "cache"), "abc", zerolog.Nop())
	assert.Equal(t, "analysis-history-abc.jsonl", filepath.Base(s.Path()))

	records, err := s.Load(time.Time{})
	require.NoError(t, err)
	assert.Empty(t, records)

	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	_, err = s.Save(context.Background(), []analysis.Issue{{Title: "first", ShortDescription: "one"}})
	require.NoError(t, err)

	s.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	saved, err := s.Save(context.Background(), []analysis.Issue{{Title: "second"}, {Title: "third"}})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	_, err = uuid.Parse(saved[0].ID)
	assert.NoError(t, err)
	assert.NotEqual(t, saved[0].ID, saved[1].ID)

	all, err := s.Load(time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Issue.Title)
	assert.Equal(t, "one", all[0].Issue.ShortDescription)
	assert.True(t, all[0].Created.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	recent, err := s.Load(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "third"}, titles(Issues(recent)))
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "abc", zerolog.Nop())
	content := `{"id":"1","created":"2026-01-01T00:00:00Z","issue":{"title":"good"}}
not json

{"id":"2","created":"2026-01-02T00:00:00Z","issue":{"title":"also good"}}
`
	require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0o644))

	records, err := s.Load(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"good", "also good"}, titles(Issues(records)))
}

func titles(issues []analysis.Issue) []string {
	var out []string
	for _, i := range issues {
		out = append(out, i.Title)
	}
	return out
}
