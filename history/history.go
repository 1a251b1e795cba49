// Package history keeps a per-repository log of the issues past runs found.
package history

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/volary-ai/analyzer-agent/analysis"
	"github.com/volary-ai/analyzer-agent/errors"
)

// Record is one saved issue.
type Record struct {
	ID      string         `json:"id"`
	Created time.Time      `json:"created"`
	Issue   analysis.Issue `json:"issue"`
}

// RepoID identifies a repository by its origin URL, or by its absolute path
// when it has no remote.
func RepoID(originURL, dir string) string {
	key := originURL
	if key == "" {
		if abs, err := filepath.Abs(dir); err == nil {
			key = abs
		} else {
			key = dir
		}
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// Store appends records to a JSON lines file.
type Store struct {
	path string
	log  zerolog.Logger
	now  func() time.Time

	mu sync.Mutex
}

// NewStore returns the store of repoID under cacheDir.
func NewStore(cacheDir, repoID string, log zerolog.Logger) *Store {
	return &Store{
		path: filepath.Join(cacheDir, "analysis-history-"+repoID+".jsonl"),
		log:  log.With().Str("component", "history").Logger(),
		now:  time.Now,
	}
}

// Path returns the location of the history file.
func (s *Store) Path() string { return s.path }

// Save appends issues, stamping each with a new ID and the current time.
func (s *Store) Save(ctx context.Context, issues []analysis.Issue) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(issues) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create cache directory")
	}

	created := s.now().UTC().Truncate(time.Second)
	records := make([]Record, 0, len(issues))
	var buf bytes.Buffer
	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := Record{ID: uuid.NewString(), Created: created, Issue: issue}
		line, err := json.Marshal(r)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode issue %q", issue.Title)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		records = append(records, r)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open history file")
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return nil, errors.Wrapf(err, "failed to write history file")
	}
	s.log.Debug().Int("issues", len(records)).Str("path", s.path).Msg("saved analysis history")
	return records, nil
}

// Load returns the records created at or after since, oldest first. A zero
// since returns everything. Malformed lines are skipped.
func (s *Store) Load(since time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to open history file")
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			s.log.Warn().Err(err).Int("line", n).Msg("skipping malformed history line")
			continue
		}
		if !since.IsZero() && r.Created.Before(since) {
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read history file")
	}
	return records, nil
}

// Issues returns the issues of records.
func Issues(records []Record) []analysis.Issue {
	out := make([]analysis.Issue, len(records))
	for i, r := range records {
		out[i] = r.Issue
	}
	return out
}
