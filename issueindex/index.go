// Package issueindex is a local full text index of a repository's issues
// and pull requests, used to spot findings that were already reported.
package issueindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/volary-ai/analyzer-agent/errors"
	"github.com/volary-ai/analyzer-agent/github"
	"github.com/volary-ai/analyzer-agent/history"
)

const busyTimeout = 5000 // milliseconds

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	number     INTEGER NOT NULL,
	title      TEXT NOT NULL,
	state      TEXT NOT NULL,
	url        TEXT NOT NULL,
	body       TEXT NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
	collection UNINDEXED,
	id UNINDEXED,
	content,
	tokenize = 'porter unicode61'
);
CREATE TABLE IF NOT EXISTS collection_metadata (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	PRIMARY KEY (collection, key)
);
`

// DB is the sqlite database holding every collection.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the index database in dir.
func Open(ctx context.Context, dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create index directory")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)", filepath.Join(dir, "issues.db"), busyTimeout)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open issue index")
	}
	// sqlite allows a single writer
	conn.SetMaxOpenConns(1)
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "failed to initialise issue index")
	}
	return &DB{conn: conn}, nil
}

func (db *DB) Close() error { return db.conn.Close() }

// CollectionName is the collection holding the issues of owner/repo.
func CollectionName(repo string) string {
	return "github.com_" + strings.ReplaceAll(repo, "/", "_")
}

// Collection is the set of documents of one repository.
type Collection struct {
	db   *DB
	name string
}

func (db *DB) Collection(name string) *Collection {
	return &Collection{db: db, name: name}
}

func (c *Collection) Name() string { return c.name }

// Document is one indexed issue or pull request.
type Document struct {
	ID     string
	Number int
	Title  string
	State  string
	URL    string
	Body   string
}

// DocumentID is the ID an issue number is stored under.
func DocumentID(number int) string { return fmt.Sprintf("issue_%d", number) }

// FromGitHub converts fetched issues into documents.
func FromGitHub(issues []github.Issue) []Document {
	docs := make([]Document, len(issues))
	for i, is := range issues {
		docs[i] = Document{
			ID:     DocumentID(is.Number),
			Number: is.Number,
			Title:  is.Title,
			State:  is.State,
			URL:    is.HTMLURL,
			Body:   is.Body,
		}
	}
	return docs
}

// PreviousAnalysisState marks documents replayed from the analysis history.
const PreviousAnalysisState = "previous analysis"

// FromHistory converts issues reported by earlier runs into documents so the
// evaluator can recognise repeated findings.
func FromHistory(records []history.Record) []Document {
	docs := make([]Document, len(records))
	for i, r := range records {
		docs[i] = Document{
			ID:    "history_" + r.ID,
			Title: r.Issue.Title,
			State: PreviousAnalysisState,
			Body:  r.Issue.ShortDescription + "\n\n" + r.Issue.RecommendedAction,
		}
	}
	return docs
}

// Upsert adds documents, replacing any with the same ID.
func (c *Collection) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := c.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range docs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, number, title, state, url, body)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (collection, id) DO UPDATE SET
				number = excluded.number, title = excluded.title, state = excluded.state,
				url = excluded.url, body = excluded.body`,
			c.name, d.ID, d.Number, d.Title, d.State, d.URL, d.Body); err != nil {
			return errors.Wrapf(err, "failed to store %s", d.ID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE collection = ? AND id = ?`, c.name, d.ID); err != nil {
			return errors.Wrapf(err, "failed to replace %s", d.ID)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO documents_fts (collection, id, content) VALUES (?, ?, ?)`,
			c.name, d.ID, d.Title+"\n\n"+d.Body); err != nil {
			return errors.Wrapf(err, "failed to index %s", d.ID)
		}
	}
	return tx.Commit()
}

// Count returns the number of documents in the collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, c.name).Scan(&n)
	return n, err
}

const lastSyncKey = "last_sync"

// LastSync returns when the collection was last synced, or the zero time.
func (c *Collection) LastSync(ctx context.Context) (time.Time, error) {
	var v string
	err := c.db.conn.QueryRowContext(ctx, `SELECT value FROM collection_metadata WHERE collection = ? AND key = ?`, c.name, lastSyncKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to read last sync time")
	}
	return time.Parse(time.RFC3339, v)
}

// SetLastSync records the time of a sync.
func (c *Collection) SetLastSync(ctx context.Context, t time.Time) error {
	_, err := c.db.conn.ExecContext(ctx, `
		INSERT INTO collection_metadata (collection, key, value) VALUES (?, ?, ?)
		ON CONFLICT (collection, key) DO UPDATE SET value = excluded.value`,
		c.name, lastSyncKey, t.UTC().Format(time.RFC3339))
	return errors.Wrapf(err, "failed to record last sync time")
}

// Hit is a search result. Lower distances are better matches.
type Hit struct {
	Document
	Distance float64
}

// Query returns the best n matches for a natural language query.
func (c *Collection) Query(ctx context.Context, query string, n int) ([]Hit, error) {
	match := matchExpression(query)
	if match == "" {
		return nil, nil
	}
	rows, err := c.db.conn.QueryContext(ctx, `
		SELECT d.id, d.number, d.title, d.state, d.url, d.body, bm25(documents_fts) AS rank
		FROM documents_fts
		JOIN documents d ON d.collection = documents_fts.collection AND d.id = documents_fts.id
		WHERE documents_fts MATCH ? AND documents_fts.collection = ?
		ORDER BY rank
		LIMIT ?`, match, c.name, n)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query issue index")
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Number, &h.Title, &h.State, &h.URL, &h.Body, &h.Distance); err != nil {
			return nil, errors.Wrapf(err, "failed to read search result")
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// matchExpression turns free text into an FTS5 query matching any of its
// words, so punctuation in the query is never parsed as FTS syntax.
func matchExpression(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

// Sync fetches the issues updated since the last sync and indexes them.
// It returns how many were indexed.
func (c *Collection) Sync(ctx context.Context, fetch func(ctx context.Context, since time.Time) ([]github.Issue, error), now time.Time, log zerolog.Logger) (int, error) {
	since, err := c.LastSync(ctx)
	if err != nil {
		return 0, err
	}
	issues, err := fetch(ctx, since)
	if err != nil {
		return 0, err
	}
	if err := c.Upsert(ctx, FromGitHub(issues)); err != nil {
		return 0, err
	}
	if err := c.SetLastSync(ctx, now); err != nil {
		return 0, err
	}
	log.Info().Str("collection", c.name).Int("issues", len(issues)).Time("since", since).Msg("indexed issues")
	return len(issues), nil
}
