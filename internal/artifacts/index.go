package artifacts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Chunk outcomes recorded in the index.
const (
	OutcomeTranslated  = "translated"
	OutcomeNoSpeech    = "no_speech"
	OutcomeFailed      = "failed"
	OutcomeUnknownLang = "unknown_language"
)

// Entry is one row of the chunk index.
type Entry struct {
	ChunkID       int64     `json:"chunk_id"`
	SessionID     string    `json:"session_id"`
	SourceLang    string    `json:"source_lang"`
	TargetLang    string    `json:"target_lang"`
	Outcome       string    `json:"outcome"`
	TranscriptLen int       `json:"transcript_len"`
	CreatedAt     time.Time `json:"created_at"`
}

// Index keeps a queryable log of chunk outcomes in SQLite next to the
// recording files.
type Index struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id       INTEGER NOT NULL,
	session_id     TEXT    NOT NULL,
	source_lang    TEXT    NOT NULL,
	target_lang    TEXT    NOT NULL,
	outcome        TEXT    NOT NULL,
	transcript_len INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL
)`

// SQLite decodes %XX in file: URIs; escape the characters that would
// otherwise start the query or fragment.
var dsnPathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// OpenIndex opens (or creates) the index database at path.
func OpenIndex(path string) (*Index, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dsnPathEscaper.Replace(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	return &Index{db: db}, nil
}

func (x *Index) Close() error {
	return x.db.Close()
}

// Clear drops every row. Called alongside Store.Reset at startup.
func (x *Index) Clear(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	return nil
}

func (x *Index) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO chunks (chunk_id, session_id, source_lang, target_lang, outcome, transcript_len, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ChunkID, e.SessionID, e.SourceLang, e.TargetLang, e.Outcome, e.TranscriptLen, e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert chunk %d: %w", e.ChunkID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (x *Index) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := x.db.QueryContext(ctx, `
		SELECT chunk_id, session_id, source_lang, target_lang, outcome, transcript_len, created_at
		FROM chunks
		ORDER BY created_at DESC, chunk_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(&e.ChunkID, &e.SessionID, &e.SourceLang, &e.TargetLang,
			&e.Outcome, &e.TranscriptLen, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
