// Package audit keeps an external, append-only trace of realized commits in
// SQLite. It only consumes commits: a failure here never affects the commit.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilupskalvis/revstore/internal/models"
	_ "modernc.org/sqlite"
)

// Entry is one audit record.
type Entry struct {
	CommitID    string
	Branch      string
	Timestamp   int64
	Author      string
	Comment     string
	MergeSource string
	Added       []models.ObjectID
	Changed     []models.ObjectID
	Removed     []models.ObjectID
	RecordedAt  time.Time
}

// Log represents the SQLite audit database
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates a new audit log connection
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	return &Log{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (l *Log) Close() error {
	return l.db.Close()
}

// Initialize creates the database schema
func (l *Log) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		commit_id TEXT PRIMARY KEY,
		branch TEXT NOT NULL,
		commit_timestamp INTEGER NOT NULL,
		author TEXT NOT NULL,
		comment TEXT NOT NULL,
		merge_source TEXT,
		added JSON,
		changed JSON,
		removed JSON,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_branch ON audit_entries(branch, commit_timestamp);
	`

	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Record stores the realized change set of a commit. Recording the same
// commit twice keeps the first entry.
func (l *Log) Record(ctx context.Context, commit *models.Commit) error {
	added, err := json.Marshal(commit.Added)
	if err != nil {
		return fmt.Errorf("marshal added ids: %w", err)
	}
	changed, err := json.Marshal(commit.Changed)
	if err != nil {
		return fmt.Errorf("marshal changed ids: %w", err)
	}
	removed, err := json.Marshal(commit.Removed)
	if err != nil {
		return fmt.Errorf("marshal removed ids: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO audit_entries
			(commit_id, branch, commit_timestamp, author, comment, merge_source, added, changed, removed, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		commit.ID, commit.Branch, commit.Timestamp, commit.Author, commit.Comment, commit.MergeSource,
		string(added), string(changed), string(removed), l.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List returns the entries of a branch, newest first. An empty branch lists
// every branch; a limit of 0 returns all entries.
func (l *Log) List(ctx context.Context, branch string, limit int) ([]*Entry, error) {
	query := `SELECT commit_id, branch, commit_timestamp, author, comment, COALESCE(merge_source, ''),
		added, changed, removed, recorded_at FROM audit_entries`
	var args []interface{}
	if branch != "" {
		query += " WHERE branch = ?"
		args = append(args, branch)
	}
	query += " ORDER BY commit_timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var added, changed, removed, recordedAt string
		if err := rows.Scan(&e.CommitID, &e.Branch, &e.Timestamp, &e.Author, &e.Comment, &e.MergeSource,
			&added, &changed, &removed, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := unmarshalIDs(added, &e.Added); err != nil {
			return nil, err
		}
		if err := unmarshalIDs(changed, &e.Changed); err != nil {
			return nil, err
		}
		if err := unmarshalIDs(removed, &e.Removed); err != nil {
			return nil, err
		}
		e.RecordedAt = parseTimestamp(recordedAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func unmarshalIDs(data string, ids *[]models.ObjectID) error {
	if data == "" || data == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), ids); err != nil {
		return fmt.Errorf("unmarshal audit ids: %w", err)
	}
	return nil
}

// parseTimestamp parses a timestamp string from SQLite in various formats
func parseTimestamp(s string) time.Time {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
