package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite-backed store, creating the database
// file and schema if they do not exist.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %v", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		received_at TEXT NOT NULL,
		text TEXT NOT NULL
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %v", err)
	}

	return &SQLiteStore{
		db: db,
	}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, msg Message) error {
	q := `
	INSERT INTO messages (received_at, text)
	VALUES (?, ?);
	`
	_, err := s.db.ExecContext(ctx, q, msg.ReceivedAt.Format(time.RFC3339), msg.Text)
	if err != nil {
		return fmt.Errorf("failed to insert message: %v", err)
	}

	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Message, error) {
	q := `
	SELECT received_at, text FROM (
		SELECT id, received_at, text FROM messages ORDER BY id DESC LIMIT ?
	) ORDER BY id;
	`
	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %v", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var receivedAt string
		var text string
		if err := rows.Scan(&receivedAt, &text); err != nil {
			return nil, fmt.Errorf("failed to scan message: %v", err)
		}

		ts, err := time.Parse(time.RFC3339, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse message timestamp: %v", err)
		}

		messages = append(messages, Message{
			Text:       text,
			ReceivedAt: ts,
		})
	}

	return messages, rows.Err()
}

func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}
