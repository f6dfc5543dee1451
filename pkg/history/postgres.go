package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
)

type PostgresStore struct {
	conn *pgx.Conn
	lock sync.Mutex
}

// NewPostgresStore connects to the database given by connStr and
// creates the schema if it does not exist. The caller is responsible
// for calling Close() on the store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		received_at TIMESTAMPTZ NOT NULL,
		text TEXT NOT NULL
	);
	`
	if _, err := conn.Exec(ctx, schema); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to create schema: %v", err)
	}

	return &PostgresStore{
		conn: conn,
	}, nil
}

func (s *PostgresStore) Append(ctx context.Context, msg Message) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	q := `
	INSERT INTO messages (received_at, text) VALUES ($1, $2);
	`
	_, err := s.conn.Exec(ctx, q, msg.ReceivedAt, msg.Text)
	if err != nil {
		return fmt.Errorf("failed to insert message: %v", err)
	}

	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, n int) ([]Message, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	q := `
	SELECT received_at, text FROM (
		SELECT id, received_at, text FROM messages ORDER BY id DESC LIMIT $1
	) sub ORDER BY id;
	`
	rows, err := s.conn.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %v", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ReceivedAt, &msg.Text); err != nil {
			return nil, fmt.Errorf("failed to scan message: %v", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.conn.Close(ctx)
}
