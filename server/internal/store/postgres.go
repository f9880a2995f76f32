package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// The body column is text rather than jsonb: jsonb reorders object keys,
// which would lose the patient listing order.
const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS fhirlite_documents (
	name       text PRIMARY KEY,
	body       text NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`

// PostgresBackend stores the document as one row of fhirlite_documents.
type PostgresBackend struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresBackend connects to dsn, creates the documents table if needed
// and returns a backend for the row called name.
func NewPostgresBackend(ctx context.Context, dsn, name string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, createDocumentsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create table: %w", err)
	}
	return &PostgresBackend{pool: pool, name: name}, nil
}

// Load returns the row body, or nil when the row does not exist yet.
func (b *PostgresBackend) Load(ctx context.Context) ([]byte, error) {
	var body string
	err := b.pool.QueryRow(ctx,
		`SELECT body FROM fhirlite_documents WHERE name = $1`, b.name,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load %q: %w", b.name, err)
	}
	return []byte(body), nil
}

// Save upserts the row in a single statement.
func (b *PostgresBackend) Save(ctx context.Context, data []byte) error {
	_, err := b.pool.Exec(ctx, `
INSERT INTO fhirlite_documents (name, body, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		b.name, string(data))
	if err != nil {
		return fmt.Errorf("postgres: save %q: %w", b.name, err)
	}
	return nil
}

// Describe returns "postgres:<name>".
func (b *PostgresBackend) Describe() string { return "postgres:" + b.name }

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
