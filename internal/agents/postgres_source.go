package agents

import (
	"context"
	"database/sql"
	"fmt"
)

// DocumentStore abstracts DB queries for testability.
type DocumentStore interface {
	ListDocuments(ctx context.Context) ([]documentRow, error)
}

type documentRow struct {
	ID       string
	Name     string
	Document string
}

// sqlDocumentStore is the real implementation using *sql.DB.
type sqlDocumentStore struct {
	db *sql.DB
}

func (s *sqlDocumentStore) ListDocuments(ctx context.Context) ([]documentRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, document
		FROM agent_definitions
		WHERE enabled
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []documentRow
	for rows.Next() {
		var r documentRow
		if err := rows.Scan(&r.ID, &r.Name, &r.Document); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PostgresSource reads agent documents from the agent_definitions table.
type PostgresSource struct {
	store DocumentStore
}

// NewPostgresSource creates a source backed by the given pool (pgx stdlib driver).
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{store: &sqlDocumentStore{db: db}}
}

// newPostgresSourceWithStore creates a source with a custom store (for testing).
func newPostgresSourceWithStore(store DocumentStore) *PostgresSource {
	return &PostgresSource{store: store}
}

func (s *PostgresSource) String() string { return "postgres:agent_definitions" }

func (s *PostgresSource) Documents(ctx context.Context) ([]Document, error) {
	rows, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("Documents: %w", err)
	}
	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, Document{
			Name:    r.Name,
			Source:  "agent_definitions/" + r.ID,
			Content: []byte(r.Document),
		})
	}
	return docs, nil
}
