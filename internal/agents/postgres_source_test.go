package agents

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type mockDocumentStore struct {
	rows []documentRow
	err  error
}

func (m *mockDocumentStore) ListDocuments(_ context.Context) ([]documentRow, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.rows, nil
}

func TestPostgresSource_Documents(t *testing.T) {
	store := &mockDocumentStore{rows: []documentRow{
		{ID: "7", Name: "deploy-check", Document: "---\ndescription: checks deploys\nmode: subagent\n---\nbody"},
	}}
	src := newPostgresSourceWithStore(store)

	reg, err := Load(context.Background(), zap.NewNop(), src)
	if err != nil {
		t.Fatal(err)
	}
	def, err := reg.Lookup("deploy-check")
	if err != nil {
		t.Fatal(err)
	}
	if def.Source != "agent_definitions/7" {
		t.Fatalf("expected row source, got %s", def.Source)
	}
}

func TestPostgresSource_QueryError(t *testing.T) {
	src := newPostgresSourceWithStore(&mockDocumentStore{err: errors.New("timeout")})
	if _, err := src.Documents(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
