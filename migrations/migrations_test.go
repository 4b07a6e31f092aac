package migrations

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type recordingExecer struct {
	statements []string
	err        error
}

func (r *recordingExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.statements = append(r.statements, sql)
	return pgconn.CommandTag{}, r.err
}

func TestApplyRunsEveryFileInOrder(t *testing.T) {
	names, err := Names()
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("expected embedded migrations")
	}

	db := &recordingExecer{}
	if err := Apply(context.Background(), db); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(db.statements) != len(names) {
		t.Fatalf("expected %d statements, got %d", len(names), len(db.statements))
	}
	for _, table := range []string{"users", "parts", "part_requests", "matches", "messages", "outbox"} {
		if !strings.Contains(db.statements[0], "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("schema missing table %s", table)
		}
	}
}

func TestApplyWrapsFailure(t *testing.T) {
	boom := errors.New("boom")
	err := Apply(context.Background(), &recordingExecer{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}
