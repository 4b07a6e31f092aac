package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Options selects where the harness finds Postgres.
type Options struct {
	// DSN reuses an existing database; the schema is then isolated per run.
	DSN string
}

// Harness owns the database lifecycle for one stress run.
type Harness struct {
	src      *source
	pool     *pgxpool.Pool
	teardown func(context.Context) error
}

// NewHarness resolves a database (explicit DSN, STRESS_TEST_PG_DSN, a Docker
// container, then a local server) and applies the schema.
func NewHarness(ctx context.Context, opts Options) (*Harness, error) {
	src, err := resolveSource(ctx, opts.DSN)
	if err != nil {
		return nil, err
	}

	h := &Harness{src: src}
	h.pool, h.teardown, err = ApplyMigrations(ctx, src.dsn, src.shared)
	if err != nil {
		_ = src.terminate(context.Background())
		return nil, fmt.Errorf("apply migrations (%s): %w", src.origin, err)
	}
	return h, nil
}

func (h *Harness) Pool() *pgxpool.Pool { return h.pool }

// Origin names where the database came from: flag, STRESS_TEST_PG_DSN,
// container or local.
func (h *Harness) Origin() string { return h.src.origin }

// Close tears down in reverse order of creation.
func (h *Harness) Close(ctx context.Context) error {
	if h.pool != nil {
		h.pool.Close()
	}
	var err error
	if h.teardown != nil {
		err = h.teardown(ctx)
	}
	if terr := h.src.terminate(ctx); terr != nil && err == nil {
		err = terr
	}
	return err
}
