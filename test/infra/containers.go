package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// dsnEnv points the stress run at an existing database.
const dsnEnv = "STRESS_TEST_PG_DSN"

const (
	stressImage    = "postgres:16-alpine"
	stressDatabase = "partsconnect"
	stressRole     = localRole
)

// source is where a stress run's database lives. Shared databases may hold
// other data, so the schema is isolated per run.
type source struct {
	dsn       string
	shared    bool
	origin    string
	terminate func(context.Context) error
}

// resolveSource tries an explicit DSN, then dsnEnv, then a throwaway
// container, then the local server.
func resolveSource(ctx context.Context, explicit string) (*source, error) {
	none := func(context.Context) error { return nil }
	if explicit != "" {
		return &source{dsn: explicit, shared: true, origin: "flag", terminate: none}, nil
	}
	if dsn := os.Getenv(dsnEnv); dsn != "" {
		return &source{dsn: dsn, shared: true, origin: dsnEnv, terminate: none}, nil
	}
	if dockerAvailable(ctx) {
		return startContainer(ctx)
	}
	dsn, err := InitLocalDatabase(ctx)
	if err != nil {
		return nil, fmt.Errorf("init local database: %w", err)
	}
	return &source{dsn: dsn, origin: "local", terminate: none}, nil
}

// startContainer runs a private Postgres whose DSN already carries the
// harness application_name, so chaos can find its backends.
func startContainer(ctx context.Context) (*source, error) {
	pgC, err := postgres.Run(ctx, stressImage,
		postgres.WithDatabase(stressDatabase),
		postgres.WithUsername(stressRole),
		postgres.WithPassword(stressRole),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", stressImage, err)
	}
	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable", "application_name="+AppName)
	if err != nil {
		_ = pgC.Terminate(context.Background())
		return nil, fmt.Errorf("container dsn: %w", err)
	}
	return &source{dsn: dsn, origin: "container", terminate: func(ctx context.Context) error {
		return pgC.Terminate(ctx)
	}}, nil
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
