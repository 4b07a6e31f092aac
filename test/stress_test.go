package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LewisZett/parts-connect-pro/chat"
	"github.com/LewisZett/parts-connect-pro/listing"
	"github.com/LewisZett/parts-connect-pro/match"
	"github.com/LewisZett/parts-connect-pro/notify"
	"github.com/LewisZett/parts-connect-pro/outbox"
	"github.com/LewisZett/parts-connect-pro/test/actors"
	"github.com/LewisZett/parts-connect-pro/test/chaos"
	"github.com/LewisZett/parts-connect-pro/test/infra"
	"github.com/LewisZett/parts-connect-pro/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flStress      = flag.Bool("stress", false, "run the marketplace stress test")
)

const maxOracleErrors = 3

func TestMarketplaceConcurrency(t *testing.T) {
	if !*flStress {
		t.Skip("pass -stress to run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	h, err := infra.NewHarness(ctx, infra.Options{DSN: *flDSN})
	if err != nil {
		t.Fatalf("harness: %v", err)
	}
	defer func() {
		if err := h.Close(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()
	pool := h.Pool()
	t.Logf("database from %s", h.Origin())

	logger := stressLogger(t)

	listingSvc := listing.NewService(listing.NewRepository(pool))
	matchSvc := match.NewService(pool, match.NewRepository(pool), listingSvc).WithLogger(logger)
	hub := chat.NewHub(16)
	defer hub.Close()
	chatSvc := chat.NewService(chat.NewRepository(pool), matchSvc, hub).WithLogger(logger)

	notifier := &flakyNotifier{}
	dispatcher := outbox.NewDispatcher(outbox.NewStore(pool)).
		WithLogger(logger).
		WithInterval(200 * time.Millisecond).
		WithStaleAfter(5 * time.Second)
	dispatcher.Register(notify.TopicMatchCreated, notify.MatchCreatedHandler(notifier))

	fx := mustSeed(t, ctx, pool, listingSvc)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Creator(ctx2, matchSvc, fx, stop) })
		g.Go(func() error { return actors.Agreer(ctx2, pool, matchSvc, stop) })
		g.Go(func() error { return actors.Messenger(ctx2, pool, chatSvc, fx.Outsider, stop) })
	}
	g.Go(func() error { return actors.Listener(ctx2, pool, chatSvc, stop) })
	g.Go(func() error { return actors.Closer(ctx2, listingSvc, fx, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, dispatcher, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, infra.AppName, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	oracleErrors := 0
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx2.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				// Chaos may kill the oracle's own backend.
				if oracleErrors++; oracleErrors >= maxOracleErrors {
					close(stop)
					t.Fatalf("oracle error: %v", err)
				}
				continue
			}
			oracleErrors = 0
			if name != "" {
				close(stop)
				dumpRecent(t, context.Background(), pool)
				t.Fatalf("Oracle %s failed. First row: %s", name, row)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
	t.Logf("notifications delivered=%d failed=%d", notifier.ok.Load(), notifier.failed.Load())
}

// flakyNotifier fails one delivery in ten.
type flakyNotifier struct {
	ok     atomic.Int64
	failed atomic.Int64
}

func (f *flakyNotifier) NotifyMatch(_ context.Context, _ notify.MatchNotification) error {
	if rand.Intn(10) == 0 {
		f.failed.Add(1)
		return fmt.Errorf("%w: simulated outage", notify.ErrDelivery)
	}
	f.ok.Add(1)
	return nil
}

func stressLogger(t *testing.T) *zap.Logger {
	t.Helper()
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	logger, err := cfg.Build()
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return logger
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, listings *listing.Service) actors.Fixture {
	t.Helper()
	var fx actors.Fixture
	trades := []string{"hvac", "car_mechanic", "phone_repair", "appliance_repair", "electronics", "general"}

	newUser := func(name, trade string) string {
		var id string
		err := pool.QueryRow(ctx,
			`INSERT INTO users (email, password_hash, full_name, trade_type) VALUES ($1, 'x', $2, $3) RETURNING id`,
			fmt.Sprintf("%s-%d@example.com", name, rand.Int63()), name, trade,
		).Scan(&id)
		if err != nil {
			t.Fatalf("seed user %s: %v", name, err)
		}
		return id
	}

	for i, trade := range trades {
		fx.Users = append(fx.Users, newUser(fmt.Sprintf("Trader %d", i), trade))
	}
	fx.Outsider = newUser("Outsider", "general")

	price := 25.0
	for _, owner := range fx.Users {
		for j := 0; j < 2; j++ {
			l, err := listings.Create(ctx, listing.KindPart, owner, listing.CreateParams{
				Name: fmt.Sprintf("Spare part %d", j), Category: "electrical", Condition: "used", Price: &price,
			})
			if err != nil {
				t.Fatalf("seed part: %v", err)
			}
			fx.Listings = append(fx.Listings, actors.Listing{ID: l.ID, Kind: listing.KindPart, OwnerID: owner})
		}
		l, err := listings.Create(ctx, listing.KindRequest, owner, listing.CreateParams{
			Name: "Wanted compressor", Category: "hvac", Price: &price,
		})
		if err != nil {
			t.Fatalf("seed request: %v", err)
		}
		fx.Listings = append(fx.Listings, actors.Listing{ID: l.ID, Kind: listing.KindRequest, OwnerID: owner})
	}
	return fx
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	dumps := []struct {
		name string
		sql  string
	}{
		{"matches", `SELECT id, part_id, request_id, supplier_agreed, requester_agreed, status, created_at FROM matches ORDER BY updated_at DESC LIMIT 50`},
		{"messages", `SELECT id, seq, match_id, sender_id, receiver_id, created_at FROM messages ORDER BY seq DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, last_error, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
