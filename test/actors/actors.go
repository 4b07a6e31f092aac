package actors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LewisZett/parts-connect-pro/chat"
	"github.com/LewisZett/parts-connect-pro/listing"
	"github.com/LewisZett/parts-connect-pro/match"
	"github.com/LewisZett/parts-connect-pro/outbox"
)

// Listing is a seeded listing and its owner.
type Listing struct {
	ID      string
	Kind    listing.Kind
	OwnerID string
}

// Fixture is the seeded world the actors fight over.
type Fixture struct {
	Users    []string
	Listings []Listing
	// Outsider never takes part in any match.
	Outsider string
}

type MatchCreator interface {
	CreateMatch(ctx context.Context, params match.CreateParams) (match.Match, error)
}

type MatchAgreer interface {
	Agree(ctx context.Context, matchID, callerID string, role match.Role) (match.Match, error)
}

type MessageSender interface {
	SendMessage(ctx context.Context, matchID, senderID, body string) (chat.Message, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, matchID, callerID string) (*chat.Subscription, error)
}

type ListingCloser interface {
	Close(ctx context.Context, kind listing.Kind, ownerID, id string) (listing.Listing, error)
}

// Creator opens matches on random listings as random users. Self matches,
// duplicates and closed listings are expected rejections.
func Creator(ctx context.Context, svc MatchCreator, fx Fixture, stop <-chan struct{}) error {
	for {
		if done(ctx, stop) {
			return nil
		}
		l := fx.Listings[rand.Intn(len(fx.Listings))]
		initiator := fx.Users[rand.Intn(len(fx.Users))]

		_, err := svc.CreateMatch(ctx, match.CreateParams{
			ListingKind: l.Kind,
			ListingID:   l.ID,
			InitiatorID: initiator,
		})
		switch {
		case err == nil:
			if initiator == l.OwnerID {
				return fmt.Errorf("creator: self match accepted on %s", l.ID)
			}
		case errors.Is(err, match.ErrSelfMatch), errors.Is(err, match.ErrDuplicate), errors.Is(err, match.ErrListingClosed):
		case transient(err):
		default:
			return fmt.Errorf("creator: %w", err)
		}
		pause(10, 20)
	}
}

// Agreer records consent on random matches. Every eighth attempt acts as the
// wrong party and must be refused.
func Agreer(ctx context.Context, pool *pgxpool.Pool, svc MatchAgreer, stop <-chan struct{}) error {
	for {
		if done(ctx, stop) {
			return nil
		}
		id, supplier, requester, err := randomMatch(ctx, pool)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || transient(err) {
				pause(20, 20)
				continue
			}
			return fmt.Errorf("agreer: pick match: %w", err)
		}

		caller, role := supplier, match.RoleSupplier
		if rand.Intn(2) == 0 {
			caller, role = requester, match.RoleRequester
		}
		impostor := rand.Intn(8) == 0
		if impostor {
			// Right person, wrong role.
			if role == match.RoleSupplier {
				role = match.RoleRequester
			} else {
				role = match.RoleSupplier
			}
		}

		_, err = svc.Agree(ctx, id, caller, role)
		switch {
		case impostor && err == nil:
			return fmt.Errorf("agreer: %s agreed as %s on %s", caller, role, id)
		case impostor && errors.Is(err, match.ErrForbidden):
		case err == nil:
		case transient(err):
		default:
			return fmt.Errorf("agreer: %w", err)
		}
		pause(20, 40)
	}
}

// Messenger posts chat turns as random participants and, now and then, as the
// outsider who must be refused.
func Messenger(ctx context.Context, pool *pgxpool.Pool, svc MessageSender, outsider string, stop <-chan struct{}) error {
	for n := 0; ; n++ {
		if done(ctx, stop) {
			return nil
		}
		id, supplier, requester, err := randomMatch(ctx, pool)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || transient(err) {
				pause(20, 20)
				continue
			}
			return fmt.Errorf("messenger: pick match: %w", err)
		}

		sender := supplier
		if rand.Intn(2) == 0 {
			sender = requester
		}
		intruding := rand.Intn(8) == 0
		if intruding {
			sender = outsider
		}

		_, err = svc.SendMessage(ctx, id, sender, fmt.Sprintf("turn %d from %s", n, sender))
		switch {
		case intruding && err == nil:
			return fmt.Errorf("messenger: outsider posted into %s", id)
		case intruding && errors.Is(err, chat.ErrNotParticipant):
		case err == nil:
		case transient(err):
		default:
			return fmt.Errorf("messenger: %w", err)
		}
		pause(15, 35)
	}
}

// Listener subscribes to random matches and checks that every pushed message
// belongs to the subscribed match.
func Listener(ctx context.Context, pool *pgxpool.Pool, svc Subscriber, stop <-chan struct{}) error {
	for {
		if done(ctx, stop) {
			return nil
		}
		id, supplier, _, err := randomMatch(ctx, pool)
		if err != nil {
			pause(50, 50)
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		sub, err := svc.Subscribe(sctx, id, supplier)
		if err != nil {
			cancel()
			if transient(err) {
				continue
			}
			return fmt.Errorf("listener: %w", err)
		}
		for msg := range sub.Messages() {
			if msg.MatchID != id {
				cancel()
				return fmt.Errorf("listener: message %s of %s pushed to %s", msg.ID, msg.MatchID, id)
			}
		}
		cancel()
	}
}

// Closer closes a random listing every so often so creators meet closed ones.
func Closer(ctx context.Context, svc ListingCloser, fx Fixture, stop <-chan struct{}) error {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case <-ticker.C:
		}
		l := fx.Listings[rand.Intn(len(fx.Listings))]
		if _, err := svc.Close(ctx, l.Kind, l.OwnerID, l.ID); err != nil && !transient(err) {
			return fmt.Errorf("closer: %w", err)
		}
	}
}

// OutboxWorker runs the dispatcher loop, stale sweep included, until stop.
func OutboxWorker(ctx context.Context, d *outbox.Dispatcher, stop <-chan struct{}) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
		case <-wctx.Done():
		}
		cancel()
	}()
	return d.Run(wctx)
}

func randomMatch(ctx context.Context, pool *pgxpool.Pool) (id, supplier, requester string, err error) {
	err = pool.QueryRow(ctx,
		`SELECT id, supplier_id, requester_id FROM matches ORDER BY random() LIMIT 1`,
	).Scan(&id, &supplier, &requester)
	return id, supplier, requester, err
}

func done(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(minMS, jitterMS int) {
	time.Sleep(time.Duration(minMS+rand.Intn(jitterMS)) * time.Millisecond)
}

// transient reports errors caused by chaos or shutdown rather than by the code
// under test.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57P01", "57P02", "57P03", "40001", "40P01", "08000", "08003", "08006":
			return true
		}
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") || strings.Contains(msg, "connection reset")
}
