package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/LewisZett/parts-connect-pro/listing"
	"github.com/LewisZett/parts-connect-pro/notify"
	"github.com/LewisZett/parts-connect-pro/outbox"
)

var (
	ErrInvalidInput         = errors.New("match: invalid input")
	ErrSelfMatch            = errors.New("match: cannot match your own listing")
	ErrListingClosed        = errors.New("match: listing is closed")
	ErrCounterpartyMismatch = errors.New("match: counterparty is not the listing owner")
	ErrForbidden            = errors.New("match: caller is not this party")
	ErrConsentPending       = errors.New("match: both parties must agree first")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ListingResolver is the part of the listing store the engine reads.
type ListingResolver interface {
	Ref(ctx context.Context, kind listing.Kind, id string) (listing.Ref, error)
}

type Service struct {
	pool     TxBeginner
	repo     Repository
	listings ListingResolver
	logger   *zap.Logger
}

func NewService(pool TxBeginner, repo Repository, listings ListingResolver) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		listings: listings,
		logger:   zap.NewNop(),
	}
}

func (s *Service) WithLogger(logger *zap.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// CreateMatch opens a pending match on a listing owned by someone else. The
// match.created notification is queued in the same transaction and delivered
// after commit by the outbox dispatcher.
func (s *Service) CreateMatch(ctx context.Context, params CreateParams) (Match, error) {
	if !params.ListingKind.Valid() {
		return Match{}, fmt.Errorf("%w: unknown listing type %q", ErrInvalidInput, params.ListingKind)
	}
	if params.ListingID == "" || params.InitiatorID == "" {
		return Match{}, fmt.Errorf("%w: listing id and initiator are required", ErrInvalidInput)
	}

	ref, err := s.listings.Ref(ctx, params.ListingKind, params.ListingID)
	if err != nil {
		return Match{}, err
	}
	if ref.OwnerID == params.InitiatorID {
		return Match{}, ErrSelfMatch
	}
	if !ref.Open() {
		return Match{}, ErrListingClosed
	}
	if params.CounterpartyID != "" && params.CounterpartyID != ref.OwnerID {
		return Match{}, ErrCounterpartyMismatch
	}

	m := Match{InitiatorID: params.InitiatorID}
	listingID := ref.ID
	switch ref.Kind {
	case listing.KindPart:
		m.PartID = &listingID
		m.SupplierID, m.RequesterID = ref.OwnerID, params.InitiatorID
	case listing.KindRequest:
		m.RequestID = &listingID
		m.SupplierID, m.RequesterID = params.InitiatorID, ref.OwnerID
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Match{}, fmt.Errorf("match: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Insert(ctx, tx, m)
	if err != nil {
		return Match{}, err
	}

	note := notify.MatchNotification{
		MatchID:     created.ID,
		SupplierID:  created.SupplierID,
		RequesterID: created.RequesterID,
		ItemName:    ref.Name,
		ItemType:    string(ref.Kind),
	}
	if err := outbox.Enqueue(ctx, tx, notify.TopicMatchCreated, note); err != nil {
		return Match{}, fmt.Errorf("match: enqueue notification: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Match{}, fmt.Errorf("match: commit tx: %w", err)
	}

	s.logger.Info("match created",
		zap.String("match_id", created.ID),
		zap.String("listing_type", string(ref.Kind)),
		zap.String("listing_id", ref.ID),
		zap.String("initiator_id", created.InitiatorID))
	return created, nil
}

// Get returns a match by id.
func (s *Service) Get(ctx context.Context, id string) (Match, error) {
	if id == "" {
		return Match{}, ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// Agree records consent for the caller. An empty role is derived from the
// caller; a role the caller does not hold is rejected. Repeating an agreement
// leaves the match unchanged.
func (s *Service) Agree(ctx context.Context, matchID, callerID string, role Role) (Match, error) {
	m, err := s.Get(ctx, matchID)
	if err != nil {
		return Match{}, err
	}

	held, ok := m.RoleOf(callerID)
	if !ok {
		return Match{}, ErrForbidden
	}
	switch {
	case role == "":
		role = held
	case !role.Valid():
		return Match{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	case role != held:
		return Match{}, ErrForbidden
	}

	updated, err := s.repo.Agree(ctx, matchID, callerID, role)
	if err != nil {
		return Match{}, err
	}
	if updated.Status == StatusBothAgreed && m.Status != StatusBothAgreed {
		s.logger.Info("match connected", zap.String("match_id", matchID))
	}
	return updated, nil
}

// ListMatchesForUser returns every match the user takes part in, newest first.
func (s *Service) ListMatchesForUser(ctx context.Context, userID string) ([]Summary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidInput)
	}
	return s.repo.ListForUser(ctx, userID)
}

// Contact reveals the counterparty's contact details once both parties agreed.
func (s *Service) Contact(ctx context.Context, matchID, callerID string) (Contact, error) {
	m, err := s.Get(ctx, matchID)
	if err != nil {
		return Contact{}, err
	}
	if _, ok := m.RoleOf(callerID); !ok {
		return Contact{}, ErrForbidden
	}
	if m.Status != StatusBothAgreed {
		return Contact{}, ErrConsentPending
	}
	return s.repo.Contact(ctx, m.Counterparty(callerID))
}
