package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidInput = errors.New("listing: invalid input")
	ErrUnknownKind  = errors.New("listing: unknown listing kind")
	ErrForbidden    = errors.New("listing: not the owner")
)

// Field limits shared by the form and bulk ingestion paths.
const (
	MaxNameLen        = 100
	MaxDescriptionLen = 500
)

const (
	minNameLen        = 2
	maxLocationLen    = 100
	defaultBrowseSize = 50
	maxBrowseSize     = 200
)

// PartConditions lists the accepted part conditions. The hyphenated grades come
// from bulk text ingestion.
var PartConditions = []string{"new", "used", "refurbished", "like-new", "used-good", "used-fair", "for-parts"}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, kind Kind, ownerID string, params CreateParams) (Listing, error) {
	if !kind.Valid() {
		return Listing{}, ErrUnknownKind
	}
	if ownerID == "" {
		return Listing{}, fmt.Errorf("%w: missing owner", ErrInvalidInput)
	}

	params.Name = strings.TrimSpace(params.Name)
	params.Category = strings.TrimSpace(params.Category)
	params.Condition = strings.TrimSpace(params.Condition)
	params.Description = strings.TrimSpace(params.Description)
	params.Location = strings.TrimSpace(params.Location)

	if err := validateCommon(params.Name, params.Category, params.Description, params.Location, minNameLen); err != nil {
		return Listing{}, err
	}
	if params.Price != nil && *params.Price < 0 {
		return Listing{}, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	switch kind {
	case KindPart:
		if !validCondition(params.Condition) {
			return Listing{}, fmt.Errorf("%w: unknown condition %q", ErrInvalidInput, params.Condition)
		}
	case KindRequest:
		if params.Condition != "" && params.Condition != "any" && !validCondition(params.Condition) {
			return Listing{}, fmt.Errorf("%w: unknown condition preference %q", ErrInvalidInput, params.Condition)
		}
	}

	return s.repo.Create(ctx, kind, ownerID, params)
}

// Browse returns open listings, newest first, optionally filtered by a
// case-insensitive substring of the name or category.
func (s *Service) Browse(ctx context.Context, kind Kind, filters BrowseFilters) ([]Listing, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	filters.Query = strings.TrimSpace(filters.Query)
	filters.Category = strings.TrimSpace(filters.Category)
	if filters.Limit <= 0 {
		filters.Limit = defaultBrowseSize
	}
	if filters.Limit > maxBrowseSize {
		filters.Limit = maxBrowseSize
	}
	return s.repo.Browse(ctx, kind, filters)
}

func (s *Service) ListByOwner(ctx context.Context, kind Kind, ownerID string) ([]Listing, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	return s.repo.ListByOwner(ctx, kind, ownerID)
}

// Ref resolves the owner and display name of a listing.
func (s *Service) Ref(ctx context.Context, kind Kind, id string) (Ref, error) {
	if !kind.Valid() {
		return Ref{}, ErrUnknownKind
	}
	if id == "" {
		return Ref{}, ErrNotFound
	}
	return s.repo.GetRef(ctx, kind, id)
}

func (s *Service) Close(ctx context.Context, kind Kind, ownerID, id string) (Listing, error) {
	if err := s.authorize(ctx, kind, ownerID, id); err != nil {
		return Listing{}, err
	}
	return s.repo.SetClosed(ctx, kind, ownerID, id)
}

func (s *Service) Delete(ctx context.Context, kind Kind, ownerID, id string) error {
	if err := s.authorize(ctx, kind, ownerID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, kind, ownerID, id)
}

// InsertParts validates every row before writing any of them. Rows come from
// extraction, so a single-character name is accepted.
func (s *Service) InsertParts(ctx context.Context, ownerID string, parts []PartInput) ([]Listing, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: missing owner", ErrInvalidInput)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no parts", ErrInvalidInput)
	}
	for i := range parts {
		p := &parts[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Category = strings.TrimSpace(p.Category)
		p.Condition = strings.TrimSpace(p.Condition)
		if err := validateCommon(p.Name, p.Category, p.Description, p.Location, 1); err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		if !validCondition(p.Condition) {
			return nil, fmt.Errorf("part %d: %w: unknown condition %q", i, ErrInvalidInput, p.Condition)
		}
		if p.Price < 0 {
			return nil, fmt.Errorf("part %d: %w: price must not be negative", i, ErrInvalidInput)
		}
	}
	return s.repo.InsertParts(ctx, ownerID, parts)
}

func (s *Service) authorize(ctx context.Context, kind Kind, ownerID, id string) error {
	ref, err := s.Ref(ctx, kind, id)
	if err != nil {
		return err
	}
	if ref.OwnerID != ownerID {
		return ErrForbidden
	}
	return nil
}

func validateCommon(name, category, description, location string, minName int) error {
	n := utf8.RuneCountInString(name)
	if n < minName || n > MaxNameLen {
		return fmt.Errorf("%w: part name must be %d to %d characters", ErrInvalidInput, minName, MaxNameLen)
	}
	if category == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidInput, MaxDescriptionLen)
	}
	if utf8.RuneCountInString(location) > maxLocationLen {
		return fmt.Errorf("%w: location exceeds %d characters", ErrInvalidInput, maxLocationLen)
	}
	return nil
}

func validCondition(c string) bool {
	for _, known := range PartConditions {
		if c == known {
			return true
		}
	}
	return false
}
