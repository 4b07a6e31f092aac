package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LewisZett/parts-connect-pro/listing"
)

var ErrInvalidInput = errors.New("ingest: invalid input")

// PartWriter inserts a batch of parts atomically.
type PartWriter interface {
	InsertParts(ctx context.Context, ownerID string, parts []listing.PartInput) ([]listing.Listing, error)
}

type Request struct {
	Text   string `json:"text"`
	UserID string `json:"user_id"`
}

type Result struct {
	Success bool
	Count   int
	Parts   []listing.Listing
}

type Service struct {
	extractor Extractor
	writer    PartWriter
	logger    *zap.Logger
	timeout   time.Duration
}

func NewService(extractor Extractor, writer PartWriter) *Service {
	return &Service{
		extractor: extractor,
		writer:    writer,
		logger:    zap.NewNop(),
		timeout:   60 * time.Second,
	}
}

func (s *Service) WithLogger(logger *zap.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Ingest extracts parts from free text and inserts all of them or none.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Result{}, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	if req.UserID == "" {
		return Result{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if s.extractor == nil {
		return Result{}, fmt.Errorf("%w: no extractor configured", ErrExtraction)
	}

	log := s.logger.With(zap.String("user_id", req.UserID))

	ectx, cancel := context.WithTimeout(ctx, s.timeout)
	raw, err := s.extractor.Extract(ectx, text)
	cancel()
	if err != nil {
		log.Error("part extraction failed", zap.Error(err))
		return Result{}, err
	}

	parts, err := Parse(raw)
	if err != nil {
		log.Warn("part extraction unusable", zap.Error(err))
		return Result{}, err
	}

	inserted, err := s.writer.InsertParts(ctx, req.UserID, parts)
	if errors.Is(err, listing.ErrInvalidInput) {
		// The user's text was fine; the model produced a row the store refuses.
		log.Warn("extracted part rejected", zap.Error(err))
		return Result{}, fmt.Errorf("%w: extracted part rejected: %v", ErrExtraction, err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("ingest: insert parts: %w", err)
	}

	log.Info("parts ingested", zap.Int("count", len(inserted)))
	return Result{Success: true, Count: len(inserted), Parts: inserted}, nil
}
