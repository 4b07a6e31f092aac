package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/LewisZett/parts-connect-pro/match"
)

var (
	ErrNotParticipant = errors.New("chat: caller is not a participant of this match")
	ErrEmptyBody      = errors.New("chat: message body is empty")
	ErrBodyTooLong    = errors.New("chat: message body is too long")
)

const MaxBodyLen = 4000

// MatchReader resolves the two participants of a match.
type MatchReader interface {
	Get(ctx context.Context, id string) (match.Match, error)
}

type Service struct {
	repo      Repository
	matches   MatchReader
	hub       *Hub
	publisher Publisher
	logger    *zap.Logger
	order     matchLocks
}

// NewService wires the message log to the hub. Published messages go straight to
// the hub unless WithPublisher routes them through a broker.
func NewService(repo Repository, matches MatchReader, hub *Hub) *Service {
	return &Service{
		repo:      repo,
		matches:   matches,
		hub:       hub,
		publisher: hub,
		logger:    zap.NewNop(),
	}
}

func (s *Service) WithPublisher(p Publisher) *Service {
	if p != nil {
		s.publisher = p
	}
	return s
}

func (s *Service) WithLogger(logger *zap.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// SendMessage appends a trimmed message from senderID to the other participant.
// Push delivery happens after the write and its failure is only logged. Sends
// to one match are serialized from insert through publish, so subscribers see
// messages in insertion order.
func (s *Service) SendMessage(ctx context.Context, matchID, senderID, body string) (Message, error) {
	content := strings.TrimSpace(body)
	if content == "" {
		return Message{}, ErrEmptyBody
	}
	if utf8.RuneCountInString(content) > MaxBodyLen {
		return Message{}, fmt.Errorf("%w: limit is %d characters", ErrBodyTooLong, MaxBodyLen)
	}

	m, err := s.participant(ctx, matchID, senderID)
	if err != nil {
		return Message{}, err
	}

	unlock := s.order.lock(m.ID)
	defer unlock()

	saved, err := s.repo.Insert(ctx, Message{
		MatchID:    m.ID,
		SenderID:   senderID,
		ReceiverID: m.Counterparty(senderID),
		Content:    content,
	})
	if err != nil {
		return Message{}, err
	}

	if err := s.publisher.Publish(ctx, saved); err != nil {
		s.logger.Warn("chat publish failed",
			zap.String("match_id", saved.MatchID),
			zap.String("message_id", saved.ID),
			zap.Error(err))
	}
	return saved, nil
}

// ListMessages returns the ordered history of a match to one of its participants.
func (s *Service) ListMessages(ctx context.Context, matchID, callerID string) ([]Message, error) {
	if _, err := s.participant(ctx, matchID, callerID); err != nil {
		return nil, err
	}
	return s.repo.ListByMatch(ctx, matchID)
}

// Subscribe registers for messages published to the match from now on. The
// subscription is cancelled when ctx ends or Cancel is called.
func (s *Service) Subscribe(ctx context.Context, matchID, callerID string) (*Subscription, error) {
	if _, err := s.participant(ctx, matchID, callerID); err != nil {
		return nil, err
	}
	sub := s.hub.Subscribe(matchID)
	context.AfterFunc(ctx, sub.Cancel)
	return sub, nil
}

func (s *Service) participant(ctx context.Context, matchID, callerID string) (match.Match, error) {
	m, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return match.Match{}, err
	}
	if _, ok := m.RoleOf(callerID); !ok {
		return match.Match{}, ErrNotParticipant
	}
	return m, nil
}
