package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher pushes a committed message towards every subscriber of its match.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// maxNotifyPayload stays under the 8000 byte pg_notify limit.
const maxNotifyPayload = 7900

// envelope carries either the full message or, when it does not fit a
// notification, only its id for the listener to load.
type envelope struct {
	Message *Message `json:"message,omitempty"`
	ID      string   `json:"id,omitempty"`
}

// PGNotifier publishes through PostgreSQL NOTIFY.
type PGNotifier struct {
	pool    *pgxpool.Pool
	channel string
}

func NewPGNotifier(pool *pgxpool.Pool, channel string) *PGNotifier {
	return &PGNotifier{pool: pool, channel: channel}
}

func (n *PGNotifier) Publish(ctx context.Context, msg Message) error {
	payload, err := encodeEnvelope(msg)
	if err != nil {
		return err
	}
	if _, err := n.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, n.channel, payload); err != nil {
		return fmt.Errorf("chat: pg_notify: %w", err)
	}
	return nil
}

func encodeEnvelope(msg Message) (string, error) {
	b, err := json.Marshal(envelope{Message: &msg})
	if err != nil {
		return "", fmt.Errorf("chat: marshal notification: %w", err)
	}
	if len(b) <= maxNotifyPayload {
		return string(b), nil
	}
	b, err = json.Marshal(envelope{ID: msg.ID})
	if err != nil {
		return "", fmt.Errorf("chat: marshal notification ref: %w", err)
	}
	return string(b), nil
}

// MessageFetcher loads a message announced by reference.
type MessageFetcher interface {
	GetByID(ctx context.Context, id string) (Message, error)
}

// PGListener holds one pooled connection in LISTEN and feeds the hub.
type PGListener struct {
	pool    *pgxpool.Pool
	channel string
	hub     *Hub
	fetch   MessageFetcher
	logger  *zap.Logger
	retry   time.Duration
}

func NewPGListener(pool *pgxpool.Pool, channel string, hub *Hub, fetch MessageFetcher) *PGListener {
	return &PGListener{
		pool:    pool,
		channel: channel,
		hub:     hub,
		fetch:   fetch,
		logger:  zap.NewNop(),
		retry:   time.Second,
	}
}

func (l *PGListener) WithLogger(logger *zap.Logger) *PGListener {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// Run listens until ctx ends, reconnecting after connection loss.
func (l *PGListener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("chat listener disconnected", zap.String("channel", l.channel), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retry):
		}
	}
}

func (l *PGListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("chat: acquire listen conn: %w", err)
	}
	defer func() {
		if !conn.Conn().IsClosed() {
			uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_, _ = conn.Exec(uctx, "UNLISTEN *")
			cancel()
		}
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("chat: listen %s: %w", l.channel, err)
	}
	l.logger.Info("chat listener ready", zap.String("channel", l.channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.handle(ctx, n.Payload)
	}
}

func (l *PGListener) handle(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		l.logger.Warn("chat notification undecodable", zap.Error(err))
		return
	}
	switch {
	case env.Message != nil:
		l.hub.Deliver(*env.Message)
	case env.ID != "" && l.fetch != nil:
		msg, err := l.fetch.GetByID(ctx, env.ID)
		if err != nil {
			l.logger.Warn("chat notification fetch failed", zap.String("message_id", env.ID), zap.Error(err))
			return
		}
		l.hub.Deliver(msg)
	}
}

// RedisPublisher publishes messages on a Redis channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("chat: marshal message: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("chat: redis publish: %w", err)
	}
	return nil
}

// RedisBridge subscribes to the Redis channel and feeds the hub.
type RedisBridge struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	logger  *zap.Logger
}

func NewRedisBridge(rdb *redis.Client, channel string, hub *Hub) *RedisBridge {
	return &RedisBridge{rdb: rdb, channel: channel, hub: hub, logger: zap.NewNop()}
}

func (b *RedisBridge) WithLogger(logger *zap.Logger) *RedisBridge {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Run relays until ctx ends. go-redis reconnects the subscription itself.
func (b *RedisBridge) Run(ctx context.Context) error {
	ps := b.rdb.Subscribe(ctx, b.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("chat: redis subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("chat redis bridge ready", zap.String("channel", b.channel))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return errors.New("chat: redis subscription closed")
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn("chat redis payload undecodable", zap.Error(err))
				continue
			}
			b.hub.Deliver(msg)
		}
	}
}
