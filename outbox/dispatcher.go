package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Handler delivers one message. A returned error marks the row failed; failed
// rows are never retried.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

type Dispatcher struct {
	store      Store
	handlers   map[string]Handler
	logger     *zap.Logger
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
}

func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store:      store,
		handlers:   make(map[string]Handler),
		logger:     zap.NewNop(),
		interval:   2 * time.Second,
		batchSize:  20,
		staleAfter: 5 * time.Minute,
	}
}

func (d *Dispatcher) WithLogger(logger *zap.Logger) *Dispatcher {
	if logger != nil {
		d.logger = logger
	}
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithBatchSize(n int) *Dispatcher {
	if n > 0 {
		d.batchSize = n
	}
	return d
}

func (d *Dispatcher) WithStaleAfter(after time.Duration) *Dispatcher {
	if after > 0 {
		d.staleAfter = after
	}
	return d
}

// Register routes topic to h. Registering a topic twice replaces the handler.
func (d *Dispatcher) Register(topic string, h Handler) {
	d.handlers[topic] = h
}

// Run polls until ctx is cancelled. Store errors are logged and the loop
// continues on the next tick.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("outbox dispatcher started",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize))

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox dispatch failed", zap.Error(err))
		}
		if n, err := d.store.FailStale(ctx, d.staleAfter); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox stale sweep failed", zap.Error(err))
		} else if n > 0 {
			d.logger.Warn("outbox rows abandoned while dispatching", zap.Int64("count", n))
		}

		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims one batch and delivers it. It returns the number of rows
// that reached processed.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	msgs, err := d.store.Claim(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	var errs []error
	for _, msg := range msgs {
		log := d.logger.With(zap.String("outbox_id", msg.ID), zap.String("topic", msg.Topic))

		h, ok := d.handlers[msg.Topic]
		if !ok {
			log.Warn("outbox message has no handler")
			if err := d.store.MarkFailed(ctx, msg.ID, fmt.Errorf("%w %q", ErrUnknownTopic, msg.Topic)); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		if herr := h.Handle(ctx, msg); herr != nil {
			log.Error("outbox delivery failed", zap.Error(herr))
			if err := d.store.MarkFailed(ctx, msg.ID, herr); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		if err := d.store.MarkProcessed(ctx, msg.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Debug("outbox message delivered")
		processed++
	}
	return processed, errors.Join(errs...)
}
