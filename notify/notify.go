// Package notify delivers match notifications to both parties.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/LewisZett/parts-connect-pro/outbox"
)

// TopicMatchCreated is the outbox topic written when a match is created.
const TopicMatchCreated = "match.created"

var ErrDelivery = errors.New("notify: delivery failed")

type MatchNotification struct {
	MatchID     string `json:"match_id"`
	SupplierID  string `json:"supplier_id"`
	RequesterID string `json:"requester_id"`
	ItemName    string `json:"item_name"`
	ItemType    string `json:"item_type"`
}

type Notifier interface {
	NotifyMatch(ctx context.Context, n MatchNotification) error
}

// WebhookNotifier POSTs the notification as JSON to an external endpoint.
type WebhookNotifier struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhookNotifier(url, token string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookNotifier) NotifyMatch(ctx context.Context, n MatchNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: webhook status %d", ErrDelivery, resp.StatusCode)
	}
	return nil
}

// LogNotifier records notifications in the log when no webhook is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) NotifyMatch(_ context.Context, n MatchNotification) error {
	l.logger.Info("match notification",
		zap.String("match_id", n.MatchID),
		zap.String("supplier_id", n.SupplierID),
		zap.String("requester_id", n.RequesterID),
		zap.String("item_name", n.ItemName),
		zap.String("item_type", n.ItemType))
	return nil
}

// MatchCreatedHandler adapts a Notifier to the outbox topic TopicMatchCreated.
func MatchCreatedHandler(n Notifier) outbox.Handler {
	return outbox.HandlerFunc(func(ctx context.Context, msg outbox.Message) error {
		var payload MatchNotification
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("notify: decode %s payload: %w", msg.Topic, err)
		}
		if payload.MatchID == "" {
			return fmt.Errorf("notify: %s payload missing match_id", msg.Topic)
		}
		return n.NotifyMatch(ctx, payload)
	})
}
