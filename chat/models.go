package chat

import "time"

// Message is one immutable chat turn inside a match.
type Message struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	MatchID    string    `json:"match_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}
