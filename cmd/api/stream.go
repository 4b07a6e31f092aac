package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxClientFrame = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream pushes new messages of one match to a participant. The
// connection is receive-only; client frames are read just to observe close.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFrom(r.Context())
	matchID := mux.Vars(r)["id"]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Authorize before upgrading so failures are plain HTTP errors.
	sub, err := s.chatService.Subscribe(ctx, matchID, userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Cancel()
		s.log().Warn("websocket upgrade failed", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	defer conn.Close()

	log := s.log().With(zap.String("match_id", matchID), zap.String("user_id", userID), zap.String("subscription_id", sub.ID()))
	log.Debug("stream opened")

	go readPump(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug("stream closed by client")
			return
		case msg, ok := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Dropped for lagging or hub shutdown; the client re-subscribes.
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription dropped"))
				log.Debug("stream subscription dropped")
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
