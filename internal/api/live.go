package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/topicstreams/internal/fanout"
)

const maxClientMessage = 512

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers connect from any dashboard origin; there is no auth to protect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// liveNews handles GET /api/v1/ws/news/{topic}. Only websocket handshakes
// reach the registry; the topic is then created or reactivated before the
// upgrade, so validation failures are plain HTTP errors. Each stored item is
// pushed as one JSON text message.
func (s *Server) liveNews(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "websocket upgrade required")
		return
	}
	topic, err := pathParam(r, "topic")
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
		return
	}
	sub, err := s.core.SubscribeLive(r.Context(), topic)
	if err != nil {
		s.writeServiceError(w, "subscribe", err)
		return
	}
	defer s.core.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Debug("websocket upgrade failed", zap.String("topic", sub.Topic()), zap.Error(err))
		return
	}
	defer conn.Close()

	s.stream(conn, sub)
}

// stream pumps items to conn until the client goes away or the subscription
// is dropped by the fan-out.
func (s *Server) stream(conn *websocket.Conn, sub *fanout.Subscription) {
	pongWait := 2 * s.opts.PingInterval
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(maxClientMessage)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			// Client messages are ignored; reading surfaces close frames and errors.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	log := s.logger.With(zap.String("topic", sub.Topic()), zap.String("subscription_id", sub.ID()))
	for {
		select {
		case <-gone:
			log.Debug("live client disconnected")
			return
		case <-sub.Done():
			log.Debug("live subscription dropped")
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteTimeout))
			return
		case item := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteJSON(item); err != nil {
				log.Debug("live write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				log.Debug("live ping failed", zap.Error(err))
				return
			}
		}
	}
}
