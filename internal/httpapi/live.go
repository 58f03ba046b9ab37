package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"confianza/internal/observability"
	"confianza/internal/storage"
)

const writeTimeout = 10 * time.Second

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	trade, role, ok := s.participantTrade(w, r)
	if !ok {
		return
	}
	log := s.logger.WithFields(logrus.Fields{
		"trade_id": trade.ID,
		"role":     string(role),
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// subscribe before upgrading so no commit after "subscribed" is missed
	sub, err := s.feed.Subscribe(ctx, trade.ID)
	if err != nil {
		log.WithError(err).Error("failed to subscribe to trade changes")
		writeError(w, http.StatusServiceUnavailable, "Live updates unavailable")
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	observability.LiveSubscriberAdded()
	defer observability.LiveSubscriberRemoved()
	log.Info("live subscription opened")

	s.stream(ctx, cancel, conn, sub, log)
	log.Info("live subscription closed")
}

// stream forwards sub to conn until either side ends. It is the only writer
// of data frames on conn.
func (s *Server) stream(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *storage.Subscription, log logrus.FieldLogger) {
	pongWait := 2 * s.pingInterval
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// the read loop processes control frames and notices disconnects
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := writeMessage(conn, LiveMessage{Type: MessageSubscribed, TradeID: sub.TradeID()}); err != nil {
		log.WithError(err).Warn("failed to confirm subscription")
		return
	}

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case p, ok := <-sub.Changes():
			if !ok {
				if err := sub.Err(); err != nil && ctx.Err() == nil {
					log.WithError(err).Warn("live subscription ended by feed")
					_ = writeMessage(conn, LiveMessage{Type: MessageError, TradeID: sub.TradeID(), Error: err.Error()})
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "change feed unavailable"),
						time.Now().Add(writeTimeout))
				}
				return
			}
			if err := writeMessage(conn, UpdateMessage(p)); err != nil {
				log.WithError(err).Warn("failed to push trade update")
				return
			}
			log.WithField("new_status", string(p.Status)).Debug("trade update pushed")

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				log.WithError(err).Debug("ping failed")
				return
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, m LiveMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(m)
}
