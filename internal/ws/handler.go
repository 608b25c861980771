// Package ws streams room snapshots to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/autohost/internal/hub"
	"github.com/DoyleJ11/autohost/pkg/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 60 * time.Second
	outboxSize   = 8
)

// Handler subscribes each connection to h and writes every snapshot as a
// StatusSnapshot message. The stream is read-only; anything a client sends
// besides a close gets an Error message back.
func Handler(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan types.Snapshot, outboxSize)
		clientID := uuid.NewString()
		log := logger.With(zap.String("client", clientID))

		h.Inbox() <- hub.Subscribe{ClientID: clientID, Outbox: out}
		defer func() { h.Inbox() <- hub.Unsubscribe{ClientID: clientID} }()
		log.Info("subscriber connected", zap.String("remote", r.RemoteAddr))

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for snap := range out {
				if err := write(writeCtx, conn, types.ServerMessage{Type: types.MsgStatusSnapshot, Snapshot: &snap}); err != nil {
					log.Debug("write snapshot", zap.Error(err))
					return
				}
			}
			// The hub closed our outbox: we fell behind or it shut down.
			if writeCtx.Err() == nil {
				_ = conn.Close(websocket.StatusPolicyViolation, "subscriber dropped")
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, _, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Info("subscriber left")
				default:
					if !errors.Is(err, context.Canceled) {
						log.Debug("subscriber read ended", zap.Error(err))
					}
				}
				return
			}
			_ = write(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "status stream is read-only"})
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
