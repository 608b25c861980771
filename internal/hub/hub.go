// Package hub fans room snapshots out to websocket subscribers.
package hub

import (
	"context"

	"github.com/DoyleJ11/autohost/pkg/types"
	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

type Subscribe struct {
	ClientID string
	Outbox   chan types.Snapshot // where this client wants to receive snapshots
}

type Unsubscribe struct {
	ClientID string
}

type Publish struct {
	Snapshot types.Snapshot
}

// GetLatest replies with the last published snapshot; ok is false before
// the first one.
type GetLatest struct {
	Reply chan Latest
}

type Latest struct {
	Snapshot    types.Snapshot
	OK          bool
	Subscribers int
}

type ShutdownHub struct{}

func (Subscribe) isHubMsg()   {}
func (Unsubscribe) isHubMsg() {}
func (Publish) isHubMsg()     {}
func (GetLatest) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	clients map[string]chan types.Snapshot
	latest  *types.Snapshot
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		clients: make(map[string]chan types.Snapshot),
		logger:  logger.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Publish hands a snapshot to the loop; it gives up once the hub is shut down.
func (h *Hub) Publish(s types.Snapshot) {
	select {
	case h.inbox <- Publish{Snapshot: s}:
	case <-h.ctx.Done():
	}
}

// GetLatest is the synchronous form of the GetLatest message.
func (h *Hub) GetLatest(ctx context.Context) (Latest, error) {
	reply := make(chan Latest, 1)
	select {
	case h.inbox <- GetLatest{Reply: reply}:
	case <-ctx.Done():
		return Latest{}, ctx.Err()
	case <-h.ctx.Done():
		return Latest{}, h.ctx.Err()
	}
	select {
	case l := <-reply:
		return l, nil
	case <-ctx.Done():
		return Latest{}, ctx.Err()
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Subscribe:
				h.clients[msg.ClientID] = msg.Outbox
				if h.latest != nil {
					// Outboxes are buffered; a fresh one always has room.
					msg.Outbox <- *h.latest
				}

			case Unsubscribe:
				if ch, ok := h.clients[msg.ClientID]; ok {
					close(ch)
					delete(h.clients, msg.ClientID)
				}

			case Publish:
				if h.latest != nil && msg.Snapshot.Version <= h.latest.Version {
					break
				}
				snap := msg.Snapshot
				h.latest = &snap
				h.broadcast(snap)

			case GetLatest:
				l := Latest{Subscribers: len(h.clients)}
				if h.latest != nil {
					l.Snapshot, l.OK = *h.latest, true
				}
				msg.Reply <- l

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for id, ch := range h.clients {
		close(ch) // no more snapshots
		delete(h.clients, id)
	}
	h.cancel()
}

func (h *Hub) broadcast(snap types.Snapshot) {
	for id, ch := range h.clients {
		select {
		case ch <- snap:
		default:
			// Client is slow/full - drop them.
			h.logger.Info("dropping slow subscriber", zap.String("client", id), zap.Int("version", snap.Version))
			close(ch)
			delete(h.clients, id)
		}
	}
}
