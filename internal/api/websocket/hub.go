// Package websocket delivers live call notifications to connected
// observers and accepts call control commands from them.
package websocket

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/strataline/callflow-backend/internal/domain/call"
)

// Notification is one message pushed to every connected observer.
type Notification struct {
	Type string     `json:"type"`
	Call *call.Call `json:"call"`
}

// Notification types on the wire.
const (
	NotifyIncomingCall = "incomingCall"
	NotifyCallCreated  = "callCreated"
	NotifyCallUpdated  = "callUpdated"
	NotifyCallEnded    = "callEnded"
)

// MetricsCollector observes hub activity.
type MetricsCollector interface {
	ObserverConnected()
	ObserverDisconnected()
	BroadcastSent()
}

// Hub fans notifications out to all connected clients. One goroutine owns
// the client set; registration, removal, and broadcast all serialize
// through its channels.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	logger     *zap.Logger
	metrics    MetricsCollector
}

// NewHub creates a hub. metrics may be nil.
func NewHub(logger *zap.Logger, metrics MetricsCollector) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    metrics,
	}
}

// Run processes hub events until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			// Pumps still draining must not wedge on the register or
			// unregister channels once nobody services them.
			close(h.done)
			return

		case client := <-h.register:
			h.clients[client] = true
			if h.metrics != nil {
				h.metrics.ObserverConnected()
			}
			h.logger.Info("observer connected",
				zap.String("remote_addr", client.conn.RemoteAddr().String()),
				zap.Int("observers", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Info("observer disconnected",
					zap.Int("observers", len(h.clients)))
			}

		case message := <-h.broadcast:
			if h.metrics != nil {
				h.metrics.BroadcastSent()
			}
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// A slow or dead observer never blocks the others.
					h.drop(client)
					h.logger.Warn("observer dropped, send buffer full",
						zap.String("remote_addr", client.conn.RemoteAddr().String()))
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	if h.metrics != nil {
		h.metrics.ObserverDisconnected()
	}
}

// Notifier methods. Each applied mutation broadcasts exactly one message;
// marshal failures are logged and the message dropped rather than
// propagated back into reconciliation.

func (h *Hub) CallCreated(ctx context.Context, c *call.Call) {
	typ := NotifyCallCreated
	if c.Direction == call.DirectionIncoming {
		typ = NotifyIncomingCall
	}
	h.send(ctx, typ, c)
}

func (h *Hub) CallUpdated(ctx context.Context, c *call.Call) {
	h.send(ctx, NotifyCallUpdated, c)
}

func (h *Hub) CallEnded(ctx context.Context, c *call.Call) {
	h.send(ctx, NotifyCallEnded, c)
}

func (h *Hub) send(ctx context.Context, typ string, c *call.Call) {
	payload, err := json.Marshal(Notification{Type: typ, Call: c})
	if err != nil {
		h.logger.Error("failed to marshal notification",
			zap.String("type", typ), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	case <-ctx.Done():
	}
}
