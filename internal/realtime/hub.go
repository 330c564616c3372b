// Package realtime is the live side of the chat server: it owns the set of
// realtime connections, keeps the presence registry in sync with them, and
// pushes presence snapshots and new messages to connected clients.
package realtime

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/johndosdos/dmchat/internal/model"
	"github.com/johndosdos/dmchat/internal/presence"
)

// Relay forwards a message to other server instances when its receiver is
// not connected here.
type Relay interface {
	Publish(ctx context.Context, msg model.Message) error
}

// Registration asks the hub to start tracking a client. Done is closed once
// the client is registered and the presence broadcast has been queued.
type Registration struct {
	Client *Client
	Done   chan struct{}
}

type delivery struct {
	msg     model.Message
	relayed bool
}

// Hub serializes every connection event through Run so that each presence
// broadcast is computed right after the registry mutation that caused it.
type Hub struct {
	registry   *presence.Registry[*Client]
	clients    map[*Client]struct{}
	relay      Relay
	register   chan Registration
	unregister chan *Client
	deliver    chan delivery
	done       chan struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithRelay makes the hub forward messages for receivers it does not hold.
func WithRelay(r Relay) Option {
	return func(h *Hub) { h.relay = r }
}

// NewHub returns a new instance of Hub backed by registry.
func NewHub(registry *presence.Registry[*Client], opts ...Option) *Hub {
	h := &Hub{
		registry:   registry,
		clients:    make(map[*Client]struct{}),
		register:   make(chan Registration),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, 1024),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry exposes the presence registry owned by the hub.
func (h *Hub) Registry() *presence.Registry[*Client] {
	return h.registry
}

// Run manages incoming and outgoing hub traffic until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case reg := <-h.register:
			h.onConnect(ctx, reg.Client)
			close(reg.Done)

		case client := <-h.unregister:
			h.onDisconnect(ctx, client)

		case d := <-h.deliver:
			h.pushMessage(ctx, d)

		case <-ctx.Done():
			slog.InfoContext(ctx, "hub stopped", "reason", ctx.Err(), "clients", len(h.clients))
			for client := range h.clients {
				delete(h.clients, client)
				if client.UserID != uuid.Nil {
					h.registry.Release(client.UserID, client)
				}
				close(client.send)
			}
			return
		}
	}
}

// Register hands a new connection to the hub and waits until it is tracked.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	reg := Registration{Client: c, Done: make(chan struct{})}
	select {
	case h.register <- reg:
	case <-h.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reg.Done:
		return nil
	case <-h.done:
		return context.Canceled
	}
}

// Unregister tells the hub the connection is gone.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// PushMessage asks the hub to deliver msg to its receiver if the receiver is
// online. Delivery is best-effort: nothing is reported back to the caller.
func (h *Hub) PushMessage(ctx context.Context, msg model.Message) {
	h.enqueue(ctx, delivery{msg: msg})
}

// DeliverRelayed delivers a message received from another instance to a
// local connection only; it is never relayed again.
func (h *Hub) DeliverRelayed(ctx context.Context, msg model.Message) {
	h.enqueue(ctx, delivery{msg: msg, relayed: true})
}

func (h *Hub) enqueue(ctx context.Context, d delivery) {
	select {
	case h.deliver <- d:
	case <-h.done:
		slog.WarnContext(ctx, "hub stopped; live push dropped", "message_id", d.msg.ID)
	case <-ctx.Done():
		slog.WarnContext(ctx, "live push abandoned", "message_id", d.msg.ID, "error", ctx.Err())
	}
}

func (h *Hub) onConnect(ctx context.Context, c *Client) {
	h.clients[c] = struct{}{}
	c.hub = h

	// Anonymous connections receive broadcasts but are invisible to presence.
	if c.UserID == uuid.Nil {
		c.offerPresence(h.registry.ListOnline())
		slog.InfoContext(ctx, "anonymous client connected")
		return
	}

	if prev, replaced := h.registry.Register(c.UserID, c); replaced {
		slog.InfoContext(ctx, "connection superseded",
			"user_id", c.UserID.String(),
			"previous", prev.remote,
			"current", c.remote)
	}
	slog.InfoContext(ctx, "client connected", "user_id", c.UserID.String())
	h.broadcastPresence(ctx)
}

func (h *Hub) onDisconnect(ctx context.Context, c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)

	if c.UserID == uuid.Nil {
		return
	}
	if !h.registry.Release(c.UserID, c) {
		slog.InfoContext(ctx, "superseded connection closed", "user_id", c.UserID.String())
		return
	}
	slog.InfoContext(ctx, "client disconnected", "user_id", c.UserID.String())
	h.broadcastPresence(ctx)
}

// broadcastPresence sends the full online set to every connection, including
// anonymous ones. Each client keeps only the latest snapshot it has not yet
// written, so a slow client never misses the final state.
func (h *Hub) broadcastPresence(ctx context.Context) {
	online := h.registry.ListOnline()
	for client := range h.clients {
		client.offerPresence(online)
	}
	slog.DebugContext(ctx, "presence broadcast", "online", len(online), "connections", len(h.clients))
}

func (h *Hub) pushMessage(ctx context.Context, d delivery) {
	receiver, ok := h.registry.Lookup(d.msg.ReceiverID)
	if !ok {
		if h.relay == nil || d.relayed {
			return
		}
		if err := h.relay.Publish(ctx, d.msg); err != nil {
			slog.WarnContext(ctx, "failed to relay message",
				"error", err,
				"message_id", d.msg.ID.String())
		}
		return
	}

	select {
	case receiver.send <- model.MessageEvent(d.msg):
	default:
		slog.WarnContext(ctx, "skipping message payload - channel full or client slow",
			"user_id", receiver.UserID.String(),
			"message_id", d.msg.ID.String())
	}
}
