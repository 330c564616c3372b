package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/johndosdos/dmchat/internal/model"
)

// ClientOptions tunes a single realtime connection.
type ClientOptions struct {
	Buffer       int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// Client is one live connection. UserID is uuid.Nil for anonymous clients.
type Client struct {
	UserID uuid.UUID

	conn   *websocket.Conn
	hub    *Hub
	remote string
	opts   ClientOptions

	// send is closed by the hub when the client is unregistered.
	send chan model.Event
	// presence holds at most the latest snapshot not yet written.
	presence chan []uuid.UUID
}

// NewClient wraps an accepted websocket connection.
func NewClient(conn *websocket.Conn, userID uuid.UUID, remote string, opts ClientOptions) *Client {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Client{
		UserID:   userID,
		conn:     conn,
		remote:   remote,
		opts:     opts,
		send:     make(chan model.Event, opts.Buffer),
		presence: make(chan []uuid.UUID, 1),
	}
}

// offerPresence replaces any pending snapshot with online. Only the hub
// goroutine calls it, so the send below never blocks.
func (c *Client) offerPresence(online []uuid.UUID) {
	select {
	case <-c.presence:
	default:
	}
	c.presence <- online
}

// WriteMessage writes queued events to the outgoing websocket stream and
// keeps the connection alive with pings.
func (c *Client) WriteMessage(ctx context.Context) {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case event, ok := <-c.send:
			// The hub closed the channel; the client is gone.
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "connection closed")
				return
			}
			if err := c.write(ctx, event); err != nil {
				return
			}

		case online := <-c.presence:
			if err := c.write(ctx, model.PresenceEvent(online)); err != nil {
				return
			}

		case <-ping:
			pingCtx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.WarnContext(ctx, "ping failed; dropping connection",
					"error", err,
					"user_id", c.UserID.String())
				c.conn.CloseNow()
				return
			}

		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}
	}
}

// write sends one event. A failed write tears the connection down so the
// read side notices and unregisters the client.
func (c *Client) write(ctx context.Context, event model.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, c.conn, event); err != nil {
		slog.WarnContext(ctx, "failed to write event",
			"error", err,
			"event_type", event.Type,
			"user_id", c.UserID.String())
		c.conn.CloseNow()
		return err
	}
	return nil
}

// ReadMessage drains the incoming websocket stream until the peer goes away,
// then unregisters the client. Clients have nothing to say over this channel;
// reading is what surfaces closes and answers pings.
func (c *Client) ReadMessage(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.CloseNow()
	}()

	c.conn.SetReadLimit(4096)

	for {
		msgType, p, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				slog.WarnContext(ctx, "connection closed abnormally",
					"error", err,
					"user_id", c.UserID.String())
			}
			return
		}

		slog.DebugContext(ctx, "ignoring client frame",
			"type", msgType,
			"size", len(p),
			"user_id", c.UserID.String())
	}
}
