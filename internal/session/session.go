// Package session is the per-device side of the chat: one realtime
// connection, a local view of who is online, and at most one open
// conversation reconciled from REST history and live pushes.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/johndosdos/dmchat/internal/chat"
	"github.com/johndosdos/dmchat/internal/model"
)

// Session holds one realtime connection for one user.
type Session struct {
	self    uuid.UUID
	baseURL string
	http    *http.Client
	conn    *websocket.Conn

	mu     sync.Mutex
	online map[uuid.UUID]struct{}
	subs   map[uint64]subscriber
	nextID uint64
	conv   *Conversation

	done chan struct{}
	err  error
}

type subscriber struct {
	peer uuid.UUID
	fn   func(model.Message)
}

// DefaultReadLimit bounds one realtime event. It fits a message at
// chat.MaxTextBytes even when every character is JSON-escaped, and a presence
// snapshot of roughly 25k users.
const DefaultReadLimit int64 = 1 << 20

type dialOptions struct {
	readLimit int64
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

// WithReadLimit overrides DefaultReadLimit.
func WithReadLimit(n int64) DialOption {
	return func(o *dialOptions) { o.readLimit = n }
}

// Dial opens the realtime connection for self against the server at baseURL
// ("http://host:port"). client should carry the session cookie; nil uses a
// fresh client with an empty jar.
func Dial(ctx context.Context, baseURL string, self uuid.UUID, client *http.Client, opts ...DialOption) (*Session, error) {
	o := dialOptions{readLimit: DefaultReadLimit}
	for _, opt := range opts {
		opt(&o)
	}

	if client == nil {
		client = NewHTTPClient()
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	wsURL, err := realtimeURL(baseURL, self)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: client})
	if err != nil {
		return nil, fmt.Errorf("internal/session: dial %s: %w", wsURL, err)
	}
	conn.SetReadLimit(o.readLimit)

	s := &Session{
		self:    self,
		baseURL: baseURL,
		http:    client,
		conn:    conn,
		online:  make(map[uuid.UUID]struct{}),
		subs:    make(map[uint64]subscriber),
		done:    make(chan struct{}),
	}
	go s.readLoop()

	return s, nil
}

func realtimeURL(baseURL string, self uuid.UUID) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("internal/session: invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	q := u.Query()
	if self != uuid.Nil {
		q.Set("userId", self.String())
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Self is the identity this session connected as.
func (s *Session) Self() uuid.UUID {
	return s.self
}

// Online returns the identities from the latest presence broadcast.
func (s *Session) Online() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	online := make([]uuid.UUID, 0, len(s.online))
	for id := range s.online {
		online = append(online, id)
	}
	return online
}

// IsOnline reports whether id was online in the latest broadcast.
func (s *Session) IsOnline(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.online[id]
	return ok
}

// Subscription is the token returned by Subscribe.
type Subscription struct {
	s    *Session
	id   uint64
	once sync.Once
}

// Unsubscribe revokes the subscription. It is safe to call more than once.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.s.mu.Lock()
		delete(sub.s.subs, sub.id)
		sub.s.mu.Unlock()
	})
}

// Subscribe calls fn for every live message sent by peer until the returned
// subscription is revoked. Messages from anyone else are not delivered to fn.
func (s *Session) Subscribe(peer uuid.UUID, fn func(model.Message)) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.subs[s.nextID] = subscriber{peer: peer, fn: fn}
	return &Subscription{s: s, id: s.nextID}
}

// Done is closed when the realtime connection ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err is why the connection ended; valid after Done is closed.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// Close closes the open conversation and the realtime connection.
func (s *Session) Close() error {
	s.mu.Lock()
	conv := s.conv
	s.mu.Unlock()
	if conv != nil {
		conv.Close()
	}

	err := s.conn.Close(websocket.StatusNormalClosure, "client closed")
	<-s.done
	return err
}

func (s *Session) readLoop() {
	defer close(s.done)

	ctx := context.Background()
	for {
		var event model.Event
		if err := wsjson.Read(ctx, s.conn, &event); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				s.err = err
			}
			return
		}

		switch event.Type {
		case model.EventPresenceUpdate:
			s.replaceOnline(event.Online)
		case model.EventMessageReceived:
			if event.Message != nil {
				s.dispatch(*event.Message)
			}
		default:
			slog.Debug("ignoring unknown event", "type", event.Type)
		}
	}
}

// replaceOnline swaps the local presence view for the broadcast snapshot.
func (s *Session) replaceOnline(ids []uuid.UUID) {
	online := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		online[id] = struct{}{}
	}

	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
}

func (s *Session) dispatch(msg model.Message) {
	s.mu.Lock()
	var fns []func(model.Message)
	for _, sub := range s.subs {
		if sub.peer == msg.SenderID {
			fns = append(fns, sub.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// Conversation is the history with one peer as seen by this session.
type Conversation struct {
	s    *Session
	peer uuid.UUID
	sub  *Subscription

	mu       sync.Mutex
	loaded   bool
	messages []model.Message
	pending  []model.Message
	seen     map[uuid.UUID]struct{}
}

// OpenConversation loads the history with peer and keeps it current with
// live messages from peer until Close. Opening a conversation closes the
// previously open one; live messages from anyone but the open peer are
// dropped and only show up on a later history fetch.
func (s *Session) OpenConversation(ctx context.Context, peer uuid.UUID) (*Conversation, error) {
	c := &Conversation{
		s:    s,
		peer: peer,
		seen: make(map[uuid.UUID]struct{}),
	}
	// Subscribe before fetching so nothing pushed during the fetch is lost.
	c.sub = s.Subscribe(peer, c.receive)

	history, err := s.FetchHistory(ctx, peer)
	if err != nil {
		c.sub.Unsubscribe()
		return nil, err
	}

	c.mu.Lock()
	c.loaded = true
	for _, msg := range history {
		c.appendLocked(msg)
	}
	for _, msg := range c.pending {
		c.appendLocked(msg)
	}
	c.pending = nil
	c.mu.Unlock()

	s.mu.Lock()
	prev := s.conv
	s.conv = c
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	return c, nil
}

// Peer is the other participant.
func (c *Conversation) Peer() uuid.UUID {
	return c.peer
}

// Messages returns a copy of the local history.
func (c *Conversation) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Send submits a message to the peer and appends the stored copy locally.
func (c *Conversation) Send(ctx context.Context, text, image string) (model.Message, error) {
	msg, err := c.s.SendMessage(ctx, c.peer, chat.SendInput{Text: text, Image: image})
	if err != nil {
		return model.Message{}, err
	}

	c.mu.Lock()
	c.appendLocked(msg)
	c.mu.Unlock()
	return msg, nil
}

// Close stops live updates for this conversation.
func (c *Conversation) Close() {
	c.sub.Unsubscribe()

	c.s.mu.Lock()
	if c.s.conv == c {
		c.s.conv = nil
	}
	c.s.mu.Unlock()
}

func (c *Conversation) receive(msg model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		c.pending = append(c.pending, msg)
		return
	}
	c.appendLocked(msg)
}

func (c *Conversation) appendLocked(msg model.Message) {
	if _, dup := c.seen[msg.ID]; dup {
		return
	}
	c.seen[msg.ID] = struct{}{}
	c.messages = append(c.messages, msg)
}
