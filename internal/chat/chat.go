// Package chat implements the conversation API: contact lists, history and
// sending direct messages.
package chat

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/johndosdos/dmchat/internal/images"
	"github.com/johndosdos/dmchat/internal/model"
	"github.com/johndosdos/dmchat/internal/store"
)

// MessageStore is the durable message history.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg model.Message) (model.Message, error)
	ListConversation(ctx context.Context, a, b uuid.UUID) ([]model.Message, error)
}

// UserStore resolves user identities.
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	ListUsersExcept(ctx context.Context, id uuid.UUID) ([]model.UserSummary, error)
}

// ImageStore keeps an uploaded image and returns the URL it is served at.
type ImageStore interface {
	Save(ctx context.Context, payload string) (string, error)
}

// Pusher delivers a stored message to a connected receiver, best-effort.
type Pusher interface {
	PushMessage(ctx context.Context, msg model.Message)
}

type sanitizer interface {
	Sanitize(s string) string
}

// MaxTextBytes caps the text of one message once markup is stripped.
const MaxTextBytes = 64 << 10

// SendInput is the body of a new message. At least one field must be set.
type SendInput struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// Service is the conversation API.
//
// Sends are not queued: callers are expected to keep at most one send in
// flight per client session.
type Service struct {
	messages    MessageStore
	users       UserStore
	images      ImageStore
	pusher      Pusher
	sanitizer   sanitizer
	now         func() time.Time
	pushTimeout time.Duration
}

// NewService returns a new instance of Service.
func NewService(messages MessageStore, users UserStore, images ImageStore, pusher Pusher) *Service {
	return &Service{
		messages:    messages,
		users:       users,
		images:      images,
		pusher:      pusher,
		sanitizer:   bluemonday.StrictPolicy(),
		now:         time.Now,
		pushTimeout: 5 * time.Second,
	}
}

// ListContacts returns every known user except the requester.
func (s *Service) ListContacts(ctx context.Context, requester uuid.UUID) ([]model.UserSummary, error) {
	contacts, err := s.users.ListUsersExcept(ctx, requester)
	if err != nil {
		return nil, fmt.Errorf("%w: list contacts: %v", ErrStorage, err)
	}
	return contacts, nil
}

// FetchHistory returns the conversation between requester and peer ordered
// by creation time. An unknown peer is ErrNotFound.
func (s *Service) FetchHistory(ctx context.Context, requester, peer uuid.UUID) ([]model.Message, error) {
	if err := s.requireUser(ctx, peer); err != nil {
		return nil, err
	}

	history, err := s.messages.ListConversation(ctx, requester, peer)
	if err != nil {
		return nil, fmt.Errorf("%w: list conversation: %v", ErrStorage, err)
	}
	return history, nil
}

// SendMessage stores a new message and then hands it to the gateway for live
// delivery. The message is durable before any push is attempted; push
// failures never fail the call.
func (s *Service) SendMessage(ctx context.Context, sender, receiver uuid.UUID, in SendInput) (model.Message, error) {
	text := s.cleanText(in.Text)
	image := strings.TrimSpace(in.Image)

	if text == "" && image == "" {
		return model.Message{}, fmt.Errorf("%w: message needs text or an image", ErrInvalidInput)
	}
	if len(text) > MaxTextBytes {
		return model.Message{}, fmt.Errorf("%w: text exceeds %d bytes", ErrInvalidInput, MaxTextBytes)
	}
	if sender == receiver {
		return model.Message{}, fmt.Errorf("%w: cannot message yourself", ErrInvalidInput)
	}
	if err := s.requireUser(ctx, receiver); err != nil {
		return model.Message{}, err
	}

	var imageURL string
	if image != "" {
		url, err := s.images.Save(ctx, image)
		switch {
		case errors.Is(err, images.ErrInvalidImage):
			return model.Message{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		case err != nil:
			return model.Message{}, fmt.Errorf("%w: save image: %v", ErrStorage, err)
		}
		imageURL = url
	}

	msg, err := s.messages.CreateMessage(ctx, model.Message{
		ID:         uuid.New(),
		SenderID:   sender,
		ReceiverID: receiver,
		Text:       text,
		Image:      imageURL,
		// Postgres keeps microseconds; truncating here keeps the live copy
		// identical to what history returns.
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to store message",
			"error", err,
			"sender_id", sender.String(),
			"receiver_id", receiver.String())
		return model.Message{}, fmt.Errorf("%w: create message: %v", ErrStorage, err)
	}

	// The push outlives a caller that hangs up right after the write.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pushTimeout)
	s.pusher.PushMessage(pushCtx, msg)
	cancel()

	return msg, nil
}

// cleanText strips markup and decodes the entities the sanitizer leaves
// behind, so text is stored as typed.
func (s *Service) cleanText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(raw)))
}

func (s *Service) requireUser(ctx context.Context, id uuid.UUID) error {
	_, err := s.users.GetUser(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	case err != nil:
		return fmt.Errorf("%w: get user: %v", ErrStorage, err)
	}
	return nil
}
