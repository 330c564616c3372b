package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/dmchat/internal/images"
	"github.com/johndosdos/dmchat/internal/model"
	"github.com/johndosdos/dmchat/internal/store"
)

// recordingPusher records pushes and what the store held at push time.
type recordingPusher struct {
	mu        sync.Mutex
	store     MessageStore
	pushed    []model.Message
	persisted []bool
}

func (p *recordingPusher) PushMessage(ctx context.Context, msg model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	history, _ := p.store.ListConversation(ctx, msg.SenderID, msg.ReceiverID)
	found := false
	for _, m := range history {
		if m.ID == msg.ID {
			found = true
		}
	}
	p.pushed = append(p.pushed, msg)
	p.persisted = append(p.persisted, found)
}

type failingMessages struct {
	MessageStore
}

func (failingMessages) CreateMessage(context.Context, model.Message) (model.Message, error) {
	return model.Message{}, errors.New("connection refused")
}

type fakeImages struct {
	err error
}

func (f fakeImages) Save(_ context.Context, payload string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "/uploads/" + payload + ".png", nil
}

type fixture struct {
	svc    *Service
	mem    *store.Memory
	pusher *recordingPusher
	alice  model.User
	bob    model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	alice, err := mem.CreateAccount(ctx, model.User{ID: uuid.New(), FullName: "Alice", Email: "alice@test.com"}, "h")
	require.NoError(t, err)
	bob, err := mem.CreateAccount(ctx, model.User{ID: uuid.New(), FullName: "Bob", Email: "bob@test.com"}, "h")
	require.NoError(t, err)

	pusher := &recordingPusher{store: mem}
	return &fixture{
		svc:    NewService(mem, mem, fakeImages{}, pusher),
		mem:    mem,
		pusher: pusher,
		alice:  alice,
		bob:    bob,
	}
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("persists_before_push", func(t *testing.T) {
		f := newFixture(t)

		msg, err := f.svc.SendMessage(ctx, f.alice.ID, f.bob.ID, SendInput{Text: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "hi", msg.Text)
		assert.Equal(t, f.alice.ID, msg.SenderID)
		assert.Equal(t, f.bob.ID, msg.ReceiverID)

		require.Len(t, f.pusher.pushed, 1)
		assert.Equal(t, msg, f.pusher.pushed[0])
		assert.True(t, f.pusher.persisted[0], "message must be stored before it is pushed")

		history, err := f.svc.FetchHistory(ctx, f.bob.ID, f.alice.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, msg, history[0])
	})

	t.Run("image_only", func(t *testing.T) {
		f := newFixture(t)

		msg, err := f.svc.SendMessage(ctx, f.alice.ID, f.bob.ID, SendInput{Image: "cat"})
		require.NoError(t, err)
		assert.Empty(t, msg.Text)
		assert.Equal(t, "/uploads/cat.png", msg.Image)
	})

	t.Run("sanitizes_markup", func(t *testing.T) {
		f := newFixture(t)

		msg, err := f.svc.SendMessage(ctx, f.alice.ID, f.bob.ID, SendInput{Text: "<script>x</script>hello"})
		require.NoError(t, err)
		assert.Equal(t, "hello", msg.Text)
	})

	t.Run("text_round_trips", func(t *testing.T) {
		f := newFixture(t)

		tests := []string{
			`Tom & Jerry say "x < y"`,
			"it's 5 > 3 && 2 < 4",
			"caf\u00e9 &amp; cr\u00e8me",
		}
		for _, text := range tests {
			msg, err := f.svc.SendMessage(ctx, f.alice.ID, f.bob.ID, SendInput{Text: text})
			require.NoError(t, err)
			assert.Equal(t, text, msg.Text)
		}

		history, err := f.svc.FetchHistory(ctx, f.bob.ID, f.alice.ID)
		require.NoError(t, err)
		stored := make([]string, 0, len(history))
		for _, msg := range history {
			stored = append(stored, msg.Text)
		}
		assert.ElementsMatch(t, tests, stored)
	})

	t.Run("text_at_limit", func(t *testing.T) {
		f := newFixture(t)

		msg, err := f.svc.SendMessage(ctx, f.alice.ID, f.bob.ID, SendInput{Text: strings.Repeat("x", MaxTextBytes)})
		require.NoError(t, err)
		assert.Len(t, msg.Text, MaxTextBytes)
	})

	tests := []struct {
		name     string
		in       SendInput
		receiver func(f *fixture) uuid.UUID
		images   ImageStore
		messages func(f *fixture) MessageStore
		wantErr  error
	}{
		{
			name:     "empty_body",
			in:       SendInput{Text: "   "},
			receiver: func(f *fixture) uuid.UUID { return f.bob.ID },
			wantErr:  ErrInvalidInput,
		},
		{
			name:     "markup_only_body",
			in:       SendInput{Text: "<b></b>"},
			receiver: func(f *fixture) uuid.UUID { return f.bob.ID },
			wantErr:  ErrInvalidInput,
		},
		{
			name:     "text_too_long",
			in:       SendInput{Text: strings.Repeat("x", MaxTextBytes+1)},
			receiver: func(f *fixture) uuid.UUID { return f.bob.ID },
			wantErr:  ErrInvalidInput,
		},
		{
			name:     "self_message",
			in:       SendInput{Text: "me"},
			receiver: func(f *fixture) uuid.UUID { return f.alice.ID },
			wantErr:  ErrInvalidInput,
		},
		{
			name:     "unknown_receiver",
			in:       SendInput{Text: "hi"},
			receiver: func(*fixture) uuid.UUID { return uuid.New() },
			wantErr:  ErrNotFound,
		},
		{
			name:     "bad_image",
			in:       SendInput{Image: "garbage"},
			receiver: func(f *fixture) uuid.UUID { return f.bob.ID },
			images:   fakeImages{err: images.ErrInvalidImage},
			wantErr:  ErrInvalidInput,
		},
		{
			name:     "image_store_down",
			in:       SendInput{Image: "cat"},
			receiver: func(f *fixture) uuid.UUID { return f.bob.ID },
			images:   fakeImages{err: errors.New("disk full")},
			wantErr:  ErrStorage,
		},
		{
			name:     "storage_failure",
			in:       SendInput{Text: "hi"},
			receiver: func(f *fixture) uuid.UUID { return f.bob.ID },
			messages: func(f *fixture) MessageStore { return failingMessages{f.mem} },
			wantErr:  ErrStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.images != nil {
				f.svc.images = tt.images
			}
			if tt.messages != nil {
				f.svc.messages = tt.messages(f)
			}

			_, err := f.svc.SendMessage(ctx, f.alice.ID, tt.receiver(f), tt.in)
			require.ErrorIs(t, err, tt.wantErr)

			assert.Empty(t, f.pusher.pushed, "failed sends must not push")
			history, err := f.mem.ListConversation(ctx, f.alice.ID, f.bob.ID)
			require.NoError(t, err)
			assert.Empty(t, history, "failed sends must not persist")
		})
	}
}

func TestFetchHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown_peer", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.FetchHistory(ctx, f.alice.ID, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ordered_across_directions", func(t *testing.T) {
		f := newFixture(t)

		base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		tick := 0
		f.svc.now = func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Millisecond)
		}

		var sent []uuid.UUID
		for i := range 6 {
			from, to := f.alice.ID, f.bob.ID
			if i%2 == 1 {
				from, to = to, from
			}
			msg, err := f.svc.SendMessage(ctx, from, to, SendInput{Text: "msg"})
			require.NoError(t, err)
			sent = append(sent, msg.ID)
		}

		for _, requester := range []uuid.UUID{f.alice.ID, f.bob.ID} {
			peer := f.bob.ID
			if requester == f.bob.ID {
				peer = f.alice.ID
			}
			history, err := f.svc.FetchHistory(ctx, requester, peer)
			require.NoError(t, err)
			require.Len(t, history, len(sent))
			for i, msg := range history {
				assert.Equal(t, sent[i], msg.ID)
				if i > 0 {
					assert.False(t, msg.CreatedAt.Before(history[i-1].CreatedAt))
				}
			}
		}
	})
}

func TestListContacts(t *testing.T) {
	f := newFixture(t)

	contacts, err := f.svc.ListContacts(context.Background(), f.alice.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, f.bob.Summary(), contacts[0])
}
