package store

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/johndosdos/dmchat/internal/model"
)

// Memory is an in-process store used by tests and local runs without a
// database. It mirrors the Postgres semantics.
type Memory struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]model.User
	passwords map[uuid.UUID]string
	messages  []model.Message
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		users:     make(map[uuid.UUID]model.User),
		passwords: make(map[uuid.UUID]string),
	}
}

func (m *Memory) CreateAccount(_ context.Context, u model.User, hashedPassword string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.ID == u.ID || strings.EqualFold(existing.Email, u.Email) {
			return model.User{}, ErrConflict
		}
	}
	m.users[u.ID] = u
	m.passwords[u.ID] = hashedPassword
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetAccountByEmail(_ context.Context, email string) (model.User, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := lo.Find(lo.Values(m.users), func(u model.User) bool {
		return strings.EqualFold(u.Email, email)
	})
	if !ok {
		return model.User{}, "", ErrNotFound
	}
	return u, m.passwords[u.ID], nil
}

func (m *Memory) ListUsersExcept(_ context.Context, id uuid.UUID) ([]model.UserSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	others := lo.Filter(lo.Values(m.users), func(u model.User, _ int) bool {
		return u.ID != id
	})
	slices.SortFunc(others, func(a, b model.User) int {
		return cmp.Or(cmp.Compare(a.FullName, b.FullName), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return lo.Map(others, func(u model.User, _ int) model.UserSummary {
		return u.Summary()
	}), nil
}

func (m *Memory) UpdateProfilePic(_ context.Context, id uuid.UUID, url string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	u.ProfilePic = url
	m.users[id] = u
	return u, nil
}

func (m *Memory) CreateMessage(_ context.Context, msg model.Message) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[msg.SenderID]; !ok {
		return model.Message{}, ErrNotFound
	}
	if _, ok := m.users[msg.ReceiverID]; !ok {
		return model.Message{}, ErrNotFound
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *Memory) ListConversation(_ context.Context, a, b uuid.UUID) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv := lo.Filter(m.messages, func(msg model.Message, _ int) bool {
		return msg.Between(a, b)
	})
	slices.SortFunc(conv, func(x, y model.Message) int {
		return cmp.Or(
			x.CreatedAt.Compare(y.CreatedAt),
			bytes.Compare(x.ID[:], y.ID[:]),
		)
	})
	return conv, nil
}
