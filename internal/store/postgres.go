package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/johndosdos/dmchat/internal/database"
	"github.com/johndosdos/dmchat/internal/model"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Postgres stores users and messages in Postgres.
type Postgres struct {
	pool *pgxpool.Pool
	q    *database.Queries
}

// NewPostgres returns a Postgres store over pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: database.New(pool)}
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func toUser(u database.User) model.User {
	return model.User{
		ID:         u.UserID.Bytes,
		FullName:   u.FullName,
		Email:      u.Email,
		ProfilePic: u.ProfilePic,
		CreatedAt:  u.CreatedAt.Time.UTC(),
	}
}

func toMessage(m database.Message) model.Message {
	return model.Message{
		ID:         m.ID.Bytes,
		SenderID:   m.SenderID.Bytes,
		ReceiverID: m.ReceiverID.Bytes,
		Text:       m.Text,
		Image:      m.Image,
		CreatedAt:  m.CreatedAt.Time.UTC(),
	}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// CreateAccount inserts the user and its password hash in one transaction.
func (p *Postgres) CreateAccount(ctx context.Context, u model.User, hashedPassword string) (model.User, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return model.User{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	q := p.q.WithTx(tx)
	created, err := q.CreateUser(ctx, database.CreateUserParams{
		UserID:     pgUUID(u.ID),
		FullName:   u.FullName,
		Email:      u.Email,
		ProfilePic: u.ProfilePic,
		CreatedAt:  pgtype.Timestamptz{Time: u.CreatedAt, Valid: true},
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.User{}, ErrConflict
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}

	err = q.CreatePassword(ctx, database.CreatePasswordParams{
		UserID:         created.UserID,
		HashedPassword: hashedPassword,
		CreatedAt:      pgtype.Timestamptz{Time: u.CreatedAt, Valid: true},
	})
	if err != nil {
		return model.User{}, fmt.Errorf("create password: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.User{}, fmt.Errorf("commit transaction: %w", err)
	}
	return toUser(created), nil
}

// GetUser returns the user with id, or ErrNotFound.
func (p *Postgres) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, err := p.q.GetUserById(ctx, pgUUID(id))
	if err != nil {
		return model.User{}, notFound(err)
	}
	return toUser(u), nil
}

// GetAccountByEmail returns the user registered under email and its password hash.
func (p *Postgres) GetAccountByEmail(ctx context.Context, email string) (model.User, string, error) {
	row, err := p.q.GetUserWithPasswordByEmail(ctx, email)
	if err != nil {
		return model.User{}, "", notFound(err)
	}
	return toUser(row.User), row.HashedPassword, nil
}

// ListUsersExcept returns every user other than id.
func (p *Postgres) ListUsersExcept(ctx context.Context, id uuid.UUID) ([]model.UserSummary, error) {
	users, err := p.q.ListUsersExcept(ctx, pgUUID(id))
	if err != nil {
		return nil, err
	}

	summaries := make([]model.UserSummary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, toUser(u).Summary())
	}
	return summaries, nil
}

// UpdateProfilePic sets the avatar reference of id.
func (p *Postgres) UpdateProfilePic(ctx context.Context, id uuid.UUID, url string) (model.User, error) {
	u, err := p.q.UpdateProfilePic(ctx, database.UpdateProfilePicParams{
		UserID:     pgUUID(id),
		ProfilePic: url,
	})
	if err != nil {
		return model.User{}, notFound(err)
	}
	return toUser(u), nil
}

// CreateMessage persists msg and returns it as stored.
func (p *Postgres) CreateMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	m, err := p.q.CreateMessage(ctx, database.CreateMessageParams{
		ID:         pgUUID(msg.ID),
		SenderID:   pgUUID(msg.SenderID),
		ReceiverID: pgUUID(msg.ReceiverID),
		Text:       msg.Text,
		Image:      msg.Image,
		CreatedAt:  pgtype.Timestamptz{Time: msg.CreatedAt, Valid: true},
	})
	if err != nil {
		return model.Message{}, err
	}
	return toMessage(m), nil
}

// ListConversation returns the messages exchanged between a and b, oldest first.
func (p *Postgres) ListConversation(ctx context.Context, a, b uuid.UUID) ([]model.Message, error) {
	rows, err := p.q.ListConversation(ctx, database.ListConversationParams{
		UserA: pgUUID(a),
		UserB: pgUUID(b),
	})
	if err != nil {
		return nil, err
	}

	messages := make([]model.Message, 0, len(rows))
	for _, m := range rows {
		messages = append(messages, toMessage(m))
	}
	return messages, nil
}
