package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type User struct {
	UserID     pgtype.UUID
	FullName   string
	Email      string
	ProfilePic string
	CreatedAt  pgtype.Timestamptz
}

type Message struct {
	ID         pgtype.UUID
	SenderID   pgtype.UUID
	ReceiverID pgtype.UUID
	Text       string
	Image      string
	CreatedAt  pgtype.Timestamptz
}
