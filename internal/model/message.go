// Package model defines data structure.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Message holds information about a single direct message. A message is
// immutable once stored.
type Message struct {
	ID         uuid.UUID `json:"id"`
	SenderID   uuid.UUID `json:"senderId"`
	ReceiverID uuid.UUID `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Between reports whether the message belongs to the conversation of a and b.
func (m Message) Between(a, b uuid.UUID) bool {
	return (m.SenderID == a && m.ReceiverID == b) ||
		(m.SenderID == b && m.ReceiverID == a)
}
