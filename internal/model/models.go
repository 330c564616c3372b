package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User is an account known to the server.
type User struct {
	ID         uuid.UUID `json:"id"`
	FullName   string    `json:"fullName"`
	Email      string    `json:"email"`
	ProfilePic string    `json:"profilePic"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Summary strips the user down to what contact lists show.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, FullName: u.FullName, ProfilePic: u.ProfilePic}
}

// UserSummary is one entry of a contact list.
type UserSummary struct {
	ID         uuid.UUID `json:"id"`
	FullName   string    `json:"fullName"`
	ProfilePic string    `json:"profilePic"`
}

// Realtime event types pushed from server to client.
const (
	EventPresenceUpdate  = "presence-update"
	EventMessageReceived = "message-received"
)

// Event is the envelope written on a realtime connection.
type Event struct {
	Type    string      `json:"type"`
	Online  []uuid.UUID `json:"online,omitempty"`
	Message *Message    `json:"message,omitempty"`
}

// presencePayload is the wire form of a presence-update: online is always
// present, an empty set is [].
type presencePayload struct {
	Type   string      `json:"type"`
	Online []uuid.UUID `json:"online"`
}

// MarshalJSON writes presence updates with their full online array and every
// other event with only the fields it carries.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventPresenceUpdate {
		online := e.Online
		if online == nil {
			online = []uuid.UUID{}
		}
		return json.Marshal(presencePayload{Type: e.Type, Online: online})
	}

	type plain Event
	return json.Marshal(plain(e))
}

// PresenceEvent wraps a full snapshot of online identities.
func PresenceEvent(online []uuid.UUID) Event {
	return Event{Type: EventPresenceUpdate, Online: online}
}

// MessageEvent wraps a message for live delivery.
func MessageEvent(msg Message) Event {
	return Event{Type: EventMessageReceived, Message: &msg}
}
