package chat

import "errors"

// Errors surfaced by the conversation API. Live delivery failures are not
// part of this set; the gateway swallows them.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage error")
	ErrUnauthorized = errors.New("unauthorized")
)
