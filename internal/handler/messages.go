package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/johndosdos/dmchat/internal/auth"
	"github.com/johndosdos/dmchat/internal/chat"
	"github.com/johndosdos/dmchat/internal/model"
)

type sendResponse struct {
	NewMessage model.Message `json:"newMessage"`
}

func peerFromPath(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "peerId")
	peerID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: user %q", chat.ErrNotFound, raw)
	}
	return peerID, nil
}

func requester(r *http.Request) (uuid.UUID, error) {
	userID, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %v", chat.ErrUnauthorized, err)
	}
	return userID, nil
}

// ServeContacts lists every user except the caller.
func ServeContacts(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requester(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		contacts, err := svc.ListContacts(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, contacts)
	}
}

// ServeHistory loads the conversation between the caller and {peerId}.
func ServeHistory(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requester(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		peerID, err := peerFromPath(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		history, err := svc.FetchHistory(r.Context(), userID, peerID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, history)
	}
}

// SubmitMessage stores a message for {peerId} and pushes it live if the
// peer is connected.
func SubmitMessage(svc *chat.Service, maxBodyBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := requester(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		peerID, err := peerFromPath(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var in chat.SendInput
		if err := decodeJSON(w, r, maxBodyBytes, &in); err != nil {
			writeError(w, r, err)
			return
		}

		msg, err := svc.SendMessage(ctx, userID, peerID, in)
		if err != nil {
			writeError(w, r, err)
			return
		}

		slog.DebugContext(ctx, "message sent",
			"message_id", msg.ID.String(),
			"sender_id", userID.String(),
			"receiver_id", peerID.String())

		writeJSON(w, http.StatusCreated, sendResponse{NewMessage: msg})
	}
}
