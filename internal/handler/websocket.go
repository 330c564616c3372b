package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/johndosdos/dmchat/internal/auth"
	"github.com/johndosdos/dmchat/internal/model"
	"github.com/johndosdos/dmchat/internal/realtime"
)

// UserLookup confirms that a claimed identity exists.
type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
}

// WsOptions configures the realtime endpoint.
type WsOptions struct {
	Client realtime.ClientOptions
	// AllowedOrigins are host patterns accepted on upgrade; empty accepts any.
	AllowedOrigins []string
}

// ServeWs handles the client's websocket connection upgrade. The caller's
// identity comes from the userId query parameter; a missing or unknown
// identity yields an anonymous connection that only receives presence
// broadcasts.
func ServeWs(h *realtime.Hub, users UserLookup, iss auth.Issuer, opts WsOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID := resolveIdentity(r, users, iss)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns:     opts.AllowedOrigins,
			InsecureSkipVerify: len(opts.AllowedOrigins) == 0,
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to upgrade connection to websocket", "error", err)
			return
		}

		// We'll register our new client to the central hub.
		c := realtime.NewClient(conn, userID, r.RemoteAddr, opts.Client)
		if err := h.Register(ctx, c); err != nil {
			conn.Close(websocket.StatusTryAgainLater, "server shutting down")
			return
		}

		// We block on c.ReadMessage() because the request context will be
		// cancelled as soon as we return from the handler.
		go c.WriteMessage(ctx)
		c.ReadMessage(ctx)
	}
}

// resolveIdentity returns the claimed user ID if it names an existing user
// and does not contradict a valid session cookie; otherwise uuid.Nil.
func resolveIdentity(r *http.Request, users UserLookup, iss auth.Issuer) uuid.UUID {
	ctx := r.Context()

	raw := r.URL.Query().Get("userId")
	if raw == "" {
		return uuid.Nil
	}
	claimed, err := uuid.Parse(raw)
	if err != nil {
		slog.InfoContext(ctx, "ignoring malformed userId", "user_id", raw)
		return uuid.Nil
	}

	if sessionUser, err := iss.Authenticate(r); err == nil && sessionUser != claimed {
		slog.WarnContext(ctx, "userId does not match session",
			"claimed", claimed.String(),
			"session", sessionUser.String())
		return uuid.Nil
	}

	if _, err := users.GetUser(ctx, claimed); err != nil {
		slog.InfoContext(ctx, "ignoring unknown userId", "user_id", claimed.String(), "error", err)
		return uuid.Nil
	}
	return claimed
}
