package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Authenticate validates the session cookie of r and returns its user ID.
func (iss Issuer) Authenticate(r *http.Request) (uuid.UUID, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("internal/auth: %w", err)
	}
	return iss.ValidateJWT(cookie.Value)
}

// Middleware validates the client's JWT. If valid, the user ID is appended to
// the request context and the next handler is served; otherwise the request
// is answered with 401.
func (iss Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := iss.Authenticate(r)
		if err != nil {
			slog.DebugContext(r.Context(), "rejected session", "error", err, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized - no valid session"}` + "\n"))
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), UserIDKey, userID))
		next.ServeHTTP(w, r)
	})
}
