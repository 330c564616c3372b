// Package handler exposes the chat server over HTTP.
package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/johndosdos/dmchat/internal/auth"
	"github.com/johndosdos/dmchat/internal/chat"
	"github.com/johndosdos/dmchat/internal/realtime"
	ratelimiter "github.com/johndosdos/dmchat/internal/rate_limiter"
)

// Deps wires the handlers to the rest of the server.
type Deps struct {
	Chat     *chat.Service
	Accounts AccountStore
	Images   chat.ImageStore
	Hub      *realtime.Hub
	Issuer   auth.Issuer
	// Limiter throttles auth and send endpoints; nil disables throttling.
	Limiter *ratelimiter.IPRateLimiter

	UploadDir     string
	UploadBaseURL string
	MaxBodyBytes  int64
	Ws            WsOptions
	Now           func() time.Time
}

// Routes builds the HTTP surface:
//
//	GET  /api/health
//	GET  /ws?userId=
//	POST /api/auth/{signup,login,logout}
//	GET  /api/auth/check
//	PUT  /api/auth/profile
//	GET  /api/contacts
//	GET  /api/messages/{peerId}
//	POST /api/messages/{peerId}
func Routes(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 10 << 20
	}

	limit := func(next http.Handler) http.Handler {
		if d.Limiter == nil {
			return next
		}
		return d.Limiter.Middleware(next)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/api/health", ServeHealth(d.Hub.Registry().Len, d.Now))
	r.Get("/ws", ServeWs(d.Hub, d.Accounts, d.Issuer, d.Ws))

	r.Route("/api/auth", func(r chi.Router) {
		r.With(limit).Post("/signup", SubmitSignup(d.Accounts, d.Issuer, d.MaxBodyBytes))
		r.With(limit).Post("/login", SubmitLogin(d.Accounts, d.Issuer, d.MaxBodyBytes))
		r.Post("/logout", SubmitLogout(d.Issuer))

		r.Group(func(r chi.Router) {
			r.Use(d.Issuer.Middleware)
			r.Get("/check", ServeCheck(d.Accounts))
			r.Put("/profile", SubmitProfile(d.Accounts, d.Images, d.MaxBodyBytes))
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(d.Issuer.Middleware)
		r.Get("/api/contacts", ServeContacts(d.Chat))
		r.Get("/api/messages/{peerId}", ServeHistory(d.Chat))
		r.With(limit).Post("/api/messages/{peerId}", SubmitMessage(d.Chat, d.MaxBodyBytes))
	})

	if d.UploadDir != "" {
		base := "/" + strings.Trim(d.UploadBaseURL, "/")
		fs := http.FileServer(http.Dir(d.UploadDir))
		r.Handle(base+"/*", http.StripPrefix(base+"/", fs))
	}

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
