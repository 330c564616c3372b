package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/dmchat/internal/auth"
	"github.com/johndosdos/dmchat/internal/chat"
	"github.com/johndosdos/dmchat/internal/images"
	"github.com/johndosdos/dmchat/internal/model"
	"github.com/johndosdos/dmchat/internal/store"
)

// AccountStore is what the account endpoints need from persistence.
type AccountStore interface {
	CreateAccount(ctx context.Context, u model.User, hashedPassword string) (model.User, error)
	GetAccountByEmail(ctx context.Context, email string) (model.User, string, error)
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	UpdateProfilePic(ctx context.Context, id uuid.UUID, url string) (model.User, error)
}

type signupRequest struct {
	FullName string `json:"fullName" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type profileRequest struct {
	ProfilePic string `json:"profilePic" validate:"required"`
}

var errBadCredentials = fmt.Errorf("%w: invalid email or password", chat.ErrInvalidInput)

// SubmitSignup handles user account creation and logs the new user in.
func SubmitSignup(accounts AccountStore, iss auth.Issuer, maxBodyBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req signupRequest
		if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}

		hashedPw, err := auth.HashPassword(req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}

		user, err := accounts.CreateAccount(ctx, model.User{
			ID:        uuid.New(),
			FullName:  strings.TrimSpace(req.FullName),
			Email:     strings.ToLower(strings.TrimSpace(req.Email)),
			CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		}, hashedPw)
		if errors.Is(err, store.ErrConflict) {
			writeError(w, r, fmt.Errorf("%w: email already exists", chat.ErrInvalidInput))
			return
		}
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: create account: %v", chat.ErrStorage, err))
			return
		}

		if err := startSession(w, iss, user.ID); err != nil {
			writeError(w, r, err)
			return
		}

		slog.InfoContext(ctx, "user signed up", slog.String("user_id", user.ID.String()))
		writeJSON(w, http.StatusCreated, user)
	}
}

// SubmitLogin checks credentials and sets the session cookie.
func SubmitLogin(accounts AccountStore, iss auth.Issuer, maxBodyBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req loginRequest
		if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}

		user, hash, err := accounts.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, errBadCredentials)
			return
		}
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: get account: %v", chat.ErrStorage, err))
			return
		}

		ok, err := auth.CheckPasswordHash(req.Password, hash)
		if err != nil {
			// cannot verify password; the hash may be corrupted
			writeError(w, r, err)
			return
		}
		if !ok {
			writeError(w, r, errBadCredentials)
			return
		}

		if err := startSession(w, iss, user.ID); err != nil {
			writeError(w, r, err)
			return
		}

		slog.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID.String()))
		writeJSON(w, http.StatusOK, user)
	}
}

// SubmitLogout clears the session cookie.
func SubmitLogout(iss auth.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		iss.ClearCookie(w)
		writeJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
	}
}

// ServeCheck returns the user behind the current session.
func ServeCheck(accounts AccountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requester(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		user, err := accounts.GetUser(r.Context(), userID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, fmt.Errorf("%w: account no longer exists", chat.ErrUnauthorized))
			return
		}
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: get user: %v", chat.ErrStorage, err))
			return
		}

		writeJSON(w, http.StatusOK, user)
	}
}

// SubmitProfile replaces the caller's avatar.
func SubmitProfile(accounts AccountStore, imgs chat.ImageStore, maxBodyBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := requester(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var req profileRequest
		if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}

		url, err := imgs.Save(ctx, req.ProfilePic)
		if errors.Is(err, images.ErrInvalidImage) {
			writeError(w, r, fmt.Errorf("%w: %v", chat.ErrInvalidInput, err))
			return
		}
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: save image: %v", chat.ErrStorage, err))
			return
		}

		user, err := accounts.UpdateProfilePic(ctx, userID, url)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, fmt.Errorf("%w: user %s", chat.ErrNotFound, userID))
			return
		}
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: update profile: %v", chat.ErrStorage, err))
			return
		}

		writeJSON(w, http.StatusOK, user)
	}
}

func startSession(w http.ResponseWriter, iss auth.Issuer, userID uuid.UUID) error {
	token, err := iss.MakeJWT(userID)
	if err != nil {
		return fmt.Errorf("internal/handler: failed to create JWT: %w", err)
	}
	iss.SetCookie(w, token)
	return nil
}
