package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/google/uuid"

	"github.com/johndosdos/dmchat/internal/chat"
	"github.com/johndosdos/dmchat/internal/model"
)

// APIError is a non-2xx answer from the conversation API. It unwraps to the
// matching chat error so callers can use errors.Is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return chat.ErrInvalidInput
	case http.StatusNotFound:
		return chat.ErrNotFound
	case http.StatusUnauthorized:
		return chat.ErrUnauthorized
	default:
		return chat.ErrStorage
	}
}

// NewHTTPClient returns a client with a cookie jar so the session cookie set
// by login or signup is replayed on later calls.
func NewHTTPClient() *http.Client {
	jar, _ := cookiejar.New(nil) // never fails with nil options
	return &http.Client{Jar: jar}
}

// Signup creates an account and returns a client holding its session.
func Signup(ctx context.Context, baseURL, fullName, email, password string) (*http.Client, model.User, error) {
	client := NewHTTPClient()
	var user model.User
	err := doJSON(ctx, client, http.MethodPost, baseURL+"/api/auth/signup", map[string]string{
		"fullName": fullName,
		"email":    email,
		"password": password,
	}, &user)
	return client, user, err
}

// Login authenticates and returns a client holding the session.
func Login(ctx context.Context, baseURL, email, password string) (*http.Client, model.User, error) {
	client := NewHTTPClient()
	var user model.User
	err := doJSON(ctx, client, http.MethodPost, baseURL+"/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &user)
	return client, user, err
}

// ListContacts fetches every other user.
func (s *Session) ListContacts(ctx context.Context) ([]model.UserSummary, error) {
	var contacts []model.UserSummary
	err := doJSON(ctx, s.http, http.MethodGet, s.baseURL+"/api/contacts", nil, &contacts)
	return contacts, err
}

// FetchHistory fetches the conversation with peer, oldest first.
func (s *Session) FetchHistory(ctx context.Context, peer uuid.UUID) ([]model.Message, error) {
	var history []model.Message
	err := doJSON(ctx, s.http, http.MethodGet, s.messagesURL(peer), nil, &history)
	return history, err
}

// SendMessage submits a message to peer and returns it as stored.
func (s *Session) SendMessage(ctx context.Context, peer uuid.UUID, in chat.SendInput) (model.Message, error) {
	var out struct {
		NewMessage model.Message `json:"newMessage"`
	}
	err := doJSON(ctx, s.http, http.MethodPost, s.messagesURL(peer), in, &out)
	return out.NewMessage, err
}

func (s *Session) messagesURL(peer uuid.UUID) string {
	return s.baseURL + "/api/messages/" + url.PathEscape(peer.String())
}

func doJSON(ctx context.Context, client *http.Client, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		p, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		body = bytes.NewReader(p)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&e)
		return &APIError{Status: res.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("could not decode response: %w", err)
	}
	return nil
}
