// Package testserver runs the full chat server over an in-memory store for
// end-to-end tests.
package testserver

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/dmchat/internal/auth"
	"github.com/johndosdos/dmchat/internal/chat"
	"github.com/johndosdos/dmchat/internal/handler"
	"github.com/johndosdos/dmchat/internal/images"
	"github.com/johndosdos/dmchat/internal/model"
	"github.com/johndosdos/dmchat/internal/presence"
	"github.com/johndosdos/dmchat/internal/realtime"
	"github.com/johndosdos/dmchat/internal/store"
)

// Password is the password of every user made by Server.CreateUser.
const Password = "password1234"

// Server is a full chat server over an in-memory store.
type Server struct {
	URL    string
	Store  *store.Memory
	Hub    *realtime.Hub
	Issuer auth.Issuer
}

// New starts a server that is torn down when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	mem := store.NewMemory()
	hub := realtime.NewHub(presence.NewRegistry[*realtime.Client]())
	go hub.Run(ctx)

	uploadDir := t.TempDir()
	imgs, err := images.NewDiskStore(uploadDir, "/uploads", 0)
	if err != nil {
		cancel()
		t.Fatalf("images.NewDiskStore() error = %+v", err)
	}

	iss := auth.Issuer{
		Secret:         "test-secret",
		Name:           "test",
		TTL:            time.Hour,
		InsecureCookie: true,
	}

	routes := handler.Routes(handler.Deps{
		Chat:          chat.NewService(mem, mem, imgs, hub),
		Accounts:      mem,
		Images:        imgs,
		Hub:           hub,
		Issuer:        iss,
		UploadDir:     uploadDir,
		UploadBaseURL: "/uploads",
		MaxBodyBytes:  1 << 20,
		Ws: handler.WsOptions{
			Client: realtime.ClientOptions{Buffer: 16, WriteTimeout: 5 * time.Second},
		},
	})

	ts := httptest.NewServer(routes)
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})

	return &Server{URL: ts.URL, Store: mem, Hub: hub, Issuer: iss}
}

// CreateUser stores a user whose password is Password.
func (s *Server) CreateUser(t testing.TB, name string) model.User {
	t.Helper()

	hash, err := auth.HashPassword(Password)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	user, err := s.Store.CreateAccount(context.Background(), model.User{
		ID:        uuid.New(),
		FullName:  name,
		Email:     name + "@test.com",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}, hash)
	if err != nil {
		t.Fatalf("CreateAccount() error = %+v", err)
	}
	return user
}

// Client returns an HTTP client whose jar holds a session for userID.
func (s *Server) Client(t testing.TB, userID uuid.UUID) *http.Client {
	t.Helper()

	token, err := s.Issuer.MakeJWT(userID)
	if err != nil {
		t.Fatalf("MakeJWT() error = %+v", err)
	}

	jar, _ := cookiejar.New(nil)
	u, _ := url.Parse(s.URL)
	jar.SetCookies(u, []*http.Cookie{{Name: auth.SessionCookie, Value: token, Path: "/"}})

	return &http.Client{Jar: jar}
}
