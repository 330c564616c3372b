package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/dmchat/internal/model"
	"github.com/johndosdos/dmchat/internal/session"
	"github.com/johndosdos/dmchat/internal/testserver"
)

// 1x1 transparent PNG.
const pixelPNG = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func do(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	if s, ok := body.(string); ok {
		r = strings.NewReader(s)
	} else if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func errorOf(t *testing.T, body []byte) string {
	t.Helper()

	var e struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Error
}

func TestHealth(t *testing.T) {
	srv := testserver.New(t)

	resp, body := do(t, http.DefaultClient, http.MethodGet, srv.URL+"/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Status string `json:"status"`
		Online int    `json:"online"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ok", got.Status)
	assert.Zero(t, got.Online)
}

func TestUnauthorized(t *testing.T) {
	srv := testserver.New(t)
	peer := uuid.New().String()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/contacts"},
		{http.MethodGet, "/api/messages/" + peer},
		{http.MethodPost, "/api/messages/" + peer},
		{http.MethodGet, "/api/auth/check"},
		{http.MethodPut, "/api/auth/profile"},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp, body := do(t, http.DefaultClient, tc.method, srv.URL+tc.path, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.NotEmpty(t, errorOf(t, body))
		})
	}
}

func TestSubmitMessage(t *testing.T) {
	srv := testserver.New(t)
	alice := srv.CreateUser(t, "alice")
	bob := srv.CreateUser(t, "bob")
	client := srv.Client(t, alice.ID)

	tests := []struct {
		name       string
		peer       string
		body       any
		wantStatus int
	}{
		{name: "text", peer: bob.ID.String(), body: map[string]string{"text": "hello"}, wantStatus: http.StatusCreated},
		{name: "image_only", peer: bob.ID.String(), body: map[string]string{"image": pixelPNG}, wantStatus: http.StatusCreated},
		{name: "empty", peer: bob.ID.String(), body: map[string]string{"text": ""}, wantStatus: http.StatusBadRequest},
		{name: "markup_only", peer: bob.ID.String(), body: map[string]string{"text": "<script></script>"}, wantStatus: http.StatusBadRequest},
		{name: "bad_image", peer: bob.ID.String(), body: map[string]string{"image": "data:text/plain;base64,aGVsbG8="}, wantStatus: http.StatusBadRequest},
		{name: "malformed_json", peer: bob.ID.String(), body: `{"text":`, wantStatus: http.StatusBadRequest},
		{name: "self", peer: alice.ID.String(), body: map[string]string{"text": "me"}, wantStatus: http.StatusBadRequest},
		{name: "unknown_peer", peer: uuid.New().String(), body: map[string]string{"text": "hi"}, wantStatus: http.StatusNotFound},
		{name: "malformed_peer", peer: "not-a-uuid", body: map[string]string{"text": "hi"}, wantStatus: http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, client, http.MethodPost, srv.URL+"/api/messages/"+tc.peer, tc.body)
			require.Equal(t, tc.wantStatus, resp.StatusCode, string(body))

			if tc.wantStatus != http.StatusCreated {
				assert.NotEmpty(t, errorOf(t, body))
				return
			}

			var got struct {
				NewMessage model.Message `json:"newMessage"`
			}
			require.NoError(t, json.Unmarshal(body, &got))
			assert.NotEqual(t, uuid.Nil, got.NewMessage.ID)
			assert.Equal(t, alice.ID, got.NewMessage.SenderID)
			assert.Equal(t, bob.ID, got.NewMessage.ReceiverID)
			assert.False(t, got.NewMessage.CreatedAt.IsZero())
		})
	}

	// Only the two accepted messages were stored.
	history, err := srv.Store.ListConversation(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Text)
	assert.True(t, strings.HasPrefix(history[1].Image, "/uploads/"), history[1].Image)

	// The stored image is served back.
	resp, _ := do(t, http.DefaultClient, http.MethodGet, srv.URL+history[1].Image, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestServeHistory(t *testing.T) {
	srv := testserver.New(t)
	alice := srv.CreateUser(t, "alice")
	bob := srv.CreateUser(t, "bob")

	aliceClient := srv.Client(t, alice.ID)
	bobClient := srv.Client(t, bob.ID)

	for i, c := range []*http.Client{aliceClient, bobClient, aliceClient} {
		peer := bob.ID
		if c == bobClient {
			peer = alice.ID
		}
		resp, _ := do(t, c, http.MethodPost, srv.URL+"/api/messages/"+peer.String(),
			map[string]string{"text": string(rune('a' + i))})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := do(t, bobClient, http.MethodGet, srv.URL+"/api/messages/"+alice.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history []model.Message
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{history[0].Text, history[1].Text, history[2].Text})
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
	}

	resp, _ = do(t, bobClient, http.MethodGet, srv.URL+"/api/messages/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	carol := srv.CreateUser(t, "carol")
	resp, body = do(t, bobClient, http.MethodGet, srv.URL+"/api/messages/"+carol.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestServeContacts(t *testing.T) {
	srv := testserver.New(t)
	alice := srv.CreateUser(t, "alice")
	bob := srv.CreateUser(t, "bob")

	resp, body := do(t, srv.Client(t, alice.ID), http.MethodGet, srv.URL+"/api/contacts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var contacts []model.UserSummary
	require.NoError(t, json.Unmarshal(body, &contacts))
	require.Len(t, contacts, 1)
	assert.Equal(t, bob.ID, contacts[0].ID)
	assert.NotContains(t, string(body), "email")
}

func TestAccountFlow(t *testing.T) {
	srv := testserver.New(t)
	ctx := context.Background()

	client, user, err := session.Signup(ctx, srv.URL, "Dana Scully", "Dana@Example.com", "trustno1")
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", user.Email)

	resp, body := do(t, client, http.MethodGet, srv.URL+"/api/auth/check", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var checked model.User
	require.NoError(t, json.Unmarshal(body, &checked))
	assert.Equal(t, user.ID, checked.ID)

	// Duplicate email.
	_, _, err = session.Signup(ctx, srv.URL, "Other", "dana@example.com", "password")
	var apiErr *session.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	resp, body = do(t, client, http.MethodPut, srv.URL+"/api/auth/profile", map[string]string{"profilePic": pixelPNG})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var updated model.User
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.True(t, strings.HasPrefix(updated.ProfilePic, "/uploads/"))

	resp, _ = do(t, client, http.MethodPost, srv.URL+"/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, client, http.MethodGet, srv.URL+"/api/auth/check", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, _, err = session.Login(ctx, srv.URL, "dana@example.com", "wrong-password")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	client, again, err := session.Login(ctx, srv.URL, "DANA@example.com", "trustno1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	resp, _ = do(t, client, http.MethodGet, srv.URL+"/api/auth/check", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignup_Validation(t *testing.T) {
	srv := testserver.New(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing_name", map[string]string{"email": "a@b.com", "password": "secret1"}},
		{"bad_email", map[string]string{"fullName": "A", "email": "nope", "password": "secret1"}},
		{"short_password", map[string]string{"fullName": "A", "email": "a@b.com", "password": "123"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, http.DefaultClient, http.MethodPost, srv.URL+"/api/auth/signup", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, errorOf(t, body))
		})
	}
}

func TestServeWs_Identity(t *testing.T) {
	srv := testserver.New(t)
	alice := srv.CreateUser(t, "alice")
	bob := srv.CreateUser(t, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	firstSnapshot := func(t *testing.T, url string, client *http.Client) []uuid.UUID {
		t.Helper()

		conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: client})
		require.NoError(t, err)
		defer conn.CloseNow()

		var ev model.Event
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		require.Equal(t, model.EventPresenceUpdate, ev.Type)
		return ev.Online
	}

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	// A userId that contradicts the session cookie is treated as anonymous.
	online := firstSnapshot(t, wsBase+"?userId="+alice.ID.String(), srv.Client(t, bob.ID))
	assert.Empty(t, online)

	for _, q := range []string{"", "?userId=garbage", "?userId=" + uuid.New().String()} {
		online := firstSnapshot(t, wsBase+q, nil)
		assert.Empty(t, online, q)
	}

	online = firstSnapshot(t, wsBase+"?userId="+alice.ID.String(), srv.Client(t, alice.ID))
	assert.Equal(t, []uuid.UUID{alice.ID}, online)
}

func TestServeWs_EmptyPresence(t *testing.T) {
	srv := testserver.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	_, raw, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"presence-update","online":[]}`, string(raw))
}
