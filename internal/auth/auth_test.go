package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	t.Run("unique hashes", func(t *testing.T) {
		pw := "password1234"
		hash, err := HashPassword(pw)
		if err != nil {
			t.Fatalf("password hash fail #1: %+v", err)
		}

		hash2, err := HashPassword(pw)
		if err != nil {
			t.Fatalf("password hash fail #2: %+v", err)
		}

		if hash == hash2 {
			t.Fatalf("hash and hash2 are the same hashes; should be different: %s, %s", hash, hash2)
		}
	})

	t.Run("empty password", func(t *testing.T) {
		_, err := HashPassword("")
		if err != nil {
			t.Errorf("HashPassword() failed on empty string: %+v", err)
		}
	})
}

func TestCheckPasswordHash(t *testing.T) {
	tests := []struct {
		name      string
		password  string
		checkPw   string
		hash      string
		wantErr   bool
		wantMatch bool
	}{
		{"correct pw", "mypassword1234", "mypassword1234", "", false, true},
		{"incorrect pw", "mypassword1234", "passwordDD1234", "", false, false},
		{"wrong hash", "mypassword1234", "passwordDD1234", "not-a-hash", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hash string
			var err error

			if tt.hash != "" {
				hash = tt.hash
			} else {
				hash, err = HashPassword(tt.password)
				if err != nil {
					t.Fatalf("%+v", err)
				}
			}

			isMatch, err := CheckPasswordHash(tt.checkPw, hash)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckPasswordHash() error = %+v", err)
			}
			if isMatch != tt.wantMatch {
				t.Errorf("CheckPasswordHash() = %v, want %v", isMatch, tt.wantMatch)
			}
		})
	}
}

func TestJWT(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		validateAs string
		expiration time.Duration
		wantErr    bool
	}{
		{"Valid_JWT", "validtokensecret", "validtokensecret", 15 * time.Second, false},
		{"Incorrect_secret", "validtokensecret", "fakesecret", 15 * time.Second, true},
		{"Expired_token", "validtokensecret", "validtokensecret", -1 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID := uuid.New()
			tokenString, err := MakeJWT(userID, tt.secret, "test", tt.expiration)
			if err != nil {
				t.Fatalf("MakeJWT() error = %+v", err)
			}

			gotUserID, err := ValidateJWT(tokenString, tt.validateAs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateJWT() error = %+v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && gotUserID != userID {
				t.Errorf("want = %+v, got = %+v", userID, gotUserID)
			}
		})
	}

	t.Run("Corrupt_token", func(t *testing.T) {
		_, err := ValidateJWT("corrupttoken", "validtokensecret")
		if err == nil {
			t.Fatal("ValidateJWT(): expected error but got none")
		}
	})
}

func TestGetUserFromContext(t *testing.T) {
	t.Run("is_valid_UUID", func(t *testing.T) {
		wantUserID := uuid.New()
		ctx := context.WithValue(context.Background(), UserIDKey, wantUserID)
		gotUserID, err := GetUserFromContext(ctx)
		if err != nil {
			t.Fatalf("GetUserFromContext(): expected userID but got error = %+v", err)
		}
		if gotUserID != wantUserID {
			t.Errorf("want %+v but got %+v", wantUserID, gotUserID)
		}
	})

	t.Run("invalid_UUID", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), UserIDKey, "not-UUID")
		_, err := GetUserFromContext(ctx)
		if err == nil {
			t.Fatal("GetUserFromContext(): expected error but got none")
		}
	})

	t.Run("no_context", func(t *testing.T) {
		_, err := GetUserFromContext(context.Background())
		if err == nil {
			t.Fatal("GetUserFromContext(): expected error but got none")
		}
	})
}

func TestMiddleware(t *testing.T) {
	iss := Issuer{Secret: "secret", Name: "test", TTL: time.Minute}
	userID := uuid.New()

	valid, err := iss.MakeJWT(userID)
	require.NoError(t, err)
	expired, err := MakeJWT(userID, "secret", "test", -time.Second)
	require.NoError(t, err)

	tests := []struct {
		name              string
		cookie            string
		wantHandlerCalled bool
		wantCode          int
	}{
		{"valid_JWT", valid, true, http.StatusOK},
		{"expired_JWT", expired, false, http.StatusUnauthorized},
		{"garbage_JWT", "garbage", false, http.StatusUnauthorized},
		{"empty_cookies", "", false, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()

			isHandlerCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				isHandlerCalled = true
				got, err := GetUserFromContext(r.Context())
				assert.NoError(t, err)
				assert.Equal(t, userID, got)
				w.WriteHeader(http.StatusOK)
			})

			iss.Middleware(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantHandlerCalled, isHandlerCalled)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}
