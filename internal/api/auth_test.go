// internal/api/auth_test.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/user/threadline/internal/state"
	"github.com/user/threadline/internal/types"
)

func authServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		grant := r.URL.Query().Get("grant_type")
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch grant {
		case "password":
			if body["password"] != "hunter2" {
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
				"token_type":    "bearer",
				"expires_at":    time.Now().Add(time.Hour).Unix(),
				"user":          types.User{ID: "user-1", Email: body["email"]},
			})
		case "refresh_token":
			if body["refresh_token"] != "refresh-1" {
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "refresh token revoked"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-2",
				"refresh_token": "refresh-2",
				"token_type":    "bearer",
				"expires_at":    time.Now().Add(2 * time.Hour).Unix(),
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("POST /auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type eventRecorder struct {
	mu     sync.Mutex
	events []types.AuthEventType
}

func (r *eventRecorder) record(ev types.AuthEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Type)
}

func (r *eventRecorder) types() []types.AuthEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.AuthEventType{}, r.events...)
}

func newAuthClient(t *testing.T, srv *httptest.Server) (*AuthClient, *state.Credentials, *eventRecorder) {
	t.Helper()
	creds := state.NewCredentials(t.TempDir())
	authc := NewAuthClient(New(srv.URL), creds, nil)
	rec := &eventRecorder{}
	unsub := authc.OnAuthChange(rec.record)
	t.Cleanup(unsub)
	return authc, creds, rec
}

func TestSignInPersistsAndEmits(t *testing.T) {
	authc, creds, rec := newAuthClient(t, authServer(t))

	session, err := authc.SignIn(context.Background(), "u@example.com", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if session.AccessToken != "access-1" || session.User == nil || session.User.ID != "user-1" {
		t.Fatalf("session = %+v", session)
	}

	persisted, err := creds.Load()
	if err != nil {
		t.Fatal(err)
	}
	if persisted == nil || persisted.AccessToken != "access-1" {
		t.Fatalf("persisted = %+v", persisted)
	}

	got := rec.types()
	if len(got) != 1 || got[0] != types.AuthSignedIn {
		t.Fatalf("events = %v, want [SIGNED_IN]", got)
	}
}

func TestSignInRejectsBadPassword(t *testing.T) {
	authc, creds, rec := newAuthClient(t, authServer(t))

	if _, err := authc.SignIn(context.Background(), "u@example.com", "wrong"); err == nil {
		t.Fatal("expected error")
	}
	if persisted, _ := creds.Load(); persisted != nil {
		t.Fatal("failed sign-in must not persist a session")
	}
	if len(rec.types()) != 0 {
		t.Fatal("failed sign-in must not emit events")
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	authc, creds, rec := newAuthClient(t, authServer(t))
	if _, err := authc.SignIn(context.Background(), "u@example.com", "hunter2"); err != nil {
		t.Fatal(err)
	}

	session, err := authc.RefreshSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if session.AccessToken != "access-2" || session.RefreshToken != "refresh-2" {
		t.Fatalf("session = %+v, want rotated tokens", session)
	}
	if session.User == nil || session.User.ID != "user-1" {
		t.Fatal("refresh must keep the user identity when the response omits it")
	}

	persisted, _ := creds.Load()
	if persisted == nil || persisted.AccessToken != "access-2" {
		t.Fatal("rotated session not persisted")
	}

	got := rec.types()
	if len(got) != 2 || got[1] != types.AuthTokenRefreshed {
		t.Fatalf("events = %v, want [SIGNED_IN TOKEN_REFRESHED]", got)
	}
}

func TestRefreshWithoutSession(t *testing.T) {
	authc, _, _ := newAuthClient(t, authServer(t))
	if _, err := authc.RefreshSession(context.Background()); err != ErrNoRefreshToken {
		t.Fatalf("error = %v, want ErrNoRefreshToken", err)
	}
}

func TestSignOutClearsAndEmits(t *testing.T) {
	srv := authServer(t)
	authc, creds, rec := newAuthClient(t, srv)
	if _, err := authc.SignIn(context.Background(), "u@example.com", "hunter2"); err != nil {
		t.Fatal(err)
	}

	if err := authc.SignOut(context.Background()); err != nil {
		t.Fatal(err)
	}
	if persisted, _ := creds.Load(); persisted != nil {
		t.Fatal("credentials survive sign-out")
	}
	got := rec.types()
	if got[len(got)-1] != types.AuthSignedOut {
		t.Fatalf("events = %v, want SIGNED_OUT last", got)
	}
}
