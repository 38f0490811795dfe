// internal/api/auth.go
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/user/threadline/internal/state"
	"github.com/user/threadline/internal/types"
)

// ErrNoRefreshToken is returned when a refresh is requested with no
// persisted session to refresh from.
var ErrNoRefreshToken = errors.New("no refresh token")

// AuthClient implements the credential-store collaborator over the
// backend's token endpoints, persisting the session between runs. It emits
// auth-change events on every transition it performs.
type AuthClient struct {
	base  *Client
	creds *state.Credentials
	log   *slog.Logger

	mu      sync.Mutex
	subs    map[int]func(types.AuthEvent)
	nextSub int
}

// NewAuthClient creates an AuthClient over the given transport and
// credential file.
func NewAuthClient(base *Client, creds *state.Credentials, log *slog.Logger) *AuthClient {
	if log == nil {
		log = slog.Default()
	}
	return &AuthClient{
		base:  base,
		creds: creds,
		log:   log,
		subs:  make(map[int]func(types.AuthEvent)),
	}
}

// tokenResponse is the token endpoint's response body.
type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	RefreshToken string      `json:"refresh_token"`
	User         *types.User `json:"user"`
}

func (r *tokenResponse) session() *types.Session {
	s := &types.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		User:         r.User,
	}
	switch {
	case r.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		s.ExpiresAt = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return s
}

// SignIn exchanges credentials for a session, persists it, and emits
// SIGNED_IN.
func (a *AuthClient) SignIn(ctx context.Context, email, password string) (*types.Session, error) {
	body := map[string]string{"email": email, "password": password}
	var resp tokenResponse
	if err := a.base.doJSON(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", body, false, &resp); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	session := resp.session()
	if err := a.creds.Save(session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	a.emit(types.AuthEvent{Type: types.AuthSignedIn, Session: session})
	return session, nil
}

// CurrentSession reads the persisted session; (nil, nil) means signed out.
func (a *AuthClient) CurrentSession(_ context.Context) (*types.Session, error) {
	return a.creds.Load()
}

// RefreshSession exchanges the persisted refresh token for a fresh session,
// persists the replacement, and emits TOKEN_REFRESHED.
func (a *AuthClient) RefreshSession(ctx context.Context) (*types.Session, error) {
	current, err := a.creds.Load()
	if err != nil {
		return nil, err
	}
	if current == nil || current.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	body := map[string]string{"refresh_token": current.RefreshToken}
	var resp tokenResponse
	if err := a.base.doJSON(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", body, false, &resp); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	session := resp.session()
	if session.User == nil {
		session.User = current.User
	}
	if err := a.creds.Save(session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	a.emit(types.AuthEvent{Type: types.AuthTokenRefreshed, Session: session})
	return session, nil
}

// SignOut revokes the session server-side (best effort), clears the
// persisted session, and emits SIGNED_OUT.
func (a *AuthClient) SignOut(ctx context.Context) error {
	if err := a.base.doJSON(ctx, http.MethodPost, "/auth/v1/logout", nil, true, nil); err != nil {
		// The local session is cleared regardless of the revoke outcome.
		a.log.Warn("server-side logout failed", "error", err)
	}
	if err := a.creds.Clear(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	a.emit(types.AuthEvent{Type: types.AuthSignedOut})
	return nil
}

// OnAuthChange registers a handler and returns its unsubscribe func.
func (a *AuthClient) OnAuthChange(handler func(types.AuthEvent)) func() {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = handler
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

func (a *AuthClient) emit(ev types.AuthEvent) {
	a.mu.Lock()
	handlers := make([]func(types.AuthEvent), 0, len(a.subs))
	for _, h := range a.subs {
		handlers = append(handlers, h)
	}
	a.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
