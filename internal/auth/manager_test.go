// internal/auth/manager_test.go
package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/threadline/internal/types"
)

// fakeCreds is an in-memory credential store for manager tests.
type fakeCreds struct {
	mu       sync.Mutex
	stored   *types.Session
	next     *types.Session
	nextErr  error
	loadErr  error
	block    chan struct{}
	handlers []func(types.AuthEvent)

	refreshCalls atomic.Int32
}

func (f *fakeCreds) CurrentSession(_ context.Context) (*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.stored, nil
}

func (f *fakeCreds) RefreshSession(_ context.Context) (*types.Session, error) {
	f.refreshCalls.Add(1)
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		return nil, f.nextErr
	}
	f.stored = f.next
	return f.next, nil
}

func (f *fakeCreds) SignOut(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = nil
	return nil
}

func (f *fakeCreds) OnAuthChange(handler func(types.AuthEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
	return func() {}
}

func (f *fakeCreds) emit(ev types.AuthEvent) {
	f.mu.Lock()
	handlers := append([]func(types.AuthEvent){}, f.handlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func sessionExpiring(in time.Duration) *types.Session {
	return &types.Session{
		AccessToken:  "tok-" + in.String(),
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(in),
		User:         &types.User{ID: "user-1", Email: "u@example.com"},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			t.Fatal("condition not met within 2s")
		case <-ticker.C:
			if cond() {
				return
			}
		}
	}
}

func startedManager(t *testing.T, creds *fakeCreds, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(creds, opts...)
	m.Start(context.Background())
	t.Cleanup(m.Close)
	waitFor(t, func() bool { return !m.Snapshot().Loading })
	return m
}

func TestStartLoadsPersistedSession(t *testing.T) {
	creds := &fakeCreds{stored: sessionExpiring(time.Hour)}
	m := startedManager(t, creds)

	snap := m.Snapshot()
	if snap.State != StateAuthenticated {
		t.Fatalf("state = %s, want authenticated", snap.State)
	}
	if snap.User == nil || snap.User.ID != "user-1" {
		t.Fatalf("user = %+v, want user-1", snap.User)
	}
	if m.Token() == "" {
		t.Fatal("expected a token")
	}
}

func TestStartWithoutSession(t *testing.T) {
	m := startedManager(t, &fakeCreds{})
	if got := m.Snapshot().State; got != StateUnauthenticated {
		t.Fatalf("state = %s, want unauthenticated", got)
	}
}

func TestStartAcquisitionFailureIsNotFatal(t *testing.T) {
	creds := &fakeCreds{loadErr: errors.New("disk on fire")}
	m := startedManager(t, creds)
	if got := m.Snapshot().State; got != StateUnauthenticated {
		t.Fatalf("state = %s, want unauthenticated", got)
	}
}

func TestHealthCheckRefreshesNearExpiry(t *testing.T) {
	creds := &fakeCreds{stored: sessionExpiring(4 * time.Minute)}
	creds.next = sessionExpiring(time.Hour)
	m := startedManager(t, creds)

	m.healthCheck()

	if got := creds.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	snap := m.Snapshot()
	if snap.Session == nil || snap.Session.AccessToken != creds.next.AccessToken {
		t.Fatal("session was not replaced by the refreshed one")
	}
}

func TestHealthCheckSkipsWideMargin(t *testing.T) {
	creds := &fakeCreds{stored: sessionExpiring(10 * time.Minute)}
	m := startedManager(t, creds)

	m.healthCheck()

	if got := creds.refreshCalls.Load(); got != 0 {
		t.Fatalf("refresh calls = %d, want 0", got)
	}
}

func TestRefreshFailureFallsBackToStoredSession(t *testing.T) {
	stored := sessionExpiring(time.Hour)
	creds := &fakeCreds{stored: stored, nextErr: errors.New("503 from token endpoint")}
	m := startedManager(t, creds)

	if err := m.RefreshSession(context.Background()); err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	snap := m.Snapshot()
	if snap.State != StateAuthenticated {
		t.Fatalf("state = %s, want authenticated", snap.State)
	}
	if snap.Session.AccessToken != stored.AccessToken {
		t.Fatal("expected the stored session to survive the failed refresh")
	}
}

func TestRefreshTerminalFailure(t *testing.T) {
	creds := &fakeCreds{stored: sessionExpiring(time.Hour), nextErr: errors.New("refresh token revoked")}
	m := startedManager(t, creds)

	// The fallback read finds nothing either.
	creds.mu.Lock()
	creds.stored = nil
	creds.mu.Unlock()

	if err := m.RefreshSession(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if got := m.Snapshot().State; got != StateUnauthenticated {
		t.Fatalf("state = %s, want unauthenticated", got)
	}
}

func TestStaleRefreshDoesNotResurrectSignedOutSession(t *testing.T) {
	creds := &fakeCreds{stored: sessionExpiring(time.Hour)}
	creds.next = sessionExpiring(2 * time.Hour)
	creds.block = make(chan struct{})
	m := startedManager(t, creds)

	done := make(chan error, 1)
	go func() { done <- m.RefreshSession(context.Background()) }()
	waitFor(t, func() bool { return creds.refreshCalls.Load() == 1 })

	if err := m.SignOut(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Let the in-flight refresh settle after the sign-out.
	close(creds.block)
	<-done

	if got := m.Snapshot().Session; got != nil {
		t.Fatalf("stale refresh resurrected session %q", got.AccessToken)
	}
	if got := m.Snapshot().State; got != StateUnauthenticated {
		t.Fatalf("state = %s, want unauthenticated", got)
	}
}

func TestSignOutStopsTimerAndNotifiesSynchronously(t *testing.T) {
	creds := &fakeCreds{stored: sessionExpiring(time.Hour)}
	m := startedManager(t, creds)

	var notified atomic.Bool
	unsub := m.Subscribe(func(snap Snapshot) {
		if snap.State == StateUnauthenticated {
			notified.Store(true)
		}
	})
	defer unsub()

	if err := m.SignOut(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !notified.Load() {
		t.Fatal("holders were not notified before SignOut returned")
	}

	m.mu.Lock()
	timer := m.cron
	m.mu.Unlock()
	if timer != nil {
		t.Fatal("recurring health check still running after sign-out")
	}

	// No further refresh side effects after sign-out.
	m.healthCheck()
	if got := creds.refreshCalls.Load(); got != 0 {
		t.Fatalf("refresh calls after sign-out = %d, want 0", got)
	}
}

func TestAuthEventRestartsTimerOnSignIn(t *testing.T) {
	creds := &fakeCreds{stored: sessionExpiring(time.Hour)}
	m := startedManager(t, creds)

	if err := m.SignOut(context.Background()); err != nil {
		t.Fatal(err)
	}

	creds.emit(types.AuthEvent{Type: types.AuthSignedIn, Session: sessionExpiring(time.Hour)})

	snap := m.Snapshot()
	if snap.State != StateAuthenticated {
		t.Fatalf("state = %s, want authenticated", snap.State)
	}
	m.mu.Lock()
	timer := m.cron
	m.mu.Unlock()
	if timer == nil {
		t.Fatal("health check not restarted on sign-in")
	}
}

func TestSubscribeDeliversSnapshotsInEventOrder(t *testing.T) {
	creds := &fakeCreds{}
	m := startedManager(t, creds)

	var mu sync.Mutex
	var states []State
	unsub := m.Subscribe(func(snap Snapshot) {
		mu.Lock()
		states = append(states, snap.State)
		mu.Unlock()
	})
	defer unsub()

	creds.emit(types.AuthEvent{Type: types.AuthSignedIn, Session: sessionExpiring(time.Hour)})
	creds.emit(types.AuthEvent{Type: types.AuthSignedOut})

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateUnauthenticated, StateAuthenticated, StateUnauthenticated}
	if len(states) != len(want) {
		t.Fatalf("got %d notifications, want %d (%v)", len(states), len(want), states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("notification %d = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestCloseStopsTimer(t *testing.T) {
	creds := &fakeCreds{stored: sessionExpiring(time.Hour)}
	m := startedManager(t, creds)
	m.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		t.Fatal("recurring health check leaked past Close")
	}
}
