// internal/auth/manager.go
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/user/threadline/internal/types"
)

// ErrNotSignedIn is returned by RefreshSession when there is no session to
// refresh.
var ErrNotSignedIn = errors.New("not signed in")

const (
	defaultCheckInterval = time.Minute
	defaultRefreshMargin = 5 * time.Minute
)

// State is the manager's position in the session lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateAuthenticated
	StateRefreshing
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Snapshot is an atomic view of the manager's state. Holders always see a
// complete tuple; a token is never visible alongside stale issued fields.
type Snapshot struct {
	State   State
	Session *types.Session
	User    *types.User
	Loading bool
}

// Holder receives state snapshots in the order the underlying events occur.
type Holder func(Snapshot)

// Manager owns the current authentication session. It acquires any
// persisted session on Start, re-checks the expiry margin on a recurring
// schedule, refreshes proactively when the margin is short, applies
// auth-change events reactively, and notifies registered holders on every
// transition. It is the only component that mutates the session.
type Manager struct {
	creds    types.CredentialStore
	interval time.Duration
	margin   time.Duration
	log      *slog.Logger

	// notifyMu is acquired before mu for every state change so holder
	// notifications are delivered in the order changes are applied,
	// without holding mu during the callbacks.
	notifyMu sync.Mutex
	mu       sync.Mutex
	started  bool
	closed   bool
	loading  bool
	session  *types.Session
	// epoch counts applied session changes. A refresh result is discarded
	// unless the epoch still matches the one captured when the attempt
	// began, so a stale completion can never overwrite a newer state.
	epoch      uint64
	refreshing bool
	holders    map[int]Holder
	nextHolder int

	cron  *cron.Cron
	unsub func()
	group singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithCheckInterval sets the recurring health-check period.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithRefreshMargin sets the remaining-lifetime threshold below which the
// health check triggers a refresh.
func WithRefreshMargin(d time.Duration) Option {
	return func(m *Manager) { m.margin = d }
}

// WithLogger sets the manager's logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a Manager over the given credential store. The manager
// is Uninitialized until Start is called.
func NewManager(creds types.CredentialStore, opts ...Option) *Manager {
	m := &Manager{
		creds:    creds,
		interval: defaultCheckInterval,
		margin:   defaultRefreshMargin,
		log:      slog.Default(),
		holders:  make(map[int]Holder),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to auth-change events, begins the startup acquisition of
// any persisted session, and starts the recurring health check. It returns
// immediately; consumers observe the Loading state until the acquisition
// settles. A failed acquisition is logged and treated as Unauthenticated,
// never fatal.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.loading = true
	start := m.epoch
	m.mu.Unlock()

	m.unsub = m.creds.OnAuthChange(m.handleAuthEvent)
	m.startTimer()

	go func() {
		session, err := m.creds.CurrentSession(ctx)
		if err != nil {
			m.log.Warn("session acquisition failed", "error", err)
			session = nil
		}
		if session != nil {
			FillClaims(session)
		}
		m.applyChange(func() bool {
			m.loading = false
			// Only install the loaded session if nothing newer arrived
			// while the acquisition was in flight.
			if m.epoch == start {
				m.session = session
			}
			return true
		})
	}()
}

// startTimer creates and starts the recurring health check. The cron
// instance is owned by the manager's lifecycle: it is torn down on sign-out
// and on Close, and recreated on a later sign-in.
func (m *Manager) startTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTimerLocked()
}

func (m *Manager) startTimerLocked() {
	if m.cron != nil || m.closed {
		return
	}
	c := cron.New()
	if _, err := c.AddFunc("@every "+m.interval.String(), m.healthCheck); err != nil {
		m.log.Error("invalid health-check schedule", "interval", m.interval, "error", err)
		return
	}
	c.Start()
	m.cron = c
}

func (m *Manager) stopTimerLocked() {
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
}

// healthCheck fires on every timer tick. It refreshes when the session's
// remaining lifetime is below the margin. Overlapping fires collapse into
// the in-flight refresh via singleflight.
func (m *Manager) healthCheck() {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session == nil {
		return
	}

	remaining := session.RemainingFor(time.Now())
	if remaining >= m.margin {
		return
	}
	m.log.Debug("session near expiry, refreshing", "remaining", remaining)

	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()
	if err := m.RefreshSession(ctx); err != nil {
		m.log.Warn("proactive refresh failed", "error", err)
	}
}

// RefreshSession replaces the session with a freshly issued one. Concurrent
// calls share a single underlying refresh. On failure it falls back to one
// read of the stored session before concluding Unauthenticated. A result
// that was superseded by a newer state change while in flight is dropped.
func (m *Manager) RefreshSession(ctx context.Context) error {
	_, err, _ := m.group.Do("refresh", func() (any, error) {
		return nil, m.doRefresh(ctx)
	})
	return err
}

func (m *Manager) doRefresh(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNotSignedIn
	}
	start := m.epoch
	m.refreshing = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
	}()

	session, err := m.creds.RefreshSession(ctx)
	if err != nil {
		m.log.Warn("refresh failed, falling back to stored session", "error", err)
		stored, serr := m.creds.CurrentSession(ctx)
		if serr != nil || stored == nil {
			m.applyIfFresh(start, nil)
			return err
		}
		session = stored
	}
	if session != nil {
		FillClaims(session)
	}
	if !m.applyIfFresh(start, session) {
		m.log.Debug("stale refresh result dropped")
	}
	return nil
}

// applyIfFresh installs the session only if no newer state change was
// applied since the epoch was captured. Reports whether it applied.
func (m *Manager) applyIfFresh(start uint64, session *types.Session) bool {
	return m.applyChange(func() bool {
		if m.epoch != start {
			return false
		}
		m.session = session
		return true
	})
}

// handleAuthEvent applies an external auth-change signal. Events always
// win over a concurrently-settling refresh: applying one bumps the epoch,
// which invalidates the in-flight attempt's result.
func (m *Manager) handleAuthEvent(ev types.AuthEvent) {
	switch ev.Type {
	case types.AuthSignedIn, types.AuthTokenRefreshed:
		session := ev.Session
		if session != nil {
			FillClaims(session)
		}
		m.applyChange(func() bool {
			if session == nil && m.session == nil {
				return false
			}
			m.session = session
			if session != nil {
				m.startTimerLocked()
			}
			return true
		})
	case types.AuthSignedOut:
		m.applyChange(func() bool {
			if m.session == nil {
				return false
			}
			m.session = nil
			m.stopTimerLocked()
			return true
		})
	default:
		m.log.Debug("ignoring auth event", "type", ev.Type)
	}
}

// SignOut clears the session, cancels the recurring health check, and
// notifies holders synchronously before returning. The credential store's
// own SIGNED_OUT event, arriving later, finds nothing left to change.
func (m *Manager) SignOut(ctx context.Context) error {
	err := m.creds.SignOut(ctx)
	m.applyChange(func() bool {
		m.session = nil
		m.stopTimerLocked()
		return true
	})
	return err
}

// Subscribe registers a holder and synchronously delivers the current
// snapshot. The returned func unsubscribes.
func (m *Manager) Subscribe(holder Holder) func() {
	m.notifyMu.Lock()
	m.mu.Lock()
	id := m.nextHolder
	m.nextHolder++
	m.holders[id] = holder
	snap := m.snapshotLocked()
	m.mu.Unlock()
	holder(snap)
	m.notifyMu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.holders, id)
		m.mu.Unlock()
	}
}

// Snapshot returns the current atomic view of the session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		Session: m.session,
		Loading: m.loading,
	}
	switch {
	case !m.started:
		snap.State = StateUninitialized
	case m.loading:
		snap.State = StateLoading
	case m.session == nil:
		snap.State = StateUnauthenticated
	case m.refreshing:
		snap.State = StateRefreshing
	default:
		snap.State = StateAuthenticated
	}
	if m.session != nil {
		snap.User = m.session.User
	}
	return snap
}

// Token implements the request layer's token source. It returns the current
// access token, or "" when unauthenticated.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.AccessToken
}

// applyChange runs update under both locks, and when it reports a change,
// bumps the epoch and notifies every holder with the resulting snapshot.
// notifyMu is held across delivery so holders observe changes in order.
func (m *Manager) applyChange(update func() bool) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if !update() {
		m.mu.Unlock()
		return false
	}
	m.epoch++
	snap := m.snapshotLocked()
	holders := make([]Holder, 0, len(m.holders))
	for _, h := range m.holders {
		holders = append(holders, h)
	}
	m.mu.Unlock()

	for _, h := range holders {
		h(snap)
	}
	return true
}

// Close unsubscribes from auth-change events and stops the recurring health
// check. Both must happen on shutdown; a leaked timer is a defect.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopTimerLocked()
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
