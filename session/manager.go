// Package session implements per-user-broker OAuth state and token
// lifecycle management (SessionManager, spec.md §4.2).
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/models"
)

// ErrTokenExpired is returned by GetToken instead of a stale token.
var ErrTokenExpired = fmt.Errorf("session: token expired")

// RefreshWindow is how far before expiry a refresh is scheduled.
const RefreshWindow = 5 * time.Minute

// RefreshBackoff is how long a failed refresh waits before retrying.
const RefreshBackoff = 30 * time.Second

// Store is the persistence surface SessionManager needs; store.OAuthStore
// and a token table implement it.
type Store interface {
	SaveOAuthState(ctx context.Context, s *models.OAuthState) error
	ConsumeOAuthState(ctx context.Context, state string, now time.Time) (*models.OAuthState, error)
	DeleteExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error)

	SaveToken(ctx context.Context, userBrokerID, token string, expiresAt time.Time) error
	LoadToken(ctx context.Context, userBrokerID string) (token string, expiresAt time.Time, err error)
}

// RefreshFunc re-authenticates a user-broker against its adapter and
// returns the new token and its expiry.
type RefreshFunc func(ctx context.Context, userBrokerID string) (token string, expiresAt time.Time, err error)

// Subscriber receives a refreshed token so it can update a cached adapter
// without forcing a reconnect (spec.md §4.2).
type Subscriber func(userBrokerID, token string)

type sessionState struct {
	token        string
	expiresAt    time.Time
	loginRequired bool
	refreshTimer *time.Timer
}

// Manager is scoped across every user_broker_id it has been asked to
// track; each gets its own cooperative, single-threaded refresh schedule.
type Manager struct {
	mu          sync.Mutex
	store       Store
	refresh     RefreshFunc
	sessions    map[string]*sessionState
	subscribers []Subscriber
}

// NewManager builds a SessionManager backed by store for persistence and
// refresh for adapter re-authentication.
func NewManager(store Store, refresh RefreshFunc) *Manager {
	return &Manager{
		store:    store,
		refresh:  refresh,
		sessions: make(map[string]*sessionState),
	}
}

// Subscribe registers a listener invoked every time a token is refreshed.
func (m *Manager) Subscribe(sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, sub)
}

// Start loads the persisted token for userBrokerID and schedules its
// refresh, or marks LOGIN_REQUIRED if none exists or it expires within 60s.
func (m *Manager) Start(ctx context.Context, userBrokerID string) {
	token, expiresAt, err := m.store.LoadToken(ctx, userBrokerID)
	m.mu.Lock()
	defer m.mu.Unlock()

	state := &sessionState{}
	m.sessions[userBrokerID] = state

	if err != nil || token == "" || time.Until(expiresAt) < 60*time.Second {
		state.loginRequired = true
		log.Warn().Str("user_broker_id", userBrokerID).Msg("login required")
		return
	}

	state.token = token
	state.expiresAt = expiresAt
	m.scheduleRefreshLocked(userBrokerID, state)
}

// GetToken returns the current token, or ErrTokenExpired if none is live —
// callers must never receive a stale token.
func (m *Manager) GetToken(userBrokerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[userBrokerID]
	if !ok || state.loginRequired || state.token == "" || time.Now().After(state.expiresAt) {
		return "", ErrTokenExpired
	}
	return state.token, nil
}

// IsLoginRequired reports whether the user-broker needs operator-driven
// re-authentication before any order can be placed.
func (m *Manager) IsLoginRequired(userBrokerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[userBrokerID]
	return !ok || state.loginRequired
}

func (m *Manager) scheduleRefreshLocked(userBrokerID string, state *sessionState) {
	if state.refreshTimer != nil {
		state.refreshTimer.Stop()
	}
	delay := time.Until(state.expiresAt) - RefreshWindow
	if delay < 0 {
		delay = 0
	}
	state.refreshTimer = time.AfterFunc(delay, func() {
		m.doRefresh(context.Background(), userBrokerID)
	})
}

func (m *Manager) doRefresh(ctx context.Context, userBrokerID string) {
	token, expiresAt, err := m.refresh(ctx, userBrokerID)

	m.mu.Lock()
	state, ok := m.sessions[userBrokerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if err != nil {
		log.Error().Err(err).Str("user_broker_id", userBrokerID).Msg("token refresh failed, retrying")
		state.refreshTimer = time.AfterFunc(RefreshBackoff, func() {
			m.doRefresh(context.Background(), userBrokerID)
		})
		m.mu.Unlock()
		return
	}

	state.token = token
	state.expiresAt = expiresAt
	state.loginRequired = false
	m.scheduleRefreshLocked(userBrokerID, state)
	subs := append([]Subscriber(nil), m.subscribers...)
	m.mu.Unlock()

	if err := m.store.SaveToken(ctx, userBrokerID, token, expiresAt); err != nil {
		log.Error().Err(err).Str("user_broker_id", userBrokerID).Msg("persist refreshed token failed")
	}
	for _, sub := range subs {
		sub(userBrokerID, token)
	}
}

// BeginLogin issues a fresh OAuthState for a broker login handshake,
// persisted so the callback survives a process restart (spec.md §4.2).
func (m *Manager) BeginLogin(ctx context.Context, userID, userBrokerID, brokerCode, redirectURI string) (*models.OAuthState, error) {
	state := &models.OAuthState{
		UserID:       userID,
		UserBrokerID: userBrokerID,
		BrokerCode:   brokerCode,
		State:        uuid.NewString(),
		Status:       models.OAuthStatePending,
		ExpiresAt:    time.Now().Add(15 * time.Minute),
		RedirectURI:  redirectURI,
	}
	if err := m.store.SaveOAuthState(ctx, state); err != nil {
		return nil, fmt.Errorf("session: save oauth state: %w", err)
	}
	return state, nil
}

// CompleteLogin atomically consumes the state token from a callback. A
// state may be consumed at most once.
func (m *Manager) CompleteLogin(ctx context.Context, state string) (*models.OAuthState, error) {
	consumed, err := m.store.ConsumeOAuthState(ctx, state, time.Now())
	if err != nil {
		return nil, fmt.Errorf("session: consume oauth state: %w", err)
	}
	return consumed, nil
}

// SweepExpiredStates deletes OAuthStates past their expiry, called by the
// Scheduler every 10 minutes.
func (m *Manager) SweepExpiredStates(ctx context.Context) (int64, error) {
	return m.store.DeleteExpiredOAuthStates(ctx, time.Now())
}
