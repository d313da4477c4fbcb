package models

import "time"

// OAuthStateStatus tracks a broker login handshake from redirect to token
// exchange (spec.md §4.10, C2 SessionManager).
type OAuthStateStatus string

const (
	OAuthStatePending   OAuthStateStatus = "PENDING"
	OAuthStateConsumed  OAuthStateStatus = "CONSUMED"
	OAuthStateExpired   OAuthStateStatus = "EXPIRED"
)

// OAuthState is the CSRF-bearing nonce issued when a user starts a broker
// login flow, consumed exactly once on callback.
type OAuthState struct {
	Entity

	UserID       string `json:"user_id" db:"user_id"`
	UserBrokerID string `json:"user_broker_id" db:"user_broker_id"`
	BrokerCode   string `json:"broker_code" db:"broker_code"`

	State     string           `json:"state" db:"state"` // random nonce, unique
	Status    OAuthStateStatus `json:"status" db:"status"`
	ExpiresAt time.Time        `json:"expires_at" db:"expires_at"`

	RedirectURI string `json:"redirect_uri" db:"redirect_uri"`
}

// IsUsable reports whether the state can still be consumed by a callback.
func (s OAuthState) IsUsable(now time.Time) bool {
	return s.Status == OAuthStatePending && now.Before(s.ExpiresAt) && !s.IsDeleted()
}
