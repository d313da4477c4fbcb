package models

import (
	"strings"
	"time"
)

// UserBrokerRole distinguishes accounts that can receive SignalDeliveries
// and place orders (EXEC) from read-only dashboard-only linkages (VIEW).
type UserBrokerRole string

const (
	RoleExec UserBrokerRole = "EXEC"
	RoleView UserBrokerRole = "VIEW"
)

// UserBrokerStatus mirrors the SessionManager connection state for this
// link (spec.md §4.2).
type UserBrokerStatus string

const (
	UserBrokerConnected     UserBrokerStatus = "CONNECTED"
	UserBrokerDisconnected  UserBrokerStatus = "DISCONNECTED"
	UserBrokerLoginRequired UserBrokerStatus = "LOGIN_REQUIRED"
)

// UserBroker links one user to one broker account: SignalCoordinator's
// eligible-pair enumeration and ExecutionOrchestrator's position sizing
// both read this row (spec.md §4.5, §4.6).
type UserBroker struct {
	Entity

	UserID     string           `json:"user_id" db:"user_id"`
	BrokerCode string           `json:"broker_code" db:"broker_code"`
	Role       UserBrokerRole   `json:"role" db:"role"`
	Status     UserBrokerStatus `json:"status" db:"status"`
	Paused     bool             `json:"paused" db:"paused"`

	// AllowedSymbols is a comma-separated watchlist; "" means all symbols
	// this user-broker's feed provides are allowed.
	AllowedSymbols string `json:"allowed_symbols" db:"allowed_symbols"`

	Capital Money `json:"capital" db:"capital"`

	// CooldownUntil blocks new TradeIntents for this user-broker until the
	// given time (spec.md §4.6 step 2's "cooldown flag") — set after a loss
	// streak or an operator-initiated pause, read-only to ExecutionOrchestrator.
	CooldownUntil *time.Time `json:"cooldown_until,omitempty" db:"cooldown_until"`
}

// InCooldown reports whether now falls before CooldownUntil.
func (ub UserBroker) InCooldown(now time.Time) bool {
	return ub.CooldownUntil != nil && now.Before(*ub.CooldownUntil)
}

// IsEligibleForSignal reports whether this user-broker should receive a
// SignalDelivery for symbol: role EXEC, connected, not paused, and the
// symbol is in its allowed list (or the list is empty, meaning "all").
func (ub UserBroker) IsEligibleForSignal(symbol string) bool {
	if ub.Role != RoleExec {
		return false
	}
	if ub.Status != UserBrokerConnected {
		return false
	}
	if ub.Paused {
		return false
	}
	if ub.AllowedSymbols == "" {
		return true
	}
	for _, s := range strings.Split(ub.AllowedSymbols, ",") {
		if strings.TrimSpace(s) == symbol {
			return true
		}
	}
	return false
}
