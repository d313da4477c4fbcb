package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalType distinguishes entry and scaling signals from exit signals.
type SignalType string

const (
	SignalTypeEntry    SignalType = "ENTRY"
	SignalTypeExit     SignalType = "EXIT"
	SignalTypeScaleIn  SignalType = "SCALE_IN"
	SignalTypeScaleOut SignalType = "SCALE_OUT"
)

// SignalStatus is the Signal lifecycle state (spec.md §4.5).
type SignalStatus string

const (
	SignalStatusActive     SignalStatus = "ACTIVE"
	SignalStatusExpired    SignalStatus = "EXPIRED"
	SignalStatusCancelled  SignalStatus = "CANCELLED"
	SignalStatusSuperseded SignalStatus = "SUPERSEDED"
)

// ConfluenceType is the number of MTF timeframes that agree on a zone.
type ConfluenceType string

const (
	ConfluenceNone   ConfluenceType = "NONE"
	ConfluenceSingle ConfluenceType = "SINGLE"
	ConfluenceDouble ConfluenceType = "DOUBLE"
	ConfluenceTriple ConfluenceType = "TRIPLE"
)

// MTFZone snapshots the HTF/ITF/LTF zone agreement that produced a signal.
type MTFZone struct {
	HTFLow   decimal.Decimal `json:"htf_low" db:"htf_low"`
	HTFHigh  decimal.Decimal `json:"htf_high" db:"htf_high"`
	ITFLow   decimal.Decimal `json:"itf_low" db:"itf_low"`
	ITFHigh  decimal.Decimal `json:"itf_high" db:"itf_high"`
	LTFLow   decimal.Decimal `json:"ltf_low" db:"ltf_low"`
	LTFHigh  decimal.Decimal `json:"ltf_high" db:"ltf_high"`
	ZoneIdx  int             `json:"zone_index" db:"zone_index"`
}

// SignalCandidate is what the out-of-scope MTF analytics collaborator
// returns for a given (symbol, timeframe) pair. The core treats it as a
// pure value: it never computes probability, Kelly sizing, or confluence
// itself (spec.md §1).
type SignalCandidate struct {
	Symbol         string
	Direction      Direction
	SignalType     SignalType
	Zone           MTFZone
	Confluence     ConfluenceType
	ConfluenceScore decimal.Decimal
	PWin           decimal.Decimal
	PFill          decimal.Decimal
	Kelly          decimal.Decimal
	RefPrice       Money
	BidPrice       Money
	AskPrice       Money
	EntryLow       Money
	EntryHigh      Money
	EffectiveFloor Money
	EffectiveCeiling Money
	Reason         string
	ExpiresAt      time.Time
}

// Signal represents one detected trading opportunity on one symbol
// (spec.md §3). SignalCoordinator is the sole writer.
type Signal struct {
	Entity

	Symbol    string     `json:"symbol" db:"symbol"`
	Direction Direction  `json:"direction" db:"direction"`
	SignalType SignalType `json:"signal_type" db:"signal_type"`

	MTFZone    `json:"zone"`
	Confluence ConfluenceType `json:"confluence" db:"confluence_type"`
	ConfluenceScore decimal.Decimal `json:"confluence_score" db:"confluence_score"`

	PWin  decimal.Decimal `json:"p_win" db:"p_win"`
	PFill decimal.Decimal `json:"p_fill" db:"p_fill"`
	Kelly decimal.Decimal `json:"kelly" db:"kelly"`

	RefPrice Money `json:"ref_price" db:"ref_price"`
	BidPrice Money `json:"bid_price" db:"bid_price"`
	AskPrice Money `json:"ask_price" db:"ask_price"`
	EntryLow  Money `json:"entry_low" db:"entry_low"`
	EntryHigh Money `json:"entry_high" db:"entry_high"`

	EffectiveFloor   Money `json:"effective_floor" db:"effective_floor"`
	EffectiveCeiling Money `json:"effective_ceiling" db:"effective_ceiling"`

	Reason string `json:"reason" db:"reason"`

	SignalDay time.Time    `json:"signal_day" db:"signal_day"`
	ExpiresAt time.Time    `json:"expires_at" db:"expires_at"`
	Status    SignalStatus `json:"status" db:"status"`
}

// DedupeKey returns the (symbol, signal_day, signal_type, direction) tuple
// enforced unique in storage for ACTIVE signals (spec.md §4.5, §6).
func (s Signal) DedupeKey() string {
	return s.Symbol + "|" + s.SignalDay.Format("2006-01-02") + "|" + string(s.SignalType) + "|" + string(s.Direction)
}

// IsLive reports whether the signal still counts for dedupe purposes.
func (s Signal) IsLive() bool {
	return s.Status == SignalStatusActive && !s.IsDeleted()
}
