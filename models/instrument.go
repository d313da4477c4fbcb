package models

// Instrument is one tradable symbol's per-broker metadata: tick size, lot
// size, and the broker-native instrument token TickIntake subscribes with
// (spec.md §4.11).
type Instrument struct {
	Entity

	Symbol     string `json:"symbol" db:"symbol"`
	BrokerCode string `json:"broker_code" db:"broker_code"`

	BrokerToken string `json:"broker_token" db:"broker_token"`
	Exchange    string `json:"exchange" db:"exchange"`

	TickSize Money `json:"tick_size" db:"tick_size"`
	LotSize  int64 `json:"lot_size" db:"lot_size"`

	Tradable bool `json:"tradable" db:"tradable"`
}
