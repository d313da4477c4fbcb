// Package broker defines the uniform outbound surface to external brokers
// (BrokerPort, spec.md §4.1) and the concrete adapters that implement it.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/alexherrero/tradecore/models"
)

// ErrorKind is a categorical broker failure, preserved alongside the raw
// broker error message so callers can dispatch without string matching.
type ErrorKind string

const (
	ErrNotAuthenticated ErrorKind = "NOT_AUTHENTICATED"
	ErrRateLimit        ErrorKind = "RATE_LIMIT"
	ErrInvalidOrder     ErrorKind = "INVALID_ORDER"
	ErrConnection       ErrorKind = "CONNECTION"
	ErrTimeout          ErrorKind = "TIMEOUT"
	ErrBrokerRejected   ErrorKind = "BROKER_REJECTED"
)

// Error wraps a broker failure with its kind and the broker's own message.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("broker: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("broker: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Wrap builds a broker Error, matching the teacher's fmt.Errorf("...: %w")
// wrapping idiom but with an explicit typed kind attached.
func Wrap(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// OrderRequest is the port-neutral order placement payload. Adapters
// translate ProductType/OrderType into their own broker vocabulary via a
// per-adapter translation table (SPEC_FULL.md §3).
type OrderRequest struct {
	IntentID    string `validate:"required"`
	Symbol      string `validate:"required"`
	Exchange    string `validate:"required"`
	Direction   models.Direction
	OrderType   models.OrderType
	ProductType models.ProductType
	Validity    models.Validity
	Quantity    int64           `validate:"required,gt=0"`
	LimitPrice  *models.Money
	TriggerPrice *models.Money
}

// OrderAck is what a successful PlaceOrder/ModifyOrder returns.
type OrderAck struct {
	BrokerOrderID string
}

// OrderStatusSnapshot is the broker's current view of one order.
type OrderStatusSnapshot struct {
	BrokerOrderID string
	Status        string // broker-native status string, preserved verbatim
	FilledQty     int64
	AvgPrice      models.Money
	StatusMessage string
}

// Position is one broker-reported open position.
type Position struct {
	Symbol        string
	Quantity      int64
	AvgPrice      models.Money
	LastPrice     models.Money
	ProductType   models.ProductType
}

// Holding is one broker-reported long-term holding (CNC-style, non-MIS).
type Holding struct {
	Symbol   string
	Quantity int64
	AvgPrice models.Money
}

// Funds is the broker's account-level available/used capital snapshot.
type Funds struct {
	Available models.Money
	Used      models.Money
	Total     models.Money
}

// Tick is one inbound market-data update from the broker's streaming feed.
type Tick struct {
	Symbol    string
	LastPrice models.Money
	Open      models.Money
	High      models.Money
	Low       models.Money
	Close     models.Money
	Volume    int64
	Bid       models.Money
	Ask       models.Money
	Timestamp time.Time
}

// TickListener receives ticks from a subscription. Implementations must
// not block; TickIntake wraps listeners in a bounded channel (spec.md §4.3).
type TickListener func(Tick)

// Credentials carries whatever the adapter needs to establish a session;
// content is broker-specific (API key/secret, request token, PIN, TOTP).
type Credentials map[string]string

// Port is the uniform outbound interface every broker adapter implements
// (spec.md §4.1, C1). Concrete adapters: ZERODHA, FYERS, UPSTOX, DHAN, MOCK.
type Port interface {
	Name() string

	Connect(ctx context.Context, creds Credentials) (sessionToken string, err error)
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// CanPlaceOrders returns false when the feed is stale or disconnected;
	// OrderExecutor must refuse new orders while this is false (READ-ONLY).
	CanPlaceOrders() bool

	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	ModifyOrder(ctx context.Context, brokerOrderID string, newPrice *models.Money, newQuantity int64) (*OrderAck, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderStatusSnapshot, error)

	ListOpenOrders(ctx context.Context) ([]OrderStatusSnapshot, error)
	ListPositions(ctx context.Context) ([]Position, error)
	ListHoldings(ctx context.Context) ([]Holding, error)
	GetFunds(ctx context.Context) (*Funds, error)

	GetLTP(ctx context.Context, symbol string) (models.Money, error)
	SubscribeTicks(ctx context.Context, symbols []string, listener TickListener) error
	UnsubscribeTicks(ctx context.Context, symbols []string) error

	GetHistoricalCandles(ctx context.Context, symbol string, timeframe models.Timeframe, from, to time.Time) ([]models.Candle, error)
	GetInstruments(ctx context.Context) ([]models.Instrument, error)
}
