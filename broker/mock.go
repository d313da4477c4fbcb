package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/models"
)

// MockAdapter simulates a broker for dry-run and test sessions, in the
// teacher's PaperBroker style: in-memory order/position book with no
// external calls. Candle fixtures mirror go-binance's Kline shape since
// that is the typed OHLCV model the rest of the pack already carries; no
// live Binance call is ever made here.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	ltp       map[string]models.Money
	orders    map[string]*OrderStatusSnapshot
	positions map[string]Position
	listeners map[string][]TickListener
	limiter   *RateLimiter
}

// NewMockAdapter builds a MOCK adapter with generous rate limits, since it
// never calls a real broker.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		ltp:       make(map[string]models.Money),
		orders:    make(map[string]*OrderStatusSnapshot),
		positions: make(map[string]Position),
		listeners: make(map[string][]TickListener),
		limiter:   NewRateLimiter(1000, 10000, 1000000, 32),
	}
}

func (m *MockAdapter) Name() string { return "MOCK" }

func (m *MockAdapter) Connect(ctx context.Context, creds Credentials) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	log.Info().Str("broker", "MOCK").Msg("mock adapter connected")
	return uuid.NewString(), nil
}

func (m *MockAdapter) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockAdapter) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// CanPlaceOrders mirrors spec.md §4.1: false disconnection forces
// OrderExecutor into READ-ONLY mode.
func (m *MockAdapter) CanPlaceOrders() bool {
	return m.IsConnected()
}

func (m *MockAdapter) SetLTP(symbol string, price models.Money) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ltp[symbol] = price
}

func (m *MockAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	if !m.IsConnected() {
		return nil, Wrap(ErrNotAuthenticated, "mock adapter not connected", nil)
	}
	if !m.limiter.Allow() {
		return nil, Wrap(ErrRateLimit, "mock adapter rate limit", nil)
	}
	if req.Quantity <= 0 {
		return nil, Wrap(ErrInvalidOrder, "quantity must be positive", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	price, ok := m.ltp[req.Symbol]
	if req.OrderType == models.OrderTypeLimit && req.LimitPrice != nil {
		price = *req.LimitPrice
	} else if !ok {
		return nil, Wrap(ErrInvalidOrder, fmt.Sprintf("no price available for %s", req.Symbol), nil)
	}

	brokerOrderID := "mock-" + uuid.NewString()
	m.orders[brokerOrderID] = &OrderStatusSnapshot{
		BrokerOrderID: brokerOrderID,
		Status:        "COMPLETE",
		FilledQty:     req.Quantity,
		AvgPrice:      price,
		StatusMessage: "filled instantly",
	}

	pos := m.positions[req.Symbol]
	signedQty := req.Quantity
	if req.Direction == models.DirectionSell {
		signedQty = -signedQty
	}
	pos.Symbol = req.Symbol
	pos.Quantity += signedQty
	pos.LastPrice = price
	pos.ProductType = req.ProductType
	m.positions[req.Symbol] = pos

	return &OrderAck{BrokerOrderID: brokerOrderID}, nil
}

func (m *MockAdapter) ModifyOrder(ctx context.Context, brokerOrderID string, newPrice *models.Money, newQuantity int64) (*OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.orders[brokerOrderID]
	if !ok {
		return nil, Wrap(ErrInvalidOrder, "unknown order", nil)
	}
	if newQuantity > 0 {
		snap.FilledQty = newQuantity
	}
	if newPrice != nil {
		snap.AvgPrice = *newPrice
	}
	return &OrderAck{BrokerOrderID: brokerOrderID}, nil
}

func (m *MockAdapter) CancelOrder(ctx context.Context, brokerOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.orders[brokerOrderID]
	if !ok {
		return Wrap(ErrInvalidOrder, "unknown order", nil)
	}
	snap.Status = "CANCELLED"
	return nil
}

func (m *MockAdapter) GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderStatusSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.orders[brokerOrderID]
	if !ok {
		return nil, Wrap(ErrInvalidOrder, "unknown order", nil)
	}
	cp := *snap
	return &cp, nil
}

func (m *MockAdapter) ListOpenOrders(ctx context.Context) ([]OrderStatusSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OrderStatusSnapshot
	for _, s := range m.orders {
		if s.Status != "COMPLETE" && s.Status != "CANCELLED" {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *MockAdapter) ListPositions(ctx context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockAdapter) ListHoldings(ctx context.Context) ([]Holding, error) {
	return nil, nil
}

func (m *MockAdapter) GetFunds(ctx context.Context) (*Funds, error) {
	return &Funds{Available: models.NewMoney(1000000), Used: models.NewMoney(0), Total: models.NewMoney(1000000)}, nil
}

func (m *MockAdapter) GetLTP(ctx context.Context, symbol string) (models.Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.ltp[symbol]
	if !ok {
		return models.Money{}, Wrap(ErrInvalidOrder, fmt.Sprintf("no price for %s", symbol), nil)
	}
	return price, nil
}

func (m *MockAdapter) SubscribeTicks(ctx context.Context, symbols []string, listener TickListener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range symbols {
		m.listeners[s] = append(m.listeners[s], listener)
	}
	return nil
}

func (m *MockAdapter) UnsubscribeTicks(ctx context.Context, symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range symbols {
		delete(m.listeners, s)
	}
	return nil
}

// PushTick feeds a synthetic tick to every listener subscribed to the
// symbol, used by test harnesses and dry-run seeding.
func (m *MockAdapter) PushTick(t Tick) {
	m.mu.Lock()
	m.ltp[t.Symbol] = t.LastPrice
	listeners := append([]TickListener(nil), m.listeners[t.Symbol]...)
	m.mu.Unlock()
	for _, l := range listeners {
		l(t)
	}
}

func (m *MockAdapter) GetHistoricalCandles(ctx context.Context, symbol string, timeframe models.Timeframe, from, to time.Time) ([]models.Candle, error) {
	return klinesToCandles(symbol, timeframe, syntheticKlines(symbol, from, to)), nil
}

func (m *MockAdapter) GetInstruments(ctx context.Context) ([]models.Instrument, error) {
	return nil, nil
}

// syntheticKlines produces deterministic go-binance-shaped klines for
// dry-run backfill fixtures, never reaching the network.
func syntheticKlines(symbol string, from, to time.Time) []*binance.Kline {
	var out []*binance.Kline
	base := 100.0
	for t := from; t.Before(to); t = t.Add(time.Minute) {
		out = append(out, &binance.Kline{
			OpenTime:  t.UnixMilli(),
			CloseTime: t.Add(time.Minute).UnixMilli(),
			Open:      fmt.Sprintf("%.2f", base),
			High:      fmt.Sprintf("%.2f", base+0.5),
			Low:       fmt.Sprintf("%.2f", base-0.5),
			Close:     fmt.Sprintf("%.2f", base+0.1),
			Volume:    "100",
		})
		base += 0.1
	}
	return out
}

func klinesToCandles(symbol string, timeframe models.Timeframe, klines []*binance.Kline) []models.Candle {
	out := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, models.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  time.UnixMilli(k.OpenTime),
			CloseTime: time.UnixMilli(k.CloseTime),
			Open:      parseMoney(k.Open),
			High:      parseMoney(k.High),
			Low:       parseMoney(k.Low),
			Close:     parseMoney(k.Close),
			Finalized: true,
		})
	}
	return out
}

func parseMoney(s string) models.Money {
	m, err := models.ParseMoney(s)
	if err != nil {
		return models.Money{}
	}
	return m
}
