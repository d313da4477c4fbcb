package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/models"
)

// Code names a supported broker variant (spec.md §4.1).
type Code string

const (
	CodeZerodha Code = "ZERODHA"
	CodeFyers   Code = "FYERS"
	CodeUpstox  Code = "UPSTOX"
	CodeDhan    Code = "DHAN"
	CodeMock    Code = "MOCK"
)

// productTable translates the canonical ProductType into a broker's native
// order-product code.
type productTable map[models.ProductType]string

var defaultProductTable = productTable{
	models.ProductCNC:  "CNC",
	models.ProductMIS:  "MIS",
	models.ProductNRML: "NRML",
	models.ProductMTF:  "NRML", // most brokers fold MTF into NRML margin product
	models.ProductBO:   "BO",
	models.ProductCO:   "CO",
}

// dhanProductTable resolves Open Question (b): Dhan exposes MTF as its own
// margin-trade-funding product distinct from NRML, unlike the other three.
var dhanProductTable = productTable{
	models.ProductCNC:  "CNC",
	models.ProductMIS:  "INTRADAY",
	models.ProductNRML: "MARGIN",
	models.ProductMTF:  "MTF",
	models.ProductBO:   "BO",
	models.ProductCO:   "CO",
}

// restAdapter is the shared skeleton for the four live-broker variants.
// None of them have a shape already in the retrieval pack (the teacher
// only ever implemented a paper broker), so the HTTP transport is built on
// net/http directly — justified in DESIGN.md as there being no ecosystem
// REST client in the pack for any of these broker APIs.
type restAdapter struct {
	code       Code
	baseURL    string
	httpClient *http.Client
	table      productTable
	limiter    *RateLimiter

	token     string
	connected bool
}

func newRestAdapter(code Code, baseURL string, table productTable) *restAdapter {
	return &restAdapter{
		code:       code,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		table:      table,
		limiter:    NewRateLimiter(10, 200, 5000, 4),
	}
}

// NewZerodhaAdapter builds the ZERODHA variant of Port.
func NewZerodhaAdapter(baseURL string) Port { return newRestAdapter(CodeZerodha, baseURL, defaultProductTable) }

// NewFyersAdapter builds the FYERS variant of Port.
func NewFyersAdapter(baseURL string) Port { return newRestAdapter(CodeFyers, baseURL, defaultProductTable) }

// NewUpstoxAdapter builds the UPSTOX variant of Port.
func NewUpstoxAdapter(baseURL string) Port { return newRestAdapter(CodeUpstox, baseURL, defaultProductTable) }

// NewDhanAdapter builds the DHAN variant of Port, with its own MTF/NRML
// product-code split.
func NewDhanAdapter(baseURL string) Port { return newRestAdapter(CodeDhan, baseURL, dhanProductTable) }

func (r *restAdapter) Name() string { return string(r.code) }

func (r *restAdapter) Connect(ctx context.Context, creds Credentials) (string, error) {
	release, err := r.limiter.Acquire(ctx)
	if err != nil {
		return "", Wrap(ErrTimeout, "connect interrupted", err)
	}
	defer release()

	body, _ := json.Marshal(creds)
	resp, err := r.post(ctx, "/session/token", body)
	if err != nil {
		return "", Wrap(ErrConnection, "connect failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return "", Wrap(ErrNotAuthenticated, "credentials rejected", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Wrap(ErrBrokerRejected, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	var payload struct {
		Token string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", Wrap(ErrConnection, "malformed token response", err)
	}
	r.token = payload.Token
	r.connected = true
	log.Info().Str("broker", string(r.code)).Msg("adapter connected")
	return r.token, nil
}

func (r *restAdapter) Disconnect(ctx context.Context) error {
	r.connected = false
	r.token = ""
	return nil
}

func (r *restAdapter) IsConnected() bool { return r.connected }

func (r *restAdapter) CanPlaceOrders() bool { return r.connected }

func (r *restAdapter) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	return r.httpClient.Do(req)
}

func (r *restAdapter) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	return r.httpClient.Do(req)
}

func (r *restAdapter) translateProduct(p models.ProductType) (string, error) {
	code, ok := r.table[p]
	if !ok {
		return "", Wrap(ErrInvalidOrder, fmt.Sprintf("%s unsupported for %s", p, r.code), nil)
	}
	return code, nil
}

func (r *restAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	if !r.connected {
		return nil, Wrap(ErrNotAuthenticated, "not connected", nil)
	}
	if !r.limiter.Allow() {
		return nil, Wrap(ErrRateLimit, "adapter rate limit exceeded", nil)
	}
	productCode, err := r.translateProduct(req.ProductType)
	if err != nil {
		return nil, err
	}
	release, err := r.limiter.Acquire(ctx)
	if err != nil {
		return nil, Wrap(ErrTimeout, "place order interrupted", err)
	}
	defer release()

	payload, _ := json.Marshal(map[string]any{
		"symbol":       req.Symbol,
		"exchange":     req.Exchange,
		"side":         req.Direction,
		"order_type":   req.OrderType,
		"product":      productCode,
		"quantity":     req.Quantity,
		"tag":          req.IntentID,
	})
	resp, err := r.post(ctx, "/orders", payload)
	if err != nil {
		return nil, Wrap(ErrConnection, "place order request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, Wrap(ErrConnection, "broker 5xx", nil)
	}
	if resp.StatusCode >= 400 {
		return nil, Wrap(ErrBrokerRejected, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Wrap(ErrConnection, "malformed order response", err)
	}
	return &OrderAck{BrokerOrderID: out.OrderID}, nil
}

func (r *restAdapter) ModifyOrder(ctx context.Context, brokerOrderID string, newPrice *models.Money, newQuantity int64) (*OrderAck, error) {
	payload, _ := json.Marshal(map[string]any{"order_id": brokerOrderID, "price": newPrice, "quantity": newQuantity})
	resp, err := r.post(ctx, "/orders/modify", payload)
	if err != nil {
		return nil, Wrap(ErrConnection, "modify order failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, Wrap(ErrBrokerRejected, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	return &OrderAck{BrokerOrderID: brokerOrderID}, nil
}

func (r *restAdapter) CancelOrder(ctx context.Context, brokerOrderID string) error {
	resp, err := r.post(ctx, "/orders/"+brokerOrderID+"/cancel", nil)
	if err != nil {
		return Wrap(ErrConnection, "cancel order failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Wrap(ErrBrokerRejected, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	return nil
}

func (r *restAdapter) GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderStatusSnapshot, error) {
	resp, err := r.get(ctx, "/orders/"+brokerOrderID)
	if err != nil {
		return nil, Wrap(ErrConnection, "order status request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, Wrap(ErrInvalidOrder, "unknown order", nil)
	}
	var snap OrderStatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, Wrap(ErrConnection, "malformed status response", err)
	}
	return &snap, nil
}

func (r *restAdapter) ListOpenOrders(ctx context.Context) ([]OrderStatusSnapshot, error) {
	resp, err := r.get(ctx, "/orders?status=open")
	if err != nil {
		return nil, Wrap(ErrConnection, "list orders failed", err)
	}
	defer resp.Body.Close()
	var out []OrderStatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Wrap(ErrConnection, "malformed orders response", err)
	}
	return out, nil
}

func (r *restAdapter) ListPositions(ctx context.Context) ([]Position, error) {
	resp, err := r.get(ctx, "/positions")
	if err != nil {
		return nil, Wrap(ErrConnection, "list positions failed", err)
	}
	defer resp.Body.Close()
	var out []Position
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Wrap(ErrConnection, "malformed positions response", err)
	}
	return out, nil
}

func (r *restAdapter) ListHoldings(ctx context.Context) ([]Holding, error) {
	resp, err := r.get(ctx, "/holdings")
	if err != nil {
		return nil, Wrap(ErrConnection, "list holdings failed", err)
	}
	defer resp.Body.Close()
	var out []Holding
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Wrap(ErrConnection, "malformed holdings response", err)
	}
	return out, nil
}

func (r *restAdapter) GetFunds(ctx context.Context) (*Funds, error) {
	resp, err := r.get(ctx, "/funds")
	if err != nil {
		return nil, Wrap(ErrConnection, "funds request failed", err)
	}
	defer resp.Body.Close()
	var out Funds
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Wrap(ErrConnection, "malformed funds response", err)
	}
	return &out, nil
}

func (r *restAdapter) GetLTP(ctx context.Context, symbol string) (models.Money, error) {
	resp, err := r.get(ctx, "/quote/ltp?symbol="+symbol)
	if err != nil {
		return models.Money{}, Wrap(ErrConnection, "ltp request failed", err)
	}
	defer resp.Body.Close()
	var out struct {
		LTP string `json:"ltp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Money{}, Wrap(ErrConnection, "malformed ltp response", err)
	}
	return models.ParseMoney(out.LTP)
}

// SubscribeTicks/UnsubscribeTicks are left to a per-adapter streaming
// client (websocket) wired in by SessionManager when a live session is
// established; the REST skeleton here only covers the order/account
// surface spec.md §4.1 groups alongside it.
func (r *restAdapter) SubscribeTicks(ctx context.Context, symbols []string, listener TickListener) error {
	return Wrap(ErrConnection, "streaming not wired for this adapter instance", nil)
}

func (r *restAdapter) UnsubscribeTicks(ctx context.Context, symbols []string) error {
	return nil
}

func (r *restAdapter) GetHistoricalCandles(ctx context.Context, symbol string, timeframe models.Timeframe, from, to time.Time) ([]models.Candle, error) {
	resp, err := r.get(ctx, fmt.Sprintf("/historical/%s?tf=%s&from=%s&to=%s", symbol, timeframe, from.Format(time.RFC3339), to.Format(time.RFC3339)))
	if err != nil {
		return nil, Wrap(ErrConnection, "historical candles request failed", err)
	}
	defer resp.Body.Close()
	var out []models.Candle
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Wrap(ErrConnection, "malformed candles response", err)
	}
	return out, nil
}

func (r *restAdapter) GetInstruments(ctx context.Context) ([]models.Instrument, error) {
	resp, err := r.get(ctx, "/instruments")
	if err != nil {
		return nil, Wrap(ErrConnection, "instruments request failed", err)
	}
	defer resp.Body.Close()
	var out []models.Instrument
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Wrap(ErrConnection, "malformed instruments response", err)
	}
	return out, nil
}

// NewAdapter is the broker-code factory (mirrors the teacher's provider
// factory pattern in data/providers/factory.go).
func NewAdapter(code Code, baseURL string) (Port, error) {
	switch code {
	case CodeZerodha:
		return NewZerodhaAdapter(baseURL), nil
	case CodeFyers:
		return NewFyersAdapter(baseURL), nil
	case CodeUpstox:
		return NewUpstoxAdapter(baseURL), nil
	case CodeDhan:
		return NewDhanAdapter(baseURL), nil
	case CodeMock:
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported broker code: %s", code)
	}
}
