package gateway

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ox-maker-go/inventory"
	"ox-maker-go/order"
)

// OXFunClient is a signed REST client for api.ox.fun v3. All methods take a
// context so the reconciliation loop can bound each call well under its
// tick interval. HTTPClient is injectable for httptest.
type OXFunClient struct {
	BaseURL    string // e.g. https://api.ox.fun
	APIKey     string
	APISecret  string
	HTTPClient *http.Client
	Limiter    RateLimiter

	// clock/nonce hooks for tests
	now   func() time.Time
	nonce func() string
}

func NewOXFunClient(baseURL, apiKey, apiSecret string, limiter RateLimiter) *OXFunClient {
	return &OXFunClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		APISecret:  apiSecret,
		HTTPClient: NewDefaultHTTPClient(),
		Limiter:    limiter,
	}
}

// NewDefaultHTTPClient provides an http.Client with a hard timeout as a
// second line of defense behind per-call contexts.
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type placedOrder struct {
	OrderID       json.Number `json:"orderId"`
	ClientOrderID json.Number `json:"clientOrderId"`
	Success       *bool       `json:"success"`
	Message       string      `json:"message"`
}

type workingOrder struct {
	OrderID        json.Number `json:"orderId"`
	MarketCode     string      `json:"marketCode"`
	Side           string      `json:"side"`
	Price          json.Number `json:"price"`
	Quantity       json.Number `json:"quantity"`
	RemainQuantity json.Number `json:"remainQuantity"`
}

type accountPositions struct {
	Positions []struct {
		MarketCode string      `json:"marketCode"`
		Position   json.Number `json:"position"`
		EntryPrice json.Number `json:"entryPrice"`
	} `json:"positions"`
}

// PlaceOrder submits one GTC LIMIT order and returns the exchange order id.
func (c *OXFunClient) PlaceOrder(ctx context.Context, instrument string, side order.Side, price, size float64) (string, error) {
	o := map[string]interface{}{
		"clientOrderId": clientOrderID(),
		"marketCode":    instrument,
		"side":          string(side),
		"quantity":      trimFloat(size),
		"price":         trimFloat(price),
		"timeInForce":   "GTC",
		"orderType":     "LIMIT",
	}
	return c.placeOne(ctx, o)
}

// ClosePosition flattens with a MARKET order on the given side.
func (c *OXFunClient) ClosePosition(ctx context.Context, instrument string, side order.Side, size float64) error {
	o := map[string]interface{}{
		"clientOrderId": clientOrderID(),
		"marketCode":    instrument,
		"side":          string(side),
		"quantity":      trimFloat(size),
		"orderType":     "MARKET",
	}
	_, err := c.placeOne(ctx, o)
	return err
}

func (c *OXFunClient) placeOne(ctx context.Context, o map[string]interface{}) (string, error) {
	body := map[string]interface{}{
		"recvWindow":   20000,
		"responseType": "FULL",
		"timestamp":    c.timeNow().UnixMilli(),
		"orders":       []interface{}{o},
	}
	raw, err := c.do(ctx, http.MethodPost, "/v3/orders/place", "", body)
	if err != nil {
		return "", err
	}
	var placed []placedOrder
	if err := json.Unmarshal(raw, &placed); err != nil {
		return "", fmt.Errorf("decode place response: %w", err)
	}
	if len(placed) == 0 {
		return "", fmt.Errorf("empty place response")
	}
	p := placed[0]
	if p.Success != nil && !*p.Success {
		return "", fmt.Errorf("order rejected: %s", p.Message)
	}
	if p.OrderID.String() == "" {
		return "", fmt.Errorf("missing orderId in place response")
	}
	return p.OrderID.String(), nil
}

// CancelOrder cancels a single order by id.
func (c *OXFunClient) CancelOrder(ctx context.Context, instrument, orderID string) error {
	body := map[string]interface{}{
		"timestamp":    c.timeNow().UnixMilli(),
		"responseType": "FULL",
		"orders": []interface{}{
			map[string]interface{}{
				"marketCode": instrument,
				"orderId":    orderID,
			},
		},
	}
	_, err := c.do(ctx, http.MethodDelete, "/v3/orders/cancel", "", body)
	return err
}

// CancelAll cancels every working order for one instrument.
func (c *OXFunClient) CancelAll(ctx context.Context, instrument string) error {
	body := map[string]interface{}{"marketCode": instrument}
	_, err := c.do(ctx, http.MethodDelete, "/v3/orders/cancel-all", "", body)
	return err
}

// OpenOrders returns all working orders, the authoritative resting-order
// read for reconciliation.
func (c *OXFunClient) OpenOrders(ctx context.Context) ([]order.ActiveOrder, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v3/orders/working", "", nil)
	if err != nil {
		return nil, err
	}
	var working []workingOrder
	if err := json.Unmarshal(raw, &working); err != nil {
		return nil, fmt.Errorf("decode working orders: %w", err)
	}
	out := make([]order.ActiveOrder, 0, len(working))
	for _, w := range working {
		size := numFloat(w.RemainQuantity)
		if size == 0 {
			size = numFloat(w.Quantity)
		}
		out = append(out, order.ActiveOrder{
			ID:         w.OrderID.String(),
			Instrument: w.MarketCode,
			Side:       order.Side(strings.ToUpper(w.Side)),
			Price:      numFloat(w.Price),
			Size:       size,
			Status:     order.StatusOpen,
		})
	}
	return out, nil
}

// Positions returns the authoritative position set across all instruments.
func (c *OXFunClient) Positions(ctx context.Context) ([]inventory.Position, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v3/positions", "", nil)
	if err != nil {
		return nil, err
	}
	var accounts []accountPositions
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	var out []inventory.Position
	for _, acct := range accounts {
		for _, p := range acct.Positions {
			size := numFloat(p.Position)
			if size == 0 {
				continue
			}
			out = append(out, inventory.Position{
				Instrument: p.MarketCode,
				Size:       size,
				EntryPrice: numFloat(p.EntryPrice),
			})
		}
	}
	return out, nil
}

func (c *OXFunClient) do(ctx context.Context, method, path, query string, body interface{}) (json.RawMessage, error) {
	if c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		c.Limiter.Wait()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	host := c.BaseURL
	if u, err := url.Parse(c.BaseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	ts := c.timeNow().UTC().Format(signTimeLayout)
	nonce := c.nonceNow()
	signed := query
	if body != nil {
		signed = string(payload)
	}
	sig := Sign(c.APISecret, ts, nonce, method, host, path, signed)

	endpoint := c.BaseURL + path
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	for k, v := range AuthHeaders(c.APIKey, sig, ts, nonce) {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s status %d", method, path, resp.StatusCode)
	}
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("%s %s failed: %s", method, path, env.Message)
	}
	return env.Data, nil
}

func (c *OXFunClient) timeNow() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *OXFunClient) nonceNow() string {
	if c.nonce != nil {
		return c.nonce()
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func clientOrderID() string {
	// The venue wants a numeric client id; derive one from random uuid
	// bytes so ids stay collision free across restarts.
	u := uuid.New()
	n := binary.BigEndian.Uint64(u[:8]) & math.MaxInt64
	return strconv.FormatUint(n, 10)
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func numFloat(n json.Number) float64 {
	f, _ := n.Float64()
	return f
}
