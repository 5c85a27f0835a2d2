package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ox-maker-go/order"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*OXFunClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewOXFunClient(srv.URL, "test-key", "test-secret", nil)
	c.HTTPClient = srv.Client()
	return c, srv
}

func TestPlaceOrderSignsAndParses(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v3/orders/place", r.URL.Path)
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    []map[string]interface{}{{"orderId": 100001, "success": true}},
		})
	})

	id, err := c.PlaceOrder(context.Background(), "BTC-USD-SWAP-LIN", order.SideBuy, 50099.5, 0.01)
	require.NoError(t, err)
	assert.Equal(t, "100001", id)

	// the server can re-derive the signature from what it received
	u, _ := url.Parse(srv.URL)
	want := Sign("test-secret",
		gotHeader.Get("Timestamp"), gotHeader.Get("Nonce"),
		http.MethodPost, u.Host, "/v3/orders/place", string(gotBody))
	assert.Equal(t, want, gotHeader.Get("Signature"))
	assert.Equal(t, "test-key", gotHeader.Get("AccessKey"))

	var body struct {
		Orders []struct {
			MarketCode string `json:"marketCode"`
			Side       string `json:"side"`
			Quantity   string `json:"quantity"`
			Price      string `json:"price"`
			OrderType  string `json:"orderType"`
		} `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &body))
	require.Len(t, body.Orders, 1)
	assert.Equal(t, "BTC-USD-SWAP-LIN", body.Orders[0].MarketCode)
	assert.Equal(t, "BUY", body.Orders[0].Side)
	assert.Equal(t, "0.01", body.Orders[0].Quantity)
	assert.Equal(t, "LIMIT", body.Orders[0].OrderType)
}

func TestPlaceOrderRejection(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": []map[string]interface{}{
				{"clientOrderId": 1, "success": false, "message": "FAILED balance check"},
			},
		})
	})
	_, err := c.PlaceOrder(context.Background(), "BTC-USD-SWAP-LIN", order.SideBuy, 1, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FAILED balance check")
}

func TestEnvelopeFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"message": "signature invalid",
		})
	})
	_, err := c.OpenOrders(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature invalid")
}

func TestOpenOrdersParsesWorkingOrders(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v3/orders/working", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": []map[string]interface{}{
				{"orderId": 1, "marketCode": "BTC-USD-SWAP-LIN", "side": "BUY",
					"price": "50099.5", "quantity": "0.01", "remainQuantity": "0.004"},
				{"orderId": 2, "marketCode": "ETH-USD-SWAP-LIN", "side": "sell",
					"price": "3000.1", "quantity": "0.5"},
			},
		})
	})

	orders, err := c.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, "1", orders[0].ID)
	assert.Equal(t, order.SideBuy, orders[0].Side)
	assert.InDelta(t, 0.004, orders[0].Size, 1e-9, "remaining quantity wins over original")
	assert.Equal(t, order.SideSell, orders[1].Side, "side is normalized to upper case")
	assert.InDelta(t, 0.5, orders[1].Size, 1e-9)
	assert.Equal(t, order.StatusOpen, orders[0].Status)
}

func TestPositionsSkipsFlat(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/positions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": []map[string]interface{}{
				{"positions": []map[string]interface{}{
					{"marketCode": "BTC-USD-SWAP-LIN", "position": "-0.02", "entryPrice": "50000"},
					{"marketCode": "ETH-USD-SWAP-LIN", "position": "0", "entryPrice": "0"},
				}},
			},
		})
	})

	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC-USD-SWAP-LIN", positions[0].Instrument)
	assert.InDelta(t, -0.02, positions[0].Size, 1e-9)
}

func TestCancelAllHitsEndpoint(t *testing.T) {
	var gotPath, gotMethod string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": map[string]string{}})
	})

	require.NoError(t, c.CancelAll(context.Background(), "BTC-USD-SWAP-LIN"))
	assert.Equal(t, "/v3/orders/cancel-all", gotPath)
	assert.Equal(t, http.MethodDelete, gotMethod)
}

func TestContextCancellationAborts(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": []string{}})
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.OpenOrders(ctx)
	assert.Error(t, err)
}
