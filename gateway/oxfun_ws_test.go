package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ox-maker-go/market"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseBestBidAskFrame(t *testing.T) {
	raw := []byte(`{
		"table": "bestBidAsk",
		"data": {"marketCode": "BTC-USD-SWAP-LIN", "ask": ["50100.5", "1.2"], "bid": ["50099.0", "0.8"]}
	}`)
	updates, err := ParseFeedMessage(raw, at)
	require.NoError(t, err)
	require.Len(t, updates, 1)

	u := updates[0]
	assert.Equal(t, "BTC-USD-SWAP-LIN", u.Instrument)
	assert.InDelta(t, 50099.0, u.BestBid, 1e-9)
	assert.InDelta(t, 50100.5, u.BestAsk, 1e-9)
	assert.Zero(t, u.IndexPrice, "bestBidAsk frames carry no index")
	assert.Equal(t, at, u.At)
}

func TestParseTickerFrame(t *testing.T) {
	raw := []byte(`{
		"table": "ticker",
		"data": [
			{"marketCode": "BTC-USD-SWAP-LIN", "indexPrice": "50000", "volume24h": "12345.6"},
			{"marketCode": "ETH-USD-SWAP-LIN", "indexPrice": "3000", "volume24h": "999"}
		]
	}`)
	updates, err := ParseFeedMessage(raw, at)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.InDelta(t, 50000, updates[0].IndexPrice, 1e-9)
	assert.InDelta(t, 999, updates[1].Volume24h, 1e-9)
	assert.Zero(t, updates[0].BestBid, "ticker frames carry no book")
}

func TestParseNonDataFramesIgnored(t *testing.T) {
	for _, raw := range []string{
		`{"event": "subscribe", "channel": "ticker:BTC-USD-SWAP-LIN", "success": true}`,
		`{"table": "unknown-channel", "data": []}`,
	} {
		updates, err := ParseFeedMessage([]byte(raw), at)
		require.NoError(t, err)
		assert.Empty(t, updates)
	}
}

func TestParseGarbageErrors(t *testing.T) {
	_, err := ParseFeedMessage([]byte("not json"), at)
	assert.Error(t, err)
}

func TestApplyOverlaysPartialUpdates(t *testing.T) {
	store := market.NewStore()
	f := NewFeedClient("wss://example", nil, store, zap.NewNop())

	// ticker first: index and volume only
	f.apply(FeedUpdate{Instrument: "BTC-USD-SWAP-LIN", IndexPrice: 50000, Volume24h: 100, At: at})
	// then the book arrives; index must survive the overlay
	f.apply(FeedUpdate{Instrument: "BTC-USD-SWAP-LIN", BestBid: 50099, BestAsk: 50100.5, At: at.Add(time.Second)})

	snap, ok := store.Get("BTC-USD-SWAP-LIN")
	require.True(t, ok)
	assert.InDelta(t, 50000, snap.IndexPrice, 1e-9)
	assert.InDelta(t, 50099, snap.BestBid, 1e-9)
	assert.True(t, snap.Complete())
	assert.Equal(t, at.Add(time.Second), snap.UpdatedAt)
}

func TestSetActiveDeduplicates(t *testing.T) {
	f := NewFeedClient("wss://example", nil, market.NewStore(), zap.NewNop())

	f.SetActive([]string{"B", "A"})
	select {
	case <-f.resubReq:
	default:
		t.Fatal("expected a resubscription request for a new set")
	}

	// same set in different order: no new request
	f.SetActive([]string{"A", "B"})
	select {
	case <-f.resubReq:
		t.Fatal("unchanged set must not trigger resubscription")
	default:
	}
}

func TestResubscribeServesLiveConnection(t *testing.T) {
	// After a reconnect, a SetActive signal must be applied to the current
	// socket, never consumed by a goroutine left over from a dead one.
	var connSeq int32
	type taggedFrame struct {
		conn int
		req  wsRequest
	}
	frames := make(chan taggedFrame, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		id := int(atomic.AddInt32(&connSeq, 1))
		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			frames <- taggedFrame{conn: id, req: req}
			if id == 1 {
				return // drop the first connection right after its subscribe
			}
		}
	}))
	defer srv.Close()

	f := NewFeedClient("ws"+strings.TrimPrefix(srv.URL, "http"),
		[]string{"BTC-USD-SWAP-LIN"}, market.NewStore(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	waitFrame := func(what string) taggedFrame {
		t.Helper()
		select {
		case fr := <-frames:
			return fr
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out waiting for %s", what)
			return taggedFrame{}
		}
	}

	first := waitFrame("first ticker subscribe")
	require.Equal(t, 1, first.conn)
	require.Equal(t, "ticker", first.req.Tag)

	second := waitFrame("ticker subscribe after reconnect")
	require.Equal(t, 2, second.conn)
	require.Equal(t, "ticker", second.req.Tag)

	f.SetActive([]string{"BTC-USD-SWAP-LIN"})
	resub := waitFrame("bestBidAsk resubscription")
	assert.Equal(t, 2, resub.conn, "resubscription must land on the live socket")
	assert.Equal(t, "subscribe", resub.req.Op)
	assert.Equal(t, []string{"bestBidAsk:BTC-USD-SWAP-LIN"}, resub.req.Args)
}

func TestDiffSets(t *testing.T) {
	drop, add := diffSets([]string{"A", "B", "C"}, []string{"B", "D"})
	assert.ElementsMatch(t, []string{"A", "C"}, drop)
	assert.ElementsMatch(t, []string{"D"}, add)
}
