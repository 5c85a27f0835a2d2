package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ox-maker-go/market"
)

// FeedClient consumes the ox.fun v2 websocket and writes snapshots into the
// market store. It subscribes ticker for the whole universe (index price and
// volume) and bestBidAsk only for the currently active set; the engine
// updates the active set through SetActive. The feed never calls into the
// reconciliation loop directly.
type FeedClient struct {
	URL      string
	Universe []string
	Store    *market.Store
	Logger   *zap.Logger
	Dialer   *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	active   []string
	resubReq chan struct{}
}

func NewFeedClient(wsURL string, universe []string, store *market.Store, log *zap.Logger) *FeedClient {
	return &FeedClient{
		URL:      wsURL,
		Universe: universe,
		Store:    store,
		Logger:   log,
		Dialer:   websocket.DefaultDialer,
		resubReq: make(chan struct{}, 1),
	}
}

// SetActive swaps the bestBidAsk subscription set. Safe to call from the
// reconciliation loop; the change is applied by the feed goroutine.
func (f *FeedClient) SetActive(instruments []string) {
	next := append([]string(nil), instruments...)
	sort.Strings(next)
	f.mu.Lock()
	same := strings.Join(next, ",") == strings.Join(f.active, ",")
	if !same {
		f.active = next
	}
	f.mu.Unlock()
	if !same {
		select {
		case f.resubReq <- struct{}{}:
		default:
		}
	}
}

// Run connects and consumes until ctx is done, reconnecting with a bounded
// backoff. Snapshot writes are last-write-wins into the store.
func (f *FeedClient) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := f.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.Logger.Warn("feed disconnected", zap.Error(err), zap.Duration("retry_in", backoff))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *FeedClient) runOnce(ctx context.Context) error {
	conn, _, err := f.Dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.URL, err)
	}
	defer conn.Close()
	f.mu.Lock()
	f.conn = conn
	active := append([]string(nil), f.active...)
	f.mu.Unlock()
	f.Logger.Info("feed connected", zap.String("url", f.URL))

	if err := f.subscribe(conn, "ticker", f.Universe); err != nil {
		return err
	}
	if len(active) > 0 {
		if err := f.subscribe(conn, "bestBidAsk", active); err != nil {
			return err
		}
	}

	// Resubscription requests are applied between reads. The goroutine is
	// tied to this connection's lifetime so a stale one can never consume a
	// SetActive signal meant for the live socket; a signal lost in the
	// handover is recovered because the next dial subscribes with the
	// latest active set anyway.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		prev := active
		for {
			select {
			case <-connDone:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-f.resubReq:
				f.mu.Lock()
				next := append([]string(nil), f.active...)
				f.mu.Unlock()
				drop, add := diffSets(prev, next)
				if len(drop) > 0 {
					_ = f.unsubscribe(conn, "bestBidAsk", drop)
				}
				if len(add) > 0 {
					_ = f.subscribe(conn, "bestBidAsk", add)
				}
				prev = next
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		f.handleMessage(raw)
	}
}

type wsRequest struct {
	Op   string   `json:"op"`
	Tag  string   `json:"tag,omitempty"`
	Args []string `json:"args"`
}

func (f *FeedClient) subscribe(conn *websocket.Conn, channel string, instruments []string) error {
	args := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		args = append(args, channel+":"+inst)
	}
	return conn.WriteJSON(wsRequest{Op: "subscribe", Tag: channel, Args: args})
}

func (f *FeedClient) unsubscribe(conn *websocket.Conn, channel string, instruments []string) error {
	args := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		args = append(args, channel+":"+inst)
	}
	return conn.WriteJSON(wsRequest{Op: "unsubscribe", Tag: channel, Args: args})
}

func (f *FeedClient) handleMessage(raw []byte) {
	updates, err := ParseFeedMessage(raw, time.Now())
	if err != nil {
		f.Logger.Debug("feed message dropped", zap.Error(err))
		return
	}
	for _, u := range updates {
		f.apply(u)
	}
}

// apply overlays a partial update onto the stored snapshot. Missing fields
// mean "no update", per the feed contract.
func (f *FeedClient) apply(u FeedUpdate) {
	snap, _ := f.Store.Get(u.Instrument)
	snap.Instrument = u.Instrument
	if u.BestBid > 0 {
		snap.BestBid = u.BestBid
	}
	if u.BestAsk > 0 {
		snap.BestAsk = u.BestAsk
	}
	if u.IndexPrice > 0 {
		snap.IndexPrice = u.IndexPrice
	}
	if u.Volume24h > 0 {
		snap.Volume24h = u.Volume24h
	}
	snap.UpdatedAt = u.At
	f.Store.Update(snap)
}

func diffSets(prev, next []string) (drop, add []string) {
	inPrev := make(map[string]bool, len(prev))
	for _, s := range prev {
		inPrev[s] = true
	}
	inNext := make(map[string]bool, len(next))
	for _, s := range next {
		inNext[s] = true
		if !inPrev[s] {
			add = append(add, s)
		}
	}
	for _, s := range prev {
		if !inNext[s] {
			drop = append(drop, s)
		}
	}
	return drop, add
}

// FeedUpdate is one parsed partial instrument update.
type FeedUpdate struct {
	Instrument string
	BestBid    float64
	BestAsk    float64
	IndexPrice float64
	Volume24h  float64
	At         time.Time
}

type bestBidAskMsg struct {
	Table string `json:"table"`
	Data  struct {
		MarketCode string        `json:"marketCode"`
		Ask        []json.Number `json:"ask"`
		Bid        []json.Number `json:"bid"`
	} `json:"data"`
}

type tickerMsg struct {
	Table string `json:"table"`
	Data  []struct {
		MarketCode string      `json:"marketCode"`
		IndexPrice json.Number `json:"indexPrice"`
		Volume24h  json.Number `json:"volume24h"`
	} `json:"data"`
}

// ParseFeedMessage decodes one websocket frame into zero or more updates.
// Non-data frames (subscription acks, auth) parse to an empty slice.
func ParseFeedMessage(raw []byte, at time.Time) ([]FeedUpdate, error) {
	var head struct {
		Table string `json:"table"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch head.Table {
	case "bestBidAsk":
		var msg bestBidAskMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode bestBidAsk: %w", err)
		}
		if msg.Data.MarketCode == "" {
			return nil, nil
		}
		u := FeedUpdate{Instrument: msg.Data.MarketCode, At: at}
		if len(msg.Data.Bid) >= 1 {
			u.BestBid = numFloat(msg.Data.Bid[0])
		}
		if len(msg.Data.Ask) >= 1 {
			u.BestAsk = numFloat(msg.Data.Ask[0])
		}
		return []FeedUpdate{u}, nil
	case "ticker":
		var msg tickerMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode ticker: %w", err)
		}
		updates := make([]FeedUpdate, 0, len(msg.Data))
		for _, item := range msg.Data {
			if item.MarketCode == "" {
				continue
			}
			updates = append(updates, FeedUpdate{
				Instrument: item.MarketCode,
				IndexPrice: numFloat(item.IndexPrice),
				Volume24h:  numFloat(item.Volume24h),
				At:         at,
			})
		}
		return updates, nil
	default:
		return nil, nil
	}
}
