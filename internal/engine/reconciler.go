package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ox-maker-go/infrastructure/logger"
	"ox-maker-go/inventory"
	"ox-maker-go/market"
	"ox-maker-go/metrics"
	"ox-maker-go/order"
	"ox-maker-go/risk"
	"ox-maker-go/selector"
)

// Exchange is the trading collaborator. Every call is treated as slow and
// failing; the loop bounds each one with a context deadline and retries on
// the next tick rather than immediately.
type Exchange interface {
	PlaceOrder(ctx context.Context, instrument string, side order.Side, price, size float64) (string, error)
	CancelOrder(ctx context.Context, instrument, orderID string) error
	ClosePosition(ctx context.Context, instrument string, side order.Side, size float64) error
	CancelAll(ctx context.Context, instrument string) error
	OpenOrders(ctx context.Context) ([]order.ActiveOrder, error)
	Positions(ctx context.Context) ([]inventory.Position, error)
}

// State of the reconciler lifecycle.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config for the reconciliation loop.
type Config struct {
	Interval             time.Duration
	MaxActiveInstruments int
	SelectionDwellCycles int
	FreshnessFactor      int // staleness bound = factor * interval
	OrderNotionalUSD     float64
	Gate                 risk.Gate
	Universe             []string
	Constraints          map[string]order.Constraints
	StatusInterval       time.Duration // periodic per-instrument status log
}

// Components wires the reconciler's collaborators.
type Components struct {
	Exchange  Exchange
	Snapshots *market.Store
	Positions *inventory.Book
	Logger    *logger.Logger
	// OnActiveSet is invoked with each cycle's active set, letting the
	// feed narrow its subscriptions. Optional.
	OnActiveSet func([]string)
}

// Statistics are cumulative loop counters.
type Statistics struct {
	StartTime     time.Time
	TotalTicks    int64
	TotalActions  int64
	TotalFailures int64
	LastTickTime  time.Time
}

// Reconciler drives all per-instrument quote machines on a fixed cadence.
// A tick runs synchronously end to end, so ticks never overlap and the
// loop stays the only writer of exchange intents.
type Reconciler struct {
	cfg      Config
	exchange Exchange
	snaps    *market.Store
	book     *inventory.Book
	log      *logger.Logger
	onActive func([]string)

	sel      *selector.Selector
	machines map[string]*order.Machine

	// hot-reloadable parameters
	paramMu  sync.RWMutex
	gate     risk.Gate
	notional float64

	mu       sync.RWMutex
	state    State
	stopChan chan struct{}
	doneChan chan struct{}

	statsMu sync.Mutex
	stats   Statistics

	lastStatus time.Time
}

func New(cfg Config, comps Components) (*Reconciler, error) {
	if err := validate(cfg, comps); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.FreshnessFactor <= 0 {
		cfg.FreshnessFactor = 3
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 30 * time.Second
	}
	sel, err := selector.New(selector.Config{
		MaxActive:   cfg.MaxActiveInstruments,
		DwellCycles: cfg.SelectionDwellCycles,
	})
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		cfg:      cfg,
		exchange: comps.Exchange,
		snaps:    comps.Snapshots,
		book:     comps.Positions,
		log:      comps.Logger,
		onActive: comps.OnActiveSet,
		sel:      sel,
		machines: make(map[string]*order.Machine),
		gate:     cfg.Gate,
		notional: cfg.OrderNotionalUSD,
		state:    StateIdle,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

func validate(cfg Config, comps Components) error {
	if len(cfg.Universe) == 0 {
		return errors.New("universe is required")
	}
	if cfg.MaxActiveInstruments <= 0 {
		return errors.New("maxActiveInstruments must be > 0")
	}
	if cfg.OrderNotionalUSD <= 0 {
		return errors.New("orderNotionalUsd must be > 0")
	}
	for _, inst := range cfg.Universe {
		c, ok := cfg.Constraints[inst]
		if !ok {
			return fmt.Errorf("missing constraints for %s", inst)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("constraints for %s: %w", inst, err)
		}
	}
	if comps.Exchange == nil {
		return errors.New("exchange is required")
	}
	if comps.Snapshots == nil {
		return errors.New("snapshot store is required")
	}
	if comps.Positions == nil {
		return errors.New("position book is required")
	}
	if comps.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// UpdateParams applies hot-reloaded thresholds. Takes effect next tick.
func (r *Reconciler) UpdateParams(gate risk.Gate, notionalUSD float64) {
	r.paramMu.Lock()
	if notionalUSD > 0 {
		r.notional = notionalUSD
	}
	r.gate = gate
	r.paramMu.Unlock()
	r.log.Info("quoting params updated",
		zap.Float64("min_spread", gate.MinSpread),
		zap.Float64("min_index_distance", gate.MinIndexDistance),
		zap.Float64("notional_usd", notionalUSD))
}

// Start launches the loop.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return fmt.Errorf("reconciler already started (state: %s)", r.state)
	}
	r.state = StateRunning
	r.mu.Unlock()
	r.statsMu.Lock()
	r.stats.StartTime = time.Now()
	r.statsMu.Unlock()

	r.log.Info("reconciler starting",
		zap.Duration("interval", r.cfg.Interval),
		zap.Int("universe", len(r.cfg.Universe)),
		zap.Int("max_active", r.cfg.MaxActiveInstruments))
	go r.run(ctx)
	return nil
}

// Stop halts the loop and runs the best-effort shutdown sweep: cancel every
// open order across active instruments, reporting failures without retry.
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return fmt.Errorf("reconciler not running (state: %s)", r.state)
	}
	r.state = StateStopped
	r.mu.Unlock()

	close(r.stopChan)
	// Every exchange call inside a tick carries a deadline, so the loop is
	// guaranteed to come back. Waiting unconditionally keeps the sweep from
	// racing a tick still emitting orders.
	<-r.doneChan

	r.shutdownSweep()
	r.log.Info("reconciler stopped")
	return nil
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneChan)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("context done, reconcile loop exiting")
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			// Synchronous: a slow tick delays the next, never overlaps it.
			r.Tick(ctx)
		}
	}
}

// Tick runs one full reconciliation cycle. Exported so tests can drive the
// loop deterministically without the timer.
func (r *Reconciler) Tick(ctx context.Context) {
	started := time.Now()
	r.statsMu.Lock()
	r.stats.TotalTicks++
	r.stats.LastTickTime = started
	r.statsMu.Unlock()

	// 1. Authoritative read. Without ground truth there is nothing safe to
	// do: pause quoting, leave resting orders alone, retry next tick.
	openOrders, positions, err := r.readExchange(ctx)
	if err != nil {
		metrics.ReadFailures.Inc()
		r.log.Error("authoritative read failed, quoting paused", zap.Error(err))
		return
	}
	r.book.Replace(positions)
	byInstrument := groupByInstrument(openOrders)
	metrics.OpenOrders.Set(float64(len(openOrders)))

	// 2. Select this cycle's active set from one consistent snapshot read.
	snaps := r.snaps.All()
	now := time.Now()
	maxAge := time.Duration(r.cfg.FreshnessFactor) * r.cfg.Interval
	active := r.sel.Select(r.cfg.Universe, snaps, r.book.Held(), now, maxAge)
	metrics.ActiveInstruments.Set(float64(len(active)))
	if r.onActive != nil {
		r.onActive(active)
	}
	isActive := make(map[string]bool, len(active))
	for _, inst := range active {
		isActive[inst] = true
	}

	var actions, failures int

	// 3. Tear down instruments that left the active set, then discard
	// their state.
	for inst, m := range r.machines {
		if isActive[inst] {
			continue
		}
		a, f := r.execute(ctx, inst, m, m.Teardown(byInstrument[inst]))
		actions += a
		failures += f
		delete(r.machines, inst)
	}
	// Orders for instruments nothing tracks (restart leftovers, external
	// drift) are cancelled outright.
	for inst, orphans := range byInstrument {
		if isActive[inst] || r.machines[inst] != nil {
			continue
		}
		a, f := r.cancelOrphans(ctx, inst, orphans)
		actions += a
		failures += f
	}

	// 4. Advance each active machine and emit only the deltas.
	r.paramMu.RLock()
	gate := r.gate
	notional := r.notional
	r.paramMu.RUnlock()

	for _, inst := range active {
		m := r.machines[inst]
		if m == nil {
			m = order.NewMachine(inst, r.cfg.Constraints[inst])
			r.machines[inst] = m
		}
		snap := snaps[inst]
		fresh := snap.Instrument != "" && now.Sub(snap.UpdatedAt) <= maxAge
		if !fresh {
			metrics.StaleSkips.Inc()
		}
		var decision risk.Decision
		if fresh {
			decision = gate.Evaluate(snap)
			if !decision.Pass {
				metrics.GateRejects.Inc()
				r.log.Event("gate_reject", map[string]interface{}{
					"instrument": inst,
					"reason":     decision.Reason,
				})
			}
		}
		res := m.Step(order.Input{
			Snapshot:     snap,
			Fresh:        fresh,
			GatePass:     decision.Pass,
			PositionSize: r.book.Size(inst),
			NotionalUSD:  notional,
			Open:         byInstrument[inst],
		})
		for _, side := range res.SkippedSides {
			r.log.Warn("order size rounds to zero, side skipped",
				zap.String("instrument", inst),
				zap.String("side", string(side)),
				zap.Float64("notional_usd", notional))
		}
		a, f := r.execute(ctx, inst, m, res.Actions)
		actions += a
		failures += f
	}

	r.statsMu.Lock()
	r.stats.TotalActions += int64(actions)
	r.stats.TotalFailures += int64(failures)
	r.statsMu.Unlock()

	elapsed := time.Since(started)
	metrics.TickDuration.Observe(elapsed.Seconds())
	if actions > 0 || failures > 0 {
		r.log.Event("tick_summary", map[string]interface{}{
			"active":      len(active),
			"actions":     actions,
			"failures":    failures,
			"duration_ms": elapsed.Milliseconds(),
		})
	}

	if time.Since(r.lastStatus) >= r.cfg.StatusInterval {
		r.lastStatus = time.Now()
		r.logStatus(active, snaps)
	}
}

// execute applies one instrument's actions in order. Replacement places
// depend on their cancel having succeeded; everything else fails
// independently and is retried next tick by re-emission.
func (r *Reconciler) execute(ctx context.Context, inst string, m *order.Machine, acts []order.Action) (actions, failures int) {
	cancelled := make(map[string]bool)
	for _, act := range acts {
		if act.DependsOnCancel != "" && !cancelled[act.DependsOnCancel] {
			continue
		}
		actions++
		metrics.ActionsTotal.WithLabelValues(act.Type.String()).Inc()
		if err := r.apply(ctx, act); err != nil {
			failures++
			metrics.ActionFailures.WithLabelValues(act.Type.String()).Inc()
			if act.Type == order.ActionClose && m != nil {
				m.NoteCloseFailed()
			}
			r.log.Event("action_error", map[string]interface{}{
				"instrument": inst,
				"action":     act.Type.String(),
				"error":      err.Error(),
			})
			continue
		}
		if act.Type == order.ActionCancel {
			cancelled[act.OrderID] = true
		}
		r.logAction(act)
	}
	return actions, failures
}

func (r *Reconciler) apply(parent context.Context, act order.Action) error {
	ctx, cancel := context.WithTimeout(parent, r.actionTimeout())
	defer cancel()
	switch act.Type {
	case order.ActionPlace:
		_, err := r.exchange.PlaceOrder(ctx, act.Instrument, act.Side, act.Price, act.Size)
		return err
	case order.ActionCancel:
		if act.Reason == "duplicate_side" {
			metrics.InvariantRepairs.Inc()
		}
		return r.exchange.CancelOrder(ctx, act.Instrument, act.OrderID)
	case order.ActionClose:
		return r.exchange.ClosePosition(ctx, act.Instrument, act.Side, act.Size)
	default:
		return fmt.Errorf("unknown action type %d", act.Type)
	}
}

// actionTimeout bounds one exchange call well under the tick interval so a
// hung call cannot starve the remaining instruments.
func (r *Reconciler) actionTimeout() time.Duration {
	t := r.cfg.Interval / 4
	if t < time.Second {
		t = time.Second
	}
	return t
}

func (r *Reconciler) cancelOrphans(ctx context.Context, inst string, orphans []order.ActiveOrder) (actions, failures int) {
	for _, o := range orphans {
		if o.Status != order.StatusOpen {
			continue
		}
		actions++
		metrics.ActionsTotal.WithLabelValues("cancel").Inc()
		cctx, cancel := context.WithTimeout(ctx, r.actionTimeout())
		err := r.exchange.CancelOrder(cctx, inst, o.ID)
		cancel()
		if err != nil {
			failures++
			metrics.ActionFailures.WithLabelValues("cancel").Inc()
			r.log.Warn("orphan cancel failed",
				zap.String("instrument", inst),
				zap.String("order_id", o.ID),
				zap.Error(err))
		}
	}
	return actions, failures
}

// readExchange refreshes ground truth under one timeout per call.
func (r *Reconciler) readExchange(ctx context.Context) ([]order.ActiveOrder, []inventory.Position, error) {
	octx, cancel := context.WithTimeout(ctx, r.actionTimeout())
	openOrders, err := r.exchange.OpenOrders(octx)
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("open orders: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, r.actionTimeout())
	positions, err := r.exchange.Positions(pctx)
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("positions: %w", err)
	}
	return openOrders, positions, nil
}

// shutdownSweep cancels everything once, best effort: failures are
// reported, not retried, since the process is exiting.
func (r *Reconciler) shutdownSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*r.cfg.Interval)
	defer cancel()

	openOrders, err := r.exchange.OpenOrders(ctx)
	if err != nil {
		r.log.Error("shutdown sweep: open-order read failed, falling back to cancel-all", zap.Error(err))
		for inst := range r.machines {
			cctx, ccancel := context.WithTimeout(ctx, r.actionTimeout())
			if err := r.exchange.CancelAll(cctx, inst); err != nil {
				r.log.Error("shutdown cancel-all failed", zap.String("instrument", inst), zap.Error(err))
			}
			ccancel()
		}
		return
	}
	for _, o := range openOrders {
		if o.Status != order.StatusOpen {
			continue
		}
		cctx, ccancel := context.WithTimeout(ctx, r.actionTimeout())
		err := r.exchange.CancelOrder(cctx, o.Instrument, o.ID)
		ccancel()
		if err != nil {
			r.log.Error("shutdown cancel failed",
				zap.String("instrument", o.Instrument),
				zap.String("order_id", o.ID),
				zap.Error(err))
		}
	}
}

func (r *Reconciler) logAction(act order.Action) {
	switch act.Type {
	case order.ActionPlace:
		r.log.Event("order_place", map[string]interface{}{
			"instrument": act.Instrument,
			"side":       string(act.Side),
			"price":      act.Price,
			"size":       act.Size,
		})
	case order.ActionCancel:
		r.log.Event("order_cancel", map[string]interface{}{
			"instrument": act.Instrument,
			"orderId":    act.OrderID,
			"reason":     act.Reason,
		})
	case order.ActionClose:
		r.log.Event("position_close", map[string]interface{}{
			"instrument": act.Instrument,
			"side":       string(act.Side),
			"size":       act.Size,
		})
	}
}

func (r *Reconciler) logStatus(active []string, snaps map[string]market.Snapshot) {
	for _, inst := range active {
		snap := snaps[inst]
		state := "UNKNOWN"
		if m := r.machines[inst]; m != nil {
			state = m.State().String()
		}
		r.log.Event("instrument_status", map[string]interface{}{
			"instrument": inst,
			"spread":     snap.RelativeSpread(),
			"position":   r.book.Size(inst),
			"state":      state,
		})
	}
}

// GetState returns the lifecycle state.
func (r *Reconciler) GetState() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// GetStatistics returns a copy of the loop counters.
func (r *Reconciler) GetStatistics() Statistics {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// ActiveMachines lists instruments with live quote state, for inspection.
func (r *Reconciler) ActiveMachines() []string {
	out := make([]string, 0, len(r.machines))
	for inst := range r.machines {
		out = append(out, inst)
	}
	return out
}

func groupByInstrument(orders []order.ActiveOrder) map[string][]order.ActiveOrder {
	out := make(map[string][]order.ActiveOrder)
	for _, o := range orders {
		if o.Status != order.StatusOpen {
			continue
		}
		out[o.Instrument] = append(out[o.Instrument], o)
	}
	return out
}
