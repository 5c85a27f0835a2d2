package order

import (
	"ox-maker-go/market"
)

// State is the per-instrument quoting state.
type State int

const (
	// StateIdle: no position, no resting orders wanted.
	StateIdle State = iota
	// StateQuoting: flat and gated in; 0..2 resting entry orders.
	StateQuoting
	// StateClosing: position open, a market flatten has been issued or is
	// due; entry orders are torn down first.
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateQuoting:
		return "QUOTING"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// ActionType classifies an order intent emitted by a Step.
type ActionType int

const (
	ActionPlace ActionType = iota
	ActionCancel
	ActionClose
)

func (t ActionType) String() string {
	switch t {
	case ActionPlace:
		return "place"
	case ActionCancel:
		return "cancel"
	case ActionClose:
		return "close"
	default:
		return "unknown"
	}
}

// Action is one order intent. Cancels carry OrderID; places carry
// Side/Price/Size; closes carry Side/Size for logging only (the exchange
// flattens by instrument).
type Action struct {
	Type       ActionType
	Instrument string
	Side       Side
	Price      float64
	Size       float64
	OrderID    string
	Reason     string
	// DependsOnCancel marks a replacement place that must only run after
	// the cancel emitted just before it for the same side succeeded.
	DependsOnCancel string
}

// Input is everything one Step decides from: a single consistent read taken
// at the top of the tick. NotionalUSD rides along per tick so hot-reloaded
// sizing reaches machines that already exist.
type Input struct {
	Snapshot     market.Snapshot
	Fresh        bool
	GatePass     bool
	PositionSize float64
	NotionalUSD  float64
	Open         []ActiveOrder
}

// Result of one Step.
type Result struct {
	Actions []Action
	// SkippedSides lists sides whose computed size rounded to zero.
	SkippedSides []Side
}

// Machine drives quoting for one instrument. One instance per active
// instrument, created when it enters the active set and discarded when it
// leaves. Owned exclusively by the reconciliation loop.
type Machine struct {
	instrument  string
	constraints Constraints

	state       State
	closeIssued bool
}

func NewMachine(instrument string, c Constraints) *Machine {
	return &Machine{
		instrument:  instrument,
		constraints: c,
		state:       StateIdle,
	}
}

func (m *Machine) Instrument() string { return m.instrument }
func (m *Machine) State() State       { return m.state }

// Step advances the machine once per tick. Transition order: invariant
// repair, position close, gate, quote reconciliation. Pure apart from the
// state/closeIssued fields; never talks to the exchange itself.
func (m *Machine) Step(in Input) Result {
	var res Result

	open := OpenBySide(in.Open)
	res.Actions = append(res.Actions, m.repairDuplicates(open, in)...)

	// Position close takes priority over everything, gate included.
	if in.PositionSize != 0 {
		for _, side := range []Side{SideBuy, SideSell} {
			for _, o := range open[side] {
				res.Actions = append(res.Actions, Action{
					Type:       ActionCancel,
					Instrument: m.instrument,
					Side:       side,
					OrderID:    o.ID,
					Reason:     "position_open",
				})
			}
		}
		if !m.closeIssued {
			closeSide := SideSell
			size := in.PositionSize
			if size < 0 {
				closeSide = SideBuy
				size = -size
			}
			res.Actions = append(res.Actions, Action{
				Type:       ActionClose,
				Instrument: m.instrument,
				Side:       closeSide,
				Size:       size,
				Reason:     "flatten",
			})
			m.closeIssued = true
		}
		m.state = StateClosing
		return res
	}
	m.closeIssued = false

	// Gate fail on a fresh snapshot tears entry orders down. A stale
	// snapshot never drives new placement but leaves resting orders alone.
	if in.Fresh && !in.GatePass {
		res.Actions = append(res.Actions, cancelAll(m.instrument, open, "gate_fail")...)
		m.state = StateIdle
		return res
	}
	if !in.Fresh {
		return res
	}

	m.state = StateQuoting
	mid := in.Snapshot.Mid()
	targets := []struct {
		side  Side
		price float64
	}{
		{SideBuy, m.constraints.RoundPriceToTick(in.Snapshot.BestBid + m.constraints.TickSize)},
		{SideSell, m.constraints.RoundPriceToTick(in.Snapshot.BestAsk - m.constraints.TickSize)},
	}
	for _, tgt := range targets {
		size := m.constraints.SizeForNotional(in.NotionalUSD, mid)
		if size <= 0 {
			res.SkippedSides = append(res.SkippedSides, tgt.side)
			continue
		}
		res.Actions = append(res.Actions, m.reconcileSide(open[tgt.side], tgt.side, tgt.price, size)...)
	}
	return res
}

// reconcileSide emits the delta for one side: nothing when the resting
// order already matches the target, a cancel+replace when it drifted, a
// plain place when the side is empty.
func (m *Machine) reconcileSide(open []ActiveOrder, side Side, price, size float64) []Action {
	place := Action{
		Type:       ActionPlace,
		Instrument: m.instrument,
		Side:       side,
		Price:      price,
		Size:       size,
	}
	if len(open) == 0 {
		return []Action{place}
	}
	existing := open[0]
	if m.constraints.SamePrice(existing.Price, price) {
		return nil
	}
	cancel := Action{
		Type:       ActionCancel,
		Instrument: m.instrument,
		Side:       side,
		OrderID:    existing.ID,
		Reason:     "price_drift",
	}
	place.DependsOnCancel = existing.ID
	return []Action{cancel, place}
}

// repairDuplicates enforces the one-open-order-per-side invariant: extra
// orders are cancelled immediately, keeping the one closest to the current
// target when the snapshot allows computing one.
func (m *Machine) repairDuplicates(open map[Side][]ActiveOrder, in Input) []Action {
	var actions []Action
	for _, side := range []Side{SideBuy, SideSell} {
		orders := open[side]
		if len(orders) <= 1 {
			continue
		}
		keep := len(orders) - 1
		if in.Snapshot.Complete() {
			target := in.Snapshot.BestBid + m.constraints.TickSize
			if side == SideSell {
				target = in.Snapshot.BestAsk - m.constraints.TickSize
			}
			for i, o := range orders {
				if m.constraints.SamePrice(o.Price, target) {
					keep = i
					break
				}
			}
		}
		for i, o := range orders {
			if i == keep {
				continue
			}
			actions = append(actions, Action{
				Type:       ActionCancel,
				Instrument: m.instrument,
				Side:       side,
				OrderID:    o.ID,
				Reason:     "duplicate_side",
			})
		}
		open[side] = []ActiveOrder{orders[keep]}
	}
	return actions
}

// Teardown cancels every open order for the instrument. Used when it drops
// out of the active set and during the shutdown sweep.
func (m *Machine) Teardown(open []ActiveOrder) []Action {
	return cancelAll(m.instrument, OpenBySide(open), "teardown")
}

// NoteCloseFailed re-arms the close intent after a failed or timed-out
// flatten so the next tick retries it.
func (m *Machine) NoteCloseFailed() {
	m.closeIssued = false
}

func cancelAll(instrument string, open map[Side][]ActiveOrder, reason string) []Action {
	var actions []Action
	for _, side := range []Side{SideBuy, SideSell} {
		for _, o := range open[side] {
			actions = append(actions, Action{
				Type:       ActionCancel,
				Instrument: instrument,
				Side:       side,
				OrderID:    o.ID,
				Reason:     reason,
			})
		}
	}
	return actions
}
