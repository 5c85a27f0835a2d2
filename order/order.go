package order

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Status represents order lifecycle.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusFilled   Status = "FILLED"
	StatusCanceled Status = "CANCELED"
)

// ActiveOrder is the exchange-side view of a resting order. The loop reads
// these back every tick and treats them as ground truth.
type ActiveOrder struct {
	ID         string
	Instrument string
	Side       Side
	Price      float64
	Size       float64
	Status     Status
}

// OpenBySide groups open orders of one instrument by side.
func OpenBySide(orders []ActiveOrder) map[Side][]ActiveOrder {
	out := make(map[Side][]ActiveOrder, 2)
	for _, o := range orders {
		if o.Status != StatusOpen {
			continue
		}
		out[o.Side] = append(out[o.Side], o)
	}
	return out
}
