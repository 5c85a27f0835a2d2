package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Constraints describe per-instrument price and size increments.
// MinSize doubles as the size step: sizes are floored to whole multiples.
type Constraints struct {
	TickSize float64
	MinSize  float64
}

// Validate checks the increments are usable.
func (c Constraints) Validate() error {
	if c.TickSize <= 0 {
		return fmt.Errorf("tickSize %.10f must be > 0", c.TickSize)
	}
	if c.MinSize <= 0 {
		return fmt.Errorf("minSize %.10f must be > 0", c.MinSize)
	}
	return nil
}

// RoundPriceToTick snaps a price to the nearest tick.
func (c Constraints) RoundPriceToTick(price float64) float64 {
	if c.TickSize <= 0 || price <= 0 {
		return price
	}
	tick := decimal.NewFromFloat(c.TickSize)
	p := decimal.NewFromFloat(price)
	rounded, _ := p.Div(tick).Round(0).Mul(tick).Float64()
	return rounded
}

// SizeForNotional converts a USD notional at the given price into an
// instrument size floored to the size increment. Returns 0 when the result
// rounds below one increment; callers skip placement in that case.
func (c Constraints) SizeForNotional(notional, price float64) float64 {
	if notional <= 0 || price <= 0 || c.MinSize <= 0 {
		return 0
	}
	step := decimal.NewFromFloat(c.MinSize)
	raw := decimal.NewFromFloat(notional).Div(decimal.NewFromFloat(price))
	size, _ := raw.Div(step).Floor().Mul(step).Float64()
	return size
}

// SamePrice reports whether two prices land on the same tick.
func (c Constraints) SamePrice(a, b float64) bool {
	if c.TickSize <= 0 {
		return a == b
	}
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < c.TickSize/2
}
