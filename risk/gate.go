package risk

import (
	"fmt"

	"ox-maker-go/market"
)

// Gate is the pure quoting predicate: an instrument qualifies only while
// its spread is wide enough and its midpoint sits far enough from the
// index. Re-evaluated every cycle; a pass is never sticky.
type Gate struct {
	MinSpread        float64 // relative spread floor, e.g. 0.007
	MinIndexDistance float64 // |mid-index|/index floor, e.g. 0.004
}

// Decision carries the outcome and the measured values for logging. A
// refusal is a normal outcome, not an error.
type Decision struct {
	Pass          bool
	Spread        float64
	IndexDistance float64
	Reason        string
}

// Evaluate gates one snapshot. Incomplete snapshots never pass.
func (g Gate) Evaluate(snap market.Snapshot) Decision {
	d := Decision{
		Spread:        snap.RelativeSpread(),
		IndexDistance: snap.IndexDistance(),
	}
	if !snap.Complete() {
		d.Reason = "incomplete_snapshot"
		return d
	}
	if d.Spread < g.MinSpread {
		d.Reason = fmt.Sprintf("spread %.4f < %.4f", d.Spread, g.MinSpread)
		return d
	}
	if d.IndexDistance < g.MinIndexDistance {
		d.Reason = fmt.Sprintf("index distance %.4f < %.4f", d.IndexDistance, g.MinIndexDistance)
		return d
	}
	d.Pass = true
	return d
}
