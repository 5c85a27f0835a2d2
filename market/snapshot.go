package market

import "time"

// Snapshot is the latest feed view of one instrument. Immutable once
// produced; the Store overwrites the previous one on arrival.
type Snapshot struct {
	Instrument string
	BestBid    float64
	BestAsk    float64
	IndexPrice float64
	Volume24h  float64
	UpdatedAt  time.Time
}

// Mid returns the midpoint, or 0 when either side of the book is missing.
func (s Snapshot) Mid() float64 {
	if s.BestBid <= 0 || s.BestAsk <= 0 {
		return 0
	}
	return (s.BestBid + s.BestAsk) / 2
}

// RelativeSpread returns (ask-bid)/mid, or 0 when the book is incomplete.
func (s Snapshot) RelativeSpread() float64 {
	mid := s.Mid()
	if mid <= 0 {
		return 0
	}
	return (s.BestAsk - s.BestBid) / mid
}

// IndexDistance returns |mid-index|/index, or 0 when the index is missing.
func (s Snapshot) IndexDistance() float64 {
	mid := s.Mid()
	if mid <= 0 || s.IndexPrice <= 0 {
		return 0
	}
	d := mid - s.IndexPrice
	if d < 0 {
		d = -d
	}
	return d / s.IndexPrice
}

// Complete reports whether both book sides and the index are present.
func (s Snapshot) Complete() bool {
	return s.BestBid > 0 && s.BestAsk > 0 && s.IndexPrice > 0
}
