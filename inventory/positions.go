package inventory

import (
	"sync"

	"ox-maker-go/metrics"
)

// Position is the exchange-reported exposure for one instrument. The loop
// treats it as read-only truth, refreshed each cycle.
type Position struct {
	Instrument string
	Size       float64 // signed; zero means flat
	EntryPrice float64
}

// Book holds the latest position set. Replaced wholesale on every
// authoritative read.
type Book struct {
	mu        sync.RWMutex
	positions map[string]Position
}

func NewBook() *Book {
	return &Book{positions: make(map[string]Position)}
}

// Replace swaps in the full position set from an exchange read. Instruments
// absent from the read are flat.
func (b *Book) Replace(positions []Position) {
	next := make(map[string]Position, len(positions))
	for _, p := range positions {
		if p.Instrument == "" || p.Size == 0 {
			continue
		}
		next[p.Instrument] = p
		metrics.UpdatePosition(p.Instrument, p.Size)
	}
	b.mu.Lock()
	prev := b.positions
	b.positions = next
	b.mu.Unlock()
	for inst := range prev {
		if _, still := next[inst]; !still {
			metrics.UpdatePosition(inst, 0)
		}
	}
}

// Get returns the position for an instrument; flat positions report ok=false.
func (b *Book) Get(instrument string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[instrument]
	return p, ok
}

// Size returns the signed size, zero when flat.
func (b *Book) Size(instrument string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.positions[instrument].Size
}

// Held lists instruments with a nonzero position.
func (b *Book) Held() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.positions))
	for inst := range b.positions {
		out = append(out, inst)
	}
	return out
}
