// Package selector picks the bounded active instrument set each cycle.
package selector

import (
	"errors"
	"sort"
	"time"

	"ox-maker-go/market"
)

// Config bounds the selection.
type Config struct {
	MaxActive int
	// DwellCycles protects a freshly entered flat instrument from being
	// evicted on score alone for this many cycles. Position priority and
	// the size cap always win over dwell.
	DwellCycles int
}

// Selector scores the universe and returns the active set. The set is
// recomputed from scratch every cycle; the only carried state is the dwell
// counter per currently active flat instrument.
type Selector struct {
	cfg Config
	// remaining protected cycles for flat instruments active last cycle
	dwell map[string]int
}

type scored struct {
	instrument string
	score      float64
}

func New(cfg Config) (*Selector, error) {
	if cfg.MaxActive <= 0 {
		return nil, errors.New("maxActive must be > 0")
	}
	if cfg.DwellCycles < 0 {
		return nil, errors.New("dwellCycles must be >= 0")
	}
	return &Selector{cfg: cfg, dwell: make(map[string]int)}, nil
}

// Select returns this cycle's active set. Score = relativeSpread *
// volume24h; stale, missing or incomplete snapshots are excluded from
// scoring. Position holders are always included first even when unscored,
// then flat instruments by descending score, ties broken by instrument id
// for determinism.
func (s *Selector) Select(universe []string, snaps map[string]market.Snapshot, held []string, now time.Time, maxAge time.Duration) []string {
	inUniverse := make(map[string]bool, len(universe))
	for _, inst := range universe {
		inUniverse[inst] = true
	}

	active := make([]string, 0, s.cfg.MaxActive)
	seen := make(map[string]bool, s.cfg.MaxActive)

	// Position holders first, in deterministic order. They must stay
	// quotable so the close logic can run, score or no score.
	heldSorted := append([]string(nil), held...)
	sort.Strings(heldSorted)
	for _, inst := range heldSorted {
		if !inUniverse[inst] || seen[inst] || len(active) >= s.cfg.MaxActive {
			continue
		}
		active = append(active, inst)
		seen[inst] = true
	}

	candidates := make([]scored, 0, len(universe))
	for _, inst := range universe {
		if seen[inst] {
			continue
		}
		snap, ok := snaps[inst]
		if !ok || !snap.Complete() || now.Sub(snap.UpdatedAt) > maxAge {
			continue
		}
		candidates = append(candidates, scored{
			instrument: inst,
			score:      snap.RelativeSpread() * snap.Volume24h,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].instrument < candidates[j].instrument
	})

	capacity := s.cfg.MaxActive - len(active)
	wanted := make(map[string]bool, capacity)
	for i := 0; i < len(candidates) && len(wanted) < capacity; i++ {
		wanted[candidates[i].instrument] = true
	}

	// Dwell: a protected incumbent that lost its slot to a newcomer on
	// score alone reclaims it from the worst-ranked newcomer.
	protected := make([]string, 0, len(s.dwell))
	for inst, left := range s.dwell {
		if left > 0 && inUniverse[inst] && !seen[inst] && !wanted[inst] {
			protected = append(protected, inst)
		}
	}
	sort.Strings(protected)
	for _, inst := range protected {
		evicted := worstNewcomer(candidates, wanted, s.dwell)
		if evicted == "" {
			break
		}
		delete(wanted, evicted)
		wanted[inst] = true
	}

	flat := make([]string, 0, len(wanted))
	for inst := range wanted {
		flat = append(flat, inst)
	}
	sort.Strings(flat)
	for _, inst := range flat {
		if len(active) >= s.cfg.MaxActive {
			break
		}
		active = append(active, inst)
		seen[inst] = true
	}

	s.advanceDwell(seen, heldSorted)
	return active
}

// advanceDwell updates protection counters: entrants start at DwellCycles,
// incumbents burn one per cycle, leavers and position holders are dropped.
func (s *Selector) advanceDwell(selected map[string]bool, held []string) {
	isHeld := make(map[string]bool, len(held))
	for _, inst := range held {
		isHeld[inst] = true
	}
	next := make(map[string]int, len(selected))
	for inst := range selected {
		if isHeld[inst] {
			continue
		}
		if left, ok := s.dwell[inst]; ok {
			if left > 1 {
				next[inst] = left - 1
			}
		} else {
			next[inst] = s.cfg.DwellCycles
		}
	}
	s.dwell = next
}

// worstNewcomer returns the lowest-scored wanted instrument that was not
// active last cycle, or "" when every wanted slot holds an incumbent.
func worstNewcomer(candidates []scored, wanted map[string]bool, dwell map[string]int) string {
	for i := len(candidates) - 1; i >= 0; i-- {
		inst := candidates[i].instrument
		if !wanted[inst] {
			continue
		}
		if _, incumbent := dwell[inst]; incumbent {
			continue
		}
		return inst
	}
	return ""
}
