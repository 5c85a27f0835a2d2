package inventory

import (
	"testing"
)

func TestReplaceSwapsWholesale(t *testing.T) {
	b := NewBook()
	b.Replace([]Position{
		{Instrument: "A", Size: 0.5, EntryPrice: 100},
		{Instrument: "B", Size: -1.2, EntryPrice: 3000},
	})

	if got := b.Size("A"); got != 0.5 {
		t.Fatalf("A size = %.4f, want 0.5", got)
	}
	if got := b.Size("B"); got != -1.2 {
		t.Fatalf("B size = %.4f, want -1.2", got)
	}

	// next read: A vanished, meaning flat
	b.Replace([]Position{{Instrument: "B", Size: -1.2, EntryPrice: 3000}})
	if got := b.Size("A"); got != 0 {
		t.Fatalf("vanished position should read flat, got %.4f", got)
	}
	if _, ok := b.Get("A"); ok {
		t.Fatal("vanished position should not exist")
	}
}

func TestReplaceDropsZeroAndEmpty(t *testing.T) {
	b := NewBook()
	b.Replace([]Position{
		{Instrument: "A", Size: 0},
		{Instrument: "", Size: 1},
		{Instrument: "C", Size: 2},
	})
	held := b.Held()
	if len(held) != 1 || held[0] != "C" {
		t.Fatalf("held = %v, want [C]", held)
	}
}
