package order

import "testing"

func TestRoundPriceToTick(t *testing.T) {
	c := Constraints{TickSize: 0.1, MinSize: 0.1}

	cases := []struct {
		in   float64
		want float64
	}{
		{100.14, 100.1},
		{100.15, 100.2}, // half rounds up
		{100.0, 100.0},
		{0.07, 0.1},
	}
	for _, tc := range cases {
		if got := c.RoundPriceToTick(tc.in); got != tc.want {
			t.Errorf("RoundPriceToTick(%.4f) = %.4f, want %.4f", tc.in, got, tc.want)
		}
	}
}

func TestRoundPriceAvoidsFloatDrift(t *testing.T) {
	// 0.1+0.2 style artifacts must not survive the rounding.
	c := Constraints{TickSize: 0.01, MinSize: 1}
	if got := c.RoundPriceToTick(0.30000000000000004); got != 0.3 {
		t.Fatalf("got %.20f, want exactly 0.3", got)
	}
}

func TestSizeForNotional(t *testing.T) {
	c := Constraints{TickSize: 0.1, MinSize: 0.1}

	// 100 USD at mid 100.5 is 0.995..., floored to 0.9
	if got := c.SizeForNotional(100, 100.5); got != 0.9 {
		t.Fatalf("got %.4f, want 0.9", got)
	}
	// exact multiple stays put
	if got := c.SizeForNotional(50, 100); got != 0.5 {
		t.Fatalf("got %.4f, want 0.5", got)
	}
}

func TestSizeForNotionalRoundsToZero(t *testing.T) {
	c := Constraints{TickSize: 0.5, MinSize: 1}
	// 10 USD at price 50000 is 0.0002, below one increment
	if got := c.SizeForNotional(10, 50000); got != 0 {
		t.Fatalf("expected 0 for sub-increment size, got %.8f", got)
	}
}

func TestSamePrice(t *testing.T) {
	c := Constraints{TickSize: 0.1, MinSize: 0.1}
	if !c.SamePrice(100.1, 100.1000001) {
		t.Fatal("prices on the same tick should compare equal")
	}
	if c.SamePrice(100.1, 100.2) {
		t.Fatal("prices one tick apart must differ")
	}
}

func TestConstraintsValidate(t *testing.T) {
	if err := (Constraints{TickSize: 0.1, MinSize: 0.1}).Validate(); err != nil {
		t.Fatalf("valid constraints rejected: %v", err)
	}
	if err := (Constraints{TickSize: 0, MinSize: 0.1}).Validate(); err == nil {
		t.Fatal("zero tick size must be rejected")
	}
	if err := (Constraints{TickSize: 0.1, MinSize: -1}).Validate(); err == nil {
		t.Fatal("negative min size must be rejected")
	}
}
