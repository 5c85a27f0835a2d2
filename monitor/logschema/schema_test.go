package logschema

import "testing"

func TestValidateComplete(t *testing.T) {
	err := Validate("order_place", map[string]interface{}{
		"instrument": "BTC-USD-SWAP-LIN",
		"side":       "BUY",
		"price":      100.1,
		"size":       0.9,
	})
	if err != nil {
		t.Fatalf("complete event rejected: %v", err)
	}
}

func TestValidateMissingField(t *testing.T) {
	err := Validate("order_cancel", map[string]interface{}{
		"instrument": "BTC-USD-SWAP-LIN",
		"orderId":    "1",
	})
	if err == nil {
		t.Fatal("expected error for missing reason field")
	}
}

func TestValidateUnknownEventPasses(t *testing.T) {
	if err := Validate("some_future_event", nil); err != nil {
		t.Fatalf("unknown events must pass: %v", err)
	}
}

func TestKnownCoversAllSchemas(t *testing.T) {
	names := Known()
	if len(names) != len(schemas) {
		t.Fatalf("Known() returned %d names, want %d", len(names), len(schemas))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("Known() not sorted at %d: %s >= %s", i, names[i-1], names[i])
		}
	}
}
