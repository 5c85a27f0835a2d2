package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema defines the required fields per structured log event so the
// emitters stay consistent and dashboards keep parsing.
type Schema struct {
	Event    string
	Required []string
}

var schemas = map[string]Schema{
	"tick_summary": {
		Event:    "tick_summary",
		Required: []string{"active", "actions", "failures", "duration_ms"},
	},
	"order_place": {
		Event:    "order_place",
		Required: []string{"instrument", "side", "price", "size"},
	},
	"order_cancel": {
		Event:    "order_cancel",
		Required: []string{"instrument", "orderId", "reason"},
	},
	"position_close": {
		Event:    "position_close",
		Required: []string{"instrument", "side", "size"},
	},
	"gate_reject": {
		Event:    "gate_reject",
		Required: []string{"instrument", "reason"},
	},
	"action_error": {
		Event:    "action_error",
		Required: []string{"instrument", "action", "error"},
	},
	"instrument_status": {
		Event:    "instrument_status",
		Required: []string{"instrument", "spread", "state"},
	},
}

// Known returns all event names, useful for doc generation.
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the fields carry every key the event's schema needs.
// Unknown events pass.
func Validate(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ","))
	}
	return nil
}
