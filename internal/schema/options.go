package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// WidgetOptions is the subset of a column's widget options blob that the
// pipeline cares about. The blob is backend-controlled JSON text; fields we
// do not model are ignored.
type WidgetOptions struct {
	// Choices is the configured choice set for Choice/ChoiceList columns.
	// Empty means the column accepts any value.
	Choices []string `json:"choices"`
}

// ParseWidgetOptions parses a column's raw widget options blob. An empty
// blob yields zero options; malformed JSON is an error so schema problems
// surface instead of silently disabling choice checks.
func ParseWidgetOptions(raw string) (WidgetOptions, error) {
	var opts WidgetOptions
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return opts, nil
	}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return opts, fmt.Errorf("malformed widget options: %w", err)
	}
	return opts, nil
}

// HasChoice reports whether value is a member of the configured choice set.
// An empty choice set admits everything.
func (o WidgetOptions) HasChoice(value string) bool {
	if len(o.Choices) == 0 {
		return true
	}
	for _, choice := range o.Choices {
		if choice == value {
			return true
		}
	}
	return false
}
