// Package verify confirms that a mutation actually took effect by reading
// the affected rows back and comparing them field-by-field against what was
// written. Both sides are normalized through the value codec first, so a
// date written as "2024-01-15" matches the epoch timestamp the backend
// stores for it.
package verify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/codec"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

// Options configures one verification pass.
type Options struct {
	// Fields restricts the comparison to the named fields. When empty,
	// every field present in a written record is compared.
	Fields []string

	// Types maps column ids to declared types, used to normalize both
	// sides before comparing.
	Types core.ColumnTypeMap
}

// Check is one comparison between an intended value and the value read
// back. A missing row produces a single failing check with the "id" field.
type Check struct {
	RowID    int64  `json:"rowId"`
	Field    string `json:"field"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
	Pass     bool   `json:"pass"`
}

// Result aggregates the checks of one verification pass.
type Result struct {
	Checks []Check `json:"checks"`
}

// Passed reports whether every check passed.
func (r *Result) Passed() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// Failures returns only the failing checks.
func (r *Result) Failures() []Check {
	var failed []Check
	for _, check := range r.Checks {
		if !check.Pass {
			failed = append(failed, check)
		}
	}
	return failed
}

// Summary renders a short human-readable account of the pass.
func (r *Result) Summary() string {
	failed := r.Failures()
	if len(failed) == 0 {
		return fmt.Sprintf("all %d check(s) passed", len(r.Checks))
	}
	parts := make([]string, len(failed))
	for i, check := range failed {
		parts[i] = fmt.Sprintf("row %d field %q: wrote %v, read %v", check.RowID, check.Field, check.Expected, check.Actual)
	}
	return fmt.Sprintf("%d of %d check(s) failed: %s", len(failed), len(r.Checks), strings.Join(parts, "; "))
}

// Records compares written records against their read-back counterparts.
// written[i] is the row with id ids[i]; read holds the rows as the backend
// returned them. A written row absent from read yields one failing check on
// its id; present rows are compared field-by-field after normalizing both
// sides through an encode-then-decode round trip.
func Records(written []map[string]any, ids []int64, read []core.RowRecord, opts Options) (*Result, error) {
	if len(written) != len(ids) {
		return nil, fmt.Errorf("got %d written records for %d row ids", len(written), len(ids))
	}

	byID := make(map[int64]core.RowRecord, len(read))
	for _, row := range read {
		byID[row.ID] = row
	}

	result := &Result{}
	for i, record := range written {
		id := ids[i]
		row, ok := byID[id]
		if !ok {
			result.Checks = append(result.Checks, Check{
				RowID:    id,
				Field:    "id",
				Expected: id,
				Actual:   nil,
				Pass:     false,
			})
			continue
		}

		for _, field := range fieldsToCompare(record, opts.Fields) {
			expected, err := normalize(record[field], opts.Types[field])
			if err != nil {
				return nil, fmt.Errorf("row %d field %q: %w", id, field, err)
			}
			actual, err := normalize(row.Fields[field], opts.Types[field])
			if err != nil {
				return nil, fmt.Errorf("row %d field %q: %w", id, field, err)
			}
			result.Checks = append(result.Checks, Check{
				RowID:    id,
				Field:    field,
				Expected: expected,
				Actual:   actual,
				Pass:     valuesEqual(expected, actual),
			})
		}
	}
	return result, nil
}

// Exists confirms that every given row id appears among the read rows.
// Used where per-field pairing is unavailable, e.g. after an upsert whose
// matches reordered the affected rows.
func Exists(ids []int64, read []core.RowRecord) *Result {
	byID := make(map[int64]struct{}, len(read))
	for _, row := range read {
		byID[row.ID] = struct{}{}
	}

	result := &Result{}
	for _, id := range ids {
		_, present := byID[id]
		check := Check{RowID: id, Field: "id", Expected: id, Pass: present}
		if present {
			check.Actual = id
		}
		result.Checks = append(result.Checks, check)
	}
	return result
}

// Deleted confirms that none of the given row ids survive among the
// remaining rows. Each id yields one check; an id still present fails.
func Deleted(ids []int64, remaining []core.RowRecord) *Result {
	existing := make(map[int64]struct{}, len(remaining))
	for _, row := range remaining {
		existing[row.ID] = struct{}{}
	}

	result := &Result{}
	for _, id := range ids {
		_, present := existing[id]
		check := Check{RowID: id, Field: "id", Expected: nil, Pass: !present}
		if present {
			check.Actual = id
		}
		result.Checks = append(result.Checks, check)
	}
	return result
}

func fieldsToCompare(record map[string]any, fields []string) []string {
	if len(fields) > 0 {
		return fields
	}
	ordered := make([]string, 0, len(record))
	for field := range record {
		ordered = append(ordered, field)
	}
	sort.Strings(ordered)
	return ordered
}

// normalize maps a value into a canonical form for comparison: encode to
// wire form, decode back to natural form. Both a natural value and its wire
// form land on the same representative, so "2024-01-15" and 1705276800
// compare equal in a Date column.
func normalize(value any, declaredType string) (any, error) {
	wire, err := codec.Encode(value, declaredType)
	if err != nil {
		return nil, err
	}
	return codec.Decode(wire, declaredType)
}

// valuesEqual is deep equality with numeric widening: 3 and 3.0 are the
// same cell value regardless of how JSON decoding typed them. Nested field
// maps are compared key-by-key.
func valuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}

	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}

	if as, aok := asSlice(a); aok {
		bs, bok := asSlice(b)
		if !bok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !valuesEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}

	if am, aok := a.(map[string]any); aok {
		bm, bok := b.(map[string]any)
		if !bok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !valuesEqual(av, bv) {
				return false
			}
		}
		return true
	}

	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	case []int64:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}
