package schema

import (
	"log"
	"sort"
	"sync"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/codec"
	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

// Validator checks wire-bound cell values against declared column types.
// It runs purely on the declared type and the shape of the value and makes
// no network calls. A single Validator is safe for concurrent use.
type Validator struct {
	mu     sync.Mutex
	warned map[string]bool
}

// NewValidator creates a new cell validator.
func NewValidator() *Validator {
	return &Validator{
		warned: make(map[string]bool),
	}
}

func baseTypeOf(declaredType string) string {
	return core.BaseType(declaredType)
}

// ValidateCell validates a single value against a column's declared type.
// Returns a *CellError describing the violation, or nil when the value is
// acceptable. nil values are acceptable for every type.
func (v *Validator) ValidateCell(value any, col core.Column) *CellError {
	if value == nil {
		return nil
	}

	switch baseTypeOf(col.Type) {
	case core.TypeBool:
		if _, ok := value.(bool); !ok {
			return v.cellError(col, value, KindTypeMismatch, "value must be true, false or null")
		}
	case core.TypeNumeric, core.TypeInt:
		if !isNumber(value) {
			return v.cellError(col, value, KindTypeMismatch, "value must be a number or null")
		}
	case core.TypeText, core.TypeChoice:
		if _, ok := value.(string); !ok {
			return v.cellError(col, value, KindTypeMismatch, "value must be a string or null")
		}
	case core.TypeDate:
		return v.validateDate(value, col, false)
	case core.TypeDateTime:
		return v.validateDate(value, col, true)
	case core.TypeChoiceList:
		return v.validateList(value, col, isString, "string")
	case core.TypeRefList, core.TypeAttachments:
		return v.validateList(value, col, isNumber, "number")
	case core.TypeRef:
		return v.validateRef(value, col)
	default:
		// New backend column types should not become hard failures.
		// Accept the value and surface the type once so it gets noticed.
		v.warnUnknownType(col.Type)
	}
	return nil
}

// ValidateRecord validates every field of a record against the table's
// columns. It never stops at the first bad field: one error is collected
// per bad column across the whole record, so a caller can fix every problem
// in a single round trip. The returned slice is ordered by column id.
func (v *Validator) ValidateRecord(record map[string]any, columns []core.Column) []*CellError {
	byID := make(map[string]core.Column, len(columns))
	for _, col := range columns {
		byID[col.ID] = col
	}

	colIDs := make([]string, 0, len(record))
	for colID := range record {
		colIDs = append(colIDs, colID)
	}
	sort.Strings(colIDs)

	var errs []*CellError
	for _, colID := range colIDs {
		col, ok := byID[colID]
		if !ok {
			errs = append(errs, &CellError{
				Column:       colID,
				Value:        record[colID],
				Kind:         KindUnknownColumn,
				ObservedKind: valueKind(record[colID]),
				Detail:       "table has no such column",
			})
			continue
		}
		if cellErr := v.ValidateCell(record[colID], col); cellErr != nil {
			errs = append(errs, cellErr)
		}
	}
	return errs
}

// validateDate accepts a bare timestamp or a correctly-tagged sequence.
// A DateTime column additionally accepts the date tag (widening); a Date
// column does not accept the datetime tag.
func (v *Validator) validateDate(value any, col core.Column, isDateTime bool) *CellError {
	if isNumber(value) {
		return nil
	}
	tagged, ok := codec.ParseTagged(value)
	if !ok {
		return v.cellError(col, value, KindTypeMismatch, "value must be a timestamp or a tagged date sequence")
	}
	switch tagged.Tag {
	case codec.TagDate:
		return nil
	case codec.TagDateTime:
		if isDateTime {
			return nil
		}
		return v.cellError(col, value, KindInvalidEncoding, "a Date column does not accept the datetime tag")
	default:
		return v.cellError(col, value, KindInvalidEncoding, "wrong tag for a date value")
	}
}

// validateList accepts nil or a list-tagged sequence whose elements match
// the expected kind. An untagged array of the right element kind is a
// distinct error from a wrong tag or a wrong element kind: it means the
// encode step was skipped upstream.
func (v *Validator) validateList(value any, col core.Column, elemOK func(any) bool, elemKind string) *CellError {
	items, ok := asAnySlice(value)
	if !ok {
		return v.cellError(col, value, KindTypeMismatch, "value must be null or a tagged list")
	}

	if tagged, taggedOK := codec.ParseTagged(items); taggedOK {
		if tagged.Tag != codec.TagList && tagged.Tag != codec.TagReferenceList {
			return v.cellError(col, value, KindInvalidEncoding, "wrong tag for a list value")
		}
		for _, item := range tagged.Payload {
			if !elemOK(item) {
				return v.cellError(col, value, KindInvalidEncoding, "list elements must each be a "+elemKind)
			}
		}
		return nil
	}

	// Not a recognized tagged sequence. A leading one-character string
	// that is not in the tag vocabulary is an unrecognized tag; an array
	// whose elements all have the right kind is missing its tag entirely.
	if len(items) > 0 {
		if s, isStr := items[0].(string); isStr && len(s) == 1 && !codec.KnownTag(s) {
			return v.cellError(col, value, KindInvalidEncoding, "unrecognized wire tag "+s)
		}
	}
	allMatch := true
	for _, item := range items {
		if !elemOK(item) {
			allMatch = false
			break
		}
	}
	if allMatch {
		return v.cellError(col, value, KindMissingTag,
			"array of "+elemKind+"s is missing its list tag; the value appears not to have been wire-encoded")
	}
	return v.cellError(col, value, KindInvalidEncoding, "list elements must each be a "+elemKind)
}

func (v *Validator) validateRef(value any, col core.Column) *CellError {
	if _, ok := core.AsInt64(value); ok {
		return nil
	}
	if tagged, ok := codec.ParseTagged(value); ok {
		if tagged.Tag == codec.TagReference {
			return nil
		}
		return v.cellError(col, value, KindInvalidEncoding, "wrong tag for a reference value")
	}
	return v.cellError(col, value, KindTypeMismatch, "value must be a row id or a tagged reference sequence")
}

func (v *Validator) cellError(col core.Column, value any, kind ErrorKind, detail string) *CellError {
	return &CellError{
		Column:       col.ID,
		DeclaredType: col.Type,
		Value:        value,
		Kind:         kind,
		ObservedKind: valueKind(value),
		Example:      exampleFor(col.Type),
		Detail:       detail,
	}
}

// warnUnknownType logs once per declared type so new backend types are
// noticed without breaking callers.
func (v *Validator) warnUnknownType(declaredType string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.warned[declaredType] {
		return
	}
	v.warned[declaredType] = true
	log.Printf("[SCHEMA] Unrecognized column type %q - accepting values without validation", declaredType)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

// asAnySlice widens typed slices so validation sees one shape.
func asAnySlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return items, true
	case []int:
		items := make([]any, len(v))
		for i, n := range v {
			items[i] = n
		}
		return items, true
	case []int64:
		items := make([]any, len(v))
		for i, n := range v {
			items[i] = n
		}
		return items, true
	case []float64:
		items := make([]any, len(v))
		for i, n := range v {
			items[i] = n
		}
		return items, true
	default:
		return nil, false
	}
}
