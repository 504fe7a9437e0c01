package schema

import (
	"fmt"
)

// ErrorKind classifies a cell validation failure.
type ErrorKind string

const (
	// KindTypeMismatch means the value's shape does not match the declared
	// type at all (e.g. a string in a Numeric column).
	KindTypeMismatch ErrorKind = "type_mismatch"

	// KindInvalidEncoding means the value is a tagged sequence with the
	// wrong tag or the wrong element kind for the declared type.
	KindInvalidEncoding ErrorKind = "invalid_encoding"

	// KindMissingTag means the value is an array of the right element kind
	// but lacks its required wire tag. This signals the encode step was
	// skipped upstream, a pipeline bug rather than a caller mistake.
	KindMissingTag ErrorKind = "missing_tag"

	// KindUnknownColumn means the record names a column the table does not
	// have.
	KindUnknownColumn ErrorKind = "unknown_column"
)

// CellError describes one invalid (column, value) pair. It carries enough
// structured detail for a caller to self-correct: the column id, the
// declared type, the offending value and its observed kind, and a worked
// example of a correct value.
type CellError struct {
	Column       string    `json:"column"`
	DeclaredType string    `json:"declared_type"`
	Value        any       `json:"value"`
	Kind         ErrorKind `json:"kind"`
	ObservedKind string    `json:"observed_kind"`
	Example      string    `json:"example,omitempty"`
	Detail       string    `json:"detail"`
}

func (e *CellError) Error() string {
	msg := fmt.Sprintf("column %q (%s): %s; got %s (%v)",
		e.Column, e.DeclaredType, e.Detail, e.ObservedKind, e.Value)
	if e.Example != "" {
		msg += fmt.Sprintf("; expected e.g. %s", e.Example)
	}
	return msg
}

// valueKind names the runtime shape of a value for error messages.
func valueKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case int, int32, int64, float32, float64:
		return "number"
	case string:
		return "string"
	case []any, []string, []int, []int64, []float64:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// exampleFor returns a worked example of a correct wire value for the
// declared type.
func exampleFor(declaredType string) string {
	switch baseTypeOf(declaredType) {
	case "Bool":
		return `true`
	case "Numeric":
		return `42.5`
	case "Int":
		return `42`
	case "Text", "Choice":
		return `"Blue"`
	case "Date":
		return `1705276800 or ["d", 1705276800]`
	case "DateTime":
		return `1705276800 or ["D", 1705276800, "UTC"]`
	case "ChoiceList":
		return `["L", "Red", "Blue"]`
	case "RefList", "Attachments":
		return `["L", 1, 2]`
	case "Ref":
		return `42 or ["R", "Customers", 42]`
	default:
		return ""
	}
}
