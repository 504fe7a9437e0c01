package codec

import (
	"fmt"
	"time"

	"github.com/gwhthompson/grist-mcp-server-sub000/internal/core"
)

// The codec converts between natural cell values (ISO strings, plain
// arrays) and the backend's tagged wire encoding. Both directions are pure
// functions of the declared column type: the integer 42 is a reference id
// in a Ref column but a plain number in a Numeric column.
//
// Laws:
//   - Decode(Encode(x, t), t) == x for every x valid under t.
//   - Encode(nil, t) == nil and Decode(nil, t) == nil for every t.
//   - An empty list encodes to ["L"] and decodes back to an empty list.

const dateLayout = "2006-01-02"

// datetimeLayouts are accepted when encoding a DateTime value, tried in
// order. Decoding always emits RFC3339 in UTC.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dateLayout,
}

// Encode converts a natural value into its wire form for a column of the
// given declared type. nil passes through unchanged for every type. Values
// the codec cannot interpret are returned unchanged; shape enforcement is
// the validator's job.
func Encode(value any, declaredType string) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch core.BaseType(declaredType) {
	case core.TypeDate:
		return encodeDate(value, declaredType)
	case core.TypeDateTime:
		return encodeDateTime(value, declaredType)
	case core.TypeChoiceList:
		return encodeStringList(value), nil
	case core.TypeRefList, core.TypeAttachments:
		return encodeNumberList(value), nil
	default:
		// Ref, Text, Numeric, Int, Bool, Choice and unrecognized types
		// all go over the wire unchanged.
		return value, nil
	}
}

// Decode converts a wire value back into its natural form for a column of
// the given declared type. nil passes through unchanged for every type.
// Values tagged with backend-reserved tags are passed through opaquely.
func Decode(value any, declaredType string) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch core.BaseType(declaredType) {
	case core.TypeDate:
		return decodeDate(value), nil
	case core.TypeDateTime:
		return decodeDateTime(value), nil
	case core.TypeChoiceList, core.TypeRefList, core.TypeAttachments:
		return decodeList(value), nil
	case core.TypeRef:
		return decodeRef(value), nil
	case core.TypeText, core.TypeNumeric, core.TypeInt, core.TypeBool, core.TypeChoice:
		return value, nil
	default:
		// Unrecognized type: strip a generic list tag if present,
		// otherwise pass the value through untouched.
		if tagged, ok := ParseTagged(value); ok && tagged.Tag == TagList {
			return tagged.Payload, nil
		}
		return value, nil
	}
}

// EncodeRecord encodes every field of a record using the column type map.
// Fields without a declared type pass through unchanged.
func EncodeRecord(record map[string]any, types core.ColumnTypeMap) (map[string]any, error) {
	encoded := make(map[string]any, len(record))
	for colID, value := range record {
		wire, err := Encode(value, types[colID])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", colID, err)
		}
		encoded[colID] = wire
	}
	return encoded, nil
}

// DecodeRecord decodes every field of a wire record using the column type
// map.
func DecodeRecord(record map[string]any, types core.ColumnTypeMap) (map[string]any, error) {
	decoded := make(map[string]any, len(record))
	for colID, value := range record {
		natural, err := Decode(value, types[colID])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", colID, err)
		}
		decoded[colID] = natural
	}
	return decoded, nil
}

func encodeDate(value any, declaredType string) (any, error) {
	// Bare timestamps are already wire form.
	if isNumber(value) {
		return value, nil
	}
	if s, ok := value.(string); ok {
		t, err := time.ParseInLocation(dateLayout, s, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("cannot encode %q as %s: expected %q", s, declaredType, dateLayout)
		}
		return t.Unix(), nil
	}
	// Already-tagged sequences and anything else pass through; the
	// validator decides whether the shape is acceptable.
	return value, nil
}

func encodeDateTime(value any, declaredType string) (any, error) {
	if isNumber(value) {
		return value, nil
	}
	if s, ok := value.(string); ok {
		for _, layout := range datetimeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t.Unix(), nil
			}
		}
		return nil, fmt.Errorf("cannot encode %q as %s: expected an ISO-8601 datetime", s, declaredType)
	}
	return value, nil
}

func encodeStringList(value any) any {
	switch v := value.(type) {
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return ListOf(items)
	case []any:
		if _, ok := ParseTagged(v); ok {
			return v
		}
		return ListOf(v)
	default:
		return value
	}
}

func encodeNumberList(value any) any {
	switch v := value.(type) {
	case []int:
		items := make([]any, len(v))
		for i, n := range v {
			items[i] = int64(n)
		}
		return ListOf(items)
	case []int64:
		items := make([]any, len(v))
		for i, n := range v {
			items[i] = n
		}
		return ListOf(items)
	case []float64:
		items := make([]any, len(v))
		for i, n := range v {
			items[i] = n
		}
		return ListOf(items)
	case []any:
		if _, ok := ParseTagged(v); ok {
			return v
		}
		return ListOf(v)
	default:
		return value
	}
}

func decodeDate(value any) any {
	if sec, ok := asSeconds(value); ok {
		return time.Unix(sec, 0).UTC().Format(dateLayout)
	}
	if tagged, ok := ParseTagged(value); ok && tagged.Tag == TagDate && len(tagged.Payload) >= 1 {
		if sec, ok := asSeconds(tagged.Payload[0]); ok {
			return time.Unix(sec, 0).UTC().Format(dateLayout)
		}
	}
	return value
}

func decodeDateTime(value any) any {
	// The stored instant is timezone-invariant; the column's configured
	// display zone affects rendering only, so decoding always yields UTC.
	if sec, ok := asSeconds(value); ok {
		return time.Unix(sec, 0).UTC().Format(time.RFC3339)
	}
	if tagged, ok := ParseTagged(value); ok && len(tagged.Payload) >= 1 {
		switch tagged.Tag {
		case TagDateTime, TagDate:
			if sec, ok := asSeconds(tagged.Payload[0]); ok {
				return time.Unix(sec, 0).UTC().Format(time.RFC3339)
			}
		}
	}
	return value
}

func decodeList(value any) any {
	if tagged, ok := ParseTagged(value); ok {
		switch tagged.Tag {
		case TagList, TagReferenceList:
			return tagged.Payload
		}
	}
	return value
}

func decodeRef(value any) any {
	if tagged, ok := ParseTagged(value); ok && tagged.Tag == TagReference {
		// ["R", tableId, rowId]: the row id is the last element.
		if len(tagged.Payload) >= 1 {
			return tagged.Payload[len(tagged.Payload)-1]
		}
	}
	return value
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

// asSeconds interprets v as an epoch-seconds timestamp. Fractional seconds
// are truncated.
func asSeconds(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
