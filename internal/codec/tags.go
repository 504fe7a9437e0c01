package codec

// Wire tags identifying how the remaining elements of a tagged sequence are
// interpreted. The vocabulary is fixed by the backend and must match
// byte-for-byte.
const (
	// TagList marks a multi-value sequence: ["L", v1, v2, ...].
	TagList = "L"

	// TagDate marks a date: ["d", epochSeconds].
	TagDate = "d"

	// TagDateTime marks an instant: ["D", epochSeconds, timezone].
	TagDateTime = "D"

	// TagReference marks a single row reference: ["R", tableId, rowId].
	TagReference = "R"

	// TagReferenceList marks a row reference list: ["r", tableId, [ids]].
	// For numeric payloads it carries the same semantics as TagList.
	TagReferenceList = "r"

	// Backend-reserved tags. Values carrying these are treated as opaque
	// and passed through on decode.
	TagDict           = "O"
	TagCensored       = "C"
	TagException      = "E"
	TagPending        = "P"
	TagUnmarshallable = "U"
)

// KnownTag reports whether s is a member of the wire tag vocabulary.
func KnownTag(s string) bool {
	switch s {
	case TagList, TagDate, TagDateTime, TagReference, TagReferenceList,
		TagDict, TagCensored, TagException, TagPending, TagUnmarshallable:
		return true
	default:
		return false
	}
}

// Tagged is the destructured form of a tagged wire sequence. Construct and
// take apart tagged sequences through Tagged/ParseTagged rather than
// indexing into raw slices, so the tag vocabulary stays centralized.
type Tagged struct {
	Tag     string
	Payload []any
}

// NewTagged builds a tagged value from a tag and its payload.
func NewTagged(tag string, payload ...any) Tagged {
	return Tagged{Tag: tag, Payload: payload}
}

// Wire renders the tagged value as its on-wire sequence form.
func (t Tagged) Wire() []any {
	wire := make([]any, 0, len(t.Payload)+1)
	wire = append(wire, t.Tag)
	return append(wire, t.Payload...)
}

// ParseTagged destructures v into a Tagged value. It succeeds only when v is
// a sequence whose first element is a known wire tag; a plain array is not a
// tagged value.
func ParseTagged(v any) (Tagged, bool) {
	seq, ok := v.([]any)
	if !ok || len(seq) == 0 {
		return Tagged{}, false
	}
	tag, ok := seq[0].(string)
	if !ok || !KnownTag(tag) {
		return Tagged{}, false
	}
	payload := make([]any, len(seq)-1)
	copy(payload, seq[1:])
	return Tagged{Tag: tag, Payload: payload}, true
}

// ListOf wraps items into a list-tagged wire sequence. An empty input
// produces the one-element sequence ["L"].
func ListOf(items []any) []any {
	return NewTagged(TagList, items...).Wire()
}
