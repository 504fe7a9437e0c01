package core

import (
	"strings"
)

// Column describes a single column of a Grist table as returned by the
// column metadata endpoint.
type Column struct {
	// ID is the column identifier (the key used in record field maps).
	ID string `json:"id"`

	// Type is the declared column type string. It may be parameterized,
	// e.g. "Ref:Customers" or "DateTime:America/New_York".
	Type string `json:"type"`

	// Label is the human-readable column label.
	Label string `json:"label,omitempty"`

	// Formula is the formula text for formula columns.
	Formula string `json:"formula,omitempty"`

	// IsFormula indicates whether the column is computed by a formula.
	IsFormula bool `json:"isFormula,omitempty"`

	// WidgetOptions is the raw widget options blob (JSON text). For
	// Choice/ChoiceList columns it carries the configured choice set.
	WidgetOptions string `json:"widgetOptions,omitempty"`

	// VisibleCol is the numeric id of the column shown for reference
	// columns, or 0 when not set.
	VisibleCol int64 `json:"visibleCol,omitempty"`
}

// ColumnTypeMap maps a column id to its declared type string. It is derived
// from a column list for a single validation or encode pass and never cached.
type ColumnTypeMap map[string]string

// TypesOf builds a ColumnTypeMap from a column list.
func TypesOf(columns []Column) ColumnTypeMap {
	types := make(ColumnTypeMap, len(columns))
	for _, col := range columns {
		types[col.ID] = col.Type
	}
	return types
}

// BaseType strips any parameter from a declared type string.
// "Ref:Customers" becomes "Ref", "DateTime:UTC" becomes "DateTime".
func BaseType(declaredType string) string {
	if idx := strings.Index(declaredType, ":"); idx > 0 {
		return declaredType[:idx]
	}
	return declaredType
}

// TypeParam returns the parameter of a declared type string, or "" when the
// type carries none. For "Ref:Customers" it returns "Customers".
func TypeParam(declaredType string) string {
	if idx := strings.Index(declaredType, ":"); idx > 0 {
		return declaredType[idx+1:]
	}
	return ""
}
