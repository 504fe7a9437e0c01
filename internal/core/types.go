package core

// Declared column type names, as they appear (possibly parameterized) in
// column metadata. BaseType strips the parameter before comparison.
const (
	TypeText        = "Text"
	TypeNumeric     = "Numeric"
	TypeInt         = "Int"
	TypeBool        = "Bool"
	TypeDate        = "Date"
	TypeDateTime    = "DateTime"
	TypeChoice      = "Choice"
	TypeChoiceList  = "ChoiceList"
	TypeRef         = "Ref"
	TypeRefList     = "RefList"
	TypeAttachments = "Attachments"
	TypeAny         = "Any"
)
