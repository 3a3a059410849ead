package schema

import "sort"

// FieldType is the type tag of an Active Table column.
type FieldType string

const (
	ShortText               FieldType = "SHORT_TEXT"
	LongText                FieldType = "LONG_TEXT"
	RichText                FieldType = "RICH_TEXT"
	Integer                 FieldType = "INTEGER"
	Numeric                 FieldType = "NUMERIC"
	Date                    FieldType = "DATE"
	DateTime                FieldType = "DATETIME"
	Time                    FieldType = "TIME"
	CheckboxYesNo           FieldType = "CHECKBOX_YES_NO"
	SelectOne               FieldType = "SELECT_ONE"
	SelectList              FieldType = "SELECT_LIST"
	CheckboxList            FieldType = "CHECKBOX_LIST"
	SelectOneRecord         FieldType = "SELECT_ONE_RECORD"
	SelectListRecord        FieldType = "SELECT_LIST_RECORD"
	SelectOneWorkspaceUser  FieldType = "SELECT_ONE_WORKSPACE_USER"
	SelectListWorkspaceUser FieldType = "SELECT_LIST_WORKSPACE_USER"
	FirstReferenceRecord    FieldType = "FIRST_REFERENCE_RECORD"
)

// Category tells how a field's values are protected on the wire.
type Category int

const (
	// CategoryReference values are identifiers that stay plaintext so
	// the backend can join on them. They are never hashed.
	CategoryReference Category = iota
	// CategoryEquality values are encrypted and carry an equality hash.
	CategoryEquality
	// CategoryKeyword values are encrypted, carry an equality hash and
	// may additionally be tokenized into keyword hashes.
	CategoryKeyword
)

func (c Category) String() string {
	switch c {
	case CategoryReference:
		return "reference"
	case CategoryEquality:
		return "equality"
	case CategoryKeyword:
		return "keyword"
	}
	return "unknown"
}

// Shape is the in-memory shape of a decoded value.
type Shape int

const (
	ShapeScalar Shape = iota
	ShapeInteger
	ShapeNumber
	ShapeBoolean
	ShapeArray
)

func (s Shape) String() string {
	switch s {
	case ShapeScalar:
		return "scalar"
	case ShapeInteger:
		return "integer"
	case ShapeNumber:
		return "number"
	case ShapeBoolean:
		return "boolean"
	case ShapeArray:
		return "array"
	}
	return "unknown"
}

// TypeInfo is the registry entry for one field type.
type TypeInfo struct {
	Category Category
	Shape    Shape
}

// registry is the single source of truth for field type handling.
var registry = map[FieldType]TypeInfo{
	ShortText:               {CategoryKeyword, ShapeScalar},
	LongText:                {CategoryKeyword, ShapeScalar},
	RichText:                {CategoryKeyword, ShapeScalar},
	Integer:                 {CategoryEquality, ShapeInteger},
	Numeric:                 {CategoryEquality, ShapeNumber},
	Date:                    {CategoryEquality, ShapeScalar},
	DateTime:                {CategoryEquality, ShapeScalar},
	Time:                    {CategoryEquality, ShapeScalar},
	CheckboxYesNo:           {CategoryEquality, ShapeBoolean},
	SelectOne:               {CategoryEquality, ShapeScalar},
	SelectList:              {CategoryEquality, ShapeArray},
	CheckboxList:            {CategoryEquality, ShapeArray},
	SelectOneRecord:         {CategoryReference, ShapeScalar},
	SelectListRecord:        {CategoryReference, ShapeArray},
	SelectOneWorkspaceUser:  {CategoryReference, ShapeScalar},
	SelectListWorkspaceUser: {CategoryReference, ShapeArray},
	FirstReferenceRecord:    {CategoryReference, ShapeScalar},
}

// Lookup returns the registry entry for t.
func Lookup(t FieldType) (TypeInfo, bool) {
	info, ok := registry[t]
	return info, ok
}

// Types returns every registered field type in lexical order.
func Types() []FieldType {
	types := make([]FieldType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Valid reports whether t is a registered field type.
func (t FieldType) Valid() bool {
	_, ok := registry[t]
	return ok
}

// Reference reports whether values of t are identifiers that must stay
// plaintext. Unknown types are not references.
func (t FieldType) Reference() bool {
	info, ok := registry[t]
	return ok && info.Category == CategoryReference
}

// Encrypted reports whether values of t are encrypted on the wire.
func (t FieldType) Encrypted() bool {
	info, ok := registry[t]
	return ok && info.Category != CategoryReference
}

// KeywordEligible reports whether t may be listed in a table's
// hashed keyword fields.
func (t FieldType) KeywordEligible() bool {
	info, ok := registry[t]
	return ok && info.Category == CategoryKeyword
}

// Shape returns the decoded value shape of t. Unknown types are scalars.
func (t FieldType) Shape() Shape {
	return registry[t].Shape
}
