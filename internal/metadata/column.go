package metadata

import (
	"encoding/json"
	"fmt"

	"resume-backend/internal/document"
)

// ColumnType is the closed set of value kinds a table column can hold.
type ColumnType string

const (
	ColumnText     ColumnType = "text"
	ColumnEmail    ColumnType = "email"
	ColumnPhone    ColumnType = "phone"
	ColumnNumber   ColumnType = "number"
	ColumnDate     ColumnType = "date"
	ColumnSelect   ColumnType = "select"
	ColumnBoolean  ColumnType = "boolean"
	ColumnAddress  ColumnType = "address"
	ColumnArray    ColumnType = "array"
	ColumnColor    ColumnType = "color"
	ColumnTextarea ColumnType = "textarea"
	ColumnHidden   ColumnType = "hidden"
)

// ColumnTypes lists every column type in declaration order.
var ColumnTypes = []ColumnType{
	ColumnText, ColumnEmail, ColumnPhone, ColumnNumber, ColumnDate, ColumnSelect,
	ColumnBoolean, ColumnAddress, ColumnArray, ColumnColor, ColumnTextarea, ColumnHidden,
}

// ColumnVisitor has one method per column type. Cell renderers and form
// editors implement it, so adding a column type breaks the build until
// every implementation handles the new kind.
type ColumnVisitor[T any] interface {
	Text(c *Column) T
	Email(c *Column) T
	Phone(c *Column) T
	Number(c *Column) T
	Date(c *Column) T
	Select(c *Column) T
	Boolean(c *Column) T
	Address(c *Column) T
	Array(c *Column) T
	Color(c *Column) T
	Textarea(c *Column) T
	Hidden(c *Column) T
}

// VisitColumn dispatches c to the visitor method matching its type.
// Unknown types cannot reach here: Column.UnmarshalJSON and
// TableConfig.Validate reject them.
func VisitColumn[T any](c *Column, v ColumnVisitor[T]) T {
	switch c.Type {
	case ColumnEmail:
		return v.Email(c)
	case ColumnPhone:
		return v.Phone(c)
	case ColumnNumber:
		return v.Number(c)
	case ColumnDate:
		return v.Date(c)
	case ColumnSelect:
		return v.Select(c)
	case ColumnBoolean:
		return v.Boolean(c)
	case ColumnAddress:
		return v.Address(c)
	case ColumnArray:
		return v.Array(c)
	case ColumnColor:
		return v.Color(c)
	case ColumnTextarea:
		return v.Textarea(c)
	case ColumnHidden:
		return v.Hidden(c)
	default:
		return v.Text(c)
	}
}

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	for _, known := range ColumnTypes {
		if t == known {
			return true
		}
	}
	return false
}

// FilterOperator is a comparison a filter applies to a column.
type FilterOperator string

const (
	OpEquals      FilterOperator = "equals"
	OpNotEquals   FilterOperator = "notEquals"
	OpContains    FilterOperator = "contains"
	OpNotContains FilterOperator = "notContains"
)

var (
	textOperators  = []FilterOperator{OpEquals, OpNotEquals, OpContains, OpNotContains}
	exactOperators = []FilterOperator{OpEquals, OpNotEquals}
)

// operatorsVisitor derives the filter operators a column type supports.
type operatorsVisitor struct{}

func (operatorsVisitor) Text(*Column) []FilterOperator     { return textOperators }
func (operatorsVisitor) Email(*Column) []FilterOperator    { return textOperators }
func (operatorsVisitor) Phone(*Column) []FilterOperator    { return textOperators }
func (operatorsVisitor) Number(*Column) []FilterOperator   { return exactOperators }
func (operatorsVisitor) Date(*Column) []FilterOperator     { return exactOperators }
func (operatorsVisitor) Select(*Column) []FilterOperator   { return textOperators }
func (operatorsVisitor) Boolean(*Column) []FilterOperator  { return exactOperators }
func (operatorsVisitor) Address(*Column) []FilterOperator  { return textOperators }
func (operatorsVisitor) Array(*Column) []FilterOperator    { return textOperators }
func (operatorsVisitor) Color(*Column) []FilterOperator    { return exactOperators }
func (operatorsVisitor) Textarea(*Column) []FilterOperator { return textOperators }
func (operatorsVisitor) Hidden(*Column) []FilterOperator   { return nil }

// ArrayType describes the element shape of an array column.
type ArrayType string

const (
	ArrayOfStrings   ArrayType = "string"
	ArrayOfLineItems ArrayType = "lineItem"
	ArrayOfContacts  ArrayType = "contact"
)

// Option is one choice of a select column.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Column describes one displayable field of a table.
type Column struct {
	ID             string        `json:"id"`
	Header         string        `json:"header"`
	AccessorKey    string        `json:"accessorKey"`
	Type           ColumnType    `json:"type"`
	Sortable       bool          `json:"sortable"`
	Filterable     bool          `json:"filterable"`
	DefaultVisible bool          `json:"defaultVisible"`
	Options        []Option      `json:"options,omitempty"`
	ArrayType      ArrayType     `json:"arrayType,omitempty"`
	Currency       bool          `json:"currency,omitempty"`
	Path           document.Path `json:"-"`
}

// UnmarshalJSON parses the column and its accessor path, rejecting
// unknown types.
func (c *Column) UnmarshalJSON(data []byte) error {
	type alias Column
	a := alias{DefaultVisible: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Type == "" {
		a.Type = ColumnText
	}
	if !a.Type.Valid() {
		return fmt.Errorf("column %q: unknown type %q", a.ID, a.Type)
	}
	*c = Column(a)
	return c.compile()
}

func (c *Column) compile() error {
	if c.AccessorKey == "" {
		c.AccessorKey = c.ID
	}
	if c.ID == "" {
		c.ID = c.AccessorKey
	}
	p, err := document.ParsePath(c.AccessorKey)
	if err != nil {
		return fmt.Errorf("column %q: %w", c.ID, err)
	}
	if !p.IsIdentifier() {
		return fmt.Errorf("column %q: accessor %q must be a dotted identifier path", c.ID, c.AccessorKey)
	}
	c.Path = p
	return nil
}

// Operators returns the filter operators valid for this column.
func (c *Column) Operators() []FilterOperator {
	if !c.Filterable {
		return nil
	}
	return VisitColumn[[]FilterOperator](c, operatorsVisitor{})
}

// AllowsOperator reports whether op may filter this column.
func (c *Column) AllowsOperator(op FilterOperator) bool {
	for _, o := range c.Operators() {
		if o == op {
			return true
		}
	}
	return false
}

// HasOption reports whether value is one of a select column's options.
func (c *Column) HasOption(value string) bool {
	for _, o := range c.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}
