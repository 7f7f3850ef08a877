package adapter

// AttributeType identifies the semantic type of a collection attribute.
type AttributeType string

const (
	TypeString  AttributeType = "string"
	TypeNumber  AttributeType = "number"
	TypeBoolean AttributeType = "boolean"
	TypeDate    AttributeType = "date"
	TypeJSON    AttributeType = "json"
	TypeRef     AttributeType = "ref"
)

// Attribute is a named column within a collection.
//
// Two attributes are equal iff every field is equal; inequality between a
// current and target attribute of the same name drives the alter diff's
// replace-in-place path.
type Attribute struct {
	Name          string
	Type          AttributeType
	Unique        bool
	Required      bool
	PrimaryKey    bool
	AutoIncrement bool
}

// Equal reports whether two attributes describe the same column.
func (a Attribute) Equal(b Attribute) bool {
	return a.Name == b.Name &&
		a.Type == b.Type &&
		a.Unique == b.Unique &&
		a.Required == b.Required &&
		a.PrimaryKey == b.PrimaryKey &&
		a.AutoIncrement == b.AutoIncrement
}

// Collection is a named, schema'd set of records.
type Collection struct {
	Name       string
	Attributes []Attribute
}

// Record is an opaque mapping from attribute name to value, owned by a
// single collection.
type Record map[string]any

// SortClause is one entry of a normalized criterion's order-by list.
// Direction is 1 for ascending, -1 for descending.
type SortClause struct {
	Attribute string
	Direction int
}

// Comparator is an opaque ordering function accepted in place of a sort
// clause list. It is the one legitimately dynamic shape criteria.Normalize
// passes through unexamined.
type Comparator func(a, b Record) bool

// Criterion is a normalized query descriptor.
type Criterion struct {
	Where      map[string]any
	Limit      int
	Skip       int
	Offset     int
	Order      []SortClause
	Comparator Comparator
}

// Config carries the facade-level behavior flags that originate from host
// configuration (see pkg/config) and are threaded down to every adapter call
// site that needs them.
type Config struct {
	CreatedAt bool
	UpdatedAt bool
}
