package clause

import "maps"

// JoinType is the kind of a join.
type JoinType string

// Join types.
const (
	InnerJoin JoinType = "INNER"
	LeftJoin  JoinType = "LEFT"
	RightJoin JoinType = "RIGHT"
)

// Join is one JOIN of the FROM clause.
type Join struct {
	Type  JoinType
	Table string
	On    string
}

// Order is one ORDER BY term.
type Order struct {
	Column    string
	Direction string
}

// RawExpr is a verbatim select expression with its own bindings.
type RawExpr struct {
	SQL      string
	Bindings []any
}

// Column is one entry of the select list: a column name or a raw expression.
type Column struct {
	Name string
	Raw  *RawExpr
}

// Aggregate is an aggregate function registered on the query.
type Aggregate struct {
	Func   string
	Column string
	Alias  string
}

// Union is a query combined with the base query.
type Union struct {
	All   bool
	Query *Descriptor
}

// ActionType identifies a pending write action.
type ActionType string

// Write actions.
const (
	ActionInsert         ActionType = "insert"
	ActionUpdate         ActionType = "update"
	ActionDelete         ActionType = "delete"
	ActionIncrement      ActionType = "increment"
	ActionDecrement      ActionType = "decrement"
	ActionUpdateOrInsert ActionType = "updateOrInsert"
)

// Valid reports whether t is one of the recognized write actions.
func (t ActionType) Valid() bool {
	switch t {
	case ActionInsert, ActionUpdate, ActionDelete, ActionIncrement, ActionDecrement, ActionUpdateOrInsert:
		return true
	}
	return false
}

// RequiresWhere reports whether the action refuses to run without a WHERE clause.
func (t ActionType) RequiresWhere() bool {
	switch t {
	case ActionUpdate, ActionDelete, ActionIncrement, ActionDecrement:
		return true
	}
	return false
}

// Action is the single pending write of a builder. Only the fields relevant
// to Type are set:
//
//	insert          Rows
//	update          Values
//	delete          -
//	increment       Column Amount Values(extra SET columns)
//	decrement       Column Amount Values(extra SET columns)
//	updateOrInsert  Attributes Values
type Action struct {
	Type       ActionType
	Rows       []map[string]any
	Values     map[string]any
	Attributes map[string]any
	Column     string
	Amount     any
}

// Clone returns a copy of a whose maps are copied one level deep.
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	c := *a
	c.Values = maps.Clone(a.Values)
	c.Attributes = maps.Clone(a.Attributes)
	if a.Rows != nil {
		c.Rows = make([]map[string]any, len(a.Rows))
		for i, r := range a.Rows {
			c.Rows[i] = maps.Clone(r)
		}
	}
	return &c
}

// Descriptor is the complete state of one query.
type Descriptor struct {
	Table      string
	Alias      string
	Columns    []Column
	Distinct   bool
	Joins      []Join
	Where      []Where
	Having     []Where
	Orders     []Order
	Groups     []string
	Limit      *int
	Offset     *int
	Aggregates []Aggregate
	Unions     []Union
	Pending    *Action
	Banks      []string
}

// New returns an empty descriptor for table.
func New(table string) *Descriptor {
	return &Descriptor{Table: table}
}

// Clone returns a structurally independent copy of d.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	if d.Columns != nil {
		c.Columns = make([]Column, len(d.Columns))
		for i, col := range d.Columns {
			if col.Raw != nil {
				col.Raw = &RawExpr{SQL: col.Raw.SQL, Bindings: cloneSlice(col.Raw.Bindings)}
			}
			c.Columns[i] = col
		}
	}
	c.Joins = cloneSlice(d.Joins)
	c.Where = CloneWheres(d.Where)
	c.Having = CloneWheres(d.Having)
	c.Orders = cloneSlice(d.Orders)
	c.Groups = cloneSlice(d.Groups)
	c.Aggregates = cloneSlice(d.Aggregates)
	c.Banks = cloneSlice(d.Banks)
	if d.Limit != nil {
		v := *d.Limit
		c.Limit = &v
	}
	if d.Offset != nil {
		v := *d.Offset
		c.Offset = &v
	}
	if d.Unions != nil {
		c.Unions = make([]Union, len(d.Unions))
		for i, u := range d.Unions {
			c.Unions[i] = Union{All: u.All, Query: u.Query.Clone()}
		}
	}
	c.Pending = d.Pending.Clone()
	return &c
}
