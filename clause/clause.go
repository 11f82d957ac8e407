// Package clause holds the query descriptor accumulated by the builder.
//
// A Descriptor is plain data: the builder mutates it, the compiler turns it
// into SQL and the simulation engine interprets it against in-memory rows.
// Nothing in this package generates SQL.
package clause

// Kind discriminates the variants of a Where clause.
type Kind uint8

// Where clause kinds.
const (
	KindBasic Kind = iota + 1
	KindColumn
	KindRaw
	KindIn
	KindNull
	KindBetween
	KindExists
	KindGroup
)

var kindNames = [...]string{
	KindBasic:   "basic",
	KindColumn:  "column",
	KindRaw:     "raw",
	KindIn:      "in",
	KindNull:    "null",
	KindBetween: "between",
	KindExists:  "exists",
	KindGroup:   "group",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// Logical is the connective placed before a clause that is not first in its list.
type Logical string

// Logical connectives.
const (
	And Logical = "AND"
	Or  Logical = "OR"
)

// Where is one WHERE or HAVING predicate. Fields are used according to Kind:
//
//	basic   Column Operator Value (Dialect is set for ILIKE)
//	column  Column Operator Other
//	raw     SQL Bindings
//	in      Column Values Not
//	null    Column Not
//	between Column Low High Not
//	exists  Sub Not
//	group   Group
type Where struct {
	Kind     Kind
	Logical  Logical
	Column   string
	Operator string
	Value    any
	Other    string
	SQL      string
	Bindings []any
	Values   []any
	Low      any
	High     any
	Not      bool
	Sub      *Descriptor
	Group    []Where
	Dialect  string
}

// Basic returns a "column operator ?" clause.
func Basic(column, op string, value any) Where {
	return Where{Kind: KindBasic, Logical: And, Column: column, Operator: op, Value: value}
}

// ColumnCompare returns a "column operator other" clause comparing two columns.
func ColumnCompare(column, op, other string) Where {
	return Where{Kind: KindColumn, Logical: And, Column: column, Operator: op, Other: other}
}

// Raw returns a verbatim SQL clause with its own bindings.
func Raw(sql string, bindings ...any) Where {
	return Where{Kind: KindRaw, Logical: And, SQL: sql, Bindings: bindings}
}

// In returns an IN (or NOT IN) clause.
func In(column string, values []any, not bool) Where {
	return Where{Kind: KindIn, Logical: And, Column: column, Values: values, Not: not}
}

// Null returns an IS NULL (or IS NOT NULL) clause.
func Null(column string, not bool) Where {
	return Where{Kind: KindNull, Logical: And, Column: column, Not: not}
}

// Between returns a BETWEEN (or NOT BETWEEN) clause.
func Between(column string, low, high any, not bool) Where {
	return Where{Kind: KindBetween, Logical: And, Column: column, Low: low, High: high, Not: not}
}

// Exists returns an EXISTS (or NOT EXISTS) clause over a subquery.
func Exists(sub *Descriptor, not bool) Where {
	return Where{Kind: KindExists, Logical: And, Sub: sub, Not: not}
}

// Group returns a parenthesized list of clauses.
func Group(clauses []Where) Where {
	return Where{Kind: KindGroup, Logical: And, Group: clauses}
}

// WithLogical returns a copy of w using the given connective.
func (w Where) WithLogical(l Logical) Where {
	w.Logical = l
	return w
}

// Clone returns a copy of w that shares no slices or descriptors with it.
func (w Where) Clone() Where {
	c := w
	c.Bindings = cloneSlice(w.Bindings)
	c.Values = cloneSlice(w.Values)
	if w.Group != nil {
		c.Group = CloneWheres(w.Group)
	}
	if w.Sub != nil {
		c.Sub = w.Sub.Clone()
	}
	return c
}

// CloneWheres deep-copies a clause list.
func CloneWheres(ws []Where) []Where {
	if ws == nil {
		return nil
	}
	out := make([]Where, len(ws))
	for i := range ws {
		out[i] = ws[i].Clone()
	}
	return out
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
