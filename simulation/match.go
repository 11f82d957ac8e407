package simulation

import (
	"cmp"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/syssam/qb/clause"
	"github.com/syssam/qb/dialect"
)

// Filter returns the rows matching ws.
func Filter(rows []dialect.Row, ws []clause.Where) []dialect.Row {
	if len(ws) == 0 {
		return rows
	}
	out := make([]dialect.Row, 0, len(rows))
	for _, r := range rows {
		if Match(r, ws) {
			out = append(out, r)
		}
	}
	return out
}

// Match reports whether r satisfies the clause list. AND binds tighter than
// OR, as in SQL: "a OR b AND c" is "a OR (b AND c)". Raw and EXISTS clauses
// cannot be evaluated in memory and match every row.
func Match(r dialect.Row, ws []clause.Where) bool {
	if len(ws) == 0 {
		return true
	}
	conj := true
	for i, w := range ws {
		if i > 0 && w.Logical == clause.Or {
			if conj {
				return true
			}
			conj = true
		}
		if conj && !matchOne(r, w) {
			conj = false
		}
	}
	return conj
}

func matchOne(r dialect.Row, w clause.Where) bool {
	switch w.Kind {
	case clause.KindBasic:
		v, ok := lookup(r, w.Column)
		if !ok {
			return false
		}
		return compareOp(v, w.Operator, w.Value)
	case clause.KindColumn:
		a, ok := lookup(r, w.Column)
		if !ok {
			return false
		}
		b, ok := lookup(r, w.Other)
		if !ok {
			return false
		}
		return compareOp(a, w.Operator, b)
	case clause.KindIn:
		v, ok := lookup(r, w.Column)
		if len(w.Values) == 0 {
			return w.Not
		}
		if !ok || v == nil {
			return false
		}
		for _, x := range w.Values {
			if Equal(v, x) {
				return !w.Not
			}
		}
		return w.Not
	case clause.KindNull:
		v, _ := lookup(r, w.Column)
		return (v == nil) != w.Not
	case clause.KindBetween:
		v, ok := lookup(r, w.Column)
		if !ok || v == nil || w.Low == nil || w.High == nil {
			return false
		}
		in := Compare(v, w.Low) >= 0 && Compare(v, w.High) <= 0
		return in != w.Not
	case clause.KindGroup:
		return Match(r, w.Group)
	default:
		return true
	}
}

// lookup returns the value of column in r. A qualified name ("users.id")
// falls back to its unqualified column.
func lookup(r dialect.Row, column string) (any, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	if i := strings.LastIndexByte(column, '.'); i >= 0 {
		v, ok := r[column[i+1:]]
		return v, ok
	}
	return nil, false
}

func compareOp(v any, op string, x any) bool {
	if v == nil || x == nil {
		return false
	}
	switch strings.ToUpper(strings.TrimSpace(op)) {
	case "", "=", "==", "IS":
		return Equal(v, x)
	case "!=", "<>", "IS NOT":
		return !Equal(v, x)
	case "<":
		return Compare(v, x) < 0
	case "<=":
		return Compare(v, x) <= 0
	case ">":
		return Compare(v, x) > 0
	case ">=":
		return Compare(v, x) >= 0
	case "LIKE":
		return like(v, x, false)
	case "NOT LIKE":
		return !like(v, x, false)
	case "ILIKE":
		return like(v, x, true)
	case "NOT ILIKE":
		return !like(v, x, true)
	default:
		return true
	}
}

var folder = cases.Fold()

// like matches v against a SQL LIKE pattern where "%" is any run of
// characters and "_" exactly one.
func like(v, pattern any, fold bool) bool {
	s, p := text(v), text(pattern)
	if fold {
		s, p = folder.String(s), folder.String(p)
	}
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, c := range p {
		switch c {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func text(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Equal reports whether two column values are equal. Numbers compare by
// value across types and booleans compare as 0 and 1.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return x == y
		}
	}
	if x, ok := a.(time.Time); ok {
		if y, ok := b.(time.Time); ok {
			return x.Equal(y)
		}
	}
	return text(a) == text(b)
}

// Compare orders two column values. nil sorts first; numbers compare by
// value, times chronologically and everything else by text.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return cmp.Compare(x, y)
		}
	}
	if x, ok := a.(time.Time); ok {
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(text(a), text(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// integer returns v as an int64 when it holds a whole number.
func integer(v any) (int64, bool) {
	f, ok := number(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	if _, isBool := v.(bool); isBool {
		return 0, false
	}
	return int64(f), true
}
