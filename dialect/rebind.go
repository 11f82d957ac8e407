package dialect

import (
	"strconv"
	"strings"
)

// Placeholder returns the n-th (1-based) positional placeholder of the dialect.
func Placeholder(name string, n int) string {
	switch Normalize(name) {
	case Postgres:
		return "$" + strconv.Itoa(n)
	case MSSQL:
		return "@p" + strconv.Itoa(n)
	case Oracle:
		return ":" + strconv.Itoa(n)
	default:
		return "?"
	}
}

// Rebind rewrites the "?" placeholders of query into the dialect's positional
// style. Question marks inside quoted literals and identifiers are left alone.
func Rebind(name, query string) string {
	switch Normalize(name) {
	case Postgres, MSSQL, Oracle:
	default:
		return query
	}
	if !strings.Contains(query, "?") {
		return query
	}
	var (
		b     strings.Builder
		n     int
		quote byte
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			b.WriteByte(c)
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteByte(c)
		case c == '?':
			n++
			b.WriteString(Placeholder(name, n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// CountPlaceholders returns the number of "?" placeholders outside quoted
// literals and identifiers.
func CountPlaceholders(query string) int {
	var (
		n     int
		quote byte
	)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '?':
			n++
		}
	}
	return n
}
