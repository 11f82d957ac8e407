package dialect

import (
	"fmt"
	"strings"
)

// Fragments renders the SQL pieces whose syntax depends on the backend.
// Every fragment uses "?" placeholders; the returned args line up with them.
type Fragments struct {
	// ILike renders a case-insensitive LIKE of column against one bound pattern.
	ILike func(column string, not bool) string
	// JSONContains renders a containment test of a JSON column against one bound document.
	JSONContains func(column string) string
	// FullText renders a text search over columns for a bound term.
	FullText func(columns []string, term string) (string, []any)
	// Distance renders a great-circle distance in kilometers between the point
	// stored in latCol/lngCol and a bound point.
	Distance func(latCol, lngCol string, lat, lng float64) (string, []any)
	// RowNumber renders a ROW_NUMBER() select expression.
	RowNumber func(orderBy, alias string) string
}

var fragments = map[string]Fragments{
	Postgres: {
		ILike: func(column string, not bool) string {
			return column + negate(not, " NOT ILIKE ?", " ILIKE ?")
		},
		JSONContains: func(column string) string {
			return column + " @> ?::jsonb"
		},
		FullText: func(columns []string, term string) (string, []any) {
			doc := strings.Join(columns, " || ' ' || ")
			return fmt.Sprintf("to_tsvector(%s) @@ plainto_tsquery(?)", doc), []any{term}
		},
		Distance:  haversine,
		RowNumber: rowNumber,
	},
	MySQL: {
		ILike: func(column string, not bool) string {
			return column + " COLLATE utf8mb4_general_ci" + negate(not, " NOT LIKE ?", " LIKE ?")
		},
		JSONContains: func(column string) string {
			return "JSON_CONTAINS(" + column + ", ?)"
		},
		FullText: func(columns []string, term string) (string, []any) {
			return fmt.Sprintf("MATCH(%s) AGAINST(? IN NATURAL LANGUAGE MODE)", strings.Join(columns, ", ")), []any{term}
		},
		Distance: func(latCol, lngCol string, lat, lng float64) (string, []any) {
			return fmt.Sprintf("ST_Distance_Sphere(POINT(%s, %s), POINT(?, ?)) / 1000", lngCol, latCol), []any{lng, lat}
		},
		RowNumber: rowNumber,
	},
	MSSQL: {
		ILike: func(column string, not bool) string {
			return column + " COLLATE Latin1_General_CI_AS" + negate(not, " NOT LIKE ?", " LIKE ?")
		},
		JSONContains: func(column string) string {
			return "? IN (SELECT value FROM OPENJSON(" + column + "))"
		},
		FullText: func(columns []string, term string) (string, []any) {
			return fmt.Sprintf("CONTAINS((%s), ?)", strings.Join(columns, ", ")), []any{term}
		},
		Distance:  haversine,
		RowNumber: rowNumber,
	},
	Oracle: {
		ILike: func(column string, not bool) string {
			return "UPPER(" + column + ")" + negate(not, " NOT LIKE UPPER(?)", " LIKE UPPER(?)")
		},
		JSONContains: func(column string) string {
			return "JSON_EQUAL(JSON_QUERY(" + column + ", '$'), ?)"
		},
		FullText: func(columns []string, term string) (string, []any) {
			parts := make([]string, len(columns))
			args := make([]any, len(columns))
			for i, c := range columns {
				parts[i] = fmt.Sprintf("CONTAINS(%s, ?) > 0", c)
				args[i] = term
			}
			return "(" + strings.Join(parts, " OR ") + ")", args
		},
		Distance:  haversine,
		RowNumber: rowNumber,
	},
}

// fallback is portable SQL understood by SQLite and most engines.
var fallback = Fragments{
	ILike: func(column string, not bool) string {
		return "LOWER(" + column + ")" + negate(not, " NOT LIKE LOWER(?)", " LIKE LOWER(?)")
	},
	JSONContains: func(column string) string {
		return "EXISTS (SELECT 1 FROM json_each(" + column + ") WHERE json_each.value = ?)"
	},
	FullText: func(columns []string, term string) (string, []any) {
		parts := make([]string, len(columns))
		args := make([]any, len(columns))
		for i, c := range columns {
			parts[i] = c + " LIKE ?"
			args[i] = "%" + term + "%"
		}
		return "(" + strings.Join(parts, " OR ") + ")", args
	},
	Distance:  haversine,
	RowNumber: rowNumber,
}

// FragmentsFor returns the fragment table of the named dialect, or the
// portable fallback when the dialect is unknown.
func FragmentsFor(name string) Fragments {
	if f, ok := fragments[Normalize(name)]; ok {
		return f
	}
	return fallback
}

func negate(not bool, yes, no string) string {
	if not {
		return yes
	}
	return no
}

func haversine(latCol, lngCol string, lat, lng float64) (string, []any) {
	expr := fmt.Sprintf(
		"(6371 * ACOS(COS(RADIANS(?)) * COS(RADIANS(%[1]s)) * COS(RADIANS(%[2]s) - RADIANS(?)) + SIN(RADIANS(?)) * SIN(RADIANS(%[1]s))))",
		latCol, lngCol,
	)
	return expr, []any{lat, lng, lat}
}

func rowNumber(orderBy, alias string) string {
	return fmt.Sprintf("ROW_NUMBER() OVER (ORDER BY %s) AS %s", orderBy, alias)
}
