package qb

import (
	"encoding/json"
	"fmt"

	"github.com/syssam/qb/clause"
	"github.com/syssam/qb/dialect"
)

// Dialect returns the dialect fragments are rendered for: the config's
// dialect, or the one declared by its executor, or "" for the portable
// fallback.
func (b *Builder) Dialect() string {
	return b.cfg.Dialect()
}

// WhereLike adds "column LIKE ?".
func (b *Builder) WhereLike(column, pattern string) *Builder {
	return b.Where(column, "LIKE", pattern)
}

// OrWhereLike adds "column LIKE ?" joined with OR.
func (b *Builder) OrWhereLike(column, pattern string) *Builder {
	return b.OrWhere(column, "LIKE", pattern)
}

// WhereNotLike adds "column NOT LIKE ?".
func (b *Builder) WhereNotLike(column, pattern string) *Builder {
	return b.Where(column, "NOT LIKE", pattern)
}

// WhereILike adds a case-insensitive LIKE rendered for the builder's
// dialect: ILIKE on postgres, a COLLATE hint on mysql and mssql, UPPER()
// on oracle and LOWER() elsewhere.
func (b *Builder) WhereILike(column, pattern string) *Builder {
	b.record("WhereILike", column, pattern)
	return b.where(b.ilike(column, pattern, false))
}

// OrWhereILike is WhereILike joined with OR.
func (b *Builder) OrWhereILike(column, pattern string) *Builder {
	b.record("OrWhereILike", column, pattern)
	return b.where(b.ilike(column, pattern, false).WithLogical(clause.Or))
}

// WhereNotILike is the negation of WhereILike.
func (b *Builder) WhereNotILike(column, pattern string) *Builder {
	b.record("WhereNotILike", column, pattern)
	return b.where(b.ilike(column, pattern, true))
}

func (b *Builder) ilike(column, pattern string, not bool) clause.Where {
	op := "ILIKE"
	if not {
		op = "NOT ILIKE"
	}
	w := clause.Basic(column, op, pattern)
	w.Dialect = b.Dialect()
	return w
}

// WhereContains matches column values containing s.
func (b *Builder) WhereContains(column, s string) *Builder {
	return b.WhereLike(column, "%"+s+"%")
}

// WhereStartsWith matches column values starting with s.
func (b *Builder) WhereStartsWith(column, s string) *Builder {
	return b.WhereLike(column, s+"%")
}

// WhereEndsWith matches column values ending with s.
func (b *Builder) WhereEndsWith(column, s string) *Builder {
	return b.WhereLike(column, "%"+s)
}

// WhereContainsFold matches column values containing s, ignoring case.
func (b *Builder) WhereContainsFold(column, s string) *Builder {
	return b.WhereILike(column, "%"+s+"%")
}

// WhereStartsWithFold matches column values starting with s, ignoring case.
func (b *Builder) WhereStartsWithFold(column, s string) *Builder {
	return b.WhereILike(column, s+"%")
}

// WhereEndsWithFold matches column values ending with s, ignoring case.
func (b *Builder) WhereEndsWithFold(column, s string) *Builder {
	return b.WhereILike(column, "%"+s)
}

// WhereJSONContains matches rows whose JSON column contains doc. Strings
// and byte slices are bound as they are; other values are encoded as JSON.
func (b *Builder) WhereJSONContains(column string, doc any) *Builder {
	b.record("WhereJSONContains", column, doc)
	var arg any
	switch v := doc.(type) {
	case string:
		arg = v
	case []byte:
		arg = string(v)
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			// Bind the value itself and let the backend reject it.
			arg = v
			b.cfg.logger.Warn("qb: json contains: encode document", "column", column, "error", err)
		} else {
			arg = string(buf)
		}
	}
	fr := dialect.FragmentsFor(b.Dialect())
	return b.where(clause.Raw(fr.JSONContains(column), arg))
}

// WhereFullText adds a full-text match of term over columns.
func (b *Builder) WhereFullText(columns []string, term string) *Builder {
	b.record("WhereFullText", stringsToAny(columns), term)
	sql, args := dialect.FragmentsFor(b.Dialect()).FullText(columns, term)
	return b.where(clause.Raw(sql, args...))
}

// WhereDistance compares the great-circle distance in kilometers between
// the point stored in latCol/lngCol and (lat, lng) against km:
//
//	b.WhereDistance("lat", "lng", 51.5, -0.12, "<=", 10)
func (b *Builder) WhereDistance(latCol, lngCol string, lat, lng float64, operator string, km float64) *Builder {
	b.record("WhereDistance", latCol, lngCol, lat, lng, operator, km)
	expr, args := dialect.FragmentsFor(b.Dialect()).Distance(latCol, lngCol, lat, lng)
	return b.where(clause.Raw(fmt.Sprintf("%s %s ?", expr, operator), append(args, km)...))
}

// SelectRowNumber adds a ROW_NUMBER() column ordered by orderBy.
func (b *Builder) SelectRowNumber(orderBy, alias string) *Builder {
	if alias == "" {
		alias = "row_number"
	}
	return b.SelectRaw(dialect.FragmentsFor(b.Dialect()).RowNumber(orderBy, alias))
}
