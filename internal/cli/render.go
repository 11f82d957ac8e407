package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/syssam/qb/dialect"
)

// columnsOf returns the union of the row keys in sorted order.
func columnsOf(rows []dialect.Row) []string {
	var cols []string
	for _, r := range rows {
		for k := range r {
			if !slices.Contains(cols, k) {
				cols = append(cols, k)
			}
		}
	}
	slices.Sort(cols)
	return cols
}

func renderRows(w io.Writer, rows []dialect.Row, format string) error {
	switch strings.ToLower(format) {
	case "json":
		return renderJSON(w, rows)
	case "", "table":
		return renderTable(w, rows)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func renderTable(w io.Writer, rows []dialect.Row) error {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}
	cols := columnsOf(rows)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	header := make(table.Row, len(cols))
	for i, col := range cols {
		header[i] = col
	}
	t.AppendHeader(header)
	for _, r := range rows {
		row := make(table.Row, len(cols))
		for i, col := range cols {
			row[i] = formatValue(r[col])
		}
		t.AppendRow(row)
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
	return nil
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

type statement struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args"`
}

func renderStatement(w io.Writer, query string, args []any, format string) error {
	if args == nil {
		args = []any{}
	}
	switch strings.ToLower(format) {
	case "json":
		return renderJSON(w, statement{SQL: query, Args: args})
	case "", "table":
		_, _ = fmt.Fprintln(w, query)
		if len(args) == 0 {
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"#", "Arg", "Type"})
		for i, a := range args {
			t.AppendRow(table.Row{i + 1, formatValue(a), fmt.Sprintf("%T", a)})
		}
		t.Render()
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
