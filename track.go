package qb

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/syssam/qb/simulation"
)

// LogEntry is one recorded builder call.
type LogEntry struct {
	ID     string
	Method string
	Args   []any
	At     time.Time
	// Result is set on the entry recorded for a replayed write.
	Result *WriteResult
}

type tracker struct {
	entries []LogEntry
}

func (t *tracker) clone() *tracker {
	if t == nil {
		return nil
	}
	return &tracker{entries: slices.Clone(t.entries)}
}

func (t *tracker) add(method string, args []any, res *WriteResult) {
	t.entries = append(t.entries, LogEntry{
		ID:     uuid.NewString(),
		Method: method,
		Args:   args,
		At:     time.Now(),
		Result: res,
	})
}

// Track starts recording every subsequent call made on the builder.
func (b *Builder) Track() *Builder {
	if b.track == nil {
		b.track = &tracker{}
	}
	b.record("Track")
	return b
}

// Tracking reports whether calls are being recorded.
func (b *Builder) Tracking() bool {
	return b.track != nil
}

func (b *Builder) record(method string, args ...any) {
	if b.track != nil {
		b.track.add(method, args, nil)
	}
}

// Log returns the recorded calls. A pending write is first replayed against
// the simulation snapshot, never the executor, and its outcome recorded;
// the replay consumes the pending action. Without an active simulation the
// write is replayed against an empty snapshot discarded afterwards, and the
// builder keeps running against its executor.
func (b *Builder) Log(ctx context.Context) ([]LogEntry, error) {
	if b.track == nil {
		return nil, nil
	}
	if b.d.Pending != nil {
		if b.simulator() == nil {
			prev := b.local
			b.local = simulation.NewActiveStore(nil)
			defer func() { b.local = prev }()
		}
		res, err := b.Make(ctx)
		if err != nil {
			return slices.Clone(b.track.entries), err
		}
		b.track.add("Replay", nil, &res)
	}
	return slices.Clone(b.track.entries), nil
}

// RenderLog writes entries as a table.
func RenderLog(w io.Writer, entries []LogEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Method", "Args", "Result"})
	for i, e := range entries {
		result := ""
		if e.Result != nil {
			result = fmt.Sprintf("changes=%d last_insert_rowid=%d", e.Result.Changes, e.Result.LastInsertRowid)
		}
		t.AppendRow(table.Row{i + 1, e.Method, formatArgs(e.Args), result})
	}
	t.Render()
}

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if s, ok := a.(string); ok {
			parts[i] = fmt.Sprintf("%q", s)
			continue
		}
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, ", ")
}
