// Package hook defines the events published around every statement the
// builder runs, and an in-process Dispatcher delivering them to subscribers.
//
// Topics have the form
//
//	<prefix>:<BEFORE|AFTER>:<READ|INSERT|UPDATE|DELETE>:<table>
//
// and subscriptions match them with path.Match patterns, for example
// "qb:BEFORE:*:users" or "qb:*:DELETE:*".
package hook

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/syssam/qb/clause"
	"github.com/syssam/qb/dialect"
)

// Timing places an event before or after the statement.
type Timing string

// Event timings.
const (
	Before Timing = "BEFORE"
	After  Timing = "AFTER"
)

// Action is the kind of statement an event reports.
type Action string

// Event actions.
const (
	Read   Action = "READ"
	Insert Action = "INSERT"
	Update Action = "UPDATE"
	Delete Action = "DELETE"
)

// ActionOf maps a pending write onto the event action it publishes.
// Increments, decrements and upserts are updates. An upsert publishes
// UPDATE for both events even when it falls back to an insert; the
// AFTER event's result then carries the inserted key.
func ActionOf(t clause.ActionType) Action {
	switch t {
	case clause.ActionInsert:
		return Insert
	case clause.ActionDelete:
		return Delete
	default:
		return Update
	}
}

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "qb"

// Topic returns the topic name of an event.
func Topic(prefix string, timing Timing, action Action, table string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return strings.Join([]string{prefix, string(timing), string(action), table}, ":")
}

// Event is delivered to subscribers. Data holds the write payload, Rows the
// rows read by an AFTER READ event and Result the outcome of a write.
type Event struct {
	ID     string
	Prefix string
	Table  string
	Action Action
	Timing Timing
	Data   any
	Rows   []dialect.Row
	Where  []clause.Where
	Result any
}

// Topic returns the topic the event is published on.
func (e *Event) Topic() string {
	return Topic(e.Prefix, e.Timing, e.Action, e.Table)
}

// Handler receives events. An error returned for a BEFORE event aborts the
// statement.
type Handler func(context.Context, *Event) error

// Bus publishes events.
type Bus interface {
	Publish(context.Context, *Event) error
}

type subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// Dispatcher is an in-process Bus. Handlers run synchronously in
// subscription order; the first error stops delivery and is returned.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *slog.Logger
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{logger: slog.Default()}
}

// SetLogger sets the logger reporting malformed patterns.
func (d *Dispatcher) SetLogger(l *slog.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger = l
}

// Subscribe registers h for every topic matching pattern and returns a
// function removing the subscription.
func (d *Dispatcher) Subscribe(pattern string, h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, pattern: pattern, handler: h})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.subs {
			if s.id == id {
				d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

// On subscribes h to a single timing, action and table of the prefix.
// Empty action or table match any.
func (d *Dispatcher) On(prefix string, timing Timing, action Action, table string, h Handler) func() {
	if action == "" {
		action = "*"
	}
	if table == "" {
		table = "*"
	}
	return d.Subscribe(Topic(prefix, timing, action, table), h)
}

// Publish delivers e to the matching subscribers.
func (d *Dispatcher) Publish(ctx context.Context, e *Event) error {
	topic := e.Topic()
	d.mu.RLock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	logger := d.logger
	d.mu.RUnlock()
	for _, s := range subs {
		ok, err := path.Match(s.pattern, topic)
		if err != nil {
			logger.Warn("hook: malformed subscription pattern", "pattern", s.pattern, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if err := s.handler(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of subscriptions.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}
