package dialect

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps bank names to executors. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	banks map[string]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{banks: make(map[string]Executor)}
}

// Register adds or replaces the executor of a bank.
func (r *Registry) Register(name string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.banks[name] = exec
}

// Unregister removes a bank.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.banks, name)
}

// Get returns the executor of a bank.
func (r *Registry) Get(name string) (Executor, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.banks[name]
	return e, ok
}

// Names returns all registered bank names (sorted).
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.banks))
	for name := range r.banks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the executors of the named banks, in the given order.
func (r *Registry) Resolve(names ...string) ([]Executor, error) {
	execs := make([]Executor, 0, len(names))
	for _, name := range names {
		e, ok := r.Get(name)
		if !ok {
			return nil, &UnknownBankError{Name: name, Available: r.Names()}
		}
		execs = append(execs, e)
	}
	return execs, nil
}

// UnknownBankError is returned when a bank is not registered.
type UnknownBankError struct {
	Name      string
	Available []string
}

func (e *UnknownBankError) Error() string {
	return fmt.Sprintf("dialect: unknown bank %q (available: %v)", e.Name, e.Available)
}
