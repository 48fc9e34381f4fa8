// Package results defines the sink that analysis passes write named values
// into, plus in-memory and fan-out implementations.
package results

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// AllPages is the page key for aggregate values that belong to no single page.
const AllPages = ""

// Common units.
const (
	UnitCount   = "count"
	UnitBoolean = "boolean"
	UnitBytes   = "bytes"
	UnitPercent = "percent"
)

// Results receives named values keyed by page.
type Results interface {
	Add(ctx context.Context, page, name, units string, value any) error
}

// Value is one recorded measurement.
type Value struct {
	Page  string `json:"page"`
	Name  string `json:"name"`
	Units string `json:"units"`
	Value any    `json:"value"`
}

func (v Value) String() string {
	page := v.Page
	if page == AllPages {
		page = "*"
	}
	return fmt.Sprintf("%s %s = %v %s", page, v.Name, v.Value, v.Units)
}

type valueKey struct {
	page string
	name string
}

// Memory keeps values in memory. A later Add for the same page and name
// replaces the earlier value, so re-running a pass is idempotent.
type Memory struct {
	mu     sync.RWMutex
	values map[valueKey]Value
	order  []valueKey
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{values: make(map[valueKey]Value)}
}

// Add records a value.
func (m *Memory) Add(_ context.Context, page, name, units string, value any) error {
	if name == "" {
		return errors.New("result name must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := valueKey{page: page, name: name}
	if _, exists := m.values[key]; !exists {
		m.order = append(m.order, key)
	}
	m.values[key] = Value{Page: page, Name: name, Units: units, Value: value}
	return nil
}

// Lookup returns the value recorded for page and name.
func (m *Memory) Lookup(page, name string) (Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[valueKey{page: page, name: name}]
	return v, ok
}

// Values returns all values in insertion order.
func (m *Memory) Values() []Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Value, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.values[key])
	}
	return out
}

// Pages returns the distinct page keys seen, sorted.
func (m *Memory) Pages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for key := range m.values {
		seen[key.page] = struct{}{}
	}
	pages := make([]string, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Strings(pages)
	return pages
}

// Reset drops every recorded value.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[valueKey]Value)
	m.order = nil
}

// Multi forwards every value to each sink in order and stops at the first
// failure.
type Multi []Results

// Add implements Results.
func (m Multi) Add(ctx context.Context, page, name, units string, value any) error {
	for _, sink := range m {
		if err := sink.Add(ctx, page, name, units, value); err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
	}
	return nil
}
