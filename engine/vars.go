package engine

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// Variables is the typed key/value state shared by a run. Values are
// integers, floats, or strings. A write that does not change the stored
// value is a no-op; an effective write to a watched name emits a log line.
//
// The store is owned by a single engine instance; only the execution thread
// writes. The lock exists solely so the control surface can snapshot state
// while a run is active.
type Variables struct {
	mu      sync.RWMutex
	values  map[string]any
	watched map[string]struct{}
	log     *slog.Logger
}

func NewVariables(log *slog.Logger) *Variables {
	if log == nil {
		log = slog.Default()
	}
	return &Variables{
		values:  make(map[string]any),
		watched: make(map[string]struct{}),
		log:     log,
	}
}

// Get returns the stored value for name, if present.
func (v *Variables) Get(name string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[name]
	return val, ok
}

// Set stores value under name. Unchanged values return without side effects.
// Watch logging fires only on effective writes, regardless of any task-level
// print_log flag.
func (v *Variables) Set(name string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	// DeepEqual, not ==: expressions can produce slices, which panic under
	// an interface comparison.
	if old, ok := v.values[name]; ok && reflect.DeepEqual(old, value) {
		return
	}
	v.values[name] = value
	if _, ok := v.watched[name]; ok {
		v.log.Info(fmt.Sprintf("watch: variable '%s' updated to %v", name, value))
	}
}

// Watch adds name to the watch set. Idempotent.
func (v *Variables) Watch(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.watched[name] = struct{}{}
}

// Snapshot returns a copy of the current mapping, suitable as an expression
// environment or for the control surface.
func (v *Variables) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

// Reset drops all values and watches. Each run starts from a clean store;
// never called while a run is active.
func (v *Variables) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values = make(map[string]any)
	v.watched = make(map[string]struct{})
}

// Parse resolves an externally supplied literal. A "{{name}}" string resolves
// by variable lookup (absent resolves to nil, not an error); otherwise integer
// parse is tried, then float, else the string is kept verbatim. Non-string
// values pass through untouched.
func (v *Variables) Parse(raw any) any {
	s, ok := raw.(string)
	if !ok {
		return raw
	}

	if strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") {
		name := strings.TrimSpace(s[2 : len(s)-2])
		v.mu.RLock()
		defer v.mu.RUnlock()
		return v.values[name]
	}

	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
