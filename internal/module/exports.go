package module

import (
	"sort"
	"sync"

	"github.com/bytedance/sonic"
)

// Exports is a mutable export object shared between the reload engine and any
// number of readers. Identity is pointer identity; reloads mutate it in place.
type Exports struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewExports copies initial into a new export object.
func NewExports(initial map[string]any) *Exports {
	values := make(map[string]any, len(initial))
	for key, value := range initial {
		values[key] = value
	}
	return &Exports{values: values}
}

func (e *Exports) Get(key string) (any, bool) {
	if e == nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	value, ok := e.values[key]
	return value, ok
}

func (e *Exports) Set(key string, value any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.values == nil {
		e.values = make(map[string]any)
	}
	e.values[key] = value
	e.mu.Unlock()
}

// Sub returns the nested export object stored under name.
func (e *Exports) Sub(name string) (*Exports, bool) {
	value, ok := e.Get(name)
	if !ok {
		return nil, false
	}
	sub, ok := value.(*Exports)
	if !ok || sub == nil {
		return nil, false
	}
	return sub, true
}

// AssignSub merges members into the object stored under name, which is
// either a nested *Exports or a plain map[string]any as decoded from a module
// file. Maps are updated in place while e is locked, so readers should take a
// Snapshot rather than range over a map returned by Get. It reports false
// when name holds neither.
func (e *Exports) AssignSub(name string, members map[string]any) bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	switch sub := e.values[name].(type) {
	case *Exports:
		e.mu.Unlock()
		if sub == nil {
			return false
		}
		sub.Assign(members)
		return true
	case map[string]any:
		defer e.mu.Unlock()
		if sub == nil {
			return false
		}
		for key, value := range members {
			sub[key] = value
		}
		return true
	default:
		e.mu.Unlock()
		return false
	}
}

// Assign copies every member onto e, overwriting keys present in both and
// leaving other keys untouched. Readers never observe a partial assignment.
func (e *Exports) Assign(members map[string]any) {
	if e == nil || len(members) == 0 {
		return
	}
	e.mu.Lock()
	if e.values == nil {
		e.values = make(map[string]any, len(members))
	}
	for key, value := range members {
		e.values[key] = value
	}
	e.mu.Unlock()
}

func (e *Exports) Len() int {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.values)
}

// Keys returns the member names in sorted order.
func (e *Exports) Keys() []string {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	keys := make([]string, 0, len(e.values))
	for key := range e.values {
		keys = append(keys, key)
	}
	e.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Snapshot returns a deep copy of the members. Nested export objects and
// maps are copied recursively; a reference back to an export object already
// being copied becomes nil.
func (e *Exports) Snapshot() map[string]any {
	return e.snapshot(make(map[*Exports]bool))
}

func (e *Exports) snapshot(visiting map[*Exports]bool) map[string]any {
	if e == nil {
		return nil
	}
	visiting[e] = true
	defer delete(visiting, e)

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.values))
	for key, value := range e.values {
		out[key] = snapshotValue(value, visiting)
	}
	return out
}

func snapshotValue(value any, visiting map[*Exports]bool) any {
	switch typed := value.(type) {
	case *Exports:
		if typed == nil || visiting[typed] {
			return nil
		}
		return typed.snapshot(visiting)
	case map[string]any:
		if typed == nil {
			return typed
		}
		copied := make(map[string]any, len(typed))
		for key, nested := range typed {
			copied[key] = snapshotValue(nested, visiting)
		}
		return copied
	default:
		return value
	}
}

func (e *Exports) MarshalJSON() ([]byte, error) {
	if e == nil {
		return []byte("null"), nil
	}
	return sonic.Marshal(e.Snapshot())
}
