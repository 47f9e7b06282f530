package jscore

import (
	"math"
	"sort"
	"strconv"
	"sync/atomic"
)

// PropertyNameAccumulator gathers property names during one enumeration
// of a class instance. A name added twice keeps its first position.
type PropertyNameAccumulator struct {
	names []string
	seen  map[string]struct{}
}

func newPropertyNameAccumulator() *PropertyNameAccumulator {
	return &PropertyNameAccumulator{seen: make(map[string]struct{})}
}

// AddName appends name unless it is already present.
func (a *PropertyNameAccumulator) AddName(name string) {
	if _, dup := a.seen[name]; dup {
		return
	}
	a.seen[name] = struct{}{}
	a.names = append(a.names, name)
}

// Len returns the number of distinct names added so far.
func (a *PropertyNameAccumulator) Len() int {
	return len(a.names)
}

// Names returns the names in insertion order.
func (a *PropertyNameAccumulator) Names() []string {
	return append([]string(nil), a.names...)
}

// indices returns the names that are canonical array indices, sorted
// numerically.
func (a *PropertyNameAccumulator) indices() []string {
	type index struct {
		n    uint64
		name string
	}
	var idx []index
	for _, name := range a.names {
		if n, ok := parseIndex(name); ok {
			idx = append(idx, index{n, name})
		}
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i].n < idx[j].n })
	out := make([]string, len(idx))
	for i, x := range idx {
		out[i] = x.name
	}
	return out
}

// named returns the names that are not indices, in insertion order.
func (a *PropertyNameAccumulator) named() []string {
	out := make([]string, 0, len(a.names))
	for _, name := range a.names {
		if _, ok := parseIndex(name); !ok {
			out = append(out, name)
		}
	}
	return out
}

// parseIndex accepts only the canonical decimal spelling of an array index,
// so "1e3", "1.0" and "01" stay ordinary names.
func parseIndex(name string) (uint64, bool) {
	n, err := strconv.ParseUint(name, 10, 32)
	if err != nil || n == math.MaxUint32 || strconv.FormatUint(n, 10) != name {
		return 0, false
	}
	return n, true
}

// PropertyNameArray is a reference counted, immutable list of property
// names.
type PropertyNameArray struct {
	names []string
	refs  atomic.Int32
}

func newPropertyNameArray(names []string) *PropertyNameArray {
	a := &PropertyNameArray{names: names}
	a.refs.Store(1)
	return a
}

// Retain increments the reference count and returns the array.
func (a *PropertyNameArray) Retain() *PropertyNameArray {
	a.refs.Add(1)
	return a
}

// Release decrements the reference count. The names are dropped when it
// reaches zero.
func (a *PropertyNameArray) Release() {
	if a.refs.Add(-1) == 0 {
		a.names = nil
	}
}

// Count returns the number of names.
func (a *PropertyNameArray) Count() int {
	return len(a.names)
}

// NameAtIndex returns the name at i, or "" when i is out of range.
func (a *PropertyNameArray) NameAtIndex(i int) string {
	if i < 0 || i >= len(a.names) {
		return ""
	}
	return a.names[i]
}
