package jscore

import (
	"math"
	"sync"
	"sync/atomic"
)

// protectedRegistry keeps every value with a positive protect count
// reachable from its context, keyed by a per-context id.
type protectedRegistry struct {
	values sync.Map     // map[int32]*Value
	nextID atomic.Int32 // 0 is reserved as "not registered"
}

func newProtectedRegistry() *protectedRegistry {
	return &protectedRegistry{}
}

// add registers v and returns its id.
func (r *protectedRegistry) add(v *Value) int32 {
	id := r.nextID.Add(1)
	if id <= 0 || id == math.MaxInt32 {
		panic("jscore: protected value id overflow")
	}
	r.values.Store(id, v)
	return id
}

func (r *protectedRegistry) remove(id int32) bool {
	_, ok := r.values.LoadAndDelete(id)
	return ok
}

// clear drops every entry and returns how many were still protected.
func (r *protectedRegistry) clear() int {
	n := 0
	r.values.Range(func(key, _ any) bool {
		r.values.Delete(key)
		n++
		return true
	})
	return n
}

func (r *protectedRegistry) count() int {
	n := 0
	r.values.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
