package jscore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestProtectedRegistry tests registration ids and removal
func TestProtectedRegistry(t *testing.T) {
	r := newProtectedRegistry()
	a, b := &Value{}, &Value{}

	idA := r.add(a)
	idB := r.add(b)
	assert.NotZero(t, idA)
	assert.NotEqual(t, idA, idB)
	assert.Equal(t, 2, r.count())

	assert.True(t, r.remove(idA))
	assert.False(t, r.remove(idA))
	assert.Equal(t, 1, r.count())

	r.add(a)
	assert.Equal(t, 2, r.clear())
	assert.Zero(t, r.count())
}

// TestProtectedRegistryOverflow tests that ids never wrap around
func TestProtectedRegistryOverflow(t *testing.T) {
	r := newProtectedRegistry()
	r.nextID.Store(1<<31 - 2)
	assert.Panics(t, func() { r.add(&Value{}) })
}
