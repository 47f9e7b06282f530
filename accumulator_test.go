package jscore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPropertyNameAccumulator tests deduplication and index ordering
func TestPropertyNameAccumulator(t *testing.T) {
	acc := newPropertyNameAccumulator()
	for _, name := range []string{"b", "10", "a", "2", "b", "-1", "1.5", "NaN", "Infinity", "0"} {
		acc.AddName(name)
	}

	assert.Equal(t, 9, acc.Len())
	assert.Equal(t, []string{"b", "10", "a", "2", "-1", "1.5", "NaN", "Infinity", "0"}, acc.Names())
	assert.Equal(t, []string{"0", "2", "10"}, acc.indices())
	assert.Equal(t, []string{"b", "a", "-1", "1.5", "NaN", "Infinity"}, acc.named())

	names := acc.Names()
	names[0] = "changed"
	assert.Equal(t, "b", acc.Names()[0])
}

// TestPropertyNameAccumulatorCanonicalIndices tests that only canonical
// index spellings are ordered as indices
func TestPropertyNameAccumulatorCanonicalIndices(t *testing.T) {
	acc := newPropertyNameAccumulator()
	for _, name := range []string{"1e3", "1", "01", "1.0", "4294967295", "4294967294", "+2"} {
		acc.AddName(name)
	}

	assert.Equal(t, 7, acc.Len())
	assert.Equal(t, []string{"1", "4294967294"}, acc.indices())
	assert.Equal(t, []string{"1e3", "01", "1.0", "4294967295", "+2"}, acc.named())
}

// TestPropertyNameArray tests reference counting and bounds
func TestPropertyNameArray(t *testing.T) {
	arr := newPropertyNameArray([]string{"x", "y"})
	assert.Equal(t, 2, arr.Count())
	assert.Equal(t, "y", arr.NameAtIndex(1))
	assert.Empty(t, arr.NameAtIndex(2))
	assert.Empty(t, arr.NameAtIndex(-1))

	assert.Same(t, arr, arr.Retain())
	arr.Release()
	assert.Equal(t, 2, arr.Count())
	arr.Release()
	assert.Zero(t, arr.Count())
}
