package jscore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEngineLockReentrant tests nested acquisition on one goroutine
func TestEngineLockReentrant(t *testing.T) {
	var l engineLock

	assert.False(t, l.held())
	assert.True(t, l.lock())
	assert.False(t, l.lock())
	assert.False(t, l.lock())
	assert.True(t, l.held())

	l.unlock()
	l.unlock()
	assert.True(t, l.held())
	l.unlock()
	assert.False(t, l.held())

	assert.True(t, l.lock())
	l.unlock()
}

// TestEngineLockExclusive tests that other goroutines wait for the holder
func TestEngineLockExclusive(t *testing.T) {
	var l engineLock
	require.True(t, l.lock())

	acquired := make(chan bool)
	go func() {
		outer := l.lock()
		acquired <- outer
		l.unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held by another goroutine")
	case <-time.After(20 * time.Millisecond):
	}

	l.unlock()
	select {
	case outer := <-acquired:
		assert.True(t, outer)
	case <-time.After(time.Second):
		t.Fatal("lock not acquired after release")
	}
}

// TestEngineLockCounter tests mutual exclusion under contention
func TestEngineLockCounter(t *testing.T) {
	var l engineLock
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				l.lock()
				l.lock()
				counter++
				l.unlock()
				l.unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1600, counter)
}

// TestGoroutineID tests that ids are positive and differ between goroutines
func TestGoroutineID(t *testing.T) {
	id := goroutineID()
	assert.Positive(t, id)
	assert.Equal(t, id, goroutineID())

	other := make(chan int64)
	go func() { other <- goroutineID() }()
	assert.NotEqual(t, id, <-other)
}
