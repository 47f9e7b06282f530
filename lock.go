package jscore

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// engineLock is a mutex that the holding goroutine may acquire again. Class
// hooks run inside engine calls and are allowed to call back into the API.
type engineLock struct {
	mu     sync.Mutex
	holder int64      // goroutine id of the holder, 0 if unlocked
	depth  int32      // recursion depth
	state  sync.Mutex // protects holder and depth
}

// lock acquires the lock and reports whether this was the outermost
// acquisition on the calling goroutine.
func (l *engineLock) lock() bool {
	gid := goroutineID()

	l.state.Lock()
	if l.holder == gid {
		l.depth++
		l.state.Unlock()
		return false
	}
	l.state.Unlock()

	l.mu.Lock()

	l.state.Lock()
	l.holder = gid
	l.depth = 1
	l.state.Unlock()
	return true
}

func (l *engineLock) unlock() {
	l.state.Lock()
	l.depth--
	if l.depth > 0 {
		l.state.Unlock()
		return
	}
	l.holder = 0
	l.state.Unlock()
	l.mu.Unlock()
}

// held reports whether the calling goroutine holds the lock.
func (l *engineLock) held() bool {
	gid := goroutineID()
	l.state.Lock()
	defer l.state.Unlock()
	return l.holder == gid
}

// goroutineID parses the current goroutine id out of the stack header
// ("goroutine <id> [running]:").
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if idx := strings.IndexByte(s, ' '); idx > 0 {
		s = s[:idx]
	}
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}
