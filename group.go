package jscore

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ContextGroup owns the engine lock and the collector domain shared by its
// contexts. Every call into a context of the group is serialized through the
// group's lock. Several groups can exist at the same time but their contexts
// cannot exchange objects.
type ContextGroup struct {
	lk     engineLock
	refs   atomic.Int32
	config Config
	logger *zap.Logger
	jobs   *jobQueue
}

// implicit group used by NewGlobalContext, created on first use and dropped
// when its last context is released.
var defaultGroup struct {
	sync.Mutex
	group *ContextGroup
}

// NewContextGroup creates a group with a reference count of one.
func NewContextGroup(opts ...Option) *ContextGroup {
	o := groupOptions{config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	l := o.logger
	if l == nil {
		built, err := o.config.Logger()
		if err != nil {
			Logger().Warn("invalid log level, using package logger", zap.Error(err))
		}
		l = built
	}
	if l == nil {
		l = Logger()
	}

	g := &ContextGroup{
		config: o.config,
		logger: l,
		jobs:   newJobQueue(),
	}
	g.refs.Store(1)
	g.logger.Debug("context group created")
	return g
}

// acquireDefaultGroup returns the implicit group with one extra reference.
func acquireDefaultGroup() *ContextGroup {
	defaultGroup.Lock()
	defer defaultGroup.Unlock()
	if defaultGroup.group == nil {
		defaultGroup.group = NewContextGroup()
		return defaultGroup.group
	}
	return defaultGroup.group.Retain()
}

// Retain increments the reference count and returns the group.
func (g *ContextGroup) Retain() *ContextGroup {
	g.refs.Add(1)
	return g
}

// Release decrements the reference count. The group is destroyed when the
// count reaches zero.
func (g *ContextGroup) Release() {
	n := g.refs.Add(-1)
	switch {
	case n == 0:
		g.destroy()
	case n < 0:
		g.logger.Error("context group released too many times", zap.Int32("refs", n))
	}
}

func (g *ContextGroup) destroy() {
	defaultGroup.Lock()
	if defaultGroup.group == g {
		defaultGroup.group = nil
	}
	defaultGroup.Unlock()

	g.enter()
	ran := g.jobs.run()
	g.leave()
	g.logger.Debug("context group destroyed", zap.Int("finalizers", ran))
}

// Logger returns the logger used by the group.
func (g *ContextGroup) Logger() *zap.Logger {
	return g.logger
}

// enter acquires the group lock. The outermost acquisition on a goroutine
// first runs finalizers queued by the collector.
func (g *ContextGroup) enter() {
	if g.lk.lock() {
		g.jobs.run()
	}
}

func (g *ContextGroup) leave() {
	g.lk.unlock()
}

// pumpGC runs collector passes until two consecutive passes queue no
// finalizers or the configured bound is hit. The caller holds the lock.
func (g *ContextGroup) pumpGC() int {
	if !g.lk.held() {
		g.logger.DPanic("gc pump without the group lock")
	}
	total, quiet := 0, 0
	for pass := 0; pass < g.config.GCPumpPasses && quiet < 2; pass++ {
		runtime.GC()
		if g.config.GCPumpInterval > 0 {
			time.Sleep(g.config.GCPumpInterval)
		}
		n := g.jobs.run()
		total += n
		if n == 0 {
			quiet++
		} else {
			quiet = 0
		}
	}
	g.logger.Debug("gc pump finished", zap.Int("finalizers", total), zap.Int("pending", g.jobs.pending()))
	return total
}
