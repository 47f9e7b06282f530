package jscore

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type finalizeCounter struct {
	base, derived atomic.Int32
}

func (fc *finalizeCounter) classes() (*Class, *Class) {
	base := NewClassBuilder("Base").
		Finalize(func(obj *Object) { fc.base.Add(1) }).
		Build()
	derived := NewClassBuilder("Derived").
		Parent(base).
		Finalize(func(obj *Object) { fc.derived.Add(1) }).
		Build()
	base.Release()
	return base, derived
}

func newTestContext(t *testing.T, class *Class) (*ContextGroup, *Context) {
	t.Helper()
	group := NewContextGroup(WithGCPumpPasses(4), WithGCPumpInterval(time.Millisecond))
	t.Cleanup(group.Release)
	return group, NewGlobalContextInGroup(group, class)
}

// TestFinalizeOnce tests that a duplicate finalize runs no hook twice
func TestFinalizeOnce(t *testing.T) {
	var fc finalizeCounter
	_, derived := fc.classes()
	defer derived.Release()
	group, ctx := newTestContext(t, nil)
	defer ctx.Release()

	obj, err := ctx.MakeObject(derived, "data")
	require.NoError(t, err)

	group.enter()
	inst := obj.instance()
	require.NotNil(t, inst)
	assert.True(t, ctx.finalizeInstance(inst))
	assert.False(t, ctx.finalizeInstance(inst))
	assert.Nil(t, obj.instance())
	group.leave()

	assert.Equal(t, int32(1), fc.base.Load())
	assert.Equal(t, int32(1), fc.derived.Load())

	// a late cleanup for the same instance is harmless
	scheduleFinalize(inst)
	group.enter()
	group.leave()
	assert.Equal(t, 0, group.jobs.pending())
	assert.Equal(t, int32(1), fc.derived.Load())
}

// TestFinalizeAfterTeardown tests that nothing runs once the context is defunct
func TestFinalizeAfterTeardown(t *testing.T) {
	var fc finalizeCounter
	_, derived := fc.classes()
	defer derived.Release()
	group, ctx := newTestContext(t, nil)

	obj, err := ctx.MakeObject(derived, nil)
	require.NoError(t, err)
	ctx.group.enter()
	inst := obj.instance()
	ctx.group.leave()

	ctx.Release()
	assert.True(t, ctx.Defunct())
	assert.Equal(t, int32(1), fc.derived.Load())

	inst.finalized.Store(false)
	group.enter()
	assert.False(t, ctx.finalizeInstance(inst))
	group.leave()
	assert.Equal(t, int32(1), fc.derived.Load())
	assert.Equal(t, int32(1), fc.base.Load())
}

func makeGarbage(t *testing.T, ctx *Context, class *Class, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := ctx.MakeObject(class, i)
		require.NoError(t, err)
	}
}

// TestFinalizeByCollector tests that unreachable instances are finalized
func TestFinalizeByCollector(t *testing.T) {
	var fc finalizeCounter
	_, derived := fc.classes()
	defer derived.Release()
	_, ctx := newTestContext(t, nil)
	defer ctx.Release()

	makeGarbage(t, ctx, derived, 10)

	require.Eventually(t, func() bool {
		ctx.GarbageCollect()
		return fc.derived.Load() == 10
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(10), fc.base.Load())

	ctx.group.enter()
	assert.Empty(t, ctx.instances)
	ctx.group.leave()
}

// TestClassProtoShared tests that instances of a class share one prototype
func TestClassProtoShared(t *testing.T) {
	class := NewClassBuilder("Thing").
		StaticFunction("f", nil, PropertyAttributeNone).
		Build()
	defer class.Release()
	_, ctx := newTestContext(t, nil)
	defer ctx.Release()

	a, err := ctx.MakeObject(class, nil)
	require.NoError(t, err)
	b, err := ctx.MakeObject(class, nil)
	require.NoError(t, err)

	ctx.group.enter()
	defer ctx.group.leave()
	assert.Same(t, a.object().Prototype(), b.object().Prototype())
	assert.Same(t, ctx.classProto(class), a.object().Prototype())
	assert.Len(t, ctx.protos, 1)
}

// TestGlobalInstance tests that the global object and its interceptor map to
// one instance
func TestGlobalInstance(t *testing.T) {
	var fc finalizeCounter
	_, derived := fc.classes()
	_, ctx := newTestContext(t, derived)
	derived.Release()

	ctx.group.enter()
	inst := ctx.lookupInstance(ctx.global)
	require.NotNil(t, inst)
	assert.Same(t, ctx.globalInst, inst)
	assert.Same(t, inst, ctx.lookupInstance(ctx.global.Prototype()))
	ctx.group.leave()

	ctx.Release()
	assert.Equal(t, int32(1), fc.derived.Load())
	assert.Equal(t, int32(1), fc.base.Load())
}

// TestHusk tests the handle passed to finalizers
func TestHusk(t *testing.T) {
	var seen any
	var set bool
	var getErr, setErr, delErr, callErr error
	var has bool
	var proto *Value
	class := NewClassBuilder("Husk").
		Finalize(func(obj *Object) {
			seen = obj.Private()
			set = obj.SetPrivate("after")
			_, getErr = obj.Get("x")
			setErr = obj.Set("x", obj.ctx.MakeNumber(1), PropertyAttributeNone)
			_, delErr = obj.Delete("x")
			_, callErr = obj.CallAsFunction(nil)
			has = obj.Has("x")
			proto = obj.Prototype()
		}).
		Build()
	defer class.Release()
	_, ctx := newTestContext(t, nil)

	_, err := ctx.MakeObject(class, "before")
	require.NoError(t, err)
	ctx.Release()

	assert.Equal(t, "before", seen)
	assert.True(t, set)
	assert.ErrorIs(t, getErr, ErrFinalized)
	assert.ErrorIs(t, setErr, ErrFinalized)
	assert.ErrorIs(t, delErr, ErrFinalized)
	assert.ErrorIs(t, callErr, ErrFinalized)
	assert.False(t, has)
	require.NotNil(t, proto)
	assert.True(t, goja.IsUndefined(proto.ref))
}
