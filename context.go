package jscore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"weak"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"
)

// Context is a global execution context. Each Context has its own global
// object and built-ins; contexts of the same group share the group lock and
// collector pump but cannot exchange objects.
type Context struct {
	group   *ContextGroup
	rt      *goja.Runtime
	logger  *zap.Logger
	refs    atomic.Int32
	defunct atomic.Bool

	name    string
	hasName bool

	global     *goja.Object
	globalInst *instance

	intrinsics intrinsics
	protos     map[*Class]*goja.Object
	instances  map[weak.Pointer[goja.Object]]*instance
	nextSeq    uint64
	protected  *protectedRegistry
	modules    *require.Registry
}

// intrinsics are captured before any embedder code runs so that later
// changes to the global object cannot affect the interceptors.
type intrinsics struct {
	reflectGet                      goja.Callable
	reflectSet                      goja.Callable
	reflectHas                      goja.Callable
	reflectDeleteProperty           goja.Callable
	reflectOwnKeys                  goja.Callable
	reflectGetOwnPropertyDescriptor goja.Callable

	functionTarget goja.Callable
	forInNames     goja.Callable
	instanceOf     goja.Callable
	jsonParse      goja.Callable
	jsonStringify  goja.Callable

	errorCtor       *goja.Object
	syntaxErrorCtor *goja.Object
	dateCtor        *goja.Object
	regexpCtor      *goja.Object
	objectProto     *goja.Object
	functionProto   *goja.Object
}

const intrinsicsSource = `(function () {
	return {
		get: Reflect.get,
		set: Reflect.set,
		has: Reflect.has,
		deleteProperty: Reflect.deleteProperty,
		ownKeys: Reflect.ownKeys,
		getOwnPropertyDescriptor: Reflect.getOwnPropertyDescriptor,
		functionTarget: function (constructible) { return constructible ? function () {} : () => {}; },
		forInNames: function (o) { var names = []; for (var k in o) { names.push(k); } return names; },
		instanceOf: function (v, c) { return v instanceof c; },
		parse: JSON.parse,
		stringify: JSON.stringify,
		Error: Error,
		SyntaxError: SyntaxError,
		Date: Date,
		RegExp: RegExp,
		objectProto: Object.prototype,
		functionProto: Function.prototype
	};
})()`

// =============================================================================
// LIFECYCLE
// =============================================================================

// NewGlobalContext creates a context in the implicit process-wide group. The
// group is created on first use and destroyed with its last context. If class
// is not nil the global object becomes an instance of it.
func NewGlobalContext(class *Class) *Context {
	g := acquireDefaultGroup()
	ctx := NewGlobalContextInGroup(g, class)
	g.Release()
	return ctx
}

// NewGlobalContextInGroup creates a context in group, retaining the group.
// A nil group behaves like NewGlobalContext.
func NewGlobalContextInGroup(group *ContextGroup, class *Class) *Context {
	if group == nil {
		return NewGlobalContext(class)
	}
	group.Retain()
	group.enter()
	defer group.leave()

	rt := goja.New()
	ctx := &Context{
		group:     group,
		rt:        rt,
		logger:    group.logger,
		global:    rt.GlobalObject(),
		protos:    make(map[*Class]*goja.Object),
		instances: make(map[weak.Pointer[goja.Object]]*instance),
		protected: newProtectedRegistry(),
	}
	ctx.refs.Store(1)

	if err := ctx.loadIntrinsics(); err != nil {
		// the source is fixed, so this is a bug in the engine
		panic(fmt.Sprintf("jscore: load intrinsics: %v", err))
	}
	if group.config.Console {
		if err := ctx.installConsole(); err != nil {
			ctx.logger.Error("console unavailable", zap.Error(err))
		}
	}
	if class != nil {
		ctx.installGlobalClass(class)
	}

	ctx.logger.Debug("context created", zap.String("global_class", classNameOf(class)))
	return ctx
}

func classNameOf(c *Class) string {
	if c == nil {
		return ""
	}
	return c.Name()
}

func (ctx *Context) loadIntrinsics() error {
	v, err := ctx.rt.RunString(intrinsicsSource)
	if err != nil {
		return err
	}
	obj := v.ToObject(ctx.rt)

	fn := func(name string) (goja.Callable, error) {
		f, ok := goja.AssertFunction(obj.Get(name))
		if !ok {
			return nil, fmt.Errorf("intrinsic %s is not a function", name)
		}
		return f, nil
	}
	object := func(name string) (*goja.Object, error) {
		o, ok := obj.Get(name).(*goja.Object)
		if !ok {
			return nil, fmt.Errorf("intrinsic %s is not an object", name)
		}
		return o, nil
	}

	in := &ctx.intrinsics
	for _, f := range []struct {
		dst  *goja.Callable
		name string
	}{
		{&in.reflectGet, "get"},
		{&in.reflectSet, "set"},
		{&in.reflectHas, "has"},
		{&in.reflectDeleteProperty, "deleteProperty"},
		{&in.reflectOwnKeys, "ownKeys"},
		{&in.reflectGetOwnPropertyDescriptor, "getOwnPropertyDescriptor"},
		{&in.functionTarget, "functionTarget"},
		{&in.forInNames, "forInNames"},
		{&in.instanceOf, "instanceOf"},
		{&in.jsonParse, "parse"},
		{&in.jsonStringify, "stringify"},
	} {
		if *f.dst, err = fn(f.name); err != nil {
			return err
		}
	}
	for _, o := range []struct {
		dst  **goja.Object
		name string
	}{
		{&in.errorCtor, "Error"},
		{&in.syntaxErrorCtor, "SyntaxError"},
		{&in.dateCtor, "Date"},
		{&in.regexpCtor, "RegExp"},
		{&in.objectProto, "objectProto"},
		{&in.functionProto, "functionProto"},
	} {
		if *o.dst, err = object(o.name); err != nil {
			return err
		}
	}
	return nil
}

// installGlobalClass puts an instance of class behind the global object.
// Hooks see the global object itself and its private data is the
// instance's.
func (ctx *Context) installGlobalClass(class *Class) {
	self, inst := ctx.newInstance(class, nil, ctx.global)
	if err := ctx.global.SetPrototype(self); err != nil {
		ctx.logger.Error("global class not installed", zap.Error(err))
		return
	}
	ctx.globalInst = inst
	ctx.initialize(inst, ctx.wrapObject(ctx.global))
}

// Retain increments the reference count and returns the context.
func (ctx *Context) Retain() *Context {
	ctx.refs.Add(1)
	return ctx
}

// Release decrements the reference count. When it reaches zero the
// collector is pumped, remaining class instances are finalized, the context
// becomes defunct and its group reference is released.
func (ctx *Context) Release() {
	n := ctx.refs.Add(-1)
	switch {
	case n == 0:
		ctx.destroy()
	case n < 0:
		ctx.logger.Error("context released too many times", zap.Int32("refs", n))
	}
}

func (ctx *Context) destroy() {
	g := ctx.group
	g.enter()
	pumped := g.pumpGC()
	finalized := ctx.finalizeAll()
	ctx.defunct.Store(true)
	leaked := ctx.protected.clear()
	ctx.rt = nil
	ctx.global = nil
	ctx.globalInst = nil
	ctx.protos = nil
	ctx.instances = nil
	ctx.modules = nil
	g.leave()

	ctx.logger.Debug("context destroyed",
		zap.Int("collected", pumped),
		zap.Int("finalized", finalized),
		zap.Int("protected", leaked))
	g.Release()
}

// Defunct reports whether the context has been torn down.
func (ctx *Context) Defunct() bool {
	return ctx.defunct.Load()
}

// enter acquires the group lock for an operation on this context. It fails
// without holding the lock if the context is defunct.
func (ctx *Context) enter() error {
	ctx.group.enter()
	if ctx.defunct.Load() {
		ctx.group.leave()
		ctx.logger.Error("use of defunct context", zap.Error(ErrContextDefunct))
		return ErrContextDefunct
	}
	return nil
}

func (ctx *Context) leave() {
	ctx.group.leave()
}

// Group returns the group of the context, retained. The caller must
// Release it.
func (ctx *Context) Group() *ContextGroup {
	return ctx.group.Retain()
}

// GlobalContext returns the context itself, retained. The caller must
// Release it.
func (ctx *Context) GlobalContext() *Context {
	return ctx.Retain()
}

// Logger returns the logger used by the context.
func (ctx *Context) Logger() *zap.Logger {
	return ctx.logger
}

// GlobalObject returns the global object.
func (ctx *Context) GlobalObject() *Object {
	if ctx.enter() != nil {
		return &Object{Value: Value{ctx: ctx, ref: goja.Undefined()}}
	}
	defer ctx.leave()
	return ctx.wrapObject(ctx.global)
}

// Name returns the context name. ok is false if no name was set.
func (ctx *Context) Name() (name string, ok bool) {
	ctx.group.enter()
	defer ctx.group.leave()
	return ctx.name, ctx.hasName
}

// SetName sets the context name.
func (ctx *Context) SetName(name string) {
	ctx.group.enter()
	defer ctx.group.leave()
	ctx.name = name
	ctx.hasName = true
}

// ClearName removes the context name, so Name reports none.
func (ctx *Context) ClearName() {
	ctx.group.enter()
	defer ctx.group.leave()
	ctx.name = ""
	ctx.hasName = false
}

// ProtectedCount returns the number of values currently protected.
func (ctx *Context) ProtectedCount() int {
	return ctx.protected.count()
}

// GarbageCollect pumps the collector and runs the finalizers it queues.
func (ctx *Context) GarbageCollect() {
	if ctx.enter() != nil {
		return
	}
	defer ctx.leave()
	ctx.group.pumpGC()
}

// =============================================================================
// SCRIPT EVALUATION
// =============================================================================

func linePadding(startingLine int) string {
	if startingLine <= 1 {
		return ""
	}
	return strings.Repeat("\n", startingLine-1)
}

// EvaluateScript runs script and returns its completion value. If this is
// not nil the script runs as the body of a function whose this is the given
// object, so its var declarations stay local.
func (ctx *Context) EvaluateScript(script string, this *Object, sourceURL string, startingLine int) (*Value, error) {
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()

	if this == nil {
		v, err := ctx.rt.RunScript(sourceURL, linePadding(startingLine)+script)
		if err != nil {
			return nil, ctx.exceptionOf(err)
		}
		return ctx.wrap(v), nil
	}

	thisVal, err := ctx.valueOf(&this.Value)
	if err != nil {
		return nil, err
	}
	prg, err := goja.Parse(sourceURL, script)
	if err != nil {
		// compiles the same way, so this only reports the SyntaxError
		_, err = ctx.rt.RunScript(sourceURL, linePadding(startingLine)+script)
		return nil, ctx.exceptionOf(err)
	}
	fn, err := ctx.rt.RunScript(sourceURL, linePadding(startingLine)+functionBody(prg, script))
	if err != nil {
		return nil, ctx.exceptionOf(err)
	}
	call, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, ErrNotFunction
	}
	v, err := call(thisVal)
	if err != nil {
		return nil, ctx.exceptionOf(err)
	}
	return ctx.wrap(v), nil
}

// functionBody wraps script in a function expression that returns the value
// of its last expression statement. The first script character stays on the
// first line so positions keep their line numbers. A sloppy body gets a
// parameter named arguments, which suppresses the arguments object.
func functionBody(prg *ast.Program, script string) string {
	head := "(function (arguments) {"
	if isStrict(prg) {
		head = "(function () {"
	}
	body := script
	if n := len(prg.Body); n > 0 {
		if st, ok := prg.Body[n-1].(*ast.ExpressionStatement); ok {
			floor := 0
			if n > 1 {
				floor = int(prg.Body[n-2].Idx1()) - 1
			}
			// the parser drops parentheses, so the statement may open earlier
			at := int(st.Idx0()) - 1
			for i := at; i > floor && strings.ContainsRune("( \t\r\n", rune(script[i-1])); i-- {
				if script[i-1] == '(' {
					at = i - 1
				}
			}
			body = script[:at] + "return " + script[at:]
		}
	}
	return head + body + "\n})"
}

func isStrict(prg *ast.Program) bool {
	for _, st := range prg.Body {
		es, ok := st.(*ast.ExpressionStatement)
		if !ok {
			return false
		}
		lit, ok := es.Expression.(*ast.StringLiteral)
		if !ok {
			return false
		}
		if lit.Literal == `"use strict"` || lit.Literal == `'use strict'` {
			return true
		}
	}
	return false
}

// CheckScriptSyntax reports whether script parses. A syntax error is
// returned as an *Exception holding a SyntaxError.
func (ctx *Context) CheckScriptSyntax(script string, sourceURL string, startingLine int) (bool, error) {
	if err := ctx.enter(); err != nil {
		return false, err
	}
	defer ctx.leave()

	_, err := goja.Compile(sourceURL, linePadding(startingLine)+script, false)
	if err == nil {
		return true, nil
	}
	var syntaxErr *goja.CompilerSyntaxError
	if !errors.As(err, &syntaxErr) {
		return false, err
	}
	exc, cerr := ctx.rt.New(ctx.intrinsics.syntaxErrorCtor, ctx.rt.ToValue(syntaxErr.Error()))
	if cerr != nil {
		return false, ctx.exceptionOf(cerr)
	}
	return false, &Exception{
		Value:   ctx.wrap(exc),
		Name:    "SyntaxError",
		Message: syntaxErr.Error(),
	}
}

// =============================================================================
// VALUE CONSTRUCTORS
// =============================================================================

func (ctx *Context) MakeUndefined() *Value {
	return ctx.wrap(goja.Undefined())
}

func (ctx *Context) MakeNull() *Value {
	return ctx.wrap(goja.Null())
}

func (ctx *Context) MakeBoolean(b bool) *Value {
	if ctx.enter() != nil {
		return ctx.MakeUndefined()
	}
	defer ctx.leave()
	return ctx.wrap(ctx.rt.ToValue(b))
}

func (ctx *Context) MakeNumber(f float64) *Value {
	if ctx.enter() != nil {
		return ctx.MakeUndefined()
	}
	defer ctx.leave()
	return ctx.wrap(ctx.rt.ToValue(f))
}

// MakeString returns a string value. Invalid UTF-8 yields undefined.
func (ctx *Context) MakeString(s string) *Value {
	return ctx.MakeStringFromBytes([]byte(s), EncodingUTF8)
}

// MakeStringFromBytes decodes data and returns it as a string value. Text
// that does not decode yields undefined.
func (ctx *Context) MakeStringFromBytes(data []byte, enc Encoding) *Value {
	if ctx.enter() != nil {
		return ctx.MakeUndefined()
	}
	defer ctx.leave()
	s, ok := decodeText(data, enc)
	if !ok {
		ctx.logger.Debug("undecodable string", zap.Stringer("encoding", enc), zap.Int("bytes", len(data)))
		return ctx.wrap(goja.Undefined())
	}
	return ctx.wrap(ctx.rt.ToValue(s))
}

// MakeFromJSONString parses JSON text. Malformed text yields undefined.
func (ctx *Context) MakeFromJSONString(text string) *Value {
	if ctx.enter() != nil {
		return ctx.MakeUndefined()
	}
	defer ctx.leave()
	v, err := ctx.intrinsics.jsonParse(goja.Undefined(), ctx.rt.ToValue(text))
	if err != nil {
		ctx.logger.Debug("malformed json", zap.Error(err))
		return ctx.wrap(goja.Undefined())
	}
	return ctx.wrap(v)
}

// =============================================================================
// HANDLE CONVERSION
// =============================================================================

func (ctx *Context) wrap(v goja.Value) *Value {
	if v == nil {
		v = goja.Undefined()
	}
	return &Value{ctx: ctx, ref: v}
}

func (ctx *Context) wrapObject(o *goja.Object) *Object {
	return &Object{Value: Value{ctx: ctx, ref: o}}
}

func (ctx *Context) wrapArgs(args []goja.Value) []*Value {
	out := make([]*Value, len(args))
	for i, a := range args {
		out[i] = ctx.wrap(a)
	}
	return out
}

// valueOf returns the engine value behind v. Primitives may come from any
// context; objects must belong to ctx.
func (ctx *Context) valueOf(v *Value) (goja.Value, error) {
	if v == nil || v.ref == nil {
		return goja.Undefined(), nil
	}
	if _, isObj := v.ref.(*goja.Object); isObj && v.ctx != ctx {
		return nil, ErrCrossContext
	}
	return v.ref, nil
}

func (ctx *Context) valuesOf(vs []*Value) ([]goja.Value, error) {
	out := make([]goja.Value, len(vs))
	for i, v := range vs {
		ev, err := ctx.valueOf(v)
		if err != nil {
			return nil, err
		}
		out[i] = ev
	}
	return out, nil
}

// hookResult converts a value returned by a class hook, throwing if it
// cannot be used here. Only call from inside an engine callback.
func (ctx *Context) hookResult(v *Value) goja.Value {
	ev, err := ctx.valueOf(v)
	if err != nil {
		ctx.throw(err)
	}
	return ev
}

// =============================================================================
// INSTANCE TRACKING
// =============================================================================

// lookupInstance finds the class instance record of o, if any.
func (ctx *Context) lookupInstance(o *goja.Object) *instance {
	if o == nil || ctx.instances == nil {
		return nil
	}
	return ctx.instances[weak.Make(o)]
}

// finalizeAll finalizes every live instance, newest first, and returns how
// many it finalized.
func (ctx *Context) finalizeAll() int {
	seen := make(map[*instance]struct{}, len(ctx.instances))
	live := make([]*instance, 0, len(ctx.instances))
	for _, inst := range ctx.instances {
		if _, dup := seen[inst]; dup {
			continue
		}
		seen[inst] = struct{}{}
		live = append(live, inst)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq > live[j].seq })

	n := 0
	for _, inst := range live {
		if ctx.finalizeInstance(inst) {
			n++
		}
	}
	return n
}
