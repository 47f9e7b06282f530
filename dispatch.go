package jscore

import (
	"runtime"
	"strconv"
	"sync/atomic"
	"weak"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// instance is the native side of one class instance. It never references
// its engine object strongly, so the collector can reclaim the object and
// queue finalization.
type instance struct {
	class     *Class
	ctx       *Context
	private   any
	seq       uint64
	finalized atomic.Bool

	key       weak.Pointer[goja.Object] // the interceptor object
	globalKey weak.Pointer[goja.Object] // the global object, for the global instance
}

// newInstance creates the engine object of a class instance. holder is the
// object hooks receive; nil means the new object itself. The caller holds
// the lock and runs initialize afterwards.
func (ctx *Context) newInstance(class *Class, private any, holder *goja.Object) (*goja.Object, *instance) {
	class.Retain()
	ctx.nextSeq++
	inst := &instance{class: class, ctx: ctx, private: private, seq: ctx.nextSeq}

	proto := ctx.classProto(class)
	var target *goja.Object
	if class.callable || class.constructible {
		fn, err := ctx.intrinsics.functionTarget(goja.Undefined(), ctx.rt.ToValue(class.constructible))
		if err != nil {
			panic(err)
		}
		target = fn.(*goja.Object)
	} else {
		target = ctx.rt.NewObject()
	}
	if class.def.Attributes&ClassAttributeNoAutomaticPrototype == 0 {
		_ = target.SetPrototype(proto)
	}

	ic := &interceptor{ctx: ctx, class: class}
	self := ctx.rt.ToValue(ctx.rt.NewProxy(target, ic.traps())).(*goja.Object)
	ic.self = self
	ic.holder = self
	if holder != nil {
		ic.holder = holder
	}

	inst.key = weak.Make(self)
	ctx.instances[inst.key] = inst
	if holder != nil {
		inst.globalKey = weak.Make(holder)
		ctx.instances[inst.globalKey] = inst
	} else {
		runtime.AddCleanup(self, scheduleFinalize, inst)
	}
	return self, inst
}

// scheduleFinalize runs on the collector's cleanup goroutine. It only queues
// work; finalization happens under the group lock.
func scheduleFinalize(inst *instance) {
	inst.ctx.group.jobs.schedule(func() {
		inst.ctx.finalizeInstance(inst)
	})
}

// initialize runs the Initialize hooks of the chain, root class first.
func (ctx *Context) initialize(inst *instance, obj *Object) {
	for _, link := range inst.class.ancestry() {
		if link.def.Initialize != nil {
			link.def.Initialize(ctx, obj)
		}
	}
}

// finalizeInstance runs every Finalize hook of the chain, most-derived
// first, at most once per instance. It does nothing once the context is
// defunct. The caller holds the lock.
func (ctx *Context) finalizeInstance(inst *instance) bool {
	if ctx.defunct.Load() {
		return false
	}
	if !inst.finalized.CompareAndSwap(false, true) {
		return false
	}
	delete(ctx.instances, inst.key)
	if inst.globalKey != (weak.Pointer[goja.Object]{}) {
		delete(ctx.instances, inst.globalKey)
	}

	husk := &Object{Value: Value{ctx: ctx, ref: goja.Undefined()}, husk: inst}
	for link := inst.class; link != nil; link = link.parent {
		if link.def.Finalize != nil {
			link.def.Finalize(husk)
		}
	}
	inst.class.Release()
	return true
}

// =============================================================================
// CLASS PROTOTYPES
// =============================================================================

// classProto returns the prototype shared by the instances of class in this
// context, building it on first use. It holds the static functions of the
// whole chain, most-derived first, plus the conversion and instanceof
// symbols.
func (ctx *Context) classProto(class *Class) *goja.Object {
	if proto, ok := ctx.protos[class]; ok {
		return proto
	}
	rt := ctx.rt
	proto := rt.NewObject()
	if class.callable || class.constructible {
		_ = proto.SetPrototype(ctx.intrinsics.functionProto)
	}

	defined := make(map[string]struct{})
	for link := class; link != nil; link = link.parent {
		for i := range link.def.StaticFunctions {
			sf := &link.def.StaticFunctions[i]
			if _, dup := defined[sf.Name]; dup {
				continue
			}
			defined[sf.Name] = struct{}{}
			fn := ctx.newNativeFunction(sf.Name, sf.CallAsFunction)
			attrs := sf.Attributes
			if err := proto.DefineDataProperty(sf.Name, fn,
				flag(!attrs.has(PropertyAttributeReadOnly)),
				flag(!attrs.has(PropertyAttributeDontDelete)),
				flag(!attrs.has(PropertyAttributeDontEnum))); err != nil {
				ctx.logger.Error("static function not installed",
					zap.String("class", class.Name()), zap.String("function", sf.Name), zap.Error(err))
			}
		}
	}

	if name := class.Name(); name != "" {
		_ = proto.DefineDataPropertySymbol(goja.SymToStringTag, rt.ToValue(name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}
	if class.converts {
		toPrimitive := rt.ToValue(func(call goja.FunctionCall) goja.Value {
			return ctx.toPrimitive(class, call.This, call.Argument(0).String())
		})
		_ = proto.DefineDataPropertySymbol(goja.SymToPrimitive, toPrimitive, goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}
	if class.constructible || class.hasInstance {
		hasInstance := rt.ToValue(func(call goja.FunctionCall) goja.Value {
			ctor, _ := call.This.(*goja.Object)
			return rt.ToValue(ctx.hasInstance(class, ctor, call.Argument(0)))
		})
		_ = proto.DefineDataPropertySymbol(goja.SymHasInstance, hasInstance, goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}

	ctx.protos[class] = proto
	return proto
}

// hasInstance decides candidate instanceof constructor. An instance of the
// class or of a derived class always matches; otherwise the first
// HasInstance hook of the chain decides.
func (ctx *Context) hasInstance(class *Class, constructor *goja.Object, candidate goja.Value) bool {
	if o, ok := candidate.(*goja.Object); ok {
		if inst := ctx.lookupInstance(o); inst != nil && inst.class.inherits(class) {
			return true
		}
	}
	for link := class; link != nil; link = link.parent {
		if link.def.HasInstance == nil {
			continue
		}
		ok, err := link.def.HasInstance(ctx, ctx.wrapObject(constructor), ctx.wrap(candidate))
		if err != nil {
			ctx.throw(err)
		}
		return ok
	}
	return false
}

// toPrimitive implements Symbol.toPrimitive for class instances. A hint of
// "string" asks for TypeString; anything else asks for TypeNumber.
func (ctx *Context) toPrimitive(class *Class, this goja.Value, hint string) goja.Value {
	obj, ok := this.(*goja.Object)
	if !ok {
		return this
	}
	typ := TypeNumber
	if hint == "string" {
		typ = TypeString
	}
	for link := class; link != nil; link = link.parent {
		if link.def.ConvertToType == nil {
			continue
		}
		res, err := link.def.ConvertToType(ctx, ctx.wrapObject(obj), typ)
		if err != nil {
			ctx.throw(err)
		}
		if res != nil {
			return ctx.hookResult(res)
		}
	}
	return ctx.ordinaryToPrimitive(obj, typ)
}

func (ctx *Context) ordinaryToPrimitive(obj *goja.Object, typ Type) goja.Value {
	methods := [2]string{"valueOf", "toString"}
	if typ == TypeString {
		methods = [2]string{"toString", "valueOf"}
	}
	for _, name := range methods {
		fn, ok := goja.AssertFunction(obj.Get(name))
		if !ok {
			continue
		}
		res, err := fn(obj)
		if err != nil {
			panic(err)
		}
		if _, isObj := res.(*goja.Object); !isObj {
			return res
		}
	}
	ctx.throwTypeError("Cannot convert object to primitive value")
	return nil
}

// =============================================================================
// CHAIN WALKS
// =============================================================================

// chainGet resolves name through the class chain. ok is false when no link
// answers. A name claimed by a HasProperty hook but answered by nothing
// throws "Invalid property".
func (ctx *Context) chainGet(class *Class, obj *Object, name string) (goja.Value, bool) {
	claimed := false
	for link := class; link != nil; link = link.parent {
		def := &link.def
		gate := true
		if def.HasProperty != nil {
			gate = def.HasProperty(ctx, obj, name)
			claimed = claimed || gate
		}
		if gate && def.GetProperty != nil {
			res, err := def.GetProperty(ctx, obj, name)
			if err != nil {
				ctx.throw(err)
			}
			if res != nil {
				return ctx.hookResult(res), true
			}
		}
		if sv, ok := link.staticValues[name]; ok && sv.GetProperty != nil {
			res, err := sv.GetProperty(ctx, obj, name)
			if err != nil {
				ctx.throw(err)
			}
			if res != nil {
				return ctx.hookResult(res), true
			}
		}
		if _, ok := link.staticFunctions[name]; ok {
			return ctx.classProto(class).Get(name), true
		}
	}
	if claimed {
		ctx.throwError("Invalid property: %s", name)
	}
	return nil, false
}

// chainSet offers the write to the class chain and reports whether the
// chain consumed it. Per link, a static value is tried first; otherwise the
// SetProperty hook always runs and a name claimed by HasProperty swallows
// the write even when the hook declines it.
func (ctx *Context) chainSet(class *Class, obj *Object, name string, value goja.Value) bool {
	var wrapped *Value
	arg := func() *Value {
		if wrapped == nil {
			wrapped = ctx.wrap(value)
		}
		return wrapped
	}
	for link := class; link != nil; link = link.parent {
		def := &link.def
		if sv, ok := link.staticValues[name]; ok {
			if sv.SetProperty == nil || sv.Attributes.has(PropertyAttributeReadOnly) {
				return true
			}
			done, err := sv.SetProperty(ctx, obj, name, arg())
			if err != nil {
				ctx.throw(err)
			}
			if done {
				return true
			}
		}
		if sf, ok := link.staticFunctions[name]; ok && sf.Attributes.has(PropertyAttributeReadOnly) {
			return true
		}

		claimed := false
		if def.HasProperty != nil {
			claimed = def.HasProperty(ctx, obj, name)
		}
		if def.SetProperty != nil {
			done, err := def.SetProperty(ctx, obj, name, arg())
			if err != nil {
				ctx.throw(err)
			}
			claimed = claimed || done
		}
		if claimed {
			return true
		}
	}
	return false
}

// chainDelete offers the delete to the class chain. handled is false when
// the engine should delete from its own storage.
func (ctx *Context) chainDelete(class *Class, obj *Object, name string) (result, handled bool) {
	for link := class; link != nil; link = link.parent {
		def := &link.def
		if def.DeleteProperty != nil {
			done, err := def.DeleteProperty(ctx, obj, name)
			if err != nil {
				ctx.throw(err)
			}
			if done {
				return true, true
			}
		}
		if sv, ok := link.staticValues[name]; ok && sv.Attributes.has(PropertyAttributeDontDelete) {
			return false, true
		}
		if sf, ok := link.staticFunctions[name]; ok && sf.Attributes.has(PropertyAttributeDontDelete) {
			return false, true
		}
	}
	return false, false
}

// chainHas reports whether some link of the chain provides name. Static
// functions count only when withFunctions is set, since they live on the
// prototype rather than on the instance.
func (ctx *Context) chainHas(class *Class, obj *Object, name string, withFunctions bool) bool {
	for link := class; link != nil; link = link.parent {
		def := &link.def
		if def.HasProperty != nil {
			if def.HasProperty(ctx, obj, name) {
				return true
			}
		} else if def.GetProperty != nil {
			res, err := def.GetProperty(ctx, obj, name)
			if err != nil {
				ctx.throw(err)
			}
			if res != nil {
				return true
			}
		}
		if _, ok := link.staticValues[name]; ok {
			return true
		}
		if _, ok := link.staticFunctions[name]; ok && withFunctions {
			return true
		}
	}
	return false
}

// chainNames collects enumerable names: for each link, most-derived first,
// the GetPropertyNames output and then the enumerable static values in
// declaration order.
func (ctx *Context) chainNames(class *Class, obj *Object) *PropertyNameAccumulator {
	acc := newPropertyNameAccumulator()
	for link := class; link != nil; link = link.parent {
		if link.def.GetPropertyNames != nil {
			link.def.GetPropertyNames(ctx, obj, acc)
		}
		for _, sv := range link.def.StaticValues {
			if !sv.Attributes.has(PropertyAttributeDontEnum) {
				acc.AddName(sv.Name)
			}
		}
	}
	return acc
}

// =============================================================================
// INTERCEPTOR
// =============================================================================

// interceptor holds the proxy traps of one class instance. Indexed
// operations are re-encoded as decimal names and share the named path.
type interceptor struct {
	ctx    *Context
	class  *Class
	self   *goja.Object // the proxy
	holder *goja.Object // the object hooks see
}

func (ic *interceptor) traps() *goja.ProxyTrapConfig {
	return &goja.ProxyTrapConfig{
		Get: ic.get,
		GetIdx: func(target *goja.Object, property int, receiver goja.Value) goja.Value {
			return ic.get(target, strconv.Itoa(property), receiver)
		},
		Set: ic.set,
		SetIdx: func(target *goja.Object, property int, value goja.Value, receiver goja.Value) bool {
			return ic.set(target, strconv.Itoa(property), value, receiver)
		},
		Has: ic.has,
		HasIdx: func(target *goja.Object, property int) bool {
			return ic.has(target, strconv.Itoa(property))
		},
		DeleteProperty: ic.deleteProperty,
		DeletePropertyIdx: func(target *goja.Object, property int) bool {
			return ic.deleteProperty(target, strconv.Itoa(property))
		},
		OwnKeys:                  ic.ownKeys,
		GetOwnPropertyDescriptor: ic.getOwnPropertyDescriptor,
		GetOwnPropertyDescriptorIdx: func(target *goja.Object, property int) goja.PropertyDescriptor {
			return ic.getOwnPropertyDescriptor(target, strconv.Itoa(property))
		},
		Apply:     ic.apply,
		Construct: ic.construct,
	}
}

func (ic *interceptor) obj() *Object {
	return ic.ctx.wrapObject(ic.holder)
}

func (ic *interceptor) call(fn goja.Callable, args ...goja.Value) goja.Value {
	res, err := fn(goja.Undefined(), args...)
	if err != nil {
		panic(err)
	}
	return res
}

func (ic *interceptor) get(target *goja.Object, name string, receiver goja.Value) goja.Value {
	if v, ok := ic.ctx.chainGet(ic.class, ic.obj(), name); ok {
		return v
	}
	return ic.call(ic.ctx.intrinsics.reflectGet, target, ic.ctx.rt.ToValue(name), receiver)
}

func (ic *interceptor) set(target *goja.Object, name string, value goja.Value, receiver goja.Value) bool {
	if ic.ctx.chainSet(ic.class, ic.obj(), name, value) {
		return true
	}
	if receiver == goja.Value(ic.self) {
		return target.Set(name, value) == nil
	}
	return ic.call(ic.ctx.intrinsics.reflectSet, target, ic.ctx.rt.ToValue(name), value, receiver).ToBoolean()
}

func (ic *interceptor) has(target *goja.Object, name string) bool {
	if ic.ctx.chainHas(ic.class, ic.obj(), name, true) {
		return true
	}
	return ic.call(ic.ctx.intrinsics.reflectHas, target, ic.ctx.rt.ToValue(name)).ToBoolean()
}

func (ic *interceptor) deleteProperty(target *goja.Object, name string) bool {
	if res, handled := ic.ctx.chainDelete(ic.class, ic.obj(), name); handled {
		return res
	}
	return ic.call(ic.ctx.intrinsics.reflectDeleteProperty, target, ic.ctx.rt.ToValue(name)).ToBoolean()
}

// ownKeys lists indices in numeric order, then the other class names, then
// the keys stored on the target.
func (ic *interceptor) ownKeys(target *goja.Object) *goja.Object {
	ctx := ic.ctx
	acc := ctx.chainNames(ic.class, ic.obj())

	seen := make(map[string]struct{})
	var keys []any
	add := func(name string) {
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		keys = append(keys, name)
	}
	for _, name := range acc.indices() {
		add(name)
	}
	for _, name := range acc.named() {
		add(name)
	}

	own := ic.call(ctx.intrinsics.reflectOwnKeys, target).(*goja.Object)
	n := int(own.Get("length").ToInteger())
	for i := 0; i < n; i++ {
		k := own.Get(strconv.Itoa(i))
		if sym, ok := k.(*goja.Symbol); ok {
			keys = append(keys, sym)
			continue
		}
		add(k.String())
	}
	return ctx.rt.NewArray(keys...)
}

func (ic *interceptor) getOwnPropertyDescriptor(target *goja.Object, name string) goja.PropertyDescriptor {
	ctx := ic.ctx
	obj := ic.obj()
	if ic.claims(obj, name) {
		if v, ok := ctx.chainGet(ic.class, obj, name); ok {
			desc := goja.PropertyDescriptor{
				Value:        v,
				Writable:     goja.FLAG_TRUE,
				Enumerable:   goja.FLAG_TRUE,
				Configurable: goja.FLAG_TRUE,
			}
			if sv, ok := ic.class.staticValue(name); ok {
				desc.Writable = flag(sv.SetProperty != nil && !sv.Attributes.has(PropertyAttributeReadOnly))
				desc.Enumerable = flag(!sv.Attributes.has(PropertyAttributeDontEnum))
			}
			return desc
		}
	}
	d := ic.call(ctx.intrinsics.reflectGetOwnPropertyDescriptor, target, ctx.rt.ToValue(name))
	if o, ok := d.(*goja.Object); ok {
		return toPropertyDescriptor(o)
	}
	return goja.PropertyDescriptor{}
}

// claims reports whether name is an own property answered by the class
// rather than by the target.
func (ic *interceptor) claims(obj *Object, name string) bool {
	if ic.ctx.chainHas(ic.class, obj, name, false) {
		return true
	}
	_, listed := ic.ctx.chainNames(ic.class, obj).seen[name]
	return listed
}

// toPropertyDescriptor converts a descriptor object returned by
// Reflect.getOwnPropertyDescriptor.
func toPropertyDescriptor(o *goja.Object) goja.PropertyDescriptor {
	var desc goja.PropertyDescriptor
	boolFlag := func(name string) goja.Flag {
		v := o.Get(name)
		if v == nil || goja.IsUndefined(v) {
			return goja.FLAG_NOT_SET
		}
		return flag(v.ToBoolean())
	}
	desc.Configurable = boolFlag("configurable")
	desc.Enumerable = boolFlag("enumerable")
	if get, set := o.Get("get"), o.Get("set"); get != nil || set != nil {
		desc.Getter = get
		desc.Setter = set
		return desc
	}
	desc.Value = o.Get("value")
	desc.Writable = boolFlag("writable")
	return desc
}

func (ic *interceptor) apply(target *goja.Object, this goja.Value, args []goja.Value) goja.Value {
	ctx := ic.ctx
	for link := ic.class; link != nil; link = link.parent {
		if link.def.CallAsFunction == nil {
			continue
		}
		var thisObj *Object
		if o, ok := this.(*goja.Object); ok {
			thisObj = ctx.wrapObject(o)
		}
		res, err := link.def.CallAsFunction(ctx, ic.obj(), thisObj, ctx.wrapArgs(args))
		if err != nil {
			ctx.throw(err)
		}
		return ctx.hookResult(res)
	}
	ctx.throwTypeError("%s is not a function", ic.className())
	return nil
}

func (ic *interceptor) construct(target *goja.Object, args []goja.Value, newTarget *goja.Object) *goja.Object {
	ctx := ic.ctx
	for link := ic.class; link != nil; link = link.parent {
		if link.def.CallAsConstructor == nil {
			continue
		}
		res, err := link.def.CallAsConstructor(ctx, ic.obj(), ctx.wrapArgs(args))
		if err != nil {
			ctx.throw(err)
		}
		o, ok := ctx.hookResult(res).(*goja.Object)
		if !ok {
			ctx.throwError("Bad constructor")
		}
		return o
	}
	ctx.throwTypeError("%s is not a constructor", ic.className())
	return nil
}

func (ic *interceptor) className() string {
	if name := ic.class.Name(); name != "" {
		return name
	}
	return "object"
}
