package jscore

import (
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Object is a Value known to hold an object.
type Object struct {
	Value
	// husk is set on the handle passed to FinalizeFunc, whose engine
	// object is already gone.
	husk *instance
}

func (o *Object) object() *goja.Object {
	obj, _ := o.ref.(*goja.Object)
	return obj
}

// instance returns the class instance record behind o, if any. The caller
// holds the lock.
func (o *Object) instance() *instance {
	if o.husk != nil {
		return o.husk
	}
	return o.ctx.lookupInstance(o.object())
}

// =============================================================================
// OBJECT CONSTRUCTORS
// =============================================================================

// MakeObject creates an object. With a nil class the result is a plain
// object and private is ignored. Otherwise the object is an instance of
// class holding private, and the Initialize hooks of the chain have run,
// root class first.
func (ctx *Context) MakeObject(class *Class, private any) (*Object, error) {
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()
	if class == nil {
		return ctx.wrapObject(ctx.rt.NewObject()), nil
	}
	if class.released() {
		return nil, ErrClassReleased
	}
	self, inst := ctx.newInstance(class, private, nil)
	obj := ctx.wrapObject(self)
	ctx.initialize(inst, obj)
	return obj, nil
}

// MakeFunctionWithCallback creates a function called name that runs fn.
func (ctx *Context) MakeFunctionWithCallback(name string, fn CallAsFunctionFunc) (*Object, error) {
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()
	return ctx.wrapObject(ctx.newNativeFunction(name, fn)), nil
}

// newNativeFunction wraps fn in an engine function. The caller holds the
// lock.
func (ctx *Context) newNativeFunction(name string, fn CallAsFunctionFunc) *goja.Object {
	var self *goja.Object
	self = ctx.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		if fn == nil {
			return goja.Undefined()
		}
		var this *Object
		if o, ok := call.This.(*goja.Object); ok {
			this = ctx.wrapObject(o)
		}
		res, err := fn(ctx, ctx.wrapObject(self), this, ctx.wrapArgs(call.Arguments))
		if err != nil {
			ctx.throw(err)
		}
		return ctx.hookResult(res)
	}).(*goja.Object)
	if name != "" {
		_ = self.DefineDataProperty("name", ctx.rt.ToValue(name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}
	return self
}

// MakeConstructor creates a constructor. new runs fn, or makes an instance
// of class when fn is nil. instanceof against the constructor is decided by
// class.
func (ctx *Context) MakeConstructor(class *Class, fn CallAsConstructorFunc) (*Object, error) {
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()
	if class != nil && class.released() {
		return nil, ErrClassReleased
	}

	var self *goja.Object
	self = ctx.rt.ToValue(func(call goja.ConstructorCall) *goja.Object {
		if fn != nil {
			res, err := fn(ctx, ctx.wrapObject(self), ctx.wrapArgs(call.Arguments))
			if err != nil {
				ctx.throw(err)
			}
			o, ok := ctx.hookResult(res).(*goja.Object)
			if !ok {
				ctx.throwError("Bad constructor")
			}
			return o
		}
		if class != nil {
			o, inst := ctx.newInstance(class, nil, nil)
			ctx.initialize(inst, ctx.wrapObject(o))
			return o
		}
		return call.This
	}).(*goja.Object)

	if class != nil {
		proto := ctx.classProto(class)
		if err := self.DefineDataProperty("prototype", proto, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
			ctx.logger.Debug("constructor prototype not replaced", zap.Error(err))
		}
		hasInstance := ctx.rt.ToValue(func(call goja.FunctionCall) goja.Value {
			return ctx.rt.ToValue(ctx.hasInstance(class, self, call.Argument(0)))
		})
		if err := self.DefineDataPropertySymbol(goja.SymHasInstance, hasInstance, goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
			ctx.logger.Error("constructor instanceof hook not installed", zap.Error(err))
		}
	}
	return ctx.wrapObject(self), nil
}

// MakeArray creates an array holding values.
func (ctx *Context) MakeArray(values ...*Value) (*Object, error) {
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()
	items, err := ctx.valuesOf(values)
	if err != nil {
		return nil, err
	}
	elems := make([]any, len(items))
	for i, it := range items {
		elems[i] = it
	}
	return ctx.wrapObject(ctx.rt.NewArray(elems...)), nil
}

// MakeDate calls new Date(args...).
func (ctx *Context) MakeDate(args ...*Value) (*Object, error) {
	return ctx.construct(ctx.intrinsics.dateCtor, args)
}

// MakeError calls new Error(args...).
func (ctx *Context) MakeError(args ...*Value) (*Object, error) {
	return ctx.construct(ctx.intrinsics.errorCtor, args)
}

// MakeRegExp calls new RegExp(args...).
func (ctx *Context) MakeRegExp(args ...*Value) (*Object, error) {
	return ctx.construct(ctx.intrinsics.regexpCtor, args)
}

func (ctx *Context) construct(ctor *goja.Object, args []*Value) (*Object, error) {
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()
	ev, err := ctx.valuesOf(args)
	if err != nil {
		return nil, err
	}
	o, err := ctx.rt.New(ctor, ev...)
	if err != nil {
		return nil, ctx.exceptionOf(err)
	}
	return ctx.wrapObject(o), nil
}

// MakeFunction compiles a function from parameter names and body text. An
// empty name makes an anonymous function.
func (ctx *Context) MakeFunction(name string, params []string, body string, sourceURL string, startingLine int) (*Object, error) {
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()

	var src strings.Builder
	src.WriteString(linePadding(startingLine))
	src.WriteString("(function ")
	src.WriteString(name)
	src.WriteString("(")
	src.WriteString(strings.Join(params, ", "))
	src.WriteString(") {\n")
	src.WriteString(body)
	src.WriteString("\n})")

	v, err := ctx.rt.RunScript(sourceURL, src.String())
	if err != nil {
		return nil, ctx.exceptionOf(err)
	}
	return ctx.wrapObject(v.(*goja.Object)), nil
}

// =============================================================================
// PROPERTIES
// =============================================================================

// Get reads the named property.
func (o *Object) Get(name string) (*Value, error) {
	ctx := o.ctx
	if o.husk != nil {
		return nil, ErrFinalized
	}
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()
	var v goja.Value
	if err := ctx.try(func() { v = o.object().Get(name) }); err != nil {
		return nil, err
	}
	return ctx.wrap(v), nil
}

// Set writes the named property. With attributes other than
// PropertyAttributeNone the property is defined with them instead.
func (o *Object) Set(name string, value *Value, attrs PropertyAttributes) error {
	ctx := o.ctx
	if o.husk != nil {
		return ErrFinalized
	}
	if err := ctx.enter(); err != nil {
		return err
	}
	defer ctx.leave()
	v, err := ctx.valueOf(value)
	if err != nil {
		return err
	}
	obj := o.object()
	var serr error
	if err := ctx.try(func() {
		if attrs == PropertyAttributeNone {
			serr = obj.Set(name, v)
			return
		}
		serr = obj.DefineDataProperty(name, v,
			flag(!attrs.has(PropertyAttributeReadOnly)),
			flag(!attrs.has(PropertyAttributeDontDelete)),
			flag(!attrs.has(PropertyAttributeDontEnum)))
	}); err != nil {
		return err
	}
	if serr != nil {
		return ctx.exceptionOf(serr)
	}
	return nil
}

func flag(b bool) goja.Flag {
	if b {
		return goja.FLAG_TRUE
	}
	return goja.FLAG_FALSE
}

// Delete deletes the named property and reports whether it is gone.
func (o *Object) Delete(name string) (bool, error) {
	ctx := o.ctx
	if o.husk != nil {
		return false, ErrFinalized
	}
	if err := ctx.enter(); err != nil {
		return false, err
	}
	defer ctx.leave()
	res, err := ctx.intrinsics.reflectDeleteProperty(goja.Undefined(), o.ref, ctx.rt.ToValue(name))
	if err != nil {
		return false, ctx.exceptionOf(err)
	}
	return res.ToBoolean(), nil
}

// Has reports whether the object or its prototype chain has the named
// property. A hook that throws makes it report false.
func (o *Object) Has(name string) bool {
	ctx := o.ctx
	if o.husk != nil || ctx.enter() != nil {
		return false
	}
	defer ctx.leave()
	res, err := ctx.intrinsics.reflectHas(goja.Undefined(), o.ref, ctx.rt.ToValue(name))
	if err != nil {
		ctx.logger.Debug("has property threw", zap.String("property", name), zap.Error(err))
		return false
	}
	return res.ToBoolean()
}

// GetAtIndex reads an indexed property.
func (o *Object) GetAtIndex(index uint32) (*Value, error) {
	return o.Get(strconv.FormatUint(uint64(index), 10))
}

// SetAtIndex writes an indexed property.
func (o *Object) SetAtIndex(index uint32, value *Value) error {
	return o.Set(strconv.FormatUint(uint64(index), 10), value, PropertyAttributeNone)
}

// Prototype returns the prototype, which is an object or null.
func (o *Object) Prototype() *Value {
	ctx := o.ctx
	if o.husk != nil || ctx.enter() != nil {
		return ctx.MakeUndefined()
	}
	defer ctx.leave()
	var proto *goja.Object
	if err := ctx.try(func() { proto = o.object().Prototype() }); err != nil || proto == nil {
		return ctx.wrap(goja.Null())
	}
	return ctx.wrap(proto)
}

// SetPrototype sets the prototype to an object, or to null for any other
// value.
func (o *Object) SetPrototype(proto *Value) error {
	ctx := o.ctx
	if o.husk != nil {
		return ErrFinalized
	}
	if err := ctx.enter(); err != nil {
		return err
	}
	defer ctx.leave()
	v, err := ctx.valueOf(proto)
	if err != nil {
		return err
	}
	p, _ := v.(*goja.Object)
	var serr error
	if err := ctx.try(func() { serr = o.object().SetPrototype(p) }); err != nil {
		return err
	}
	if serr != nil {
		return ctx.exceptionOf(serr)
	}
	return nil
}

// Private returns the private data of a class instance, or nil.
func (o *Object) Private() any {
	ctx := o.ctx
	if o.husk != nil {
		return o.husk.private
	}
	if ctx.enter() != nil {
		return nil
	}
	defer ctx.leave()
	if inst := o.instance(); inst != nil {
		return inst.private
	}
	return nil
}

// SetPrivate replaces the private data of a class instance. It reports false
// for objects that are not class instances.
func (o *Object) SetPrivate(data any) bool {
	ctx := o.ctx
	if o.husk != nil {
		o.husk.private = data
		return true
	}
	if ctx.enter() != nil {
		return false
	}
	defer ctx.leave()
	inst := o.instance()
	if inst == nil {
		return false
	}
	inst.private = data
	return true
}

// =============================================================================
// CALLS
// =============================================================================

// IsFunction reports whether the object can be called.
func (o *Object) IsFunction() bool {
	return o.query(func(ref goja.Value) bool {
		_, ok := goja.AssertFunction(ref)
		return ok
	})
}

// IsConstructor reports whether the object can be used with new.
func (o *Object) IsConstructor() bool {
	return o.query(func(ref goja.Value) bool {
		_, ok := goja.AssertConstructor(ref)
		return ok
	})
}

// CallAsFunction calls the object with this as receiver (undefined when
// nil).
func (o *Object) CallAsFunction(this *Object, args ...*Value) (*Value, error) {
	ctx := o.ctx
	if o.husk != nil {
		return nil, ErrFinalized
	}
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()
	fn, ok := goja.AssertFunction(o.ref)
	if !ok {
		return nil, ErrNotFunction
	}
	var thisVal goja.Value = goja.Undefined()
	if this != nil {
		v, err := ctx.valueOf(&this.Value)
		if err != nil {
			return nil, err
		}
		thisVal = v
	}
	ev, err := ctx.valuesOf(args)
	if err != nil {
		return nil, err
	}
	res, err := fn(thisVal, ev...)
	if err != nil {
		return nil, ctx.exceptionOf(err)
	}
	return ctx.wrap(res), nil
}

// CallAsConstructor evaluates new with the object as constructor.
func (o *Object) CallAsConstructor(args ...*Value) (*Object, error) {
	ctx := o.ctx
	if o.husk != nil {
		return nil, ErrFinalized
	}
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()
	if _, ok := goja.AssertConstructor(o.ref); !ok {
		return nil, ErrNotConstructor
	}
	ev, err := ctx.valuesOf(args)
	if err != nil {
		return nil, err
	}
	res, err := ctx.rt.New(o.ref, ev...)
	if err != nil {
		return nil, ctx.exceptionOf(err)
	}
	return ctx.wrapObject(res), nil
}

// CopyPropertyNames returns the names a for-in loop over the object visits.
func (o *Object) CopyPropertyNames() *PropertyNameArray {
	ctx := o.ctx
	if o.husk != nil || ctx.enter() != nil {
		return newPropertyNameArray(nil)
	}
	defer ctx.leave()
	res, err := ctx.intrinsics.forInNames(goja.Undefined(), o.ref)
	if err != nil {
		ctx.logger.Debug("property enumeration threw", zap.Error(err))
		return newPropertyNameArray(nil)
	}
	return newPropertyNameArray(ctx.stringList(res.(*goja.Object)))
}

// stringList reads an array of strings. Symbols are skipped.
func (ctx *Context) stringList(arr *goja.Object) []string {
	n := int(arr.Get("length").ToInteger())
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		v := arr.Get(strconv.Itoa(i))
		if v == nil {
			continue
		}
		if _, isSym := v.(*goja.Symbol); isSym {
			continue
		}
		out = append(out, v.String())
	}
	return out
}
