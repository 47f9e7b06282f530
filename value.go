package jscore

import (
	"math"
	"reflect"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Type is the JavaScript type of a value.
type Type int

const (
	TypeUndefined Type = iota
	TypeNull
	TypeBoolean
	TypeNumber
	TypeString
	TypeObject
	TypeSymbol
	TypeBigInt
)

func (t Type) String() string {
	switch t {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case TypeSymbol:
		return "symbol"
	case TypeBigInt:
		return "bigint"
	default:
		return "unknown"
	}
}

// Value is a handle to one JavaScript value of a context. A Value stays
// usable for as long as the embedder holds it; Protect additionally records
// it in the context's registry of protected values until a matching
// Unprotect. Releasing a handle does not force the engine to collect the
// value.
type Value struct {
	ctx       *Context
	ref       goja.Value
	protects  atomic.Int32
	protectID int32 // registry id while protects > 0, guarded by the group lock
}

// Context returns the context that created the value.
func (v *Value) Context() *Context {
	return v.ctx
}

// typeOf classifies an engine value without converting it.
func typeOf(ref goja.Value) Type {
	switch ref.(type) {
	case *goja.Object:
		return TypeObject
	case *goja.Symbol:
		return TypeSymbol
	}
	if ref == nil || goja.IsUndefined(ref) {
		return TypeUndefined
	}
	if goja.IsNull(ref) {
		return TypeNull
	}
	t := ref.ExportType()
	if t == nil {
		return TypeUndefined
	}
	switch t.Kind() {
	case reflect.Bool:
		return TypeBoolean
	case reflect.String:
		return TypeString
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Uint32, reflect.Uint64, reflect.Float32, reflect.Float64:
		return TypeNumber
	case reflect.Ptr:
		return TypeBigInt
	}
	return TypeUndefined
}

// query runs a read-only predicate under the group lock. It reports false
// for a value of a defunct context.
func (v *Value) query(f func(goja.Value) bool) bool {
	if v.ctx.enter() != nil {
		return false
	}
	defer v.ctx.leave()
	return f(v.ref)
}

// Type returns the type of the value.
func (v *Value) Type() Type {
	t := TypeUndefined
	v.query(func(ref goja.Value) bool {
		t = typeOf(ref)
		return true
	})
	return t
}

func (v *Value) IsUndefined() bool {
	return v.query(func(ref goja.Value) bool { return typeOf(ref) == TypeUndefined })
}

func (v *Value) IsNull() bool {
	return v.query(func(ref goja.Value) bool { return typeOf(ref) == TypeNull })
}

func (v *Value) IsBoolean() bool {
	return v.query(func(ref goja.Value) bool { return typeOf(ref) == TypeBoolean })
}

func (v *Value) IsNumber() bool {
	return v.query(func(ref goja.Value) bool { return typeOf(ref) == TypeNumber })
}

func (v *Value) IsString() bool {
	return v.query(func(ref goja.Value) bool { return typeOf(ref) == TypeString })
}

func (v *Value) IsSymbol() bool {
	return v.query(func(ref goja.Value) bool { return typeOf(ref) == TypeSymbol })
}

func (v *Value) IsObject() bool {
	return v.query(func(ref goja.Value) bool { return typeOf(ref) == TypeObject })
}

// IsArray reports whether the value is an Array object.
func (v *Value) IsArray() bool {
	return v.query(func(ref goja.Value) bool {
		o, ok := ref.(*goja.Object)
		return ok && o.ClassName() == "Array"
	})
}

// IsDate reports whether the value is a Date object.
func (v *Value) IsDate() bool {
	return v.query(func(ref goja.Value) bool {
		o, ok := ref.(*goja.Object)
		return ok && o.ClassName() == "Date"
	})
}

// IsObjectOfClass reports whether the value is an instance of class or of a
// class derived from it.
func (v *Value) IsObjectOfClass(class *Class) bool {
	return v.query(func(ref goja.Value) bool {
		o, ok := ref.(*goja.Object)
		if !ok || class == nil {
			return false
		}
		inst := v.ctx.lookupInstance(o)
		return inst != nil && inst.class.inherits(class)
	})
}

// =============================================================================
// COMPARISON
// =============================================================================

// IsEqual compares with ==. A conversion that throws is returned as an
// *Exception.
func (v *Value) IsEqual(other *Value) (bool, error) {
	ctx := v.ctx
	if err := ctx.enter(); err != nil {
		return false, err
	}
	defer ctx.leave()
	b, err := ctx.valueOf(other)
	if err != nil {
		return false, err
	}
	var eq bool
	if err := ctx.try(func() { eq = v.ref.Equals(b) }); err != nil {
		return false, err
	}
	return eq, nil
}

// IsStrictEqual compares with ===.
func (v *Value) IsStrictEqual(other *Value) bool {
	ctx := v.ctx
	if ctx.enter() != nil {
		return false
	}
	defer ctx.leave()
	if other == nil || other.ref == nil {
		return goja.IsUndefined(v.ref)
	}
	return v.ref.StrictEquals(other.ref)
}

// IsInstanceOfConstructor evaluates instanceof against constructor.
func (v *Value) IsInstanceOfConstructor(constructor *Object) (bool, error) {
	ctx := v.ctx
	if err := ctx.enter(); err != nil {
		return false, err
	}
	defer ctx.leave()
	c, err := ctx.valueOf(&constructor.Value)
	if err != nil {
		return false, err
	}
	res, err := ctx.intrinsics.instanceOf(goja.Undefined(), v.ref, c)
	if err != nil {
		return false, ctx.exceptionOf(err)
	}
	return res.ToBoolean(), nil
}

// =============================================================================
// CONVERSION
// =============================================================================

// ToBoolean converts the value with the ToBoolean abstract operation.
func (v *Value) ToBoolean() bool {
	return v.query(func(ref goja.Value) bool { return ref.ToBoolean() })
}

// ToNumber converts the value to a number, which may run valueOf.
func (v *Value) ToNumber() (float64, error) {
	ctx := v.ctx
	if err := ctx.enter(); err != nil {
		return math.NaN(), err
	}
	defer ctx.leave()
	var f float64
	if err := ctx.try(func() { f = v.ref.ToFloat() }); err != nil {
		return math.NaN(), err
	}
	return f, nil
}

// ToStringCopy converts the value to a string, which may run toString.
func (v *Value) ToStringCopy() (string, error) {
	ctx := v.ctx
	if err := ctx.enter(); err != nil {
		return "", err
	}
	defer ctx.leave()
	var s string
	if err := ctx.try(func() { s = v.ref.String() }); err != nil {
		return "", err
	}
	return s, nil
}

// String implements fmt.Stringer. Conversion errors yield an empty string.
func (v *Value) String() string {
	s, _ := v.ToStringCopy()
	return s
}

// ToObject converts the value to an object. undefined and null throw a
// TypeError.
func (v *Value) ToObject() (*Object, error) {
	ctx := v.ctx
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()
	var o *goja.Object
	if err := ctx.try(func() { o = v.ref.ToObject(ctx.rt) }); err != nil {
		return nil, err
	}
	return ctx.wrapObject(o), nil
}

// ToJSONString serializes the value with JSON.stringify, indenting nested
// levels by indent spaces. Values JSON cannot represent yield "".
func (v *Value) ToJSONString(indent uint) (string, error) {
	ctx := v.ctx
	if err := ctx.enter(); err != nil {
		return "", err
	}
	defer ctx.leave()
	if indent > 10 {
		indent = 10
	}
	res, err := ctx.intrinsics.jsonStringify(goja.Undefined(), v.ref, goja.Undefined(), ctx.rt.ToValue(indent))
	if err != nil {
		return "", ctx.exceptionOf(err)
	}
	if goja.IsUndefined(res) {
		return "", nil
	}
	return res.String(), nil
}

// =============================================================================
// PROTECTION
// =============================================================================

// Protect records the value as in use by the embedder. Calls nest and must
// be balanced by Unprotect.
func (v *Value) Protect() {
	ctx := v.ctx
	if ctx.enter() != nil {
		return
	}
	defer ctx.leave()
	if v.protects.Add(1) == 1 {
		v.protectID = ctx.protected.add(v)
	}
}

// Unprotect balances one Protect. An Unprotect without a matching Protect is
// reported at DPanic level, which panics under a development logger.
func (v *Value) Unprotect() {
	ctx := v.ctx
	if ctx.enter() != nil {
		return
	}
	defer ctx.leave()
	n := v.protects.Add(-1)
	if n < 0 {
		v.protects.Add(1)
		ctx.logger.DPanic("unprotect without matching protect", zap.Stringer("type", typeOf(v.ref)))
		return
	}
	if n == 0 {
		if !ctx.protected.remove(v.protectID) {
			ctx.logger.DPanic("protected value missing from registry", zap.Int32("id", v.protectID))
		}
		v.protectID = 0
	}
}
