package jscore

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// =============================================================================
// CLASS HOOK TYPES
// =============================================================================

// InitializeFunc is called on a new instance, ancestor classes first.
type InitializeFunc func(ctx *Context, obj *Object)

// FinalizeFunc is called once when an instance is collected or its context is
// torn down, most-derived class first. Only the private data of obj is usable.
type FinalizeFunc func(obj *Object)

// HasPropertyFunc reports whether obj has the named property. Returning false
// skips the GetPropertyFunc of the same class.
type HasPropertyFunc func(ctx *Context, obj *Object, name string) bool

// GetPropertyFunc returns the named property, or nil to let the next class in
// the chain answer.
type GetPropertyFunc func(ctx *Context, obj *Object, name string) (*Value, error)

// SetPropertyFunc stores the named property and reports whether it did.
type SetPropertyFunc func(ctx *Context, obj *Object, name string, value *Value) (bool, error)

// DeletePropertyFunc deletes the named property and reports whether it did.
type DeletePropertyFunc func(ctx *Context, obj *Object, name string) (bool, error)

// GetPropertyNamesFunc adds the names of enumerable properties to names.
type GetPropertyNamesFunc func(ctx *Context, obj *Object, names *PropertyNameAccumulator)

// CallAsFunctionFunc is called when an object is called as a function. this
// is nil when the call has no object receiver.
type CallAsFunctionFunc func(ctx *Context, function *Object, this *Object, args []*Value) (*Value, error)

// CallAsConstructorFunc is called for new expressions. The result must be an
// object.
type CallAsConstructorFunc func(ctx *Context, constructor *Object, args []*Value) (*Value, error)

// HasInstanceFunc decides instanceof for constructor.
type HasInstanceFunc func(ctx *Context, constructor *Object, candidate *Value) (bool, error)

// ConvertToTypeFunc converts obj to a primitive of typ, or returns nil to let
// the next class in the chain answer.
type ConvertToTypeFunc func(ctx *Context, obj *Object, typ Type) (*Value, error)

// =============================================================================
// ATTRIBUTES
// =============================================================================

// PropertyAttributes describe a property created by a class or by Object.Set.
type PropertyAttributes uint32

const (
	PropertyAttributeNone       PropertyAttributes = 0
	PropertyAttributeReadOnly   PropertyAttributes = 1 << 1 // not writable
	PropertyAttributeDontEnum   PropertyAttributes = 1 << 2 // not enumerable
	PropertyAttributeDontDelete PropertyAttributes = 1 << 3 // not configurable
)

func (a PropertyAttributes) has(flag PropertyAttributes) bool {
	return a&flag != 0
}

// ClassAttributes modify how instances of a class are built.
type ClassAttributes uint32

const (
	ClassAttributeNone ClassAttributes = 0
	// ClassAttributeNoAutomaticPrototype leaves instances with the default
	// prototype. Static functions still resolve through the class chain.
	ClassAttributeNoAutomaticPrototype ClassAttributes = 1 << 1
)

// =============================================================================
// CLASS DEFINITION
// =============================================================================

// StaticValue is a named property answered by a class.
type StaticValue struct {
	Name        string
	GetProperty GetPropertyFunc
	SetProperty SetPropertyFunc // nil makes the property read-only
	Attributes  PropertyAttributes
}

// StaticFunction is a named function placed on the class prototype.
type StaticFunction struct {
	Name           string
	CallAsFunction CallAsFunctionFunc
	Attributes     PropertyAttributes
}

// ClassDefinition is the behavior of one class. Every hook is optional.
type ClassDefinition struct {
	ClassName  string
	Attributes ClassAttributes
	Parent     *Class

	StaticValues    []StaticValue
	StaticFunctions []StaticFunction

	Initialize        InitializeFunc
	Finalize          FinalizeFunc
	HasProperty       HasPropertyFunc
	GetProperty       GetPropertyFunc
	SetProperty       SetPropertyFunc
	DeleteProperty    DeletePropertyFunc
	GetPropertyNames  GetPropertyNamesFunc
	CallAsFunction    CallAsFunctionFunc
	CallAsConstructor CallAsConstructorFunc
	HasInstance       HasInstanceFunc
	ConvertToType     ConvertToTypeFunc
}

// =============================================================================
// CLASS
// =============================================================================

// Class is an immutable, reference counted class built from a
// ClassDefinition. It retains its parent for its whole life.
type Class struct {
	def    ClassDefinition
	parent *Class
	refs   atomic.Int32

	staticValues    map[string]*StaticValue
	staticFunctions map[string]*StaticFunction

	// derived from the whole chain at creation
	callable      bool
	constructible bool
	converts      bool
	hasInstance   bool
}

// NewClass creates a class with a reference count of one.
func NewClass(def ClassDefinition) *Class {
	c := &Class{def: def, parent: def.Parent}
	c.def.StaticValues = append([]StaticValue(nil), def.StaticValues...)
	c.def.StaticFunctions = append([]StaticFunction(nil), def.StaticFunctions...)

	c.staticValues = make(map[string]*StaticValue, len(c.def.StaticValues))
	for i := range c.def.StaticValues {
		sv := &c.def.StaticValues[i]
		if _, dup := c.staticValues[sv.Name]; !dup {
			c.staticValues[sv.Name] = sv
		}
	}
	c.staticFunctions = make(map[string]*StaticFunction, len(c.def.StaticFunctions))
	for i := range c.def.StaticFunctions {
		sf := &c.def.StaticFunctions[i]
		if _, dup := c.staticFunctions[sf.Name]; !dup {
			c.staticFunctions[sf.Name] = sf
		}
	}

	if c.parent != nil {
		c.parent.Retain()
		c.callable = c.parent.callable
		c.constructible = c.parent.constructible
		c.converts = c.parent.converts
		c.hasInstance = c.parent.hasInstance
	}
	c.callable = c.callable || def.CallAsFunction != nil
	c.constructible = c.constructible || def.CallAsConstructor != nil
	c.converts = c.converts || def.ConvertToType != nil
	c.hasInstance = c.hasInstance || def.HasInstance != nil

	c.refs.Store(1)
	return c
}

// Name returns the class name.
func (c *Class) Name() string {
	return c.def.ClassName
}

// Parent returns the parent class, or nil.
func (c *Class) Parent() *Class {
	return c.parent
}

// Retain increments the reference count and returns the class.
func (c *Class) Retain() *Class {
	c.refs.Add(1)
	return c
}

// Release decrements the reference count. The parent is released when the
// count reaches zero.
func (c *Class) Release() {
	n := c.refs.Add(-1)
	switch {
	case n == 0:
		if c.parent != nil {
			c.parent.Release()
		}
	case n < 0:
		Logger().Error("class released too many times",
			zap.String("class", c.def.ClassName), zap.Error(ErrClassReleased))
	}
}

func (c *Class) released() bool {
	return c.refs.Load() <= 0
}

// inherits reports whether other is c or one of its ancestors.
func (c *Class) inherits(other *Class) bool {
	for link := c; link != nil; link = link.parent {
		if link == other {
			return true
		}
	}
	return false
}

// ancestry returns the chain ordered root class first.
func (c *Class) ancestry() []*Class {
	var chain []*Class
	for link := c; link != nil; link = link.parent {
		chain = append(chain, link)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// staticValue finds the most-derived static value called name.
func (c *Class) staticValue(name string) (*StaticValue, bool) {
	for link := c; link != nil; link = link.parent {
		if sv, ok := link.staticValues[name]; ok {
			return sv, true
		}
	}
	return nil, false
}

// =============================================================================
// CLASS BUILDER - FLUENT API FOR CLASS DEFINITIONS
// =============================================================================

// ClassBuilder assembles a ClassDefinition.
type ClassBuilder struct {
	def ClassDefinition
}

// NewClassBuilder creates a builder for a class called name.
func NewClassBuilder(name string) *ClassBuilder {
	return &ClassBuilder{def: ClassDefinition{ClassName: name}}
}

// Parent sets the parent class.
func (cb *ClassBuilder) Parent(parent *Class) *ClassBuilder {
	cb.def.Parent = parent
	return cb
}

// Attributes sets the class attributes.
func (cb *ClassBuilder) Attributes(attrs ClassAttributes) *ClassBuilder {
	cb.def.Attributes = attrs
	return cb
}

// StaticValue adds a static value. Pass nil for set to make it read-only.
func (cb *ClassBuilder) StaticValue(name string, get GetPropertyFunc, set SetPropertyFunc, attrs PropertyAttributes) *ClassBuilder {
	cb.def.StaticValues = append(cb.def.StaticValues, StaticValue{
		Name:        name,
		GetProperty: get,
		SetProperty: set,
		Attributes:  attrs,
	})
	return cb
}

// StaticFunction adds a static function.
func (cb *ClassBuilder) StaticFunction(name string, fn CallAsFunctionFunc, attrs PropertyAttributes) *ClassBuilder {
	cb.def.StaticFunctions = append(cb.def.StaticFunctions, StaticFunction{
		Name:           name,
		CallAsFunction: fn,
		Attributes:     attrs,
	})
	return cb
}

// Initialize sets the hook run on each new instance, base class first.
func (cb *ClassBuilder) Initialize(fn InitializeFunc) *ClassBuilder {
	cb.def.Initialize = fn
	return cb
}

// Finalize sets the hook run once when an instance is collected.
func (cb *ClassBuilder) Finalize(fn FinalizeFunc) *ClassBuilder {
	cb.def.Finalize = fn
	return cb
}

// HasProperty sets the hook that answers property existence checks.
func (cb *ClassBuilder) HasProperty(fn HasPropertyFunc) *ClassBuilder {
	cb.def.HasProperty = fn
	return cb
}

// GetProperty sets the property read hook.
func (cb *ClassBuilder) GetProperty(fn GetPropertyFunc) *ClassBuilder {
	cb.def.GetProperty = fn
	return cb
}

// SetProperty sets the property write hook.
func (cb *ClassBuilder) SetProperty(fn SetPropertyFunc) *ClassBuilder {
	cb.def.SetProperty = fn
	return cb
}

// DeleteProperty sets the property delete hook.
func (cb *ClassBuilder) DeleteProperty(fn DeletePropertyFunc) *ClassBuilder {
	cb.def.DeleteProperty = fn
	return cb
}

// GetPropertyNames sets the hook that adds names to enumeration.
func (cb *ClassBuilder) GetPropertyNames(fn GetPropertyNamesFunc) *ClassBuilder {
	cb.def.GetPropertyNames = fn
	return cb
}

// CallAsFunction sets the hook that makes instances callable.
func (cb *ClassBuilder) CallAsFunction(fn CallAsFunctionFunc) *ClassBuilder {
	cb.def.CallAsFunction = fn
	return cb
}

// CallAsConstructor sets the hook that makes instances constructible.
func (cb *ClassBuilder) CallAsConstructor(fn CallAsConstructorFunc) *ClassBuilder {
	cb.def.CallAsConstructor = fn
	return cb
}

// HasInstance sets the instanceof hook.
func (cb *ClassBuilder) HasInstance(fn HasInstanceFunc) *ClassBuilder {
	cb.def.HasInstance = fn
	return cb
}

// ConvertToType sets the hook used to convert instances to primitives.
func (cb *ClassBuilder) ConvertToType(fn ConvertToTypeFunc) *ClassBuilder {
	cb.def.ConvertToType = fn
	return cb
}

// Definition returns a copy of the definition built so far.
func (cb *ClassBuilder) Definition() ClassDefinition {
	return cb.def
}

// Build creates the class.
func (cb *ClassBuilder) Build() *Class {
	return NewClass(cb.def)
}
