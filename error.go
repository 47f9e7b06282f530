package jscore

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

var (
	// ErrContextDefunct is returned by operations on a value whose context
	// has been torn down.
	ErrContextDefunct = errors.New("jscore: context is defunct")
	// ErrClassReleased is returned when a released class is used.
	ErrClassReleased = errors.New("jscore: class has been released")
	// ErrNotFunction is returned when calling an object that is not callable.
	ErrNotFunction = errors.New("jscore: object is not a function")
	// ErrNotConstructor is returned when constructing with an object that is
	// not a constructor.
	ErrNotConstructor = errors.New("jscore: object is not a constructor")
	// ErrCrossContext is returned when a value is passed to a context other
	// than the one that created it.
	ErrCrossContext = errors.New("jscore: value belongs to another context")
	// ErrFinalized is returned by engine operations on the handle passed to
	// a FinalizeFunc. Only its private data is still reachable.
	ErrFinalized = errors.New("jscore: object has been finalized")
)

// Exception is a JavaScript exception surfaced to the embedder.
type Exception struct {
	Value   *Value // the thrown value
	Name    string // Error name (e.g., "TypeError", "SyntaxError")
	Message string // Error message
	Stack   string // Stack trace, if the engine recorded one
}

// Error implements the error interface.
func (e *Exception) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// newException converts an engine exception. The caller holds the lock.
func (ctx *Context) newException(ex *goja.Exception) *Exception {
	val := ex.Value()
	if val == nil {
		val = goja.Undefined()
	}
	e := &Exception{Value: ctx.wrap(val), Stack: ex.String()}
	if obj, ok := val.(*goja.Object); ok {
		e.Name = ctx.safeString(obj, "name")
		e.Message = ctx.safeString(obj, "message")
	} else {
		e.Message = val.String()
	}
	return e
}

// safeString reads a string property, ignoring anything the read throws.
func (ctx *Context) safeString(obj *goja.Object, name string) string {
	var s string
	ctx.rt.Try(func() {
		if v := obj.Get(name); v != nil && !goja.IsUndefined(v) {
			s = v.String()
		}
	})
	return s
}

// try runs f and converts a thrown JS value into an *Exception.
func (ctx *Context) try(f func()) error {
	if ex := ctx.rt.Try(f); ex != nil {
		return ctx.newException(ex)
	}
	return nil
}

// exceptionOf converts the error returned by goja's own entry points.
func (ctx *Context) exceptionOf(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ctx.newException(ex)
	}
	return err
}

// throw raises err inside the engine. An *Exception from this context is
// rethrown as its original value. Only call from code running inside an
// engine callback.
func (ctx *Context) throw(err error) {
	var ex *Exception
	if errors.As(err, &ex) && ex.Value != nil && ex.Value.ctx == ctx && ex.Value.ref != nil {
		panic(ex.Value.ref)
	}
	panic(ctx.rt.NewGoError(err))
}

// throwError raises a plain JS Error with the given message.
func (ctx *Context) throwError(format string, args ...any) {
	obj, err := ctx.rt.New(ctx.intrinsics.errorCtor, ctx.rt.ToValue(fmt.Sprintf(format, args...)))
	if err != nil {
		panic(ctx.rt.NewGoError(err))
	}
	panic(obj)
}

// throwTypeError raises a JS TypeError.
func (ctx *Context) throwTypeError(format string, args ...any) {
	panic(ctx.rt.NewTypeError(fmt.Sprintf(format, args...)))
}
