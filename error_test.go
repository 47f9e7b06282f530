package jscore_test

import (
	"errors"
	"testing"

	"github.com/buke/jscore-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExceptionError tests the error text of exceptions
func TestExceptionError(t *testing.T) {
	assert.Equal(t, "TypeError: bad", (&jscore.Exception{Name: "TypeError", Message: "bad"}).Error())
	assert.Equal(t, "7", (&jscore.Exception{Message: "7"}).Error())
}

// TestExceptionFromScript tests conversion of thrown values
func TestExceptionFromScript(t *testing.T) {
	ctx := newContext(t, nil)

	testCases := []struct {
		name    string
		script  string
		errName string
		message string
	}{
		{"Error", `throw new Error("plain")`, "Error", "plain"},
		{"TypeError", `null.x`, "TypeError", ""},
		{"ReferenceError", `missingVariable`, "ReferenceError", "missingVariable is not defined"},
		{"String", `throw "text"`, "", "text"},
		{"Number", `throw 7`, "", "7"},
		{"CustomObject", `throw { name: "Custom", message: "shape" }`, "Custom", "shape"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ctx.EvaluateScript(tc.script, nil, "throw.js", 1)
			var exc *jscore.Exception
			require.True(t, errors.As(err, &exc))
			assert.Equal(t, tc.errName, exc.Name)
			if tc.message != "" {
				assert.Equal(t, tc.message, exc.Message)
			}
			require.NotNil(t, exc.Value)
			assert.Same(t, ctx, exc.Value.Context())
		})
	}
}

// TestExceptionStack tests that stacks name the source
func TestExceptionStack(t *testing.T) {
	ctx := newContext(t, nil)

	_, err := ctx.EvaluateScript("function f() {\n  throw new Error(\"deep\");\n}\nf();", nil, "stack.js", 1)
	var exc *jscore.Exception
	require.True(t, errors.As(err, &exc))
	assert.Contains(t, exc.Stack, "stack.js")
	assert.True(t, exc.Value.IsObject())
}

// TestExceptionGetterThrowsDuringConversion tests a thrown object whose
// name getter throws
func TestExceptionGetterThrowsDuringConversion(t *testing.T) {
	ctx := newContext(t, nil)

	_, err := ctx.EvaluateScript(`throw { get name() { throw 1; }, message: "m" }`, nil, "", 0)
	var exc *jscore.Exception
	require.True(t, errors.As(err, &exc))
	assert.Empty(t, exc.Name)
	assert.Equal(t, "m", exc.Message)
}

// TestExceptionRethrow tests that an exception returned from a callback is
// rethrown as the original value
func TestExceptionRethrow(t *testing.T) {
	ctx := newContext(t, nil)

	relay, err := ctx.MakeFunctionWithCallback("relay", func(ctx *jscore.Context, function, this *jscore.Object, args []*jscore.Value) (*jscore.Value, error) {
		fn, err := args[0].ToObject()
		if err != nil {
			return nil, err
		}
		return fn.CallAsFunction(nil)
	})
	require.NoError(t, err)
	setGlobal(t, ctx, "relay", &relay.Value)

	v := eval(t, ctx, `
		var marker = new RangeError("inner");
		try { relay(function () { throw marker; }); } catch (e) { e === marker }
	`)
	assert.True(t, v.ToBoolean())

	plain, err := ctx.MakeFunctionWithCallback("plain", func(ctx *jscore.Context, function, this *jscore.Object, args []*jscore.Value) (*jscore.Value, error) {
		return nil, jscore.ErrNotFunction
	})
	require.NoError(t, err)
	setGlobal(t, ctx, "plain", &plain.Value)
	assert.Equal(t, "true", toString(t, eval(t, ctx, `try { plain(); false } catch (e) { e instanceof Error && e.message.indexOf("not a function") >= 0 }`)))
}
