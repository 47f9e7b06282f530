package jscore

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// consoleModule is the name of the native module behind the console global.
const consoleModule = "console"

// installConsole enables require in the context and binds the console
// global to the native console module.
func (ctx *Context) installConsole() error {
	registry := require.NewRegistry()
	registry.RegisterNativeModule(consoleModule, ctx.loadConsole)
	registry.Enable(ctx.rt)
	ctx.modules = registry

	req, ok := goja.AssertFunction(ctx.rt.Get("require"))
	if !ok {
		return fmt.Errorf("jscore: require is not installed")
	}
	console, err := req(goja.Undefined(), ctx.rt.ToValue(consoleModule))
	if err != nil {
		return ctx.exceptionOf(err)
	}
	return ctx.rt.Set("console", console)
}

// loadConsole fills the exports of the console module. Each method joins
// its arguments with spaces and writes one log entry.
func (ctx *Context) loadConsole(rt *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)
	for name, level := range map[string]zapcore.Level{
		"log":   zapcore.InfoLevel,
		"info":  zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	} {
		_ = exports.Set(name, ctx.consoleWriter(level))
	}
}

func (ctx *Context) consoleWriter(level zapcore.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		if ce := ctx.logger.Check(level, strings.Join(parts, " ")); ce != nil {
			fields := []zap.Field{zap.String("source", "console")}
			if ctx.hasName {
				fields = append(fields, zap.String("context", ctx.name))
			}
			ce.Write(fields...)
		}
		return goja.Undefined()
	}
}
