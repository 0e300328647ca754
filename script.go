package isolate

import "github.com/icyseptember2237/isolate/backend"

const defaultResourceName = "eval"

type ScriptOrigin struct {
	ResourceName string
}

// Script is source compiled in a context. It runs only in that context.
type Script struct {
	ctx     *Context
	program backend.Program
}

// Compile parses source. Syntax errors are delivered like any other
// exception and yield Nothing.
func Compile(ctx *Context, source String, origin *ScriptOrigin) Maybe[*Script] {
	name := defaultResourceName
	if origin != nil && origin.ResourceName != "" {
		name = origin.ResourceName
	}
	p, err := ctx.bc.Compile(source.String(), name)
	ctx.iso.checkAbort()
	if err != nil {
		ctx.iso.handleError(err)
		return Nothing[*Script]()
	}
	return Just(&Script{ctx: ctx, program: p})
}

func (s *Script) Run(ctx *Context) Maybe[Value] {
	if ctx != s.ctx {
		fatalf(ctx.iso, "script run in a context other than the one it was compiled in")
	}
	return ctx.iso.invoke(func() (backend.Value, error) {
		return ctx.bc.Run(s.program)
	})
}
