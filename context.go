package isolate

import (
	"github.com/icyseptember2237/isolate/backend"
	"github.com/pkg/errors"
)

// Context is an execution context with its own global object. Functions
// materialized from templates are cached per context.
type Context struct {
	iso *Isolate
	bc  backend.Context

	functions  map[int]backend.Value
	methods    map[int]backend.Value
	prototypes map[int]backend.Value

	disposed bool
}

func NewContext(iso *Isolate) (*Context, error) {
	ctx := &Context{
		iso:        iso,
		functions:  make(map[int]backend.Value),
		methods:    make(map[int]backend.Value),
		prototypes: make(map[int]backend.Value),
	}
	bc, err := iso.rt.NewContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "create context")
	}
	ctx.bc = bc
	iso.contexts[ctx] = struct{}{}
	return ctx, nil
}

func (ctx *Context) Isolate() *Isolate { return ctx.iso }

func (ctx *Context) Global() Object {
	return Object{ctx.iso.value(ctx.bc.Global())}
}

// Enter makes ctx the current context of its isolate until Exit.
func (ctx *Context) Enter() {
	ctx.iso.entered = append(ctx.iso.entered, ctx)
}

func (ctx *Context) Exit() {
	iso := ctx.iso
	n := len(iso.entered)
	if n == 0 || iso.entered[n-1] != ctx {
		fatalf(iso, "context exited out of order")
	}
	iso.entered = iso.entered[:n-1]
}

// keep caches v under magic, holding a reference for the context's
// lifetime.
func (ctx *Context) keep(cache map[int]backend.Value, magic int, v backend.Value) {
	if ctx.iso.rt.IsRefCounted(v) {
		ctx.iso.rt.Retain(v)
	}
	cache[magic] = v
}

// Dispose drops the context's cached functions and closes it.
func (ctx *Context) Dispose() {
	if ctx.disposed {
		return
	}
	ctx.disposed = true
	rt := ctx.iso.rt
	for _, cache := range []map[int]backend.Value{ctx.functions, ctx.methods, ctx.prototypes} {
		for magic, v := range cache {
			if rt.IsRefCounted(v) {
				rt.Release(v)
			}
			delete(cache, magic)
		}
	}
	ctx.bc.Close()
	delete(ctx.iso.contexts, ctx)
}
