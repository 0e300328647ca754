package lua

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/icyseptember2237/isolate/backend"
	"github.com/pkg/errors"
	lua "github.com/yuin/gopher-lua"
)

// Context is one globals table on the shared state.
type Context struct {
	rt      *Runtime
	opaque  interface{}
	globals *lua.LTable
	closed  bool
}

// native is a host function exposed to script.
type native struct {
	ctx   *Context
	opts  backend.FunctionOptions
	magic int
	tr    backend.Trampoline
}

func (c *Context) Opaque() interface{}      { return c.opaque }
func (c *Context) Runtime() backend.Runtime { return c.rt }
func (c *Context) Global() backend.Value    { return c.globals }

func (c *Context) Compile(source, name string) (backend.Program, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	L := c.rt.L
	// expressions evaluate to their value, as in the interactive interpreter
	fn, err := L.Load(strings.NewReader("return "+source), name)
	if err != nil {
		fn, err = L.Load(strings.NewReader(source), name)
		if err != nil {
			return nil, c.rt.exception(err)
		}
	}
	fn.Env = c.globals
	return fn, nil
}

func (c *Context) Run(p backend.Program) (backend.Value, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	fn, ok := p.(*lua.LFunction)
	if !ok {
		return nil, &backend.Error{Kind: backend.ErrEval, Message: "not a lua program"}
	}
	return c.run(fn, nil, nil)
}

func (c *Context) Eval(source, name string) (backend.Value, error) {
	p, err := c.Compile(source, name)
	if err != nil {
		return nil, err
	}
	return c.Run(p)
}

func (c *Context) Call(fn, this backend.Value, args []backend.Value) (backend.Value, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	callee := toLValue(fn)
	var n *native
	switch f := callee.(type) {
	case *lua.LFunction:
		n = c.rt.natives[f]
	case *lua.LTable:
		if o := c.rt.objects[f]; o != nil {
			n = o.native
		}
	}
	var thisArg lua.LValue
	if n != nil && !n.opts.Receiver {
		thisArg = toLValue(this)
	}
	largs := make([]lua.LValue, 0, len(args)+1)
	if n != nil && n.opts.Receiver {
		largs = append(largs, toLValue(this))
	}
	for _, a := range args {
		largs = append(largs, toLValue(a))
	}
	return c.run(callee, thisArg, largs)
}

// Construct calls fn. Constructors are callable tables that construct on
// every call, so this only differs from Call in passing no receiver.
func (c *Context) Construct(fn backend.Value, args []backend.Value) (backend.Value, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = toLValue(a)
	}
	return c.run(toLValue(fn), nil, largs)
}

// run calls fn protected. pendingThis hands the receiver to a native that
// takes no receiver argument.
func (c *Context) run(fn lua.LValue, pendingThis lua.LValue, args []lua.LValue) (backend.Value, error) {
	rt := c.rt
	L := rt.L
	rt.enter()
	L.Push(fn)
	for _, a := range args {
		L.Push(a)
	}
	rt.pendingThis = pendingThis
	err := L.PCall(len(args), 1, nil)
	rt.pendingThis = nil
	if err != nil {
		rt.leave(nil)
		return nil, rt.exception(err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	rt.leave(ret)
	return ret, nil
}

func (c *Context) protect(fn func(L *lua.LState)) error {
	if err := c.check(); err != nil {
		return err
	}
	rt := c.rt
	rt.enter()
	err := rt.L.GPCall(func(L *lua.LState) int {
		fn(L)
		return 0
	}, lua.LNil)
	rt.leave(nil)
	if err != nil {
		return rt.exception(err)
	}
	return nil
}

func (c *Context) check() error {
	if c.closed {
		return &backend.Error{Kind: backend.ErrRuntime, Message: "context is closed"}
	}
	return nil
}

func (c *Context) NewObject(proto backend.Value) backend.Value {
	tb := c.rt.L.NewTable()
	c.rt.setPrototype(tb, toLValue(proto))
	return tb
}

func (c *Context) NewError(message string) backend.Value {
	tb := c.rt.L.NewTable()
	tb.RawSetString("name", lua.LString("Error"))
	tb.RawSetString("message", lua.LString(message))
	tb.Metatable = c.rt.errorMT
	return tb
}

func (c *Context) NewExternal(v interface{}) backend.Value {
	ud := c.rt.L.NewUserData()
	ud.Value = v
	ud.Metatable = c.rt.externalMT
	return ud
}

func (c *Context) NewFunction(opts backend.FunctionOptions, magic int, tr backend.Trampoline) backend.Value {
	n := &native{ctx: c, opts: opts, magic: magic, tr: tr}
	if opts.Properties || opts.Constructor {
		tb := c.rt.L.NewTable()
		c.rt.object(tb).native = n
		return tb
	}
	fn := c.rt.L.NewFunction(func(L *lua.LState) int {
		args := make([]lua.LValue, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			args = append(args, L.Get(i))
		}
		return n.invoke(L, args, false)
	})
	c.rt.natives[fn] = n
	return fn
}

func (n *native) invoke(L *lua.LState, args []lua.LValue, construct bool) int {
	rt := n.ctx.rt
	var this lua.LValue = n.ctx.globals
	switch {
	case construct:
		this = lua.LNil
	case n.opts.Receiver:
		this = lua.LNil
		if len(args) > 0 {
			this = args[0]
			args = args[1:]
		}
	case rt.pendingThis != nil:
		this = rt.pendingThis
	}
	rt.pendingThis = nil

	call := &backend.Call{
		Context:   n.ctx,
		This:      this,
		Args:      make([]backend.Value, len(args)),
		Magic:     n.magic,
		Construct: construct,
	}
	for i, a := range args {
		call.Args[i] = a
	}
	res, err := n.tr(call)
	if err != nil {
		raise(L, err)
		return 0
	}
	L.Push(toLValue(res))
	return 1
}

func raise(L *lua.LState, err error) {
	if t, ok := err.(*backend.Thrown); ok {
		if s, ok := toLValue(t.Value).(lua.LString); ok {
			L.Error(s, 1)
			return
		}
		L.Error(toLValue(t.Value), 0)
		return
	}
	L.RaiseError("%s", err.Error())
}

func (c *Context) ToValue(v interface{}) (backend.Value, error) {
	return c.rt.toLuaValue(v), nil
}

func (c *Context) Get(obj backend.Value, name string) (backend.Value, error) {
	var out lua.LValue = lua.LNil
	err := c.protect(func(L *lua.LState) {
		out = L.GetField(toLValue(obj), name)
	})
	return out, err
}

func (c *Context) Set(obj backend.Value, name string, v backend.Value) error {
	return c.protect(func(L *lua.LState) {
		L.SetField(toLValue(obj), name, toLValue(v))
	})
}

// GetIndex uses the index as the table key without rebasing.
func (c *Context) GetIndex(obj backend.Value, index uint32) (backend.Value, error) {
	var out lua.LValue = lua.LNil
	err := c.protect(func(L *lua.LState) {
		out = L.GetTable(toLValue(obj), lua.LNumber(index))
	})
	return out, err
}

func (c *Context) SetIndex(obj backend.Value, index uint32, v backend.Value) error {
	return c.protect(func(L *lua.LState) {
		L.SetTable(toLValue(obj), lua.LNumber(index), toLValue(v))
	})
}

func (c *Context) DefineAccessor(obj backend.Value, name string, acc backend.Accessor) error {
	tb, ok := obj.(*lua.LTable)
	if !ok {
		return &backend.Error{Kind: backend.ErrRuntime, Message: "accessor target is not a table"}
	}
	o := c.rt.object(tb)
	if o.accessors == nil {
		o.accessors = make(map[string]*accessor)
	}
	o.accessors[name] = &accessor{getter: toLValue(acc.Getter), setter: toLValue(acc.Setter)}
	tb.RawSetString(name, lua.LNil)
	return nil
}

func (c *Context) Prototype(obj backend.Value) (backend.Value, error) {
	tb, ok := obj.(*lua.LTable)
	if !ok {
		return nil, &backend.Error{Kind: backend.ErrRuntime, Message: "value is not a table"}
	}
	if o := c.rt.objects[tb]; o != nil && o.proto != nil {
		return o.proto, nil
	}
	return c.rt.null, nil
}

func (c *Context) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.rt.contexts != nil {
		delete(c.rt.contexts, c)
	}
}

var traceLocation = regexp.MustCompile(`(?m)^\s*([^\s\[:][^\s:]*):(\d+):`)

func (rt *Runtime) exception(err error) error {
	apiErr, ok := err.(*lua.ApiError)
	if !ok {
		return &backend.Error{Kind: backend.ErrRuntime, Cause: err}
	}
	switch apiErr.Type {
	case lua.ApiErrorSyntax, lua.ApiErrorFile:
		msg := apiErr.Object.String()
		ex := &backend.Exception{Value: lua.LString(msg), Message: msg, Line: backend.SyntaxLine(msg)}
		if i := strings.IndexAny(msg, " :"); i > 0 {
			ex.Resource = msg[:i]
		}
		return ex
	case lua.ApiErrorPanic:
		return &backend.Error{
			Kind:    backend.ErrInternal,
			Message: apiErr.Object.String(),
			Cause:   errors.New(apiErr.StackTrace),
		}
	}

	ex := &backend.Exception{Value: apiErr.Object, Stack: apiErr.StackTrace}
	if s, ok := apiErr.Object.(lua.LString); ok {
		if resource, line, text, ok := backend.SplitLocation(string(s)); ok {
			ex.Value = lua.LString(text)
			ex.Resource, ex.Line = resource, line
		}
	}
	ex.Message = rt.ToString(ex.Value)
	if tb, ok := ex.Value.(*lua.LTable); ok && tb.Metatable == rt.errorMT {
		ex.Message = lua.LVAsString(tb.RawGetString("message"))
	}
	if ex.Resource == "" {
		if m := traceLocation.FindStringSubmatch(apiErr.StackTrace); m != nil {
			ex.Resource = m[1]
			ex.Line, _ = strconv.Atoi(m[2])
		}
	}
	return ex
}
