package js

import (
	"strconv"
	"strings"

	"github.com/icyseptember2237/isolate/backend"
	"github.com/pkg/errors"
	"github.com/robertkrimen/otto"
)

const constructSource = `(function(F, args) {
	return new (Function.prototype.bind.apply(F, [null].concat(args)))();
})`

// Context owns one interpreter.
type Context struct {
	rt     *Runtime
	opaque interface{}
	vm     *otto.Otto
	closed bool

	create         otto.Value
	defineProperty otto.Value
	getPrototypeOf otto.Value
	construct      otto.Value
}

func newContext(rt *Runtime, opaque interface{}) (*Context, error) {
	c := &Context{rt: rt, opaque: opaque, vm: otto.New()}
	if rt.opts.StackTraceLimit > 0 {
		c.vm.SetStackTraceLimit(rt.opts.StackTraceLimit)
	}
	for name, dst := range map[string]*otto.Value{
		"Object.create":         &c.create,
		"Object.defineProperty": &c.defineProperty,
		"Object.getPrototypeOf": &c.getPrototypeOf,
		constructSource:         &c.construct,
	} {
		v, err := c.vm.Run(name)
		if err != nil {
			return nil, &backend.Error{Kind: backend.ErrInit, Cause: errors.Wrap(err, name)}
		}
		*dst = v
	}
	return c, nil
}

func (c *Context) Opaque() interface{}      { return c.opaque }
func (c *Context) Runtime() backend.Runtime { return c.rt }

func (c *Context) Global() backend.Value {
	v, _ := c.vm.Run("this")
	return v
}

func (c *Context) check() error {
	if c.closed {
		return &backend.Error{Kind: backend.ErrRuntime, Message: "context is closed"}
	}
	return nil
}

func (c *Context) Compile(source, name string) (backend.Program, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	script, err := c.vm.Compile(name, source)
	if err != nil {
		return nil, c.syntaxError(name, err)
	}
	return script, nil
}

func (c *Context) Run(p backend.Program) (backend.Value, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	script, ok := p.(*otto.Script)
	if !ok {
		return nil, &backend.Error{Kind: backend.ErrEval, Message: "not a js program"}
	}
	v, err := c.vm.Run(script)
	if err != nil {
		return nil, c.exception(err)
	}
	return v, nil
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
	v, err := toOtto(fn).Call(toOtto(this), toArgs(args)...)
	if err != nil {
		return nil, c.exception(err)
	}
	return v, nil
}

// Construct applies new through a bound function, which is the only way otto
// exposes construction of an arbitrary callable.
func (c *Context) Construct(fn backend.Value, args []backend.Value) (backend.Value, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	list, err := c.vm.Object("[]")
	if err != nil {
		return nil, &backend.Error{Kind: backend.ErrInternal, Cause: err}
	}
	for _, a := range args {
		if _, err := list.Call("push", toOtto(a)); err != nil {
			return nil, c.exception(err)
		}
	}
	v, err := c.construct.Call(otto.UndefinedValue(), toOtto(fn), list.Value())
	if err != nil {
		return nil, c.exception(err)
	}
	return v, nil
}

func toArgs(args []backend.Value) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		out[i] = toOtto(a)
	}
	return out
}

func (c *Context) NewObject(proto backend.Value) backend.Value {
	p := toOtto(proto)
	if !p.IsObject() {
		v, _ := c.vm.Object("({})")
		return v.Value()
	}
	v, err := c.create.Call(otto.UndefinedValue(), p)
	if err != nil {
		v, _ := c.vm.Object("({})")
		return v.Value()
	}
	return v
}

func (c *Context) NewError(message string) backend.Value {
	return c.vm.MakeCustomError("Error", message)
}

func (c *Context) NewExternal(v interface{}) backend.Value {
	ov, _ := c.vm.ToValue(&external{value: v})
	return ov
}

func (c *Context) NewFunction(opts backend.FunctionOptions, magic int, tr backend.Trampoline) backend.Value {
	var self otto.Value
	fn := func(call otto.FunctionCall) otto.Value {
		bc := &backend.Call{
			Context: c,
			This:    call.This,
			Args:    make([]backend.Value, len(call.ArgumentList)),
			Magic:   magic,
		}
		for i, a := range call.ArgumentList {
			bc.Args[i] = a
		}
		if opts.Constructor {
			bc.Construct = c.isConstructCall(self, call.This)
		}
		res, err := tr(bc)
		if err != nil {
			panic(c.thrownValue(err))
		}
		if res == nil {
			return otto.UndefinedValue()
		}
		return toOtto(res)
	}
	self, _ = c.vm.ToValue(fn)
	return self
}

// isConstructCall reports whether this is the fresh receiver that new
// allocates: an object without own properties whose prototype is the
// function's prototype property.
func (c *Context) isConstructCall(fn, this otto.Value) bool {
	if !this.IsObject() || !fn.IsObject() {
		return false
	}
	want, err := fn.Object().Get("prototype")
	if err != nil || !want.IsObject() {
		return false
	}
	got, err := c.getPrototypeOf.Call(otto.UndefinedValue(), this)
	if err != nil || got != want {
		return false
	}
	return len(this.Object().Keys()) == 0 && c.rt.sentinel(this) == nil
}

func (c *Context) thrownValue(err error) otto.Value {
	if t, ok := err.(*backend.Thrown); ok {
		return toOtto(t.Value)
	}
	return c.vm.MakeCustomError("Error", err.Error())
}

func (c *Context) ToValue(v interface{}) (backend.Value, error) {
	if v == nil {
		return otto.NullValue(), nil
	}
	ov, err := c.vm.ToValue(v)
	if err != nil {
		return nil, &backend.Error{Kind: backend.ErrRuntime, Cause: err}
	}
	return ov, nil
}

func (c *Context) object(v backend.Value) (*otto.Object, error) {
	ov := toOtto(v)
	if !ov.IsObject() {
		return nil, &backend.Error{Kind: backend.ErrRuntime, Message: "value is not an object"}
	}
	return ov.Object(), nil
}

func (c *Context) Get(obj backend.Value, name string) (backend.Value, error) {
	o, err := c.object(obj)
	if err != nil {
		return nil, err
	}
	v, err := o.Get(name)
	if err != nil {
		return nil, c.exception(err)
	}
	return v, nil
}

func (c *Context) Set(obj backend.Value, name string, v backend.Value) error {
	o, err := c.object(obj)
	if err != nil {
		return err
	}
	if err := o.Set(name, toOtto(v)); err != nil {
		return c.exception(err)
	}
	return nil
}

func (c *Context) GetIndex(obj backend.Value, index uint32) (backend.Value, error) {
	return c.Get(obj, indexKey(index))
}

func (c *Context) SetIndex(obj backend.Value, index uint32, v backend.Value) error {
	return c.Set(obj, indexKey(index), v)
}

func (c *Context) DefineAccessor(obj backend.Value, name string, acc backend.Accessor) error {
	ov := toOtto(obj)
	if !ov.IsObject() {
		return &backend.Error{Kind: backend.ErrRuntime, Message: "accessor target is not an object"}
	}
	desc, err := c.vm.Object("({})")
	if err != nil {
		return &backend.Error{Kind: backend.ErrInternal, Cause: err}
	}
	if g := toOtto(acc.Getter); g.IsFunction() {
		_ = desc.Set("get", g)
	}
	if s := toOtto(acc.Setter); s.IsFunction() {
		_ = desc.Set("set", s)
	}
	_ = desc.Set("enumerable", acc.Enumerable)
	_ = desc.Set("configurable", acc.Configurable)
	if _, err := c.defineProperty.Call(otto.UndefinedValue(), ov, name, desc.Value()); err != nil {
		return c.exception(err)
	}
	return nil
}

func (c *Context) Prototype(obj backend.Value) (backend.Value, error) {
	v, err := c.getPrototypeOf.Call(otto.UndefinedValue(), toOtto(obj))
	if err != nil {
		return nil, c.exception(err)
	}
	return v, nil
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

func (c *Context) syntaxError(name string, err error) error {
	msg := err.Error()
	ex := &backend.Exception{Message: msg, Resource: name, Line: backend.SyntaxLine(msg)}
	if i := strings.Index(msg, ": Line "); i > 0 {
		ex.Resource = msg[:i]
	}
	ex.Value = c.vm.MakeSyntaxError(msg)
	return ex
}

// exception rebuilds the thrown value. otto keeps Error objects as *otto.Error
// and reduces any other thrown value to its string form.
func (c *Context) exception(err error) error {
	switch e := err.(type) {
	case *otto.Error:
		text := e.Error()
		name, message := "Error", text
		if i := strings.Index(text, ": "); i > 0 && !strings.ContainsAny(text[:i], " \n") {
			name, message = text[:i], text[i+2:]
		}
		ex := &backend.Exception{
			Value:   c.vm.MakeCustomError(name, message),
			Message: text,
			Stack:   e.String(),
		}
		ex.Resource, ex.Line, _ = backend.StackLocation(ex.Stack)
		return ex
	case *backend.Error, *backend.Exception:
		return err
	}
	v, _ := c.vm.ToValue(err.Error())
	return &backend.Exception{Value: v, Message: err.Error()}
}

func indexKey(index uint32) string {
	return strconv.FormatUint(uint64(index), 10)
}
