// Package lua implements the isolate backend on top of gopher-lua.
package lua

import (
	"github.com/icyseptember2237/isolate/backend"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

const Name = "lua"

func init() {
	backend.Register(Name, Open)
}

// Runtime owns a single LState. Contexts share it and differ only in their
// globals table.
type Runtime struct {
	L      *lua.LState
	opts   backend.Options
	logger *zap.Logger

	objectMT   *lua.LTable
	externalMT *lua.LTable
	errorMT    *lua.LTable
	null       *lua.LUserData

	objects  map[*lua.LTable]*object
	natives  map[*lua.LFunction]*native
	refs     map[lua.LValue]int
	contexts map[*Context]struct{}

	pendingThis lua.LValue
	depth       int
	gcPending   bool
	closed      bool
}

func Open(opts backend.Options) (backend.Runtime, error) {
	rt := &Runtime{
		L:        lua.NewState(),
		opts:     opts,
		logger:   opts.Logger,
		objects:  make(map[*lua.LTable]*object),
		natives:  make(map[*lua.LFunction]*native),
		refs:     make(map[lua.LValue]int),
		contexts: make(map[*Context]struct{}),
	}
	if rt.logger == nil {
		rt.logger = zap.NewNop()
	}
	if err := rt.preload(opts.Modules); err != nil {
		rt.L.Close()
		return nil, err
	}
	rt.objectMT = rt.newObjectMetatable()
	rt.externalMT = rt.L.NewTable()
	rt.externalMT.RawSetString("__name", lua.LString("external"))
	rt.errorMT = rt.L.NewTable()
	rt.L.SetField(rt.errorMT, "__tostring", rt.L.NewFunction(func(L *lua.LState) int {
		tb := L.CheckTable(1)
		L.Push(lua.LString(lua.LVAsString(tb.RawGetString("name")) + ": " + lua.LVAsString(tb.RawGetString("message"))))
		return 1
	}))
	rt.null = rt.L.NewUserData()
	rt.null.Metatable = rt.L.NewTable()
	rt.L.SetField(rt.null.Metatable, "__tostring", rt.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("null"))
		return 1
	}))
	return rt, nil
}

func (rt *Runtime) NewContext(opaque interface{}) (backend.Context, error) {
	if rt.closed {
		return nil, &backend.Error{Kind: backend.ErrInit, Message: "runtime is closed"}
	}
	globals := rt.L.NewTable()
	mt := rt.L.NewTable()
	mt.RawSetString("__index", rt.L.G.Global)
	globals.Metatable = mt
	globals.RawSetString("_G", globals)
	globals.RawSetString("null", rt.null)
	c := &Context{rt: rt, opaque: opaque, globals: globals}
	rt.contexts[c] = struct{}{}
	return c, nil
}

func (rt *Runtime) Undefined() backend.Value       { return lua.LNil }
func (rt *Runtime) Null() backend.Value            { return rt.null }
func (rt *Runtime) Bool(b bool) backend.Value      { return lua.LBool(b) }
func (rt *Runtime) Number(f float64) backend.Value { return lua.LNumber(f) }
func (rt *Runtime) String(s string) backend.Value  { return lua.LString(s) }

func (rt *Runtime) Kind(v backend.Value) backend.Kind {
	switch lv := v.(type) {
	case nil, *lua.LNilType:
		return backend.KindUndefined
	case lua.LBool:
		return backend.KindBoolean
	case lua.LNumber:
		return backend.KindNumber
	case lua.LString:
		return backend.KindString
	case *lua.LFunction:
		return backend.KindFunction
	case *lua.LTable:
		if o := rt.objects[lv]; o != nil && o.native != nil {
			return backend.KindFunction
		}
		return backend.KindObject
	case *lua.LUserData:
		if lv == rt.null {
			return backend.KindNull
		}
		if lv.Metatable == rt.externalMT {
			return backend.KindExternal
		}
		return backend.KindObject
	}
	return backend.KindObject
}

func (rt *Runtime) ToString(v backend.Value) string {
	lv := toLValue(v)
	if lv == rt.null {
		return "null"
	}
	return rt.L.ToStringMeta(lv).String()
}

func (rt *Runtime) ToNumber(v backend.Value) float64 {
	return float64(lua.LVAsNumber(toLValue(v)))
}

func (rt *Runtime) ToBool(v backend.Value) bool {
	lv := toLValue(v)
	if lv == rt.null {
		return false
	}
	return lua.LVAsBool(lv)
}

func (rt *Runtime) ExternalValue(v backend.Value) (interface{}, bool) {
	ud, ok := v.(*lua.LUserData)
	if !ok || ud.Metatable != rt.externalMT {
		return nil, false
	}
	return ud.Value, true
}

func (rt *Runtime) Export(v backend.Value) interface{} {
	return rt.toGoValue(toLValue(v))
}

func (rt *Runtime) IsRefCounted(v backend.Value) bool {
	switch lv := v.(type) {
	case *lua.LTable, *lua.LFunction, *lua.LState:
		return true
	case *lua.LUserData:
		return lv != rt.null
	}
	return false
}

func (rt *Runtime) Retain(v backend.Value) {
	if !rt.IsRefCounted(v) {
		return
	}
	rt.refs[v.(lua.LValue)]++
}

func (rt *Runtime) Release(v backend.Value) {
	if !rt.IsRefCounted(v) {
		return
	}
	lv := v.(lua.LValue)
	if n := rt.refs[lv]; n > 1 {
		rt.refs[lv] = n - 1
	} else {
		delete(rt.refs, lv)
	}
}

func (rt *Runtime) RefCount(v backend.Value) int {
	if !rt.IsRefCounted(v) {
		return 0
	}
	return rt.refs[v.(lua.LValue)]
}

func (rt *Runtime) SetUserData(obj backend.Value, data interface{}, fin backend.Finalizer) bool {
	tb, ok := obj.(*lua.LTable)
	if !ok {
		return false
	}
	o := rt.object(tb)
	o.data = data
	o.hasData = true
	o.fin = fin
	return true
}

func (rt *Runtime) UserData(obj backend.Value) (interface{}, bool) {
	tb, ok := obj.(*lua.LTable)
	if !ok {
		return nil, false
	}
	o := rt.objects[tb]
	if o == nil || !o.hasData {
		return nil, false
	}
	return o.data, true
}

func (rt *Runtime) Close() error {
	if rt.closed {
		return nil
	}
	rt.closed = true
	for c := range rt.contexts {
		c.closed = true
	}
	rt.contexts = nil
	rt.objects = nil
	rt.natives = nil
	rt.refs = nil
	rt.L.Close()
	return nil
}

// enter and leave bracket every evaluation that starts from the host. A
// collection requested while script is on the stack runs when the outermost
// evaluation returns, with its result kept alive.
func (rt *Runtime) enter() {
	rt.depth++
}

func (rt *Runtime) leave(result lua.LValue) {
	rt.depth--
	if rt.depth == 0 && rt.gcPending {
		rt.gcPending = false
		rt.collect(result)
	}
}

func toLValue(v backend.Value) lua.LValue {
	if lv, ok := v.(lua.LValue); ok && lv != nil {
		return lv
	}
	return lua.LNil
}
