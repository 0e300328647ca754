package lua

import (
	"github.com/icyseptember2237/isolate/backend"
	lua "github.com/yuin/gopher-lua"
)

// object is the Go side of a table created through the backend. Tables made
// by script have no entry until one is needed.
type object struct {
	proto     *lua.LTable
	accessors map[string]*accessor
	native    *native

	data    interface{}
	hasData bool
	fin     backend.Finalizer
}

type accessor struct {
	getter lua.LValue
	setter lua.LValue
}

// object returns the metadata of tb, attaching the shared metatable when the
// table did not carry one yet.
func (rt *Runtime) object(tb *lua.LTable) *object {
	if o := rt.objects[tb]; o != nil {
		return o
	}
	o := &object{}
	rt.objects[tb] = o
	if tb.Metatable == lua.LNil || tb.Metatable == nil {
		tb.Metatable = rt.objectMT
	}
	return o
}

func (rt *Runtime) newObjectMetatable() *lua.LTable {
	mt := rt.L.NewTable()
	mt.RawSetString("__index", rt.L.NewFunction(rt.index))
	mt.RawSetString("__newindex", rt.L.NewFunction(rt.newIndex))
	mt.RawSetString("__call", rt.L.NewFunction(rt.call))
	return mt
}

func (rt *Runtime) index(L *lua.LState) int {
	tb := L.CheckTable(1)
	key := L.Get(2)
	name, named := key.(lua.LString)
	o := rt.objects[tb]
	for i := 0; o != nil && i < lua.MaxTableGetLoop; i++ {
		if named {
			if acc := o.accessors[string(name)]; acc != nil {
				if acc.getter == nil || acc.getter == lua.LNil {
					L.Push(lua.LNil)
					return 1
				}
				// accessors found on a prototype still act on the receiver
				L.Push(acc.getter)
				L.Push(tb)
				L.Call(1, 1)
				return 1
			}
		}
		if o.proto == nil {
			break
		}
		if v := o.proto.RawGet(key); v != lua.LNil {
			L.Push(v)
			return 1
		}
		next := rt.objects[o.proto]
		if next == nil {
			L.Push(L.GetTable(o.proto, key))
			return 1
		}
		o = next
	}
	L.Push(lua.LNil)
	return 1
}

// accessorFor finds the accessor for name on tb or its prototype chain.
func (rt *Runtime) accessorFor(tb *lua.LTable, name string) *accessor {
	o := rt.objects[tb]
	for i := 0; o != nil && i < lua.MaxTableGetLoop; i++ {
		if acc := o.accessors[name]; acc != nil {
			return acc
		}
		if o.proto == nil || o.proto.RawGetString(name) != lua.LNil {
			return nil
		}
		o = rt.objects[o.proto]
	}
	return nil
}

func (rt *Runtime) newIndex(L *lua.LState) int {
	tb := L.CheckTable(1)
	key := L.Get(2)
	value := L.Get(3)
	if name, ok := key.(lua.LString); ok {
		if acc := rt.accessorFor(tb, string(name)); acc != nil {
			// an accessor without setter is read only
			if acc.setter != nil && acc.setter != lua.LNil {
				L.Push(acc.setter)
				L.Push(tb)
				L.Push(value)
				L.Call(2, 0)
			}
			return 0
		}
	}
	tb.RawSet(key, value)
	return 0
}

func (rt *Runtime) call(L *lua.LState) int {
	tb := L.CheckTable(1)
	o := rt.objects[tb]
	if o == nil || o.native == nil {
		L.RaiseError("attempt to call a table value")
		return 0
	}
	args := make([]lua.LValue, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, L.Get(i))
	}
	return o.native.invoke(L, args, o.native.opts.Constructor)
}

func (rt *Runtime) setPrototype(tb *lua.LTable, proto lua.LValue) {
	o := rt.object(tb)
	if p, ok := proto.(*lua.LTable); ok {
		o.proto = p
	} else {
		o.proto = nil
	}
}
