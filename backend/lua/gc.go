package lua

import (
	"github.com/icyseptember2237/isolate/backend"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// CollectGarbage finalizes tables that carry user data and are neither
// retained nor reachable from any context. gopher-lua leaves memory to the Go
// collector, so reachability is computed here by a mark phase over the
// script heap.
func (rt *Runtime) CollectGarbage() {
	if rt.closed {
		return
	}
	if rt.depth > 0 {
		rt.gcPending = true
		return
	}
	rt.collect(nil)
}

// weakTable points at a table without marking it. The collector forgets the
// table's metadata when it is swept, which ends the reference.
type weakTable struct {
	rt *Runtime
	tb *lua.LTable
}

func (w weakTable) Deref() (backend.Value, bool) {
	if w.rt.closed || w.rt.objects[w.tb] == nil {
		return nil, false
	}
	return w.tb, true
}

func (rt *Runtime) Weaken(obj backend.Value) backend.WeakRef {
	tb, _ := obj.(*lua.LTable)
	return weakTable{rt: rt, tb: tb}
}

type pendingFinalizer struct {
	data interface{}
	fin  backend.Finalizer
}

func (rt *Runtime) collect(extra lua.LValue) {
	marked := make(map[lua.LValue]struct{})
	work := []lua.LValue{rt.L.G.Registry, rt.L.G.Global, rt.objectMT, rt.externalMT, rt.errorMT, rt.null}
	for c := range rt.contexts {
		work = append(work, c.globals)
	}
	for v := range rt.refs {
		work = append(work, v)
	}
	if extra != nil {
		work = append(work, extra)
	}

	for len(work) > 0 {
		v := work[len(work)-1]
		work = work[:len(work)-1]
		switch v.(type) {
		case *lua.LTable, *lua.LFunction, *lua.LUserData, *lua.LState:
		default:
			continue
		}
		if _, ok := marked[v]; ok {
			continue
		}
		marked[v] = struct{}{}

		switch lv := v.(type) {
		case *lua.LTable:
			lv.ForEach(func(key, value lua.LValue) {
				work = append(work, key, value)
			})
			if lv.Metatable != nil {
				work = append(work, lv.Metatable)
			}
			if o := rt.objects[lv]; o != nil {
				if o.proto != nil {
					work = append(work, o.proto)
				}
				for _, acc := range o.accessors {
					work = append(work, acc.getter, acc.setter)
				}
				if o.native != nil {
					work = append(work, o.native.ctx.globals)
				}
			}
		case *lua.LFunction:
			if lv.Env != nil {
				work = append(work, lv.Env)
			}
			for _, uv := range lv.Upvalues {
				if uv != nil {
					work = append(work, uv.Value())
				}
			}
		case *lua.LUserData:
			if lv.Metatable != nil {
				work = append(work, lv.Metatable)
			}
			if lv.Env != nil {
				work = append(work, lv.Env)
			}
		}
	}

	var pending []pendingFinalizer
	for tb, o := range rt.objects {
		if _, ok := marked[tb]; ok {
			continue
		}
		delete(rt.objects, tb)
		if o.hasData && o.fin != nil {
			pending = append(pending, pendingFinalizer{data: o.data, fin: o.fin})
		}
	}
	for fn := range rt.natives {
		if _, ok := marked[fn]; !ok {
			delete(rt.natives, fn)
		}
	}
	if len(pending) > 0 {
		rt.logger.Debug("finalizing unreachable objects", zap.Int("count", len(pending)))
	}
	for _, p := range pending {
		p.fin(p.data)
	}
}
