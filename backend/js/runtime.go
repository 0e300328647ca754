// Package js implements the isolate backend on top of otto.
package js

import (
	"sync"

	"github.com/icyseptember2237/isolate/backend"
	"github.com/robertkrimen/otto"
	"go.uber.org/zap"
)

const Name = "js"

// dataKey names the hidden property that carries user data.
const dataKey = "__isolate_data__"

func init() {
	backend.Register(Name, Open)
}

// Runtime groups the otto interpreters of its contexts. otto values carry
// their interpreter, so the runtime only keeps the bookkeeping shared between
// contexts.
type Runtime struct {
	opts   backend.Options
	logger *zap.Logger

	// helper runs the property operations that are not tied to a context.
	helper         *otto.Otto
	defineProperty otto.Value
	hasOwnProperty otto.Value

	refs     map[otto.Value]int
	contexts map[*Context]struct{}

	mu     sync.Mutex
	queue  []*sentinel
	closed bool
}

func Open(opts backend.Options) (backend.Runtime, error) {
	rt := &Runtime{
		opts:     opts,
		logger:   opts.Logger,
		helper:   otto.New(),
		refs:     make(map[otto.Value]int),
		contexts: make(map[*Context]struct{}),
	}
	if rt.logger == nil {
		rt.logger = zap.NewNop()
	}
	var err error
	if rt.defineProperty, err = rt.helper.Run("Object.defineProperty"); err != nil {
		return nil, &backend.Error{Kind: backend.ErrInit, Cause: err}
	}
	if rt.hasOwnProperty, err = rt.helper.Run("Object.prototype.hasOwnProperty"); err != nil {
		return nil, &backend.Error{Kind: backend.ErrInit, Cause: err}
	}
	return rt, nil
}

func (rt *Runtime) NewContext(opaque interface{}) (backend.Context, error) {
	if rt.closed {
		return nil, &backend.Error{Kind: backend.ErrInit, Message: "runtime is closed"}
	}
	c, err := newContext(rt, opaque)
	if err != nil {
		return nil, err
	}
	rt.contexts[c] = struct{}{}
	return c, nil
}

func (rt *Runtime) Undefined() backend.Value { return otto.UndefinedValue() }
func (rt *Runtime) Null() backend.Value      { return otto.NullValue() }

func (rt *Runtime) Bool(b bool) backend.Value {
	if b {
		return otto.TrueValue()
	}
	return otto.FalseValue()
}

func (rt *Runtime) Number(f float64) backend.Value {
	v, _ := otto.ToValue(f)
	return v
}

func (rt *Runtime) String(s string) backend.Value {
	v, _ := otto.ToValue(s)
	return v
}

func (rt *Runtime) Kind(v backend.Value) backend.Kind {
	ov := toOtto(v)
	switch {
	case ov.IsNull():
		return backend.KindNull
	case ov.IsBoolean():
		return backend.KindBoolean
	case ov.IsNumber():
		return backend.KindNumber
	case ov.IsString():
		return backend.KindString
	case ov.IsFunction():
		return backend.KindFunction
	case ov.IsObject():
		if _, ok := rt.ExternalValue(ov); ok {
			return backend.KindExternal
		}
		return backend.KindObject
	}
	return backend.KindUndefined
}

func (rt *Runtime) ToString(v backend.Value) string {
	s, err := toOtto(v).ToString()
	if err != nil {
		return toOtto(v).String()
	}
	return s
}

func (rt *Runtime) ToNumber(v backend.Value) float64 {
	f, _ := toOtto(v).ToFloat()
	return f
}

func (rt *Runtime) ToBool(v backend.Value) bool {
	b, _ := toOtto(v).ToBoolean()
	return b
}

type external struct {
	value interface{}
}

func (rt *Runtime) ExternalValue(v backend.Value) (interface{}, bool) {
	ov := toOtto(v)
	if !ov.IsObject() || ov.IsFunction() {
		return nil, false
	}
	// the wrapper has no enumerable keys, which rules out most objects
	// before Export copies their whole graph
	obj := ov.Object()
	if obj.Class() != "Object" || len(obj.Keys()) != 0 {
		return nil, false
	}
	exported, _ := ov.Export()
	ext, ok := exported.(*external)
	if !ok {
		return nil, false
	}
	return ext.value, true
}

func (rt *Runtime) Export(v backend.Value) interface{} {
	ov := toOtto(v)
	if inner, ok := rt.ExternalValue(ov); ok {
		return inner
	}
	if data, ok := rt.UserData(ov); ok {
		return data
	}
	exported, err := ov.Export()
	if err != nil {
		return nil
	}
	return exported
}

func (rt *Runtime) IsRefCounted(v backend.Value) bool {
	return toOtto(v).IsObject()
}

// Retain pins v in the refs map, which keeps it visible to the Go collector
// while the count is positive.
func (rt *Runtime) Retain(v backend.Value) {
	if !rt.IsRefCounted(v) {
		return
	}
	rt.refs[toOtto(v)]++
}

func (rt *Runtime) Release(v backend.Value) {
	if !rt.IsRefCounted(v) {
		return
	}
	ov := toOtto(v)
	if n := rt.refs[ov]; n > 1 {
		rt.refs[ov] = n - 1
	} else {
		delete(rt.refs, ov)
	}
}

func (rt *Runtime) RefCount(v backend.Value) int {
	if !rt.IsRefCounted(v) {
		return 0
	}
	return rt.refs[toOtto(v)]
}

func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	rt.queue = nil
	rt.mu.Unlock()

	for c := range rt.contexts {
		c.closed = true
	}
	rt.contexts = nil
	rt.refs = nil
	return nil
}

func toOtto(v backend.Value) otto.Value {
	if ov, ok := v.(otto.Value); ok {
		return ov
	}
	return otto.UndefinedValue()
}
