package lua

import (
	"errors"
	"testing"

	"github.com/icyseptember2237/isolate/backend"
	lua "github.com/yuin/gopher-lua"
)

func newTestContext(t *testing.T) (*Runtime, *Context) {
	t.Helper()
	r, err := Open(backend.Options{Modules: []string{}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rt := r.(*Runtime)
	t.Cleanup(func() { _ = rt.Close() })
	c, err := rt.NewContext("test")
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	return rt, c.(*Context)
}

func TestEvalExpressionAndStatements(t *testing.T) {
	rt, c := newTestContext(t)

	v, err := c.Eval("1 + 2", "expr")
	if err != nil {
		t.Fatal(err)
	}
	if rt.ToNumber(v) != 3 {
		t.Fatalf("got %v, want 3", rt.ToString(v))
	}

	if _, err := c.Eval("answer = 42", "stmt"); err != nil {
		t.Fatal(err)
	}
	v, err = c.Get(c.Global(), "answer")
	if err != nil {
		t.Fatal(err)
	}
	if rt.ToNumber(v) != 42 {
		t.Fatalf("global not visible: %v", rt.ToString(v))
	}
}

func TestContextsHaveSeparateGlobals(t *testing.T) {
	rt, a := newTestContext(t)
	bc, err := rt.NewContext(nil)
	if err != nil {
		t.Fatal(err)
	}
	b := bc.(*Context)

	if _, err := a.Eval("x = 1", "a"); err != nil {
		t.Fatal(err)
	}
	v, err := b.Eval("x", "b")
	if err != nil {
		t.Fatal(err)
	}
	if rt.Kind(v) != backend.KindUndefined {
		t.Fatalf("global leaked between contexts: %s", rt.ToString(v))
	}
	if v, _ := b.Eval("type(string.format)", "b"); rt.ToString(v) != "function" {
		t.Fatalf("base library not visible")
	}
}

func TestPrototypeAndAccessors(t *testing.T) {
	rt, c := newTestContext(t)

	proto := c.NewObject(nil)
	if err := c.Set(proto, "greeting", rt.String("hello")); err != nil {
		t.Fatal(err)
	}
	obj := c.NewObject(proto)
	stored := rt.Number(0)
	getter := c.NewFunction(backend.FunctionOptions{Receiver: true}, 0, func(call *backend.Call) (backend.Value, error) {
		if call.This != obj {
			t.Errorf("getter receiver mismatch")
		}
		return stored, nil
	})
	setter := c.NewFunction(backend.FunctionOptions{Receiver: true}, 1, func(call *backend.Call) (backend.Value, error) {
		stored = call.Args[0]
		return nil, nil
	})
	if err := c.DefineAccessor(obj, "size", backend.Accessor{Getter: getter, Setter: setter}); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(c.Global(), "obj", obj); err != nil {
		t.Fatal(err)
	}

	v, err := c.Eval("obj.greeting", "proto")
	if err != nil {
		t.Fatal(err)
	}
	if rt.ToString(v) != "hello" {
		t.Fatalf("prototype lookup got %q", rt.ToString(v))
	}
	if _, err := c.Eval("obj.size = 7", "set"); err != nil {
		t.Fatal(err)
	}
	v, err = c.Eval("obj.size * 2", "get")
	if err != nil {
		t.Fatal(err)
	}
	if rt.ToNumber(v) != 14 {
		t.Fatalf("accessor got %v", rt.ToString(v))
	}
	p, err := c.Prototype(obj)
	if err != nil || p != proto {
		t.Fatalf("prototype mismatch: %v", err)
	}
	p, _ = c.Prototype(proto)
	if rt.Kind(p) != backend.KindNull {
		t.Fatalf("root prototype should be null, got %s", rt.Kind(p))
	}
}

func TestInheritedAccessorsUseReceiver(t *testing.T) {
	rt, c := newTestContext(t)

	base := c.NewObject(nil)
	proto := c.NewObject(base)
	obj := c.NewObject(proto)
	var seen []backend.Value
	getter := c.NewFunction(backend.FunctionOptions{Receiver: true}, 0, func(call *backend.Call) (backend.Value, error) {
		seen = append(seen, call.This)
		return rt.String("got"), nil
	})
	setter := c.NewFunction(backend.FunctionOptions{Receiver: true}, 1, func(call *backend.Call) (backend.Value, error) {
		seen = append(seen, call.This)
		return nil, nil
	})
	if err := c.DefineAccessor(base, "name", backend.Accessor{Getter: getter, Setter: setter}); err != nil {
		t.Fatal(err)
	}
	readOnly := c.NewFunction(backend.FunctionOptions{Receiver: true}, 2, func(call *backend.Call) (backend.Value, error) {
		return rt.Number(1), nil
	})
	if err := c.DefineAccessor(proto, "fixed", backend.Accessor{Getter: readOnly}); err != nil {
		t.Fatal(err)
	}
	_ = c.Set(c.Global(), "obj", obj)

	v, err := c.Eval(`obj.name = "x"; obj.fixed = 5; return obj.name .. ":" .. tostring(rawget(obj, "name")) .. ":" .. obj.fixed`, "inherited")
	if err != nil {
		t.Fatal(err)
	}
	if rt.ToString(v) != "got:nil:1" {
		t.Fatalf("got %q", rt.ToString(v))
	}
	if len(seen) != 2 || seen[0] != obj || seen[1] != obj {
		t.Fatalf("accessors saw receivers %v", seen)
	}
}

func TestWeakenTracksCollection(t *testing.T) {
	rt, c := newTestContext(t)

	obj := c.NewObject(nil)
	rt.SetUserData(obj, "weak", nil)
	w := rt.Weaken(obj)
	if v, ok := w.Deref(); !ok || v != obj {
		t.Fatal("live table did not resolve")
	}
	rt.CollectGarbage()
	if _, ok := w.Deref(); ok {
		t.Fatal("collected table still resolves")
	}
}

func TestNativeCallsAndConstruct(t *testing.T) {
	rt, c := newTestContext(t)

	var calls []*backend.Call
	tr := func(call *backend.Call) (backend.Value, error) {
		calls = append(calls, call)
		if call.Construct {
			return c.NewObject(nil), nil
		}
		return rt.Number(float64(len(call.Args))), nil
	}
	plain := c.NewFunction(backend.FunctionOptions{Name: "count"}, 3, tr)
	ctor := c.NewFunction(backend.FunctionOptions{Name: "Point", Constructor: true}, 4, tr)
	if rt.Kind(ctor) != backend.KindFunction {
		t.Fatalf("constructor kind = %s", rt.Kind(ctor))
	}
	_ = c.Set(c.Global(), "count", plain)
	_ = c.Set(c.Global(), "Point", ctor)
	if err := c.Set(ctor, "origin", rt.Number(0)); err != nil {
		t.Fatal(err)
	}

	v, err := c.Eval("count(1, 2, 3)", "plain")
	if err != nil {
		t.Fatal(err)
	}
	if rt.ToNumber(v) != 3 {
		t.Fatalf("got %v", rt.ToString(v))
	}
	if _, err := c.Eval("Point(1, 2)", "ctor"); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 || calls[0].Magic != 3 || calls[1].Magic != 4 {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if calls[0].Construct || !calls[1].Construct {
		t.Fatalf("construct flags wrong")
	}
	if calls[1].This != lua.LNil || len(calls[1].Args) != 2 {
		t.Fatalf("construct call should carry no receiver and both arguments")
	}

	recv := c.NewObject(nil)
	if _, err := c.Call(plain, recv, []backend.Value{rt.Number(1)}); err != nil {
		t.Fatal(err)
	}
	if calls[2].This != recv {
		t.Fatalf("host call lost its receiver")
	}
}

func TestExceptions(t *testing.T) {
	rt, c := newTestContext(t)

	_, err := c.Eval("local a = 1\nerror('boom')", "script.lua")
	var ex *backend.Exception
	if !errors.As(err, &ex) {
		t.Fatalf("want exception, got %v", err)
	}
	if ex.Resource != "script.lua" || ex.Line != 2 || ex.Message != "boom" {
		t.Fatalf("unexpected exception %+v", ex)
	}

	_, err = c.Eval("error({code = 7})", "table.lua")
	if !errors.As(err, &ex) {
		t.Fatalf("want exception, got %v", err)
	}
	code, _ := c.Get(ex.Value, "code")
	if rt.ToNumber(code) != 7 {
		t.Fatalf("thrown table not preserved")
	}

	_, err = c.Eval("local = ", "bad.lua")
	if !errors.As(err, &ex) {
		t.Fatalf("want syntax exception, got %v", err)
	}
	if ex.Resource != "bad.lua" || ex.Line != 1 {
		t.Fatalf("syntax location %+v", ex)
	}

	thrower := c.NewFunction(backend.FunctionOptions{}, 0, func(call *backend.Call) (backend.Value, error) {
		return nil, &backend.Thrown{Value: c.NewError("native failure")}
	})
	_ = c.Set(c.Global(), "fail", thrower)
	_, err = c.Eval("\n\nfail()", "native.lua")
	if !errors.As(err, &ex) {
		t.Fatalf("want exception, got %v", err)
	}
	if ex.Message != "native failure" || ex.Line != 3 {
		t.Fatalf("native exception %+v", ex)
	}
	v, err := c.Eval("select(2, pcall(fail)).message", "caught.lua")
	if err != nil {
		t.Fatal(err)
	}
	if rt.ToString(v) != "native failure" {
		t.Fatalf("script could not catch native error: %s", rt.ToString(v))
	}
}

func TestRefCounts(t *testing.T) {
	rt, c := newTestContext(t)

	obj := c.NewObject(nil)
	if !rt.IsRefCounted(obj) || rt.IsRefCounted(rt.Number(1)) || rt.IsRefCounted(rt.Null()) {
		t.Fatal("unexpected ref counted classification")
	}
	rt.Retain(obj)
	rt.Retain(obj)
	rt.Release(obj)
	if n := rt.RefCount(obj); n != 1 {
		t.Fatalf("refcount = %d", n)
	}
	rt.Release(obj)
	if n := rt.RefCount(obj); n != 0 {
		t.Fatalf("refcount = %d", n)
	}
}

func TestCollectGarbageFinalizesUnreachable(t *testing.T) {
	rt, c := newTestContext(t)

	var finalized []interface{}
	fin := func(data interface{}) { finalized = append(finalized, data) }

	kept := c.NewObject(nil)
	rt.SetUserData(kept, "kept", fin)
	rt.Retain(kept)

	global := c.NewObject(nil)
	rt.SetUserData(global, "global", fin)
	_ = c.Set(c.Global(), "g", global)

	captured := c.NewObject(nil)
	rt.SetUserData(captured, "captured", fin)
	_ = c.Set(c.Global(), "tmp", captured)
	if _, err := c.Eval("local t = tmp\nfunction holder() return t end\ntmp = nil", "closure"); err != nil {
		t.Fatal(err)
	}

	dropped := c.NewObject(nil)
	rt.SetUserData(dropped, "dropped", fin)

	rt.CollectGarbage()
	if len(finalized) != 1 || finalized[0] != "dropped" {
		t.Fatalf("finalized %v", finalized)
	}
	rt.CollectGarbage()
	if len(finalized) != 1 {
		t.Fatalf("finalizer ran twice: %v", finalized)
	}

	rt.Release(kept)
	_, _ = c.Eval("holder = nil; g = nil", "drop")
	rt.CollectGarbage()
	if len(finalized) != 4 {
		t.Fatalf("finalized %v", finalized)
	}
}

func TestCollectGarbageDeferredDuringEval(t *testing.T) {
	rt, c := newTestContext(t)

	finalized := 0
	gc := c.NewFunction(backend.FunctionOptions{}, 0, func(call *backend.Call) (backend.Value, error) {
		rt.CollectGarbage()
		if finalized != 0 {
			t.Errorf("collection ran while script was on the stack")
		}
		return nil, nil
	})
	_ = c.Set(c.Global(), "gc", gc)
	maker := c.NewFunction(backend.FunctionOptions{}, 1, func(call *backend.Call) (backend.Value, error) {
		obj := c.NewObject(nil)
		rt.SetUserData(obj, nil, func(interface{}) { finalized++ })
		return obj, nil
	})
	_ = c.Set(c.Global(), "make", maker)

	v, err := c.Eval("(function() make(); local keep = make(); gc(); return keep end)()", "deferred")
	if err != nil {
		t.Fatal(err)
	}
	if finalized != 1 {
		t.Fatalf("finalized = %d, want 1", finalized)
	}
	if _, ok := rt.UserData(v); !ok {
		t.Fatalf("result lost its user data")
	}
}

func TestExportAndToValue(t *testing.T) {
	rt, c := newTestContext(t)

	v, err := c.ToValue(map[string]interface{}{"name": "lua", "list": []interface{}{1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	out, ok := rt.Export(v).(map[string]interface{})
	if !ok {
		t.Fatalf("export type %T", rt.Export(v))
	}
	if out["name"] != "lua" {
		t.Fatalf("export %v", out)
	}
	if list, ok := out["list"].([]interface{}); !ok || len(list) != 2 || list[1] != float64(2) {
		t.Fatalf("export list %v", out["list"])
	}

	ext := c.NewExternal(&struct{ N int }{N: 5})
	if rt.Kind(ext) != backend.KindExternal {
		t.Fatalf("external kind %s", rt.Kind(ext))
	}
	inner, ok := rt.ExternalValue(ext)
	if !ok || inner.(*struct{ N int }).N != 5 {
		t.Fatal("external value lost")
	}
	if rt.Export(rt.Null()) != nil {
		t.Fatal("null should export to nil")
	}
}

func TestPreloadedModules(t *testing.T) {
	r, err := Open(backend.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	c, _ := r.NewContext(nil)
	v, err := c.Eval(`require("json").encode({1, 2})`, "json")
	if err != nil {
		t.Fatal(err)
	}
	if r.ToString(v) != "[1,2]" {
		t.Fatalf("json.encode got %s", r.ToString(v))
	}
	if _, err := Open(backend.Options{Modules: []string{"nope"}}); err == nil {
		t.Fatal("unknown module accepted")
	}
}
