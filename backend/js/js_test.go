package js

import (
	"errors"
	"testing"

	"github.com/icyseptember2237/isolate/backend"
)

func newTestContext(t *testing.T) (*Runtime, *Context) {
	t.Helper()
	r, err := Open(backend.Options{})
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

func TestEval(t *testing.T) {
	rt, c := newTestContext(t)

	v, err := c.Eval("var x = 40; x + 2", "eval.js")
	if err != nil {
		t.Fatal(err)
	}
	if rt.ToNumber(v) != 42 {
		t.Fatalf("got %s", rt.ToString(v))
	}
	x, err := c.Get(c.Global(), "x")
	if err != nil || rt.ToNumber(x) != 40 {
		t.Fatalf("global x = %v (%v)", rt.ToString(x), err)
	}
	if c.Opaque() != "test" {
		t.Fatal("opaque lost")
	}
}

func TestKinds(t *testing.T) {
	rt, c := newTestContext(t)

	cases := []struct {
		src  string
		want backend.Kind
	}{
		{"undefined", backend.KindUndefined},
		{"null", backend.KindNull},
		{"true", backend.KindBoolean},
		{"1.5", backend.KindNumber},
		{"'s'", backend.KindString},
		{"({})", backend.KindObject},
		{"({a: {b: [1, 2]}})", backend.KindObject},
		{"[1, 2, 3]", backend.KindObject},
		{"new Error('x')", backend.KindObject},
		{"(function() {})", backend.KindFunction},
	}
	for _, tc := range cases {
		v, err := c.Eval(tc.src, "kind.js")
		if err != nil {
			t.Fatalf("%s: %v", tc.src, err)
		}
		if got := rt.Kind(v); got != tc.want {
			t.Errorf("%s: kind %s, want %s", tc.src, got, tc.want)
		}
	}
	ext := c.NewExternal(42)
	if rt.Kind(ext) != backend.KindExternal {
		t.Fatalf("external kind %s", rt.Kind(ext))
	}
	if v, ok := rt.ExternalValue(ext); !ok || v != 42 {
		t.Fatalf("external value %v", v)
	}
}

func TestWeakenNeverResolves(t *testing.T) {
	rt, c := newTestContext(t)
	obj := c.NewObject(nil)
	if _, ok := rt.Weaken(obj).Deref(); ok {
		t.Fatal("weak reference to an otto object resolved")
	}
}

func TestNativeFunctionsAndConstruct(t *testing.T) {
	rt, c := newTestContext(t)

	var last *backend.Call
	ctor := c.NewFunction(backend.FunctionOptions{Name: "Point", Constructor: true}, 7, func(call *backend.Call) (backend.Value, error) {
		last = call
		if call.Construct {
			_ = c.Set(call.This, "x", call.Args[0])
			return call.This, nil
		}
		return rt.String("plain"), nil
	})
	_ = c.Set(ctor, "prototype", c.NewObject(nil))
	_ = c.Set(c.Global(), "Point", ctor)

	v, err := c.Eval("var p = new Point(3); p.x", "ctor.js")
	if err != nil {
		t.Fatal(err)
	}
	if rt.ToNumber(v) != 3 || !last.Construct || last.Magic != 7 {
		t.Fatalf("construct call: %s %+v", rt.ToString(v), last)
	}
	v, err = c.Eval("p instanceof Point", "instanceof.js")
	if err != nil || !rt.ToBool(v) {
		t.Fatalf("instanceof: %v", err)
	}
	v, err = c.Eval("Point(1)", "plain.js")
	if err != nil {
		t.Fatal(err)
	}
	if rt.ToString(v) != "plain" || last.Construct {
		t.Fatal("plain call reported as construct")
	}

	recv := c.NewObject(nil)
	if _, err := c.Call(ctor, recv, []backend.Value{rt.Number(1)}); err != nil {
		t.Fatal(err)
	}
	if last.This != recv {
		t.Fatal("host call lost its receiver")
	}
}

func TestPrototypeAndAccessors(t *testing.T) {
	rt, c := newTestContext(t)

	proto := c.NewObject(nil)
	_ = c.Set(proto, "kind", rt.String("base"))
	obj := c.NewObject(proto)
	p, err := c.Prototype(obj)
	if err != nil || p != proto {
		t.Fatalf("prototype mismatch: %v", err)
	}

	value := rt.Number(1)
	getter := c.NewFunction(backend.FunctionOptions{Receiver: true}, 0, func(call *backend.Call) (backend.Value, error) {
		return value, nil
	})
	setter := c.NewFunction(backend.FunctionOptions{Receiver: true}, 1, func(call *backend.Call) (backend.Value, error) {
		value = call.Args[0]
		return nil, nil
	})
	if err := c.DefineAccessor(obj, "size", backend.Accessor{Getter: getter, Setter: setter}); err != nil {
		t.Fatal(err)
	}
	_ = c.Set(c.Global(), "obj", obj)
	v, err := c.Eval("obj.size = 5; obj.kind + obj.size + Object.keys(obj).length", "acc.js")
	if err != nil {
		t.Fatal(err)
	}
	if rt.ToString(v) != "base50" {
		t.Fatalf("got %s", rt.ToString(v))
	}
}

func TestExceptions(t *testing.T) {
	rt, c := newTestContext(t)

	_, err := c.Eval("\nthrow new TypeError('bad type')", "throw.js")
	var ex *backend.Exception
	if !errors.As(err, &ex) {
		t.Fatalf("want exception, got %v", err)
	}
	if ex.Message != "TypeError: bad type" || ex.Resource != "throw.js" || ex.Line != 2 {
		t.Fatalf("unexpected exception %+v", ex)
	}
	name, _ := c.Get(ex.Value, "name")
	if rt.ToString(name) != "TypeError" {
		t.Fatalf("rebuilt error name %s", rt.ToString(name))
	}

	_, err = c.Eval("throw 'plain'", "string.js")
	if !errors.As(err, &ex) || rt.ToString(ex.Value) != "plain" {
		t.Fatalf("string throw: %v", err)
	}

	_, err = c.Eval("var = ;", "syntax.js")
	if !errors.As(err, &ex) || ex.Resource != "syntax.js" || ex.Line != 1 {
		t.Fatalf("syntax error: %v %+v", err, ex)
	}

	fail := c.NewFunction(backend.FunctionOptions{}, 0, func(call *backend.Call) (backend.Value, error) {
		return nil, &backend.Thrown{Value: rt.Number(13)}
	})
	_ = c.Set(c.Global(), "fail", fail)
	v, err := c.Eval("var got; try { fail() } catch (e) { got = e } got", "catch.js")
	if err != nil {
		t.Fatal(err)
	}
	if rt.ToNumber(v) != 13 {
		t.Fatalf("script caught %s", rt.ToString(v))
	}
}

func TestUserDataAndRefCounts(t *testing.T) {
	rt, c := newTestContext(t)

	obj := c.NewObject(nil)
	if _, ok := rt.UserData(obj); ok {
		t.Fatal("fresh object has user data")
	}
	if !rt.SetUserData(obj, "payload", nil) {
		t.Fatal("SetUserData failed")
	}
	data, ok := rt.UserData(obj)
	if !ok || data != "payload" {
		t.Fatalf("user data %v", data)
	}
	child := c.NewObject(obj)
	if _, ok := rt.UserData(child); ok {
		t.Fatal("user data inherited through prototype")
	}
	_ = c.Set(c.Global(), "o", obj)
	v, _ := c.Eval("Object.keys(o).length", "keys.js")
	if rt.ToNumber(v) != 0 {
		t.Fatal("user data is enumerable")
	}
	if rt.SetUserData(rt.Number(1), nil, nil) {
		t.Fatal("primitive accepted user data")
	}

	rt.Retain(obj)
	rt.Retain(obj)
	rt.Release(obj)
	if rt.RefCount(obj) != 1 {
		t.Fatalf("refcount %d", rt.RefCount(obj))
	}
	rt.Release(obj)
	if rt.RefCount(obj) != 0 || rt.IsRefCounted(rt.String("s")) {
		t.Fatal("unexpected ref count state")
	}
}
