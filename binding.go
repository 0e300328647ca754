package isolate

import (
	"os"
	"reflect"

	"github.com/icyseptember2237/isolate/backend"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// The methods in this file are a host convenience layer for binding plain
// Go values and functions. They open their own scopes and report script
// exceptions as errors instead of Nothing.

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// ParseString runs source in ctx for its side effects.
func (ctx *Context) ParseString(source string) error {
	return ctx.run(source, defaultResourceName)
}

// ParseFile runs the script stored at path, using path as resource name.
func (ctx *Context) ParseFile(path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read script %s", path)
	}
	return ctx.run(string(source), path)
}

func (ctx *Context) run(source, name string) error {
	iso := ctx.iso
	scope := NewHandleScope(iso)
	defer scope.Close()
	tc := NewTryCatch(iso)
	defer tc.Close()

	script := Compile(ctx, NewString(iso, source), &ScriptOrigin{ResourceName: name})
	if script.IsNothing() {
		return tc.Err()
	}
	if script.FromJust().Run(ctx).IsNothing() {
		return tc.Err()
	}
	return nil
}

// RegisterObject converts obj and stores it as a global.
func (ctx *Context) RegisterObject(name string, obj interface{}) error {
	v, err := ctx.bc.ToValue(obj)
	if err != nil {
		return errors.Wrapf(err, "convert %s", name)
	}
	return ctx.setGlobal(name, v)
}

// RegisterFunction exposes a Go function as a global. Arguments are
// exported and converted to the parameter types; a trailing non-nil error
// result is thrown as a script Error.
func (ctx *Context) RegisterFunction(name string, fn interface{}) error {
	f, err := ctx.bindFunction(name, fn)
	if err != nil {
		return err
	}
	return ctx.setGlobal(name, f)
}

// RegisterModule exposes funcs as members of a global object named name.
func (ctx *Context) RegisterModule(name string, funcs map[string]interface{}) error {
	mod := ctx.bc.NewObject(nil)
	for fname, fn := range funcs {
		f, err := ctx.bindFunction(name+"."+fname, fn)
		if err != nil {
			return err
		}
		if err := ctx.bc.Set(mod, fname, f); err != nil {
			return errors.Wrapf(err, "register %s.%s", name, fname)
		}
	}
	if err := ctx.bc.Set(mod, "name", ctx.iso.rt.String(name)); err != nil {
		return errors.Wrapf(err, "register %s", name)
	}
	return ctx.setGlobal(name, mod)
}

// IsFunction reports whether the global name holds a function.
func (ctx *Context) IsFunction(name string) bool {
	v, err := ctx.bc.Get(ctx.bc.Global(), name)
	return err == nil && ctx.iso.rt.Kind(v) == backend.KindFunction
}

// CallFunction calls the global function name and exports its result.
func (ctx *Context) CallFunction(name string, args ...interface{}) (interface{}, error) {
	iso := ctx.iso
	scope := NewHandleScope(iso)
	defer scope.Close()
	tc := NewTryCatch(iso)
	defer tc.Close()

	fv := ctx.Global().Get(ctx, NewString(iso, name).Value)
	if fv.IsNothing() {
		return nil, tc.Err()
	}
	if !fv.FromJust().IsFunction() {
		return nil, errors.Errorf("%s is not a function", name)
	}
	argv := make([]Value, len(args))
	for i, a := range args {
		v, err := ctx.bc.ToValue(a)
		if err != nil {
			return nil, errors.Wrapf(err, "convert argument %d of %s", i, name)
		}
		argv[i] = iso.value(v)
	}
	res := fv.FromJust().AsFunction().Call(ctx, Undefined(iso), argv...)
	if res.IsNothing() {
		return nil, tc.Err()
	}
	return res.FromJust().Export(), nil
}

func (ctx *Context) setGlobal(name string, v backend.Value) error {
	if err := ctx.bc.Set(ctx.bc.Global(), name, v); err != nil {
		return errors.Wrapf(err, "set global %s", name)
	}
	return nil
}

func (ctx *Context) bindFunction(name string, fn interface{}) (backend.Value, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return nil, errors.Errorf("register %s: %T is not a function", name, fn)
	}
	t := NewFunctionTemplate(ctx.iso, reflectCallback(fv), Value{})
	t.SetClassName(name)
	f, err := t.materialize(ctx, false)
	if err != nil {
		return nil, errors.Wrapf(err, "register %s", name)
	}
	return f, nil
}

func reflectCallback(fn reflect.Value) FunctionCallback {
	typ := fn.Type()
	return func(info *FunctionCallbackInfo) {
		iso := info.GetIsolate()
		ctx := info.GetContext()

		n := typ.NumIn()
		if typ.IsVariadic() {
			n = typ.NumIn() - 1
			if info.Length() > n {
				n = info.Length()
			}
		}
		in := make([]reflect.Value, n)
		for i := range in {
			pt := paramType(typ, i)
			v, err := convertArg(info.Arg(i).Export(), pt)
			if err != nil {
				iso.ThrowException(NewError(ctx, errors.Wrapf(err, "argument %d", i).Error()))
				return
			}
			in[i] = v
		}
		setResults(info, fn.Call(in))
	}
}

func paramType(typ reflect.Type, i int) reflect.Type {
	if typ.IsVariadic() && i >= typ.NumIn()-1 {
		return typ.In(typ.NumIn() - 1).Elem()
	}
	return typ.In(i)
}

// convertArg fits an exported script value to a parameter type. Maps decode
// into structs through mapstructure.
func convertArg(x interface{}, t reflect.Type) (reflect.Value, error) {
	if x == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(x)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	// numbers convert to strings as runes, which is never what script meant
	if v.Type().ConvertibleTo(t) && (t.Kind() != reflect.String || v.Kind() == reflect.String) {
		return v.Convert(t), nil
	}
	out := reflect.New(t)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out.Interface(),
		WeaklyTypedInput: true,
	})
	if err != nil {
		return reflect.Value{}, err
	}
	if err := dec.Decode(x); err != nil {
		return reflect.Value{}, errors.Wrapf(err, "cannot use %T as %s", x, t)
	}
	return out.Elem(), nil
}

func setResults(info *FunctionCallbackInfo, out []reflect.Value) {
	iso := info.GetIsolate()
	ctx := info.GetContext()
	if n := len(out); n > 0 && out[n-1].Type() == errorType {
		if err, _ := out[n-1].Interface().(error); err != nil {
			iso.ThrowException(NewError(ctx, err.Error()))
			return
		}
		out = out[:n-1]
	}
	var result interface{}
	switch len(out) {
	case 0:
		return
	case 1:
		result = out[0].Interface()
	default:
		list := make([]interface{}, len(out))
		for i, o := range out {
			list[i] = o.Interface()
		}
		result = list
	}
	v, err := ctx.bc.ToValue(result)
	if err != nil {
		iso.ThrowException(NewError(ctx, err.Error()))
		return
	}
	info.GetReturnValue().Set(iso.value(v))
}
