package isolate

import (
	"github.com/icyseptember2237/isolate/backend"
	"github.com/pkg/errors"
)

// PropertyAttribute flags apply to accessor properties.
type PropertyAttribute int

const (
	None       PropertyAttribute = 0
	ReadOnly   PropertyAttribute = 1 << 0
	DontEnum   PropertyAttribute = 1 << 1
	DontDelete PropertyAttribute = 1 << 2
)

type FunctionCallback func(info *FunctionCallbackInfo)

// member is a named value or accessor pair declared on a template.
type member struct {
	name string
	// value is a *Persistent, *FunctionTemplate or *ObjectTemplate.
	value          interface{}
	getter, setter *FunctionTemplate
	attr           PropertyAttribute
	accessor       bool
}

func (iso *Isolate) newMember(name string, value Data) *member {
	m := &member{name: name}
	switch d := value.(type) {
	case *FunctionTemplate, *ObjectTemplate:
		m.value = d
	case interface{ AsValue() Value }:
		m.value = NewPersistent(iso, d.AsValue())
	default:
		fatalf(iso, "unsupported template member %T for %q", value, name)
	}
	return m
}

// FunctionTemplate describes a native function once. Every function it
// materializes, in any context, dispatches to the same callback through the
// template's magic index.
type FunctionTemplate struct {
	iso       *Isolate
	magic     int
	callback  FunctionCallback
	data      *Persistent
	className string
	parent    *FunctionTemplate
	instance  *ObjectTemplate
	prototype *ObjectTemplate
	members   []*member
}

func (*FunctionTemplate) isData() {}

// NewFunctionTemplate registers cb under the next magic index. data, which
// may be empty, is handed to every invocation.
func NewFunctionTemplate(iso *Isolate, cb FunctionCallback, data Value) *FunctionTemplate {
	t := &FunctionTemplate{
		iso:      iso,
		magic:    len(iso.templates),
		callback: cb,
		data:     NewPersistent(iso, data),
	}
	iso.templates = append(iso.templates, t)
	return t
}

func (t *FunctionTemplate) Magic() int { return t.magic }

// InstanceTemplate describes objects created when the function is called
// as a constructor.
func (t *FunctionTemplate) InstanceTemplate() *ObjectTemplate {
	if t.instance == nil {
		t.instance = NewObjectTemplate(t.iso)
		t.instance.ctor = t
	}
	return t.instance
}

// PrototypeTemplate describes the prototype shared by constructed objects.
func (t *FunctionTemplate) PrototypeTemplate() *ObjectTemplate {
	if t.prototype == nil {
		t.prototype = NewObjectTemplate(t.iso)
	}
	return t.prototype
}

// Inherit links the prototype of t to the prototype of parent.
func (t *FunctionTemplate) Inherit(parent *FunctionTemplate) {
	for p := parent; p != nil; p = p.parent {
		if p == t {
			fatalf(t.iso, "template %d cannot inherit from itself", t.magic)
		}
	}
	t.parent = parent
}

func (t *FunctionTemplate) SetClassName(name string) { t.className = name }

// Set declares a member of the function object itself.
func (t *FunctionTemplate) Set(name string, value Data) {
	t.members = append(t.members, t.iso.newMember(name, value))
}

func (t *FunctionTemplate) SetAccessorProperty(name string, getter, setter *FunctionTemplate, attr PropertyAttribute) {
	t.members = append(t.members, &member{name: name, getter: getter, setter: setter, attr: attr, accessor: true})
}

// isConstructor is true once the template describes constructed objects.
func (t *FunctionTemplate) isConstructor() bool {
	return t.instance != nil || t.prototype != nil || t.parent != nil
}

// hasInstanceShape makes every call of the function a construct call.
func (t *FunctionTemplate) hasInstanceShape() bool {
	return t.instance != nil && (t.instance.fields > 0 || len(t.instance.members) > 0)
}

// GetFunction materializes t in ctx. The function is created once per
// context; members declared afterwards do not change it.
func (t *FunctionTemplate) GetFunction(ctx *Context) Maybe[Function] {
	fn, err := t.materialize(ctx, false)
	t.iso.checkAbort()
	if err != nil {
		t.iso.handleError(err)
		return Nothing[Function]()
	}
	return Just(Function{Object{t.iso.value(fn)}})
}

// materialize returns the function for t in ctx. Methods take their
// receiver the way members and accessors are invoked by the engine.
func (t *FunctionTemplate) materialize(ctx *Context, method bool) (backend.Value, error) {
	if ctx.disposed {
		return nil, errors.New("context is disposed")
	}
	cache := ctx.functions
	if method {
		cache = ctx.methods
	}
	if fn, ok := cache[t.magic]; ok {
		return fn, nil
	}

	ctor := !method && t.isConstructor()
	opts := backend.FunctionOptions{
		Name:        t.className,
		Receiver:    method,
		Properties:  len(t.members) > 0,
		Constructor: ctor,
	}
	fn := ctx.bc.NewFunction(opts, t.magic, t.iso.trampoline)
	ctx.keep(cache, t.magic, fn)

	if ctor {
		var parentProto backend.Value
		if t.parent != nil {
			if _, err := t.parent.materialize(ctx, false); err != nil {
				return nil, errors.Wrapf(err, "materialize parent of template %d", t.magic)
			}
			parentProto = ctx.prototypes[t.parent.magic]
		}
		proto := ctx.bc.NewObject(parentProto)
		ctx.keep(ctx.prototypes, t.magic, proto)
		if t.prototype != nil {
			if err := ctx.applyMembers(proto, t.prototype.members); err != nil {
				return nil, err
			}
		}
		if err := ctx.bc.Set(fn, "prototype", proto); err != nil {
			return nil, err
		}
		if err := ctx.bc.Set(proto, "constructor", fn); err != nil {
			return nil, err
		}
	}
	if err := ctx.applyMembers(fn, t.members); err != nil {
		return nil, err
	}
	return fn, nil
}

// initInstance applies the instance members of the inheritance chain, base
// first, and attaches the internal fields of t's own instance template.
func (t *FunctionTemplate) initInstance(ctx *Context, obj backend.Value) error {
	var chain []*FunctionTemplate
	for p := t; p != nil; p = p.parent {
		chain = append(chain, p)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if it := chain[i].instance; it != nil {
			if err := ctx.applyMembers(obj, it.members); err != nil {
				return err
			}
		}
	}
	if t.instance != nil {
		return ctx.iso.attachFields(obj, t.instance.fields)
	}
	return nil
}

func (iso *Isolate) attachFields(obj backend.Value, n int) error {
	if n == 0 {
		return nil
	}
	od := iso.ensureObjectData(obj)
	if od == nil {
		return errors.Errorf("%s value cannot carry internal fields", iso.rt.Kind(obj))
	}
	od.fields = make([]interface{}, n)
	return nil
}

// ObjectTemplate describes plain objects: their members and the number of
// internal fields each instance carries.
type ObjectTemplate struct {
	iso     *Isolate
	fields  int
	members []*member
	// ctor is set for the instance template of a FunctionTemplate.
	ctor *FunctionTemplate
}

func (*ObjectTemplate) isData() {}

func NewObjectTemplate(iso *Isolate) *ObjectTemplate {
	return &ObjectTemplate{iso: iso}
}

func (t *ObjectTemplate) SetInternalFieldCount(n int) {
	if n < 0 {
		fatalf(t.iso, "negative internal field count %d", n)
	}
	t.fields = n
}

func (t *ObjectTemplate) InternalFieldCount() int { return t.fields }

func (t *ObjectTemplate) Set(name string, value Data) {
	t.members = append(t.members, t.iso.newMember(name, value))
}

func (t *ObjectTemplate) SetAccessorProperty(name string, getter, setter *FunctionTemplate, attr PropertyAttribute) {
	t.members = append(t.members, &member{name: name, getter: getter, setter: setter, attr: attr, accessor: true})
}

// NewInstance creates an object from t. The instance template of a
// FunctionTemplate produces objects linked to that function's prototype.
func (t *ObjectTemplate) NewInstance(ctx *Context) Maybe[Object] {
	obj, err := t.newInstance(ctx)
	t.iso.checkAbort()
	if err != nil {
		t.iso.handleError(err)
		return Nothing[Object]()
	}
	return Just(Object{t.iso.value(obj)})
}

func (t *ObjectTemplate) newInstance(ctx *Context) (backend.Value, error) {
	if t.ctor == nil {
		obj := ctx.bc.NewObject(nil)
		if err := ctx.applyMembers(obj, t.members); err != nil {
			return nil, err
		}
		return obj, ctx.iso.attachFields(obj, t.fields)
	}
	if _, err := t.ctor.materialize(ctx, false); err != nil {
		return nil, err
	}
	obj := ctx.bc.NewObject(ctx.prototypes[t.ctor.magic])
	return obj, t.ctor.initInstance(ctx, obj)
}

func (ctx *Context) applyMembers(obj backend.Value, members []*member) error {
	for _, m := range members {
		if m.accessor {
			acc := backend.Accessor{
				Enumerable:   m.attr&DontEnum == 0,
				Configurable: m.attr&DontDelete == 0,
			}
			var err error
			if m.getter != nil {
				if acc.Getter, err = m.getter.materialize(ctx, true); err != nil {
					return err
				}
			}
			if m.setter != nil && m.attr&ReadOnly == 0 {
				if acc.Setter, err = m.setter.materialize(ctx, true); err != nil {
					return err
				}
			}
			if err := ctx.bc.DefineAccessor(obj, m.name, acc); err != nil {
				return errors.Wrapf(err, "define accessor %q", m.name)
			}
			continue
		}

		var v backend.Value
		switch d := m.value.(type) {
		case *Persistent:
			v = d.value
			if v == nil {
				v = ctx.iso.rt.Undefined()
			}
		case *FunctionTemplate:
			fn, err := d.materialize(ctx, true)
			if err != nil {
				return err
			}
			v = fn
		case *ObjectTemplate:
			obj, err := d.newInstance(ctx)
			if err != nil {
				return err
			}
			v = obj
		}
		if err := ctx.bc.Set(obj, m.name, v); err != nil {
			return errors.Wrapf(err, "set member %q", m.name)
		}
	}
	return nil
}

// trampoline is the entry point for every native function the isolate
// creates. The outer scope receives the escaped return value; the inner one
// holds the arguments and whatever the callback allocates.
func (iso *Isolate) trampoline(call *backend.Call) (backend.Value, error) {
	if iso.disposed || iso.aborted != nil {
		return nil, &backend.Error{Kind: backend.ErrRuntime, Message: "isolate is not usable"}
	}
	if call.Magic < 0 || call.Magic >= len(iso.templates) {
		fatalf(iso, "no template registered for magic %d", call.Magic)
	}
	t := iso.templates[call.Magic]
	ctx, _ := call.Context.Opaque().(*Context)
	if ctx == nil || ctx.iso != iso {
		fatalf(iso, "native call from a context owned by another isolate")
	}

	mark := iso.mark()
	defer func() {
		if r := recover(); r != nil {
			iso.unwind(mark)
			panic(r)
		}
	}()

	outer := NewHandleScope(iso)
	inner := NewHandleScope(iso)

	construct := call.Construct || t.hasInstanceShape()
	this := call.This
	if construct {
		if !call.Construct || !isObjectKind(iso.rt.Kind(this)) {
			this = ctx.bc.NewObject(ctx.prototypes[t.magic])
		}
		if err := t.initInstance(ctx, this); err != nil {
			inner.Close()
			outer.Close()
			return nil, err
		}
	}
	if this == nil {
		this = iso.rt.Undefined()
	}

	info := &FunctionCallbackInfo{
		iso:       iso,
		ctx:       ctx,
		template:  t,
		args:      make([]Value, len(call.Args)),
		construct: construct,
	}
	info.ret.iso = iso
	for i, a := range call.Args {
		info.args[i] = iso.value(a)
	}
	info.this = iso.value(this)

	iso.calls = append(iso.calls, info)
	if t.callback != nil {
		t.callback(info)
	}
	iso.calls = iso.calls[:len(iso.calls)-1]

	inner.Close()
	outer.Close()

	if info.hasException {
		return nil, &backend.Thrown{Value: info.exception}
	}
	if construct {
		return this, nil
	}
	if info.ret.value == nil {
		return iso.rt.Undefined(), nil
	}
	return info.ret.value, nil
}

func isObjectKind(k backend.Kind) bool {
	return k == backend.KindObject || k == backend.KindFunction
}
