package isolate

import (
	"math"

	"github.com/icyseptember2237/isolate/backend"
	"github.com/pkg/errors"
)

// Data is anything a template member can be set to: a Value or another
// template.
type Data interface {
	isData()
}

// Value is a local handle. It aliases a slot in the isolate's arena and is
// valid until the HandleScope that allocated the slot closes. The zero Value
// is empty.
type Value struct {
	s *slot
}

func (Value) isData() {}

type (
	Object   struct{ Value }
	Function struct{ Object }
	String   struct{ Value }
	Number   struct{ Value }
	Boolean  struct{ Value }
	External struct{ Value }
)

func (v Value) IsEmpty() bool { return v.s == nil }

// AsValue widens a typed view back to a Value.
func (v Value) AsValue() Value { return v }

func (v Value) kind() backend.Kind {
	if v.s == nil {
		return backend.KindUndefined
	}
	return v.s.iso.rt.Kind(v.s.value)
}

// Isolate returns the isolate owning v, or nil for an empty handle.
func (v Value) Isolate() *Isolate {
	if v.s == nil {
		return nil
	}
	return v.s.iso
}

func (v Value) IsUndefined() bool { return v.s != nil && v.kind() == backend.KindUndefined }
func (v Value) IsNull() bool      { return v.s != nil && v.kind() == backend.KindNull }
func (v Value) IsBoolean() bool   { return v.s != nil && v.kind() == backend.KindBoolean }
func (v Value) IsNumber() bool    { return v.s != nil && v.kind() == backend.KindNumber }
func (v Value) IsString() bool    { return v.s != nil && v.kind() == backend.KindString }
func (v Value) IsFunction() bool  { return v.s != nil && v.kind() == backend.KindFunction }
func (v Value) IsExternal() bool  { return v.s != nil && v.kind() == backend.KindExternal }

func (v Value) IsNullOrUndefined() bool {
	if v.s == nil {
		return false
	}
	k := v.kind()
	return k == backend.KindNull || k == backend.KindUndefined
}

// IsObject is true for objects and functions.
func (v Value) IsObject() bool {
	if v.s == nil {
		return false
	}
	k := v.kind()
	return k == backend.KindObject || k == backend.KindFunction
}

func (v Value) cast(ok bool, to string) {
	if v.s != nil && !ok {
		fatalf(v.s.iso, "cannot cast %s value to %s", v.kind(), to)
	}
}

func (v Value) AsObject() Object {
	v.cast(v.IsObject(), "object")
	return Object{v}
}

func (v Value) AsFunction() Function {
	v.cast(v.IsFunction(), "function")
	return Function{Object{v}}
}

func (v Value) AsString() String {
	v.cast(v.IsString(), "string")
	return String{v}
}

func (v Value) AsNumber() Number {
	v.cast(v.IsNumber(), "number")
	return Number{v}
}

func (v Value) AsBoolean() Boolean {
	v.cast(v.IsBoolean(), "boolean")
	return Boolean{v}
}

func (v Value) AsExternal() External {
	v.cast(v.IsExternal(), "external")
	return External{v}
}

// StrictEquals compares objects by identity and primitives by kind and value.
func (v Value) StrictEquals(o Value) bool {
	if v.s == nil || o.s == nil {
		return v.s == o.s
	}
	rt := v.s.iso.rt
	k := v.kind()
	if k != o.kind() {
		return false
	}
	switch k {
	case backend.KindUndefined, backend.KindNull:
		return true
	case backend.KindBoolean:
		return rt.ToBool(v.s.value) == rt.ToBool(o.s.value)
	case backend.KindNumber:
		return rt.ToNumber(v.s.value) == rt.ToNumber(o.s.value)
	case backend.KindString:
		return rt.ToString(v.s.value) == rt.ToString(o.s.value)
	case backend.KindExternal:
		a, _ := rt.ExternalValue(v.s.value)
		b, _ := rt.ExternalValue(o.s.value)
		return a == b
	}
	return v.s.value == o.s.value
}

// String converts v with the engine's string conversion. It never throws.
func (v Value) String() string {
	if v.s == nil {
		return ""
	}
	return v.s.iso.rt.ToString(v.s.value)
}

// Export converts v to a Go value.
func (v Value) Export() interface{} {
	if v.s == nil {
		return nil
	}
	return v.s.iso.rt.Export(v.s.value)
}

func (v Value) BooleanValue() bool {
	if v.s == nil {
		return false
	}
	return v.s.iso.rt.ToBool(v.s.value)
}

func (v Value) NumberValue(ctx *Context) Maybe[float64] {
	if v.s == nil {
		return Nothing[float64]()
	}
	return Just(v.s.iso.rt.ToNumber(v.s.value))
}

func (v Value) Int32Value(ctx *Context) Maybe[int32] {
	if v.s == nil {
		return Nothing[int32]()
	}
	return Just(int32(toUint32(v.s.iso.rt.ToNumber(v.s.value))))
}

func (v Value) Uint32Value(ctx *Context) Maybe[uint32] {
	if v.s == nil {
		return Nothing[uint32]()
	}
	return Just(toUint32(v.s.iso.rt.ToNumber(v.s.value)))
}

// toUint32 wraps f modulo 2^32 after truncation.
func toUint32(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	m := math.Mod(math.Trunc(f), 1<<32)
	if m < 0 {
		m += 1 << 32
	}
	return uint32(m)
}

func (v Value) ToString(ctx *Context) Maybe[String] {
	if v.s == nil {
		return Nothing[String]()
	}
	if v.IsString() {
		return Just(String{v})
	}
	return Just(NewString(v.s.iso, v.String()))
}

func (n Number) Float64() float64 {
	if n.s == nil {
		return 0
	}
	return n.s.iso.rt.ToNumber(n.s.value)
}

func (b Boolean) Bool() bool { return b.BooleanValue() }

// Unwrap returns the Go value the external wraps.
func (e External) Unwrap() interface{} {
	if e.s == nil {
		return nil
	}
	v, _ := e.s.iso.rt.ExternalValue(e.s.value)
	return v
}

func NewString(iso *Isolate, s string) String {
	if s == "" {
		return EmptyString(iso)
	}
	return String{iso.value(iso.rt.String(s))}
}

func NewNumber(iso *Isolate, f float64) Number {
	return Number{iso.value(iso.rt.Number(f))}
}

func NewInteger(iso *Isolate, i int32) Number {
	return NewNumber(iso, float64(i))
}

func NewIntegerFromUnsigned(iso *Isolate, u uint32) Number {
	return NewNumber(iso, float64(u))
}

func NewBoolean(iso *Isolate, b bool) Boolean {
	if b {
		return True(iso)
	}
	return False(iso)
}

// NewExternal wraps a Go value in an opaque script value.
func NewExternal(iso *Isolate, v interface{}) External {
	ctx := iso.GetCurrentContext()
	return External{iso.value(ctx.bc.NewExternal(v))}
}

func NewObject(ctx *Context) Object {
	return Object{ctx.iso.value(ctx.bc.NewObject(nil))}
}

// NewError creates an error object carrying message.
func NewError(ctx *Context, message string) Value {
	return ctx.iso.value(ctx.bc.NewError(message))
}

func Undefined(iso *Isolate) Value    { return Value{iso.literals.undefined} }
func Null(iso *Isolate) Value         { return Value{iso.literals.null} }
func True(iso *Isolate) Boolean       { return Boolean{Value{iso.literals.yes}} }
func False(iso *Isolate) Boolean      { return Boolean{Value{iso.literals.no}} }
func EmptyString(iso *Isolate) String { return String{Value{iso.literals.empty}} }

// invoke runs a backend operation and turns its outcome into a Maybe.
// Exceptions are delivered to the innermost TryCatch or reported.
func (iso *Isolate) invoke(op func() (backend.Value, error)) Maybe[Value] {
	v, err := op()
	iso.checkAbort()
	if err != nil {
		iso.handleError(err)
		return Nothing[Value]()
	}
	return Just(iso.value(v))
}

func (iso *Isolate) handleError(err error) {
	var ex *backend.Exception
	if errors.As(err, &ex) {
		iso.handleException(ex)
		return
	}
	iso.handleException(&backend.Exception{Value: iso.rt.String(err.Error()), Message: err.Error()})
}

func propertyIndex(key Value) (uint32, bool) {
	if !key.IsNumber() {
		return 0, false
	}
	f := key.s.iso.rt.ToNumber(key.s.value)
	if f < 0 || f > math.MaxUint32 || f != math.Trunc(f) {
		return 0, false
	}
	return uint32(f), true
}

func (o Object) Get(ctx *Context, key Value) Maybe[Value] {
	if i, ok := propertyIndex(key); ok {
		return o.GetIndex(ctx, i)
	}
	name := key.String()
	return ctx.iso.invoke(func() (backend.Value, error) {
		return ctx.bc.Get(o.s.value, name)
	})
}

func (o Object) Set(ctx *Context, key, value Value) Maybe[bool] {
	if i, ok := propertyIndex(key); ok {
		return o.SetIndex(ctx, i, value)
	}
	name := key.String()
	return ctx.iso.invokeSet(func() error {
		return ctx.bc.Set(o.s.value, name, value.raw())
	})
}

func (o Object) GetIndex(ctx *Context, index uint32) Maybe[Value] {
	return ctx.iso.invoke(func() (backend.Value, error) {
		return ctx.bc.GetIndex(o.s.value, index)
	})
}

func (o Object) SetIndex(ctx *Context, index uint32, value Value) Maybe[bool] {
	return ctx.iso.invokeSet(func() error {
		return ctx.bc.SetIndex(o.s.value, index, value.raw())
	})
}

func (iso *Isolate) invokeSet(op func() error) Maybe[bool] {
	err := op()
	iso.checkAbort()
	if err != nil {
		iso.handleError(err)
		return Nothing[bool]()
	}
	return Just(true)
}

// GetPrototype returns the prototype link of o, null when there is none.
func (o Object) GetPrototype() Value {
	iso := o.s.iso
	ctx := iso.GetCurrentContext()
	return iso.invoke(func() (backend.Value, error) {
		return ctx.bc.Prototype(o.s.value)
	}).FromMaybe(Null(iso))
}

func (v Value) raw() backend.Value {
	if v.s == nil || v.s.value == nil {
		return nil
	}
	return v.s.value
}

// objectData is the user data the isolate attaches to engine objects:
// internal fields and weak persistent registrations.
type objectData struct {
	fields []interface{}
	weak   []*weakRef
}

func (iso *Isolate) objectData(v backend.Value) *objectData {
	data, ok := iso.rt.UserData(v)
	if !ok {
		return nil
	}
	od, _ := data.(*objectData)
	return od
}

// ensureObjectData returns the data attached to v, attaching fresh data when
// there is none. It returns nil when v cannot carry user data.
func (iso *Isolate) ensureObjectData(v backend.Value) *objectData {
	if od := iso.objectData(v); od != nil {
		return od
	}
	od := &objectData{}
	if !iso.rt.SetUserData(v, od, iso.finalizeObject) {
		return nil
	}
	return od
}

// InternalFieldCount is the number of fields stored on the object itself,
// independent of the template that made it.
func (o Object) InternalFieldCount() int {
	if o.s == nil {
		return 0
	}
	if od := o.s.iso.objectData(o.s.value); od != nil {
		return len(od.fields)
	}
	return 0
}

func (o Object) fields(index int) *objectData {
	iso := o.s.iso
	od := iso.objectData(o.s.value)
	if od == nil || len(od.fields) == 0 {
		fatalf(iso, "internal field %d accessed on an object without internal fields", index)
	}
	if index < 0 || index >= len(od.fields) {
		fatalf(iso, "internal field index %d out of range, object has %d", index, len(od.fields))
	}
	return od
}

// SetInternalField stores a host value in field index.
func (o Object) SetInternalField(index int, v interface{}) {
	o.fields(index).fields[index] = v
}

// GetInternalField returns the host value stored in field index, nil when
// unset.
func (o Object) GetInternalField(index int) interface{} {
	return o.fields(index).fields[index]
}

// Call invokes f with recv as receiver. An empty recv calls with undefined.
func (f Function) Call(ctx *Context, recv Value, args ...Value) Maybe[Value] {
	return ctx.iso.invoke(func() (backend.Value, error) {
		return ctx.bc.Call(f.s.value, recv.raw(), raws(ctx.iso, args))
	})
}

// NewInstance invokes f as a constructor.
func (f Function) NewInstance(ctx *Context, args ...Value) Maybe[Object] {
	m := ctx.iso.invoke(func() (backend.Value, error) {
		return ctx.bc.Construct(f.s.value, raws(ctx.iso, args))
	})
	if m.IsNothing() {
		return Nothing[Object]()
	}
	return Just(Object{m.value})
}

func raws(iso *Isolate, args []Value) []backend.Value {
	out := make([]backend.Value, len(args))
	for i, a := range args {
		if a.s == nil {
			out[i] = iso.rt.Undefined()
			continue
		}
		out[i] = a.s.value
	}
	return out
}
