package isolate

import "github.com/icyseptember2237/isolate/backend"

// FunctionCallbackInfo is the view of one native invocation. It is valid
// only while the callback runs.
type FunctionCallbackInfo struct {
	iso       *Isolate
	ctx       *Context
	template  *FunctionTemplate
	args      []Value
	this      Value
	construct bool
	ret       ReturnValue

	exception    backend.Value
	hasException bool
}

func (i *FunctionCallbackInfo) Length() int { return len(i.args) }

// Arg returns argument n, or undefined past the end.
func (i *FunctionCallbackInfo) Arg(n int) Value {
	if n < 0 || n >= len(i.args) {
		return Undefined(i.iso)
	}
	return i.args[n]
}

// This is the receiver. On construct calls it is the object being built.
func (i *FunctionCallbackInfo) This() Object { return Object{i.this} }

// Holder is the object the function was found on; there are no
// interceptors, so it is always the receiver.
func (i *FunctionCallbackInfo) Holder() Object { return Object{i.this} }

func (i *FunctionCallbackInfo) IsConstructCall() bool { return i.construct }

// Data returns the value the template was created with, undefined when
// there was none.
func (i *FunctionCallbackInfo) Data() Value {
	if i.template.data.IsEmpty() {
		return Undefined(i.iso)
	}
	return i.template.data.Get(i.iso)
}

func (i *FunctionCallbackInfo) GetIsolate() *Isolate         { return i.iso }
func (i *FunctionCallbackInfo) GetContext() *Context         { return i.ctx }
func (i *FunctionCallbackInfo) GetReturnValue() *ReturnValue { return &i.ret }

// ReturnValue is the result cell of a native call. The last value set wins.
type ReturnValue struct {
	iso   *Isolate
	value backend.Value
}

// Set stores v as the result. v is escaped through the innermost scope so
// it outlives the callback's own handles.
func (r *ReturnValue) Set(v Value) {
	if v.IsEmpty() {
		r.value = nil
		return
	}
	if n := len(r.iso.scopes); n > 0 {
		r.iso.scopes[n-1].Escape(v)
	}
	r.value = v.s.value
}

func (r *ReturnValue) SetBool(b bool)      { r.value = r.iso.rt.Bool(b) }
func (r *ReturnValue) SetNumber(f float64) { r.value = r.iso.rt.Number(f) }
func (r *ReturnValue) SetInt32(i int32)    { r.value = r.iso.rt.Number(float64(i)) }
func (r *ReturnValue) SetUint32(i uint32)  { r.value = r.iso.rt.Number(float64(i)) }
func (r *ReturnValue) SetNull()            { r.value = r.iso.literals.null.value }
func (r *ReturnValue) SetUndefined()       { r.value = r.iso.literals.undefined.value }
func (r *ReturnValue) SetEmptyString()     { r.value = r.iso.literals.empty.value }

// Get returns the current result, undefined when nothing was set.
func (r *ReturnValue) Get() Value {
	if r.value == nil {
		return Undefined(r.iso)
	}
	return r.iso.value(r.value)
}
