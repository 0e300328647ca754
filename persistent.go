package isolate

import "github.com/icyseptember2237/isolate/backend"

type WeakCallbackType int

const (
	// WeakCallbackParameter passes only the parameter to the callback.
	WeakCallbackParameter WeakCallbackType = iota
	// WeakCallbackInternalFields also passes the object's internal fields.
	WeakCallbackInternalFields
)

type WeakCallback func(info *WeakCallbackInfo)

type WeakCallbackInfo struct {
	iso    *Isolate
	param  interface{}
	fields []interface{}
}

func (i *WeakCallbackInfo) GetIsolate() *Isolate      { return i.iso }
func (i *WeakCallbackInfo) GetParameter() interface{} { return i.param }

// GetInternalField returns the field the object held when it was collected.
// It is nil unless the callback was registered with
// WeakCallbackInternalFields.
func (i *WeakCallbackInfo) GetInternalField(index int) interface{} {
	if index < 0 || index >= len(i.fields) {
		return nil
	}
	return i.fields[index]
}

// weakRef is a weak registration stored in the target's user data. It holds
// no path back to its persistent or to a strong reference on the target, so
// the target stays collectable.
type weakRef struct {
	target backend.WeakRef
	param  interface{}
	cb     WeakCallback
	typ    WeakCallbackType
}

// Persistent keeps a value alive across scopes. A strong persistent holds one
// reference on its target; a weak one holds none and is cleared by the
// collector, which then runs the weak callback.
type Persistent struct {
	iso   *Isolate
	value backend.Value
	weak  *weakRef
}

// NewPersistent returns a strong persistent for v, empty when v is empty.
func NewPersistent(iso *Isolate, v Value) *Persistent {
	p := &Persistent{iso: iso}
	p.ResetTo(v)
	return p
}

// ResetTo releases the current target and takes a strong reference on v.
func (p *Persistent) ResetTo(v Value) {
	p.Reset()
	if v.s == nil {
		return
	}
	if p.iso == nil {
		p.iso = v.s.iso
	}
	p.value = v.s.value
	if p.iso.rt.IsRefCounted(p.value) {
		p.iso.rt.Retain(p.value)
	}
	p.iso.persistents[p] = struct{}{}
}

// Reset empties p. A strong target loses its reference; a weak target keeps
// no reference and its callback is dropped.
func (p *Persistent) Reset() {
	if p.IsEmpty() {
		return
	}
	iso := p.iso
	if p.weak != nil {
		iso.dropWeak(p.weak)
	} else if iso.rt.IsRefCounted(p.value) && !iso.disposed {
		iso.rt.Release(p.value)
	}
	p.value = nil
	p.weak = nil
	delete(iso.persistents, p)
}

func (p *Persistent) IsEmpty() bool { return p == nil || (p.value == nil && p.weak == nil) }
func (p *Persistent) IsWeak() bool  { return p != nil && p.weak != nil }

// Get returns a local handle for the target, empty when p is empty. A weak
// persistent resolves only on runtimes that can reference an object without
// keeping it alive; on the others Get returns an empty handle until
// ClearWeak or a reset.
func (p *Persistent) Get(iso *Isolate) Value {
	if p.IsEmpty() {
		return Value{}
	}
	if p.weak != nil {
		v, ok := p.weak.target.Deref()
		if !ok {
			return Value{}
		}
		return iso.value(v)
	}
	return iso.value(p.value)
}

// SetWeak gives up p's reference and arranges for cb to run once the target
// is collected. It has no effect when p is empty, already weak, or the target
// cannot carry user data.
func (p *Persistent) SetWeak(parameter interface{}, cb WeakCallback, typ WeakCallbackType) {
	if p.IsEmpty() || p.weak != nil {
		return
	}
	iso := p.iso
	od := iso.ensureObjectData(p.value)
	if od == nil {
		iso.logger.Debug("SetWeak ignored for a value without user data")
		return
	}
	w := &weakRef{target: iso.rt.Weaken(p.value), param: parameter, cb: cb, typ: typ}
	od.weak = append(od.weak, w)
	iso.weak[w] = p
	iso.rt.Release(p.value)
	p.value = nil
	p.weak = w
}

// ClearWeak makes p strong again and returns the weak parameter. When the
// runtime cannot resolve the weak target, p is left empty instead.
func (p *Persistent) ClearWeak() interface{} {
	if p == nil || p.weak == nil {
		return nil
	}
	iso := p.iso
	w := p.weak
	iso.dropWeak(w)
	p.weak = nil
	if v, ok := w.target.Deref(); ok && !iso.disposed {
		p.value = v
		iso.rt.Retain(v)
	} else {
		delete(iso.persistents, p)
	}
	return w.param
}

// dropWeak unregisters w. The entry in the target's user data is pruned when
// the target can still be resolved; otherwise finalizeObject skips it.
func (iso *Isolate) dropWeak(w *weakRef) {
	delete(iso.weak, w)
	if iso.disposed {
		return
	}
	v, ok := w.target.Deref()
	if !ok {
		return
	}
	od := iso.objectData(v)
	if od == nil {
		return
	}
	for i, x := range od.weak {
		if x == w {
			od.weak = append(od.weak[:i], od.weak[i+1:]...)
			return
		}
	}
}

// finalizeObject is the finalizer attached with every objectData. It runs
// the weak callbacks still registered on the object.
func (iso *Isolate) finalizeObject(data interface{}) {
	od, ok := data.(*objectData)
	if !ok || iso.disposed || len(od.weak) == 0 {
		return
	}
	weak := od.weak
	od.weak = nil

	scope := NewHandleScope(iso)
	defer scope.Close()
	for _, w := range weak {
		p, ok := iso.weak[w]
		if !ok {
			continue
		}
		delete(iso.weak, w)
		p.value = nil
		p.weak = nil
		delete(iso.persistents, p)
		if w.cb == nil {
			continue
		}
		info := &WeakCallbackInfo{iso: iso, param: w.param}
		if w.typ == WeakCallbackInternalFields {
			info.fields = append([]interface{}(nil), od.fields...)
		}
		w.cb(info)
	}
}
