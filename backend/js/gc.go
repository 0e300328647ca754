package js

import (
	"runtime"

	"github.com/icyseptember2237/isolate/backend"
	"github.com/robertkrimen/otto"
	"go.uber.org/zap"
)

// sentinel holds user data inside the object it belongs to. The Go collector
// reclaims it together with the object, and its finalizer queues the user
// finalizer for the next CollectGarbage.
type sentinel struct {
	rt        *Runtime
	data      interface{}
	fin       backend.Finalizer
	cancelled bool
}

func (rt *Runtime) SetUserData(obj backend.Value, data interface{}, fin backend.Finalizer) bool {
	ov := toOtto(obj)
	if !ov.IsObject() || rt.closed {
		return false
	}
	if old := rt.sentinel(ov); old != nil {
		rt.mu.Lock()
		old.cancelled = true
		rt.mu.Unlock()
		runtime.SetFinalizer(old, nil)
	}

	s := &sentinel{rt: rt, data: data, fin: fin}
	holder, err := rt.helper.ToValue(s)
	if err != nil {
		return false
	}
	desc, err := rt.helper.Object(`({writable: true, configurable: true, enumerable: false})`)
	if err != nil {
		return false
	}
	if err := desc.Set("value", holder); err != nil {
		return false
	}
	if _, err := rt.defineProperty.Call(otto.UndefinedValue(), ov, dataKey, desc.Value()); err != nil {
		rt.logger.Debug("cannot attach user data", zap.Error(err))
		return false
	}
	if fin != nil {
		runtime.SetFinalizer(s, queueSentinel)
	}
	return true
}

func queueSentinel(s *sentinel) {
	rt := s.rt
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed || s.cancelled {
		return
	}
	rt.queue = append(rt.queue, s)
}

func (rt *Runtime) UserData(obj backend.Value) (interface{}, bool) {
	s := rt.sentinel(toOtto(obj))
	if s == nil {
		return nil, false
	}
	return s.data, true
}

func (rt *Runtime) sentinel(ov otto.Value) *sentinel {
	if !ov.IsObject() {
		return nil
	}
	own, err := rt.hasOwnProperty.Call(ov, dataKey)
	if err != nil {
		return nil
	}
	if ok, _ := own.ToBoolean(); !ok {
		return nil
	}
	holder, err := ov.Object().Get(dataKey)
	if err != nil {
		return nil
	}
	exported, _ := holder.Export()
	s, _ := exported.(*sentinel)
	return s
}

// opaqueRef stands for a weakly held otto object. otto objects are ordinary
// Go values, so holding the object in any form would keep it alive; the
// reference can only be dropped, never resolved.
type opaqueRef struct{}

func (opaqueRef) Deref() (backend.Value, bool) { return nil, false }

func (rt *Runtime) Weaken(obj backend.Value) backend.WeakRef { return opaqueRef{} }

// CollectGarbage runs the Go collector and then the finalizers it queued.
// Finalization depends on the Go collector, so an unreachable object may be
// finalized by a later call rather than this one.
func (rt *Runtime) CollectGarbage() {
	if rt.closed {
		return
	}
	runtime.GC()
	runtime.Gosched()
	runtime.GC()

	rt.mu.Lock()
	pending := rt.queue
	rt.queue = nil
	rt.mu.Unlock()

	if len(pending) > 0 {
		rt.logger.Debug("finalizing unreachable objects", zap.Int("count", len(pending)))
	}
	for _, s := range pending {
		s.fin(s.data)
	}
}
