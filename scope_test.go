package isolate

import "testing"

func TestHandleScopeReleasesSlots(t *testing.T) {
	iso := newTestIsolate(t, "lua")
	ctx := iso.DefaultContext()
	rt := iso.Runtime()

	outer := NewHandleScope(iso)
	defer outer.Close()
	base := iso.Stats().ArenaCursor

	inner := NewHandleScope(iso)
	obj := NewObject(ctx)
	raw := obj.raw()
	NewNumber(iso, 1)
	if rt.RefCount(raw) != 1 {
		t.Fatalf("refcount in scope = %d", rt.RefCount(raw))
	}
	if got := iso.Stats().ArenaCursor; got != base+2 {
		t.Fatalf("cursor = %d, want %d", got, base+2)
	}
	inner.Close()

	if rt.RefCount(raw) != 0 {
		t.Fatalf("refcount after close = %d", rt.RefCount(raw))
	}
	if got := iso.Stats().ArenaCursor; got != base {
		t.Fatalf("cursor after close = %d, want %d", got, base)
	}
	inner.Close()
}

func TestEscapeKeepsHandleInEnclosingScope(t *testing.T) {
	iso := newTestIsolate(t, "lua")
	ctx := iso.DefaultContext()
	rt := iso.Runtime()

	outer := NewHandleScope(iso)
	defer outer.Close()
	base := iso.Stats().ArenaCursor

	inner := NewHandleScope(iso)
	dropped := NewObject(ctx)
	kept := NewObject(ctx)
	NewObject(ctx)
	inner.Escape(kept.Value)
	inner.Escape(kept.Value)
	inner.Escape(Undefined(iso))
	droppedRaw := dropped.raw()
	inner.Close()

	if rt.RefCount(kept.raw()) != 1 {
		t.Fatalf("escaped refcount = %d", rt.RefCount(kept.raw()))
	}
	if rt.RefCount(droppedRaw) != 0 {
		t.Fatal("non-escaped handle still counted")
	}
	if got := iso.Stats().ArenaCursor; got != base+2 {
		t.Fatalf("cursor = %d, want just past the escaped slot %d", got, base+2)
	}
	next := NewNumber(iso, 5)
	if next.s.index != base+2 {
		t.Fatalf("next allocation at %d, want %d", next.s.index, base+2)
	}
	kept.Set(ctx, NewString(iso, "ok").Value, True(iso).Value).Check()

	keptRaw := kept.raw()
	outer.Close()
	if rt.RefCount(keptRaw) != 0 {
		t.Fatalf("escaped handle survived the outer scope: refcount = %d", rt.RefCount(keptRaw))
	}
	if got := iso.Stats().ArenaCursor; got != base {
		t.Fatalf("cursor after outer close = %d, want %d", got, base)
	}
}

func TestEscapeFromOuterRangeIsNoop(t *testing.T) {
	iso := newTestIsolate(t, "lua")
	outer := NewHandleScope(iso)
	defer outer.Close()
	v := NewObject(iso.DefaultContext())

	inner := NewHandleScope(iso)
	inner.Escape(v.Value)
	if len(inner.escaped) != 0 {
		t.Fatal("handle from the enclosing scope was recorded as escaped")
	}
	inner.Close()
	if iso.Runtime().RefCount(v.raw()) != 1 {
		t.Fatal("closing the inner scope released an outer handle")
	}
}

func TestArenaGrowsByBlocks(t *testing.T) {
	iso, err := NewIsolate(CreateParams{Backend: "lua", ArenaBlockSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer iso.Dispose()
	scope := NewHandleScope(iso)
	first := NewNumber(iso, 0)
	for i := 1; i < 10; i++ {
		NewNumber(iso, float64(i))
	}
	if c := iso.Stats().ArenaCapacity; c != 12 {
		t.Fatalf("capacity = %d, want 12", c)
	}
	if first.Float64() != 0 {
		t.Fatal("slot moved when the arena grew")
	}
	scope.Close()
	if iso.Stats().ArenaCursor != 0 {
		t.Fatal("cursor not reset")
	}
}

func TestHandleScopeOutOfOrderAborts(t *testing.T) {
	iso := newTestIsolate(t, "lua")
	a := NewHandleScope(iso)
	NewHandleScope(iso)
	mustAbort(t, a.Close)
}
