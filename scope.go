package isolate

// HandleScope bounds the lifetime of the handles allocated while it is the
// innermost scope. Close releases them, except for those passed to Escape,
// which stay valid until the enclosing scope closes.
//
//	scope := isolate.NewHandleScope(iso)
//	defer scope.Close()
type HandleScope struct {
	iso     *Isolate
	entry   int
	depth   int
	escaped map[*slot]struct{}
	closed  bool
}

func NewHandleScope(iso *Isolate) *HandleScope {
	s := &HandleScope{iso: iso, entry: iso.arena.pos, depth: len(iso.scopes) + 1}
	iso.scopes = append(iso.scopes, s)
	return s
}

// Escape promotes v into the enclosing scope and returns it. Escaping a
// handle twice, a literal, or a handle that already belongs to an enclosing
// scope has no effect.
func (s *HandleScope) Escape(v Value) Value {
	if v.s == nil || v.s.index < s.entry {
		return v
	}
	if s.escaped == nil {
		s.escaped = make(map[*slot]struct{})
	}
	s.escaped[v.s] = struct{}{}
	return v
}

func (s *HandleScope) Close() {
	if s.closed {
		return
	}
	iso := s.iso
	if iso.disposed {
		s.closed = true
		return
	}
	if n := len(iso.scopes); n != s.depth || iso.scopes[n-1] != s {
		fatalf(iso, "HandleScope closed out of order (depth %d, innermost %d)", s.depth, n)
	}
	iso.arena.releaseRange(s.entry, iso.arena.pos, s.escaped)
	iso.scopes = iso.scopes[:s.depth-1]
	s.closed = true
}

// stackMark records the isolate's stacks on entry to a native call so a
// panicking callback can be unwound without the ordering checks.
type stackMark struct {
	pos, scopes, tryCatches, calls int
}

func (iso *Isolate) mark() stackMark {
	return stackMark{
		pos:        iso.arena.pos,
		scopes:     len(iso.scopes),
		tryCatches: len(iso.tryCatches),
		calls:      len(iso.calls),
	}
}

func (iso *Isolate) unwind(m stackMark) {
	if iso.disposed {
		return
	}
	if iso.arena.pos > m.pos {
		iso.arena.releaseRange(m.pos, iso.arena.pos, nil)
	}
	if len(iso.scopes) > m.scopes {
		for _, s := range iso.scopes[m.scopes:] {
			s.closed = true
		}
		iso.scopes = iso.scopes[:m.scopes]
	}
	if len(iso.tryCatches) > m.tryCatches {
		for _, tc := range iso.tryCatches[m.tryCatches:] {
			tc.clear()
			tc.closed = true
		}
		iso.tryCatches = iso.tryCatches[:m.tryCatches]
	}
	if len(iso.calls) > m.calls {
		iso.calls = iso.calls[:m.calls]
	}
}
