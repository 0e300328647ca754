// Package isolate is a scope-based embedding API over pluggable script
// runtimes. Local handles live in an arena owned by the Isolate and are
// released when the HandleScope that allocated them closes; Persistent
// handles outlive scopes and can hand their lifetime to the engine's
// collector. Native functions are described by templates and dispatched
// through a single trampoline keyed by an integer magic index.
//
// An Isolate is single threaded. Use a Pool to hand isolates to goroutines.
package isolate

import (
	"sync"

	"github.com/icyseptember2237/isolate/backend"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultBackend = "lua"

type CreateParams struct {
	// Backend names a registered runtime, "lua" or "js". Empty selects
	// DefaultBackend.
	Backend string
	Options backend.Options
	// ArenaBlockSize is the number of slots added each time the handle
	// arena grows.
	ArenaBlockSize int
	Logger         *zap.Logger
}

type Isolate struct {
	rt      backend.Runtime
	backend string
	logger  *zap.Logger

	arena    arena
	literals struct {
		undefined, null, yes, no, empty *slot
	}
	templates []*FunctionTemplate

	scopes     []*HandleScope
	tryCatches []*TryCatch
	calls      []*FunctionCallbackInfo

	defaultContext *Context
	contexts       map[*Context]struct{}
	entered        []*Context
	persistents    map[*Persistent]struct{}
	weak           map[*weakRef]*Persistent

	aborted  *FatalError
	disposed bool
}

func NewIsolate(params CreateParams) (*Isolate, error) {
	name := params.Backend
	if name == "" {
		name = DefaultBackend
	}
	logger := params.Logger
	if logger == nil {
		logger = params.Options.Logger
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := params.Options
	opts.Logger = logger

	rt, err := backend.Open(name, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s runtime", name)
	}
	iso := &Isolate{
		rt:          rt,
		backend:     name,
		logger:      logger.With(zap.String("backend", name)),
		contexts:    make(map[*Context]struct{}),
		persistents: make(map[*Persistent]struct{}),
		weak:        make(map[*weakRef]*Persistent),
	}
	iso.arena = newArena(iso, params.ArenaBlockSize)
	iso.literals.undefined = iso.literal(rt.Undefined())
	iso.literals.null = iso.literal(rt.Null())
	iso.literals.yes = iso.literal(rt.Bool(true))
	iso.literals.no = iso.literal(rt.Bool(false))
	iso.literals.empty = iso.literal(rt.String(""))

	ctx, err := NewContext(iso)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	iso.defaultContext = ctx
	return iso, nil
}

func (iso *Isolate) literal(v backend.Value) *slot {
	return &slot{iso: iso, value: v, index: -1}
}

// alloc places v in the innermost open scope.
func (iso *Isolate) alloc(v backend.Value) *slot {
	if len(iso.scopes) == 0 {
		fatalf(iso, "cannot create a handle without a HandleScope")
	}
	if v == nil {
		v = iso.rt.Undefined()
	}
	return iso.arena.alloc(v)
}

func (iso *Isolate) value(v backend.Value) Value {
	return Value{s: iso.alloc(v)}
}

func (iso *Isolate) Runtime() backend.Runtime { return iso.rt }
func (iso *Isolate) Backend() string          { return iso.backend }
func (iso *Isolate) Logger() *zap.Logger      { return iso.logger }

// DefaultContext is the context created with the isolate.
func (iso *Isolate) DefaultContext() *Context { return iso.defaultContext }

// GetCurrentContext returns the innermost entered context, or the default
// context when none is entered.
func (iso *Isolate) GetCurrentContext() *Context {
	if n := len(iso.entered); n > 0 {
		return iso.entered[n-1]
	}
	return iso.defaultContext
}

// LowMemoryNotification asks the runtime to collect garbage. Weak callbacks
// run from inside this call.
func (iso *Isolate) LowMemoryNotification() {
	iso.rt.CollectGarbage()
	iso.checkAbort()
}

func (iso *Isolate) RequestGarbageCollectionForTesting() {
	iso.LowMemoryNotification()
}

// ThrowException raises v. A TryCatch opened in the running native callback
// catches it; otherwise it is thrown into script when the callback returns.
// Outside any callback it goes to the innermost TryCatch or is reported.
func (iso *Isolate) ThrowException(v Value) Value {
	if v.IsEmpty() {
		v = Undefined(iso)
	}
	iso.handleException(&backend.Exception{Value: v.s.value, Message: iso.exceptionText(v.s.value)})
	return Undefined(iso)
}

// exceptionText is the message of an error object, or the string form of
// any other value.
func (iso *Isolate) exceptionText(v backend.Value) string {
	if isObjectKind(iso.rt.Kind(v)) {
		if ctx := iso.GetCurrentContext(); ctx != nil && !ctx.disposed {
			if m, err := ctx.bc.Get(v, "message"); err == nil && iso.rt.Kind(m) == backend.KindString {
				return iso.rt.ToString(m)
			}
		}
	}
	return iso.rt.ToString(v)
}

type Stats struct {
	ArenaCursor   int
	ArenaCapacity int
	Templates     int
	ScopeDepth    int
	Contexts      int
	Persistents   int
}

func (iso *Isolate) Stats() Stats {
	return Stats{
		ArenaCursor:   iso.arena.pos,
		ArenaCapacity: iso.arena.capacity(),
		Templates:     len(iso.templates),
		ScopeDepth:    len(iso.scopes),
		Contexts:      len(iso.contexts),
		Persistents:   len(iso.persistents),
	}
}

// Dispose releases every live handle, persistent, template and context and
// closes the runtime. It is safe to call more than once.
func (iso *Isolate) Dispose() {
	if iso.disposed {
		return
	}
	iso.disposed = true
	for p := range iso.persistents {
		p.Reset()
	}
	for _, ft := range iso.templates {
		ft.data.Reset()
	}
	for ctx := range iso.contexts {
		ctx.Dispose()
	}
	iso.arena.releaseRange(0, iso.arena.pos, nil)
	iso.scopes = nil
	iso.tryCatches = nil
	iso.entered = nil
	if err := iso.rt.Close(); err != nil {
		iso.logger.Warn("close runtime", zap.Error(err))
	}
	exitAll(iso)
}

var (
	currentMu sync.Mutex
	current   []*Isolate
)

// IsolateScope marks an isolate as current until Exit.
type IsolateScope struct {
	iso    *Isolate
	depth  int
	exited bool
}

// Enter makes iso the current isolate. Scopes nest and must exit in reverse
// order.
func (iso *Isolate) Enter() *IsolateScope {
	currentMu.Lock()
	defer currentMu.Unlock()
	current = append(current, iso)
	return &IsolateScope{iso: iso, depth: len(current)}
}

func (s *IsolateScope) Exit() {
	if s.exited {
		return
	}
	currentMu.Lock()
	if len(current) != s.depth || current[s.depth-1] != s.iso {
		currentMu.Unlock()
		fatalf(s.iso, "isolate scope exited out of order")
	}
	current = current[:s.depth-1]
	s.exited = true
	currentMu.Unlock()
}

// Current returns the innermost entered isolate, or nil.
func Current() *Isolate {
	currentMu.Lock()
	defer currentMu.Unlock()
	if n := len(current); n > 0 {
		return current[n-1]
	}
	return nil
}

func exitAll(iso *Isolate) {
	currentMu.Lock()
	defer currentMu.Unlock()
	kept := current[:0]
	for _, c := range current {
		if c != iso {
			kept = append(kept, c)
		}
	}
	current = kept
}
