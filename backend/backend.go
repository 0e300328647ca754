// Package backend defines the primitives the isolate layer needs from a
// script runtime, and a registry of runtime implementations.
package backend

// Program is a compiled script bound to the context that compiled it.
type Program interface{}

// Value is an engine-owned value. Its representation belongs to the backend
// that produced it; callers only hand it back to the same backend.
type Value interface{}

type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindNumber
	KindString
	KindObject
	KindFunction
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindFunction:
		return "function"
	case KindExternal:
		return "external"
	}
	return "unknown"
}

// Call describes one invocation of a native function.
type Call struct {
	Context Context
	This    Value
	Args    []Value
	// Magic is the integer the function was created with.
	Magic int
	// Construct is set when the function is invoked as a constructor. The
	// receiver is then either a fresh object created by the engine or
	// undefined, in which case the callee allocates it.
	Construct bool
}

// Trampoline is the single entry point a backend calls for every native
// function it created. A non-nil error is raised as a script exception;
// *Thrown raises its value unchanged.
type Trampoline func(call *Call) (Value, error)

// Finalizer is invoked by the collector, at most once, with the user data of
// an object that became unreachable.
type Finalizer func(data interface{})

// FunctionOptions describes how a native function is exposed.
type FunctionOptions struct {
	Name string
	// Receiver marks functions installed as members or accessors. Backends
	// without an implicit receiver take it from the leading argument.
	Receiver bool
	// Properties requests a callable that can carry named properties.
	Properties bool
	// Constructor marks functions meant to be invoked with new. Engines
	// without a new operator treat every call of such a function as a
	// construct call; it implies Properties.
	Constructor bool
}

// WeakRef refers to an object without keeping it reachable.
type WeakRef interface {
	// Deref returns the target while the runtime can still reach it. It
	// reports false once the target was collected, and always on runtimes
	// where any host reference would keep the target alive.
	Deref() (Value, bool)
}

// Accessor is a getter/setter pair installed on an object.
type Accessor struct {
	Getter       Value
	Setter       Value
	Enumerable   bool
	Configurable bool
}

// Runtime is one engine instance. It is not safe for concurrent use.
type Runtime interface {
	NewContext(opaque interface{}) (Context, error)

	Undefined() Value
	Null() Value
	Bool(b bool) Value
	Number(f float64) Value
	String(s string) Value

	Kind(v Value) Kind
	ToString(v Value) string
	ToNumber(v Value) float64
	ToBool(v Value) bool
	ExternalValue(v Value) (interface{}, bool)
	Export(v Value) interface{}

	// IsRefCounted reports whether Retain and Release apply to v.
	IsRefCounted(v Value) bool
	Retain(v Value)
	Release(v Value)
	RefCount(v Value) int

	// SetUserData attaches data to an object, replacing previous data. It
	// returns false when v cannot carry user data.
	SetUserData(obj Value, data interface{}, fin Finalizer) bool
	UserData(obj Value) (interface{}, bool)
	// Weaken returns a reference to obj that its collector does not trace.
	Weaken(obj Value) WeakRef

	// CollectGarbage finalizes objects that are neither retained nor
	// reachable from script.
	CollectGarbage()

	Close() error
}

// Context is an execution context with its own global object.
type Context interface {
	Opaque() interface{}
	Runtime() Runtime
	Global() Value

	Compile(source, name string) (Program, error)
	Run(p Program) (Value, error)
	Eval(source, name string) (Value, error)
	Call(fn, this Value, args []Value) (Value, error)
	Construct(fn Value, args []Value) (Value, error)

	NewObject(proto Value) Value
	NewError(message string) Value
	NewExternal(v interface{}) Value
	NewFunction(opts FunctionOptions, magic int, tr Trampoline) Value
	ToValue(v interface{}) (Value, error)

	Get(obj Value, name string) (Value, error)
	Set(obj Value, name string, v Value) error
	GetIndex(obj Value, index uint32) (Value, error)
	SetIndex(obj Value, index uint32, v Value) error
	DefineAccessor(obj Value, name string, acc Accessor) error
	Prototype(obj Value) (Value, error)

	Close()
}
