package isolate

import (
	"github.com/icyseptember2237/isolate/backend"
	"go.uber.org/zap"
)

// TryCatch captures script exceptions raised while it is the innermost
// trap. Exceptions raised inside a native callback entered after the trap
// belong to that callback and are rethrown into script instead.
//
//	tc := isolate.NewTryCatch(iso)
//	defer tc.Close()
type TryCatch struct {
	iso       *Isolate
	depth     int
	callDepth int
	verbose   bool
	rethrow   bool
	closed    bool

	ex       *backend.Exception
	retained bool
}

func NewTryCatch(iso *Isolate) *TryCatch {
	tc := &TryCatch{iso: iso, depth: len(iso.tryCatches) + 1, callDepth: len(iso.calls)}
	iso.tryCatches = append(iso.tryCatches, tc)
	return tc
}

func (tc *TryCatch) HasCaught() bool { return tc.ex != nil }

// Exception returns the caught value, or an empty handle.
func (tc *TryCatch) Exception() Value {
	if tc.ex == nil {
		return Value{}
	}
	return tc.iso.value(tc.ex.Value)
}

// Message describes where the caught exception was raised, nil when nothing
// was caught.
func (tc *TryCatch) Message() *Message {
	if tc.ex == nil {
		return nil
	}
	return &Message{text: tc.ex.Message, resource: tc.ex.Resource, line: tc.ex.Line}
}

// StackTrace returns the engine's stack text for the exception, Nothing
// when the engine recorded none.
func (tc *TryCatch) StackTrace(ctx *Context) Maybe[Value] {
	if tc.ex == nil || tc.ex.Stack == "" {
		return Nothing[Value]()
	}
	return Just(NewString(ctx.iso, tc.ex.Stack).Value)
}

// Err returns the caught exception as an error, nil when nothing was
// caught.
func (tc *TryCatch) Err() error {
	if tc.ex == nil {
		return nil
	}
	return tc.ex
}

// Reset discards the caught exception.
func (tc *TryCatch) Reset() {
	tc.clear()
	tc.rethrow = false
}

// SetVerbose makes the trap report what it catches as if it were uncaught.
func (tc *TryCatch) SetVerbose(v bool) { tc.verbose = v }

// ReThrow passes the caught exception on to the enclosing trap or native
// call when tc closes.
func (tc *TryCatch) ReThrow() Value {
	if tc.ex != nil {
		tc.rethrow = true
	}
	return Undefined(tc.iso)
}

func (tc *TryCatch) capture(ex *backend.Exception) {
	tc.clear()
	tc.ex = ex
	if tc.iso.rt.IsRefCounted(ex.Value) {
		tc.iso.rt.Retain(ex.Value)
		tc.retained = true
	}
}

func (tc *TryCatch) clear() {
	if tc.ex != nil && tc.retained && !tc.iso.disposed {
		tc.iso.rt.Release(tc.ex.Value)
	}
	tc.ex = nil
	tc.retained = false
}

func (tc *TryCatch) Close() {
	if tc.closed {
		return
	}
	iso := tc.iso
	tc.closed = true
	if iso.disposed {
		return
	}
	if n := len(iso.tryCatches); n != tc.depth || iso.tryCatches[n-1] != tc {
		fatalf(iso, "TryCatch closed out of order (depth %d, innermost %d)", tc.depth, n)
	}
	iso.tryCatches = iso.tryCatches[:tc.depth-1]
	ex := tc.ex
	rethrow := tc.rethrow
	if rethrow {
		// the next owner takes its own reference
		iso.handleException(ex)
	}
	tc.clear()
}

// Message locates an exception in the script source.
type Message struct {
	text     string
	resource string
	line     int
}

func (m *Message) Get() string                   { return m.text }
func (m *Message) GetScriptResourceName() string { return m.resource }
func (m *Message) GetLineNumber() int            { return m.line }

// handleException delivers ex to the innermost trap opened at the current
// native call depth, to the running native call, or to the log.
func (iso *Isolate) handleException(ex *backend.Exception) {
	if n := len(iso.tryCatches); n > 0 {
		tc := iso.tryCatches[n-1]
		if tc.callDepth == len(iso.calls) {
			tc.capture(ex)
			if tc.verbose {
				iso.report(ex)
			}
			return
		}
	}
	if n := len(iso.calls); n > 0 {
		call := iso.calls[n-1]
		call.exception = ex.Value
		call.hasException = true
		return
	}
	iso.report(ex)
}

func (iso *Isolate) report(ex *backend.Exception) {
	fields := []zap.Field{
		zap.String("resource", ex.Resource),
		zap.Int("line", ex.Line),
		zap.String("message", ex.Message),
	}
	if ex.Stack != "" {
		fields = append(fields, zap.String("stack", ex.Stack))
	}
	iso.logger.Error("uncaught exception", fields...)
}
