package isolate

import (
	"fmt"

	"go.uber.org/zap"
)

// FatalError is the panic value raised when host code breaks the API
// contract: forcing an empty Maybe, touching an internal field out of range,
// creating a handle with no open scope, closing scopes out of order. The
// isolate that raised it must not be used again except to Dispose it.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return "isolate: fatal: " + e.Message
}

// fatalf logs the violation and panics. iso may be nil when no isolate is
// known, in which case the current isolate is used for logging.
func fatalf(iso *Isolate, format string, args ...interface{}) {
	err := &FatalError{Message: fmt.Sprintf(format, args...)}
	if iso == nil {
		iso = Current()
	}
	logger := zap.NewNop()
	if iso != nil {
		logger = iso.logger
		if iso.aborted == nil {
			iso.aborted = err
		}
	}
	logger.Error("fatal error", zap.String("reason", err.Message))
	panic(err)
}

// checkAbort re-raises a fatal error recorded inside a native callback. Script
// engines recover panics that cross them, so the record is consulted after
// every call into the backend.
func (iso *Isolate) checkAbort() {
	if iso.aborted != nil {
		panic(iso.aborted)
	}
}
