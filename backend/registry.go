package backend

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Options configures a runtime. Backends ignore fields that do not apply.
type Options struct {
	// Modules lists the script modules preloaded into every context. nil
	// selects every module the backend ships.
	Modules []string
	// HTTPClient is used by modules that perform requests.
	HTTPClient *http.Client
	// StackTraceLimit bounds the frames kept in exception stacks; 0 keeps
	// the backend default.
	StackTraceLimit int
	Logger          *zap.Logger
}

type Factory func(opts Options) (Runtime, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. Registering a name twice
// replaces the earlier factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Open creates a runtime from the backend registered under name.
func Open(name string, opts Options) (Runtime, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok || factory == nil {
		return nil, &Error{
			Kind:    ErrInit,
			Message: fmt.Sprintf("unknown backend %q", name),
		}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return factory(opts)
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
