package engine

import (
	"strings"
	"sync"
)

// StateBackendFactory builds a backend from the full DSN it was
// registered for.
type StateBackendFactory func(dsn string) (StateBackend, error)

type backendRegistry struct {
	mu    sync.RWMutex
	state map[string]StateBackendFactory
}

var defaultBackendRegistry = &backendRegistry{
	state: map[string]StateBackendFactory{},
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// RegisterStateBackendFactory installs a factory for a DSN scheme.
// Registering again for the same scheme replaces the earlier factory.
func RegisterStateBackendFactory(scheme string, factory StateBackendFactory) {
	key := normalizeBackendScheme(scheme)
	if key == "" || factory == nil {
		return
	}
	defaultBackendRegistry.mu.Lock()
	defer defaultBackendRegistry.mu.Unlock()
	defaultBackendRegistry.state[key] = factory
}

func lookupStateBackendFactory(scheme string) (StateBackendFactory, bool) {
	defaultBackendRegistry.mu.RLock()
	defer defaultBackendRegistry.mu.RUnlock()
	factory, ok := defaultBackendRegistry.state[normalizeBackendScheme(scheme)]
	return factory, ok
}
