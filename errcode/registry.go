package errcode

import (
	"fmt"
	"sync"
)

// Registry guards against two errors sharing one code
type Registry struct {
	mu    sync.RWMutex
	codes map[int]string // code -> module:msgKey
}

var globalRegistry = &Registry{codes: make(map[int]string)}

// Register adds err to the global registry and returns it.
// It panics on a conflicting code so collisions surface at init time.
func Register(err *LayeredError) *LayeredError {
	return globalRegistry.Register(err)
}

func (r *Registry) Register(err *LayeredError) *LayeredError {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := err.Module() + ":" + err.MsgKey()
	if existing, ok := r.codes[err.Code()]; ok && existing != key {
		panic(fmt.Sprintf("error code conflict: %d is registered as %s, cannot register as %s", err.Code(), existing, key))
	}
	r.codes[err.Code()] = key
	return err
}

// GetAllRegisteredCodes returns a copy of the global registry
func GetAllRegisteredCodes() map[int]string {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	codes := make(map[int]string, len(globalRegistry.codes))
	for k, v := range globalRegistry.codes {
		codes[k] = v
	}
	return codes
}
