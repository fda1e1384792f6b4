package vm

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// ExceptionRegistry: VM-owned storage for signaled exceptions
// ---------------------------------------------------------------------------

// ExceptionRegistry owns every ExceptionObject a VM has signaled. Objects
// live here until the VM frees them: after a native handler ran, after an
// uncaught exception was reported, or when host code cleared the slot.
type ExceptionRegistry struct {
	exceptions   map[uint32]*ExceptionObject
	exceptionsMu sync.RWMutex
	exceptionID  atomic.Uint32
}

// NewExceptionRegistry creates an empty registry.
func NewExceptionRegistry() *ExceptionRegistry {
	r := &ExceptionRegistry{
		exceptions: make(map[uint32]*ExceptionObject),
	}
	// IDs start at 1 (0 could be confused with nil/uninitialized)
	r.exceptionID.Store(1)
	return r
}

// maxExceptionID is the largest ID a reference can carry below its marker.
const maxExceptionID = ^markerMask

// RegisterException adds an exception to the registry and returns its reference.
// IDs wrap within the reference's ID bits, skipping 0 and IDs still live.
func (r *ExceptionRegistry) RegisterException(ex *ExceptionObject) ExceptionRef {
	r.exceptionsMu.Lock()
	defer r.exceptionsMu.Unlock()

	if len(r.exceptions) >= int(maxExceptionID) {
		panic("vm: exception registry full")
	}
	for {
		id := r.exceptionID.Add(1) & maxExceptionID
		if id == 0 {
			continue
		}
		if _, live := r.exceptions[id]; live {
			continue
		}
		r.exceptions[id] = ex
		return FromExceptionID(id)
	}
}

// GetException retrieves an exception by reference.
func (r *ExceptionRegistry) GetException(ref ExceptionRef) *ExceptionObject {
	if !ref.IsValid() {
		return nil
	}
	r.exceptionsMu.RLock()
	defer r.exceptionsMu.RUnlock()
	return r.exceptions[ref.ID()]
}

// UnregisterException removes an exception from the registry.
func (r *ExceptionRegistry) UnregisterException(ref ExceptionRef) {
	r.exceptionsMu.Lock()
	delete(r.exceptions, ref.ID())
	r.exceptionsMu.Unlock()
}

// SweepExceptions removes handled exceptions from the registry.
// Returns the number of exceptions removed.
func (r *ExceptionRegistry) SweepExceptions() int {
	r.exceptionsMu.Lock()
	defer r.exceptionsMu.Unlock()

	count := 0
	for id, ex := range r.exceptions {
		if ex.Handled {
			delete(r.exceptions, id)
			count++
		}
	}
	return count
}

// ExceptionCount returns the number of registered exceptions.
func (r *ExceptionRegistry) ExceptionCount() int {
	r.exceptionsMu.RLock()
	defer r.exceptionsMu.RUnlock()
	return len(r.exceptions)
}
