package vm

import (
	"errors"
	"fmt"
	"slices"
)

// ErrStaleRef is returned when a slot operation names an exception the VM
// no longer holds on behalf of host code.
var ErrStaleRef = errors.New("exception reference is not held by the host")

// ExceptionSlot is the VM's "current exception" cell.
//
// At most one exception is active at a time; it is the one the VM's native
// handler dispatch is propagating. When a raise crosses into host code the
// active exception is suspended into host custody (held) until the host
// either clears it or restores it. The slot is single-threaded, like the VM
// that owns it.
type ExceptionSlot struct {
	registry *ExceptionRegistry
	active   ExceptionRef
	held     []ExceptionRef
}

func newExceptionSlot(registry *ExceptionRegistry) *ExceptionSlot {
	return &ExceptionSlot{registry: registry}
}

// Active returns the exception currently propagating natively, or NoException.
func (s *ExceptionSlot) Active() ExceptionRef {
	return s.active
}

// IsActive reports whether an exception is propagating natively.
func (s *ExceptionSlot) IsActive() bool {
	return s.active.IsValid()
}

// Held returns the exceptions currently in host custody, oldest first.
func (s *ExceptionSlot) Held() []ExceptionRef {
	return slices.Clone(s.held)
}

// IsHeld reports whether ref is in host custody.
func (s *ExceptionSlot) IsHeld(ref ExceptionRef) bool {
	return slices.Contains(s.held, ref)
}

// arm makes ref the active exception. An exception that was already active
// is chained as the previous exception of ref.
func (s *ExceptionSlot) arm(ref ExceptionRef) {
	if s.active.IsValid() && s.active != ref {
		if ex := s.registry.GetException(ref); ex != nil {
			ex.Previous = s.active
		}
	}
	s.active = ref
}

// take removes the active exception from the slot without freeing it.
func (s *ExceptionSlot) take() ExceptionRef {
	ref := s.active
	s.active = NoException
	return ref
}

// suspend moves the active exception into host custody.
func (s *ExceptionSlot) suspend() ExceptionRef {
	ref := s.take()
	if ref.IsValid() {
		s.held = append(s.held, ref)
	}
	return ref
}

func (s *ExceptionSlot) release(ref ExceptionRef) error {
	i := slices.Index(s.held, ref)
	if i < 0 {
		return fmt.Errorf("%w: %v", ErrStaleRef, ref)
	}
	s.held = slices.Delete(s.held, i, i+1)
	return nil
}

// ClearException tells the VM that a held exception was fully handled
// outside its propagation path. The VM forgets it and frees the object.
func (s *ExceptionSlot) ClearException(ref ExceptionRef) error {
	if err := s.release(ref); err != nil {
		return err
	}
	if ex := s.registry.GetException(ref); ex != nil {
		ex.Handled = true
	}
	s.registry.UnregisterException(ref)
	return nil
}

// RestoreException hands a held exception back to the VM. It becomes the
// active exception again and resumes native propagation when control
// returns to VM code.
func (s *ExceptionSlot) RestoreException(ref ExceptionRef) error {
	if err := s.release(ref); err != nil {
		return err
	}
	s.arm(ref)
	return nil
}
