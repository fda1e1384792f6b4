package bridge

import (
	"github.com/google/uuid"

	"github.com/chazu/custody/vm"
)

// ScriptError is a host-side snapshot of an exception the host disposed of.
// It stays valid after the VM has freed the exception.
type ScriptError struct {
	Capsule     uuid.UUID
	Ref         vm.ExceptionRef
	ClassName   string
	MessageText string
}

func (e *ScriptError) Error() string {
	ex := vm.ExceptionObject{ClassName: e.ClassName, MessageText: e.MessageText}
	return "script exception: " + ex.Description()
}

// Recover returns the capsule carried by a recovered panic value.
//
//	defer func() {
//		if c, ok := bridge.Recover(recover()); ok {
//			defer c.Release()
//			...
//		}
//	}()
//
// Values that are not capsules must be re-panicked by the caller.
func Recover(r any) (*Capsule, bool) {
	c, ok := r.(*Capsule)
	return c, ok
}

// Protect runs fn. If a capsule escapes fn, handle is called with it and the
// capsule is released afterwards on every path out of handle: normal return,
// error return, or panic. handle may Restore the capsule to give the
// exception back to the VM. Panics that are not capsules pass through
// untouched.
func Protect(fn func(), handle func(c *Capsule) error) error {
	var caught *Capsule

	func() {
		defer func() {
			if r := recover(); r != nil {
				c, ok := Recover(r)
				if !ok {
					panic(r)
				}
				caught = c
			}
		}()
		fn()
	}()

	if caught == nil {
		return nil
	}
	defer caught.Release()
	return handle(caught)
}

// Try runs fn and disposes of any escaping exception on the host side: the
// VM slot is cleared and the exception is returned as a *ScriptError.
func Try(fn func()) error {
	return Protect(fn, func(c *Capsule) error {
		return c.snapshot()
	})
}

// Rethrow hands c's exception back to the VM. Host code calls it before
// returning to VM code so the exception continues to propagate natively.
func Rethrow(c *Capsule) error {
	return c.Restore()
}

func (c *Capsule) snapshot() *ScriptError {
	se := &ScriptError{Capsule: c.id, Ref: c.source, ClassName: vm.ExceptionClass}
	if ex := c.Exception(); ex != nil {
		se.ClassName, se.MessageText = ex.ClassName, ex.MessageText
	}
	return se
}
