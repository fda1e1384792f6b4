package vm

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

// ErrUnknownNative is returned when a native function is not defined.
var ErrUnknownNative = errors.New("unknown native function")

// Block is a piece of VM code.
type Block func(v *VM) Value

// NativeFunc is a host function callable from VM code. While it runs the VM
// counts one more live host frame.
type NativeFunc func(v *VM, args ...Value) Value

// ThrowHook is called by the VM when a raise would cross a live host frame.
// The hook receives custody of the exception and must not return normally.
type ThrowHook func(ref ExceptionRef)

// DispatchTable holds the VM's replaceable entry points.
type DispatchTable struct {
	ThrowHook ThrowHook
}

// VM is a single-threaded script runtime. It owns the exception registry,
// the exception slot, and the handler stack.
type VM struct {
	Exceptions *ExceptionRegistry
	Slot       *ExceptionSlot

	dispatch  DispatchTable
	natives   map[string]NativeFunc
	handlers  *ExceptionHandler
	hostDepth int
	log       commonlog.Logger
}

// NewVM creates a VM with no throw hook installed.
func NewVM() *VM {
	registry := NewExceptionRegistry()
	return &VM{
		Exceptions: registry,
		Slot:       newExceptionSlot(registry),
		natives:    make(map[string]NativeFunc),
		log:        commonlog.GetLogger("custody.vm"),
	}
}

// ---------------------------------------------------------------------------
// Dispatch table
// ---------------------------------------------------------------------------

// SetThrowHook installs hook as the VM's throw hook, replacing any previous
// one. A nil hook restores plain native propagation.
func (vm *VM) SetThrowHook(hook ThrowHook) {
	vm.dispatch.ThrowHook = hook
}

// HasThrowHook reports whether a throw hook is installed.
func (vm *VM) HasThrowHook() bool {
	return vm.dispatch.ThrowHook != nil
}

// HostDepth returns the number of live host frames.
func (vm *VM) HostDepth() int {
	return vm.hostDepth
}

// ClearException forgets a held exception. See ExceptionSlot.ClearException.
func (vm *VM) ClearException(ref ExceptionRef) error {
	return vm.Slot.ClearException(ref)
}

// RestoreException re-arms a held exception. See ExceptionSlot.RestoreException.
func (vm *VM) RestoreException(ref ExceptionRef) error {
	return vm.Slot.RestoreException(ref)
}

// Exception returns the registered exception for ref, or nil.
func (vm *VM) Exception(ref ExceptionRef) *ExceptionObject {
	return vm.Exceptions.GetException(ref)
}

// ---------------------------------------------------------------------------
// Native functions (host frames)
// ---------------------------------------------------------------------------

// DefineNative registers fn under name, replacing any previous definition.
func (vm *VM) DefineNative(name string, fn NativeFunc) {
	vm.natives[name] = fn
}

// CallNative calls the native function name from VM code. Signals
// MessageNotUnderstood when name is not defined.
func (vm *VM) CallNative(name string, args ...Value) Value {
	fn, ok := vm.natives[name]
	if !ok {
		vm.Signal(MessageNotUnderstoodClass, fmt.Sprintf("%s: %q", ErrUnknownNative, name))
	}
	return vm.callHost(func() Value { return fn(vm, args...) })
}

// callHost runs fn as a host frame. A HostException escaping fn is handed
// back to the VM; afterwards any active exception resumes native
// propagation from the call site.
func (vm *VM) callHost(fn func() Value) Value {
	var result Value
	vm.hostDepth++
	depth := vm.hostDepth

	func() {
		defer func() {
			vm.hostDepth = depth - 1
			if r := recover(); r != nil {
				hx, ok := r.(HostException)
				if !ok {
					panic(r)
				}
				if err := hx.Restore(); err != nil {
					vm.log.Warningf("host frame let %v escape after disposing it: %s", hx.Source(), err)
				}
			}
		}()
		result = fn()
	}()

	if vm.Slot.IsActive() {
		vm.propagate(vm.Slot.Active())
	}
	return result
}

// ---------------------------------------------------------------------------
// Entry point
// ---------------------------------------------------------------------------

// Run evaluates body as a top-level entry from host code. An exception that
// escapes every handler is freed and reported as *UncaughtError. Other
// panics are reported as errors, and an exception left armed by them is
// freed so it cannot resurface in a later call.
func (vm *VM) Run(body Block) (result Value, err error) {
	savedDepth, savedHandlers, savedActive := vm.hostDepth, vm.handlers, vm.Slot.Active()
	vm.hostDepth, vm.handlers = 0, nil

	defer func() {
		vm.hostDepth, vm.handlers = savedDepth, savedHandlers
		r := recover()
		if r == nil {
			return
		}
		switch x := r.(type) {
		case SignaledException:
			err = vm.uncaught(x.Ref)
		case HostException:
			ref := x.Source()
			if restoreErr := x.Restore(); restoreErr != nil {
				err = fmt.Errorf("panic: %v", x)
				vm.discardArmed(savedActive)
				return
			}
			err = vm.uncaught(ref)
		default:
			err = fmt.Errorf("panic: %v", r)
			vm.discardArmed(savedActive)
		}
	}()

	return body(vm), nil
}

// discardArmed frees an exception armed since entry and puts back the
// exception that was active when Run was entered.
func (vm *VM) discardArmed(saved ExceptionRef) {
	if ref := vm.Slot.Active(); ref.IsValid() && ref != saved {
		vm.Slot.take()
		if ex := vm.Exceptions.GetException(ref); ex != nil {
			ex.Handled = true
		}
		vm.log.Warningf("discarding %v abandoned by a host panic", ref)
	}
	vm.Slot.active = saved
	if n := vm.Exceptions.SweepExceptions(); n > 0 {
		vm.log.Debugf("swept %d handled exceptions", n)
	}
}

func (vm *VM) uncaught(ref ExceptionRef) error {
	if vm.Slot.Active() == ref {
		vm.Slot.take()
	}
	ue := &UncaughtError{Ref: ref, ClassName: ExceptionClass}
	if ex := vm.Exceptions.GetException(ref); ex != nil {
		ue.ClassName, ue.MessageText = ex.ClassName, ex.MessageText
		ex.Handled = true
	}
	vm.Exceptions.UnregisterException(ref)
	vm.log.Debugf("uncaught %v", ref)
	return ue
}
