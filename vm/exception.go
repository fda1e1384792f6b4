package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Exception Handling Infrastructure
// ---------------------------------------------------------------------------

// ExceptionClass is the catch-all class name. A handler installed for it
// (or for "") handles every exception.
const ExceptionClass = "Exception"

// Well-known class names signaled by the VM itself.
const (
	ErrorClass                = "Error"
	MessageNotUnderstoodClass = "MessageNotUnderstood"
)

// ExceptionObject represents a signaled exception instance.
type ExceptionObject struct {
	ClassName   string       // The exception class
	MessageText string       // Optional message/description
	Tag         Value        // Optional tag for identification
	Signaler    Value        // The object that signaled the exception
	Previous    ExceptionRef // Exception displaced when this one was re-armed
	Handled     bool         // Whether the exception has been handled
}

// Description returns "Class: message", or "a Class" without a message.
func (ex *ExceptionObject) Description() string {
	className := ex.ClassName
	if className == "" {
		className = ExceptionClass
	}
	if ex.MessageText != "" {
		return fmt.Sprintf("%s: %s", className, ex.MessageText)
	}
	return "a " + className
}

// Handler is the body of an on:do: style handler. It receives the exception
// being handled; its return value becomes the result of the protected block.
type Handler func(v *VM, ex *ExceptionObject) Value

// ExceptionHandler represents an installed exception handler.
type ExceptionHandler struct {
	ClassName string            // The exception class this handler catches
	Handle    Handler           // Evaluated with the exception
	HostDepth int               // Host frames live when the handler was installed
	Prev      *ExceptionHandler // Link to previous handler (stack)
}

func (h *ExceptionHandler) handles(className string) bool {
	return h.ClassName == "" || h.ClassName == ExceptionClass || h.ClassName == className
}

// ---------------------------------------------------------------------------
// Exception signaling (uses Go panic/recover)
// ---------------------------------------------------------------------------

// SignaledException is panicked when an exception propagates natively
// through VM code.
type SignaledException struct {
	Ref    ExceptionRef
	Object *ExceptionObject
}

// HostException is what an installed throw hook panics with. The VM's host
// boundary recognizes it and hands custody back to native propagation.
type HostException interface {
	error
	Source() ExceptionRef
	Restore() error
}

// UncaughtError is returned by Run when an exception escapes every handler.
type UncaughtError struct {
	Ref         ExceptionRef
	ClassName   string
	MessageText string
}

func (e *UncaughtError) Error() string {
	ex := ExceptionObject{ClassName: e.ClassName, MessageText: e.MessageText}
	return "uncaught exception: " + ex.Description()
}

// ---------------------------------------------------------------------------
// Handler stack
// ---------------------------------------------------------------------------

// PushExceptionHandler adds a handler to the exception stack.
func (vm *VM) PushExceptionHandler(handler *ExceptionHandler) {
	handler.Prev = vm.handlers
	vm.handlers = handler
}

// PopExceptionHandler removes the top handler from the stack.
func (vm *VM) PopExceptionHandler() *ExceptionHandler {
	if vm.handlers == nil {
		return nil
	}
	handler := vm.handlers
	vm.handlers = handler.Prev
	return handler
}

// FindHandler searches for a handler that catches className without
// crossing a host frame. Returns nil if no handler is found.
func (vm *VM) FindHandler(className string) *ExceptionHandler {
	for h := vm.handlers; h != nil && h.HostDepth == vm.hostDepth; h = h.Prev {
		if h.handles(className) {
			return h
		}
	}
	return nil
}

// unwindHandlersTo removes handler and every handler installed after it.
func (vm *VM) unwindHandlersTo(handler *ExceptionHandler) {
	for h := vm.handlers; h != nil; h = h.Prev {
		if h == handler {
			vm.handlers = handler.Prev
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Signal / propagate
// ---------------------------------------------------------------------------

// Signal creates an exception, arms the slot with it and propagates it.
// Signal does not return.
func (vm *VM) Signal(className, messageText string) {
	vm.SignalObject(&ExceptionObject{ClassName: className, MessageText: messageText})
}

// SignalObject registers ex and propagates it. SignalObject does not return.
func (vm *VM) SignalObject(ex *ExceptionObject) {
	ref := vm.Exceptions.RegisterException(ex)
	vm.Slot.arm(ref)
	vm.log.Debugf("signal %v (%s)", ref, ex.Description())
	vm.propagate(ref)
}

// propagate continues propagation of the active exception ref.
//
// A handler installed since the innermost host frame catches it natively.
// Otherwise, when host frames are live and a throw hook is installed, the
// exception is suspended into host custody and the hook takes over.
func (vm *VM) propagate(ref ExceptionRef) {
	ex := vm.Exceptions.GetException(ref)
	if ex == nil {
		panic(fmt.Sprintf("vm: propagate: %v is not registered", ref))
	}

	if vm.FindHandler(ex.ClassName) == nil && vm.hostDepth > 0 && vm.dispatch.ThrowHook != nil {
		vm.Slot.suspend()
		vm.dispatch.ThrowHook(ref)

		// A hook must hand control to host unwinding. If it returned anyway,
		// take custody back and keep propagating natively.
		vm.log.Warningf("throw hook returned for %v; resuming native propagation", ref)
		if err := vm.Slot.RestoreException(ref); err != nil {
			vm.log.Errorf("cannot re-arm %v: %s", ref, err)
		}
	}

	panic(SignaledException{Ref: ref, Object: ex})
}

// ---------------------------------------------------------------------------
// on:do:
// ---------------------------------------------------------------------------

// On evaluates body with a handler for className installed. If body signals
// a matching exception that does not cross a host frame, handle is evaluated
// with it and its result is returned.
func (vm *VM) On(className string, handle Handler, body Block) Value {
	handler := &ExceptionHandler{
		ClassName: className,
		Handle:    handle,
		HostDepth: vm.hostDepth,
	}
	vm.PushExceptionHandler(handler)

	var result Value
	var signaled *SignaledException
	func() {
		defer func() {
			vm.unwindHandlersTo(handler)
			if r := recover(); r != nil {
				sig, ok := r.(SignaledException)
				if !ok || !handler.handles(sig.Object.ClassName) {
					panic(r)
				}
				signaled = &sig
			}
		}()
		result = body(vm)
	}()

	if signaled == nil {
		return result
	}
	return vm.dispatchHandler(handler, signaled.Ref)
}

func (vm *VM) dispatchHandler(handler *ExceptionHandler, ref ExceptionRef) Value {
	if vm.Slot.Active() == ref {
		vm.Slot.take()
	}
	ex := vm.Exceptions.GetException(ref)
	defer func() {
		ex.Handled = true
		vm.Exceptions.UnregisterException(ref)
	}()
	return handler.Handle(vm, ex)
}

// Ensure evaluates body, then always evaluates ensureBlock, re-panicking
// whatever body panicked with.
func (vm *VM) Ensure(body Block, ensureBlock Block) Value {
	var result Value
	var didPanic bool
	var panicValue interface{}

	func() {
		defer func() {
			if r := recover(); r != nil {
				didPanic = true
				panicValue = r
			}
			ensureBlock(vm)
		}()
		result = body(vm)
	}()

	if didPanic {
		panic(panicValue)
	}
	return result
}
