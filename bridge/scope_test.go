package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/custody/vm"
)

func signal(className, message string) vm.Block {
	return func(v *vm.VM) vm.Value {
		v.Signal(className, message)
		return nil
	}
}

func newMachine(t *testing.T, opts ...Option) *vm.VM {
	t.Helper()
	machine := vm.NewVM()
	Install(machine, opts...)
	return machine
}

func TestProtectWithoutExceptionSkipsHandler(t *testing.T) {
	called := false
	err := Protect(func() {}, func(c *Capsule) error {
		called = true
		return nil
	})

	assert.NoError(t, err)
	assert.False(t, called)
}

func TestProtectPassesForeignPanics(t *testing.T) {
	assert.PanicsWithValue(t, "not a capsule", func() {
		_ = Protect(func() { panic("not a capsule") }, func(c *Capsule) error { return nil })
	})
}

func TestProtectReleasesWhenHandlerPanics(t *testing.T) {
	machine := newMachine(t)
	var held *Capsule

	machine.DefineNative("host", func(v *vm.VM, args ...vm.Value) vm.Value {
		assert.PanicsWithValue(t, "handler failed", func() {
			_ = Protect(func() {
				signal(vm.ErrorClass, "E")(v)
			}, func(c *Capsule) error {
				held = c
				panic("handler failed")
			})
		})
		return "done"
	})

	result, err := machine.Run(func(v *vm.VM) vm.Value { return v.CallNative("host") })

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	require.NotNil(t, held)
	assert.Equal(t, Cleared, held.Disposition())
	assert.Zero(t, machine.Exceptions.ExceptionCount())
}

// Runtime raises E1, the host catches C1 and restores it: the VM slot holds
// E1 for native propagation and C1's later release does nothing.
func TestScenarioRestore(t *testing.T) {
	rec := &sliceRecorder{}
	machine := newMachine(t, WithRecorder(rec))
	var c1 *Capsule
	var activeAfterRestore vm.ExceptionRef

	machine.DefineNative("host", func(v *vm.VM, args ...vm.Value) vm.Value {
		err := Protect(func() {
			signal("E1", "first")(v)
		}, func(c *Capsule) error {
			c1 = c
			if err := Rethrow(c); err != nil {
				return err
			}
			activeAfterRestore = v.Slot.Active()
			return nil
		})
		require.NoError(t, err)
		return nil
	})

	result, err := machine.Run(func(v *vm.VM) vm.Value {
		return v.On("E1", func(v *vm.VM, ex *vm.ExceptionObject) vm.Value {
			return "native handler saw " + ex.MessageText
		}, func(v *vm.VM) vm.Value {
			return v.CallNative("host")
		})
	})

	require.NoError(t, err)
	assert.Equal(t, "native handler saw first", result)
	require.NotNil(t, c1)
	assert.Equal(t, c1.Source(), activeAfterRestore)
	assert.Equal(t, Restored, c1.Disposition())

	var actions []Action
	for _, e := range rec.events {
		actions = append(actions, e.action)
	}
	assert.Equal(t, []Action{ActionRaise, ActionRestore}, actions)
}

// Runtime raises E2, the host logs it and lets C2 go: the VM slot is cleared
// and no exception remains.
func TestScenarioDispose(t *testing.T) {
	machine := newMachine(t)
	var c2 *Capsule

	machine.DefineNative("host", func(v *vm.VM, args ...vm.Value) vm.Value {
		err := Protect(func() {
			signal("E2", "second")(v)
		}, func(c *Capsule) error {
			c2 = c
			t.Logf("host handled %v", c)
			return nil
		})
		require.NoError(t, err)
		return "host recovered"
	})

	result, err := machine.Run(func(v *vm.VM) vm.Value { return v.CallNative("host") })

	require.NoError(t, err)
	assert.Equal(t, "host recovered", result)
	require.NotNil(t, c2)
	assert.Equal(t, Cleared, c2.Disposition())
	assert.False(t, machine.Slot.IsActive())
	assert.Empty(t, machine.Slot.Held())
	assert.Zero(t, machine.Exceptions.ExceptionCount())
}

// Two sequential raises are disposed independently.
func TestScenarioSequentialRaises(t *testing.T) {
	machine := newMachine(t)
	var capsules []*Capsule
	restoreNext := true

	machine.DefineNative("host", func(v *vm.VM, args ...vm.Value) vm.Value {
		_ = Protect(func() {
			signal(args[0].(string), "")(v)
		}, func(c *Capsule) error {
			capsules = append(capsules, c)
			if restoreNext {
				return c.Restore()
			}
			return nil
		})
		return "ok"
	})

	_, err := machine.Run(func(v *vm.VM) vm.Value { return v.CallNative("host", "E1") })
	var ue *vm.UncaughtError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "E1", ue.ClassName)

	restoreNext = false
	result, err := machine.Run(func(v *vm.VM) vm.Value { return v.CallNative("host", "E2") })
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	require.Len(t, capsules, 2)
	assert.NotEqual(t, capsules[0].Source(), capsules[1].Source())
	assert.Equal(t, Restored, capsules[0].Disposition())
	assert.Equal(t, Cleared, capsules[1].Disposition())
	assert.Zero(t, machine.Exceptions.ExceptionCount())
}

// A capsule the host never catches propagates to the VM's host boundary,
// which restores it so the VM handles the exception natively.
func TestUncaughtCapsulePropagatesNatively(t *testing.T) {
	rec := &sliceRecorder{}
	machine := newMachine(t, WithRecorder(rec))

	machine.DefineNative("host", func(v *vm.VM, args ...vm.Value) vm.Value {
		return signal("E3", "unhandled by host")(v)
	})

	result, err := machine.Run(func(v *vm.VM) vm.Value {
		return v.On("E3", func(v *vm.VM, ex *vm.ExceptionObject) vm.Value {
			return ex.MessageText
		}, func(v *vm.VM) vm.Value {
			return v.CallNative("host")
		})
	})

	require.NoError(t, err)
	assert.Equal(t, "unhandled by host", result)
	require.Len(t, rec.events, 2)
	assert.Equal(t, ActionRestore, rec.events[1].action)
}

func TestTryReturnsScriptError(t *testing.T) {
	machine := newMachine(t)
	var tryErr error

	machine.DefineNative("host", func(v *vm.VM, args ...vm.Value) vm.Value {
		tryErr = Try(func() { signal("ZeroDivide", "by zero")(v) })
		return nil
	})

	_, err := machine.Run(func(v *vm.VM) vm.Value { return v.CallNative("host") })
	require.NoError(t, err)

	var se *ScriptError
	require.ErrorAs(t, tryErr, &se)
	assert.Equal(t, "ZeroDivide", se.ClassName)
	assert.Equal(t, "by zero", se.MessageText)
	assert.Equal(t, "script exception: ZeroDivide: by zero", se.Error())
	assert.Zero(t, machine.Exceptions.ExceptionCount())
}

func TestEarlyReturnFromRecoverReleases(t *testing.T) {
	machine := newMachine(t)
	var caught *Capsule

	machine.DefineNative("host", func(v *vm.VM, args ...vm.Value) (result vm.Value) {
		defer func() {
			c, ok := Recover(recover())
			if !ok {
				return
			}
			defer c.Release()
			caught = c
			if c.Exception().ClassName == "Ignored" {
				result = "ignored"
				return
			}
			result = "handled"
		}()
		return signal("Ignored", "")(v)
	})

	result, err := machine.Run(func(v *vm.VM) vm.Value { return v.CallNative("host") })

	require.NoError(t, err)
	assert.Equal(t, "ignored", result)
	assert.Equal(t, Cleared, caught.Disposition())
	assert.Zero(t, machine.Exceptions.ExceptionCount())
}

func TestReleasedCapsuleEscapingIsNotRestored(t *testing.T) {
	machine := newMachine(t)
	var leaked *Capsule

	machine.DefineNative("host", func(v *vm.VM, args ...vm.Value) vm.Value {
		_ = Protect(func() { signal(vm.ErrorClass, "")(v) }, func(c *Capsule) error {
			leaked = c
			return nil
		})
		panic(leaked)
	})

	result, err := machine.Run(func(v *vm.VM) vm.Value { return v.CallNative("host") })

	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, Cleared, leaked.Disposition())
	assert.False(t, machine.Slot.IsActive())
}
