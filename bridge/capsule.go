package bridge

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chazu/custody/vm"
)

var _ vm.HostException = (*Capsule)(nil)

// ErrAlreadyDisposed is returned by Restore on a capsule that was already
// restored or released.
var ErrAlreadyDisposed = errors.New("bridge: capsule already disposed")

// Disposition records what became of a capsule's exception.
type Disposition int

const (
	Pending  Disposition = iota // custody is with the host
	Restored                    // handed back to the VM
	Cleared                     // released without restoring; the VM forgot it
)

func (d Disposition) String() string {
	switch d {
	case Pending:
		return "pending"
	case Restored:
		return "restored"
	case Cleared:
		return "cleared"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}

// Capsule holds custody of one VM exception on the host side. It is created
// by the throw hook exactly once per intercepted raise and panicked into host
// code.
//
// The capsule never owns the exception object. It only tells the VM, exactly
// once, either to resume propagating it (Restore) or to forget it (Release
// while still pending). Obtain a capsule with Recover or Protect and defer
// its Release immediately.
//
// A capsule belongs to the goroutine running its VM and is not safe for
// concurrent use.
type Capsule struct {
	id          uuid.UUID
	source      vm.ExceptionRef
	disposition Disposition
	bridge      *Bridge
	span        trace.Span
}

// ID identifies the capsule in logs, traces and journals.
func (c *Capsule) ID() uuid.UUID { return c.id }

// Source returns the borrowed exception reference.
func (c *Capsule) Source() vm.ExceptionRef { return c.source }

// Disposition returns the capsule's current disposition.
func (c *Capsule) Disposition() Disposition { return c.disposition }

// Exception returns the VM's exception object while the capsule is pending,
// and nil once custody has ended.
func (c *Capsule) Exception() *vm.ExceptionObject {
	if c.disposition != Pending {
		return nil
	}
	return c.bridge.runtime.Exception(c.source)
}

func (c *Capsule) Error() string {
	if ex := c.Exception(); ex != nil {
		return "script exception: " + ex.Description()
	}
	return fmt.Sprintf("script exception: %v (%s)", c.source, c.disposition)
}

// Restore hands the exception back to the VM, which resumes propagating it
// natively once control returns to VM code. It must not be called more than
// once per capsule: later calls, and calls after Release, leave the VM alone
// and return ErrAlreadyDisposed (or panic on a strict bridge).
func (c *Capsule) Restore() error {
	if c.disposition != Pending {
		return c.misuse()
	}
	c.disposition = Restored

	b := c.bridge
	if err := b.runtime.RestoreException(c.source); err != nil {
		b.log.Errorf("capsule %s: restore %v: %s", c.id, c.source, err)
		c.finish(err)
		return fmt.Errorf("bridge: restore %v: %w", c.source, err)
	}
	b.log.Debugf("capsule %s restored %v", c.id, c.source)
	c.finish(nil)
	return nil
}

// Release ends the capsule's lifetime. A pending capsule clears the VM's
// exception slot; a restored or released capsule does nothing. Release is
// meant to be deferred and is safe to call any number of times.
func (c *Capsule) Release() {
	if c.disposition != Pending {
		return
	}
	c.disposition = Cleared

	b := c.bridge
	if err := b.runtime.ClearException(c.source); err != nil {
		b.log.Errorf("capsule %s: clear %v: %s", c.id, c.source, err)
		c.finish(err)
		return
	}
	b.log.Debugf("capsule %s cleared %v", c.id, c.source)
	c.finish(nil)
}

// finish runs once, on the single disposal of the capsule.
func (c *Capsule) finish(err error) {
	b := c.bridge
	action := ActionClear
	if c.disposition == Restored {
		action = ActionRestore
	}
	b.metrics.disposed(c.disposition)
	b.record(c, action)

	c.span.SetAttributes(attribute.String("custody.disposition", c.disposition.String()))
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	}
	c.span.End()
}

func (c *Capsule) misuse() error {
	b := c.bridge
	b.metrics.misused()
	b.record(c, ActionMisuse)

	err := fmt.Errorf("%w: %v is %s", ErrAlreadyDisposed, c.source, c.disposition)
	if b.strict {
		panic(err)
	}
	b.log.Warningf("capsule %s: Restore after disposal: %s", c.id, err)
	return err
}
