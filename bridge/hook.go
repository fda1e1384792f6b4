// Package bridge transfers custody of VM exceptions into Go host code.
//
// Install points a VM's throw hook at the bridge. From then on, an exception
// the VM raises while a native function is on the call stack reaches Go as a
// panic carrying a *Capsule. The capsule owns the decision of what happens to
// the VM's exception slot: Restore hands the exception back to the VM, and
// Release (normally deferred) clears it. Exactly one of the two reaches the
// VM per capsule.
//
//	err := bridge.Protect(func() {
//		callIntoScript(machine)
//	}, func(c *bridge.Capsule) error {
//		log.Print(c)
//		return nil // released on return: the VM forgets the exception
//	})
package bridge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chazu/custody/vm"
)

// Runtime is the VM surface the bridge needs. *vm.VM implements it.
type Runtime interface {
	SetThrowHook(hook vm.ThrowHook)
	ClearException(ref vm.ExceptionRef) error
	RestoreException(ref vm.ExceptionRef) error
	Exception(ref vm.ExceptionRef) *vm.ExceptionObject
}

// Bridge is an installed throw hook and the policy its capsules follow.
type Bridge struct {
	runtime  Runtime
	strict   bool
	log      commonlog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	recorder Recorder
}

// Install points rt's throw hook at a new bridge and returns it. It is meant
// to run once while the embedding sets up the VM, before any script code
// executes. Installing again replaces the hook; the last installation wins.
func Install(rt Runtime, opts ...Option) *Bridge {
	b := newBridge(rt, opts...)
	rt.SetThrowHook(b.intercept)
	b.log.Debug("throw hook installed", "strict", b.strict)
	return b
}

func newBridge(rt Runtime, opts ...Option) *Bridge {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Bridge{
		runtime:  rt,
		strict:   cfg.strict,
		log:      cfg.logger,
		metrics:  cfg.metrics,
		tracer:   cfg.tracerProvider.Tracer(tracerName),
		recorder: cfg.recorder,
	}
}

// intercept is the throw hook. It never returns: custody of ref leaves the
// VM inside a panicking *Capsule.
func (b *Bridge) intercept(ref vm.ExceptionRef) {
	if !ref.IsValid() {
		panic(fmt.Sprintf("bridge: throw hook called with %v", ref))
	}
	panic(b.newCapsule(ref))
}

func (b *Bridge) newCapsule(ref vm.ExceptionRef) *Capsule {
	c := &Capsule{
		id:     uuid.New(),
		source: ref,
		bridge: b,
	}
	_, c.span = b.tracer.Start(context.Background(), "custody.capsule",
		trace.WithAttributes(
			attribute.String("custody.capsule", c.id.String()),
			attribute.String("custody.ref", ref.String()),
		))

	b.metrics.raised()
	b.record(c, ActionRaise)
	b.log.Debugf("capsule %s took custody of %v", c.id, ref)
	return c
}

func (b *Bridge) record(c *Capsule, action Action) {
	if b.recorder != nil {
		b.recorder.Record(c.id, c.source, action)
	}
}
