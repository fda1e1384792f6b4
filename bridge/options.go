package bridge

import (
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/chazu/custody/vm"
)

const tracerName = "github.com/chazu/custody/bridge"

// Action names a custody event.
type Action string

const (
	ActionRaise   Action = "raise"   // the hook built a capsule
	ActionRestore Action = "restore" // custody returned to the VM
	ActionClear   Action = "clear"   // the VM slot was cleared on release
	ActionMisuse  Action = "misuse"  // Restore called on a disposed capsule
)

// Recorder receives every custody event. Implementations must be safe for
// concurrent use when shared between VMs.
type Recorder interface {
	Record(capsule uuid.UUID, ref vm.ExceptionRef, action Action)
}

type config struct {
	strict         bool
	logger         commonlog.Logger
	metrics        *Metrics
	tracerProvider trace.TracerProvider
	recorder       Recorder
}

func defaultConfig() config {
	return config{
		logger:         commonlog.GetLogger("custody.bridge"),
		tracerProvider: noop.NewTracerProvider(),
	}
}

// Option configures a Bridge during Install.
type Option func(*config)

// WithStrict makes Restore on an already disposed capsule panic instead of
// returning ErrAlreadyDisposed.
func WithStrict(strict bool) Option { return func(c *config) { c.strict = strict } }

// WithLogger sets the logger used for custody diagnostics.
func WithLogger(logger commonlog.Logger) Option { return func(c *config) { c.logger = logger } }

// WithMetrics counts capsules and their dispositions.
func WithMetrics(m *Metrics) Option { return func(c *config) { c.metrics = m } }

// WithTracerProvider traces every capsule lifetime as one span.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracerProvider = tp }
}

// WithRecorder sends every custody event to r.
func WithRecorder(r Recorder) Option { return func(c *config) { c.recorder = r } }
