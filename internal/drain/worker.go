// Package drain implements the rate-paced drain worker and its
// supervised restart policy (spec.md §4.5).
package drain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"ratesink/internal/cell"
	"ratesink/internal/metrics"
	"ratesink/internal/registry"
	"ratesink/pkg/clock"
)

// ErrInvalidRate is returned when the worker's rate timer was
// constructed with a zero rate; the supervisor treats this as a config
// error and does not keep restarting indefinitely, matching spec.md
// §4.5 step 1.
var ErrInvalidRate = errors.New("drain: invalid rate, worker will not run")

// Visitor is the subset of *registry.Registry the drain worker needs,
// narrowed for testability.
type Visitor interface {
	VisitAll(fn func(displayID string, c *cell.Cell))
}

var _ Visitor = (*registry.Registry)(nil)

// EmitterFactory resolves the Emitter a given source drains into. The
// topic-bus emitter hands back the same shared Emitter for every
// source; the container-file emitter hands back a distinct per-source
// Emitter (one file per DisplayId), so this is a factory rather than a
// single shared value.
type EmitterFactory interface {
	ForSource(displayID string) (cell.Emitter, error)
}

// emitterVariant derives a short metrics label from the concrete
// EmitterFactory type (e.g. "containerfile.Sink" -> "containerfile"),
// avoiding a direct dependency from this package on the emit variants.
func emitterVariant(f EmitterFactory) string {
	t := strings.TrimPrefix(fmt.Sprintf("%T", f), "*")
	if dot := strings.IndexByte(t, '.'); dot >= 0 {
		t = t[:dot]
	}
	return t
}

// SingleEmitter adapts one shared cell.Emitter into an EmitterFactory
// that ignores displayID, for emitters with no per-source state.
type SingleEmitter struct {
	Emitter cell.Emitter
}

// ForSource implements EmitterFactory.
func (s SingleEmitter) ForSource(string) (cell.Emitter, error) {
	return s.Emitter, nil
}

// Worker walks the registry at a configured frequency, serializing each
// dirty cell via the configured emitter factory. A single OS/goroutine
// per sink, launched and restarted by a Supervisor.
type Worker struct {
	registry Visitor
	emitters EmitterFactory
	rate     *clock.RateTimer
	logger   *logrus.Logger

	// SinkID labels this worker's metrics; defaults to "" when unset
	// (e.g. in tests that don't care about metrics).
	SinkID string
}

// NewWorker builds a drain worker over registry, publishing via
// emitters at rateHz.
func NewWorker(reg Visitor, emitters EmitterFactory, rateHz int, logger *logrus.Logger) *Worker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		registry: reg,
		emitters: emitters,
		rate:     clock.NewRateTimer(rateHz),
		logger:   logger,
	}
}

// Run executes the rate-paced drain loop until ctx is cancelled or a
// cell's emitter fails, in which case it returns the failure so the
// Supervisor can decide whether to restart. A cancelled context returns
// nil (clean shutdown, spec.md §5 "Cancellation and shutdown").
func (w *Worker) Run(ctx context.Context) error {
	if !w.rate.Valid() {
		w.logger.Error("drain worker: invalid rate, exiting")
		return ErrInvalidRate
	}
	w.rate.Start()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var emitErr error
		w.registry.VisitAll(func(displayID string, c *cell.Cell) {
			if emitErr != nil {
				return
			}
			emitter, err := w.emitters.ForSource(displayID)
			if err != nil {
				emitErr = fmt.Errorf("drain: resolving emitter for source %q: %w", displayID, err)
				return
			}
			if err := c.Emit(emitter); err != nil {
				emitErr = fmt.Errorf("drain: emit failed for source %q: %w", displayID, err)
			}
		})
		if emitErr != nil {
			metrics.EmitFailuresTotal.WithLabelValues(w.SinkID, emitterVariant(w.emitters)).Inc()
			return emitErr
		}
		metrics.DrainCyclesTotal.WithLabelValues(w.SinkID).Inc()
		if sizer, ok := w.registry.(metrics.RegistrySizer); ok {
			metrics.UpdateRegistrySize(w.SinkID, sizer)
		}

		w.rate.Step()
	}
}
