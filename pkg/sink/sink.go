// Package sink implements the public façade: assign, retract, write,
// composing the registry, the drain worker, and a pluggable emitter
// factory (spec.md §4.7).
package sink

import (
	"context"
	"io"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"ratesink/internal/cell"
	"ratesink/internal/drain"
	"ratesink/internal/metrics"
	"ratesink/internal/registry"
	"ratesink/pkg/clock"
	pkgreflect "ratesink/pkg/reflect"
	"ratesink/pkg/tracing"
)

// Config bundles a sink's construction parameters (spec.md §6).
type Config struct {
	// ID disables the sink entirely when empty: Initialize returns
	// false and every other operation becomes a no-op.
	ID string
	// RateHz is the drain worker's publish frequency; default 500.
	RateHz int
	// Reflector overrides the default struct reflector.
	Reflector pkgreflect.Reflector
	// Emitters resolves the Emitter a drained source writes into (see
	// internal/drain.EmitterFactory). Required.
	Emitters drain.EmitterFactory
	// Supervisor overrides the default restart policy.
	Supervisor drain.SupervisorConfig
	Logger     *logrus.Logger
	// Tracer instruments Assign with a span when non-nil. Optional; a
	// nil Tracer means Assign is not traced.
	Tracer *tracing.Manager
}

// Sink is the public facade composing the registry, drain worker, and
// supervisor behind the `assign`/`retract`/`write` operations.
type Sink struct {
	id       string
	rateHz   int
	logger   *logrus.Logger
	registry *registry.Registry
	emitters drain.EmitterFactory

	supervisor *drain.Supervisor
	cancel     context.CancelFunc
	tracer     *tracing.Manager

	mu          sync.Mutex
	initialized bool

	warnOnce sync.Map // registry.Key -> struct{}
}

// New builds a Sink from cfg. The sink does nothing until Initialize is
// called.
func New(cfg Config) *Sink {
	if cfg.Reflector == nil {
		cfg.Reflector = pkgreflect.StructReflector{}
	}
	if cfg.RateHz == 0 {
		cfg.RateHz = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	// V4: the names_version counter is seeded randomly so a restarted
	// consumer can never mistake a fresh counter for a continuation of
	// the previous process's schema.
	versions := cell.NewVersionCounter(clock.RandomUint32())
	versions.OnChurn = func() { metrics.NamesVersionChurnTotal.WithLabelValues(cfg.ID).Inc() }
	reg := registry.New(cfg.Reflector, versions)
	reg.OnCellContention = func(path string) { metrics.CellContentionTotal.WithLabelValues(cfg.ID, path).Inc() }

	return &Sink{
		id:         cfg.ID,
		logger:     cfg.Logger,
		registry:   reg,
		emitters:   cfg.Emitters,
		supervisor: drain.NewSupervisor(cfg.Supervisor, cfg.Logger),
		rateHz:     cfg.RateHz,
		tracer:     cfg.Tracer,
	}
}

// Initialize starts the drain worker under supervision. It returns
// false (without starting anything) when the sink id is empty or no
// emitter factory was configured; every other operation is then a
// no-op.
func (s *Sink) Initialize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id == "" {
		s.logger.Warn("sink: empty id, sink disabled")
		return false
	}
	if s.emitters == nil {
		s.logger.Error("sink: no emitter factory configured")
		return false
	}
	if s.initialized {
		return true
	}

	worker := drain.NewWorker(s.registry, s.emitters, s.rateHz, s.logger)
	worker.SinkID = s.id
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.supervisor.Start(ctx, worker)
	s.initialized = true
	return true
}

// Assign registers source under its own default id. Returns the
// resolved DisplayId and whether the sink accepted the call (false when
// not initialized).
func (s *Sink) Assign(source any, opts cell.Options) (string, bool) {
	return s.AssignAs("", source, opts)
}

// AssignAs registers source under userID (routes to
// registry.TryEmplace). A no-op when the sink was never initialized.
func (s *Sink) AssignAs(userID string, source any, opts cell.Options) (string, bool) {
	if !s.isInitialized() {
		return "", false
	}

	var span oteltrace.Span
	if s.tracer != nil {
		_, span = s.tracer.Start(context.Background(), "sink.assign",
			attribute.String("user_id", userID),
			attribute.String("type", reflect.TypeOf(source).String()),
		)
		defer span.End()
	}

	id, err := s.registry.TryEmplace(userID, source, opts, clock.NowNanos())
	if err != nil {
		if span != nil {
			tracing.RecordError(span, err)
		}
		s.logger.WithError(err).WithField("user_id", userID).Error("sink: assign failed")
		return "", false
	}
	return id, true
}

// AssignBatch applies Assign to every source in sources.
func (s *Sink) AssignBatch(sources ...any) {
	for _, src := range sources {
		s.Assign(src, cell.Options{})
	}
}

// Retract removes the cell registered for source under its default id.
func (s *Sink) Retract(source any) {
	s.RetractAs("", source)
}

// RetractAs removes the cell registered for source/userID, if any.
func (s *Sink) RetractAs(userID string, source any) {
	if !s.isInitialized() {
		return
	}
	s.registry.Erase(userID, source)
}

// RetractBatch applies Retract to every source in sources.
func (s *Sink) RetractBatch(sources ...any) {
	for _, src := range sources {
		s.Retract(src)
	}
}

// Write reflects source's current state and marks its cell dirty for
// the next drain cycle. ts of zero is replaced by the current wall
// clock. A source that was never assigned logs a warning (at most once
// per source) and is otherwise a no-op.
func (s *Sink) Write(source any, ts uint64) {
	s.WriteAs("", source, ts)
}

// WriteAs is Write for a source registered under an explicit user id.
func (s *Sink) WriteAs(userID string, source any, ts uint64) {
	if !s.isInitialized() {
		return
	}
	if ts == 0 {
		ts = clock.NowNanos()
	}

	found := s.registry.VisitOne(userID, source, func(_ string, c *cell.Cell) {
		c.Write(source, ts)
	})
	if !found {
		s.warnUnknown(userID, source)
	}
}

// WriteBatch applies Write to every source in sources, using ts=0 (the
// current wall clock) for each.
func (s *Sink) WriteBatch(sources ...any) {
	for _, src := range sources {
		s.Write(src, 0)
	}
}

func (s *Sink) warnUnknown(userID string, source any) {
	metrics.UnknownWriteTotal.WithLabelValues(s.id).Inc()

	key := registry.Key{Type: reflect.TypeOf(source), UserID: userID}
	if _, already := s.warnOnce.LoadOrStore(key, struct{}{}); already {
		return
	}
	s.logger.WithField("user_id", userID).Warn("sink: write to unassigned source")
}

// Close stops the drain worker and releases the emitter factory, if it
// implements io.Closer. Pending dirty cells are not flushed (spec.md's
// deliberately lossy shutdown contract); the emitter's own close path
// flushes whatever has already reached it.
func (s *Sink) Close() error {
	s.mu.Lock()
	initialized := s.initialized
	cancel := s.cancel
	s.mu.Unlock()

	if initialized && cancel != nil {
		cancel()
		s.supervisor.Wait()
	}

	if closer, ok := s.emitters.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Snapshot lists every registered source's DisplayId, current
// names_version, and field count, for the debug introspection
// endpoint.
func (s *Sink) Snapshot() []registry.SourceInfo {
	return s.registry.Snapshot()
}

func (s *Sink) isInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}
