package drain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ratesink/internal/metrics"
)

// SupervisorConfig bounds how persistently a Supervisor restarts a
// crashing drain worker, matching spec.md §4.5's "supervised restart":
// a bounded number of attempts with a fixed backoff between them, not
// an unbounded crash loop.
type SupervisorConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultSupervisorConfig is the restart policy spec.md §4.5 names:
// up to 100 restarts, 50ms apart.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{MaxAttempts: 100, Backoff: 50 * time.Millisecond}
}

// Supervisor runs a drain Worker on its own goroutine, restarting it on
// crash (a returned error, or a recovered panic) up to MaxAttempts
// times. This is the Go analogue of a supervised thread: panic
// recovery stands in for the original's exception barrier around the
// drain loop.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *logrus.Logger

	wg   sync.WaitGroup
	done chan struct{}
}

// NewSupervisor builds a supervisor with cfg (zero-valued fields fall
// back to DefaultSupervisorConfig).
func NewSupervisor(cfg SupervisorConfig, logger *logrus.Logger) *Supervisor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultSupervisorConfig().MaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultSupervisorConfig().Backoff
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Supervisor{cfg: cfg, logger: logger, done: make(chan struct{})}
}

// Start launches worker under supervision. It returns immediately; call
// Wait to block until the supervised goroutine has exited (either
// because ctx was cancelled or because attempts were exhausted).
func (s *Supervisor) Start(ctx context.Context, worker *Worker) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.run(ctx, worker)
	}()
}

func (s *Supervisor) run(ctx context.Context, worker *Worker) {
	for restarts := 0; ; restarts++ {
		if ctx.Err() != nil {
			return
		}

		err := s.runOnce(ctx, worker)
		if err == nil {
			return
		}

		if errors.Is(err, ErrInvalidRate) {
			s.logger.WithField("sink_id", worker.SinkID).Error("drain worker stopped: invalid rate, not restarting")
			return
		}

		if restarts >= s.cfg.MaxAttempts {
			break
		}

		metrics.WorkerRestartsTotal.WithLabelValues(worker.SinkID).Inc()
		s.logger.WithFields(logrus.Fields{
			"attempt":      restarts + 1,
			"max_attempts": s.cfg.MaxAttempts,
			"error":        err,
		}).Error("drain worker crashed, restarting")

		if ctx.Err() != nil {
			return
		}

		select {
		case <-time.After(s.cfg.Backoff):
		case <-ctx.Done():
			return
		}
	}

	metrics.WorkerExhaustedTotal.WithLabelValues(worker.SinkID).Inc()
	s.logger.WithField("max_attempts", s.cfg.MaxAttempts).Error("drain worker exhausted restart attempts, giving up")
}

// runOnce executes one supervised attempt, converting a panic escaping
// worker.Run into an error so the caller's restart bookkeeping has a
// single code path for both crash flavors.
func (s *Supervisor) runOnce(ctx context.Context, worker *Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return worker.Run(ctx)
}

// Wait blocks until the supervised worker has stopped.
func (s *Supervisor) Wait() {
	<-s.done
	s.wg.Wait()
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return "drain: worker panicked: " + toString(e.value)
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "non-error panic value"
}
