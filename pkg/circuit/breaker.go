// Package circuit implements a classic closed/open/half-open circuit
// breaker, used by internal/emit/topicbus to stop hammering a broker
// that is already failing every publish.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// state is one of the three circuit breaker states.
type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker's trip/reset thresholds.
type BreakerConfig struct {
	Name             string        `yaml:"name"`
	FailureThreshold int           `yaml:"failure_threshold"`   // failure count that opens the breaker (each closed-state success decrements it by one)
	SuccessThreshold int           `yaml:"success_threshold"`   // half-open successes before closing
	Timeout          time.Duration `yaml:"timeout"`             // time spent open before a retry is allowed
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"` // calls allowed per half-open period (not released when a call returns)
}

// Breaker implements the circuit breaker pattern: once the failure
// count reaches FailureThreshold (a success while closed decrements it
// by one, so failures need not be consecutive), calls fail fast until Timeout
// elapses, then a bounded number of half-open probe calls decide
// whether to close again.
type Breaker struct {
	config BreakerConfig
	logger *logrus.Logger

	state         state
	failures      int64
	successes     int64
	requests      int64
	nextRetryTime time.Time

	halfOpenCalls     int
	halfOpenSuccesses int
	halfOpenStartTime time.Time
	maxHalfOpen       int

	mu sync.Mutex
}

// NewBreaker builds a Breaker from config, filling unset fields with
// defaults.
func NewBreaker(config BreakerConfig, logger *logrus.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 10
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Breaker{
		config:      config,
		logger:      logger,
		state:       stateClosed,
		maxHalfOpen: config.HalfOpenMaxCalls,
	}
}

// Execute runs fn under the breaker's protection. The lock is held only
// for the pre-check and the post-registration, never across fn itself,
// so concurrent callers run in parallel.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	b.requests++

	if b.state == stateOpen {
		if time.Now().Before(b.nextRetryTime) {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is open", b.config.Name)
		}
		b.setState(stateHalfOpen)
		b.halfOpenCalls = 0
		b.halfOpenSuccesses = 0
		b.halfOpenStartTime = time.Now()
	}

	if b.state == stateHalfOpen {
		// A half-open probe that never resolves (timeout/success/failure)
		// would wedge the breaker open forever; double the configured
		// timeout as a backstop and re-trip.
		halfOpenTimeout := b.config.Timeout * 2
		if time.Since(b.halfOpenStartTime) > halfOpenTimeout {
			b.logger.WithField("breaker", b.config.Name).Warn("circuit breaker half-open timeout, reopening")
			b.trip()
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s half-open timeout", b.config.Name)
		}

		if b.halfOpenCalls >= b.maxHalfOpen {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is half-open (max calls reached)", b.config.Name)
		}
		b.halfOpenCalls++
	}

	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	if err != nil {
		b.onExecutionFailure()
		if b.shouldTrip() {
			b.trip()
		}
		b.mu.Unlock()
		return err
	}
	b.onExecutionSuccess()
	b.mu.Unlock()
	return nil
}

func (b *Breaker) shouldTrip() bool {
	if b.state != stateClosed {
		return false
	}
	return b.failures >= int64(b.config.FailureThreshold)
}

func (b *Breaker) trip() {
	if b.state == stateOpen {
		return
	}
	b.setState(stateOpen)
	b.nextRetryTime = time.Now().Add(b.config.Timeout)

	b.logger.WithFields(logrus.Fields{
		"breaker":         b.config.Name,
		"failures":        b.failures,
		"next_retry_time": b.nextRetryTime,
	}).Warn("circuit breaker opened")
}

func (b *Breaker) onExecutionFailure() {
	b.failures++

	if b.state == stateHalfOpen {
		b.trip()
	}
}

func (b *Breaker) onExecutionSuccess() {
	b.successes++

	if b.state == stateHalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.setState(stateClosed)
			b.reset()
		}
	} else if b.state == stateClosed && b.failures > 0 {
		b.failures--
	}
}

func (b *Breaker) reset() {
	b.failures = 0
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
	b.nextRetryTime = time.Time{}

	b.logger.WithFields(logrus.Fields{
		"breaker":   b.config.Name,
		"successes": b.successes,
	}).Info("circuit breaker reset")
}

func (b *Breaker) setState(newState state) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState

	b.logger.WithFields(logrus.Fields{
		"breaker":   b.config.Name,
		"old_state": oldState,
		"new_state": newState,
		"failures":  b.failures,
		"successes": b.successes,
	}).Info("circuit breaker state changed")
}
