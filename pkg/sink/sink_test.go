package sink

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratesink/internal/cell"
	"ratesink/internal/drain"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

type fixedShape struct {
	Duration float64
	Size     int
	Vec      [3]float32
}

type debugSource struct {
	Value float64
}

// recordingEmitter counts names/values records and keeps the most
// recent values payload, for asserting "last write wins".
type recordingEmitter struct {
	mu          sync.Mutex
	namesCount  int
	valuesCount int
	lastValues  []float64
}

func (e *recordingEmitter) WriteNames(cell.NamesRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.namesCount++
	return nil
}

func (e *recordingEmitter) WriteValues(r cell.ValuesRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.valuesCount++
	e.lastValues = append([]float64(nil), r.Values...)
	return nil
}

func (e *recordingEmitter) snapshot() (names, values int, last []float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.namesCount, e.valuesCount, append([]float64(nil), e.lastValues...)
}

func newTestSink(t *testing.T, id string, rateHz int, emitter *recordingEmitter) *Sink {
	t.Helper()
	s := New(Config{
		ID:       id,
		RateHz:   rateHz,
		Emitters: drain.SingleEmitter{Emitter: emitter},
		Logger:   testLogger(),
	})
	require.True(t, s.Initialize())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInitializeFalseOnEmptyID(t *testing.T) {
	s := New(Config{ID: "", Logger: testLogger()})
	assert.False(t, s.Initialize())
}

func TestOperationsAreNoopsBeforeInitialize(t *testing.T) {
	s := New(Config{ID: "", Logger: testLogger()})

	id, ok := s.Assign(debugSource{}, cell.Options{})
	assert.False(t, ok)
	assert.Empty(t, id)

	s.Write(debugSource{}, 0) // must not panic
	s.Retract(debugSource{})  // must not panic
}

func TestAssignIsIdempotentAndReturnsDisplayID(t *testing.T) {
	emitter := &recordingEmitter{}
	s := newTestSink(t, "svc", 50, emitter)

	id1, ok := s.Assign(fixedShape{}, cell.Options{PersistentStructure: true})
	require.True(t, ok)
	id2, ok := s.Assign(fixedShape{}, cell.Options{PersistentStructure: true})
	require.True(t, ok)
	assert.Equal(t, id1, id2)
}

// Scenario 1: persistent-shape happy path.
func TestPersistentShapeHappyPath(t *testing.T) {
	emitter := &recordingEmitter{}
	s := newTestSink(t, "svc", 200, emitter)

	_, ok := s.Assign(fixedShape{}, cell.Options{PersistentStructure: true})
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		s.Write(fixedShape{Duration: 1, Size: 2, Vec: [3]float32{3.4, 2.2, 2.1}}, 0)
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	names, values, _ := emitter.snapshot()
	assert.Equal(t, 1, names)
	assert.LessOrEqual(t, values, 3)
	assert.GreaterOrEqual(t, values, 1)
}

// Scenario 3: a write to a never-assigned source is a silent no-op and
// logs a warning, not a panic or a registered cell.
func TestWriteToUnknownSourceIsNoop(t *testing.T) {
	emitter := &recordingEmitter{}
	s := newTestSink(t, "svc", 100, emitter)

	s.Write(debugSource{Value: 1}, 0)
	time.Sleep(30 * time.Millisecond)

	names, values, _ := emitter.snapshot()
	assert.Equal(t, 0, names)
	assert.Equal(t, 0, values)
}

// Scenario 4: a producer writing far faster than the drain rate
// observes a bounded number of emissions, with the last one reflecting
// the most recent write.
func TestLossyOverwriteUnderFastProducer(t *testing.T) {
	emitter := &recordingEmitter{}
	const rateHz = 500
	s := newTestSink(t, "svc", rateHz, emitter)

	_, ok := s.Assign(debugSource{}, cell.Options{PersistentStructure: true})
	require.True(t, ok)

	deadline := time.Now().Add(200 * time.Millisecond)
	last := 0.0
	for time.Now().Before(deadline) {
		last++
		s.Write(debugSource{Value: last}, 0)
	}
	time.Sleep(30 * time.Millisecond)

	_, values, lastValues := emitter.snapshot()
	// 200ms at 500Hz should not exceed ~101 ticks plus slack.
	assert.LessOrEqual(t, values, rateHz/5+5)
	if len(lastValues) > 0 {
		assert.Equal(t, last, lastValues[0])
	}
}

// Scenario 5: multiple independent sinks each drain their own writer.
func TestMultiSinkFanOut(t *testing.T) {
	const n = 4
	sinks := make([]*Sink, n)
	emitters := make([]*recordingEmitter, n)

	for i := 0; i < n; i++ {
		emitters[i] = &recordingEmitter{}
		sinks[i] = newTestSink(t, "svc", 100, emitters[i])
		_, ok := sinks[i].Assign(debugSource{}, cell.Options{PersistentStructure: true})
		require.True(t, ok)
	}

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		for i, s := range sinks {
			s.Write(debugSource{Value: float64(i)}, 0)
		}
	}
	time.Sleep(30 * time.Millisecond)

	for i := range sinks {
		names, values, _ := emitters[i].snapshot()
		assert.GreaterOrEqual(t, names, 1)
		assert.GreaterOrEqual(t, values, 1)
	}
}

func TestRetractRemovesSource(t *testing.T) {
	emitter := &recordingEmitter{}
	s := newTestSink(t, "svc", 100, emitter)

	_, ok := s.Assign(debugSource{}, cell.Options{})
	require.True(t, ok)

	s.Retract(debugSource{})
	s.Write(debugSource{Value: 1}, 0)
	time.Sleep(30 * time.Millisecond)

	_, values, _ := emitter.snapshot()
	assert.Equal(t, 0, values)
}
