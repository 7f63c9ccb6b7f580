package drain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratesink/internal/cell"
	"ratesink/internal/registry"
	pkgreflect "ratesink/pkg/reflect"
)

type sample struct {
	Value float64
}

type recordingEmitter struct {
	mu     sync.Mutex
	names  int
	values int
	failOn int // fail the Nth WriteValues call (1-indexed); 0 disables
	calls  int
}

func (e *recordingEmitter) WriteNames(cell.NamesRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names++
	return nil
}

func (e *recordingEmitter) WriteValues(cell.ValuesRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.values++
	if e.failOn != 0 && e.calls == e.failOn {
		return errors.New("simulated emit failure")
	}
	return nil
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(pkgreflect.StructReflector{}, cell.NewVersionCounter(1))
}

func TestWorkerInvalidRateExitsImmediately(t *testing.T) {
	reg := newTestRegistry(t)
	emitter := &recordingEmitter{}
	w := NewWorker(reg, SingleEmitter{Emitter: emitter}, 0, nil)

	err := w.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestWorkerDrainsDirtyCells(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.TryEmplace("src", sample{Value: 1}, cell.Options{PersistentStructure: true}, 0)
	require.NoError(t, err)

	reg.VisitOne("src", sample{}, func(_ string, c *cell.Cell) {
		c.Write(sample{Value: 42}, 1)
	})

	emitter := &recordingEmitter{}
	w := NewWorker(reg, SingleEmitter{Emitter: emitter}, 1000, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = w.Run(ctx)
	assert.NoError(t, err)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	assert.GreaterOrEqual(t, emitter.values, 1)
}

func TestWorkerReturnsErrorOnEmitFailure(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.TryEmplace("src", sample{Value: 1}, cell.Options{PersistentStructure: true}, 0)
	require.NoError(t, err)
	reg.VisitOne("src", sample{}, func(_ string, c *cell.Cell) {
		c.Write(sample{Value: 1}, 1)
	})

	emitter := &recordingEmitter{failOn: 1}
	w := NewWorker(reg, SingleEmitter{Emitter: emitter}, 1000, nil)

	err = w.Run(context.Background())
	assert.Error(t, err)
}
