package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratesink/internal/cell"
	"ratesink/internal/drain"
)

type cpuStats struct {
	Load1 float64
}

type memStats struct {
	UsedBytes float64
}

func TestComboAssignsAllSourcesAndWritesAll(t *testing.T) {
	emitter := &recordingEmitter{}
	s := New(Config{
		ID:       "combo",
		RateHz:   100,
		Emitters: drain.SingleEmitter{Emitter: emitter},
		Logger:   testLogger(),
	})

	combo := NewCombo(s, cell.Options{PersistentStructure: true}, cpuStats{}, memStats{})
	require.True(t, combo.Initialize())
	t.Cleanup(func() { _ = combo.Close() })

	combo.Write()
	time.Sleep(30 * time.Millisecond)

	names, values, _ := emitter.snapshot()
	assert.GreaterOrEqual(t, names, 2)
	assert.GreaterOrEqual(t, values, 2)
}

func TestComboInitializeFailsWithEmptyID(t *testing.T) {
	s := New(Config{ID: "", Logger: testLogger()})
	combo := NewCombo(s, cell.Options{}, cpuStats{})
	assert.False(t, combo.Initialize())
}
