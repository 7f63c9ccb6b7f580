package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeID(t *testing.T) {
	cases := map[string]string{
		"Foo Bar":     "foo_bar",
		"__leading":   "leading",
		"already_ok":  "already_ok",
		"":            "",
		"___":         "",
		"Mixed-Case.1": "mixed_case_1",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeID(in), "input %q", in)
	}
}

func TestRandomID(t *testing.T) {
	id := RandomID(8)
	require.Len(t, id, 8)
	for _, c := range id {
		assert.Contains(t, idAlphabet, string(c))
	}
	assert.Equal(t, "", RandomID(0))
}

func TestDateStamp(t *testing.T) {
	stamp := DateStamp()
	_, err := time.Parse("20060102_150405", stamp)
	require.NoError(t, err)
}

func TestRateTimerInvalidAtZeroRate(t *testing.T) {
	rt := NewRateTimer(0)
	assert.False(t, rt.Valid())
}

func TestRateTimerStepsAtRate(t *testing.T) {
	rt := NewRateTimer(1000) // 1ms steps
	rt.Start()

	start := time.Now()
	for i := 0; i < 5; i++ {
		rt.Step()
	}
	elapsed := time.Since(start)
	// 5 steps of 1ms should take roughly 5ms, never less.
	assert.GreaterOrEqual(t, elapsed, 4*time.Millisecond)
}

func TestRateTimerSkipsAheadRatherThanBursting(t *testing.T) {
	rt := NewRateTimer(1000)
	rt.threshold = time.Now().Add(-50 * time.Millisecond)

	start := time.Now()
	rt.Step()
	elapsed := time.Since(start)
	// A single Step after a long stall must not sleep for ~50 queued ticks.
	assert.Less(t, elapsed, 5*time.Millisecond)
}
