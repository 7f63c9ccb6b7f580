package containerfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratesink/internal/cell"
	"ratesink/internal/codec"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	_, err := New(Config{Directory: dir}, testLogger())
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestForSourceOpensOneFilePerDisplayID(t *testing.T) {
	sink, err := New(Config{Directory: t.TempDir()}, testLogger())
	require.NoError(t, err)
	defer sink.Close()

	a1, err := sink.ForSource("foo")
	require.NoError(t, err)
	a2, err := sink.ForSource("foo")
	require.NoError(t, err)
	b, err := sink.ForSource("bar")
	require.NoError(t, err)

	assert.Same(t, a1, a2, "the same DisplayId must reuse its file emitter")
	assert.NotSame(t, a1, b)
}

func TestWriteNamesAndValuesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(Config{Directory: dir, Extension: "bin"}, testLogger())
	require.NoError(t, err)

	em, err := sink.ForSource("source_a")
	require.NoError(t, err)

	require.NoError(t, em.WriteNames(cell.NamesRecord{
		Header: cell.Header{Sec: 1, Nanosec: 2, NamesVersion: 3},
		Names:  []string{"a", "b"},
	}))
	require.NoError(t, em.WriteValues(cell.ValuesRecord{
		Header: cell.Header{Sec: 1, Nanosec: 3, NamesVersion: 3},
		Values: []float64{1.5, 2.5},
	}))
	require.NoError(t, sink.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "source_a")
	assert.Contains(t, entries[0].Name(), ".bin")

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestCloseIsIdempotent(t *testing.T) {
	sink, err := New(Config{Directory: t.TempDir()}, testLogger())
	require.NoError(t, err)

	_, err = sink.ForSource("foo")
	require.NoError(t, err)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
}

func TestWriteAfterCloseFails(t *testing.T) {
	sink, err := New(Config{Directory: t.TempDir()}, testLogger())
	require.NoError(t, err)

	em, err := sink.ForSource("foo")
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	err = em.WriteNames(cell.NamesRecord{Names: []string{"x"}})
	assert.Error(t, err)
}

func TestCompressedPayloadRoundTripsThroughCodec(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(Config{Directory: dir, Compression: codec.AlgorithmGzip}, testLogger())
	require.NoError(t, err)
	defer sink.Close()

	em, err := sink.ForSource("foo")
	require.NoError(t, err)
	require.NoError(t, em.WriteValues(cell.ValuesRecord{Values: []float64{1, 2, 3}}))
}

func TestMinFreeBytesGuardBlocksWrites(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(Config{Directory: dir, MinFreeBytes: 1 << 62}, testLogger())
	require.NoError(t, err)
	defer sink.Close()

	em, err := sink.ForSource("foo")
	require.NoError(t, err)

	err = em.WriteValues(cell.ValuesRecord{Values: []float64{1}})
	assert.Error(t, err)
}
