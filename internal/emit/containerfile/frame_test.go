package containerfile

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratesink/internal/cell"
)

func TestWriteFrameLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello")
	require.NoError(t, writeFrame(&buf, channelValues, payload))

	length := binary.BigEndian.Uint32(buf.Bytes()[0:4])
	assert.Equal(t, uint32(1+len(payload)), length)
	assert.Equal(t, byte(channelValues), buf.Bytes()[4])
	assert.Equal(t, payload, buf.Bytes()[5:])
}

func TestEncodeNamesAndValuesHaveMatchingHeader(t *testing.T) {
	names := cell.NamesRecord{
		Header: cell.Header{Sec: 10, Nanosec: 20, NamesVersion: 3},
		Names:  []string{"x", "yy", "zzz"},
	}
	values := cell.ValuesRecord{
		Header: cell.Header{Sec: 10, Nanosec: 21, NamesVersion: 3},
		Values: []float64{1.1, 2.2, 3.3},
	}

	encodedNames := encodeNames(names)
	encodedValues := encodeValues(values)

	assert.Equal(t, uint32(10), binary.BigEndian.Uint32(encodedNames[0:4]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(encodedNames[8:12]))
	assert.Equal(t, uint32(len(names.Names)), binary.BigEndian.Uint32(encodedNames[12:16]))

	assert.Equal(t, uint32(10), binary.BigEndian.Uint32(encodedValues[0:4]))
	assert.Equal(t, uint32(len(values.Values)), binary.BigEndian.Uint32(encodedValues[12:16]))
}
