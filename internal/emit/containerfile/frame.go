package containerfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"ratesink/internal/cell"
)

// channel tags the logical stream a frame belongs to, so a single file
// can interleave both without ambiguity on read-back.
type channel byte

const (
	channelNames  channel = 0
	channelValues channel = 1
)

// encodeNames serializes a NamesRecord into the container-file wire
// format: header fields, then a count-prefixed list of length-prefixed
// UTF-8 strings.
func encodeNames(r cell.NamesRecord) []byte {
	size := headerSize + 4
	for _, n := range r.Names {
		size += 2 + len(n)
	}
	buf := make([]byte, size)
	off := putHeader(buf, r.Header)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(r.Names)))
	off += 4
	for _, n := range r.Names {
		binary.BigEndian.PutUint16(buf[off:], uint16(len(n)))
		off += 2
		off += copy(buf[off:], n)
	}
	return buf
}

// encodeValues serializes a ValuesRecord: header fields, then a
// count-prefixed array of big-endian float64s.
func encodeValues(r cell.ValuesRecord) []byte {
	buf := make([]byte, headerSize+4+8*len(r.Values))
	off := putHeader(buf, r.Header)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(r.Values)))
	off += 4
	for _, v := range r.Values {
		binary.BigEndian.PutUint64(buf[off:], math.Float64bits(v))
		off += 8
	}
	return buf
}

const headerSize = 4 + 4 + 4 // Sec + Nanosec + NamesVersion

func putHeader(buf []byte, h cell.Header) int {
	binary.BigEndian.PutUint32(buf[0:], uint32(h.Sec))
	binary.BigEndian.PutUint32(buf[4:], h.Nanosec)
	binary.BigEndian.PutUint32(buf[8:], h.NamesVersion)
	return headerSize
}

// writeFrame writes one length-prefixed, channel-tagged frame to w:
// [4-byte big-endian total length][1-byte channel][payload].
func writeFrame(w io.Writer, ch channel, payload []byte) error {
	length := uint32(1 + len(payload))
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], length)
	header[4] = byte(ch)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("containerfile: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("containerfile: write frame payload: %w", err)
	}
	return nil
}
