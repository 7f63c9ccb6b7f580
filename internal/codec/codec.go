// Package codec implements the optional per-record compression used by
// the container-file emitter.
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names a supported record compression codec.
type Algorithm string

const (
	AlgorithmNone   Algorithm = "none"
	AlgorithmGzip   Algorithm = "gzip"
	AlgorithmZstd   Algorithm = "zstd"
	AlgorithmLZ4    Algorithm = "lz4"
	AlgorithmSnappy Algorithm = "snappy"
)

// Codec compresses and decompresses individual record payloads. One
// Codec instance is built per configured algorithm and shared across
// all cells an emitter drains.
type Codec struct {
	algorithm Algorithm
	level     int

	gzipPool sync.Pool
	lz4Pool  sync.Pool
}

// New builds a Codec for algorithm. level is only consulted for gzip;
// the other algorithms use their library defaults, matching the
// teacher's per-algorithm pool shape.
func New(algorithm Algorithm, level int) (*Codec, error) {
	switch algorithm {
	case "", AlgorithmNone, AlgorithmGzip, AlgorithmZstd, AlgorithmLZ4, AlgorithmSnappy:
	default:
		return nil, fmt.Errorf("codec: unsupported algorithm %q", algorithm)
	}
	if algorithm == "" {
		algorithm = AlgorithmNone
	}
	if level == 0 {
		level = gzip.DefaultCompression
	}

	c := &Codec{algorithm: algorithm, level: level}
	switch algorithm {
	case AlgorithmGzip:
		c.gzipPool.New = func() any {
			w, _ := gzip.NewWriterLevel(io.Discard, c.level)
			return w
		}
	case AlgorithmLZ4:
		c.lz4Pool.New = func() any {
			return lz4.NewWriter(io.Discard)
		}
	}
	return c, nil
}

// Algorithm reports the codec's configured algorithm.
func (c *Codec) Algorithm() Algorithm { return c.algorithm }

// Encode compresses data per the codec's algorithm. AlgorithmNone
// returns data unchanged (no copy).
func (c *Codec) Encode(data []byte) ([]byte, error) {
	switch c.algorithm {
	case AlgorithmNone, "":
		return data, nil
	case AlgorithmGzip:
		return c.encodeGzip(data)
	case AlgorithmZstd:
		return encodeZstd(data)
	case AlgorithmLZ4:
		return c.encodeLZ4(data)
	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("codec: unsupported algorithm %q", c.algorithm)
	}
}

// Decode reverses Encode.
func (c *Codec) Decode(data []byte) ([]byte, error) {
	switch c.algorithm {
	case AlgorithmNone, "":
		return data, nil
	case AlgorithmGzip:
		return decodeGzip(data)
	case AlgorithmZstd:
		return decodeZstd(data)
	case AlgorithmLZ4:
		return decodeLZ4(data)
	case AlgorithmSnappy:
		return snappy.Decode(nil, data)
	default:
		return nil, fmt.Errorf("codec: unsupported algorithm %q", c.algorithm)
	}
}

func (c *Codec) encodeGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := c.gzipPool.Get().(*gzip.Writer)
	defer c.gzipPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func encodeZstd(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func decodeZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

func (c *Codec) encodeLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := c.lz4Pool.Get().(*lz4.Writer)
	defer c.lz4Pool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeLZ4(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}
