// Package containerfile implements the container-file Emitter variant:
// one append-only binary file per registered source.
package containerfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"

	"ratesink/internal/cell"
	"ratesink/internal/codec"
	"ratesink/pkg/clock"
)

// Config configures the container-file sink.
type Config struct {
	Directory string
	// Extension is appended (without a leading dot) to every file name.
	Extension string
	// Compression selects the optional per-frame codec; "" or "none"
	// disables it.
	Compression codec.Algorithm
	// MinFreeBytes guards against filling the destination disk;
	// writes are refused while the directory's free space is below
	// this (the size of the write itself is not counted). Zero
	// disables the guard.
	MinFreeBytes uint64
}

// Sink is an EmitterFactory (see internal/drain) handing out one
// *fileEmitter per DisplayId, each backed by its own file.
type Sink struct {
	cfg    Config
	codec  *codec.Codec
	logger *logrus.Logger

	mu    sync.Mutex
	files map[string]*fileEmitter
}

// New builds a container-file sink rooted at cfg.Directory, creating
// the directory if necessary.
func New(cfg Config, logger *logrus.Logger) (*Sink, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("containerfile: directory must not be empty")
	}
	if cfg.Extension == "" {
		cfg.Extension = "bin"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("containerfile: create directory: %w", err)
	}

	c, err := codec.New(cfg.Compression, 0)
	if err != nil {
		return nil, err
	}

	return &Sink{
		cfg:    cfg,
		codec:  c,
		logger: logger,
		files:  make(map[string]*fileEmitter),
	}, nil
}

// ForSource implements drain.EmitterFactory: it lazily opens (and
// thereafter reuses) one file per DisplayId.
func (s *Sink) ForSource(displayID string) (cell.Emitter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fe, ok := s.files[displayID]; ok {
		return fe, nil
	}

	name := fileName(displayID, s.cfg.Extension)
	path := filepath.Join(s.cfg.Directory, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("containerfile: open %q: %w", path, err)
	}

	fe := &fileEmitter{
		path:   path,
		file:   f,
		writer: bufio.NewWriter(f),
		codec:  s.codec,
		guard:  s,
	}
	s.files[displayID] = fe
	s.logger.WithFields(logrus.Fields{"source": displayID, "file": path}).Info("container-file: opened source file")
	return fe, nil
}

// Close flushes and closes every file this sink has opened. It is
// idempotent; calling it more than once, or closing a sink that never
// opened a file, is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, fe := range s.files {
		if err := fe.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, id)
	}
	return firstErr
}

// diskSpaceAvailable reports whether the configured directory still
// has at least cfg.MinFreeBytes free. A check failure fails open (logs
// and allows the write) since a transient stat failure should not
// itself halt draining.
func (s *Sink) diskSpaceAvailable() bool {
	if s.cfg.MinFreeBytes == 0 {
		return true
	}
	usage, err := disk.Usage(s.cfg.Directory)
	if err != nil {
		s.logger.WithError(err).Warn("containerfile: disk usage check failed, proceeding anyway")
		return true
	}
	return usage.Free >= s.cfg.MinFreeBytes
}

// fileName builds `<normalized_id>[_<random8>]_<YYYYMMDD_HHMMSS>.<ext>`.
// The random suffix disambiguates a restarted process reusing the same
// DisplayId within the same second.
func fileName(displayID, extension string) string {
	normalized := clock.NormalizeID(displayID)
	random := clock.RandomID(8)
	stamp := clock.DateStamp()
	return fmt.Sprintf("%s_%s_%s.%s", normalized, random, stamp, extension)
}

// fileEmitter implements cell.Emitter for a single source's file.
type fileEmitter struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *bufio.Writer
	codec  *codec.Codec
	guard  *Sink
	closed bool
}

// WriteNames implements cell.Emitter.
func (fe *fileEmitter) WriteNames(r cell.NamesRecord) error {
	return fe.write(channelNames, encodeNames(r))
}

// WriteValues implements cell.Emitter.
func (fe *fileEmitter) WriteValues(r cell.ValuesRecord) error {
	return fe.write(channelValues, encodeValues(r))
}

func (fe *fileEmitter) write(ch channel, payload []byte) error {
	if fe.guard != nil && !fe.guard.diskSpaceAvailable() {
		return fmt.Errorf("containerfile: insufficient disk space for %q", fe.path)
	}

	encoded, err := fe.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("containerfile: compress: %w", err)
	}

	fe.mu.Lock()
	defer fe.mu.Unlock()
	if fe.closed {
		return fmt.Errorf("containerfile: write to closed file %q", fe.path)
	}
	if err := writeFrame(fe.writer, ch, encoded); err != nil {
		return err
	}
	return fe.writer.Flush()
}

// close flushes and closes the underlying file. Idempotent.
func (fe *fileEmitter) close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if fe.closed {
		return nil
	}
	fe.closed = true

	var err error
	if ferr := fe.writer.Flush(); ferr != nil {
		err = ferr
	}
	if cerr := fe.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
