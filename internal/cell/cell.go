// Package cell implements SerializationCell: the per-source
// double-buffered (names, values) snapshot that producers reflect into
// and the drain worker serializes out.
package cell

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	pkgreflect "ratesink/pkg/reflect"
)

// Header is the common header carried by both the names and values
// records, per spec.md §6.
type Header struct {
	Sec         int32
	Nanosec     uint32
	NamesVersion uint32
}

// NamesRecord carries the ordered field paths for a cell's current
// shape.
type NamesRecord struct {
	Header Header
	Names  []string
}

// ValuesRecord carries the ordered numeric values, positionally matched
// to the most recently emitted NamesRecord for the same NamesVersion.
type ValuesRecord struct {
	Header Header
	Values []float64
}

// Emitter is the narrow capability a SerializationCell hands its
// current snapshot to. Both concrete variants (container-file,
// topic-bus) implement it; see internal/emit.
type Emitter interface {
	WriteNames(NamesRecord) error
	WriteValues(ValuesRecord) error
}

// Options configures a cell's reflection behavior, mirroring
// Source.Parameters in the original API.
type Options struct {
	// PersistentStructure asserts that the source's reflected shape
	// (field count and order) does not change between writes, letting
	// the cell skip re-emitting names once per write.
	PersistentStructure bool

	// HashNames additionally hashes the name list on every reflect and
	// treats a hash mismatch as a shape change even when
	// PersistentStructure is asserted. This is the opt-in extension
	// spec.md's Open Questions foreshadow ("hash the names to detect
	// actual shape change"); default off, since it changes nothing
	// about the documented per-write version churn when
	// PersistentStructure is false. The hash only changes if the
	// Reflector rewrites the names: pkgreflect.StructReflector does not
	// rewrite them on persistent calls after the first, so with it this
	// option detects no later shape change.
	HashNames bool
}

// Cell is a SerializationCell: the pair of (names, values) records for
// one registered source, its dirty/names-dirty flags, and its
// try-lock-only mutex.
type Cell struct {
	mu *TryMutex

	reflector pkgreflect.Reflector
	opts      Options
	versions  *VersionCounter

	names  NamesRecord
	values ValuesRecord

	dirty      bool
	namesDirty bool

	previousSize int
	namesHash    uint64

	// OnContention, if set, is called with "write" or "drain" whenever
	// Write or Emit fails to acquire the try-lock. Optional; used by the
	// registry to feed the contention metric.
	OnContention func(path string)
}

// New constructs a cell, performing the first reflection pass (which
// allocates the records) against initial. Per invariant V2, a cell must
// not be exposed to the drain worker before this succeeds.
func New(initial any, reflector pkgreflect.Reflector, opts Options, versions *VersionCounter, timestamp uint64) (*Cell, error) {
	c := &Cell{
		mu:        NewTryMutex(),
		reflector: reflector,
		opts:      opts,
		versions:  versions,
	}
	if err := c.reflect(initial, timestamp); err != nil {
		return nil, fmt.Errorf("cell: initial reflection failed: %w", err)
	}
	// The original API explicitly does not publish on assignment: only
	// a subsequent Write marks the cell dirty for the drain worker.
	c.dirty = false
	c.namesDirty = true
	return c, nil
}

// reflect runs the reflector against source, updates the shared
// timestamp/version bookkeeping, but does not touch the dirty flag —
// callers (New, Write) decide what dirty means for their call site.
func (c *Cell) reflect(source any, timestamp uint64) error {
	if err := c.reflector.Reflect(c, source, c.opts.PersistentStructure); err != nil {
		return err
	}
	c.finalize(timestamp)
	return nil
}

func (c *Cell) finalize(timestamp uint64) {
	shapeChanged := !c.opts.PersistentStructure || c.previousSize != len(c.names.Names)

	if c.opts.HashNames {
		h := hashNames(c.names.Names)
		if h != c.namesHash {
			shapeChanged = true
		}
		c.namesHash = h
	}

	if shapeChanged {
		v := c.versions.Next()
		c.names.Header.NamesVersion = v
		c.values.Header.NamesVersion = v
		c.namesDirty = true
	}
	c.previousSize = len(c.names.Names)

	header := Header{
		Sec:          int32(timestamp / 1e9), //nolint:gomnd
		Nanosec:      uint32(timestamp % 1e9),
		NamesVersion: c.names.Header.NamesVersion,
	}
	c.names.Header = header
	c.values.Header = header
}

func hashNames(names []string) uint64 {
	h := xxhash.New()
	for _, n := range names {
		_, _ = h.WriteString(n)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// Write reflects source's current state into the cell and marks it
// dirty for the next drain cycle. Per invariant V5, a write that cannot
// acquire the cell's try-lock is a silent drop, not an error.
func (c *Cell) Write(source any, timestamp uint64) bool {
	if !c.mu.TryLock() {
		if c.OnContention != nil {
			c.OnContention("write")
		}
		return false
	}
	defer c.mu.Unlock()

	// Reflection failures are swallowed the same way the rest of the
	// write path is best-effort; the previous snapshot remains valid.
	_ = c.reflect(source, timestamp)
	c.dirty = true
	return true
}

// Emit hands the cell's current snapshot to emitter if the cell is
// dirty, clearing the dirty (and, if sent, names-dirty) flags only on
// success. A failed TryLock is a silent skip (producer is mid-write);
// a failed emit leaves the flags set so the next successful drain
// cycle retries.
func (c *Cell) Emit(emitter Emitter) error {
	if !c.mu.TryLock() {
		if c.OnContention != nil {
			c.OnContention("drain")
		}
		return nil
	}
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	if c.namesDirty {
		if err := emitter.WriteNames(c.names); err != nil {
			return err
		}
		c.namesDirty = false
	}

	if err := emitter.WriteValues(c.values); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// Snapshot returns a copy of the current records, for tests and
// introspection. It acquires the try-lock and returns ok=false if the
// cell is contended.
func (c *Cell) Snapshot() (names NamesRecord, values ValuesRecord, ok bool) {
	if !c.mu.TryLock() {
		return NamesRecord{}, ValuesRecord{}, false
	}
	defer c.mu.Unlock()

	names = NamesRecord{Header: c.names.Header, Names: append([]string(nil), c.names.Names...)}
	values = ValuesRecord{Header: c.values.Header, Values: append([]float64(nil), c.values.Values...)}
	return names, values, true
}

// reflect.Target implementation — Cell writes reflected fields directly
// into its own records rather than through an intermediate buffer.

// Size implements pkgreflect.Target.
func (c *Cell) Size() int { return len(c.values.Values) }

// Resize implements pkgreflect.Target.
func (c *Cell) Resize(n int) {
	c.names.Names = make([]string, n)
	c.values.Values = make([]float64, n)
}

// Reserve implements pkgreflect.Target. Go slices have no distinct
// reserve-without-resize operation; Resize already allocates exact
// capacity, so Reserve is a no-op.
func (c *Cell) Reserve(n int) {}

// SetName implements pkgreflect.Target.
func (c *Cell) SetName(i int, name string) { c.names.Names[i] = name }

// SetValue implements pkgreflect.Target.
func (c *Cell) SetValue(i int, v float64) { c.values.Values[i] = v }
