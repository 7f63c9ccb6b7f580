// Package registry implements the concurrent source registry: a keyed
// map of serialization cells supporting concurrent write-path visits,
// concurrent drain-path visits, and exclusive registration/removal.
package registry

import (
	"fmt"
	"reflect"
	"sync"

	"ratesink/internal/cell"
	pkgreflect "ratesink/pkg/reflect"
)

// Source lets a registered value declare its own default identifier,
// used when the caller does not supply one explicitly. This is the Go
// analogue of the original API's "ariles default id".
type Source interface {
	DefaultSourceID() string
}

// Key identifies a registered cell by the compound identity from
// spec.md §3: a runtime-stable handle for the value's concrete type,
// plus a possibly-empty caller-supplied user id.
type Key struct {
	Type   reflect.Type
	UserID string
}

func keyOf(source any, userID string) Key {
	return Key{Type: reflect.TypeOf(source), UserID: userID}
}

type entry struct {
	cell      *cell.Cell
	displayID string
}

// Registry is the keyed map of serialization cells. Mutators
// (TryEmplace, Erase) take the registry lock exclusively; visitors take
// it in shared mode and then race for each cell's own try-lock, per
// spec.md §4.4/§5.
type Registry struct {
	mu         sync.RWMutex
	cells      map[Key]*entry
	collisions map[string]int

	reflector pkgreflect.Reflector
	versions  *cell.VersionCounter

	// OnCellContention, if set, is wired into every cell created by
	// TryEmplace (see cell.Cell.OnContention).
	OnCellContention func(path string)
}

// New builds an empty registry. versions is the sink-wide names_version
// counter (invariant V4: seeded randomly at sink construction).
func New(reflector pkgreflect.Reflector, versions *cell.VersionCounter) *Registry {
	return &Registry{
		cells:      make(map[Key]*entry),
		collisions: make(map[string]int),
		reflector:  reflector,
		versions:   versions,
	}
}

func defaultIDOf(source any) string {
	if s, ok := source.(Source); ok {
		return s.DefaultSourceID()
	}
	return reflect.TypeOf(source).Name()
}

// uniqueDisplayID implements the DisplayId collision policy from
// spec.md §3: the first occurrence of a raw id keeps the bare id;
// subsequent occurrences get a monotonic, never-reclaimed "_intro<N>"
// suffix. The counter lives in this Registry (one per sink); separate
// registries do not share it, so two sinks can both hand out the bare id.
func (r *Registry) uniqueDisplayID(rawID string) string {
	count, seen := r.collisions[rawID]
	if !seen {
		r.collisions[rawID] = 0
		return rawID
	}
	count++
	r.collisions[rawID] = count
	return fmt.Sprintf("%s_intro%d", rawID, count)
}

// TryEmplace registers source under userID (or the source's default id
// when userID is empty), constructing its cell via a first reflection
// pass. Registering an already-present key is a no-op that returns the
// existing cell's DisplayId, matching the original API's
// duplicate-is-no-op semantics.
func (r *Registry) TryEmplace(userID string, source any, opts cell.Options, timestamp uint64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyOf(source, userID)
	if existing, ok := r.cells[key]; ok {
		return existing.displayID, nil
	}

	c, err := cell.New(source, r.reflector, opts, r.versions, timestamp)
	if err != nil {
		return "", fmt.Errorf("registry: assign failed: %w", err)
	}
	c.OnContention = r.OnCellContention

	rawID := userID
	if rawID == "" {
		rawID = defaultIDOf(source)
	}
	displayID := r.uniqueDisplayID(rawID)

	r.cells[key] = &entry{cell: c, displayID: displayID}
	return displayID, nil
}

// Erase removes the cell registered for source/userID, if any. Removing
// an absent key is a no-op.
func (r *Registry) Erase(userID string, source any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cells, keyOf(source, userID))
}

// VisitAll calls fn for every registered cell under the registry's
// shared lock. Each cell internally try-locks; a cell contended by a
// concurrent write is skipped for this drain cycle (not an error).
func (r *Registry) VisitAll(fn func(displayID string, c *cell.Cell)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.cells {
		fn(e.displayID, e.cell)
	}
}

// VisitOne looks up source/userID under the registry's shared lock and
// calls fn with its cell, returning false if the source was never
// assigned (so callers can log "source not assigned" without treating
// it as an error).
func (r *Registry) VisitOne(userID string, source any, fn func(displayID string, c *cell.Cell)) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.cells[keyOf(source, userID)]
	if !ok {
		return false
	}
	fn(e.displayID, e.cell)
	return true
}

// Len reports the number of registered cells, for introspection/metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cells)
}

// SourceInfo summarizes one registered cell, for the debug
// introspection endpoint.
type SourceInfo struct {
	DisplayID    string
	NamesVersion uint32
	FieldCount   int
}

// Snapshot lists every registered source's DisplayId, current
// names_version, and field count. A cell contended by a concurrent
// write is still listed, just with a zero-valued NamesVersion/
// FieldCount for this call (Cell.Snapshot itself no-ops on contention,
// so this never blocks).
func (r *Registry) Snapshot() []SourceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SourceInfo, 0, len(r.cells))
	for _, e := range r.cells {
		names, _, ok := e.cell.Snapshot()
		info := SourceInfo{DisplayID: e.displayID}
		if ok {
			info.NamesVersion = names.Header.NamesVersion
			info.FieldCount = len(names.Names)
		}
		out = append(out, info)
	}
	return out
}
