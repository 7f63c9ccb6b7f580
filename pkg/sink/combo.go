package sink

import "ratesink/internal/cell"

// Combo bundles a Sink with a fixed list of source values, assigning
// them all at Initialize and exposing a single Write call that iterates
// the list. Grounded on the original API's ComboSink: a composite sink
// parametric over whatever emitter the wrapped Sink was built with.
type Combo struct {
	sink    *Sink
	sources []any
	opts    cell.Options
}

// NewCombo wraps sink with a fixed tuple of sources, all registered
// under their own default ids with the same Options.
func NewCombo(s *Sink, opts cell.Options, sources ...any) *Combo {
	return &Combo{sink: s, sources: sources, opts: opts}
}

// Initialize starts the underlying sink and assigns every bundled
// source. Returns false if the underlying sink failed to initialize.
func (c *Combo) Initialize() bool {
	if !c.sink.Initialize() {
		return false
	}
	for _, src := range c.sources {
		c.sink.Assign(src, c.opts)
	}
	return true
}

// Write writes every bundled source's current state, using ts=0 (the
// current wall clock) for each.
func (c *Combo) Write() {
	for _, src := range c.sources {
		c.sink.Write(src, 0)
	}
}

// Close stops the underlying sink.
func (c *Combo) Close() error {
	return c.sink.Close()
}
