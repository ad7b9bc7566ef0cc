package heap

import (
	"github.com/rs/zerolog"

	"github.com/sarchlab/weakref/hooking"
	"github.com/sarchlab/weakref/idgen"
)

// Builder can build heaps.
type Builder struct {
	ids idgen.Generator
	log *zerolog.Logger
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{}
}

// WithIDGenerator sets the generator of object IDs.
func (b Builder) WithIDGenerator(ids idgen.Generator) Builder {
	b.ids = ids
	return b
}

// WithLogger sets the logger of the heap.
func (b Builder) WithLogger(log zerolog.Logger) Builder {
	b.log = &log
	return b
}

// Build creates a heap and starts its reclamation worker.
func (b Builder) Build() *Heap {
	h := &Heap{
		HookableBase: hooking.NewHookableBase(),
		ids:          b.ids,
		log:          zerolog.Nop(),
		objects:      make(map[*Object]struct{}),
		requests:     make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	if h.ids == nil {
		h.ids = idgen.NewSequential()
	}

	if b.log != nil {
		h.log = b.log.With().Str("component", "heap").Logger()
	}

	h.wg.Add(1)
	go h.collectLoop()

	return h
}
