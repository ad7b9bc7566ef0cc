package purge

import (
	"log"
	"time"

	"github.com/rs/zerolog"

	"github.com/sarchlab/weakref/hooking"
)

// DefaultInterval is the time between two scheduled sweeps.
const DefaultInterval = 5 * time.Second

// Builder can build schedulers.
type Builder struct {
	tracker  Tracker
	counter  Counter
	host     Host
	interval time.Duration
	offset   int
	log      *zerolog.Logger
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		interval: DefaultInterval,
	}
}

// WithTracker sets the registry that is swept.
func (b Builder) WithTracker(t Tracker) Builder {
	b.tracker = t
	return b
}

// WithCounter sets the circular reference counter.
func (b Builder) WithCounter(c Counter) Builder {
	b.counter = c
	return b
}

// WithHost sets the host that reports liveness.
func (b Builder) WithHost(h Host) Builder {
	b.host = h
	return b
}

// WithInterval sets the time between two scheduled sweeps.
func (b Builder) WithInterval(d time.Duration) Builder {
	b.interval = d
	return b
}

// WithLivenessOffset sets the number of transient bindings the liveness of
// the host includes while it is measured.
func (b Builder) WithLivenessOffset(k int) Builder {
	b.offset = k
	return b
}

// WithLogger sets the logger of the scheduler.
func (b Builder) WithLogger(l zerolog.Logger) Builder {
	b.log = &l
	return b
}

// Build creates a disabled scheduler.
func (b Builder) Build() *Scheduler {
	if b.tracker == nil || b.counter == nil || b.host == nil {
		log.Panic("purge: a scheduler requires all its collaborators")
	}

	if b.interval <= 0 {
		log.Panic("purge: the interval must be positive")
	}

	s := &Scheduler{
		HookableBase: hooking.NewHookableBase(),
		tracker:      b.tracker,
		counter:      b.counter,
		host:         b.host,
		interval:     b.interval,
		offset:       b.offset,
		log:          zerolog.Nop(),
	}

	if b.log != nil {
		s.log = b.log.With().Str("component", "purge").Logger()
	}

	return s
}
