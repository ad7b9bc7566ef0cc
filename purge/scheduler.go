// Package purge provides the scheduler that severs weak handles of referents
// kept alive only by cycles and by the handles themselves.
package purge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sarchlab/weakref/hooking"
	"github.com/sarchlab/weakref/registry"
)

// A Tracker is the registry side of a sweep.
type Tracker interface {
	// Referents returns a point-in-time snapshot of the tracked referents.
	Referents() []any

	// Count returns the number of live handles to referent.
	Count(referent any) int

	// SeverIf kills the handles of referent if there are still expected of
	// them and confirm, evaluated while the tracker is locked, agrees.
	SeverIf(referent any, expected int, confirm func() bool) ([]*registry.Handle, error)
}

// A Counter estimates the references to a value sustained by its own cycles.
type Counter interface {
	CircularReferenceCount(o any) int
}

// A Host reports liveness and reclaims memory.
type Host interface {
	Liveness(v any) int

	// RequestReclamation asks the host to reclaim memory soon. It must not
	// block.
	RequestReclamation()
}

// Hook positions raised by the scheduler.
var (
	// HookPosBeforeSweep fires when a sweep starts. The item is the
	// *SweepStats that the sweep fills.
	HookPosBeforeSweep = &hooking.HookPos{Name: "BeforeSweep"}

	// HookPosAfterSweep fires when a sweep ends. The item is the
	// *SweepStats.
	HookPosAfterSweep = &hooking.HookPos{Name: "AfterSweep"}

	// HookPosPurge fires after a referent is purged. The item is the
	// referent and the detail is the PurgeDecision.
	HookPosPurge = &hooking.HookPos{Name: "Purge"}
)

// PurgeDecision holds the figures a referent was purged on.
type PurgeDecision struct {
	Liveness int
	Circular int
	Weak     int
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Timestamp     time.Time     `json:"timestamp"`
	Scanned       int           `json:"scanned"`
	Purged        int           `json:"purged"`
	HandlesKilled int           `json:"handles_killed"`
	Skipped       int           `json:"skipped"`
	Duration      time.Duration `json:"duration"`
}

// Scheduler runs sweeps, periodically while enabled or on demand.
type Scheduler struct {
	*hooking.HookableBase

	tracker  Tracker
	counter  Counter
	host     Host
	interval time.Duration
	offset   int
	log      zerolog.Logger

	mu         sync.Mutex
	enabled    bool
	closed     bool
	generation uint64
	timer      *time.Timer
	last       *SweepStats
	inFlight   sync.WaitGroup

	sweepMu sync.Mutex
	sweeps  atomic.Int64
}

// Interval returns the time between two scheduled sweeps.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Enable schedules sweeps. Enabling an enabled scheduler does nothing.
func (s *Scheduler) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.enabled {
		return
	}

	s.enabled = true
	s.generation++
	s.arm(s.generation)

	s.log.Debug().Dur("interval", s.interval).Msg("purging enabled")
}

// Disable cancels the pending sweep. A sweep already running completes.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disable()
}

func (s *Scheduler) disable() {
	if !s.enabled {
		return
	}

	s.enabled = false
	s.generation++

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	s.log.Debug().Msg("purging disabled")
}

// IsEnabled tells if sweeps are scheduled.
func (s *Scheduler) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enabled
}

// Close disables the scheduler for good and waits for a scheduled sweep in
// progress. Callbacks run by that sweep must not call Close, since the sweep
// would wait for itself; they can call Disable instead.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.disable()
	s.mu.Unlock()

	s.inFlight.Wait()
}

func (s *Scheduler) arm(generation uint64) {
	s.timer = time.AfterFunc(s.interval, func() {
		s.tick(generation)
	})
}

func (s *Scheduler) tick(generation uint64) {
	s.mu.Lock()
	if !s.enabled || generation != s.generation {
		s.mu.Unlock()
		return
	}
	s.inFlight.Add(1)
	s.mu.Unlock()

	defer s.inFlight.Done()

	s.sweep()

	s.mu.Lock()
	if s.enabled && generation == s.generation {
		s.arm(generation)
	}
	s.mu.Unlock()
}

// PurgeNow runs one sweep right away, whether or not the scheduler is
// enabled.
func (s *Scheduler) PurgeNow() SweepStats {
	return s.sweep()
}

// SweepCount returns the number of sweeps run so far.
func (s *Scheduler) SweepCount() int {
	return int(s.sweeps.Load())
}

// LastStats returns the statistics of the last sweep.
func (s *Scheduler) LastStats() (SweepStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil {
		return SweepStats{}, false
	}

	return *s.last, true
}
