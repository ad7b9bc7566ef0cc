package purge

import (
	"fmt"
	"time"

	"github.com/sarchlab/weakref/hooking"
)

func (s *Scheduler) sweep() SweepStats {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := time.Now()
	stats := &SweepStats{Timestamp: start}

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosBeforeSweep,
		Item:   stats,
	})

	for _, referent := range s.tracker.Referents() {
		stats.Scanned++
		s.examine(referent, stats)
	}

	if stats.Purged > 0 {
		s.host.RequestReclamation()
	}

	stats.Duration = time.Since(start)
	s.sweeps.Add(1)

	s.mu.Lock()
	last := *stats
	s.last = &last
	s.mu.Unlock()

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosAfterSweep,
		Item:   stats,
	})

	s.log.Debug().
		Int("scanned", stats.Scanned).
		Int("purged", stats.Purged).
		Int("killed", stats.HandlesKilled).
		Int("skipped", stats.Skipped).
		Dur("duration", stats.Duration).
		Msg("sweep done")

	return *stats
}

// examine purges referent if everything keeping it alive is its own cycles
// and its weak handles.
func (s *Scheduler) examine(referent any, stats *SweepStats) {
	weak := s.tracker.Count(referent)
	if weak == 0 {
		stats.Skipped++
		return
	}

	decision := PurgeDecision{
		Liveness: s.host.Liveness(referent) - s.offset,
		Weak:     weak,
	}

	if decision.Liveness > weak {
		decision.Circular = s.counter.CircularReferenceCount(referent)
		if decision.Liveness > decision.Circular+weak {
			return
		}
	}

	threshold := decision.Circular + weak
	stillUnowned := func() bool {
		return s.host.Liveness(referent)-s.offset <= threshold
	}

	killed, err := s.tracker.SeverIf(referent, weak, stillUnowned)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("referent", fmt.Sprintf("%T", referent)).
			Msg("weak reference callback failed")
	}

	if len(killed) == 0 {
		stats.Skipped++
		return
	}

	stats.Purged++
	stats.HandlesKilled += len(killed)

	s.log.Info().
		Str("referent", fmt.Sprintf("%T", referent)).
		Int("liveness", decision.Liveness).
		Int("circular", decision.Circular).
		Int("weak", decision.Weak).
		Int("handles", len(killed)).
		Msg("referent purged")

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosPurge,
		Item:   referent,
		Detail: decision,
	})
}
