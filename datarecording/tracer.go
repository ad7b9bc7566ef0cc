package datarecording

import (
	"fmt"
	"time"

	"github.com/sarchlab/weakref/hooking"
	"github.com/sarchlab/weakref/purge"
	"github.com/sarchlab/weakref/registry"
)

// Table names used by the EventTracer.
const (
	HandleTable = "handle_event"
	SweepTable  = "sweep_event"
)

// HandleEvent is a row of the handle table.
type HandleEvent struct {
	Time     string
	Handle   string
	Referent string
	Kind     string
	Cause    string
}

// SweepEvent is a row of the sweep table.
type SweepEvent struct {
	Time       string
	Scanned    int
	Purged     int
	Killed     int
	Skipped    int
	DurationNs int64
}

// EventTracer is a hook that records handle and sweep events. Attach it to a
// registry and to a scheduler.
type EventTracer struct {
	recorder DataRecorder
	now      func() time.Time
}

// NewEventTracer creates the tables and returns the tracer.
func NewEventTracer(recorder DataRecorder) *EventTracer {
	recorder.CreateTable(HandleTable, HandleEvent{})
	recorder.CreateTable(SweepTable, SweepEvent{})

	return &EventTracer{
		recorder: recorder,
		now:      time.Now,
	}
}

func (t *EventTracer) stamp() string {
	return t.now().UTC().Format(time.RFC3339Nano)
}

// Func records the event the hook context describes.
func (t *EventTracer) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case registry.HookPosHandleCreated:
		t.recordHandle(ctx, "created", "")
	case registry.HookPosHandleKilled:
		cause, _ := ctx.Detail.(registry.KillCause)
		t.recordHandle(ctx, "killed", cause.String())
	case purge.HookPosAfterSweep:
		stats, ok := ctx.Item.(*purge.SweepStats)
		if !ok {
			return
		}

		t.recorder.InsertData(SweepTable, SweepEvent{
			Time:       t.stamp(),
			Scanned:    stats.Scanned,
			Purged:     stats.Purged,
			Killed:     stats.HandlesKilled,
			Skipped:    stats.Skipped,
			DurationNs: stats.Duration.Nanoseconds(),
		})
	}
}

func (t *EventTracer) recordHandle(ctx hooking.HookCtx, kind, cause string) {
	h, ok := ctx.Item.(*registry.Handle)
	if !ok {
		return
	}

	referent := ""
	if v, err := h.Get(); err == nil {
		referent = fmt.Sprintf("%T", v)
	}

	t.recorder.InsertData(HandleTable, HandleEvent{
		Time:     t.stamp(),
		Handle:   string(h.ID()),
		Referent: referent,
		Kind:     kind,
		Cause:    cause,
	})
}
