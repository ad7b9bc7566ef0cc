package weakref

import (
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/sarchlab/weakref/config"
	"github.com/sarchlab/weakref/datarecording"
	"github.com/sarchlab/weakref/heap"
	"github.com/sarchlab/weakref/idgen"
	"github.com/sarchlab/weakref/proxy"
	"github.com/sarchlab/weakref/purge"
	"github.com/sarchlab/weakref/reach"
	"github.com/sarchlab/weakref/registry"
)

// Runtime owns a heap, the registry of weak handles over it, and the purge
// scheduler.
type Runtime struct {
	heap      *heap.Heap
	ownsHeap  bool
	registry  *registry.Registry
	analyzer  *reach.Analyzer
	scheduler *purge.Scheduler
	recorder  datarecording.DataRecorder
	log       zerolog.Logger
}

// Builder can build runtimes.
type Builder struct {
	opts config.Options
	heap *heap.Heap
	log  zerolog.Logger
}

// MakeBuilder creates a builder with the default options.
func MakeBuilder() Builder {
	return Builder{
		opts: config.Default(),
		log:  zerolog.Nop(),
	}
}

// WithOptions sets the options of the runtime.
func (b Builder) WithOptions(opts config.Options) Builder {
	b.opts = opts
	return b
}

// WithHeap makes the runtime use an existing heap. The heap is not closed
// with the runtime.
func (b Builder) WithHeap(h *heap.Heap) Builder {
	b.heap = h
	return b
}

// WithLogger sets the logger shared by the components of the runtime.
func (b Builder) WithLogger(l zerolog.Logger) Builder {
	b.log = l
	return b
}

// Build creates the runtime. Purging is enabled if the options ask for it.
func (b Builder) Build() (*Runtime, error) {
	if err := b.opts.Validate(); err != nil {
		return nil, err
	}

	ids, err := idgen.New(b.opts.IDMode)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		heap: b.heap,
		log:  b.log,
	}

	if rt.heap == nil {
		rt.heap = heap.MakeBuilder().
			WithIDGenerator(ids).
			WithLogger(b.log).
			Build()
		rt.ownsHeap = true
	}

	rt.registry = registry.MakeBuilder().
		WithIDGenerator(ids).
		WithBinder(rt.heap).
		Build()

	rt.analyzer = reach.MakeBuilder().
		WithLiveness(rt.heap).
		WithWeakCounter(rt.registry).
		WithTraverser(rt.heap).
		WithOwnerSlack(b.opts.OwnerSlack).
		Build()

	rt.scheduler = purge.MakeBuilder().
		WithTracker(rt.registry).
		WithCounter(rt.analyzer).
		WithHost(rt.heap).
		WithInterval(b.opts.PurgeInterval).
		WithLivenessOffset(b.opts.LivenessOffset).
		WithLogger(b.log).
		Build()

	rt.heap.OnReclaim(rt.reclaimed)

	if b.opts.RecordPath != "" {
		recorder, err := datarecording.New(b.opts.RecordPath)
		if err != nil {
			rt.Close()
			return nil, err
		}

		rt.recorder = recorder
		tracer := datarecording.NewEventTracer(recorder)
		rt.registry.AcceptHook(tracer)
		rt.scheduler.AcceptHook(tracer)
	}

	if b.opts.StartPurging {
		rt.scheduler.Enable()
	}

	return rt, nil
}

func (rt *Runtime) reclaimed(o *heap.Object) {
	if _, err := rt.registry.Kill(o); err != nil {
		rt.log.Error().
			Err(err).
			Str("object", string(o.ID())).
			Msg("weak reference callback failed")
	}
}

// Heap returns the heap the runtime references objects of.
func (rt *Runtime) Heap() *heap.Heap {
	return rt.heap
}

// Registry returns the registry of weak handles.
func (rt *Runtime) Registry() *registry.Registry {
	return rt.registry
}

// Scheduler returns the purge scheduler.
func (rt *Runtime) Scheduler() *purge.Scheduler {
	return rt.scheduler
}

// Recorder returns the event recorder, or nil if recording is off.
func (rt *Runtime) Recorder() datarecording.DataRecorder {
	return rt.recorder
}

// RegisterType makes the values of t eligible for weak references. It
// returns t and may be called several times.
func (rt *Runtime) RegisterType(t reflect.Type) reflect.Type {
	return rt.registry.Types().Register(t)
}

// RegisterType makes the values of T eligible for weak references in rt.
func RegisterType[T any](rt *Runtime) reflect.Type {
	return registry.RegisterType[T](rt.registry.Types())
}

// MakeHandle creates a weak handle to referent.
func (rt *Runtime) MakeHandle(referent any, cb Callback) (*Handle, error) {
	return rt.registry.Register(referent, cb)
}

// MakeProxy creates a proxy to referent. The proxy is a proxy.Invokable if
// the referent is callable.
func (rt *Runtime) MakeProxy(referent any, cb Callback) (Proxy, error) {
	return proxy.New(rt.registry, referent, cb)
}

// WeakCount returns the number of live weak handles to referent.
func (rt *Runtime) WeakCount(referent any) int {
	return rt.registry.Count(referent)
}

// WeakHandles returns the live weak handles to referent in creation order.
func (rt *Runtime) WeakHandles(referent any) []*Handle {
	return rt.registry.List(referent)
}

// CircularReferenceCount returns the number of references to o sustained
// only by cycles through o.
func (rt *Runtime) CircularReferenceCount(o any) int {
	return rt.analyzer.CircularReferenceCount(o)
}

// EnablePurging schedules sweeps.
func (rt *Runtime) EnablePurging() {
	rt.scheduler.Enable()
}

// DisablePurging cancels scheduled sweeps. Handles then only die when the
// heap reclaims their referents.
func (rt *Runtime) DisablePurging() {
	rt.scheduler.Disable()
}

// IsPurging tells if sweeps are scheduled.
func (rt *Runtime) IsPurging() bool {
	return rt.scheduler.IsEnabled()
}

// PurgeNow runs one sweep right away.
func (rt *Runtime) PurgeNow() purge.SweepStats {
	return rt.scheduler.PurgeNow()
}

// Close stops the scheduler and the heap worker and flushes the recorder.
func (rt *Runtime) Close() error {
	rt.scheduler.Close()

	if rt.ownsHeap {
		rt.heap.Close()
	}

	if rt.recorder == nil {
		return nil
	}

	if err := rt.recorder.Close(); err != nil {
		return fmt.Errorf("weakref: close recorder: %w", err)
	}

	return nil
}
