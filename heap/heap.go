// Package heap is a reference-counted object heap in which every strong
// binding is explicit.
//
// It is the host that weak handles are created over. An object's liveness is
// the number of bindings that keep it alive: the roots the program holds, the
// values stored in other objects, and one binding per live weak handle.
// Objects whose liveness drops to zero are freed at once. Cycles are only
// freed by Collect, which traces from the roots.
package heap

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sarchlab/weakref/hooking"
	"github.com/sarchlab/weakref/idgen"
)

// Unknown is the liveness reported for values the heap does not own. It is
// large enough that such values never look unowned.
const Unknown = math.MaxInt32

// ReclaimCause tells how an object was freed.
type ReclaimCause int

// Ways an object can be freed.
const (
	// ReclaimRefcount means the last binding of the object was dropped.
	ReclaimRefcount ReclaimCause = iota
	// ReclaimCollect means a collection found the object unreachable.
	ReclaimCollect
)

func (c ReclaimCause) String() string {
	if c == ReclaimCollect {
		return "collect"
	}

	return "refcount"
}

// HookPosReclaimed marks an object being freed. The item is the *Object and
// the detail is the ReclaimCause.
var HookPosReclaimed = &hooking.HookPos{Name: "Reclaimed"}

// Stats summarizes the activity of a heap.
type Stats struct {
	Live        int `json:"live"`
	Allocated   int `json:"allocated"`
	Freed       int `json:"freed"`
	Collections int `json:"collections"`
}

// Heap owns a set of objects.
type Heap struct {
	*hooking.HookableBase

	ids idgen.Generator
	log zerolog.Logger

	mu      sync.Mutex
	objects map[*Object]struct{}
	stats   Stats

	requests  chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (h *Heap) alloc(kind Kind, typeName string) *Object {
	o := &Object{
		heap:     h,
		id:       h.ids.Generate(),
		kind:     kind,
		typeName: typeName,
		refs:     1,
		roots:    1,
	}

	h.mu.Lock()
	h.objects[o] = struct{}{}
	h.stats.Allocated++
	h.mu.Unlock()

	return o
}

// NewInstance allocates an instance with no attributes. The caller holds the
// only root of the new object.
func (h *Heap) NewInstance(typeName string) *Object {
	return h.alloc(KindInstance, typeName)
}

// NewList allocates an empty list held by one root.
func (h *Heap) NewList() *Object {
	return h.alloc(KindList, "list")
}

// NewDict allocates an empty dict held by one root.
func (h *Heap) NewDict() *Object {
	return h.alloc(KindDict, "dict")
}

// NewFunc allocates a function object held by one root. The closure values
// are strong references of the function.
func (h *Heap) NewFunc(name string, fn Func, closure ...any) (*Object, error) {
	o := h.alloc(KindFunc, name)
	o.fn = fn

	h.mu.Lock()
	for i, v := range closure {
		if err := o.adopt(v); err != nil {
			o.closure = closure[:i]
			h.mu.Unlock()
			h.Release(o)

			return nil, err
		}
	}
	o.closure = closure
	h.mu.Unlock()

	return o, nil
}

func (h *Heap) own(v any) (*Object, bool) {
	o, ok := v.(*Object)
	if !ok || o == nil || o.heap != h {
		return nil, false
	}

	return o, true
}

// Retain adds a root to v.
func (h *Heap) Retain(v any) error {
	o, ok := h.own(v)
	if !ok {
		return fmt.Errorf("%w: %T", ErrValue, v)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if o.freed {
		return ErrFreed
	}

	o.refs++
	o.roots++

	return nil
}

// Release drops a root of v. Values that are not rooted are left alone.
func (h *Heap) Release(v any) {
	o, ok := h.own(v)
	if !ok {
		return
	}

	h.mu.Lock()
	if o.freed || o.roots == 0 {
		h.mu.Unlock()
		return
	}

	o.roots--
	freed := h.decrefAll([]any{o})
	h.mu.Unlock()

	h.notify(freed, ReclaimRefcount)
}

// Bind adds the binding of a weak handle to v. Values of other hosts are
// accepted and not accounted.
func (h *Heap) Bind(v any) error {
	o, ok := h.own(v)
	if !ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if o.freed {
		return ErrFreed
	}

	o.refs++
	o.binds++

	return nil
}

// Unbind drops the binding of a weak handle to v.
func (h *Heap) Unbind(v any) {
	o, ok := h.own(v)
	if !ok {
		return
	}

	h.mu.Lock()
	if o.freed || o.binds == 0 {
		h.mu.Unlock()
		return
	}

	o.binds--
	freed := h.decrefAll([]any{o})
	h.mu.Unlock()

	h.notify(freed, ReclaimRefcount)
}

// Liveness returns the number of bindings keeping v alive, Unknown for
// values the heap does not own, and 0 for freed objects.
func (h *Heap) Liveness(v any) int {
	o, ok := h.own(v)
	if !ok {
		return Unknown
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if o.freed {
		return 0
	}

	return o.refs
}

// Children visits the values v refers to. It reports false for values the
// heap does not own.
func (h *Heap) Children(v any, visit func(child any)) bool {
	o, ok := h.own(v)
	if !ok {
		return false
	}

	h.mu.Lock()
	values := o.values()
	h.mu.Unlock()

	for _, child := range values {
		visit(child)
	}

	return true
}

// decrefAll drops one reference to each object in values and frees the ones
// that reach zero, cascading through what they held. It must be called with
// the heap lock held and returns the freed objects.
func (h *Heap) decrefAll(values []any) []*Object {
	var freed []*Object

	stack := append([]any(nil), values...)
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		o, ok := v.(*Object)
		if !ok || o.freed {
			continue
		}

		o.refs--
		if o.refs > 0 {
			continue
		}

		h.free(o)
		freed = append(freed, o)
		stack = append(stack, o.clear()...)
	}

	return freed
}

func (h *Heap) free(o *Object) {
	o.freed = true
	o.refs = 0
	o.roots = 0
	o.binds = 0

	delete(h.objects, o)
	h.stats.Freed++
}

// notify invokes the reclaim hooks. It must be called without the heap lock.
func (h *Heap) notify(freed []*Object, cause ReclaimCause) {
	for _, o := range freed {
		h.log.Debug().
			Str("object", string(o.id)).
			Str("type", o.typeName).
			Stringer("cause", cause).
			Msg("object reclaimed")

		h.InvokeHook(hooking.HookCtx{
			Domain: h,
			Pos:    HookPosReclaimed,
			Item:   o,
			Detail: cause,
		})
	}
}

// OnReclaim registers fn to be called with every freed object.
func (h *Heap) OnReclaim(fn func(o *Object)) {
	h.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
		if ctx.Pos == HookPosReclaimed {
			fn(ctx.Item.(*Object))
		}
	}))
}

// Stats returns the counters of the heap.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.stats
	s.Live = len(h.objects)

	return s
}
