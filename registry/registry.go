// Package registry keeps the bookkeeping of weak handles: which handles exist,
// which referent each of them targets, and which proxies are bound to them.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sarchlab/weakref/hooking"
	"github.com/sarchlab/weakref/idgen"
)

// A Callback is invoked with the handle right before the handle dies.
type Callback func(h *Handle)

// A Binder is the host capability that accounts for the strong binding each
// live handle carries. Bind is called before a handle becomes visible and
// Unbind after it died, so the host never under-reports liveness.
type Binder interface {
	Bind(v any) error
	Unbind(v any)
}

// KillCause tells why a handle died.
type KillCause int

// Possible reasons for a handle to die.
const (
	// CausePurged means the purge scheduler severed the handle early.
	CausePurged KillCause = iota
	// CauseReclaimed means the host reclaimed the referent.
	CauseReclaimed
	// CauseReleased means the owner of the handle dropped it.
	CauseReleased
)

func (c KillCause) String() string {
	switch c {
	case CausePurged:
		return "purged"
	case CauseReclaimed:
		return "reclaimed"
	case CauseReleased:
		return "released"
	default:
		return fmt.Sprintf("KillCause(%d)", int(c))
	}
}

// Hook positions raised by the registry. The item is always the *Handle. The
// detail of HookPosHandleKilled is the KillCause.
var (
	HookPosHandleCreated = &hooking.HookPos{Name: "HandleCreated"}
	HookPosHandleKilled  = &hooking.HookPos{Name: "HandleKilled"}
)

type slot struct {
	referent any
	callback Callback
	proxies  []idgen.ID
}

// Registry is the bidirectional store of handles, referents, and proxies.
type Registry struct {
	*hooking.HookableBase

	types  *TypeSet
	ids    idgen.Generator
	binder Binder

	mu        sync.RWMutex
	handles   map[*Handle]*slot
	byID      map[idgen.ID]*Handle
	referents map[any][]*Handle
	proxies   map[idgen.ID]*Handle
}

// Stats summarizes the content of the registry.
type Stats struct {
	Handles   int `json:"handles"`
	Referents int `json:"referents"`
	Proxies   int `json:"proxies"`
}

// Types returns the TypeSet consulted on registration.
func (r *Registry) Types() *TypeSet {
	return r.types
}

// Register creates a new handle to referent. The callback, if not nil, is
// invoked with the handle right before it dies.
func (r *Registry) Register(referent any, callback Callback) (*Handle, error) {
	if !r.types.Eligible(referent) {
		return nil, fmt.Errorf("%w: %T", ErrIneligibleType, referent)
	}

	if r.binder != nil {
		if err := r.binder.Bind(referent); err != nil {
			return nil, fmt.Errorf("registry: cannot bind %T: %w", referent, err)
		}
	}

	h := &Handle{id: r.ids.Generate(), reg: r}

	r.insert(h, referent, callback)

	r.InvokeHook(hooking.HookCtx{
		Domain: r,
		Pos:    HookPosHandleCreated,
		Item:   h,
	})

	return h, nil
}

func (r *Registry) insert(h *Handle, referent any, callback Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handles[h] = &slot{referent: referent, callback: callback}
	r.byID[h.id] = h
	r.referents[referent] = append(r.referents[referent], h)
}

// Resolve returns the referent of h, or false if h is dead.
func (r *Registry) Resolve(h *Handle) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.handles[h]
	if !ok {
		return nil, false
	}

	return s.referent, true
}

func (r *Registry) callback(h *Handle) Callback {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.handles[h]
	if !ok {
		return nil
	}

	return s.callback
}

// Count returns the number of live handles targeting referent.
func (r *Registry) Count(referent any) int {
	if !isComparable(referent) {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.referents[referent])
}

// List returns the live handles targeting referent in creation order.
func (r *Registry) List(referent any) []*Handle {
	if !isComparable(referent) {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := r.referents[referent]
	list := make([]*Handle, len(handles))
	copy(list, handles)

	return list
}

// Referents returns a point-in-time snapshot of every tracked referent.
func (r *Registry) Referents() []any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	referents := make([]any, 0, len(r.referents))
	for referent := range r.referents {
		referents = append(referents, referent)
	}

	return referents
}

// Lookup finds a live handle by its ID.
func (r *Registry) Lookup(id idgen.ID) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byID[id]

	return h, ok
}

// Stats returns the current size of the registry tables.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Handles:   len(r.handles),
		Referents: len(r.referents),
		Proxies:   len(r.proxies),
	}
}

// Sever kills every live handle targeting referent on behalf of the purge
// scheduler. If expected is not negative and the number of live handles
// changed since the caller measured it, nothing is severed and nil is
// returned; the next sweep will look again.
//
// The handles are detached before their callbacks run, so Count and List
// already report none of them while a callback still sees its own handle
// alive. Callbacks run outside the registry lock and may re-enter the
// registry. Callback panics are recovered and returned as errors after every
// handle has been severed.
func (r *Registry) Sever(referent any, expected int) ([]*Handle, error) {
	return r.sever(referent, expected, nil, CausePurged)
}

// SeverIf is Sever with a last check. confirm runs under the registry lock
// once the handle count matched, and nothing is severed unless it returns
// true. It must not call back into the registry.
func (r *Registry) SeverIf(
	referent any,
	expected int,
	confirm func() bool,
) ([]*Handle, error) {
	return r.sever(referent, expected, confirm, CausePurged)
}

// Kill kills every live handle targeting referent. Hosts call it when they
// reclaim the referent.
func (r *Registry) Kill(referent any) ([]*Handle, error) {
	return r.sever(referent, -1, nil, CauseReclaimed)
}

type victim struct {
	handle   *Handle
	callback Callback
}

func (r *Registry) sever(
	referent any,
	expected int,
	confirm func() bool,
	cause KillCause,
) ([]*Handle, error) {
	victims := r.detach(referent, expected, confirm)
	if len(victims) == 0 {
		return nil, nil
	}

	var errs []error
	killed := make([]*Handle, 0, len(victims))
	for _, v := range victims {
		if err := invoke(v); err != nil {
			errs = append(errs, err)
		}

		r.markDead(v.handle, cause)
		killed = append(killed, v.handle)
	}

	return killed, errors.Join(errs...)
}

func (r *Registry) detach(referent any, expected int, confirm func() bool) []victim {
	if !isComparable(referent) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	handles := r.referents[referent]
	if len(handles) == 0 {
		return nil
	}

	if expected >= 0 && len(handles) != expected {
		return nil
	}

	if confirm != nil && !confirm() {
		return nil
	}

	delete(r.referents, referent)

	victims := make([]victim, len(handles))
	for i, h := range handles {
		victims[i] = victim{handle: h, callback: r.handles[h].callback}
	}

	return victims
}

func invoke(v victim) (err error) {
	if v.callback == nil {
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("registry: callback of handle %s panicked: %v",
				v.handle.id, p)
		}
	}()

	v.callback(v.handle)

	return nil
}

func (r *Registry) markDead(h *Handle, cause KillCause) {
	r.mu.Lock()
	s, ok := r.handles[h]
	if !ok {
		r.mu.Unlock()
		return
	}

	delete(r.handles, h)
	delete(r.byID, h.id)
	for _, id := range s.proxies {
		delete(r.proxies, id)
	}
	r.mu.Unlock()

	if r.binder != nil {
		r.binder.Unbind(s.referent)
	}

	r.InvokeHook(hooking.HookCtx{
		Domain: r,
		Pos:    HookPosHandleKilled,
		Item:   h,
		Detail: cause,
	})
}

// release drops a single handle without invoking its callback.
func (r *Registry) release(h *Handle) {
	r.mu.Lock()
	s, ok := r.handles[h]
	if !ok {
		r.mu.Unlock()
		return
	}

	r.referents[s.referent] = removeHandle(r.referents[s.referent], h)
	if len(r.referents[s.referent]) == 0 {
		delete(r.referents, s.referent)
	}
	r.mu.Unlock()

	r.markDead(h, CauseReleased)
}

func removeHandle(handles []*Handle, h *Handle) []*Handle {
	for i, candidate := range handles {
		if candidate == h {
			return append(handles[:i:i], handles[i+1:]...)
		}
	}

	return handles
}

// BindProxy records a new proxy over h and returns the proxy's identity.
func (r *Registry) BindProxy(h *Handle) (idgen.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.handles[h]
	if !ok {
		return "", ErrDeadReferent
	}

	id := r.ids.Generate()
	r.proxies[id] = h
	s.proxies = append(s.proxies, id)

	return id, nil
}

// ProxyHandle returns the handle a proxy is bound to. Proxies of dead handles
// are forgotten, so false also means the referent is dead.
func (r *Registry) ProxyHandle(id idgen.ID) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.proxies[id]

	return h, ok
}

// ReleaseProxy forgets a proxy. The handle it was bound to stays alive.
func (r *Registry) ReleaseProxy(id idgen.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.proxies[id]
	if !ok {
		return
	}

	delete(r.proxies, id)

	if s, live := r.handles[h]; live {
		for i, pid := range s.proxies {
			if pid == id {
				s.proxies = append(s.proxies[:i:i], s.proxies[i+1:]...)
				break
			}
		}
	}
}

// RemoveIfDead deletes m[key] if the value is a handle that has died. The
// liveness check and the deletion happen while the handle's registry is
// locked, so no registration or kill interleaves with them.
func RemoveIfDead[K comparable, V any](m map[K]V, key K) bool {
	value, ok := m[key]
	if !ok {
		return false
	}

	h, ok := any(value).(*Handle)
	if !ok || h == nil || h.reg == nil {
		return false
	}

	r := h.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, live := r.handles[h]; live {
		return false
	}

	delete(m, key)

	return true
}
