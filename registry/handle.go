package registry

import (
	"fmt"
	"hash/maphash"

	"github.com/sarchlab/weakref/idgen"
)

var hashSeed = maphash.MakeSeed()

// A Hasher provides its own hash value. Handles to a Hasher hash like the
// referent does.
type Hasher interface {
	Hash() uint64
}

// Handle is a weak reference. It resolves to its referent until it dies, and
// stays dead forever after.
type Handle struct {
	id  idgen.ID
	reg *Registry
}

// ID returns the identity of the handle.
func (h *Handle) ID() idgen.ID {
	return h.id
}

// Get returns the referent, or ErrDeadReferent if the handle is dead.
func (h *Handle) Get() (any, error) {
	referent, ok := h.reg.Resolve(h)
	if !ok {
		return nil, ErrDeadReferent
	}

	return referent, nil
}

// Alive tells if the handle still resolves.
func (h *Handle) Alive() bool {
	_, ok := h.reg.Resolve(h)
	return ok
}

// Callback returns the callback of the handle, or nil once the handle is
// dead.
func (h *Handle) Callback() Callback {
	return h.reg.callback(h)
}

// Release drops the handle. Its callback is not invoked.
func (h *Handle) Release() {
	h.reg.release(h)
}

// Hash returns the hash of the referent. Dead handles cannot be hashed.
func (h *Handle) Hash() (uint64, error) {
	referent, ok := h.reg.Resolve(h)
	if !ok {
		return 0, ErrUnhashable
	}

	if hasher, ok := referent.(Hasher); ok {
		return hasher.Hash(), nil
	}

	return maphash.Comparable(hashSeed, referent), nil
}

// Equal compares two handles by their referents. A dead handle is only equal
// to itself.
func (h *Handle) Equal(other *Handle) bool {
	if h == other {
		return true
	}

	if other == nil {
		return false
	}

	mine, ok := h.reg.Resolve(h)
	if !ok {
		return false
	}

	theirs, ok := other.reg.Resolve(other)
	if !ok {
		return false
	}

	return mine == theirs
}

func (h *Handle) String() string {
	referent, ok := h.reg.Resolve(h)
	if !ok {
		return fmt.Sprintf("<weakref %s dead>", h.id)
	}

	return fmt.Sprintf("<weakref %s to %T>", h.id, referent)
}

// MarshalJSON always fails, handles cannot be serialized.
func (h *Handle) MarshalJSON() ([]byte, error) {
	return nil, ErrNotSerializable
}

// MarshalText always fails, handles cannot be serialized.
func (h *Handle) MarshalText() ([]byte, error) {
	return nil, ErrNotSerializable
}

// MarshalBinary always fails, handles cannot be serialized.
func (h *Handle) MarshalBinary() ([]byte, error) {
	return nil, ErrNotSerializable
}

// GobEncode always fails, handles cannot be serialized.
func (h *Handle) GobEncode() ([]byte, error) {
	return nil, ErrNotSerializable
}
