// Package weakref provides weak references over an explicitly counted object
// heap, together with a scheduler that severs the weak handles of objects
// kept alive only by their own cycles.
//
// A Runtime bundles the pieces:
//
//	rt, err := weakref.MakeBuilder().WithOptions(config.Default()).Build()
//	...
//	obj := rt.Heap().NewInstance("Node")
//	h, err := rt.MakeHandle(obj, func(h *weakref.Handle) { ... })
package weakref

import (
	"github.com/sarchlab/weakref/proxy"
	"github.com/sarchlab/weakref/registry"
)

// Handle is a weak handle.
type Handle = registry.Handle

// Callback is invoked with a handle right before it dies.
type Callback = registry.Callback

// Proxy forwards operations to the referent of a weak handle.
type Proxy = proxy.Proxy

// Errors surfaced by handles and proxies.
var (
	ErrIneligibleType  = registry.ErrIneligibleType
	ErrDeadReferent    = registry.ErrDeadReferent
	ErrUnhashable      = registry.ErrUnhashable
	ErrNotSerializable = registry.ErrNotSerializable
	ErrUnsupported     = proxy.ErrUnsupported
)
