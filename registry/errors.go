package registry

import "errors"

// Errors reported by handles and the registry. Callers match them with
// errors.Is; the returned errors usually wrap them with the offending type.
var (
	// ErrIneligibleType is returned when a referent's type has not opted into
	// weak references.
	ErrIneligibleType = errors.New("registry: type is not eligible for weak references")

	// ErrDeadReferent is returned when dereferencing a dead handle.
	ErrDeadReferent = errors.New("registry: referent is dead")

	// ErrUnhashable is returned when hashing a dead handle.
	ErrUnhashable = errors.New("registry: unhashable object")

	// ErrNotSerializable is returned on any attempt to persist a handle.
	ErrNotSerializable = errors.New("registry: weak references cannot be serialized")
)
