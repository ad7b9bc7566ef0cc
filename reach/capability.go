package reach

// LivenessProbe is the host primitive that tells how many strong bindings
// currently keep a value alive. Transient bindings made by the call itself
// are included; the owner slack of the Analyzer absorbs them.
type LivenessProbe interface {
	Liveness(v any) int
}

// WeakCounter reports the number of live weak handles targeting a value. Weak
// handles are counted by the liveness probe but never treated as owners.
type WeakCounter interface {
	Count(referent any) int
}

// A Traverser enumerates the values reachable in one hop from v. It returns
// false when it does not know v, in which case the value's own capabilities
// are used.
type Traverser interface {
	Children(v any, visit func(child any)) bool
}

// AttributeHolder is implemented by values with named fields that may hold
// references.
type AttributeHolder interface {
	VisitAttributes(visit func(value any))
}

// Mapping is implemented by associative values. Both keys and values are
// edges.
type Mapping interface {
	Range(fn func(key, value any) bool)
}

// Iterable is implemented by sequences. Every element is an edge.
type Iterable interface {
	Each(fn func(elem any) bool)
}

// Leaf is implemented by values that never hold outgoing references.
type Leaf interface {
	IsLeaf() bool
}

// NumericBuffer is implemented by homogeneous arrays. A buffer of primitive
// elements cannot hold back-references.
type NumericBuffer interface {
	IsPrimitive() bool
	Elements() []any
}
