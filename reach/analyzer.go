// Package reach estimates how many of the live references to an object exist
// only because of a cycle that starts at the object itself.
package reach

import (
	"log"
	"reflect"
)

// Analyzer computes circular reference counts against a host.
type Analyzer struct {
	probe     LivenessProbe
	weak      WeakCounter
	traverser Traverser
	slack     int
}

// Builder can help building analyzers.
type Builder struct {
	probe     LivenessProbe
	weak      WeakCounter
	traverser Traverser
	slack     int
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{}
}

// WithLiveness sets the host liveness primitive. It is required.
func (b Builder) WithLiveness(p LivenessProbe) Builder {
	b.probe = p
	return b
}

// WithWeakCounter sets the source of weak handle counts.
func (b Builder) WithWeakCounter(c WeakCounter) Builder {
	b.weak = c
	return b
}

// WithTraverser sets the host enumeration of children.
func (b Builder) WithTraverser(t Traverser) Builder {
	b.traverser = t
	return b
}

// WithOwnerSlack sets the number of transient bindings the liveness probe
// reports on top of the real owners of a value.
func (b Builder) WithOwnerSlack(n int) Builder {
	b.slack = n
	return b
}

// Build creates the analyzer.
func (b Builder) Build() *Analyzer {
	if b.probe == nil {
		log.Panic("reach: an analyzer requires a liveness probe")
	}

	if b.slack < 0 {
		log.Panic("reach: owner slack must not be negative")
	}

	return &Analyzer{
		probe:     b.probe,
		weak:      b.weak,
		traverser: b.traverser,
		slack:     b.slack,
	}
}

// CircularReferenceCount returns the number of live references to o that are
// sustained only by cycles reachable from o. The estimate errs towards zero:
// a reference it cannot attribute to a cycle is assumed to be external.
func (a *Analyzer) CircularReferenceCount(o any) int {
	if IsLeaf(o) {
		return 0
	}

	w := &walk{
		analyzer: a,
		root:     o,
		memo:     make(map[any]struct{}),
	}

	if nb, ok := o.(NumericBuffer); ok {
		if nb.IsPrimitive() {
			return 0
		}

		w.markVisited(o)
		edges := newEdgeSet()
		for _, elem := range nb.Elements() {
			edges.add(elem)
		}

		return w.countEdges(edges)
	}

	if isPrimitiveBuffer(o) {
		return 0
	}

	return w.count(o)
}

type edge struct {
	target       any
	multiplicity int
}

type edgeSet struct {
	index map[any]int
	edges []edge
}

func newEdgeSet() *edgeSet {
	return &edgeSet{index: make(map[any]int)}
}

func (s *edgeSet) add(target any) {
	if IsLeaf(target) {
		return
	}

	key, ok := identity(target)
	if !ok {
		return
	}

	if i, seen := s.index[key]; seen {
		s.edges[i].multiplicity++
		return
	}

	s.index[key] = len(s.edges)
	s.edges = append(s.edges, edge{target: target, multiplicity: 1})
}

type walk struct {
	analyzer *Analyzer
	root     any
	memo     map[any]struct{}
}

func (w *walk) markVisited(v any) bool {
	key, ok := identity(v)
	if !ok {
		return false
	}

	if _, seen := w.memo[key]; seen {
		return false
	}

	w.memo[key] = struct{}{}

	return true
}

func (w *walk) count(data any) int {
	if IsLeaf(data) {
		return 0
	}

	if !w.markVisited(data) {
		return 0
	}

	return w.countEdges(w.analyzer.edges(data))
}

func (w *walk) countEdges(edges *edgeSet) int {
	counter := 0

	for _, e := range edges.edges {
		if w.isRoot(e.target) {
			counter += e.multiplicity
		}

		if w.analyzer.solelyOwned(e.target, e.multiplicity) {
			counter += w.count(e.target)
		}
	}

	return counter
}

func (w *walk) isRoot(v any) bool {
	key, ok := identity(v)
	if !ok {
		return false
	}

	rootKey, ok := identity(w.root)
	if !ok {
		return false
	}

	return key == rootKey
}

// solelyOwned tells if the multiplicity edges from the node under examination
// account for every strong binding of v.
func (a *Analyzer) solelyOwned(v any, multiplicity int) bool {
	live := a.probe.Liveness(v)
	if a.weak != nil {
		live -= a.weak.Count(v)
	}

	return live <= multiplicity+a.slack
}

func (a *Analyzer) edges(v any) *edgeSet {
	edges := newEdgeSet()

	if a.traverser != nil && a.traverser.Children(v, edges.add) {
		return edges
	}

	if holder, ok := v.(AttributeHolder); ok {
		holder.VisitAttributes(edges.add)
	}

	switch c := v.(type) {
	case Mapping:
		c.Range(func(key, value any) bool {
			edges.add(key)
			edges.add(value)
			return true
		})
	case Iterable:
		c.Each(func(elem any) bool {
			edges.add(elem)
			return true
		})
	default:
		reflectEdges(v, edges)
	}

	return edges
}

func reflectEdges(v any, edges *edgeSet) {
	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			edges.add(iter.Key().Interface())
			edges.add(iter.Value().Interface())
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			edges.add(rv.Index(i).Interface())
		}
	}
}
