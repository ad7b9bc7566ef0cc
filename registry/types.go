package registry

import (
	"reflect"
	"sync"
)

// Referenceable is implemented by values whose type carries the weak
// reference capability natively. It plays the same role as registering the
// type in a TypeSet.
type Referenceable interface {
	WeakReferenceable() bool
}

// TypeSet records which types have opted into weak references.
type TypeSet struct {
	mu    sync.RWMutex
	types map[reflect.Type]struct{}
}

// NewTypeSet creates an empty TypeSet.
func NewTypeSet() *TypeSet {
	return &TypeSet{types: make(map[reflect.Type]struct{})}
}

// Register opts t into weak references and returns t. Registering the same
// type again has no further effect.
func (s *TypeSet) Register(t reflect.Type) reflect.Type {
	if t == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.types[t] = struct{}{}

	return t
}

// RegisterType opts T into weak references. Both T values and *T values
// become eligible.
func RegisterType[T any](s *TypeSet) reflect.Type {
	return s.Register(reflect.TypeFor[T]())
}

// IsRegistered tells if t was registered explicitly.
func (s *TypeSet) IsRegistered(t reflect.Type) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.types[t]

	return ok
}

// Eligible tells if weak handles can target v. The value must be comparable,
// down to the dynamic values of its interface fields, since its identity is
// the registry key.
func (s *TypeSet) Eligible(v any) bool {
	if !isComparable(v) {
		return false
	}

	if r, ok := v.(Referenceable); ok && r.WeakReferenceable() {
		return true
	}

	t := reflect.TypeOf(v)
	if s.IsRegistered(t) {
		return true
	}

	return t.Kind() == reflect.Pointer && s.IsRegistered(t.Elem())
}

// isComparable tells if v can key the registry tables. A comparable type is
// not enough: an interface field holding a slice makes == panic at run time.
func isComparable(v any) (ok bool) {
	if v == nil || !reflect.TypeOf(v).Comparable() {
		return false
	}

	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	// A NaN inside v would make lookups miss the entry.
	return v == v
}
