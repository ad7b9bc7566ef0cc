package registry

import (
	"github.com/sarchlab/weakref/hooking"
	"github.com/sarchlab/weakref/idgen"
)

// Builder can help building registries.
type Builder struct {
	types  *TypeSet
	ids    idgen.Generator
	binder Binder
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{}
}

// WithTypeSet sets the eligibility table consulted on registration.
func (b Builder) WithTypeSet(types *TypeSet) Builder {
	b.types = types
	return b
}

// WithIDGenerator sets the generator of handle and proxy IDs.
func (b Builder) WithIDGenerator(ids idgen.Generator) Builder {
	b.ids = ids
	return b
}

// WithBinder sets the host that accounts for the binding of each handle.
func (b Builder) WithBinder(binder Binder) Builder {
	b.binder = binder
	return b
}

// Build creates the registry.
func (b Builder) Build() *Registry {
	r := &Registry{
		HookableBase: hooking.NewHookableBase(),
		types:        b.types,
		ids:          b.ids,
		binder:       b.binder,
		handles:      make(map[*Handle]*slot),
		byID:         make(map[idgen.ID]*Handle),
		referents:    make(map[any][]*Handle),
		proxies:      make(map[idgen.ID]*Handle),
	}

	if r.types == nil {
		r.types = NewTypeSet()
	}

	if r.ids == nil {
		r.ids = idgen.NewSequential()
	}

	return r
}
