package heap

import (
	"errors"
	"fmt"

	"github.com/sarchlab/weakref/idgen"
	"github.com/sarchlab/weakref/proxy"
)

// Errors reported by heap objects.
var (
	ErrFreed = errors.New("heap: object has been freed")
	ErrKind  = errors.New("heap: operation not supported by this kind of object")
	ErrKey   = errors.New("heap: key not found")
	ErrIndex = errors.New("heap: index out of range")
	ErrValue = errors.New("heap: value cannot be stored in an object")
)

// Kind tells the layout of an object.
type Kind int

// Kinds of heap objects.
const (
	KindInstance Kind = iota
	KindList
	KindDict
	KindFunc
)

func (k Kind) String() string {
	switch k {
	case KindInstance:
		return "instance"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	case KindFunc:
		return "func"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// A Func is the body of a function object.
type Func func(args ...any) (any, error)

type attr struct {
	name  string
	value any
}

// Object is a value allocated on a Heap. Every strong reference to an object
// is counted: roots held by the program, values stored in other objects, and
// bindings of weak handles.
//
// All the fields are guarded by the lock of the owning heap.
type Object struct {
	heap     *Heap
	id       idgen.ID
	kind     Kind
	typeName string

	refs  int
	roots int
	binds int
	freed bool

	attrs   []attr
	elems   []any
	keys    []any
	vals    []any
	fn      Func
	closure []any
}

// ID returns the identity of the object in its heap.
func (o *Object) ID() idgen.ID {
	return o.id
}

// Kind returns the layout of the object.
func (o *Object) Kind() Kind {
	return o.kind
}

// TypeName returns the type name given at allocation.
func (o *Object) TypeName() string {
	return o.typeName
}

// WeakReferenceable marks heap objects as valid weak referents.
func (o *Object) WeakReferenceable() bool {
	return true
}

// Freed tells if the object has been reclaimed.
func (o *Object) Freed() bool {
	o.heap.mu.Lock()
	defer o.heap.mu.Unlock()

	return o.freed
}

func (o *Object) String() string {
	o.heap.mu.Lock()
	defer o.heap.mu.Unlock()

	if o.freed {
		return fmt.Sprintf("<freed %s object %s>", o.typeName, o.id)
	}

	return fmt.Sprintf("<%s object %s>", o.typeName, o.id)
}

// storable tells if v may be placed in an object.
func storable(v any) bool {
	switch v.(type) {
	case nil, bool, int, int64, float64, string, *Object:
		return true
	default:
		return false
	}
}

// edit runs fn under the heap lock if the object is alive and of the given
// kind. The values fn drops are released after fn returns.
func (o *Object) edit(kind Kind, fn func() ([]any, error)) error {
	h := o.heap

	h.mu.Lock()
	if err := o.usable(kind); err != nil {
		h.mu.Unlock()
		return err
	}

	dropped, err := fn()
	freed := h.decrefAll(dropped)
	h.mu.Unlock()

	h.notify(freed, ReclaimRefcount)

	return err
}

// adopt increments the refcount of v if it is an object. It must be called
// with the heap lock held.
func (o *Object) adopt(v any) error {
	if !storable(v) {
		return fmt.Errorf("%w: %T", ErrValue, v)
	}

	child, ok := v.(*Object)
	if !ok {
		return nil
	}

	if child.heap != o.heap {
		return fmt.Errorf("%w: object of another heap", ErrValue)
	}

	if child.freed {
		return ErrFreed
	}

	child.refs++

	return nil
}

func (o *Object) usable(kind Kind) error {
	if o.freed {
		return ErrFreed
	}

	if o.kind != kind {
		return fmt.Errorf("%w: %s", ErrKind, o.kind)
	}

	return nil
}

func (o *Object) read(kind Kind, fn func() (any, error)) (any, error) {
	o.heap.mu.Lock()
	defer o.heap.mu.Unlock()

	if err := o.usable(kind); err != nil {
		return nil, err
	}

	return fn()
}

// SetAttr binds value to an attribute of an instance.
func (o *Object) SetAttr(name string, value any) error {
	return o.edit(KindInstance, func() ([]any, error) {
		if err := o.adopt(value); err != nil {
			return nil, err
		}

		for i := range o.attrs {
			if o.attrs[i].name == name {
				old := o.attrs[i].value
				o.attrs[i].value = value

				return []any{old}, nil
			}
		}

		o.attrs = append(o.attrs, attr{name: name, value: value})

		return nil, nil
	})
}

// GetAttr returns an attribute of an instance.
func (o *Object) GetAttr(name string) (any, error) {
	return o.read(KindInstance, func() (any, error) {
		for _, a := range o.attrs {
			if a.name == name {
				return a.value, nil
			}
		}

		return nil, fmt.Errorf("%w: attribute %q", ErrKey, name)
	})
}

// DelAttr removes an attribute of an instance.
func (o *Object) DelAttr(name string) error {
	return o.edit(KindInstance, func() ([]any, error) {
		for i, a := range o.attrs {
			if a.name == name {
				o.attrs = append(o.attrs[:i], o.attrs[i+1:]...)
				return []any{a.value}, nil
			}
		}

		return nil, fmt.Errorf("%w: attribute %q", ErrKey, name)
	})
}

// Attrs lists the attribute names of an instance in definition order.
func (o *Object) Attrs() []string {
	o.heap.mu.Lock()
	defer o.heap.mu.Unlock()

	names := make([]string, len(o.attrs))
	for i, a := range o.attrs {
		names[i] = a.name
	}

	return names
}

// Append adds values at the end of a list.
func (o *Object) Append(values ...any) error {
	return o.edit(KindList, func() ([]any, error) {
		for i, v := range values {
			if err := o.adopt(v); err != nil {
				return values[:i], err
			}
		}

		o.elems = append(o.elems, values...)

		return nil, nil
	})
}

// Index returns the i-th element of a list.
func (o *Object) Index(i int) (any, error) {
	return o.read(KindList, func() (any, error) {
		if i < 0 || i >= len(o.elems) {
			return nil, fmt.Errorf("%w: %d", ErrIndex, i)
		}

		return o.elems[i], nil
	})
}

// SetIndex replaces the i-th element of a list.
func (o *Object) SetIndex(i int, value any) error {
	return o.edit(KindList, func() ([]any, error) {
		if i < 0 || i >= len(o.elems) {
			return nil, fmt.Errorf("%w: %d", ErrIndex, i)
		}

		if err := o.adopt(value); err != nil {
			return nil, err
		}

		old := o.elems[i]
		o.elems[i] = value

		return []any{old}, nil
	})
}

// RemoveIndex deletes the i-th element of a list.
func (o *Object) RemoveIndex(i int) error {
	return o.edit(KindList, func() ([]any, error) {
		if i < 0 || i >= len(o.elems) {
			return nil, fmt.Errorf("%w: %d", ErrIndex, i)
		}

		old := o.elems[i]
		o.elems = append(o.elems[:i], o.elems[i+1:]...)

		return []any{old}, nil
	})
}

func (o *Object) keyIndex(key any) int {
	for i, k := range o.keys {
		if k == key {
			return i
		}
	}

	return -1
}

// Put binds key to value in a dict. Both are strong references.
func (o *Object) Put(key, value any) error {
	return o.edit(KindDict, func() ([]any, error) {
		if i := o.keyIndex(key); i >= 0 {
			if err := o.adopt(value); err != nil {
				return nil, err
			}

			old := o.vals[i]
			o.vals[i] = value

			return []any{old}, nil
		}

		if err := o.adopt(key); err != nil {
			return nil, err
		}

		if err := o.adopt(value); err != nil {
			return []any{key}, err
		}

		o.keys = append(o.keys, key)
		o.vals = append(o.vals, value)

		return nil, nil
	})
}

// Item returns the value bound to key in a dict.
func (o *Object) Item(key any) (any, error) {
	return o.read(KindDict, func() (any, error) {
		i := o.keyIndex(key)
		if i < 0 {
			return nil, fmt.Errorf("%w: %v", ErrKey, key)
		}

		return o.vals[i], nil
	})
}

// Remove deletes key from a dict.
func (o *Object) Remove(key any) error {
	return o.edit(KindDict, func() ([]any, error) {
		i := o.keyIndex(key)
		if i < 0 {
			return nil, fmt.Errorf("%w: %v", ErrKey, key)
		}

		k, v := o.keys[i], o.vals[i]
		o.keys = append(o.keys[:i], o.keys[i+1:]...)
		o.vals = append(o.vals[:i], o.vals[i+1:]...)

		return []any{k, v}, nil
	})
}

// Len returns the number of elements of a list or entries of a dict.
func (o *Object) Len() (int, error) {
	o.heap.mu.Lock()
	defer o.heap.mu.Unlock()

	if o.freed {
		return 0, ErrFreed
	}

	switch o.kind {
	case KindList:
		return len(o.elems), nil
	case KindDict:
		return len(o.keys), nil
	default:
		return 0, fmt.Errorf("%w: %s has no length", ErrKind, o.kind)
	}
}

// GetItem indexes a list with an int or looks a key up in a dict.
func (o *Object) GetItem(key any) (any, error) {
	if o.kind == KindList {
		i, ok := key.(int)
		if !ok {
			return nil, fmt.Errorf("%w: list index %T", ErrKey, key)
		}

		return o.Index(i)
	}

	return o.Item(key)
}

// SetItem replaces a list element or binds a dict key.
func (o *Object) SetItem(key, value any) error {
	if o.kind == KindList {
		i, ok := key.(int)
		if !ok {
			return fmt.Errorf("%w: list index %T", ErrKey, key)
		}

		return o.SetIndex(i, value)
	}

	return o.Put(key, value)
}

// DelItem removes a list element or a dict key.
func (o *Object) DelItem(key any) error {
	if o.kind == KindList {
		i, ok := key.(int)
		if !ok {
			return fmt.Errorf("%w: list index %T", ErrKey, key)
		}

		return o.RemoveIndex(i)
	}

	return o.Remove(key)
}

// snapshot copies the iterable content: list elements or dict keys.
func (o *Object) snapshot() ([]any, error) {
	o.heap.mu.Lock()
	defer o.heap.mu.Unlock()

	if o.freed {
		return nil, ErrFreed
	}

	switch o.kind {
	case KindList:
		return append([]any(nil), o.elems...), nil
	case KindDict:
		return append([]any(nil), o.keys...), nil
	default:
		return nil, fmt.Errorf("%w: %s is not iterable", ErrKind, o.kind)
	}
}

// Iterate visits the elements of a list or the keys of a dict. It works on a
// snapshot, so fn may mutate the object.
func (o *Object) Iterate(fn func(elem any) bool) error {
	elems, err := o.snapshot()
	if err != nil {
		return err
	}

	for _, e := range elems {
		if !fn(e) {
			break
		}
	}

	return nil
}

// Contains tells if a list holds v or a dict has the key v.
func (o *Object) Contains(v any) (bool, error) {
	elems, err := o.snapshot()
	if err != nil {
		return false, err
	}

	for _, e := range elems {
		if e == v {
			return true, nil
		}
	}

	return false, nil
}

// Bool is false for freed objects and empty containers.
func (o *Object) Bool() bool {
	n, err := o.Len()
	if errors.Is(err, ErrKind) {
		return !o.Freed()
	}

	return err == nil && n > 0
}

// BinaryOp supports list concatenation. OpAdd returns a new list owned by the
// caller; OpIAdd extends the list in place.
func (o *Object) BinaryOp(op proxy.Op, other any) (any, error) {
	if o.kind != KindList {
		return nil, proxy.ErrUnsupported
	}

	var tail []any
	switch t := other.(type) {
	case *Object:
		elems, err := t.snapshot()
		if err != nil {
			return nil, err
		}

		tail = elems
	case []any:
		tail = t
	default:
		return nil, proxy.ErrUnsupported
	}

	switch op {
	case proxy.OpAdd:
		head, err := o.snapshot()
		if err != nil {
			return nil, err
		}

		list := o.heap.NewList()
		if err := list.Append(append(head, tail...)...); err != nil {
			o.heap.Release(list)
			return nil, err
		}

		return list, nil
	case proxy.OpIAdd:
		if err := o.Append(tail...); err != nil {
			return nil, err
		}

		return o, nil
	default:
		return nil, proxy.ErrUnsupported
	}
}

// IsCallable tells if the object is a function.
func (o *Object) IsCallable() bool {
	return o.kind == KindFunc
}

// Call invokes a function object.
func (o *Object) Call(args ...any) (any, error) {
	h := o.heap

	h.mu.Lock()
	if err := o.usable(KindFunc); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	fn := o.fn
	h.mu.Unlock()

	return fn(args...)
}

// children lists the objects o refers to. It must be called with the heap
// lock held.
func (o *Object) children() []*Object {
	var out []*Object

	add := func(values []any) {
		for _, v := range values {
			if child, ok := v.(*Object); ok {
				out = append(out, child)
			}
		}
	}

	for _, a := range o.attrs {
		if child, ok := a.value.(*Object); ok {
			out = append(out, child)
		}
	}

	add(o.elems)
	add(o.keys)
	add(o.vals)
	add(o.closure)

	return out
}

// values lists every value o refers to, leaves included, in a stable order.
// It must be called with the heap lock held.
func (o *Object) values() []any {
	out := make([]any, 0, len(o.attrs)+len(o.elems)+2*len(o.keys)+len(o.closure))

	for _, a := range o.attrs {
		out = append(out, a.value)
	}

	out = append(out, o.elems...)
	for i := range o.keys {
		out = append(out, o.keys[i], o.vals[i])
	}

	return append(out, o.closure...)
}

// clear drops the content of a freed object and returns what it held.
func (o *Object) clear() []any {
	held := o.values()

	o.attrs = nil
	o.elems = nil
	o.keys = nil
	o.vals = nil
	o.fn = nil
	o.closure = nil

	return held
}
