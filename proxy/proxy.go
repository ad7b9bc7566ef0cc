// Package proxy provides non-owning forwarding wrappers over weak handles.
//
// A proxy behaves like its referent for every capability in Op. Each
// operation resolves the handle once, at its start; if the referent has died
// the operation fails with registry.ErrDeadReferent and never touches stale
// data.
package proxy

import (
	"fmt"
	"reflect"

	"github.com/sarchlab/weakref/idgen"
	"github.com/sarchlab/weakref/registry"
)

// A Proxy forwards operations to the current referent of a weak handle.
type Proxy interface {
	fmt.Stringer

	// Apply forwards op with the given arguments. Proxy arguments are
	// replaced by their referents first.
	Apply(op Op, args ...any) (any, error)

	Add(other any) (any, error)
	Sub(other any) (any, error)
	Mul(other any) (any, error)
	TrueDiv(other any) (any, error)
	Neg() (any, error)

	Eq(other any) (bool, error)
	Lt(other any) (bool, error)

	GetItem(key any) (any, error)
	SetItem(key, value any) error
	DelItem(key any) error
	Contains(v any) (bool, error)
	Len() (int, error)
	Iterate(fn func(elem any) bool) error

	GetAttr(name string) (any, error)
	SetAttr(name string, value any) error

	Bool() (bool, error)
	Str() (string, error)

	// Type reports the type name of the referent, never the proxy's own.
	Type() (string, error)
	// ReflectType reports the Go type of the referent.
	ReflectType() (reflect.Type, error)

	// Unwrap returns the referent.
	Unwrap() (any, error)
	// Handle returns the handle the proxy forwards through. False means
	// the referent is dead.
	Handle() (*registry.Handle, bool)
	// Callback returns the callback given at construction.
	Callback() registry.Callback

	// Hash always fails: proxies are never hashable.
	Hash() (uint64, error)

	MarshalJSON() ([]byte, error)
	MarshalText() ([]byte, error)
	MarshalBinary() ([]byte, error)
	GobEncode() ([]byte, error)

	// Release drops the proxy and the handle it owns.
	Release()
}

// An Invokable is a Proxy over a callable referent.
type Invokable interface {
	Proxy
	Call(args ...any) (any, error)
}

// New creates a proxy over referent. The proxy owns a fresh handle. If the
// referent is callable the returned proxy is an Invokable.
func New(reg *registry.Registry, referent any, cb registry.Callback) (Proxy, error) {
	h, err := reg.Register(referent, cb)
	if err != nil {
		return nil, err
	}

	id, err := reg.BindProxy(h)
	if err != nil {
		return nil, err
	}

	b := base{id: id, reg: reg}
	if isCallable(referent) {
		return invokable{base: b}, nil
	}

	return plain{base: b}, nil
}

// base carries only the proxy's identity in the registry's proxy table.
// The zero-length func array keeps proxies from being compared or used as
// map keys.
type base struct {
	_   [0]func()
	id  idgen.ID
	reg *registry.Registry
}

type plain struct {
	base
}

type invokable struct {
	base
}

func (p invokable) Call(args ...any) (any, error) {
	return p.Apply(OpCall, args...)
}

func (p base) Handle() (*registry.Handle, bool) {
	h, ok := p.reg.ProxyHandle(p.id)
	if !ok || !h.Alive() {
		return nil, false
	}

	return h, true
}

func (p base) referent() (any, error) {
	h, ok := p.reg.ProxyHandle(p.id)
	if !ok {
		return nil, registry.ErrDeadReferent
	}

	return h.Get()
}

func (p base) Apply(op Op, args ...any) (any, error) {
	if op < 0 || op >= numOps {
		return nil, fmt.Errorf("proxy: unknown op %d", int(op))
	}

	referent, err := p.referent()
	if err != nil {
		return nil, err
	}

	unwrapped := make([]any, len(args))
	for i, arg := range args {
		other, ok := arg.(Proxy)
		if !ok {
			unwrapped[i] = arg
			continue
		}

		unwrapped[i], err = other.Unwrap()
		if err != nil {
			return nil, err
		}
	}

	return forwarders[op](referent, op, unwrapped)
}

func (p base) Add(other any) (any, error)     { return p.Apply(OpAdd, other) }
func (p base) Sub(other any) (any, error)     { return p.Apply(OpSub, other) }
func (p base) Mul(other any) (any, error)     { return p.Apply(OpMul, other) }
func (p base) TrueDiv(other any) (any, error) { return p.Apply(OpTrueDiv, other) }
func (p base) Neg() (any, error)              { return p.Apply(OpNeg) }

func (p base) Eq(other any) (bool, error) { return p.predicate(OpEq, other) }
func (p base) Lt(other any) (bool, error) { return p.predicate(OpLt, other) }

func (p base) Contains(v any) (bool, error) { return p.predicate(OpContains, v) }
func (p base) Bool() (bool, error)          { return p.predicate(OpBool) }

func (p base) predicate(op Op, args ...any) (bool, error) {
	result, err := p.Apply(op, args...)
	if err != nil {
		return false, err
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("proxy: %s returned %T, not bool", op, result)
	}

	return b, nil
}

func (p base) GetItem(key any) (any, error) { return p.Apply(OpGetItem, key) }

func (p base) SetItem(key, value any) error {
	_, err := p.Apply(OpSetItem, key, value)
	return err
}

func (p base) DelItem(key any) error {
	_, err := p.Apply(OpDelItem, key)
	return err
}

func (p base) Len() (int, error) {
	result, err := p.Apply(OpLen)
	if err != nil {
		return 0, err
	}

	return result.(int), nil
}

func (p base) Iterate(fn func(elem any) bool) error {
	_, err := p.Apply(OpIter, fn)
	return err
}

func (p base) GetAttr(name string) (any, error) { return p.Apply(OpGetAttr, name) }

func (p base) SetAttr(name string, value any) error {
	_, err := p.Apply(OpSetAttr, name, value)
	return err
}

func (p base) Str() (string, error) {
	result, err := p.Apply(OpString)
	if err != nil {
		return "", err
	}

	return result.(string), nil
}

func (p base) Type() (string, error) {
	referent, err := p.referent()
	if err != nil {
		return "", err
	}

	return typeName(referent), nil
}

func (p base) ReflectType() (reflect.Type, error) {
	referent, err := p.referent()
	if err != nil {
		return nil, err
	}

	return reflect.TypeOf(referent), nil
}

func (p base) Unwrap() (any, error) {
	return p.referent()
}

func (p base) Callback() registry.Callback {
	h, ok := p.reg.ProxyHandle(p.id)
	if !ok {
		return nil
	}

	return h.Callback()
}

func (p base) Hash() (uint64, error) {
	return 0, registry.ErrUnhashable
}

func (p base) String() string {
	referent, err := p.referent()
	if err != nil {
		return fmt.Sprintf("<weakproxy %s dead>", p.id)
	}

	return fmt.Sprintf("<weakproxy %s to %s>", p.id, typeName(referent))
}

func (p base) MarshalJSON() ([]byte, error)   { return nil, registry.ErrNotSerializable }
func (p base) MarshalText() ([]byte, error)   { return nil, registry.ErrNotSerializable }
func (p base) MarshalBinary() ([]byte, error) { return nil, registry.ErrNotSerializable }
func (p base) GobEncode() ([]byte, error)     { return nil, registry.ErrNotSerializable }

func (p base) Release() {
	h, ok := p.reg.ProxyHandle(p.id)
	p.reg.ReleaseProxy(p.id)

	if ok {
		h.Release()
	}
}
