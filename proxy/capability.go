package proxy

import "fmt"

// Capabilities a referent may implement. A proxy forwards each operation to
// the matching capability of its current referent.
type (
	// BinaryOperand implements arithmetic and bitwise ops, including the
	// reflected and in-place variants. An in-place op answered with
	// ErrUnsupported falls back to the plain op.
	BinaryOperand interface {
		BinaryOp(op Op, other any) (any, error)
	}

	// UnaryOperand implements negation, absolute value, inversion, and the
	// numeric conversions.
	UnaryOperand interface {
		UnaryOp(op Op) (any, error)
	}

	// Comparer implements rich comparisons.
	Comparer interface {
		Compare(op Op, other any) (bool, error)
	}

	// ItemGetter implements indexing.
	ItemGetter interface {
		GetItem(key any) (any, error)
	}

	// ItemSetter implements item assignment.
	ItemSetter interface {
		SetItem(key, value any) error
	}

	// ItemDeleter implements item deletion.
	ItemDeleter interface {
		DelItem(key any) error
	}

	// Container implements membership tests.
	Container interface {
		Contains(v any) (bool, error)
	}

	// Sized reports a length.
	Sized interface {
		Len() (int, error)
	}

	// Iterable yields its elements until fn returns false.
	Iterable interface {
		Iterate(fn func(elem any) bool) error
	}

	// AttributeHolder exposes named attributes.
	AttributeHolder interface {
		GetAttr(name string) (any, error)
		SetAttr(name string, value any) error
		DelAttr(name string) error
	}

	// Truther reports a truth value.
	Truther interface {
		Bool() bool
	}

	// Callable can be invoked.
	Callable interface {
		Call(args ...any) (any, error)
	}

	// CallableChecker lets a value that implements Callable for some of its
	// instances only tell if this instance is callable.
	CallableChecker interface {
		IsCallable() bool
	}

	// Typed reports the type name a proxy should masquerade as.
	Typed interface {
		TypeName() string
	}
)

func isCallable(v any) bool {
	if _, ok := v.(Callable); !ok {
		return false
	}

	if c, ok := v.(CallableChecker); ok {
		return c.IsCallable()
	}

	return true
}

func typeName(v any) string {
	if t, ok := v.(Typed); ok {
		return t.TypeName()
	}

	return fmt.Sprintf("%T", v)
}
