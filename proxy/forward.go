package proxy

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrUnsupported is returned when the referent lacks the capability an
// operation needs.
var ErrUnsupported = errors.New("proxy: unsupported operation")

type forwarder func(referent any, op Op, args []any) (any, error)

// forwarders holds one forwarding implementation per capability.
var forwarders = [numOps]forwarder{
	OpAdd:       forwardBinary,
	OpSub:       forwardBinary,
	OpMul:       forwardBinary,
	OpTrueDiv:   forwardBinary,
	OpFloorDiv:  forwardBinary,
	OpMod:       forwardBinary,
	OpDivmod:    forwardBinary,
	OpPow:       forwardBinary,
	OpMatMul:    forwardBinary,
	OpLShift:    forwardBinary,
	OpRShift:    forwardBinary,
	OpAnd:       forwardBinary,
	OpOr:        forwardBinary,
	OpXor:       forwardBinary,
	OpRAdd:      forwardBinary,
	OpRSub:      forwardBinary,
	OpRMul:      forwardBinary,
	OpRTrueDiv:  forwardBinary,
	OpRFloorDiv: forwardBinary,
	OpRMod:      forwardBinary,
	OpRDivmod:   forwardBinary,
	OpRPow:      forwardBinary,
	OpRMatMul:   forwardBinary,
	OpRLShift:   forwardBinary,
	OpRRShift:   forwardBinary,
	OpRAnd:      forwardBinary,
	OpROr:       forwardBinary,
	OpRXor:      forwardBinary,
	OpIAdd:      forwardBinary,
	OpISub:      forwardBinary,
	OpIMul:      forwardBinary,
	OpITrueDiv:  forwardBinary,
	OpIFloorDiv: forwardBinary,
	OpIMod:      forwardBinary,
	OpIPow:      forwardBinary,
	OpIMatMul:   forwardBinary,
	OpILShift:   forwardBinary,
	OpIRShift:   forwardBinary,
	OpIAnd:      forwardBinary,
	OpIOr:       forwardBinary,
	OpIXor:      forwardBinary,
	OpNeg:       forwardUnary,
	OpPos:       forwardUnary,
	OpAbs:       forwardUnary,
	OpInvert:    forwardUnary,
	OpInt:       forwardUnary,
	OpFloat:     forwardUnary,
	OpIndex:     forwardUnary,
	OpEq:        forwardCompare,
	OpNe:        forwardCompare,
	OpLt:        forwardCompare,
	OpLe:        forwardCompare,
	OpGt:        forwardCompare,
	OpGe:        forwardCompare,
	OpGetItem:   forwardGetItem,
	OpSetItem:   forwardSetItem,
	OpDelItem:   forwardDelItem,
	OpContains:  forwardContains,
	OpLen:       forwardLen,
	OpIter:      forwardIter,
	OpGetAttr:   forwardGetAttr,
	OpSetAttr:   forwardSetAttr,
	OpDelAttr:   forwardDelAttr,
	OpBool:      forwardBool,
	OpString:    forwardString,
	OpCall:      forwardCall,
}

func unsupported(referent any, op Op) error {
	return fmt.Errorf("%w: %s on %s", ErrUnsupported, op, typeName(referent))
}

func needArgs(op Op, args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("proxy: %s takes %d arguments, got %d", op, n, len(args))
	}

	return nil
}

func forwardBinary(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 1); err != nil {
		return nil, err
	}

	operand, ok := referent.(BinaryOperand)
	if !ok {
		return nil, unsupported(referent, op)
	}

	result, err := operand.BinaryOp(op, args[0])
	if plain, inplace := op.plainOf(); inplace && errors.Is(err, ErrUnsupported) {
		return operand.BinaryOp(plain, args[0])
	}

	return result, err
}

func forwardUnary(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 0); err != nil {
		return nil, err
	}

	operand, ok := referent.(UnaryOperand)
	if !ok {
		return nil, unsupported(referent, op)
	}

	return operand.UnaryOp(op)
}

func forwardCompare(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 1); err != nil {
		return nil, err
	}

	if c, ok := referent.(Comparer); ok {
		return c.Compare(op, args[0])
	}

	switch op {
	case OpEq:
		return sameIdentity(referent, args[0]), nil
	case OpNe:
		return !sameIdentity(referent, args[0]), nil
	default:
		return nil, unsupported(referent, op)
	}
}

func sameIdentity(a, b any) (same bool) {
	if a == nil || b == nil {
		return a == b
	}

	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.TypeOf(a).Comparable() {
		return false
	}

	defer func() {
		if recover() != nil {
			same = false
		}
	}()

	return a == b
}

func forwardGetItem(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 1); err != nil {
		return nil, err
	}

	g, ok := referent.(ItemGetter)
	if !ok {
		return nil, unsupported(referent, op)
	}

	return g.GetItem(args[0])
}

func forwardSetItem(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 2); err != nil {
		return nil, err
	}

	s, ok := referent.(ItemSetter)
	if !ok {
		return nil, unsupported(referent, op)
	}

	return nil, s.SetItem(args[0], args[1])
}

func forwardDelItem(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 1); err != nil {
		return nil, err
	}

	d, ok := referent.(ItemDeleter)
	if !ok {
		return nil, unsupported(referent, op)
	}

	return nil, d.DelItem(args[0])
}

func forwardContains(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 1); err != nil {
		return nil, err
	}

	if c, ok := referent.(Container); ok {
		return c.Contains(args[0])
	}

	it, ok := referent.(Iterable)
	if !ok {
		return nil, unsupported(referent, op)
	}

	found := false
	err := it.Iterate(func(elem any) bool {
		found = sameIdentity(elem, args[0])
		return !found
	})

	return found, err
}

func forwardLen(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 0); err != nil {
		return nil, err
	}

	s, ok := referent.(Sized)
	if !ok {
		return nil, unsupported(referent, op)
	}

	return s.Len()
}

func forwardIter(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 1); err != nil {
		return nil, err
	}

	fn, ok := args[0].(func(elem any) bool)
	if !ok {
		return nil, fmt.Errorf("proxy: iter needs a func(any) bool, got %T", args[0])
	}

	it, ok := referent.(Iterable)
	if !ok {
		return nil, unsupported(referent, op)
	}

	return nil, it.Iterate(fn)
}

func attrName(op Op, arg any) (string, error) {
	name, ok := arg.(string)
	if !ok {
		return "", fmt.Errorf("proxy: %s needs a string name, got %T", op, arg)
	}

	return name, nil
}

func forwardGetAttr(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 1); err != nil {
		return nil, err
	}

	name, err := attrName(op, args[0])
	if err != nil {
		return nil, err
	}

	h, ok := referent.(AttributeHolder)
	if !ok {
		return nil, unsupported(referent, op)
	}

	return h.GetAttr(name)
}

func forwardSetAttr(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 2); err != nil {
		return nil, err
	}

	name, err := attrName(op, args[0])
	if err != nil {
		return nil, err
	}

	h, ok := referent.(AttributeHolder)
	if !ok {
		return nil, unsupported(referent, op)
	}

	return nil, h.SetAttr(name, args[1])
}

func forwardDelAttr(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 1); err != nil {
		return nil, err
	}

	name, err := attrName(op, args[0])
	if err != nil {
		return nil, err
	}

	h, ok := referent.(AttributeHolder)
	if !ok {
		return nil, unsupported(referent, op)
	}

	return nil, h.DelAttr(name)
}

func forwardBool(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 0); err != nil {
		return nil, err
	}

	if t, ok := referent.(Truther); ok {
		return t.Bool(), nil
	}

	if s, ok := referent.(Sized); ok {
		n, err := s.Len()
		return n > 0, err
	}

	return true, nil
}

func forwardString(referent any, op Op, args []any) (any, error) {
	if err := needArgs(op, args, 0); err != nil {
		return nil, err
	}

	if s, ok := referent.(fmt.Stringer); ok {
		return s.String(), nil
	}

	return fmt.Sprint(referent), nil
}

func forwardCall(referent any, op Op, args []any) (any, error) {
	if !isCallable(referent) {
		return nil, unsupported(referent, op)
	}

	return referent.(Callable).Call(args...)
}
