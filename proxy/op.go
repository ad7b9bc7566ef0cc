package proxy

import "fmt"

// Op identifies one forwarded capability.
type Op int

// Forwarded capabilities. Reflected ops (OpRAdd...) are dispatched when the
// proxy is the right operand, in-place ops (OpIAdd...) when the proxy is the
// target of an augmented assignment.
const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpTrueDiv
	OpFloorDiv
	OpMod
	OpDivmod
	OpPow
	OpMatMul
	OpLShift
	OpRShift
	OpAnd
	OpOr
	OpXor

	OpRAdd
	OpRSub
	OpRMul
	OpRTrueDiv
	OpRFloorDiv
	OpRMod
	OpRDivmod
	OpRPow
	OpRMatMul
	OpRLShift
	OpRRShift
	OpRAnd
	OpROr
	OpRXor

	OpIAdd
	OpISub
	OpIMul
	OpITrueDiv
	OpIFloorDiv
	OpIMod
	OpIPow
	OpIMatMul
	OpILShift
	OpIRShift
	OpIAnd
	OpIOr
	OpIXor

	OpNeg
	OpPos
	OpAbs
	OpInvert
	OpInt
	OpFloat
	OpIndex

	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	OpGetItem
	OpSetItem
	OpDelItem
	OpContains
	OpLen
	OpIter

	OpGetAttr
	OpSetAttr
	OpDelAttr

	OpBool
	OpString
	OpCall

	numOps
)

var opNames = [numOps]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpTrueDiv: "truediv",
	OpFloorDiv: "floordiv", OpMod: "mod", OpDivmod: "divmod", OpPow: "pow",
	OpMatMul: "matmul", OpLShift: "lshift", OpRShift: "rshift", OpAnd: "and",
	OpOr: "or", OpXor: "xor",

	OpRAdd: "radd", OpRSub: "rsub", OpRMul: "rmul", OpRTrueDiv: "rtruediv",
	OpRFloorDiv: "rfloordiv", OpRMod: "rmod", OpRDivmod: "rdivmod",
	OpRPow: "rpow", OpRMatMul: "rmatmul", OpRLShift: "rlshift",
	OpRRShift: "rrshift", OpRAnd: "rand", OpROr: "ror", OpRXor: "rxor",

	OpIAdd: "iadd", OpISub: "isub", OpIMul: "imul", OpITrueDiv: "itruediv",
	OpIFloorDiv: "ifloordiv", OpIMod: "imod", OpIPow: "ipow",
	OpIMatMul: "imatmul", OpILShift: "ilshift", OpIRShift: "irshift",
	OpIAnd: "iand", OpIOr: "ior", OpIXor: "ixor",

	OpNeg: "neg", OpPos: "pos", OpAbs: "abs", OpInvert: "invert",
	OpInt: "int", OpFloat: "float", OpIndex: "index",

	OpEq: "eq", OpNe: "ne", OpLt: "lt", OpLe: "le", OpGt: "gt", OpGe: "ge",

	OpGetItem: "getitem", OpSetItem: "setitem", OpDelItem: "delitem",
	OpContains: "contains", OpLen: "len", OpIter: "iter",

	OpGetAttr: "getattr", OpSetAttr: "setattr", OpDelAttr: "delattr",

	OpBool: "bool", OpString: "str", OpCall: "call",
}

func (op Op) String() string {
	if op < 0 || op >= numOps {
		return fmt.Sprintf("Op(%d)", int(op))
	}

	return opNames[op]
}

// plainOf returns the plain op an in-place op falls back to.
func (op Op) plainOf() (Op, bool) {
	if op < OpIAdd || op > OpIXor {
		return op, false
	}

	plain := op - OpIAdd
	if plain >= OpDivmod {
		// divmod has no in-place form
		plain++
	}

	return plain, true
}
