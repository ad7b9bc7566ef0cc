package reach

import "reflect"

var reflectTypeType = reflect.TypeOf((*reflect.Type)(nil)).Elem()

// IsLeaf tells if v is known to never hold outgoing edges.
func IsLeaf(v any) bool {
	if v == nil {
		return true
	}

	if l, ok := v.(Leaf); ok {
		return l.IsLeaf()
	}

	t := reflect.TypeOf(v)
	if t.Implements(reflectTypeType) {
		return true
	}

	if isPrimitiveKind(t.Kind()) {
		return true
	}

	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	case reflect.Slice, reflect.Array:
		return isPrimitiveKind(t.Elem().Kind())
	}

	return false
}

func isPrimitiveKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	default:
		return false
	}
}

// isPrimitiveBuffer tells if v is a homogeneous array of non-reference
// elements.
func isPrimitiveBuffer(v any) bool {
	if nb, ok := v.(NumericBuffer); ok {
		return nb.IsPrimitive()
	}

	t := reflect.TypeOf(v)
	if t == nil {
		return false
	}

	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return isPrimitiveKind(t.Elem().Kind())
	default:
		return false
	}
}

type sliceIdentity struct {
	typ reflect.Type
	ptr uintptr
	len int
}

// identity returns a comparable key standing for the identity of v. Maps and
// slices are keyed by their backing storage.
func identity(v any) (any, bool) {
	if v == nil {
		return nil, false
	}

	t := reflect.TypeOf(v)
	if t.Comparable() {
		return v, hashable(v)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		return sliceIdentity{typ: t, ptr: rv.Pointer()}, true
	case reflect.Slice:
		return sliceIdentity{typ: t, ptr: rv.Pointer(), len: rv.Len()}, true
	default:
		return nil, false
	}
}

// hashable tells if v can key a map. Comparable types may still hold
// non-comparable values in interface fields.
func hashable(v any) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	return v == v
}
