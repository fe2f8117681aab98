// Package access provides duck-typed attribute access over Go values.
// Compiled serializer programs and the fallback encoder both resolve
// dotted path segments through TryGet, Call, and Collect; resolved
// accessors are memoized per (type, segment) so repeated serialization
// of the same model type pays the reflection cost once.
package access

import (
	"reflect"
	"strings"
	"sync"
	"unicode"
)

type accessorKind int

const (
	accessorNone accessorKind = iota
	accessorField
	accessorMethod
)

// accessor is a resolved lookup plan for one (type, segment) pair.
type accessor struct {
	kind   accessorKind
	index  []int // field index path
	method int   // method index
}

type accessorKey struct {
	typ     reflect.Type
	segment string
}

var accessors sync.Map // accessorKey -> accessor

// TryGet reads the named segment from obj. It reports the value and
// whether the segment exists: map keys by lookup, struct fields by
// exact name or the CamelCase form of a snake_case segment. A present
// segment with a nil value returns (nil, true).
func TryGet(obj any, segment string) (any, bool) {
	if obj == nil || segment == "" {
		return nil, false
	}

	if m, ok := obj.(map[string]any); ok {
		v, exists := m[segment]
		return v, exists
	}

	v := reflect.ValueOf(obj)
	base := v
	for base.Kind() == reflect.Pointer {
		if base.IsNil() {
			return nil, false
		}
		base = base.Elem()
	}

	if base.Kind() == reflect.Map && base.Type().Key().Kind() == reflect.String {
		mv := base.MapIndex(reflect.ValueOf(segment))
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true
	}

	if base.Kind() != reflect.Struct {
		return nil, false
	}

	acc := resolve(v.Type(), base.Type(), segment)
	switch acc.kind {
	case accessorField:
		fv := base.FieldByIndex(acc.index)
		return indirect(fv), true
	case accessorMethod:
		// Zero-argument getters read like fields.
		return invokeMethod(v, acc.method)
	}
	return nil, false
}

// Call invokes the named zero-argument method on obj. Methods
// returning (T) or (T, error) are supported; a non-nil error, a panic
// during invocation, or an unknown method all report absent.
func Call(obj any, segment string) (any, bool) {
	if obj == nil || segment == "" {
		return nil, false
	}

	v := reflect.ValueOf(obj)
	m := v.MethodByName(methodName(segment))
	if !m.IsValid() {
		m = v.MethodByName(segment)
	}
	if !m.IsValid() && v.Kind() != reflect.Pointer && v.CanAddr() {
		pv := v.Addr()
		m = pv.MethodByName(methodName(segment))
	}
	if !m.IsValid() {
		// Funcs stored in map values or struct fields are callable too,
		// and a stored collection already is what its retrieval would
		// return.
		if fv, ok := TryGet(obj, segment); ok {
			if fn := reflect.ValueOf(fv); fn.IsValid() {
				switch fn.Kind() {
				case reflect.Func:
					return invoke(fn)
				case reflect.Slice, reflect.Array:
					return fv, true
				}
			}
		}
		// Preloaded rows stand in for the collection manager they came
		// from; retrieval on them is the identity.
		if rv := reflect.ValueOf(obj); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			return obj, true
		}
		return nil, false
	}
	return invoke(m)
}

// Collect flattens a multi-valued value into a slice of elements.
// Slices and arrays yield their elements; a nil or scalar value yields
// nothing.
func Collect(v any) []any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// resolve returns the memoized accessor for segment on the struct type
// elem (with methods looked up on the original type typ).
func resolve(typ, elem reflect.Type, segment string) accessor {
	key := accessorKey{typ: typ, segment: segment}
	if cached, ok := accessors.Load(key); ok {
		return cached.(accessor)
	}

	acc := accessor{kind: accessorNone}
	if f, ok := elem.FieldByName(segment); ok && f.IsExported() {
		acc = accessor{kind: accessorField, index: f.Index}
	} else if f, ok := elem.FieldByName(fieldName(segment)); ok && f.IsExported() {
		acc = accessor{kind: accessorField, index: f.Index}
	} else if m, ok := typ.MethodByName(fieldName(segment)); ok && isGetter(m.Type) {
		acc = accessor{kind: accessorMethod, method: m.Index}
	}

	accessors.Store(key, acc)
	return acc
}

func invokeMethod(recv reflect.Value, index int) (any, bool) {
	return invoke(recv.Method(index))
}

// invoke calls a zero-argument func value, mapping panics and error
// returns to absent.
func invoke(fn reflect.Value) (result any, ok bool) {
	t := fn.Type()
	if t.NumIn() != 0 || t.NumOut() == 0 || t.NumOut() > 2 {
		return nil, false
	}
	defer func() {
		if recover() != nil {
			result, ok = nil, false
		}
	}()
	out := fn.Call(nil)
	if len(out) == 2 {
		if err, _ := out[1].Interface().(error); err != nil {
			return nil, false
		}
	}
	return indirect(out[0]), true
}

func isGetter(t reflect.Type) bool {
	// NumIn includes the receiver for method types.
	return t.NumIn() == 1 && t.NumOut() >= 1 && t.NumOut() <= 2
}

// indirect unwraps interface and nil-pointer values so callers see a
// plain nil instead of a typed nil.
func indirect(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	if v.Kind() == reflect.Interface && v.IsNil() {
		return nil
	}
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return nil
	}
	return v.Interface()
}

// initialisms that Go style keeps fully upper-cased in identifiers.
var initialisms = map[string]string{
	"id":   "ID",
	"url":  "URL",
	"uuid": "UUID",
	"api":  "API",
	"html": "HTML",
	"json": "JSON",
	"sql":  "SQL",
	"http": "HTTP",
}

// fieldName converts a snake_case template segment to the exported Go
// identifier form: "get_full_name" -> "GetFullName", "user_id" ->
// "UserID".
func fieldName(segment string) string {
	parts := strings.Split(segment, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if up, ok := initialisms[p]; ok {
			b.WriteString(up)
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

// methodName is fieldName for callable segments; "all" maps to the
// conventional collection accessor All.
func methodName(segment string) string {
	return fieldName(segment)
}
