// Package reflect implements the Reflector capability: exposing an
// arbitrary structured Go value as parallel (names, values) sequences
// with a stable field order across calls when the caller asserts a
// persistent shape.
//
// This is the concrete default for the collaborator spec.md treats as
// an external abstraction ("generic metric-container reflection").
// Callers that already have a faster, type-specific way to produce a
// (names, values) pair can implement Reflector themselves instead.
package reflect

import (
	"fmt"
	"reflect"
)

// Target is the capability a SerializationCell exposes to a Reflector:
// enough surface to populate a names/values pair in place without the
// reflector needing to know how the cell stores them.
type Target interface {
	Size() int
	Resize(n int)
	Reserve(n int)
	SetName(i int, name string)
	SetValue(i int, v float64)
}

// Reflector walks a structured value and writes its fields into target.
// When persistentStructure is true, implementations may assume the
// field count and order are unchanged from the previous call and skip
// recomputing names.
type Reflector interface {
	Reflect(target Target, value any, persistentStructure bool) error
}

// StructReflector is the default Reflector: it walks the exported fields
// of a struct (recursing into nested structs and fixed-size/slice
// fields of numeric or boolean leaves) via the standard reflect
// package, and writes dotted field paths as names.
type StructReflector struct{}

// Reflect implements Reflector.
func (StructReflector) Reflect(target Target, value any, persistentStructure bool) error {
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return fmt.Errorf("reflect: nil pointer source")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("reflect: source must be a struct, got %s", rv.Kind())
	}

	if persistentStructure && target.Size() > 0 {
		idx := 0
		walkValues(rv, &idx, target)
		return nil
	}

	var names []string
	walkNames(rv, "", &names)

	target.Resize(len(names))
	target.Reserve(len(names))
	for i, name := range names {
		target.SetName(i, name)
	}

	idx := 0
	walkValues(rv, &idx, target)
	return nil
}

func fieldPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func walkNames(rv reflect.Value, prefix string, names *[]string) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}
		fv := rv.Field(i)
		path := fieldPath(prefix, field.Name)
		walkFieldNames(fv, path, names)
	}
}

func walkFieldNames(fv reflect.Value, path string, names *[]string) {
	switch fv.Kind() {
	case reflect.Struct:
		walkNames(fv, path, names)
	case reflect.Array, reflect.Slice:
		for i := 0; i < fv.Len(); i++ {
			*names = append(*names, fmt.Sprintf("%s[%d]", path, i))
		}
	default:
		if isNumericKind(fv.Kind()) {
			*names = append(*names, path)
		}
	}
}

func walkValues(rv reflect.Value, idx *int, target Target) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" {
			continue
		}
		fv := rv.Field(i)
		walkFieldValues(fv, idx, target)
	}
}

func walkFieldValues(fv reflect.Value, idx *int, target Target) {
	switch fv.Kind() {
	case reflect.Struct:
		walkValues(fv, idx, target)
	case reflect.Array, reflect.Slice:
		for i := 0; i < fv.Len(); i++ {
			writeLeaf(fv.Index(i), idx, target)
		}
	default:
		if isNumericKind(fv.Kind()) {
			writeLeaf(fv, idx, target)
		}
	}
}

func writeLeaf(fv reflect.Value, idx *int, target Target) {
	if *idx >= target.Size() {
		return
	}
	target.SetValue(*idx, numericValue(fv))
	*idx++
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Float32, reflect.Float64,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Bool:
		return true
	default:
		return false
	}
}

func numericValue(fv reflect.Value) float64 {
	switch fv.Kind() {
	case reflect.Float32, reflect.Float64:
		return fv.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(fv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(fv.Uint())
	case reflect.Bool:
		if fv.Bool() {
			return 1
		}
		return 0
	default:
		return 0
	}
}
