package nettools

import (
	"fmt"
	"reflect"
)

// Value is the closed set of shapes a parameter field can hold. A nil
// Value is an absent field. The constructors below are the only way to
// build one; each of them maps nil inputs to absence.
type Value interface {
	value()
}

type primitiveValue struct{ v any }

type enumValue struct{ v fmt.Stringer }

type objectValue struct{ v any }

type nestedValue struct{ p Parameters }

type listValue struct{ items []Value }

func (primitiveValue) value() {}
func (enumValue) value()      {}
func (objectValue) value()    {}
func (nestedValue) value()    {}
func (listValue) value()      {}

// Primitive passes v through to the output untouched. Presence is nil-style:
// false, 0 and "" are present values.
func Primitive(v any) Value {
	if isNil(v) {
		return nil
	}
	return primitiveValue{v: v}
}

// Ptr is Primitive(*p), or absent when p is nil.
func Ptr[T any](p *T) Value {
	if p == nil {
		return nil
	}
	return primitiveValue{v: *p}
}

// Enum serializes to e.String().
func Enum(e fmt.Stringer) Value {
	if isNil(e) {
		return nil
	}
	return enumValue{v: e}
}

// Mapper is implemented by domain objects that know their own flat form.
type Mapper interface {
	ParameterMap() map[string]any
}

// Object flattens a pre-built domain object to a plain mapping, through
// Mapper when implemented and a JSON round trip otherwise.
func Object(v any) Value {
	if isNil(v) {
		return nil
	}
	return objectValue{v: v}
}

// Nested embeds another parameter object. It is flattened with the
// enclosing object's ParameterType as its context.
func Nested(p Parameters) Value {
	if isNil(p) {
		return nil
	}
	return nestedValue{p: p}
}

// List serializes each item in order; absent items are dropped.
func List(items ...Value) Value {
	return listValue{items: items}
}

// ListOf builds a List from a slice, or absent when items is nil.
func ListOf[T any](items []T, fn func(T) Value) Value {
	if items == nil {
		return nil
	}
	values := make([]Value, len(items))
	for i, item := range items {
		values[i] = fn(item)
	}
	return listValue{items: values}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
