package nettools

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strings"
)

// Flattened is the nested string-keyed mapping produced by Flatten. Each call
// returns a fresh value owned by the caller.
type Flattened map[string]any

// Clone returns a deep copy of the mapping levels of f.
func (f Flattened) Clone() Flattened {
	if f == nil {
		return nil
	}
	return Flattened(cloneMap(f))
}

// Flatten validates p and converts it into its nested key/value form.
// parentType is "" for a top-level call, or the ParameterType of the object
// p is embedded in. Required fields that are absent fail with
// *MissingParameterError, violated constraints with
// *InvalidParameterPairError. Path collisions against non-mapping values are
// metadata bugs and panic.
func Flatten(p Parameters, parentType string) (Flattened, error) {
	out := Flattened{}
	if isNil(p) {
		return out, nil
	}

	typ := p.ParameterType()
	fields := p.ParameterFields()

	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		present[f.Name] = f.Value != nil
	}

	for _, f := range fields {
		meta, ok := f.metadataFor(parentType)
		if !ok {
			continue
		}

		if err := checkConstraints(typ, f, present); err != nil {
			return nil, err
		}

		if f.Value == nil {
			if meta.Necessity == Required {
				return nil, &MissingParameterError{Type: typ, Field: f.Name}
			}
			continue
		}

		v, err := serializeValue(f.Value, typ)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}

		insertAt(out, f.path(meta), v, typ, f.Name)
	}

	stripAbsent(out)
	return out, nil
}

func checkConstraints(typ string, f Field, present map[string]bool) error {
	isSet := f.Value != nil
	for _, c := range f.Constraints {
		if (c.Trigger == IfSet) != isSet {
			continue
		}
		for _, dep := range c.Dependents {
			depSet, declared := present[dep]
			if !declared {
				panic(fmt.Sprintf("nettools: constraint on %s.%s names undeclared field %q", typ, f.Name, dep))
			}
			if (c.Requirement == MustBeSet) != depSet {
				return &InvalidParameterPairError{
					Type:        typ,
					Field:       f.Name,
					Dependent:   dep,
					Trigger:     c.Trigger,
					Requirement: c.Requirement,
				}
			}
		}
	}
	return nil
}

// serializeValue returns nil for values that resolve to nothing, such as a
// nested object whose fields were all absent.
func serializeValue(v Value, enclosingType string) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case primitiveValue:
		return v.v, nil
	case enumValue:
		return v.v.String(), nil
	case nestedValue:
		m, err := Flatten(v.p, enclosingType)
		if err != nil {
			return nil, err
		}
		if len(m) == 0 {
			return nil, nil
		}
		return map[string]any(m), nil
	case objectValue:
		return objectToMap(v.v)
	case listValue:
		items := make([]any, 0, len(v.items))
		for _, item := range v.items {
			s, err := serializeValue(item, enclosingType)
			if err != nil {
				return nil, err
			}
			if s != nil {
				items = append(items, s)
			}
		}
		return items, nil
	default:
		panic(fmt.Sprintf("nettools: unsupported parameter value %T", v))
	}
}

func objectToMap(v any) (any, error) {
	if m, ok := v.(Mapper); ok {
		flat := m.ParameterMap()
		if flat == nil {
			return nil, nil
		}
		return cloneMap(flat), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Type: typeName(v), Cause: err}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &SerializationError{Type: typeName(v), Cause: err}
	}
	if out == nil {
		return nil, nil
	}
	return out, nil
}

func insertAt(out map[string]any, path []string, v any, typ, field string) {
	if m, ok := v.(map[string]any); ok {
		v = cloneMap(m)
	}

	cur := out
	for i, key := range path[:len(path)-1] {
		existing, ok := cur[key]
		if !ok {
			next := map[string]any{}
			cur[key] = next
			cur = next
			continue
		}
		next, isMap := existing.(map[string]any)
		if !isMap {
			panicCollision(path[:i+1], typ, field)
		}
		cur = next
	}

	last := path[len(path)-1]
	existing, ok := cur[last]
	if !ok {
		cur[last] = v
		return
	}
	dst, dstIsMap := existing.(map[string]any)
	src, srcIsMap := v.(map[string]any)
	if !dstIsMap || !srcIsMap {
		panicCollision(path, typ, field)
	}
	mergeMaps(dst, src, path, typ, field)
}

func mergeMaps(dst, src map[string]any, path []string, typ, field string) {
	for k, sv := range src {
		dv, ok := dst[k]
		if !ok {
			dst[k] = sv
			continue
		}
		at := append(append([]string{}, path...), k)
		dm, dstIsMap := dv.(map[string]any)
		sm, srcIsMap := sv.(map[string]any)
		if !dstIsMap || !srcIsMap {
			panicCollision(at, typ, field)
		}
		mergeMaps(dm, sm, at, typ, field)
	}
}

func panicCollision(path []string, typ, field string) {
	panic(fmt.Sprintf("nettools: parameter path %q of %s.%s collides with a non-mapping value",
		strings.Join(path, "."), typ, field))
}

// stripAbsent removes nil entries, and mappings emptied by that removal.
func stripAbsent(m map[string]any) {
	for k, v := range m {
		switch t := v.(type) {
		case nil:
			delete(m, k)
		case map[string]any:
			if len(t) == 0 {
				continue
			}
			stripAbsent(t)
			if len(t) == 0 {
				delete(m, k)
			}
		}
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := maps.Clone(m)
	for k, v := range out {
		if sub, ok := v.(map[string]any); ok {
			out[k] = cloneMap(sub)
		}
	}
	return out
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
