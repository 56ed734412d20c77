package nettools

import (
	"slices"
	"sort"
)

// Necessity marks whether a field must resolve to a value.
type Necessity int

const (
	Required Necessity = iota
	Optional
)

func (n Necessity) String() string {
	switch n {
	case Required:
		return "required"
	case Optional:
		return "optional"
	default:
		return "unknown"
	}
}

// Scope selects the serialization context a Metadata entry applies to:
// either the top-level call or embedding under one of a set of parent
// parameter types.
type Scope struct {
	parents []string
}

// TopLevel is the scope of fields serialized directly by a call.
func TopLevel() Scope {
	return Scope{}
}

// NestedUnder is the scope of fields serialized while embedded in a
// parameter object whose ParameterType is one of parentTypes.
func NestedUnder(parentTypes ...string) Scope {
	return Scope{parents: slices.Clone(parentTypes)}
}

// IsTopLevel reports whether the scope is TopLevel.
func (s Scope) IsTopLevel() bool {
	return len(s.parents) == 0
}

// Parents returns the parent types of a nested scope.
func (s Scope) Parents() []string {
	return slices.Clone(s.parents)
}

func (s Scope) appliesTo(parentType string) bool {
	if parentType == "" {
		return s.IsTopLevel()
	}
	return slices.Contains(s.parents, parentType)
}

// Metadata declares how one field is placed in the flattened output for a
// given scope. An empty Path places the value under the field name.
type Metadata struct {
	Necessity Necessity
	Path      []string
	Scope     Scope
}

// Top declares a top-level placement at path.
func Top(n Necessity, path ...string) Metadata {
	return Metadata{Necessity: n, Path: path, Scope: TopLevel()}
}

// Under declares a placement at path used when the field's object is
// embedded in a parameter object of type parentType.
func Under(parentType string, n Necessity, path ...string) Metadata {
	return Metadata{Necessity: n, Path: path, Scope: NestedUnder(parentType)}
}

// Trigger is the state of the owning field that activates a Constraint.
type Trigger int

const (
	IfSet Trigger = iota
	IfNotSet
)

func (t Trigger) String() string {
	if t == IfNotSet {
		return "not set"
	}
	return "set"
}

// Requirement is the state a Constraint imposes on its dependents.
type Requirement int

const (
	MustBeSet Requirement = iota
	MustNotBeSet
)

func (r Requirement) String() string {
	if r == MustNotBeSet {
		return "must not be set"
	}
	return "must be set"
}

// Constraint ties the presence of dependent fields to the state of the
// field that owns it. Dependents are checked in order.
type Constraint struct {
	Trigger     Trigger
	Requirement Requirement
	Dependents  []string
}

// Requires is the IfSet/MustBeSet constraint.
func Requires(dependents ...string) Constraint {
	return Constraint{Trigger: IfSet, Requirement: MustBeSet, Dependents: dependents}
}

// Excludes is the IfSet/MustNotBeSet constraint.
func Excludes(dependents ...string) Constraint {
	return Constraint{Trigger: IfSet, Requirement: MustNotBeSet, Dependents: dependents}
}

// RequiresUnless is the IfNotSet/MustBeSet constraint: when the owning field
// is absent every dependent must be present.
func RequiresUnless(dependents ...string) Constraint {
	return Constraint{Trigger: IfNotSet, Requirement: MustBeSet, Dependents: dependents}
}

// Field is one row of a parameter object's declaration table.
type Field struct {
	Name        string
	Value       Value
	Metadata    []Metadata
	Constraints []Constraint
}

// NewField declares a field with its value and placements.
func NewField(name string, v Value, metadata ...Metadata) Field {
	return Field{Name: name, Value: v, Metadata: metadata}
}

// With returns a copy of f carrying the additional constraints.
func (f Field) With(constraints ...Constraint) Field {
	f.Constraints = append(slices.Clone(f.Constraints), constraints...)
	return f
}

func (f Field) metadataFor(parentType string) (Metadata, bool) {
	for _, m := range f.Metadata {
		if m.Scope.appliesTo(parentType) {
			return m, true
		}
	}
	return Metadata{}, false
}

func (f Field) path(m Metadata) []string {
	if len(m.Path) == 0 {
		return []string{f.Name}
	}
	return m.Path
}

// Parameters is a caller-built parameter object. ParameterType identifies
// the object when it is embedded in another one; ParameterFields is its
// declaration table, built from the object's current values.
type Parameters interface {
	ParameterType() string
	ParameterFields() []Field
}

// Raw adapts a plain key/value mapping into Parameters: every key becomes
// an Optional top-level field, so nil values are dropped. Keys are used
// verbatim; nest values by passing a map[string]any.
type Raw map[string]any

// ParameterType implements Parameters.
func (r Raw) ParameterType() string {
	return "Raw"
}

// ParameterFields implements Parameters.
func (r Raw) ParameterFields() []Field {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, NewField(k, Primitive(r[k]), Top(Optional, k)))
	}
	return fields
}
