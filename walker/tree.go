package walker

import "github.com/PraveenKS30/hl7-fhir-validator/service"

// Object is a JSON object of the instance, matched against the definitions
// of its children.
type Object struct {
	// Path is the FHIRPath location with indices, e.g. "Patient.contact[0]"
	Path string

	// DefPath is the definition path of the object, e.g. "Patient.contact".
	// Child definitions are looked up below it.
	DefPath string

	// Type is the resource type, datatype or BackboneElement
	Type string

	// Def is the definition of the object in its parent, nil for the root
	Def *service.ElementDefinition

	// SD and Index hold the definitions of the children; both are nil when
	// no definition is available and the object is opaque
	SD    *service.StructureDefinition
	Index *ElementIndex

	// Value is the decoded JSON object
	Value map[string]any

	// Resource is set for the root and for nested resources
	Resource bool

	// Elements are the defined children present in the instance, in
	// definition order
	Elements []*Element

	// Unknown are the sorted property names that match no definition
	Unknown []string
}

// Opaque reports whether the object's children cannot be checked because
// no definition is available for its type.
func (o *Object) Opaque() bool {
	return o.Index == nil
}

// Definitions returns the child definitions of the object in definition
// order.
func (o *Object) Definitions() []*service.ElementDefinition {
	if o.Opaque() {
		return nil
	}
	return o.Index.Children(o.DefPath)
}

// Count returns the number of present values defined by def.
func (o *Object) Count(def *service.ElementDefinition) int {
	n := 0
	for _, el := range o.Elements {
		if el.Def != def {
			continue
		}
		for _, v := range el.Values {
			if v.Present() {
				n++
			}
		}
	}
	return n
}

// Constraints returns the invariants that apply to the object: those of its
// definition in the parent and, when the object switched to the definition
// of its type, those on the root of that definition.
func (o *Object) Constraints() []service.Constraint {
	var out []service.Constraint
	if o.Def != nil {
		out = append(out, o.Def.Constraints...)
	}
	if !o.Opaque() {
		if root := o.Index.Root(); root != nil && root.Path == o.DefPath && root != o.Def {
			out = append(out, root.Constraints...)
		}
	}
	return out
}

// Walk calls fn for o and every object below it, parents first. Walking
// stops when fn returns false.
func (o *Object) Walk(fn func(*Object) bool) bool {
	if !fn(o) {
		return false
	}
	for _, el := range o.Elements {
		for _, v := range el.Values {
			if v.Object != nil && !v.Object.Walk(fn) {
				return false
			}
		}
	}
	return true
}

// Element is one JSON property of an object together with the definition it
// matched.
type Element struct {
	// Key is the JSON property name, e.g. "valueQuantity"
	Key string

	// Def is the matched definition, e.g. "Observation.value[x]"
	Def *service.ElementDefinition

	// Type is the concrete type code, resolved for choice elements
	Type string

	// Array is set when the property holds a JSON array
	Array bool

	// Raw and RawExt are the property and its "_key" sibling as found
	Raw    any
	RawExt any

	Values []*Value
}

// Value is one occurrence of an element.
type Value struct {
	// Path is the FHIRPath location, e.g. "Patient.name[0]"
	Path string

	// Index is the position in the array, -1 for a single value
	Index int

	// Value is the JSON value, nil when only the extension part is present
	Value any

	// Ext is the matching entry of the "_key" sibling of a primitive
	Ext any

	// Object is set for complex values
	Object *Object
}

// Present reports whether the occurrence carries a value or an extension.
func (v *Value) Present() bool {
	return v.Value != nil || v.Ext != nil
}
