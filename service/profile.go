// Package service defines the lookup contract shared by the definition
// providers, the support chain that aggregates them and the cache in front.
package service

import "strings"

// StructureDefinition represents a FHIR StructureDefinition.
// This is a simplified internal representation.
type StructureDefinition struct {
	URL            string
	Version        string
	Name           string
	Type           string
	Kind           string
	Abstract       bool
	BaseDefinition string
	Derivation     string
	FHIRVersion    string
	Snapshot       []ElementDefinition
	Differential   []ElementDefinition
}

// HasSnapshot reports whether the definition can be validated against as is.
func (sd *StructureDefinition) HasSnapshot() bool {
	return sd != nil && len(sd.Snapshot) > 0
}

// IsResource reports whether the definition describes a resource type.
func (sd *StructureDefinition) IsResource() bool {
	return sd != nil && sd.Kind == "resource"
}

// ElementDefinition represents a FHIR ElementDefinition.
type ElementDefinition struct {
	ID               string
	Path             string
	SliceName        string
	Short            string
	Min              int
	Max              string
	Types            []TypeRef
	Fixed            any
	Pattern          any
	Binding          *Binding
	Constraints      []Constraint
	MustSupport      bool
	IsModifier       bool
	IsSummary        bool
	Slicing          *Slicing
	ContentReference string
}

// Name returns the last path segment, e.g. "value[x]" for "Observation.value[x]".
func (e *ElementDefinition) Name() string {
	if i := strings.LastIndexByte(e.Path, '.'); i >= 0 {
		return e.Path[i+1:]
	}
	return e.Path
}

// IsChoice reports whether the element is a choice of types.
func (e *ElementDefinition) IsChoice() bool {
	return strings.HasSuffix(e.Path, "[x]")
}

// IsSlice reports whether the element defines a slice rather than the base element.
func (e *ElementDefinition) IsSlice() bool {
	return e.SliceName != "" || strings.Contains(e.ID, ":")
}

// IsArray reports whether the element may repeat.
func (e *ElementDefinition) IsArray() bool {
	return e.Max != "" && e.Max != "0" && e.Max != "1"
}

// IsProhibited reports whether the element is constrained out (max = 0).
func (e *ElementDefinition) IsProhibited() bool {
	return e.Max == "0"
}

// TypeCodes returns the declared type codes.
func (e *ElementDefinition) TypeCodes() []string {
	codes := make([]string, len(e.Types))
	for i, t := range e.Types {
		codes[i] = t.Code
	}
	return codes
}

// TypeRef represents a type reference in an ElementDefinition.
type TypeRef struct {
	Code          string
	Profile       []string
	TargetProfile []string
}

// Binding represents a terminology binding.
type Binding struct {
	Strength    string
	ValueSet    string
	Description string
}

// Binding strengths.
const (
	BindingRequired   = "required"
	BindingExtensible = "extensible"
	BindingPreferred  = "preferred"
	BindingExample    = "example"
)

// Constraint represents a FHIRPath constraint.
type Constraint struct {
	Key        string
	Severity   string
	Human      string
	Expression string
	XPath      string
	Source     string
}

// Slicing represents element slicing rules.
type Slicing struct {
	Discriminator []Discriminator
	Description   string
	Ordered       bool
	Rules         string
}

// Discriminator defines how slices are differentiated.
type Discriminator struct {
	Type string
	Path string
}

// CoreURL returns the canonical URL of a core R4 type definition.
func CoreURL(typeName string) string {
	return CorePrefix + typeName
}

// CorePrefix is the canonical base of core StructureDefinitions.
const CorePrefix = "http://hl7.org/fhir/StructureDefinition/"
