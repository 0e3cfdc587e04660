package service

import (
	"context"
	"strings"
)

// ValueSet represents a FHIR ValueSet.
// This is a simplified internal representation.
type ValueSet struct {
	URL     string
	Version string
	Name    string
	Status  string
	Include []ConceptSet
	Exclude []ConceptSet

	// Expansion holds the flattened expansion.contains entries, if any
	Expansion []Concept
}

// ConceptSet is a ValueSet.compose include or exclude entry.
type ConceptSet struct {
	System    string
	Version   string
	Concepts  []Concept
	Filters   []Filter
	ValueSets []string
}

// IncludesWholeSystem reports whether the set selects every code of System.
func (c *ConceptSet) IncludesWholeSystem() bool {
	return c.System != "" && len(c.Concepts) == 0 && len(c.Filters) == 0
}

// Filter is a ValueSet.compose.include.filter entry.
type Filter struct {
	Property string
	Op       string
	Value    string
}

// CodeSystem represents a FHIR CodeSystem with its concepts flattened.
type CodeSystem struct {
	URL           string
	Version       string
	Name          string
	Content       string
	CaseSensitive bool
	Concepts      []Concept
}

// Concept is a code with its display. Parents lists the codes this concept
// is subsumed by, from nesting or the subsumedBy property.
type Concept struct {
	System  string
	Code    string
	Display string
	Parents []string
}

// CodeRequest asks whether a code is valid. With ValueSet set the question is
// membership in that value set; otherwise it is existence in System.
type CodeRequest struct {
	System   string
	Code     string
	Display  string
	ValueSet string
}

// CacheKey identifies the request for memoization.
func (r CodeRequest) CacheKey() string {
	return r.System + "|" + r.Code + "|" + r.Display + "|" + r.ValueSet
}

// ValidateCodeResult holds the result of code validation.
type ValidateCodeResult struct {
	Valid   bool
	Message string
	Display string
	Code    string
	System  string

	// DisplayMismatch is set when the code is valid but the supplied display
	// differs from the one the terminology knows
	DisplayMismatch bool
}

// FHIRPathEvaluator evaluates FHIRPath expressions.
type FHIRPathEvaluator interface {
	// Evaluate evaluates a FHIRPath expression against a resource or element.
	// Returns true if the constraint is satisfied, false otherwise.
	Evaluate(ctx context.Context, expression string, resource any) (bool, error)
}

// StripVersion removes the "|version" suffix from a canonical URL.
// FHIR uses the format "url|version" (e.g., "http://hl7.org/fhir/ValueSet/request-status|4.0.1")
func StripVersion(url string) string {
	if idx := strings.LastIndexByte(url, '|'); idx != -1 {
		return url[:idx]
	}
	return url
}
