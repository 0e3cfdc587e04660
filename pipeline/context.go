// Package pipeline runs validation phases in a fixed order over one walked
// resource.
package pipeline

import (
	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"github.com/PraveenKS30/hl7-fhir-validator/walker"
)

// Context holds the state of one validation pass: the resource, the
// definition it is checked against and the walked tree.
//
// A Context is used by one goroutine at a time. Phases read it and return
// their issues; the pipeline accumulates them.
type Context struct {
	// Resource is the parsed resource being validated
	Resource *fv.Resource

	// Profile is the StructureDefinition of this pass, the core definition
	// of the resource type or a declared profile
	Profile *service.StructureDefinition

	// Root is the walked instance
	Root *walker.Object

	// Support answers terminology and definition lookups
	Support service.ValidationSupport

	// Options holds validation options
	Options *fv.Options

	issues []fv.Issue
	errors int
}

// NewContext creates a Context for one pass. A nil opts means the defaults.
func NewContext(res *fv.Resource, profile *service.StructureDefinition, root *walker.Object, support service.ValidationSupport, opts *fv.Options) *Context {
	if opts == nil {
		opts = fv.DefaultOptions()
	}
	return &Context{
		Resource: res,
		Profile:  profile,
		Root:     root,
		Support:  support,
		Options:  opts,
	}
}

// AddIssues appends issues to the pass.
func (c *Context) AddIssues(issues ...fv.Issue) {
	for _, issue := range issues {
		if issue.IsError() {
			c.errors++
		}
	}
	c.issues = append(c.issues, issues...)
}

// Issues returns the issues accumulated so far, in production order.
func (c *Context) Issues() []fv.Issue {
	return c.issues
}

// ErrorCount returns the number of error and fatal issues so far.
func (c *Context) ErrorCount() int {
	return c.errors
}

// ShouldStop returns true if validation should stop (max errors reached).
func (c *Context) ShouldStop() bool {
	if c.Options == nil || c.Options.MaxErrors <= 0 {
		return false
	}
	return c.errors >= c.Options.MaxErrors
}

// ProfileURL returns the canonical URL of the definition of this pass.
func (c *Context) ProfileURL() string {
	if c.Profile == nil {
		return ""
	}
	return c.Profile.URL
}
