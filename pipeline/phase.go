package pipeline

import (
	"context"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
)

// Phase is one validation step over a walked resource. A single Phase value
// serves all requests, so implementations must be safe for concurrent use.
// Conformance problems are issues; an error means the phase could not run.
type Phase interface {
	Name() string
	Validate(ctx context.Context, pctx *Context) ([]fv.Issue, error)
}

// PhaseID names a registered phase.
type PhaseID string

const (
	PhaseIDStructure    PhaseID = "structure"
	PhaseIDCardinality  PhaseID = "cardinality"
	PhaseIDPrimitives   PhaseID = "primitives"
	PhaseIDFixedPattern PhaseID = "fixed-pattern"
	PhaseIDReferences   PhaseID = "references"
	PhaseIDSlicing      PhaseID = "slicing"
	PhaseIDExtensions   PhaseID = "extensions"
	PhaseIDTerminology  PhaseID = "terminology"
	PhaseIDConstraints  PhaseID = "constraints"
)

// PhasePriority orders phases: lower runs first, ties keep registration
// order.
type PhasePriority int

const (
	PriorityFirst  PhasePriority = 100 // structure
	PriorityEarly  PhasePriority = 200 // per-element checks
	PriorityNormal PhasePriority = 500
	PriorityLate   PhasePriority = 800 // support lookups
	PriorityLast   PhasePriority = 900 // invariants
)

// When returns a phase that runs p only for contexts satisfying cond.
func When(cond func(*Context) bool, p Phase) Phase {
	return gated{Phase: p, cond: cond}
}

type gated struct {
	Phase
	cond func(*Context) bool
}

func (g gated) Validate(ctx context.Context, pctx *Context) ([]fv.Issue, error) {
	if !g.cond(pctx) {
		return nil, nil
	}
	return g.Phase.Validate(ctx, pctx)
}
