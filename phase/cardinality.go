package phase

import (
	"context"
	"fmt"
	"strconv"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/pipeline"
	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"github.com/PraveenKS30/hl7-fhir-validator/walker"
)

// CardinalityPhase validates element cardinality (min/max constraints).
// It checks that:
// - Required elements (min > 0) are present
// - Prohibited elements (max = 0) are absent
// - Repeating elements don't exceed max cardinality
//
// Required children are only checked inside objects that are present, so
// an absent optional parent does not make its required children missing.
type CardinalityPhase struct{}

// NewCardinalityPhase creates a new cardinality validation phase.
func NewCardinalityPhase() *CardinalityPhase {
	return &CardinalityPhase{}
}

// Name returns the phase name.
func (p *CardinalityPhase) Name() string {
	return "cardinality"
}

// Validate performs cardinality validation.
func (p *CardinalityPhase) Validate(ctx context.Context, pctx *pipeline.Context) ([]fv.Issue, error) {
	var issues []fv.Issue

	for _, o := range objects(pctx.Root) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, def := range o.Definitions() {
			issues = append(issues, p.validateElement(o, def, o.Count(def))...)
		}
	}

	return issues, nil
}

func (p *CardinalityPhase) validateElement(o *walker.Object, def *service.ElementDefinition, count int) []fv.Issue {
	path := childPath(o, def.Name())

	if count < def.Min {
		return []fv.Issue{errorAt(
			fv.IssueTypeRequired,
			fmt.Sprintf("Element '%s' is required (min=%d) but has %d occurrence(s)", path, def.Min, count),
			path,
			p.Name(),
		)}
	}

	limit, ok := parseMax(def.Max)
	if !ok || count <= limit {
		return nil
	}

	if limit == 0 {
		return []fv.Issue{errorAt(
			fv.IssueTypeStructure,
			fmt.Sprintf("Element '%s' is prohibited (max=0) but has %d occurrence(s)", path, count),
			path,
			p.Name(),
		)}
	}
	return []fv.Issue{errorAt(
		fv.IssueTypeStructure,
		fmt.Sprintf("Element '%s' has %d items but max is %d (%s)", path, count, limit, def.Path),
		path,
		p.Name(),
	)}
}

// parseMax parses a max cardinality. "*" and malformed values mean
// unbounded.
func parseMax(maxCard string) (int, bool) {
	if maxCard == "" || maxCard == "*" {
		return 0, false
	}
	n, err := strconv.Atoi(maxCard)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
