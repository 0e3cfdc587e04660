package phase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/pipeline"
	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"github.com/PraveenKS30/hl7-fhir-validator/walker"
)

// ConstraintsPhase evaluates the FHIRPath invariants of the definitions
// against the objects of the instance.
type ConstraintsPhase struct {
	evaluator service.FHIRPathEvaluator
	wellKnown *WellKnownConstraints
}

// NewConstraintsPhase creates a new constraint validation phase. With a nil
// evaluator only the well-known constraints are checked.
func NewConstraintsPhase(evaluator service.FHIRPathEvaluator) *ConstraintsPhase {
	return &ConstraintsPhase{
		evaluator: evaluator,
		wellKnown: &WellKnownConstraints{},
	}
}

// Name returns the phase name.
func (p *ConstraintsPhase) Name() string {
	return "constraints"
}

// Validate evaluates constraints.
func (p *ConstraintsPhase) Validate(ctx context.Context, pctx *pipeline.Context) ([]fv.Issue, error) {
	var issues []fv.Issue

	for _, o := range objects(pctx.Root) {
		nested := o.Resource && o != pctx.Root
		for _, c := range o.Constraints() {
			// DomainResource invariants are about the resource itself, not
			// the resources it contains.
			if nested && strings.HasPrefix(c.Key, "dom-") {
				continue
			}
			issue, ok, err := p.evaluateConstraint(ctx, o, c)
			if err != nil {
				return nil, err
			}
			if ok {
				issues = append(issues, issue)
			}
		}
	}

	return issues, nil
}

// evaluateConstraint returns the issue for a violated or unevaluable
// constraint. Only context errors are returned as errors.
func (p *ConstraintsPhase) evaluateConstraint(ctx context.Context, o *walker.Object, c service.Constraint) (fv.Issue, bool, error) {
	var (
		satisfied bool
		err       error
	)
	switch {
	case p.wellKnown.CanEvaluate(c.Key):
		satisfied, err = p.wellKnown.Evaluate(c.Key, o.Value)
	case c.Expression == "" || p.evaluator == nil:
		return fv.Issue{}, false, nil
	default:
		satisfied, err = p.evaluator.Evaluate(ctx, c.Expression, o.Value)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fv.Issue{}, false, err
		}
		issue := fv.Warning(fv.IssueTypeProcessing).
			Diagnostics(fmt.Sprintf("Error evaluating constraint %s: %v (expression: %s)", c.Key, err, c.Expression)).
			At(o.Path).
			Phase(p.Name()).
			Constraint(c.Key).
			Build()
		return issue, true, nil
	}
	if satisfied {
		return fv.Issue{}, false, nil
	}

	issue := fv.NewIssue(constraintSeverity(c.Severity), fv.IssueTypeInvariant).
		Diagnostics(constraintMessage(c)).
		At(o.Path).
		Phase(p.Name()).
		Constraint(c.Key).
		Build()
	return issue, true, nil
}

// constraintSeverity maps a constraint severity to an issue severity.
// Unknown severities are treated as errors.
func constraintSeverity(severity string) fv.IssueSeverity {
	if severity == "warning" {
		return fv.SeverityWarning
	}
	return fv.SeverityError
}

func constraintMessage(c service.Constraint) string {
	if c.Human != "" {
		return fmt.Sprintf("Constraint %s violated: %s", c.Key, c.Human)
	}
	return fmt.Sprintf("Constraint %s violated (expression: %s)", c.Key, c.Expression)
}

// WellKnownConstraints evaluates the constraints every element carries
// without a FHIRPath engine.
type WellKnownConstraints struct{}

// CanEvaluate returns true if this constraint can be evaluated without FHIRPath.
func (w *WellKnownConstraints) CanEvaluate(key string) bool {
	switch key {
	case "ele-1", "ext-1":
		return true
	default:
		return false
	}
}

// Evaluate evaluates a well-known constraint against a decoded object.
func (w *WellKnownConstraints) Evaluate(key string, value any) (bool, error) {
	switch key {
	case "ele-1":
		return w.evaluateEle1(value), nil
	case "ext-1":
		return w.evaluateExt1(value), nil
	default:
		return false, fmt.Errorf("unknown constraint: %s", key)
	}
}

// evaluateEle1 checks "hasValue() or (children().count() > id.count())":
// an object needs a property other than id.
func (w *WellKnownConstraints) evaluateEle1(value any) bool {
	m, ok := value.(map[string]any)
	if !ok {
		return value != nil
	}
	for key := range m {
		if key != "id" {
			return true
		}
	}
	return false
}

// evaluateExt1 checks "extension.exists() != value.exists()": an extension
// has either nested extensions or a value, not both.
func (w *WellKnownConstraints) evaluateExt1(value any) bool {
	m, ok := value.(map[string]any)
	if !ok {
		return true
	}

	hasExtension := false
	hasValue := false
	for key := range m {
		if key == "extension" {
			hasExtension = true
		}
		if len(key) > len("value") && strings.HasPrefix(key, "value") {
			hasValue = true
		}
	}
	return hasExtension != hasValue
}
