package phase

import (
	"context"
	"encoding/json"
	"fmt"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/pipeline"
	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"github.com/PraveenKS30/hl7-fhir-validator/walker"
)

// FixedPatternPhase validates fixed[x] and pattern[x] values.
// A fixed value must be matched exactly; a pattern must be contained in the
// instance value, which may carry additional properties and array items.
type FixedPatternPhase struct{}

// NewFixedPatternPhase creates a new fixed/pattern validation phase.
func NewFixedPatternPhase() *FixedPatternPhase {
	return &FixedPatternPhase{}
}

// Name returns the phase name.
func (p *FixedPatternPhase) Name() string {
	return "fixed-pattern"
}

// Validate performs fixed/pattern validation.
func (p *FixedPatternPhase) Validate(ctx context.Context, pctx *pipeline.Context) ([]fv.Issue, error) {
	var issues []fv.Issue

	for _, o := range objects(pctx.Root) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, el := range o.Elements {
			if el.Def.Fixed == nil && el.Def.Pattern == nil {
				continue
			}
			for _, v := range el.Values {
				if v.Value == nil {
					continue
				}
				if issue, ok := p.validateValue(el.Def, v); ok {
					issues = append(issues, issue)
				}
			}
		}
	}

	return issues, nil
}

func (p *FixedPatternPhase) validateValue(def *service.ElementDefinition, v *walker.Value) (fv.Issue, bool) {
	if def.Fixed != nil && !deepEqual(v.Value, def.Fixed) {
		return errorAt(
			fv.IssueTypeValue,
			fmt.Sprintf("Value does not match fixed value. Expected: %s, got: %s", render(def.Fixed), render(v.Value)),
			v.Path,
			p.Name(),
		), true
	}
	if def.Pattern != nil && !matchesPattern(v.Value, def.Pattern) {
		return errorAt(
			fv.IssueTypeValue,
			fmt.Sprintf("Value does not match pattern. Required pattern: %s", render(def.Pattern)),
			v.Path,
			p.Name(),
		), true
	}
	return fv.Issue{}, false
}

// render formats a value as compact JSON for diagnostics.
func render(value any) string {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(b)
}

// matchesPattern reports whether value contains pattern: every property of
// a pattern object is present and matching, every item of a pattern array
// matches some item of the value array.
func matchesPattern(value, pattern any) bool {
	if pattern == nil {
		return true
	}

	switch pat := pattern.(type) {
	case map[string]any:
		valMap, ok := value.(map[string]any)
		if !ok {
			return false
		}
		for key, patValue := range pat {
			valValue, exists := valMap[key]
			if !exists || !matchesPattern(valValue, patValue) {
				return false
			}
		}
		return true

	case []any:
		valArr, ok := value.([]any)
		if !ok {
			return false
		}
		for _, patItem := range pat {
			found := false
			for _, valItem := range valArr {
				if matchesPattern(valItem, patItem) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true

	default:
		return deepEqual(value, pattern)
	}
}

// deepEqual compares decoded JSON values. Numbers compare by value whether
// they were decoded as json.Number or come from a definition as int or
// float64.
func deepEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if _, _, err := toDecimal(a); err == nil {
		return numbersEqual(a, b)
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv

	case bool:
		bv, ok := b.(bool)
		return ok && av == bv

	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, aVal := range av {
			bVal, exists := bv[key]
			if !exists || !deepEqual(aVal, bVal) {
				return false
			}
		}
		return true

	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}

	return false
}

func numbersEqual(a, b any) bool {
	ad, _, err := toDecimal(a)
	if err != nil {
		return false
	}
	bd, _, err := toDecimal(b)
	if err != nil {
		return false
	}
	return ad.Equal(bd)
}
