package phase

import (
	"context"
	"fmt"
	"strings"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/pipeline"
	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"github.com/PraveenKS30/hl7-fhir-validator/walker"
)

// TerminologyPhase validates codes against terminology.
//
// Elements with a required or extensible binding are checked for membership
// in the bound ValueSet: required violations are errors, extensible ones
// warnings. Preferred and example bindings are not checked. Independently,
// every Coding with a system and a code is checked against its CodeSystem,
// which catches unknown codes and wrong displays.
//
// Lookups no provider can answer are skipped; provider faults abort the
// phase.
type TerminologyPhase struct{}

// NewTerminologyPhase creates a new terminology validation phase.
func NewTerminologyPhase() *TerminologyPhase {
	return &TerminologyPhase{}
}

// Name returns the phase name.
func (p *TerminologyPhase) Name() string {
	return "terminology"
}

// Validate performs terminology validation.
func (p *TerminologyPhase) Validate(ctx context.Context, pctx *pipeline.Context) ([]fv.Issue, error) {
	if pctx.Support == nil {
		return nil, nil
	}

	var issues []fv.Issue
	for _, o := range objects(pctx.Root) {
		for _, el := range o.Elements {
			for _, v := range el.Values {
				if v.Value == nil {
					continue
				}
				found, err := p.validateValue(ctx, pctx.Support, el, v)
				if err != nil {
					return nil, err
				}
				issues = append(issues, found...)
			}
		}
	}
	return issues, nil
}

func (p *TerminologyPhase) validateValue(ctx context.Context, support service.ValidationSupport, el *walker.Element, v *walker.Value) ([]fv.Issue, error) {
	var issues []fv.Issue

	if b := el.Def.Binding; b != nil && b.ValueSet != "" && checkedStrength(b.Strength) {
		found, err := p.validateBinding(ctx, support, b, el.Type, v)
		if err != nil {
			return nil, err
		}
		issues = append(issues, found...)
	}

	if el.Type == "Coding" {
		if coding, ok := v.Value.(map[string]any); ok {
			found, err := p.validateCodeSystem(ctx, support, coding, v.Path)
			if err != nil {
				return nil, err
			}
			issues = append(issues, found...)
		}
	}

	return issues, nil
}

func checkedStrength(strength string) bool {
	return strength == service.BindingRequired || strength == service.BindingExtensible
}

// validateBinding checks a code, Coding or CodeableConcept value against the
// bound ValueSet.
func (p *TerminologyPhase) validateBinding(ctx context.Context, support service.ValidationSupport, b *service.Binding, typeCode string, v *walker.Value) ([]fv.Issue, error) {
	switch typeCode {
	case "code":
		code, _ := v.Value.(string)
		if code == "" {
			return nil, nil
		}
		return p.validateCodings(ctx, support, b, []codingValue{{code: code}}, v.Path)

	case "Coding":
		c, ok := readCoding(v.Value)
		if !ok {
			return nil, nil
		}
		return p.validateCodings(ctx, support, b, []codingValue{c}, v.Path)

	case "CodeableConcept":
		cc, ok := v.Value.(map[string]any)
		if !ok {
			return nil, nil
		}
		var codings []codingValue
		list, _ := cc["coding"].([]any)
		for _, item := range list {
			if c, ok := readCoding(item); ok {
				codings = append(codings, c)
			}
		}
		if len(codings) == 0 {
			if b.Strength == service.BindingRequired && len(list) == 0 {
				return []fv.Issue{errorAt(
					fv.IssueTypeCodeInvalid,
					fmt.Sprintf("No code provided, and a code is required from the value set '%s'", b.ValueSet),
					v.Path,
					p.Name(),
				)}, nil
			}
			return nil, nil
		}
		return p.validateCodings(ctx, support, b, codings, v.Path)
	}

	return nil, nil
}

type codingValue struct {
	system string
	code   string
}

func (c codingValue) String() string {
	if c.system == "" {
		return fmt.Sprintf("'%s'", c.code)
	}
	return fmt.Sprintf("'%s' (system: %s)", c.code, c.system)
}

func readCoding(value any) (codingValue, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return codingValue{}, false
	}
	code, _ := m["code"].(string)
	system, _ := m["system"].(string)
	return codingValue{system: system, code: code}, code != ""
}

// validateCodings reports the value when none of its codings is in the
// ValueSet. Codings no provider can judge leave the value unjudged.
func (p *TerminologyPhase) validateCodings(ctx context.Context, support service.ValidationSupport, b *service.Binding, codings []codingValue, path string) ([]fv.Issue, error) {
	var invalid []string
	for _, c := range codings {
		res, err := support.ValidateCode(ctx, service.CodeRequest{System: c.system, Code: c.code, ValueSet: b.ValueSet})
		if err != nil {
			if service.IsUnresolved(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("validate code %s against %s: %w", c.code, b.ValueSet, err)
		}
		if res.Valid {
			return nil, nil
		}
		invalid = append(invalid, c.String())
	}

	var msg string
	switch {
	case b.Strength == service.BindingExtensible:
		msg = fmt.Sprintf("The code provided (%s) is not in ValueSet '%s'. Codes from this ValueSet SHOULD be used when appropriate.",
			strings.Join(invalid, ", "), b.ValueSet)
		return []fv.Issue{warningAt(fv.IssueTypeCodeInvalid, msg, path, p.Name())}, nil
	case len(invalid) == 1:
		msg = fmt.Sprintf("The code provided (%s) is not in the required value set '%s'. The code MUST be from this ValueSet.",
			invalid[0], b.ValueSet)
	default:
		msg = fmt.Sprintf("None of the provided codes [%s] are in the required value set '%s'",
			strings.Join(invalid, ", "), b.ValueSet)
	}
	return []fv.Issue{errorAt(fv.IssueTypeCodeInvalid, msg, path, p.Name())}, nil
}

// validateCodeSystem checks that a Coding's code exists in its system and
// that its display matches.
func (p *TerminologyPhase) validateCodeSystem(ctx context.Context, support service.ValidationSupport, coding map[string]any, path string) ([]fv.Issue, error) {
	system, _ := coding["system"].(string)
	code, _ := coding["code"].(string)
	display, _ := coding["display"].(string)
	if system == "" || code == "" {
		return nil, nil
	}

	res, err := support.ValidateCode(ctx, service.CodeRequest{System: system, Code: code, Display: display})
	if err != nil {
		if service.IsUnresolved(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("validate code %s in %s: %w", code, system, err)
	}

	switch {
	case !res.Valid:
		msg := fmt.Sprintf("Code '%s' is not defined in CodeSystem '%s'", code, system)
		if res.Message != "" {
			msg += ": " + res.Message
		}
		return []fv.Issue{warningAt(fv.IssueTypeCodeInvalid, msg, path+".code", p.Name())}, nil
	case res.DisplayMismatch:
		return []fv.Issue{displayMismatch(code, display, res.Display, path+".display", p.Name())}, nil
	}
	return nil, nil
}
