package phase

import (
	"context"
	"fmt"
	"strings"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/pipeline"
	"github.com/PraveenKS30/hl7-fhir-validator/walker"
)

// StructurePhase validates the shape of the instance against the
// StructureDefinition. It checks that:
// - All properties are defined (when unknown elements are validated)
// - At most one form of a choice element is present
// - Arrays and single values are used as the definitions say
// - Values have the JSON type of their FHIR type
// - Primitive extensions ("_name") are objects on primitive elements
type StructurePhase struct{}

// NewStructurePhase creates a new structure validation phase.
func NewStructurePhase() *StructurePhase {
	return &StructurePhase{}
}

// Name returns the phase name.
func (p *StructurePhase) Name() string {
	return "structure"
}

// Validate performs structure validation.
func (p *StructurePhase) Validate(ctx context.Context, pctx *pipeline.Context) ([]fv.Issue, error) {
	var issues []fv.Issue

	for _, o := range objects(pctx.Root) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if pctx.Options.ValidateUnknownElements {
			issues = append(issues, p.unknownElements(o)...)
		}
		issues = append(issues, p.choices(o)...)

		// A profile narrows the cardinality of its base; the base
		// definitions decide whether a property is an array.
		checkShape := o.SD.Derivation != "constraint"
		for _, el := range o.Elements {
			issues = append(issues, p.validateElement(o, el, checkShape)...)
		}
	}

	return issues, nil
}

func (p *StructurePhase) unknownElements(o *walker.Object) []fv.Issue {
	var issues []fv.Issue
	for _, key := range o.Unknown {
		path := o.Path + "." + key
		msg := fmt.Sprintf("Unknown element '%s'", key)
		for _, def := range o.Definitions() {
			if walker.IsChoiceKeyOf(def, strings.TrimPrefix(key, "_")) {
				msg = fmt.Sprintf("Type of '%s' is not allowed for '%s'. Allowed types: %s",
					key, def.Path, strings.Join(def.TypeCodes(), ", "))
				break
			}
		}
		issues = append(issues, errorAt(fv.IssueTypeStructure, msg, path, p.Name()))
	}
	return issues
}

// choices reports choice elements present in more than one form.
func (p *StructurePhase) choices(o *walker.Object) []fv.Issue {
	var issues []fv.Issue
	seen := make(map[string][]string)
	var order []string
	for _, el := range o.Elements {
		if !el.Def.IsChoice() {
			continue
		}
		if _, ok := seen[el.Def.Path]; !ok {
			order = append(order, el.Def.Path)
		}
		seen[el.Def.Path] = append(seen[el.Def.Path], el.Key)
	}
	for _, defPath := range order {
		keys := seen[defPath]
		if len(keys) < 2 {
			continue
		}
		issues = append(issues, errorAt(
			fv.IssueTypeStructure,
			fmt.Sprintf("Only one type of choice element '%s' is allowed, found %s",
				defPath[strings.LastIndexByte(defPath, '.')+1:], strings.Join(keys, ", ")),
			o.Path+"."+keys[1],
			p.Name(),
		))
	}
	return issues
}

func (p *StructurePhase) validateElement(o *walker.Object, el *walker.Element, checkShape bool) []fv.Issue {
	var issues []fv.Issue
	path := o.Path + "." + el.Key
	primitive := walker.IsPrimitiveType(el.Type)

	if raw, ok := el.Raw.([]any); ok && len(raw) == 0 {
		issues = append(issues, errorAt(
			fv.IssueTypeStructure,
			fmt.Sprintf("Array '%s' must not be empty", el.Key),
			path,
			p.Name(),
		))
	}

	if checkShape {
		switch {
		case el.Array && el.Def.Max == "1":
			issues = append(issues, errorAt(
				fv.IssueTypeStructure,
				fmt.Sprintf("Element '%s' must be single-valued (max=1) but is an array", el.Key),
				path,
				p.Name(),
			))
		case !el.Array && el.Def.IsArray():
			issues = append(issues, errorAt(
				fv.IssueTypeStructure,
				fmt.Sprintf("Element '%s' must be an array (max=%s)", el.Key, el.Def.Max),
				path,
				p.Name(),
			))
		}
	}

	if el.RawExt != nil && !primitive {
		issues = append(issues, errorAt(
			fv.IssueTypeStructure,
			fmt.Sprintf("Element '_%s' is only allowed on primitive elements, '%s' is of type %s", el.Key, el.Key, el.Type),
			o.Path+"._"+el.Key,
			p.Name(),
		))
	}

	for _, v := range el.Values {
		if !v.Present() {
			issues = append(issues, errorAt(
				fv.IssueTypeStructure,
				fmt.Sprintf("Element '%s' has a null value and no extension", el.Key),
				v.Path,
				p.Name(),
			))
			continue
		}

		if v.Value != nil && el.Type != "" && !walker.MatchesJSONKind(v.Value, el.Type) {
			issues = append(issues, errorAt(
				fv.IssueTypeStructure,
				fmt.Sprintf("Element has wrong type. Expected %s (JSON %s), got %s",
					el.Type, walker.ExpectedJSONKind(el.Type), walker.JSONKind(v.Value)),
				v.Path,
				p.Name(),
			))
		}

		if primitive && v.Ext != nil {
			if _, ok := v.Ext.(map[string]any); !ok {
				issues = append(issues, errorAt(
					fv.IssueTypeStructure,
					fmt.Sprintf("Primitive extension '_%s' must be an object, got %s", el.Key, walker.JSONKind(v.Ext)),
					v.Path,
					p.Name(),
				))
			}
		}
	}

	return issues
}
