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

// ReferencesPhase validates Reference values.
// It checks:
// - Reference format is valid
// - The referenced type is an R4 resource type allowed by the element
// - Local references ("#id") point at a contained resource
//
// References to other resources are not resolved.
type ReferencesPhase struct{}

// NewReferencesPhase creates a new reference validation phase.
func NewReferencesPhase() *ReferencesPhase {
	return &ReferencesPhase{}
}

// Name returns the phase name.
func (p *ReferencesPhase) Name() string {
	return "references"
}

// Validate performs reference validation.
func (p *ReferencesPhase) Validate(ctx context.Context, pctx *pipeline.Context) ([]fv.Issue, error) {
	if pctx.Root == nil {
		return nil, nil
	}

	contained := containedIDs(pctx.Root.Value)

	var issues []fv.Issue
	for _, o := range objects(pctx.Root) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, el := range o.Elements {
			if el.Type != "Reference" {
				continue
			}
			allowed := allowedTargetTypes(el.Def, el.Type)
			for _, v := range el.Values {
				ref, ok := v.Value.(map[string]any)
				if !ok {
					continue
				}
				issues = append(issues, p.validateReference(ref, allowed, contained, v.Path)...)
			}
		}
	}
	return issues, nil
}

func (p *ReferencesPhase) validateReference(ref map[string]any, allowed []string, contained map[string]bool, path string) []fv.Issue {
	reference, _ := ref["reference"].(string)
	explicitType, _ := ref["type"].(string)
	refPath := path + ".reference"

	if reference == "" {
		if explicitType != "" {
			return p.validateTargetType(explicitType, allowed, path+".type")
		}
		return nil
	}

	if strings.HasPrefix(reference, "#") {
		id := reference[1:]
		if id != "" && !contained[id] {
			return []fv.Issue{errorAt(
				fv.IssueTypeNotFound,
				fmt.Sprintf("Contained resource '%s' not found", id),
				refPath,
				p.Name(),
			)}
		}
		return nil
	}

	if strings.HasPrefix(reference, "urn:uuid:") || strings.HasPrefix(reference, "urn:oid:") {
		return nil
	}

	absolute := strings.Contains(reference, "://")
	typ, ok := referenceType(reference)
	if !ok && !absolute {
		return []fv.Issue{errorAt(
			fv.IssueTypeValue,
			fmt.Sprintf("Invalid reference format: '%s' (expected ResourceType/id)", reference),
			refPath,
			p.Name(),
		)}
	}
	// An absolute URL need not follow the Type/id form.
	if absolute && !fv.IsKnownResourceType(typ) {
		typ = ""
	}

	targetType := explicitType
	if targetType == "" {
		targetType = typ
	}
	if targetType == "" {
		return nil
	}
	return p.validateTargetType(targetType, allowed, refPath)
}

func (p *ReferencesPhase) validateTargetType(targetType string, allowed []string, path string) []fv.Issue {
	if !fv.IsKnownResourceType(targetType) {
		return []fv.Issue{errorAt(
			fv.IssueTypeValue,
			fmt.Sprintf("Reference type '%s' is not a known resource type", targetType),
			path,
			p.Name(),
		)}
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, t := range allowed {
		if t == targetType || t == "Resource" || t == "DomainResource" {
			return nil
		}
	}
	return []fv.Issue{errorAt(
		fv.IssueTypeValue,
		fmt.Sprintf("Reference to '%s' is not allowed. Allowed types: %s", targetType, strings.Join(allowed, ", ")),
		path,
		p.Name(),
	)}
}

// referenceType extracts the resource type of a "Type/id" reference,
// relative or absolute, with an optional "/_history/version" suffix.
func referenceType(reference string) (string, bool) {
	ref, _, _ := strings.Cut(reference, "?")
	parts := strings.Split(ref, "/")
	if n := len(parts); n >= 4 && parts[n-2] == "_history" {
		parts = parts[:n-2]
	}
	n := len(parts)
	if n < 2 || parts[n-2] == "" || parts[n-1] == "" {
		return "", false
	}
	return parts[n-2], true
}

// allowedTargetTypes returns the resource types the targetProfiles of the
// element's Reference type point at. A target profile other than a core
// definition lifts the restriction, as its type is not known here.
func allowedTargetTypes(def *service.ElementDefinition, typeCode string) []string {
	var types []string
	for _, t := range def.Types {
		if walker.NormalizeSystemType(t.Code) != typeCode {
			continue
		}
		for _, profile := range t.TargetProfile {
			if !strings.HasPrefix(profile, service.CorePrefix) {
				return nil
			}
			types = append(types, strings.TrimPrefix(profile, service.CorePrefix))
		}
	}
	return types
}

// containedIDs returns the ids of the contained resources of a resource.
func containedIDs(resource map[string]any) map[string]bool {
	ids := make(map[string]bool)
	contained, _ := resource["contained"].([]any)
	for _, item := range contained {
		if res, ok := item.(map[string]any); ok {
			if id, _ := res["id"].(string); id != "" {
				ids[id] = true
			}
		}
	}
	return ids
}
