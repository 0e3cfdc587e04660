package loader

import (
	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"github.com/gofhir/fhir/r4"
)

// Conversion from the r4 models to the service models. Absent values convert
// to their zero value.

func str[T ~string](p *T) string {
	if p == nil {
		return ""
	}
	return string(*p)
}

func flag(p *bool) bool {
	return p != nil && *p
}

func toStructureDefinition(sd *r4.StructureDefinition) *service.StructureDefinition {
	out := &service.StructureDefinition{
		URL:            str(sd.Url),
		Name:           str(sd.Name),
		Type:           str(sd.Type),
		Kind:           str(sd.Kind),
		Abstract:       flag(sd.Abstract),
		BaseDefinition: str(sd.BaseDefinition),
		FHIRVersion:    str(sd.FhirVersion),
	}
	if sd.Snapshot != nil {
		out.Snapshot = toElements(sd.Snapshot.Element)
	}
	if sd.Differential != nil {
		out.Differential = toElements(sd.Differential.Element)
	}
	return out
}

func toElements(in []r4.ElementDefinition) []service.ElementDefinition {
	if len(in) == 0 {
		return nil
	}
	out := make([]service.ElementDefinition, len(in))
	for i := range in {
		out[i] = toElement(&in[i])
	}
	return out
}

func toElement(ed *r4.ElementDefinition) service.ElementDefinition {
	el := service.ElementDefinition{
		ID:               str(ed.Id),
		Path:             str(ed.Path),
		SliceName:        str(ed.SliceName),
		Max:              str(ed.Max),
		MustSupport:      flag(ed.MustSupport),
		IsModifier:       flag(ed.IsModifier),
		IsSummary:        flag(ed.IsSummary),
		ContentReference: str(ed.ContentReference),
		Fixed: choiceValue(ed.FixedString, ed.FixedBoolean, ed.FixedInteger, ed.FixedDecimal,
			ed.FixedCode, ed.FixedUri, ed.FixedUrl, ed.FixedCanonical,
			ed.FixedCoding, ed.FixedCodeableConcept, ed.FixedIdentifier),
		Pattern: choiceValue(ed.PatternString, ed.PatternBoolean, ed.PatternInteger, ed.PatternDecimal,
			ed.PatternCode, ed.PatternUri, ed.PatternUrl, ed.PatternCanonical,
			ed.PatternCoding, ed.PatternCodeableConcept, ed.PatternIdentifier),
	}
	if ed.Min != nil {
		el.Min = int(*ed.Min)
	}

	for _, t := range ed.Type {
		el.Types = append(el.Types, service.TypeRef{
			Code:          str(t.Code),
			Profile:       t.Profile,
			TargetProfile: t.TargetProfile,
		})
	}

	if b := ed.Binding; b != nil {
		el.Binding = &service.Binding{
			Strength:    str(b.Strength),
			ValueSet:    str(b.ValueSet),
			Description: str(b.Description),
		}
	}

	for _, c := range ed.Constraint {
		el.Constraints = append(el.Constraints, service.Constraint{
			Key:        str(c.Key),
			Severity:   str(c.Severity),
			Human:      str(c.Human),
			Expression: str(c.Expression),
			XPath:      str(c.Xpath),
			Source:     str(c.Source),
		})
	}

	if s := ed.Slicing; s != nil {
		el.Slicing = &service.Slicing{
			Description: str(s.Description),
			Ordered:     flag(s.Ordered),
			Rules:       str(s.Rules),
		}
		for _, d := range s.Discriminator {
			el.Slicing.Discriminator = append(el.Slicing.Discriminator, service.Discriminator{
				Type: str(d.Type),
				Path: str(d.Path),
			})
		}
	}
	return el
}

// choiceValue returns the first value that is set, in the JSON shape instance
// data is decoded to, or nil.
func choiceValue(candidates ...any) any {
	for _, c := range candidates {
		switch v := c.(type) {
		case *string:
			if v != nil {
				return *v
			}
		case *bool:
			if v != nil {
				return *v
			}
		case *int:
			if v != nil {
				return *v
			}
		case *float64:
			if v != nil {
				return *v
			}
		case *r4.Coding:
			if v != nil {
				return codingJSON(v)
			}
		case *r4.CodeableConcept:
			if v != nil {
				cc := map[string]any{}
				if len(v.Coding) > 0 {
					codings := make([]any, len(v.Coding))
					for i := range v.Coding {
						codings[i] = codingJSON(&v.Coding[i])
					}
					cc["coding"] = codings
				}
				setString(cc, "text", v.Text)
				return cc
			}
		case *r4.Identifier:
			if v != nil {
				id := map[string]any{}
				setString(id, "use", v.Use)
				setString(id, "system", v.System)
				setString(id, "value", v.Value)
				return id
			}
		}
	}
	return nil
}

func codingJSON(c *r4.Coding) map[string]any {
	m := map[string]any{}
	setString(m, "system", c.System)
	setString(m, "version", c.Version)
	setString(m, "code", c.Code)
	setString(m, "display", c.Display)
	return m
}

func setString[T ~string](m map[string]any, key string, p *T) {
	if p != nil {
		m[key] = string(*p)
	}
}

// expansion flattens expansion.contains, depth first.
func expansion(vs *r4.ValueSet) []service.Concept {
	if vs.Expansion == nil {
		return nil
	}
	var out []service.Concept
	var walk func([]r4.ValueSetExpansionContains)
	walk = func(entries []r4.ValueSetExpansionContains) {
		for i := range entries {
			e := &entries[i]
			if e.Code != nil {
				out = append(out, service.Concept{
					System:  str(e.System),
					Code:    *e.Code,
					Display: str(e.Display),
				})
			}
			walk(e.Contains)
		}
	}
	walk(vs.Expansion.Contains)
	return out
}

// codeSystemConcepts flattens the concept hierarchy of cs. A nested concept
// lists its parent code in Parents, followed by any subsumedBy properties.
func codeSystemConcepts(cs *r4.CodeSystem) []service.Concept {
	system := str(cs.Url)
	var out []service.Concept
	var walk func([]r4.CodeSystemConcept, string)
	walk = func(concepts []r4.CodeSystemConcept, parent string) {
		for i := range concepts {
			c := &concepts[i]
			if c.Code == nil {
				continue
			}
			entry := service.Concept{System: system, Code: *c.Code, Display: str(c.Display)}
			if parent != "" {
				entry.Parents = []string{parent}
			}
			for _, p := range c.Property {
				if str(p.Code) == "subsumedBy" && p.ValueCode != nil {
					entry.Parents = append(entry.Parents, *p.ValueCode)
				}
			}
			out = append(out, entry)
			walk(c.Concept, entry.Code)
		}
	}
	walk(cs.Concept, "")
	return out
}
