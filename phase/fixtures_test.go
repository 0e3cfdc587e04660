package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/pipeline"
	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"github.com/PraveenKS30/hl7-fhir-validator/walker"
)

// testSupport serves fixed definitions and answers code requests from a
// table keyed by "valueset|system|code" or "system|code". A display differing
// from the one in the table is reported as a mismatch.
type testSupport struct {
	service.BaseSupport
	sds   map[string]*service.StructureDefinition
	codes map[string]*service.ValidateCodeResult
	fault error
}

func (s *testSupport) Name() string { return "test" }

func (s *testSupport) FetchStructureDefinition(_ context.Context, url string) (*service.StructureDefinition, error) {
	if sd, ok := s.sds[url]; ok {
		return sd, nil
	}
	return nil, fmt.Errorf("%s: %w", url, service.ErrNotFound)
}

func (s *testSupport) ValidateCode(ctx context.Context, req service.CodeRequest) (*service.ValidateCodeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.fault != nil {
		return nil, s.fault
	}
	key := req.System + "|" + req.Code
	if req.ValueSet != "" {
		key = service.StripVersion(req.ValueSet) + "|" + key
	}
	if res, ok := s.codes[key]; ok {
		out := *res
		out.DisplayMismatch = req.Display != "" && res.Display != "" && !strings.EqualFold(req.Display, res.Display)
		return &out, nil
	}
	return nil, fmt.Errorf("%s: %w", key, service.ErrNotSupported)
}

const genderVS = "http://hl7.org/fhir/ValueSet/administrative-gender"

func types(codes ...string) []service.TypeRef {
	refs := make([]service.TypeRef, len(codes))
	for i, c := range codes {
		refs[i] = service.TypeRef{Code: c}
	}
	return refs
}

func el(path string, minCard int, maxCard string, typeCodes ...string) service.ElementDefinition {
	return service.ElementDefinition{ID: path, Path: path, Min: minCard, Max: maxCard, Types: types(typeCodes...)}
}

func patientSD() *service.StructureDefinition {
	gender := el("Patient.gender", 0, "1", "code")
	gender.Binding = &service.Binding{Strength: service.BindingRequired, ValueSet: genderVS + "|4.0.1"}

	marital := el("Patient.maritalStatus", 0, "1", "CodeableConcept")
	marital.Binding = &service.Binding{Strength: service.BindingExtensible, ValueSet: "http://hl7.org/fhir/ValueSet/marital-status"}

	contact := el("Patient.contact", 0, "*", "BackboneElement")
	contact.Constraints = []service.Constraint{{
		Key:        "pat-1",
		Severity:   "error",
		Human:      "SHALL at least contain a contact's details or a reference to an organization",
		Expression: "name.exists() or telecom.exists() or address.exists() or organization.exists()",
	}}

	org := el("Patient.managingOrganization", 0, "1", "Reference")
	org.Types[0].TargetProfile = []string{service.CoreURL("Organization")}

	return &service.StructureDefinition{
		URL:        service.CoreURL("Patient"),
		Name:       "Patient",
		Type:       "Patient",
		Kind:       "resource",
		Derivation: "specialization",
		Snapshot: []service.ElementDefinition{
			{ID: "Patient", Path: "Patient", Constraints: []service.Constraint{{
				Key:        "dom-6",
				Severity:   "warning",
				Human:      "A resource should have narrative for robust management",
				Expression: "text.`div`.exists()",
			}}},
			el("Patient.id", 0, "1", "id"),
			el("Patient.contained", 0, "*", "Resource"),
			el("Patient.identifier", 0, "*", "Identifier"),
			el("Patient.active", 0, "1", "boolean"),
			el("Patient.name", 0, "*", "HumanName"),
			el("Patient.telecom", 0, "*", "ContactPoint"),
			gender,
			el("Patient.birthDate", 0, "1", "date"),
			el("Patient.multipleBirth[x]", 0, "1", "boolean", "integer"),
			marital,
			contact,
			el("Patient.contact.name", 0, "1", "HumanName"),
			el("Patient.contact.telecom", 0, "*", "ContactPoint"),
			org,
		},
	}
}

func humanNameSD() *service.StructureDefinition {
	use := el("HumanName.use", 0, "1", "code")
	use.Binding = &service.Binding{Strength: service.BindingRequired, ValueSet: "http://hl7.org/fhir/ValueSet/name-use|4.0.1"}
	return &service.StructureDefinition{
		URL:        service.CoreURL("HumanName"),
		Type:       "HumanName",
		Kind:       "complex-type",
		Derivation: "specialization",
		Snapshot: []service.ElementDefinition{
			{ID: "HumanName", Path: "HumanName"},
			use,
			el("HumanName.family", 0, "1", "string"),
			el("HumanName.given", 0, "*", "string"),
		},
	}
}

func codingSD() *service.StructureDefinition {
	return &service.StructureDefinition{
		URL:  service.CoreURL("Coding"),
		Type: "Coding",
		Kind: "complex-type",
		Snapshot: []service.ElementDefinition{
			{ID: "Coding", Path: "Coding"},
			el("Coding.system", 0, "1", "uri"),
			el("Coding.code", 0, "1", "code"),
			el("Coding.display", 0, "1", "string"),
		},
	}
}

func codeableConceptSD() *service.StructureDefinition {
	return &service.StructureDefinition{
		URL:  service.CoreURL("CodeableConcept"),
		Type: "CodeableConcept",
		Kind: "complex-type",
		Snapshot: []service.ElementDefinition{
			{ID: "CodeableConcept", Path: "CodeableConcept"},
			el("CodeableConcept.coding", 0, "*", "Coding"),
			el("CodeableConcept.text", 0, "1", "string"),
		},
	}
}

func referenceSD() *service.StructureDefinition {
	return &service.StructureDefinition{
		URL:  service.CoreURL("Reference"),
		Type: "Reference",
		Kind: "complex-type",
		Snapshot: []service.ElementDefinition{
			{ID: "Reference", Path: "Reference"},
			el("Reference.reference", 0, "1", "string"),
			el("Reference.type", 0, "1", "uri"),
			el("Reference.display", 0, "1", "string"),
		},
	}
}

func newTestSupport() *testSupport {
	s := &testSupport{
		sds:   map[string]*service.StructureDefinition{},
		codes: map[string]*service.ValidateCodeResult{},
	}
	s.codes[genderVS+"||male"] = &service.ValidateCodeResult{Valid: true}
	s.codes[genderVS+"||female"] = &service.ValidateCodeResult{Valid: true}
	s.codes[genderVS+"||dog"] = &service.ValidateCodeResult{Valid: false, Message: "not in value set"}
	s.codes["http://hl7.org/fhir/ValueSet/name-use||official"] = &service.ValidateCodeResult{Valid: true}
	for _, sd := range []*service.StructureDefinition{patientSD(), humanNameSD(), codingSD(), codeableConceptSD(), referenceSD()} {
		s.sds[sd.URL] = sd
	}
	return s
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

// newContext walks the resource against its core definition in support.
func newContext(t *testing.T, support *testSupport, resource string, opts *fv.Options) *pipeline.Context {
	t.Helper()
	data := decode(t, resource)
	resourceType, _ := data["resourceType"].(string)
	sd := support.sds[service.CoreURL(resourceType)]
	if sd == nil {
		t.Fatalf("no definition for %s", resourceType)
	}
	return walkContext(t, support, sd, data, opts)
}

func walkContext(t *testing.T, support *testSupport, sd *service.StructureDefinition, data map[string]any, opts *fv.Options) *pipeline.Context {
	t.Helper()
	root, err := walker.New(support).Walk(context.Background(), data, sd)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	resourceType, _ := data["resourceType"].(string)
	res := &fv.Resource{Type: resourceType, Data: data}
	return pipeline.NewContext(res, sd, root, support, opts)
}

func runPhase(t *testing.T, p pipeline.Phase, pctx *pipeline.Context) []fv.Issue {
	t.Helper()
	issues, err := p.Validate(context.Background(), pctx)
	if err != nil {
		t.Fatalf("%s.Validate() error = %v", p.Name(), err)
	}
	for _, issue := range issues {
		if issue.Phase != p.Name() {
			t.Errorf("issue %q has phase %q; want %q", issue.Diagnostics, issue.Phase, p.Name())
		}
	}
	return issues
}

// findIssue returns the first issue at path.
func findIssue(issues []fv.Issue, path string) *fv.Issue {
	for i := range issues {
		if len(issues[i].Expression) > 0 && issues[i].Expression[0] == path {
			return &issues[i]
		}
	}
	return nil
}

func paths(issues []fv.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		if len(issue.Expression) > 0 {
			out = append(out, issue.Expression[0])
		}
	}
	return out
}
