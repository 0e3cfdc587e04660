package phase

import (
	"strings"
	"testing"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/service"
)

// identifierProfile requires Patient.identifier and prohibits Patient.telecom.
func identifierProfile() *service.StructureDefinition {
	sd := patientSD()
	sd.URL = "http://example.org/fhir/StructureDefinition/identified-patient"
	sd.Derivation = "constraint"
	for i := range sd.Snapshot {
		switch sd.Snapshot[i].Path {
		case "Patient.identifier":
			sd.Snapshot[i].Min = 1
		case "Patient.telecom":
			sd.Snapshot[i].Max = "0"
		case "Patient.name":
			sd.Snapshot[i].Max = "2"
		}
	}
	return sd
}

func TestCardinalityPhase_Base(t *testing.T) {
	pctx := newContext(t, newTestSupport(), `{
		"resourceType": "Patient",
		"name": [{"family": "Smith"}, {"family": "Jones"}, {"family": "Brown"}],
		"gender": ["male", "female"]
	}`, nil)

	issues := runPhase(t, NewCardinalityPhase(), pctx)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %v", issues)
	}
	if got := issues[0]; got.Expression[0] != "Patient.gender" || got.Code != fv.IssueTypeStructure {
		t.Errorf("issue = %+v", got)
	}
	if !strings.Contains(issues[0].Diagnostics, "has 2 items but max is 1") {
		t.Errorf("diagnostics = %q", issues[0].Diagnostics)
	}
}

func TestCardinalityPhase_Profile(t *testing.T) {
	support := newTestSupport()
	data := decode(t, `{
		"resourceType": "Patient",
		"name": [{"family": "Smith"}, {"family": "Jones"}, {"family": "Brown"}],
		"telecom": [{"system": "phone", "value": "555"}]
	}`)

	issues := runPhase(t, NewCardinalityPhase(), walkContext(t, support, identifierProfile(), data, nil))

	tests := []struct {
		path string
		code fv.IssueType
		want string
	}{
		{"Patient.identifier", fv.IssueTypeRequired, "Element 'Patient.identifier' is required (min=1) but has 0 occurrence(s)"},
		{"Patient.name", fv.IssueTypeStructure, "has 3 items but max is 2"},
		{"Patient.telecom", fv.IssueTypeStructure, "is prohibited (max=0)"},
	}
	if len(issues) != len(tests) {
		t.Fatalf("expected %d issues, got %v", len(tests), issues)
	}
	for i, tt := range tests {
		got := issues[i]
		if got.Expression[0] != tt.path || got.Code != tt.code || !got.IsError() {
			t.Errorf("issue[%d] = %+v; want %s error at %s", i, got, tt.code, tt.path)
		}
		if !strings.Contains(got.Diagnostics, tt.want) {
			t.Errorf("issue[%d] diagnostics = %q; want %q", i, got.Diagnostics, tt.want)
		}
	}
}

func TestCardinalityPhase_RequiredChildrenOfPresentParents(t *testing.T) {
	support := newTestSupport()
	sd := patientSD()
	for i := range sd.Snapshot {
		if sd.Snapshot[i].Path == "Patient.contact.name" {
			sd.Snapshot[i].Min = 1
		}
	}
	support.sds[sd.URL] = sd

	// no contact: nothing required
	if issues := runPhase(t, NewCardinalityPhase(), newContext(t, support, `{"resourceType": "Patient"}`, nil)); len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}

	issues := runPhase(t, NewCardinalityPhase(), newContext(t, support, `{
		"resourceType": "Patient",
		"contact": [{"name": {"family": "Smith"}}, {"telecom": [{"value": "555"}]}]
	}`, nil))
	if len(issues) != 1 || issues[0].Expression[0] != "Patient.contact[1].name" {
		t.Errorf("issues = %v; want one at Patient.contact[1].name", issues)
	}
}

func TestCardinalityPhase_ChoiceCountsAllForms(t *testing.T) {
	support := newTestSupport()
	sd := patientSD()
	for i := range sd.Snapshot {
		if sd.Snapshot[i].Path == "Patient.multipleBirth[x]" {
			sd.Snapshot[i].Min = 1
		}
	}
	support.sds[sd.URL] = sd

	issues := runPhase(t, NewCardinalityPhase(), newContext(t, support, `{"resourceType": "Patient", "multipleBirthInteger": 2}`, nil))
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}

	issues = runPhase(t, NewCardinalityPhase(), newContext(t, support, `{"resourceType": "Patient"}`, nil))
	if len(issues) != 1 || issues[0].Expression[0] != "Patient.multipleBirth" {
		t.Errorf("issues = %v; want one at Patient.multipleBirth", issues)
	}
}

func TestParseMax(t *testing.T) {
	tests := []struct {
		in    string
		want  int
		bound bool
	}{
		{"*", 0, false},
		{"", 0, false},
		{"0", 0, true},
		{"1", 1, true},
		{"10", 10, true},
		{"x", 0, false},
	}
	for _, tt := range tests {
		got, bound := parseMax(tt.in)
		if got != tt.want || bound != tt.bound {
			t.Errorf("parseMax(%q) = %d, %v; want %d, %v", tt.in, got, bound, tt.want, tt.bound)
		}
	}
}
