package phase

import (
	"context"
	"errors"
	"strings"
	"testing"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/pipeline"
	"github.com/PraveenKS30/hl7-fhir-validator/service"
)

const maritalVS = "http://hl7.org/fhir/ValueSet/marital-status"

func terminologySupport() *testSupport {
	s := newTestSupport()
	s.codes[maritalVS+"|"+maritalSystem+"|M"] = &service.ValidateCodeResult{Valid: true}
	s.codes[maritalVS+"|"+maritalSystem+"|X"] = &service.ValidateCodeResult{Valid: false}
	s.codes[maritalVS+"|"+maritalSystem+"|Y"] = &service.ValidateCodeResult{Valid: false}
	s.codes[maritalSystem+"|M"] = &service.ValidateCodeResult{Valid: true, Display: "Married"}
	s.codes[maritalSystem+"|Q"] = &service.ValidateCodeResult{Valid: false, Message: "unknown code"}
	return s
}

// requireMaritalStatus makes the maritalStatus binding of the Patient
// definition of s required.
func requireMaritalStatus(s *testSupport) {
	sd := patientSD()
	for i := range sd.Snapshot {
		if sd.Snapshot[i].Path == "Patient.maritalStatus" {
			sd.Snapshot[i].Binding.Strength = service.BindingRequired
		}
	}
	s.sds[sd.URL] = sd
}

func TestTerminologyPhase_Valid(t *testing.T) {
	issues := runPhase(t, NewTerminologyPhase(), newContext(t, terminologySupport(), `{
		"resourceType": "Patient",
		"gender": "female",
		"name": [{"use": "official", "family": "Smith"}],
		"maritalStatus": {"coding": [{"system": "`+maritalSystem+`", "code": "M", "display": "married"}]}
	}`, nil))
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
}

func TestTerminologyPhase_DisplayMismatch(t *testing.T) {
	issues := runPhase(t, NewTerminologyPhase(), newContext(t, terminologySupport(), `{
		"resourceType": "Patient",
		"maritalStatus": {"coding": [{"system": "`+maritalSystem+`", "code": "M", "display": "Wed"}]}
	}`, nil))

	if len(issues) != 1 || issues[0].Expression[0] != "Patient.maritalStatus.coding[0].display" {
		t.Fatalf("issues = %v; want one at Patient.maritalStatus.coding[0].display", issues)
	}
	want := "Display 'Wed' for code 'M' differs from the CodeSystem display 'Married'"
	if issues[0].Severity != fv.SeverityWarning || issues[0].Diagnostics != want {
		t.Errorf("issue = %+v", issues[0])
	}
}

func TestTerminologyPhase_RequiredCode(t *testing.T) {
	issues := runPhase(t, NewTerminologyPhase(), newContext(t, terminologySupport(), `{
		"resourceType": "Patient",
		"gender": "dog"
	}`, nil))

	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %v", issues)
	}
	got := issues[0]
	if !got.IsError() || got.Code != fv.IssueTypeCodeInvalid || got.Expression[0] != "Patient.gender" {
		t.Errorf("issue = %+v", got)
	}
	want := "The code provided ('dog') is not in the required value set '" + genderVS + "|4.0.1'"
	if !strings.HasPrefix(got.Diagnostics, want) {
		t.Errorf("diagnostics = %q; want prefix %q", got.Diagnostics, want)
	}
}

func TestTerminologyPhase_ExtensibleIsWarning(t *testing.T) {
	issues := runPhase(t, NewTerminologyPhase(), newContext(t, terminologySupport(), `{
		"resourceType": "Patient",
		"maritalStatus": {"coding": [{"system": "`+maritalSystem+`", "code": "X"}]}
	}`, nil))

	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %v", issues)
	}
	if issues[0].Severity != fv.SeverityWarning || !strings.Contains(issues[0].Diagnostics, "SHOULD be used") {
		t.Errorf("issue = %+v", issues[0])
	}
}

func TestTerminologyPhase_RequiredCodeableConcept(t *testing.T) {
	support := terminologySupport()
	requireMaritalStatus(support)

	tests := []struct {
		name    string
		value   string
		wantMsg string
	}{
		{
			name:    "one valid coding is enough",
			value:   `{"coding": [{"system": "` + maritalSystem + `", "code": "X"}, {"system": "` + maritalSystem + `", "code": "M", "display": "Married"}]}`,
			wantMsg: "",
		},
		{
			name:    "all codings invalid",
			value:   `{"coding": [{"system": "` + maritalSystem + `", "code": "X"}, {"system": "` + maritalSystem + `", "code": "Y"}]}`,
			wantMsg: "None of the provided codes ['X' (system: " + maritalSystem + "), 'Y' (system: " + maritalSystem + ")]",
		},
		{
			name:    "text only",
			value:   `{"text": "married"}`,
			wantMsg: "No code provided, and a code is required from the value set '" + maritalVS + "'",
		},
		{
			name:    "unjudged coding",
			value:   `{"coding": [{"system": "http://example.org/local", "code": "x"}]}`,
			wantMsg: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := runPhase(t, NewTerminologyPhase(), newContext(t, support, `{
				"resourceType": "Patient",
				"maritalStatus": `+tt.value+`
			}`, nil))

			var bindingIssues []fv.Issue
			for _, issue := range issues {
				if issue.Expression[0] == "Patient.maritalStatus" {
					bindingIssues = append(bindingIssues, issue)
				}
			}
			if tt.wantMsg == "" {
				if len(bindingIssues) != 0 {
					t.Errorf("expected no binding issues, got %v", bindingIssues)
				}
				return
			}
			if len(bindingIssues) != 1 {
				t.Fatalf("expected 1 binding issue, got %v", issues)
			}
			if !bindingIssues[0].IsError() || !strings.Contains(bindingIssues[0].Diagnostics, tt.wantMsg) {
				t.Errorf("issue = %+v; want error containing %q", bindingIssues[0], tt.wantMsg)
			}
		})
	}
}

func TestTerminologyPhase_UnknownCodeInSystem(t *testing.T) {
	issues := runPhase(t, NewTerminologyPhase(), newContext(t, terminologySupport(), `{
		"resourceType": "Patient",
		"maritalStatus": {"coding": [{"system": "`+maritalSystem+`", "code": "Q"}]}
	}`, nil))

	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %v", issues)
	}
	got := issues[0]
	if got.Expression[0] != "Patient.maritalStatus.coding[0].code" || got.Severity != fv.SeverityWarning {
		t.Errorf("issue = %+v", got)
	}
	if got.Diagnostics != "Code 'Q' is not defined in CodeSystem '"+maritalSystem+"': unknown code" {
		t.Errorf("diagnostics = %q", got.Diagnostics)
	}
}

func TestTerminologyPhase_UnresolvedLookupsAreSkipped(t *testing.T) {
	issues := runPhase(t, NewTerminologyPhase(), newContext(t, terminologySupport(), `{
		"resourceType": "Patient",
		"gender": "unknown",
		"name": [{"use": "nickname"}]
	}`, nil))
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
}

func TestTerminologyPhase_ProviderFault(t *testing.T) {
	support := terminologySupport()
	pctx := newContext(t, support, `{"resourceType": "Patient", "gender": "male"}`, nil)
	support.fault = errors.New("terminology server unavailable")

	_, err := NewTerminologyPhase().Validate(context.Background(), pctx)
	if err == nil || !errors.Is(err, support.fault) {
		t.Errorf("Validate() error = %v; want the provider fault", err)
	}
}

func TestTerminologyPhase_NoSupport(t *testing.T) {
	pctx := newContext(t, terminologySupport(), `{"resourceType": "Patient", "gender": "dog"}`, nil)
	pctx = pipeline.NewContext(pctx.Resource, pctx.Profile, pctx.Root, nil, nil)

	if issues := runPhase(t, NewTerminologyPhase(), pctx); len(issues) != 0 {
		t.Errorf("expected no issues without support, got %v", issues)
	}
}
