package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conformantPatient = `{
	"resourceType": "Patient",
	"text": {
		"status": "generated",
		"div": "<div xmlns=\"http://www.w3.org/1999/xhtml\">John Smith</div>"
	},
	"name": [{"family": "Smith", "given": ["John"]}],
	"gender": "male",
	"birthDate": "1974-12-25"
}`

const mrnProfile = `{
	"resourceType": "StructureDefinition",
	"url": "http://example.org/fhir/StructureDefinition/mrn-patient",
	"name": "MRNPatient",
	"status": "active",
	"kind": "resource",
	"abstract": false,
	"type": "Patient",
	"baseDefinition": "http://hl7.org/fhir/StructureDefinition/Patient",
	"derivation": "constraint",
	"differential": {
		"element": [
			{"id": "Patient", "path": "Patient"},
			{"id": "Patient.identifier", "path": "Patient.identifier", "min": 1}
		]
	}
}`

const slicedMRNProfile = `{
	"resourceType": "StructureDefinition",
	"url": "http://example.org/fhir/StructureDefinition/sliced-mrn-patient",
	"name": "SlicedMRNPatient",
	"status": "active",
	"kind": "resource",
	"abstract": false,
	"type": "Patient",
	"baseDefinition": "http://hl7.org/fhir/StructureDefinition/Patient",
	"derivation": "constraint",
	"differential": {
		"element": [
			{
				"id": "Patient.identifier",
				"path": "Patient.identifier",
				"slicing": {
					"discriminator": [{"type": "value", "path": "system"}],
					"rules": "open"
				}
			},
			{"id": "Patient.identifier:mrn", "path": "Patient.identifier", "sliceName": "mrn", "min": 1, "max": "1"},
			{"id": "Patient.identifier:mrn.system", "path": "Patient.identifier.system", "min": 1, "fixedUri": "http://hospital.example.org/mrn"}
		]
	}
}`

func newEngineServer(t *testing.T, cfg engine.SupportConfig) http.Handler {
	t.Helper()
	support, err := engine.BuildSupport(context.Background(), cfg)
	require.NoError(t, err)
	v, err := engine.New(fv.R4, support)
	require.NoError(t, err)
	return newTestServer(t, testConfig(), v).Handler()
}

func TestValidateEndToEnd(t *testing.T) {
	h := newEngineServer(t, engine.SupportConfig{})

	rec := post(t, h, conformantPatient)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decodeOutcome(t, rec).HasErrors())

	rec = post(t, h, `{
		"resourceType": "Observation",
		"code": {"coding": [{"system": "http://loinc.org", "code": "8867-4"}]}
	}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var found bool
	for _, issue := range decodeOutcome(t, rec).Issue {
		if issue.Code == fv.IssueTypeRequired && len(issue.Expression) > 0 && issue.Expression[0] == "Observation.status" {
			found = true
		}
	}
	assert.True(t, found, rec.Body.String())
}

func TestValidateEndToEnd_Profile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mrn-patient.json"), []byte(mrnProfile), 0o600))
	h := newEngineServer(t, engine.SupportConfig{ProfileDirs: []string{dir}})

	body := `{
		"resourceType": "Patient",
		"meta": {"profile": ["http://example.org/fhir/StructureDefinition/mrn-patient"]},
		"text": {
			"status": "generated",
			"div": "<div xmlns=\"http://www.w3.org/1999/xhtml\">John Smith</div>"
		},
		"name": [{"family": "Smith"}]
	}`

	rec := post(t, h, body)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var errs []fv.OutcomeIssue
	for _, issue := range decodeOutcome(t, rec).Issue {
		if issue.Severity == fv.SeverityError {
			errs = append(errs, issue)
		}
	}
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"Patient.identifier"}, errs[0].Expression)
}

func TestValidateEndToEnd_SlicedProfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sliced-mrn-patient.json"), []byte(slicedMRNProfile), 0o600))
	h := newEngineServer(t, engine.SupportConfig{ProfileDirs: []string{dir}})

	patient := func(system string) string {
		return `{
			"resourceType": "Patient",
			"meta": {"profile": ["http://example.org/fhir/StructureDefinition/sliced-mrn-patient"]},
			"text": {
				"status": "generated",
				"div": "<div xmlns=\"http://www.w3.org/1999/xhtml\">John Smith</div>"
			},
			"identifier": [{"system": "` + system + `", "value": "12345"}]
		}`
	}

	rec := post(t, h, patient("http://other.example.org/ids"))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	outcome := decodeOutcome(t, rec)
	require.True(t, outcome.HasErrors())
	var errs []fv.OutcomeIssue
	for _, issue := range outcome.Issue {
		if issue.Severity == fv.SeverityError {
			errs = append(errs, issue)
		}
	}
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"Patient.identifier"}, errs[0].Expression)
	assert.Contains(t, errs[0].Diagnostics, "Patient.identifier:mrn")

	rec = post(t, h, patient("http://hospital.example.org/mrn"))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decodeOutcome(t, rec).HasErrors())
}

func TestValidateEndToEnd_RequiredElements(t *testing.T) {
	h := newEngineServer(t, engine.SupportConfig{})

	tests := []struct {
		name string
		body string
		path string
	}{
		{"Encounter.status", `{"resourceType": "Encounter", "class": {"code": "AMB"}}`, "Encounter.status"},
		{"Condition.subject", `{"resourceType": "Condition", "code": {"text": "Asthma"}}`, "Condition.subject"},
		{"MedicationRequest.intent", `{"resourceType": "MedicationRequest", "status": "active", "medicationCodeableConcept": {"text": "Aspirin"}, "subject": {"reference": "Patient/1"}}`, "MedicationRequest.intent"},
		{"Procedure.subject", `{"resourceType": "Procedure", "status": "completed"}`, "Procedure.subject"},
		{"DiagnosticReport.status", `{"resourceType": "DiagnosticReport", "code": {"text": "CBC"}}`, "DiagnosticReport.status"},
		{"AllergyIntolerance.patient", `{"resourceType": "AllergyIntolerance", "code": {"text": "Peanut"}}`, "AllergyIntolerance.patient"},
		{"bare Encounter", `{"resourceType": "Encounter"}`, "Encounter.class"},
		{"Condition with bad fields", `{"resourceType": "Condition", "clinicalStatus": 42, "bogusField": "x"}`, "Condition.bogusField"},
		{"bare MedicationRequest", `{"resourceType": "MedicationRequest"}`, "MedicationRequest.status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var paths []string
			for _, issue := range decodeOutcome(t, rec).Issue {
				if issue.Severity == fv.SeverityError && len(issue.Expression) > 0 {
					paths = append(paths, issue.Expression[0])
				}
			}
			assert.Contains(t, paths, tt.path)
		})
	}
}
