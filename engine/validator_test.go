package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/loader"
	"github.com/PraveenKS30/hl7-fhir-validator/pipeline"
	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"github.com/PraveenKS30/hl7-fhir-validator/terminology"
)

const conformantPatient = `{
	"resourceType": "Patient",
	"id": "example",
	"text": {
		"status": "generated",
		"div": "<div xmlns=\"http://www.w3.org/1999/xhtml\">John Smith</div>"
	},
	"identifier": [{"use": "official", "system": "http://example.org/mrn", "value": "12345"}],
	"active": true,
	"name": [{"use": "official", "family": "Smith", "given": ["John"]}],
	"telecom": [{"system": "phone", "value": "555-0100", "use": "home"}],
	"gender": "male",
	"birthDate": "1974-12-25"
}`

func newTestValidator(t *testing.T, cfg SupportConfig, opts ...fv.Option) *Validator {
	t.Helper()
	support, err := BuildSupport(context.Background(), cfg)
	if err != nil {
		t.Fatalf("BuildSupport failed: %v", err)
	}
	v, err := New(fv.R4, support, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return v
}

func parse(t *testing.T, data string) *fv.Resource {
	t.Helper()
	res, err := fv.ParseResource([]byte(data))
	if err != nil {
		t.Fatalf("ParseResource failed: %v", err)
	}
	return res
}

func errorPaths(r *fv.Result) []string {
	var out []string
	for _, issue := range r.Errors() {
		out = append(out, strings.Join(issue.Expression, ","))
	}
	return out
}

func TestNew(t *testing.T) {
	support := service.NewChain()

	v, err := New(fv.R4, support)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if v.Version() != fv.R4 {
		t.Errorf("Version = %v; want %v", v.Version(), fv.R4)
	}
	if !v.Options().ValidateTerminology || !v.Options().ValidateConstraints {
		t.Error("default options should enable terminology and constraints")
	}

	if _, err := New(fv.R5, support); err == nil {
		t.Error("New(R5) should fail")
	}
	if _, err := New(fv.R4, nil); err == nil {
		t.Error("New without support should fail")
	}
}

func TestNew_WithOptions(t *testing.T) {
	v, err := New(fv.R4, service.NewChain(),
		fv.WithMaxErrors(50),
		fv.WithTerminology(false),
		fv.WithStrictMode(true),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	opts := v.Options()
	if opts.MaxErrors != 50 {
		t.Errorf("MaxErrors = %d; want 50", opts.MaxErrors)
	}
	if opts.ValidateTerminology {
		t.Error("ValidateTerminology should be false")
	}
	if !opts.StrictMode {
		t.Error("StrictMode should be true")
	}
}

func TestPhases(t *testing.T) {
	v, err := New(fv.R4, service.NewChain())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	want := []pipeline.PhaseID{
		pipeline.PhaseIDStructure,
		pipeline.PhaseIDCardinality,
		pipeline.PhaseIDPrimitives,
		pipeline.PhaseIDFixedPattern,
		pipeline.PhaseIDReferences,
		pipeline.PhaseIDSlicing,
		pipeline.PhaseIDExtensions,
		pipeline.PhaseIDTerminology,
		pipeline.PhaseIDConstraints,
	}
	if got := v.Phases(); !reflect.DeepEqual(got, want) {
		t.Errorf("Phases = %v; want %v", got, want)
	}
}

func TestValidate_ConformantPatient(t *testing.T) {
	v := newTestValidator(t, SupportConfig{})

	result, err := v.Validate(context.Background(), parse(t, conformantPatient))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid result, got errors: %v", result.Errors())
	}
	if result.ResourceType != "Patient" {
		t.Errorf("ResourceType = %s; want Patient", result.ResourceType)
	}
	if len(result.ProfileURLs) != 1 || result.ProfileURLs[0] != service.CoreURL("Patient") {
		t.Errorf("ProfileURLs = %v", result.ProfileURLs)
	}
}

func TestValidate_MissingRequiredElement(t *testing.T) {
	v := newTestValidator(t, SupportConfig{})

	result, err := v.Validate(context.Background(), parse(t, `{
		"resourceType": "Observation",
		"code": {"text": "Heart rate"}
	}`))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.Valid {
		t.Fatal("expected invalid result")
	}

	for _, issue := range result.Errors() {
		if issue.Code == fv.IssueTypeRequired && issue.Expression[0] == "Observation.status" {
			return
		}
	}
	t.Errorf("no required error at Observation.status; errors at %v", errorPaths(result))
}

func TestValidate_Errors(t *testing.T) {
	v := newTestValidator(t, SupportConfig{})

	tests := []struct {
		name     string
		resource string
		wantPath string
		wantCode fv.IssueType
	}{
		{
			name:     "unknown element",
			resource: `{"resourceType": "Patient", "nickname": "Jo"}`,
			wantPath: "Patient.nickname",
			wantCode: fv.IssueTypeStructure,
		},
		{
			name:     "wrong primitive type",
			resource: `{"resourceType": "Patient", "active": "yes"}`,
			wantPath: "Patient.active",
			wantCode: fv.IssueTypeStructure,
		},
		{
			name:     "invalid date",
			resource: `{"resourceType": "Patient", "birthDate": "1974-13-01"}`,
			wantPath: "Patient.birthDate",
			wantCode: fv.IssueTypeValue,
		},
		{
			name:     "code not in required value set",
			resource: `{"resourceType": "Patient", "gender": "robot"}`,
			wantPath: "Patient.gender",
			wantCode: fv.IssueTypeCodeInvalid,
		},
		{
			name:     "missing required child",
			resource: `{"resourceType": "Patient", "link": [{"type": "seealso"}]}`,
			wantPath: "Patient.link[0].other",
			wantCode: fv.IssueTypeRequired,
		},
		{
			name:     "bad reference",
			resource: `{"resourceType": "Patient", "managingOrganization": {"reference": "#missing"}}`,
			wantPath: "Patient.managingOrganization.reference",
			wantCode: fv.IssueTypeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := v.Validate(context.Background(), parse(t, tt.resource))
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if result.Valid {
				t.Fatalf("expected invalid result, issues: %v", result.Issues)
			}
			for _, issue := range result.Errors() {
				if issue.Expression[0] == tt.wantPath && issue.Code == tt.wantCode {
					return
				}
			}
			t.Errorf("no %s error at %s; errors at %v", tt.wantCode, tt.wantPath, errorPaths(result))
		})
	}
}

func TestValidate_Idempotent(t *testing.T) {
	v := newTestValidator(t, SupportConfig{})
	res := parse(t, `{
		"resourceType": "Patient",
		"gender": "robot",
		"birthDate": "1974-13-01",
		"nickname": "Jo"
	}`)

	first, err := v.Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := v.Validate(context.Background(), res)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs:\n%v\n%v", i+2, first.Issues, again.Issues)
		}
	}
}

func TestValidate_CacheIsTransparent(t *testing.T) {
	unbounded := newTestValidator(t, SupportConfig{})
	tiny := newTestValidator(t, SupportConfig{CacheSize: 2})

	resources := []string{
		conformantPatient,
		`{"resourceType": "Observation", "status": "final", "code": {"text": "x"}, "valueQuantity": {"value": 72, "unit": "/min"}}`,
		`{"resourceType": "Patient", "gender": "robot", "name": [{"use": "nope"}]}`,
	}
	for _, data := range resources {
		res := parse(t, data)
		want, err := unbounded.Validate(context.Background(), res)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		got, err := tiny.Validate(context.Background(), res)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if !reflect.DeepEqual(want, got) {
			t.Errorf("%s: results differ with a bounded cache:\n%v\n%v", res.Type, want.Issues, got.Issues)
		}
	}
}

func TestValidate_TypeWithoutDefinition(t *testing.T) {
	v, err := New(fv.R4, service.NewChain(loader.NewProfileSupport(), terminology.NewCommon()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := v.Validate(context.Background(), parse(t, `{"resourceType": "Encounter", "status": "bogus"}`))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !result.Valid || len(result.Issues) != 1 {
		t.Fatalf("issues = %v; want a single informational issue", result.Issues)
	}
	if result.Issues[0].Severity != fv.SeverityInformation {
		t.Errorf("severity = %s; want information", result.Issues[0].Severity)
	}
}

func TestValidate_UnresolvedProfile(t *testing.T) {
	v := newTestValidator(t, SupportConfig{})

	result, err := v.Validate(context.Background(), parse(t, `{
		"resourceType": "Patient",
		"meta": {"profile": ["http://example.org/fhir/StructureDefinition/unknown"]}
	}`))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("unresolved profile should not invalidate: %v", result.Errors())
	}

	var found bool
	for _, issue := range result.Warnings() {
		if issue.Code == fv.IssueTypeNotFound && issue.Expression[0] == "Patient.meta.profile[0]" {
			found = true
		}
	}
	if !found {
		t.Errorf("no not-found warning for the profile: %v", result.Issues)
	}

	fast := newTestValidator(t, SupportConfig{}, fv.WithMetaProfiles(false))
	result, err = fast.Validate(context.Background(), parse(t, `{
		"resourceType": "Patient",
		"meta": {"profile": ["http://example.org/fhir/StructureDefinition/unknown"]}
	}`))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	for _, issue := range result.Issues {
		if issue.Code == fv.IssueTypeNotFound {
			t.Errorf("profile looked up while disabled: %v", issue)
		}
	}
}

func TestValidate_MaxErrors(t *testing.T) {
	v := newTestValidator(t, SupportConfig{}, fv.WithMaxErrors(2))

	result, err := v.Validate(context.Background(), parse(t, `{
		"resourceType": "Patient",
		"a": 1, "b": 2, "c": 3, "d": 4
	}`))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got := result.ErrorCount(); got != 2 {
		t.Errorf("ErrorCount = %d; want 2", got)
	}
	last := result.Issues[len(result.Issues)-1]
	if last.Code != fv.IssueTypeTooCostly {
		t.Errorf("last issue = %+v; want too-costly", last)
	}
}

func TestValidate_StrictMode(t *testing.T) {
	resource := `{
		"resourceType": "Patient",
		"maritalStatus": {"coding": [{"system": "http://terminology.hl7.org/CodeSystem/v3-MaritalStatus", "code": "ZZZ"}]}
	}`

	lenient := newTestValidator(t, SupportConfig{}, fv.WithConstraints(false))
	result, err := lenient.Validate(context.Background(), parse(t, resource))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !result.Valid || !result.HasWarnings() {
		t.Fatalf("expected valid result with warnings, got %v", result.Issues)
	}

	strict := newTestValidator(t, SupportConfig{}, fv.WithConstraints(false), fv.WithStrictMode(true))
	result, err = strict.Validate(context.Background(), parse(t, resource))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.Valid || result.HasWarnings() {
		t.Errorf("strict mode should turn warnings into errors, got %v", result.Issues)
	}
}

func TestValidate_Metrics(t *testing.T) {
	metrics := fv.NewMetrics(nil)
	v := newTestValidator(t, SupportConfig{Observer: metrics}, fv.WithMetrics(metrics))

	for _, data := range []string{conformantPatient, `{"resourceType": "Patient", "gender": "robot"}`} {
		if _, err := v.Validate(context.Background(), parse(t, data)); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
	}

	snap := metrics.Snapshot()
	if snap.ValidationsTotal != 2 || snap.ValidationsValid != 1 {
		t.Errorf("validations = %d total, %d valid; want 2, 1", snap.ValidationsTotal, snap.ValidationsValid)
	}
	if snap.ErrorsTotal == 0 {
		t.Error("no errors recorded")
	}
	if snap.CacheHits == 0 || snap.CacheMisses == 0 {
		t.Errorf("cache hits = %d, misses = %d; want both recorded", snap.CacheHits, snap.CacheMisses)
	}
}

// faultySupport fails every lookup with a provider fault.
type faultySupport struct {
	service.BaseSupport
	err error
}

func (s *faultySupport) Name() string { return "faulty" }

func (s *faultySupport) FetchStructureDefinition(context.Context, string) (*service.StructureDefinition, error) {
	return nil, s.err
}

func TestValidate_ProviderFault(t *testing.T) {
	fault := errors.New("disk on fire")
	v, err := New(fv.R4, &faultySupport{err: fault})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := v.Validate(context.Background(), parse(t, conformantPatient))
	if !errors.Is(err, fault) {
		t.Errorf("Validate error = %v; want the provider fault", err)
	}
	if result != nil {
		t.Errorf("expected no result with an error, got %v", result)
	}
}

type rejectingEvaluator struct {
	calls int
}

func (e *rejectingEvaluator) Evaluate(_ context.Context, expression string, _ any) (bool, error) {
	e.calls++
	return false, nil
}

func TestSetFHIRPathEvaluator(t *testing.T) {
	v := newTestValidator(t, SupportConfig{})
	eval := &rejectingEvaluator{}
	v.SetFHIRPathEvaluator(eval)

	result, err := v.Validate(context.Background(), parse(t, conformantPatient))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if eval.calls == 0 {
		t.Fatal("replacement evaluator was never called")
	}
	if result.Valid {
		t.Fatal("expected rejected invariants to make the resource invalid")
	}

	keys := map[string]bool{}
	for _, issue := range result.Issues {
		if issue.Code == fv.IssueTypeInvariant {
			keys[issue.ConstraintKey] = true
		}
	}
	for _, key := range []string{"dom-2", "dom-6"} {
		if !keys[key] {
			t.Errorf("no invariant issue for %s; got %v", key, keys)
		}
	}
	if keys["ele-1"] {
		t.Error("ele-1 must not be delegated to the FHIRPath evaluator")
	}
}

func TestValidate_Cancelled(t *testing.T) {
	v := newTestValidator(t, SupportConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := v.Validate(ctx, parse(t, conformantPatient)); !errors.Is(err, context.Canceled) {
		t.Errorf("Validate error = %v; want context.Canceled", err)
	}
}

func TestValidateBatch(t *testing.T) {
	v := newTestValidator(t, SupportConfig{})

	var resources []*fv.Resource
	for i := 0; i < 10; i++ {
		gender := "male"
		if i%2 == 1 {
			gender = "robot"
		}
		resources = append(resources, parse(t, fmt.Sprintf(`{"resourceType": "Patient", "id": "p%d", "gender": %q}`, i, gender)))
	}

	results, err := v.ValidateBatch(context.Background(), resources, 3)
	if err != nil {
		t.Fatalf("ValidateBatch failed: %v", err)
	}
	if len(results) != len(resources) {
		t.Fatalf("got %d results; want %d", len(results), len(resources))
	}
	for i, result := range results {
		if want := i%2 == 0; result.Valid != want {
			t.Errorf("result %d: Valid = %v; want %v (%v)", i, result.Valid, want, result.Errors())
		}
	}
}
