package fhirvalidator

import (
	"sync"
	"testing"
)

func TestNewResult_Empty(t *testing.T) {
	r := NewResult("Patient", nil, nil)

	if !r.Valid {
		t.Error("result without issues should be valid")
	}
	if len(r.Issues) != 0 {
		t.Errorf("len(Issues) = %d; want 0", len(r.Issues))
	}
	if r.ResourceType != "Patient" {
		t.Errorf("ResourceType = %q", r.ResourceType)
	}
}

func TestNewResult_Validity(t *testing.T) {
	tests := []struct {
		name     string
		severity IssueSeverity
		valid    bool
	}{
		{"information", SeverityInformation, true},
		{"warning", SeverityWarning, true},
		{"error", SeverityError, false},
		{"fatal", SeverityFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResult("Patient", nil, []Issue{{Severity: tt.severity, Code: IssueTypeInvalid}})
			if r.Valid != tt.valid {
				t.Errorf("Valid = %v; want %v", r.Valid, tt.valid)
			}
			if r.HasErrors() == tt.valid {
				t.Errorf("HasErrors() = %v", r.HasErrors())
			}
		})
	}
}

func TestNewResult_PreservesOrderAndDedupes(t *testing.T) {
	issues := []Issue{
		{Severity: SeverityError, Code: IssueTypeRequired, Diagnostics: "first", Expression: []string{"Patient.a"}},
		{Severity: SeverityWarning, Code: IssueTypeValue, Diagnostics: "second", Expression: []string{"Patient.b"}},
		{Severity: SeverityError, Code: IssueTypeRequired, Diagnostics: "first", Expression: []string{"Patient.a"}, Phase: "other"},
		{Severity: SeverityError, Code: IssueTypeStructure, Diagnostics: "third", Expression: []string{"Patient.c"}},
	}

	r := NewResult("Patient", nil, issues)

	want := []string{"first", "second", "third"}
	if len(r.Issues) != len(want) {
		t.Fatalf("len(Issues) = %d; want %d", len(r.Issues), len(want))
	}
	for i, w := range want {
		if r.Issues[i].Diagnostics != w {
			t.Errorf("Issues[%d] = %q; want %q", i, r.Issues[i].Diagnostics, w)
		}
	}
}

func TestNewResult_CopiesProfiles(t *testing.T) {
	profiles := []string{"http://example.org/StructureDefinition/p"}
	r := NewResult("Patient", profiles, nil)
	profiles[0] = "changed"

	if r.ProfileURLs[0] != "http://example.org/StructureDefinition/p" {
		t.Error("NewResult must not alias the caller's profile slice")
	}
}

func TestResult_Counts(t *testing.T) {
	r := NewResult("Observation", nil, []Issue{
		{Severity: SeverityError, Diagnostics: "e1"},
		{Severity: SeverityFatal, Diagnostics: "f1"},
		{Severity: SeverityWarning, Diagnostics: "w1"},
		{Severity: SeverityInformation, Diagnostics: "i1"},
	})

	if r.ErrorCount() != 2 {
		t.Errorf("ErrorCount() = %d; want 2", r.ErrorCount())
	}
	if r.WarningCount() != 1 {
		t.Errorf("WarningCount() = %d; want 1", r.WarningCount())
	}
	if !r.HasWarnings() {
		t.Error("HasWarnings() = false")
	}
	if len(r.Errors()) != 2 || len(r.Warnings()) != 1 {
		t.Errorf("Errors()=%d Warnings()=%d", len(r.Errors()), len(r.Warnings()))
	}
}

func TestResult_ConcurrentReads(t *testing.T) {
	r := NewResult("Patient", nil, []Issue{
		{Severity: SeverityError, Diagnostics: "e"},
		{Severity: SeverityWarning, Diagnostics: "w"},
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.ErrorCount()
			_ = r.Warnings()
			_ = NewOperationOutcome(r)
		}()
	}
	wg.Wait()
}
