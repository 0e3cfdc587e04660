package fhirvalidator

import "errors"

// MediaTypeFHIRJSON is the content type of FHIR JSON documents, including
// the OperationOutcome returned by the validation endpoint.
const MediaTypeFHIRJSON = "application/fhir+json"

// OperationOutcome is the FHIR representation of a validation Result.
type OperationOutcome struct {
	ResourceType string         `json:"resourceType"`
	Issue        []OutcomeIssue `json:"issue"`
}

// OutcomeIssue is a single OperationOutcome.issue entry.
type OutcomeIssue struct {
	Severity    IssueSeverity `json:"severity"`
	Code        IssueType     `json:"code"`
	Diagnostics string        `json:"diagnostics,omitempty"`
	Location    []string      `json:"location,omitempty"`
	Expression  []string      `json:"expression,omitempty"`
}

// NewOperationOutcome translates a Result into an OperationOutcome.
// Each issue maps to exactly one entry; order, severity and diagnostics are
// carried over unchanged.
func NewOperationOutcome(r *Result) *OperationOutcome {
	out := &OperationOutcome{
		ResourceType: "OperationOutcome",
		// Serialized as "issue": [] when there is nothing to report. No
		// placeholder entry is added to satisfy issue 1..*.
		Issue: []OutcomeIssue{},
	}
	if r == nil {
		return out
	}

	out.Issue = make([]OutcomeIssue, 0, len(r.Issues))
	for _, issue := range r.Issues {
		entry := OutcomeIssue{
			Severity:    issue.Severity,
			Code:        issue.Code,
			Diagnostics: issue.Diagnostics,
		}
		if len(issue.Expression) > 0 {
			entry.Expression = append([]string(nil), issue.Expression...)
			// R4 servers still read location; mirror the expression there.
			entry.Location = append([]string(nil), issue.Expression...)
		}
		out.Issue = append(out.Issue, entry)
	}
	return out
}

// NewParseErrorOutcome describes a request body that could not be turned
// into a Resource. The single issue is fatal: validation never ran.
func NewParseErrorOutcome(err error) *OperationOutcome {
	code := IssueTypeStructure
	var pe *ParseError
	if errors.As(err, &pe) {
		code = pe.IssueType()
	}
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OutcomeIssue{{
			Severity:    SeverityFatal,
			Code:        code,
			Diagnostics: err.Error(),
		}},
	}
}

// HasErrors reports whether any entry is an error or fatal issue.
func (o *OperationOutcome) HasErrors() bool {
	for _, issue := range o.Issue {
		if issue.Severity == SeverityError || issue.Severity == SeverityFatal {
			return true
		}
	}
	return false
}
