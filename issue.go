package fhirvalidator

import "strings"

// IssueSeverity is OperationOutcome.issue.severity.
type IssueSeverity string

// Severities, most severe first. Fatal and error make a resource invalid.
const (
	SeverityFatal       IssueSeverity = "fatal"
	SeverityError       IssueSeverity = "error"
	SeverityWarning     IssueSeverity = "warning"
	SeverityInformation IssueSeverity = "information"
)

// IssueType is OperationOutcome.issue.code, from the R4 issue-type value set.
type IssueType string

// Issue types reported by the validator.
const (
	IssueTypeInvalid       IssueType = "invalid"
	IssueTypeStructure     IssueType = "structure"
	IssueTypeRequired      IssueType = "required"
	IssueTypeValue         IssueType = "value"
	IssueTypeInvariant     IssueType = "invariant"
	IssueTypeProcessing    IssueType = "processing"
	IssueTypeNotFound      IssueType = "not-found"
	IssueTypeCodeInvalid   IssueType = "code-invalid"
	IssueTypeNotSupported  IssueType = "not-supported"
	IssueTypeInformational IssueType = "informational"
	IssueTypeTooCostly     IssueType = "too-costly"
	IssueTypeTooLong       IssueType = "too-long"
	IssueTypeException     IssueType = "exception"
)

// Issue is one finding about a resource.
type Issue struct {
	Severity    IssueSeverity `json:"severity"`
	Code        IssueType     `json:"code"`
	Diagnostics string        `json:"diagnostics,omitempty"`

	// Expression holds the FHIRPath location of the finding, e.g.
	// Patient.name[0].given[1]
	Expression []string `json:"expression,omitempty"`

	// Phase and ConstraintKey are diagnostic only; they are not part of the
	// OperationOutcome
	Phase         string `json:"phase,omitempty"`
	ConstraintKey string `json:"constraintKey,omitempty"`
}

// IsError reports whether the issue makes the resource invalid.
func (i Issue) IsError() bool {
	switch i.Severity {
	case SeverityError, SeverityFatal:
		return true
	}
	return false
}

// IsWarning reports whether the issue is a warning.
func (i Issue) IsWarning() bool {
	return i.Severity == SeverityWarning
}

func (i Issue) String() string {
	s := string(i.Severity) + ": " + i.Diagnostics
	if len(i.Expression) > 0 {
		s += " at " + i.Expression[0]
	}
	return s
}

// key identifies an issue for de-duplication. Phase and constraint key are
// left out: two phases reporting the same finding at the same place collapse
// into one issue.
func (i Issue) key() string {
	return strings.Join([]string{
		string(i.Severity),
		string(i.Code),
		strings.Join(i.Expression, ","),
		i.Diagnostics,
	}, "\x00")
}

// IssueBuilder assembles an Issue:
//
//	fv.Error(fv.IssueTypeRequired).Diagnostics(msg).At("Patient.name").Build()
type IssueBuilder struct {
	issue Issue
}

// NewIssue starts an issue of the given severity and type.
func NewIssue(severity IssueSeverity, code IssueType) *IssueBuilder {
	return &IssueBuilder{issue: Issue{Severity: severity, Code: code}}
}

// Error starts an error issue.
func Error(code IssueType) *IssueBuilder { return NewIssue(SeverityError, code) }

// Warning starts a warning.
func Warning(code IssueType) *IssueBuilder { return NewIssue(SeverityWarning, code) }

// Info starts an information issue.
func Info(code IssueType) *IssueBuilder { return NewIssue(SeverityInformation, code) }

// Diagnostics sets the human-readable message.
func (b *IssueBuilder) Diagnostics(msg string) *IssueBuilder {
	b.issue.Diagnostics = msg
	return b
}

// At sets the location, replacing any previous one.
func (b *IssueBuilder) At(path string) *IssueBuilder {
	b.issue.Expression = []string{path}
	return b
}

// Phase records the name of the phase that raised the issue.
func (b *IssueBuilder) Phase(phase string) *IssueBuilder {
	b.issue.Phase = phase
	return b
}

// Constraint records the key of the violated invariant, such as "pat-1".
func (b *IssueBuilder) Constraint(key string) *IssueBuilder {
	b.issue.ConstraintKey = key
	return b
}

// Build returns the assembled issue.
func (b *IssueBuilder) Build() Issue {
	return b.issue
}
