package fhirvalidator

// Result is the outcome of validating one resource. It is built once by
// NewResult and never modified, so it can be shared between goroutines.
type Result struct {
	// Valid is false when Issues holds an error or fatal issue
	Valid bool `json:"valid"`

	// Issues in the order the phases reported them
	Issues []Issue `json:"issues,omitempty"`

	ResourceType string `json:"resourceType,omitempty"`

	// ProfileURLs lists the base definition and every declared profile the
	// resource was checked against
	ProfileURLs []string `json:"profileUrls,omitempty"`
}

// NewResult keeps the first occurrence of every distinct issue, in order.
func NewResult(resourceType string, profiles []string, issues []Issue) *Result {
	r := &Result{
		Valid:        true,
		ResourceType: resourceType,
		ProfileURLs:  append([]string(nil), profiles...),
		Issues:       make([]Issue, 0, len(issues)),
	}

	seen := make(map[string]bool, len(issues))
	for _, issue := range issues {
		k := issue.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		r.Issues = append(r.Issues, issue)
		r.Valid = r.Valid && !issue.IsError()
	}
	return r
}

func (r *Result) filter(keep func(Issue) bool) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if keep(issue) {
			out = append(out, issue)
		}
	}
	return out
}

func (r *Result) count(match func(Issue) bool) int {
	n := 0
	for _, issue := range r.Issues {
		if match(issue) {
			n++
		}
	}
	return n
}

// HasErrors is the negation of Valid.
func (r *Result) HasErrors() bool { return !r.Valid }

// HasWarnings reports whether any issue is a warning.
func (r *Result) HasWarnings() bool { return r.WarningCount() > 0 }

// ErrorCount counts error and fatal issues.
func (r *Result) ErrorCount() int { return r.count(Issue.IsError) }

// WarningCount counts warnings.
func (r *Result) WarningCount() int { return r.count(Issue.IsWarning) }

// Errors returns the error and fatal issues.
func (r *Result) Errors() []Issue { return r.filter(Issue.IsError) }

// Warnings returns the warnings.
func (r *Result) Warnings() []Issue { return r.filter(Issue.IsWarning) }
