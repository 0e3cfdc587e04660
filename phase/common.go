package phase

import (
	"fmt"
	"strings"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/walker"
)

// Issue constructors shared by the phases. Every issue carries its location
// and the name of the phase that found it.

func errorAt(code fv.IssueType, diagnostics, path, phase string) fv.Issue {
	return fv.Error(code).Diagnostics(diagnostics).At(path).Phase(phase).Build()
}

func warningAt(code fv.IssueType, diagnostics, path, phase string) fv.Issue {
	return fv.Warning(code).Diagnostics(diagnostics).At(path).Phase(phase).Build()
}

func infoAt(code fv.IssueType, diagnostics, path, phase string) fv.Issue {
	return fv.Info(code).Diagnostics(diagnostics).At(path).Phase(phase).Build()
}

func displayMismatch(code, got, want, path, phase string) fv.Issue {
	return warningAt(fv.IssueTypeCodeInvalid,
		fmt.Sprintf("Display '%s' for code '%s' differs from the CodeSystem display '%s'", got, code, want),
		path, phase)
}

// validID checks the R4 id pattern [A-Za-z0-9\-\.]{1,64}.
func validID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '.')
	}) < 0
}

// objects returns the objects of the tree that carry definitions, parents
// first.
func objects(root *walker.Object) []*walker.Object {
	if root == nil {
		return nil
	}
	var out []*walker.Object
	root.Walk(func(o *walker.Object) bool {
		if !o.Opaque() {
			out = append(out, o)
		}
		return true
	})
	return out
}

// childPath returns the location of a child property of o.
func childPath(o *walker.Object, name string) string {
	return o.Path + "." + strings.TrimSuffix(name, "[x]")
}

