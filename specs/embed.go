// Package specs embeds the FHIR core definitions the validator starts from.
//
// The R4 set holds a snapshot definition for every resource type and complex
// data type of FHIR 4.0.1, one Bundle per file, plus the CodeSystems and
// ValueSets behind their required code bindings. Definitions are structural:
// narrative fields, mappings and most type-specific invariants are omitted.
// Load the published hl7.fhir.r4.core package through the registry package
// when those are needed; its definitions replace the embedded ones by URL.
package specs

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
)

//go:embed r4/*.json
var r4Files embed.FS

// ErrUnsupportedVersion is returned for versions without embedded definitions.
var ErrUnsupportedVersion = errors.New("no embedded definitions")

// Core returns the definitions for version ("R4") as a filesystem of JSON
// files at its root.
func Core(version string) (fs.FS, error) {
	if version == "R4" {
		return fs.Sub(r4Files, "r4")
	}
	return nil, fmt.Errorf("%w for FHIR version %q", ErrUnsupportedVersion, version)
}
