package fhirvalidator

import "fmt"

// FHIRVersion represents a FHIR specification version.
type FHIRVersion string

// Known FHIR versions. Only R4 has core definitions in this module.
const (
	// R4 is FHIR Release 4 (4.0.1)
	R4 FHIRVersion = "R4"
	// R4B is FHIR Release 4B (4.3.0)
	R4B FHIRVersion = "R4B"
	// R5 is FHIR Release 5 (5.0.0)
	R5 FHIRVersion = "R5"
)

// String returns the version string.
func (v FHIRVersion) String() string {
	return string(v)
}

// IsValid returns true if this is a supported FHIR version.
func (v FHIRVersion) IsValid() bool {
	_, ok := versionConfigs[v]
	return ok
}

// Package returns the core package name and the version string used in
// StructureDefinition.fhirVersion.
func (v FHIRVersion) Package() (name, version string) {
	cfg := versionConfigs[v]
	return cfg.corePackage, cfg.fhirVersion
}

type versionConfig struct {
	corePackage string
	fhirVersion string
}

var versionConfigs = map[FHIRVersion]versionConfig{
	R4: {corePackage: "hl7.fhir.r4.core", fhirVersion: "4.0.1"},
}

// ParseFHIRVersion accepts "R4", "4.0", "4.0.1" and returns the version.
func ParseFHIRVersion(s string) (FHIRVersion, error) {
	switch s {
	case "R4", "r4", "4.0", "4.0.1", "":
		return R4, nil
	case "R4B", "r4b", "4.3.0", "R5", "r5", "5.0.0":
		return "", fmt.Errorf("FHIR version %s is not supported", s)
	default:
		return "", fmt.Errorf("unknown FHIR version %q", s)
	}
}
