// Package loader reads FHIR conformance resources and converts them to the
// internal service models used by the validator.
//
// Key components:
//   - Reader: decodes single resources, Bundles, files and directory trees
//     through the r4 models
//   - ProfileSupport: serves snapshot StructureDefinitions to the support chain
//
// Example usage:
//
//	defs, err := loader.NewReader().ReadDirectory("profiles/")
//	if err != nil {
//	    return err
//	}
//	profiles := loader.NewProfileSupport()
//	for _, sd := range defs.StructureDefinitions {
//	    if sd.HasSnapshot() {
//	        _ = profiles.Add(sd)
//	    }
//	}
package loader
