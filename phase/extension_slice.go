package phase

import (
	"strings"

	"github.com/PraveenKS30/hl7-fhir-validator/service"
)

// Extension elements are sliced by url. A slice names its extension either
// through a fixed value on its url child, as sub-extensions of a complex
// extension do, or through the profile of its Extension type.

// isExtensionSlicing reports whether slice is a slice of an extension or
// modifierExtension element.
func isExtensionSlicing(slice *service.ElementDefinition) bool {
	name := slice.Name()
	return name == "extension" || name == "modifierExtension"
}

// extensionURL returns the url an extension slice stands for, or "".
func extensionURL(slice *service.ElementDefinition, idx *sliceIndex) string {
	if url := idx.byID[elementID(slice)+".url"]; url != nil {
		for _, v := range []any{url.Fixed, url.Pattern} {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	for _, t := range slice.Types {
		if t.Code == "Extension" && len(t.Profile) > 0 {
			return service.StripVersion(t.Profile[0])
		}
	}
	return ""
}

// extensionSlices maps the urls defined by the slices of the extension
// element with the given id to their slice definitions.
func extensionSlices(idx *sliceIndex, id string) map[string]*service.ElementDefinition {
	out := make(map[string]*service.ElementDefinition)
	for _, slice := range idx.slices[id] {
		if url := extensionURL(slice, idx); url != "" {
			out[url] = slice
		}
	}
	return out
}

// extensionRoot returns the root element of an extension definition.
func extensionRoot(sd *service.StructureDefinition) *service.ElementDefinition {
	if !sd.HasSnapshot() {
		return nil
	}
	return &sd.Snapshot[0]
}

// extensionValue returns the value[x] element of an extension definition.
// Elements of sub-extension slices are skipped.
func extensionValue(sd *service.StructureDefinition) *service.ElementDefinition {
	for i := range sd.Snapshot {
		e := &sd.Snapshot[i]
		if e.Path == "Extension.value[x]" && !strings.Contains(elementID(e), ":") {
			return e
		}
	}
	return nil
}

// isAbsoluteURL reports whether url can name an extension definition.
func isAbsoluteURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "urn:")
}
