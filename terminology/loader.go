package terminology

import (
	"fmt"

	"github.com/PraveenKS30/hl7-fhir-validator/loader"
)

// LoadStats contains statistics about terminology loading.
type LoadStats struct {
	CodeSystemsLoaded int
	ValueSetsLoaded   int
}

// Load adds the CodeSystems and ValueSets of defs. CodeSystems are added
// first so that filters and whole-system includes can be expanded.
func (s *InMemory) Load(defs *loader.Definitions) (*LoadStats, error) {
	stats := &LoadStats{}
	if defs == nil {
		return stats, nil
	}

	for _, cs := range defs.CodeSystems {
		if err := s.AddCodeSystem(cs); err != nil {
			return stats, fmt.Errorf("load codesystem: %w", err)
		}
		stats.CodeSystemsLoaded++
	}
	for _, vs := range defs.ValueSets {
		if err := s.AddValueSet(vs); err != nil {
			return stats, fmt.Errorf("load valueset: %w", err)
		}
		stats.ValueSetsLoaded++
	}
	return stats, nil
}
