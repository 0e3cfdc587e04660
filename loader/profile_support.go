package loader

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/PraveenKS30/hl7-fhir-validator/service"
)

// ProfileSupport serves StructureDefinitions that already carry a snapshot.
// Definitions are indexed by canonical URL, and base type definitions also by
// type name.
type ProfileSupport struct {
	service.BaseSupport

	mu     sync.RWMutex
	byURL  map[string]*service.StructureDefinition
	byType map[string]*service.StructureDefinition
}

// NewProfileSupport creates an empty profile provider.
func NewProfileSupport() *ProfileSupport {
	return &ProfileSupport{
		byURL:  make(map[string]*service.StructureDefinition),
		byType: make(map[string]*service.StructureDefinition),
	}
}

// Name implements service.ValidationSupport.
func (s *ProfileSupport) Name() string {
	return "profiles"
}

// Add stores definitions. A later definition with the same URL replaces the
// earlier one. Definitions without a snapshot are rejected.
func (s *ProfileSupport) Add(sds ...*service.StructureDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sd := range sds {
		if sd == nil {
			return fmt.Errorf("structure definition is nil")
		}
		if sd.URL == "" {
			return fmt.Errorf("structure definition %q has no url", sd.Name)
		}
		if !sd.HasSnapshot() {
			return fmt.Errorf("structure definition %s has no snapshot", sd.URL)
		}

		s.byURL[sd.URL] = sd

		// Only THE base definition is indexed by type, so that a profile such
		// as us-core-patient never shadows Patient.
		if isBaseTypeDefinition(sd.URL, sd.Type) {
			s.byType[sd.Type] = sd
		}
	}
	return nil
}

// FetchStructureDefinition implements service.ValidationSupport. It accepts a
// canonical URL, with or without a "|version" suffix, or a bare type name.
func (s *ProfileSupport) FetchStructureDefinition(ctx context.Context, url string) (*service.StructureDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	url = service.StripVersion(url)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if sd, ok := s.byURL[url]; ok {
		return sd, nil
	}
	if sd, ok := s.byType[url]; ok {
		return sd, nil
	}
	return nil, fmt.Errorf("structure definition %s: %w", url, service.ErrNotFound)
}

// Count returns the number of loaded StructureDefinitions.
func (s *ProfileSupport) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byURL)
}

// URLs returns all loaded URLs, sorted.
func (s *ProfileSupport) URLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	urls := make([]string, 0, len(s.byURL))
	for url := range s.byURL {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// Types returns the type names that have a base definition, sorted.
func (s *ProfileSupport) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]string, 0, len(s.byType))
	for t := range s.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// isBaseTypeDefinition checks if a URL is THE base definition for its type.
func isBaseTypeDefinition(url, typeName string) bool {
	if typeName == "" {
		return false
	}
	return url == service.CoreURL(typeName)
}

var _ service.ValidationSupport = (*ProfileSupport)(nil)
