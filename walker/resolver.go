package walker

import (
	"context"
	"sync"

	"github.com/PraveenKS30/hl7-fhir-validator/service"
)

// Resolver resolves type codes to StructureDefinitions through a
// ValidationSupport and caches one ElementIndex per definition.
//
// Definitions are expected to be stable pointers, as returned by the
// caching support; the index cache is keyed on them.
type Resolver struct {
	support service.ValidationSupport
	indexes sync.Map // *service.StructureDefinition -> *ElementIndex
}

// NewResolver creates a resolver over support.
func NewResolver(support service.ValidationSupport) *Resolver {
	return &Resolver{support: support}
}

// ResolveType returns the core definition of a datatype or resource type.
// It returns nil and no error for primitives and for types no provider
// knows; the error is reserved for provider faults.
func (r *Resolver) ResolveType(ctx context.Context, typeCode string) (*service.StructureDefinition, error) {
	if typeCode == "" || IsPrimitiveType(typeCode) || r.support == nil {
		return nil, nil
	}

	sd, err := r.support.FetchStructureDefinition(ctx, service.CoreURL(typeCode))
	if err != nil {
		if service.IsUnresolved(err) {
			return nil, nil
		}
		return nil, err
	}
	if !sd.HasSnapshot() {
		return nil, nil
	}
	return sd, nil
}

// Index returns the cached element index of sd, building it on first use.
func (r *Resolver) Index(sd *service.StructureDefinition) *ElementIndex {
	if idx, ok := r.indexes.Load(sd); ok {
		return idx.(*ElementIndex)
	}
	idx, _ := r.indexes.LoadOrStore(sd, BuildElementIndex(sd))
	return idx.(*ElementIndex)
}
