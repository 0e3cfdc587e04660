package walker

import (
	"strings"

	"github.com/PraveenKS30/hl7-fhir-validator/service"
)

// ElementIndex provides O(1) lookup of ElementDefinitions by path and the
// ordered child definitions of each path. Slices are left out: the walker
// matches instance data against the unsliced base elements only.
type ElementIndex struct {
	byPath   map[string]*service.ElementDefinition
	children map[string][]*service.ElementDefinition // snapshot order
	root     *service.ElementDefinition              // e.g. "Patient" or "HumanName"
}

// BuildElementIndex creates an ElementIndex from a StructureDefinition
// snapshot.
func BuildElementIndex(sd *service.StructureDefinition) *ElementIndex {
	idx := &ElementIndex{
		byPath:   make(map[string]*service.ElementDefinition, 64),
		children: make(map[string][]*service.ElementDefinition, 16),
	}
	if !sd.HasSnapshot() {
		return idx
	}

	idx.root = &sd.Snapshot[0]
	for i := range sd.Snapshot {
		elem := &sd.Snapshot[i]
		if elem.IsSlice() {
			continue
		}
		if _, dup := idx.byPath[elem.Path]; dup {
			continue
		}
		idx.byPath[elem.Path] = elem

		if parent, _ := splitPath(elem.Path); parent != "" {
			idx.children[parent] = append(idx.children[parent], elem)
		}
	}
	return idx
}

// Get returns the definition of path, or nil. A concrete choice path such as "Observation.valueString" resolves to its
// "Observation.value[x]" definition when that type is allowed.
func (idx *ElementIndex) Get(path string) *service.ElementDefinition {
	if idx == nil {
		return nil
	}
	if elem, ok := idx.byPath[path]; ok {
		return elem
	}

	parent, name := splitPath(path)
	for _, child := range idx.children[parent] {
		if _, ok := ChoiceType(child, name); ok {
			return child
		}
	}
	return nil
}

// Children returns the child definitions of path in snapshot order.
func (idx *ElementIndex) Children(path string) []*service.ElementDefinition {
	if idx == nil {
		return nil
	}
	return idx.children[path]
}

// HasChildren reports whether the index defines elements below path.
func (idx *ElementIndex) HasChildren(path string) bool {
	return len(idx.Children(path)) > 0
}

// Root returns the root element definition.
func (idx *ElementIndex) Root() *service.ElementDefinition {
	if idx == nil {
		return nil
	}
	return idx.root
}

// Size counts the indexed paths.
func (idx *ElementIndex) Size() int {
	if idx == nil {
		return 0
	}
	return len(idx.byPath)
}

// splitPath splits "Patient.name.family" into "Patient.name" and "family".
// A root path has no parent.
func splitPath(path string) (parent, name string) {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}
