// Package phase provides the validation phases run by the engine.
//
// Each phase checks one aspect of a walked resource:
//   - structure: unknown properties, choice elements, array shape and JSON types
//   - cardinality: min/max occurrences
//   - primitives: lexical form and range of primitive values
//   - fixed-pattern: fixed[x] and pattern[x] values
//   - references: Reference format, target types and contained targets
//   - slicing: slice assignment by discriminator, slice cardinality, closed
//     and ordered slicing, and the constraints of the matched slice
//   - extensions: extension definitions, modifier flags and value types
//   - terminology: ValueSet bindings, CodeSystem codes and displays
//   - constraints: FHIRPath invariants
//
// Phases implement pipeline.Phase. They hold no per-request state, so one
// value serves all requests.
package phase
