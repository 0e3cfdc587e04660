// Package walker matches FHIR resource instances against StructureDefinition
// snapshots.
//
// Validation phases need to know, for every property of an instance, which
// ElementDefinition it matched and which FHIR type it carries. Given:
//
//	{
//	  "resourceType": "Observation",
//	  "status": "final",
//	  "valueQuantity": {"value": 72, "unit": "bpm"}
//	}
//
// the walker records that "status" matched Observation.status of type code,
// that "valueQuantity" matched Observation.value[x] with the concrete type
// Quantity, and that the children of the quantity are defined by the core
// Quantity StructureDefinition.
//
// # Tree
//
// Walk returns a tree of Objects. Each Object holds its Elements in
// definition order and the property names that matched nothing. Each
// Element holds one Value per occurrence, aligned with the "_key" sibling of
// primitives. Complex values carry the Object built for them.
//
// Children of BackboneElements are looked up in the same definition,
// contentReference elements point at the referenced path, and nested
// resources switch to the definition of their resourceType. An Object whose
// type cannot be resolved is opaque: it is kept in the tree but its
// children are not checked.
//
// # Usage
//
//	w := walker.New(support)
//	root, err := w.Walk(ctx, resource.Data, sd)
//	if err != nil {
//	    return err // provider fault or cancellation
//	}
//	root.Walk(func(o *walker.Object) bool {
//	    for _, el := range o.Elements {
//	        // el.Def, el.Type, el.Values
//	    }
//	    return true
//	})
//
// A Walker and its Resolver are safe for concurrent use. Element indexes are
// cached per StructureDefinition pointer.
package walker
