// Package fhirvalidator provides the core types of the FHIR validation service.
//
// A request flows through the service in a single direction:
//
//	JSON body -> ParseResource -> Engine.Validate -> NewOperationOutcome -> JSON response
//
// The types in this package are shared by every layer: Resource is the parsed
// input, Issue and Result carry what the engine found, and OperationOutcome is
// the standard FHIR representation returned to callers.
//
// # Quick Start
//
//	support, err := engine.BuildSupport(ctx, engine.SupportConfig{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	validator, err := engine.New(ctx, fv.R4, support)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := fv.ParseResource(body)
//	if err != nil {
//	    // *fv.ParseError: reject before validation
//	}
//
//	result, err := validator.Validate(ctx, res)
//	outcome := fv.NewOperationOutcome(result)
//
// # Functional Options
//
//	validator, err := engine.New(ctx, fv.R4, support,
//	    fv.WithTerminology(true),
//	    fv.WithConstraints(true),
//	    fv.WithMaxErrors(100),
//	)
//
// # Validation Phases
//
// The engine runs its phases sequentially so that issue order is stable:
//
//   - Structure: unknown elements, array versus single value shape
//   - Cardinality: min/max occurrence of elements
//   - Primitives: format of primitive values
//   - Fixed/Pattern: fixed[x] and pattern[x] values declared by profiles
//   - Terminology: code, Coding and CodeableConcept bindings
//   - Constraints: FHIRPath invariants
package fhirvalidator
