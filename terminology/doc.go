// Package terminology provides the terminology providers of the support
// chain.
//
// The package provides:
//   - InMemory: validates codes against locally loaded ValueSets and CodeSystems
//   - Common: validates codes of well-known external systems (BCP-47
//     languages, mime types, ISO currencies and regions, UCUM, LOINC and
//     SNOMED CT) without enumerating them
//
// Example usage:
//
//	ts := terminology.NewInMemory()
//	if _, err := ts.Load(defs); err != nil {
//	    return err
//	}
//
//	result, err := ts.ValidateCode(ctx, service.CodeRequest{
//	    System:   "http://hl7.org/fhir/administrative-gender",
//	    Code:     "male",
//	    ValueSet: "http://hl7.org/fhir/ValueSet/administrative-gender",
//	})
package terminology
