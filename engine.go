package fhirvalidator

import "context"

// Engine validates parsed resources.
//
// Conformance problems are reported as issues in the Result; the returned
// error is reserved for internal failures such as a faulty definition
// provider or a cancelled context.
type Engine interface {
	Validate(ctx context.Context, res *Resource) (*Result, error)
}

// EngineFunc adapts an ordinary function to the Engine interface.
type EngineFunc func(ctx context.Context, res *Resource) (*Result, error)

// Validate calls f(ctx, res).
func (f EngineFunc) Validate(ctx context.Context, res *Resource) (*Result, error) {
	return f(ctx, res)
}
