package service

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a provider does not hold the requested item.
var ErrNotFound = errors.New("resource not found")

// ErrNotSupported is returned when a provider does not handle a kind of lookup.
var ErrNotSupported = errors.New("operation not supported")

// Kind names the category of a lookup.
type Kind string

// Lookup kinds.
const (
	KindStructureDefinition Kind = "StructureDefinition"
	KindValueSet            Kind = "ValueSet"
	KindCodeSystem          Kind = "CodeSystem"
	KindCodeValidation      Kind = "CodeValidation"
)

// ValidationSupport is implemented by every definition provider, by the
// Chain that aggregates them and by the cache in front of the chain.
//
// A provider that cannot answer returns ErrNotFound or ErrNotSupported
// (possibly wrapped). Any other error is a provider fault.
type ValidationSupport interface {
	// Name identifies the provider in logs and errors.
	Name() string

	FetchStructureDefinition(ctx context.Context, url string) (*StructureDefinition, error)
	FetchValueSet(ctx context.Context, url string) (*ValueSet, error)
	FetchCodeSystem(ctx context.Context, url string) (*CodeSystem, error)
	ValidateCode(ctx context.Context, req CodeRequest) (*ValidateCodeResult, error)
}

// BaseSupport answers ErrNotSupported to every lookup. Providers embed it and
// override the lookups they handle.
type BaseSupport struct{}

// FetchStructureDefinition implements ValidationSupport.
func (BaseSupport) FetchStructureDefinition(context.Context, string) (*StructureDefinition, error) {
	return nil, ErrNotSupported
}

// FetchValueSet implements ValidationSupport.
func (BaseSupport) FetchValueSet(context.Context, string) (*ValueSet, error) {
	return nil, ErrNotSupported
}

// FetchCodeSystem implements ValidationSupport.
func (BaseSupport) FetchCodeSystem(context.Context, string) (*CodeSystem, error) {
	return nil, ErrNotSupported
}

// ValidateCode implements ValidationSupport.
func (BaseSupport) ValidateCode(context.Context, CodeRequest) (*ValidateCodeResult, error) {
	return nil, ErrNotSupported
}

// IsUnresolved reports whether err means "no provider can answer", as opposed
// to a provider fault.
func IsUnresolved(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotSupported)
}

// SupportError reports a provider fault during a lookup.
type SupportError struct {
	Provider string
	Kind     Kind
	ID       string
	Err      error
}

func (e *SupportError) Error() string {
	return fmt.Sprintf("%s lookup of %s %q failed: %v", e.Provider, e.Kind, e.ID, e.Err)
}

func (e *SupportError) Unwrap() error {
	return e.Err
}

// Resolve looks up a definition of the given kind. The result is a
// *StructureDefinition, *ValueSet or *CodeSystem. Code validation is not a
// definition lookup and yields ErrNotSupported.
func Resolve(ctx context.Context, support ValidationSupport, kind Kind, id string) (any, error) {
	switch kind {
	case KindStructureDefinition:
		return support.FetchStructureDefinition(ctx, id)
	case KindValueSet:
		return support.FetchValueSet(ctx, id)
	case KindCodeSystem:
		return support.FetchCodeSystem(ctx, id)
	default:
		return nil, fmt.Errorf("resolve %s: %w", kind, ErrNotSupported)
	}
}
