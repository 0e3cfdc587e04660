package service

import (
	"context"
	"fmt"
)

// Chain implements ValidationSupport by asking its providers in order.
// The first provider that answers wins; ErrNotFound and ErrNotSupported move
// on to the next one, and any other error stops the lookup.
//
// A Chain is built before use and not modified afterwards, so lookups need
// no locking.
type Chain struct {
	supports []ValidationSupport
}

// NewChain creates a chain over the given providers.
func NewChain(supports ...ValidationSupport) *Chain {
	return &Chain{supports: supports}
}

// Add appends a provider. It must not be called once lookups have started.
func (c *Chain) Add(support ValidationSupport) {
	c.supports = append(c.supports, support)
}

// Name implements ValidationSupport.
func (c *Chain) Name() string {
	return "chain"
}

// Supports returns the providers in lookup order.
func (c *Chain) Supports() []ValidationSupport {
	return append([]ValidationSupport(nil), c.supports...)
}

// FetchStructureDefinition tries each provider until one succeeds.
func (c *Chain) FetchStructureDefinition(ctx context.Context, url string) (*StructureDefinition, error) {
	return first(ctx, c.supports, KindStructureDefinition, url, func(s ValidationSupport) (*StructureDefinition, error) {
		return s.FetchStructureDefinition(ctx, url)
	})
}

// FetchValueSet tries each provider until one succeeds.
func (c *Chain) FetchValueSet(ctx context.Context, url string) (*ValueSet, error) {
	return first(ctx, c.supports, KindValueSet, url, func(s ValidationSupport) (*ValueSet, error) {
		return s.FetchValueSet(ctx, url)
	})
}

// FetchCodeSystem tries each provider until one succeeds.
func (c *Chain) FetchCodeSystem(ctx context.Context, url string) (*CodeSystem, error) {
	return first(ctx, c.supports, KindCodeSystem, url, func(s ValidationSupport) (*CodeSystem, error) {
		return s.FetchCodeSystem(ctx, url)
	})
}

// ValidateCode tries each provider until one can judge the code.
func (c *Chain) ValidateCode(ctx context.Context, req CodeRequest) (*ValidateCodeResult, error) {
	return first(ctx, c.supports, KindCodeValidation, req.CacheKey(), func(s ValidationSupport) (*ValidateCodeResult, error) {
		return s.ValidateCode(ctx, req)
	})
}

func first[T any](ctx context.Context, supports []ValidationSupport, kind Kind, id string, fetch func(ValidationSupport) (*T, error)) (*T, error) {
	for _, s := range supports {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		v, err := fetch(s)
		if err == nil && v != nil {
			return v, nil
		}
		if err != nil && !IsUnresolved(err) {
			return nil, &SupportError{Provider: s.Name(), Kind: kind, ID: id, Err: err}
		}
	}
	return nil, fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

var _ ValidationSupport = (*Chain)(nil)
