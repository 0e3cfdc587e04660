package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofhir/fhirpath"
	"github.com/gofhir/fhirpath/types"
)

// FHIRPathAdapter evaluates invariants with github.com/gofhir/fhirpath.
// Each expression is compiled once and shared by all goroutines; expressions
// that fail to compile are not remembered.
type FHIRPathAdapter struct {
	mu       sync.RWMutex
	compiled map[string]*fhirpath.Expression
}

// NewFHIRPathAdapter creates an adapter with an empty expression cache.
func NewFHIRPathAdapter() *FHIRPathAdapter {
	return &FHIRPathAdapter{compiled: make(map[string]*fhirpath.Expression)}
}

// Evaluate reports whether expression holds for node, which is decoded JSON
// or a raw JSON document. An empty result is false, a single boolean is its own
// value and any other non-empty result is true.
func (a *FHIRPathAdapter) Evaluate(ctx context.Context, expression string, node any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	expr, err := a.compile(expression)
	if err != nil {
		return false, fmt.Errorf("compile %q: %w", expression, err)
	}

	var doc []byte
	switch v := node.(type) {
	case []byte:
		doc = v
	case json.RawMessage:
		doc = v
	case string:
		doc = []byte(v)
	default:
		if doc, err = json.Marshal(v); err != nil {
			return false, fmt.Errorf("encode node for %q: %w", expression, err)
		}
	}

	out, err := expr.Evaluate(doc)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	return truthy(out), nil
}

func (a *FHIRPathAdapter) compile(expression string) (*fhirpath.Expression, error) {
	a.mu.RLock()
	expr, ok := a.compiled[expression]
	a.mu.RUnlock()
	if ok {
		return expr, nil
	}

	expr, err := fhirpath.Compile(expression)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if cached, ok := a.compiled[expression]; ok {
		return cached, nil
	}
	a.compiled[expression] = expr
	return expr, nil
}

func truthy(c types.Collection) bool {
	switch len(c) {
	case 0:
		return false
	case 1:
		if b, ok := c[0].(types.Boolean); ok {
			return b.Bool()
		}
	}
	return true
}

// CacheSize returns the number of compiled expressions held.
func (a *FHIRPathAdapter) CacheSize() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.compiled)
}

var _ FHIRPathEvaluator = (*FHIRPathAdapter)(nil)
