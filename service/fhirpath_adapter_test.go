package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

func TestFHIRPathAdapter_Evaluate(t *testing.T) {
	a := NewFHIRPathAdapter()
	patient := map[string]any{
		"resourceType": "Patient",
		"name":         []any{map[string]any{"family": "Smith"}},
		"birthOrder":   json.Number("2"),
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"name.exists()", true},
		{"gender.exists()", false},
		{"name.family = 'Smith'", true},
		{"name", true},
		{"telecom", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := a.Evaluate(context.Background(), tt.expr, patient)
			if err != nil {
				t.Fatalf("Evaluate(%q) error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v; want %v", tt.expr, got, tt.want)
			}
		})
	}

	if a.CacheSize() != len(tests) {
		t.Errorf("CacheSize() = %d; want %d", a.CacheSize(), len(tests))
	}
}

func TestFHIRPathAdapter_Inputs(t *testing.T) {
	a := NewFHIRPathAdapter()
	raw := `{"resourceType":"Patient","active":true}`

	for name, input := range map[string]any{
		"bytes":  []byte(raw),
		"raw":    json.RawMessage(raw),
		"string": raw,
	} {
		got, err := a.Evaluate(context.Background(), "active.exists()", input)
		if err != nil || !got {
			t.Errorf("%s: Evaluate = %v, %v; want true", name, got, err)
		}
	}
	if a.CacheSize() != 1 {
		t.Errorf("CacheSize() = %d; want 1", a.CacheSize())
	}
}

func TestFHIRPathAdapter_Errors(t *testing.T) {
	a := NewFHIRPathAdapter()

	if _, err := a.Evaluate(context.Background(), "name.where(", map[string]any{}); err == nil {
		t.Error("expected compile error")
	}
	if a.CacheSize() != 0 {
		t.Errorf("failed compilations must not be cached, CacheSize() = %d", a.CacheSize())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Evaluate(ctx, "name.exists()", map[string]any{}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v; want context.Canceled", err)
	}
}

func TestFHIRPathAdapter_Concurrent(t *testing.T) {
	a := NewFHIRPathAdapter()
	resource := map[string]any{"resourceType": "Patient", "active": true}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := a.Evaluate(context.Background(), "active = true", resource); err != nil || !ok {
				t.Errorf("Evaluate = %v, %v", ok, err)
			}
		}()
	}
	wg.Wait()

	if a.CacheSize() != 1 {
		t.Errorf("CacheSize() = %d; want 1", a.CacheSize())
	}
}
