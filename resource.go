package fhirvalidator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Resource is a FHIR resource decoded from its JSON form.
//
// Data holds the generic JSON tree. Numbers are kept as json.Number so that
// decimal precision survives until the primitive checks look at them.
type Resource struct {
	// Type is the value of the resourceType property
	Type string

	// ID is the logical id, empty when absent
	ID string

	// Profiles are the canonical URLs declared in meta.profile
	Profiles []string

	// Data is the decoded JSON object
	Data map[string]any

	// Raw is the exact request body
	Raw []byte
}

// ParseErrorKind classifies why a body could not be turned into a Resource.
type ParseErrorKind string

// Parse error kinds.
const (
	ParseErrorMalformed   ParseErrorKind = "malformed"
	ParseErrorNotObject   ParseErrorKind = "not-object"
	ParseErrorMissingType ParseErrorKind = "missing-type"
	ParseErrorUnknownType ParseErrorKind = "unknown-type"
)

// ParseError is returned by ParseResource for input that is not a FHIR
// resource at all. It is a client error and never reaches the engine.
type ParseError struct {
	Kind    ParseErrorKind
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IssueType returns the OperationOutcome code that describes the failure.
func (e *ParseError) IssueType() IssueType {
	if e.Kind == ParseErrorUnknownType {
		return IssueTypeNotSupported
	}
	return IssueTypeStructure
}

// ParseResource decodes a JSON document into a Resource.
//
// The document must be a single JSON object with a string resourceType that
// names an R4 resource type. Anything else yields a *ParseError.
func ParseResource(data []byte) (*Resource, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ParseError{Kind: ParseErrorMalformed, Message: "request body is empty"}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, &ParseError{Kind: ParseErrorMalformed, Message: "invalid JSON", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ParseError{Kind: ParseErrorMalformed, Message: "invalid JSON: unexpected data after the top-level value"}
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return nil, &ParseError{
			Kind:    ParseErrorNotObject,
			Message: fmt.Sprintf("a FHIR resource must be a JSON object, got %s", jsonKind(value)),
		}
	}

	rawType, present := obj["resourceType"]
	if !present {
		return nil, &ParseError{Kind: ParseErrorMissingType, Message: "resourceType is required"}
	}
	resourceType, ok := rawType.(string)
	if !ok || resourceType == "" {
		return nil, &ParseError{Kind: ParseErrorMissingType, Message: "resourceType must be a non-empty string"}
	}
	if !IsKnownResourceType(resourceType) {
		return nil, &ParseError{
			Kind:    ParseErrorUnknownType,
			Message: fmt.Sprintf("unknown resourceType '%s' for FHIR R4", resourceType),
		}
	}

	res := &Resource{
		Type: resourceType,
		Data: obj,
		Raw:  data,
	}
	if id, ok := obj["id"].(string); ok {
		res.ID = id
	}
	if meta, ok := obj["meta"].(map[string]any); ok {
		if profiles, ok := meta["profile"].([]any); ok {
			for _, p := range profiles {
				if s, ok := p.(string); ok && s != "" {
					res.Profiles = append(res.Profiles, s)
				}
			}
		}
	}
	return res, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	default:
		return "object"
	}
}
