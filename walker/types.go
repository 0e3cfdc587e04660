package walker

import (
	"encoding/json"
	"strings"
)

// SystemTypeMapping maps FHIRPath system types to FHIR primitive types.
// StructureDefinitions use them for the value of primitives and for ids,
// e.g. Resource.id and Extension.url.
var SystemTypeMapping = map[string]string{
	"http://hl7.org/fhirpath/System.String":   "string",
	"http://hl7.org/fhirpath/System.Boolean":  "boolean",
	"http://hl7.org/fhirpath/System.Integer":  "integer",
	"http://hl7.org/fhirpath/System.Decimal":  "decimal",
	"http://hl7.org/fhirpath/System.DateTime": "dateTime",
	"http://hl7.org/fhirpath/System.Time":     "time",
	"http://hl7.org/fhirpath/System.Date":     "date",
}

// FHIRPrimitiveTypes contains the R4 primitive type codes.
var FHIRPrimitiveTypes = map[string]bool{
	"boolean":      true,
	"integer":      true,
	"string":       true,
	"decimal":      true,
	"uri":          true,
	"url":          true,
	"canonical":    true,
	"base64Binary": true,
	"instant":      true,
	"date":         true,
	"dateTime":     true,
	"time":         true,
	"code":         true,
	"oid":          true,
	"id":           true,
	"markdown":     true,
	"unsignedInt":  true,
	"positiveInt":  true,
	"uuid":         true,
	"xhtml":        true,
}

// InlineElementTypes contains types whose children are defined inline in the
// parent's StructureDefinition. The walker does not switch type context for
// these.
var InlineElementTypes = map[string]bool{
	"BackboneElement": true,
	"Element":         true,
}

// TypeResource is the type code of elements holding a nested resource, such
// as DomainResource.contained and Bundle.entry.resource.
const TypeResource = "Resource"

// IsPrimitiveType reports whether the type code is a FHIR primitive type.
func IsPrimitiveType(typeCode string) bool {
	return FHIRPrimitiveTypes[NormalizeSystemType(typeCode)]
}

// IsInlineElementType reports whether children of the type are defined in
// the parent's StructureDefinition.
func IsInlineElementType(typeCode string) bool {
	return InlineElementTypes[typeCode]
}

// NormalizeSystemType converts a FHIRPath system type URL to a FHIR primitive
// type. Other codes are returned unchanged.
func NormalizeSystemType(typeCode string) string {
	if normalized, ok := SystemTypeMapping[typeCode]; ok {
		return normalized
	}
	return typeCode
}

// JSON value kinds as reported by JSONKind.
const (
	KindNull    = "null"
	KindBoolean = "boolean"
	KindNumber  = "number"
	KindString  = "string"
	KindArray   = "array"
	KindObject  = "object"
)

// JSONKind returns the JSON kind of a decoded value. Numbers may be decoded
// as json.Number or float64.
func JSONKind(value any) string {
	switch value.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBoolean
	case json.Number, float64:
		return KindNumber
	case string:
		return KindString
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	default:
		return "unknown"
	}
}

// ExpectedJSONKind returns the JSON kind a value of the FHIR type must have.
func ExpectedJSONKind(typeCode string) string {
	switch NormalizeSystemType(typeCode) {
	case "boolean":
		return KindBoolean
	case "integer", "unsignedInt", "positiveInt", "decimal":
		return KindNumber
	}
	if IsPrimitiveType(typeCode) {
		return KindString
	}
	return KindObject
}

// MatchesJSONKind reports whether value has the JSON shape of the FHIR type.
func MatchesJSONKind(value any, typeCode string) bool {
	return JSONKind(value) == ExpectedJSONKind(typeCode)
}

// upperFirst capitalizes the first letter of a string.
func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
