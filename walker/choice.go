package walker

import (
	"strings"

	"github.com/PraveenKS30/hl7-fhir-validator/service"
)

// ChoiceVariant is one concrete form of a choice element, e.g. the
// "valueQuantity" property of "Observation.value[x]".
type ChoiceVariant struct {
	// Key is the JSON property name
	Key string

	// Type is the FHIR type code of the variant
	Type string
}

// ChoiceBaseName returns the name of a choice element without its "[x]"
// suffix, e.g. "value" for "Observation.value[x]".
func ChoiceBaseName(def *service.ElementDefinition) string {
	return strings.TrimSuffix(def.Name(), "[x]")
}

// ChoiceVariants returns the allowed concrete forms of a choice element in
// the order its types are declared.
func ChoiceVariants(def *service.ElementDefinition) []ChoiceVariant {
	if def == nil || !def.IsChoice() {
		return nil
	}

	base := ChoiceBaseName(def)
	variants := make([]ChoiceVariant, 0, len(def.Types))
	for _, t := range def.Types {
		code := NormalizeSystemType(t.Code)
		variants = append(variants, ChoiceVariant{Key: base + upperFirst(code), Type: code})
	}
	return variants
}

// ChoiceType resolves a JSON property name against a choice element and
// returns the type it selects.
func ChoiceType(def *service.ElementDefinition, key string) (string, bool) {
	for _, v := range ChoiceVariants(def) {
		if v.Key == key {
			return v.Type, true
		}
	}
	return "", false
}

// IsChoiceKeyOf reports whether key looks like a variant of the choice
// element, allowed or not. "valueFoo" is a variant of "value[x]" even though
// Foo is not a type.
func IsChoiceKeyOf(def *service.ElementDefinition, key string) bool {
	if def == nil || !def.IsChoice() {
		return false
	}
	base := ChoiceBaseName(def)
	if !strings.HasPrefix(key, base) || len(key) == len(base) {
		return false
	}
	next := key[len(base)]
	return next >= 'A' && next <= 'Z'
}
