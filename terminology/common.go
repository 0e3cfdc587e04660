package terminology

import (
	"context"
	"fmt"
	"mime"
	"regexp"
	"strconv"
	"strings"

	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Well-known code system URIs.
const (
	SystemBCP47   = "urn:ietf:bcp:47"
	SystemBCP13   = "urn:ietf:bcp:13"
	SystemISO4217 = "urn:iso:std:iso:4217"
	SystemISO3166 = "urn:iso:std:iso:3166"
	SystemUCUM    = "http://unitsofmeasure.org"
	SystemLOINC   = "http://loinc.org"
	SystemSNOMED  = "http://snomed.info/sct"
)

// commonValueSets maps the ValueSets Common answers for to their code system.
var commonValueSets = map[string]string{
	"http://hl7.org/fhir/ValueSet/languages":     SystemBCP47,
	"http://hl7.org/fhir/ValueSet/all-languages": SystemBCP47,
	"http://hl7.org/fhir/ValueSet/mimetypes":     SystemBCP13,
	"http://hl7.org/fhir/ValueSet/currencies":    SystemISO4217,
	"http://hl7.org/fhir/ValueSet/iso3166-1-2":   SystemISO3166,
	"http://hl7.org/fhir/ValueSet/iso3166-1-3":   SystemISO3166,
	"http://hl7.org/fhir/ValueSet/iso3166-1-N":   SystemISO3166,
	"http://hl7.org/fhir/ValueSet/ucum-units":    SystemUCUM,
}

// regionFormats restricts the ISO 3166 value sets to one code format.
var regionFormats = map[string]*regexp.Regexp{
	"http://hl7.org/fhir/ValueSet/iso3166-1-2": regexp.MustCompile(`^[A-Z]{2}$`),
	"http://hl7.org/fhir/ValueSet/iso3166-1-3": regexp.MustCompile(`^[A-Z]{3}$`),
	"http://hl7.org/fhir/ValueSet/iso3166-1-N": regexp.MustCompile(`^[0-9]{3}$`),
}

var (
	// A UCUM term: simple units joined by '.' or '/', each an optional
	// prefix+atom with an exponent, a 10*n factor, or an annotation.
	ucumSimple = `(?:[0-9]+(?:\*[-+]?[0-9]+)?|(?:\[[^\[\]\s]+\]|[a-zA-Z%'])+[-+]?[0-9]*)(?:\{[^{}\s]*\})?|\{[^{}\s]*\}`
	ucumTerm   = regexp.MustCompile(`^/?(?:` + ucumSimple + `)(?:[./](?:` + ucumSimple + `))*$`)

	loincCode  = regexp.MustCompile(`^(L[APG])?([0-9]{1,8})-([0-9])$`)
	snomedCode = regexp.MustCompile(`^[1-9][0-9]{5,17}$`)
)

// Common validates codes of well-known external code systems without
// enumerating them. It answers for the ValueSets in commonValueSets and for
// system-only requests on the systems above. Checks are syntactic: a
// well-formed LOINC or SNOMED CT code is accepted without knowing whether
// it exists.
type Common struct {
	service.BaseSupport
}

// NewCommon creates the common code system provider.
func NewCommon() *Common {
	return &Common{}
}

// Name implements service.ValidationSupport.
func (c *Common) Name() string {
	return "common-codes"
}

// ValidateCode implements service.ValidationSupport.
func (c *Common) ValidateCode(ctx context.Context, req service.CodeRequest) (*service.ValidateCodeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	system := service.StripVersion(req.System)

	if req.ValueSet != "" {
		url := service.StripVersion(req.ValueSet)
		vsSystem, ok := commonValueSets[url]
		if !ok {
			return nil, fmt.Errorf("valueset %s: %w", url, service.ErrNotSupported)
		}
		if system != "" && system != vsSystem {
			return invalid(req, fmt.Sprintf("The code system '%s' is not in the value set '%s'", system, url)), nil
		}
		if re, ok := regionFormats[url]; ok && !re.MatchString(req.Code) {
			return invalid(req, fmt.Sprintf("The code '%s' is not in the value set '%s'", req.Code, url)), nil
		}
		return c.check(vsSystem, req), nil
	}

	if !IsCommonSystem(system) {
		return nil, fmt.Errorf("codesystem %s: %w", system, service.ErrNotSupported)
	}
	return c.check(system, req), nil
}

// IsCommonSystem reports whether Common can judge codes of system.
func IsCommonSystem(system string) bool {
	switch system {
	case SystemBCP47, SystemBCP13, SystemISO4217, SystemISO3166, SystemUCUM, SystemLOINC, SystemSNOMED:
		return true
	}
	return false
}

func (c *Common) check(system string, req service.CodeRequest) *service.ValidateCodeResult {
	code := req.Code
	if code == "" {
		return invalid(req, "code is empty")
	}

	switch system {
	case SystemBCP47:
		tag, err := language.Parse(code)
		if err != nil {
			return invalid(req, fmt.Sprintf("'%s' is not a valid BCP-47 language tag", code))
		}
		return valid(system, code, display.English.Tags().Name(tag))

	case SystemBCP13:
		if _, _, err := mime.ParseMediaType(code); err != nil || !strings.Contains(code, "/") {
			return invalid(req, fmt.Sprintf("'%s' is not a valid mime type", code))
		}
		return valid(system, code, "")

	case SystemISO4217:
		unit, err := currency.ParseISO(code)
		if err != nil || unit.String() != code {
			return invalid(req, fmt.Sprintf("'%s' is not a valid ISO 4217 currency code", code))
		}
		return valid(system, code, "")

	case SystemISO3166:
		region, err := language.ParseRegion(code)
		if err != nil || !region.IsCountry() {
			return invalid(req, fmt.Sprintf("'%s' is not a valid ISO 3166 country code", code))
		}
		return valid(system, code, display.English.Regions().Name(region))

	case SystemUCUM:
		if !ucumTerm.MatchString(code) {
			return invalid(req, fmt.Sprintf("'%s' is not a valid UCUM unit", code))
		}
		return valid(system, code, "")

	case SystemLOINC:
		if !validLOINC(code) {
			return invalid(req, fmt.Sprintf("'%s' is not a valid LOINC code", code))
		}
		return valid(system, code, "")

	case SystemSNOMED:
		if !snomedCode.MatchString(code) || !verhoeff(code) {
			return invalid(req, fmt.Sprintf("'%s' is not a valid SNOMED CT identifier", code))
		}
		return valid(system, code, "")
	}

	return invalid(req, fmt.Sprintf("unknown code system '%s'", system))
}

func valid(system, code, display string) *service.ValidateCodeResult {
	return &service.ValidateCodeResult{Valid: true, System: system, Code: code, Display: display}
}

func invalid(req service.CodeRequest, msg string) *service.ValidateCodeResult {
	return &service.ValidateCodeResult{Valid: false, Message: msg, System: req.System, Code: req.Code}
}

// validLOINC checks the shape and the mod 10 check digit of a LOINC code.
func validLOINC(code string) bool {
	m := loincCode.FindStringSubmatch(code)
	if m == nil {
		return false
	}
	want, _ := strconv.Atoi(m[3])
	return loincCheckDigit(m[2]) == want
}

// loincCheckDigit computes the LOINC mod 10 check digit: the digits in odd
// positions from the right, read right to left, form a number that is
// doubled; the even position digits are prefixed and all digits summed.
func loincCheckDigit(number string) int {
	var odd, even strings.Builder
	for i := len(number) - 1; i >= 0; i-- {
		if (len(number)-1-i)%2 == 0 {
			odd.WriteByte(number[i])
		} else {
			even.WriteByte(number[i])
		}
	}

	n, _ := strconv.ParseUint(odd.String(), 10, 64)
	digits := even.String() + strconv.FormatUint(n*2, 10)

	sum := 0
	for i := 0; i < len(digits); i++ {
		sum += int(digits[i] - '0')
	}
	return (10 - sum%10) % 10
}

var (
	verhoeffD = [10][10]int{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 2, 3, 4, 0, 6, 7, 8, 9, 5},
		{2, 3, 4, 0, 1, 7, 8, 9, 5, 6},
		{3, 4, 0, 1, 2, 8, 9, 5, 6, 7},
		{4, 0, 1, 2, 3, 9, 5, 6, 7, 8},
		{5, 9, 8, 7, 6, 0, 4, 3, 2, 1},
		{6, 5, 9, 8, 7, 1, 0, 4, 3, 2},
		{7, 6, 5, 9, 8, 2, 1, 0, 4, 3},
		{8, 7, 6, 5, 9, 3, 2, 1, 0, 4},
		{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
	}
	verhoeffP = [8][10]int{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		{1, 5, 7, 6, 2, 8, 3, 0, 9, 4},
		{5, 8, 0, 3, 7, 9, 6, 1, 4, 2},
		{8, 9, 1, 6, 0, 4, 3, 5, 2, 7},
		{9, 4, 5, 3, 1, 2, 6, 8, 7, 0},
		{4, 2, 8, 6, 5, 7, 3, 9, 0, 1},
		{2, 7, 9, 3, 8, 0, 6, 4, 1, 5},
		{7, 0, 4, 6, 9, 1, 3, 2, 5, 8},
	}
)

// verhoeff validates the trailing Verhoeff check digit of a SNOMED CT id.
func verhoeff(digits string) bool {
	c := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[len(digits)-1-i] - '0')
		c = verhoeffD[c][verhoeffP[i%8][d]]
	}
	return c == 0
}

var _ service.ValidationSupport = (*Common)(nil)
