package phase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/pipeline"
	"github.com/PraveenKS30/hl7-fhir-validator/walker"
	"github.com/shopspring/decimal"
)

// PrimitivesPhase validates the lexical form and range of primitive values.
// Values of the wrong JSON type are reported by the structure phase and
// skipped here.
type PrimitivesPhase struct{}

// NewPrimitivesPhase creates a new primitive type validation phase.
func NewPrimitivesPhase() *PrimitivesPhase {
	return &PrimitivesPhase{}
}

// Name returns the phase name.
func (p *PrimitivesPhase) Name() string {
	return "primitives"
}

// Validate performs primitive type validation.
func (p *PrimitivesPhase) Validate(ctx context.Context, pctx *pipeline.Context) ([]fv.Issue, error) {
	var issues []fv.Issue

	for _, o := range objects(pctx.Root) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, el := range o.Elements {
			if !walker.IsPrimitiveType(el.Type) {
				continue
			}
			typeCode := walker.NormalizeSystemType(el.Type)
			for _, v := range el.Values {
				if v.Value == nil || !walker.MatchesJSONKind(v.Value, typeCode) {
					continue
				}
				if issue, ok := p.validateValue(typeCode, v); ok {
					issues = append(issues, issue)
				}
			}
		}
	}

	return issues, nil
}

func (p *PrimitivesPhase) validateValue(typeCode string, v *walker.Value) (fv.Issue, bool) {
	err := ValidatePrimitive(typeCode, v.Value)
	if err == nil {
		return fv.Issue{}, false
	}

	msg := fmt.Sprintf("Invalid %s value: %v", typeCode, err)
	if errors.Is(err, errSurroundingWhitespace) {
		return warningAt(fv.IssueTypeValue, msg, v.Path, p.Name()), true
	}
	return errorAt(fv.IssueTypeValue, msg, v.Path, p.Name()), true
}

// errSurroundingWhitespace marks strings that are valid but should be
// trimmed.
var errSurroundingWhitespace = errors.New("value should not start or end with whitespace")

// maxStringLength is the size limit of string and markdown values (1 MB).
const maxStringLength = 1024 * 1024

var primitiveValidators = map[string]func(any) error{
	"boolean":      validateBoolean,
	"integer":      validateInteger,
	"unsignedInt":  validateUnsignedInt,
	"positiveInt":  validatePositiveInt,
	"decimal":      validateDecimal,
	"string":       validateString,
	"uri":          validateURI,
	"url":          validateURL,
	"canonical":    validateCanonical,
	"code":         validateCode,
	"id":           validateID,
	"oid":          validateOID,
	"uuid":         validateUUID,
	"markdown":     validateMarkdown,
	"base64Binary": validateBase64Binary,
	"instant":      validateInstant,
	"date":         validateDate,
	"dateTime":     validateDateTime,
	"time":         validateTime,
	"xhtml":        validateXHTML,
}

// ValidatePrimitive checks value against the rules of a primitive type.
// Unknown type codes are accepted.
func ValidatePrimitive(typeCode string, value any) error {
	if value == nil {
		return nil
	}
	validate, ok := primitiveValidators[walker.NormalizeSystemType(typeCode)]
	if !ok {
		return nil
	}
	return validate(value)
}

// toDecimal converts a decoded JSON number.
func toDecimal(value any) (decimal.Decimal, string, error) {
	switch v := value.(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, v.String(), err
	case float64:
		d := decimal.NewFromFloat(v)
		return d, d.String(), nil
	case int:
		return decimal.NewFromInt(int64(v)), fmt.Sprint(v), nil
	}
	return decimal.Decimal{}, "", fmt.Errorf("value must be a number, got %T", value)
}

var (
	minInt32 = decimal.NewFromInt(math.MinInt32)
	maxInt32 = decimal.NewFromInt(math.MaxInt32)
)

// integerInRange validates a 32-bit integer that is not below lo.
func integerInRange(value any, lo decimal.Decimal) error {
	d, text, err := toDecimal(value)
	if err != nil {
		return err
	}
	if _, isNumber := value.(json.Number); isNumber && !integerRegex.MatchString(text) {
		return fmt.Errorf("%s is not an integer", text)
	}
	if !d.IsInteger() {
		return fmt.Errorf("%s is not an integer", text)
	}
	if d.LessThan(lo) || d.GreaterThan(maxInt32) {
		return fmt.Errorf("%s is out of range [%s, %s]", text, lo, maxInt32)
	}
	return nil
}

// validateBoolean validates a boolean value.
func validateBoolean(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("value must be a boolean, got %T", value)
	}
	return nil
}

// validateInteger validates a FHIR integer (-2147483648 to 2147483647).
func validateInteger(value any) error {
	return integerInRange(value, minInt32)
}

// validateUnsignedInt validates a FHIR unsignedInt (0 to 2147483647).
func validateUnsignedInt(value any) error {
	return integerInRange(value, decimal.Zero)
}

// validatePositiveInt validates a FHIR positiveInt (1 to 2147483647).
func validatePositiveInt(value any) error {
	return integerInRange(value, decimal.NewFromInt(1))
}

// validateDecimal validates a FHIR decimal.
func validateDecimal(value any) error {
	_, text, err := toDecimal(value)
	if err != nil {
		return err
	}
	if !decimalRegex.MatchString(text) {
		return fmt.Errorf("invalid decimal format: %s", text)
	}
	return nil
}

func stringValue(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("value must be a string, got %T", value)
	}
	if s == "" {
		return "", errors.New("value must not be empty")
	}
	return s, nil
}

// validateString validates a FHIR string.
func validateString(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if !utf8.ValidString(s) {
		return errors.New("string contains invalid UTF-8")
	}
	if len(s) > maxStringLength {
		return fmt.Errorf("string exceeds %d bytes", maxStringLength)
	}
	if strings.TrimSpace(s) != s {
		return errSurroundingWhitespace
	}
	return nil
}

// validateURI validates a FHIR uri.
func validateURI(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if strings.ContainsAny(s, " \t\n\r") {
		return errors.New("uri cannot contain whitespace")
	}
	return nil
}

// validateURL validates a FHIR url.
func validateURL(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if !urlRegex.MatchString(s) {
		return fmt.Errorf("invalid url format: %s", s)
	}
	return nil
}

// validateCanonical validates a FHIR canonical URL.
func validateCanonical(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if !canonicalRegex.MatchString(s) {
		return fmt.Errorf("invalid canonical format: %s", s)
	}
	return nil
}

// validateCode validates a FHIR code.
func validateCode(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if !codeRegex.MatchString(s) {
		return fmt.Errorf("invalid code format: '%s'", s)
	}
	return nil
}

// validateID validates a FHIR id.
func validateID(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if !validID(s) {
		return fmt.Errorf("invalid id format: %s (must match [A-Za-z0-9\\-\\.]{1,64})", s)
	}
	return nil
}

// validateOID validates a FHIR oid.
func validateOID(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if !oidRegex.MatchString(s) {
		return fmt.Errorf("invalid oid format: %s (must be urn:oid:...)", s)
	}
	return nil
}

// validateUUID validates a FHIR uuid.
func validateUUID(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if !uuidRegex.MatchString(s) {
		return fmt.Errorf("invalid uuid format: %s (must be urn:uuid:...)", s)
	}
	return nil
}

// validateMarkdown validates a FHIR markdown.
func validateMarkdown(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if !utf8.ValidString(s) {
		return errors.New("markdown contains invalid UTF-8")
	}
	if len(s) > maxStringLength {
		return fmt.Errorf("markdown exceeds %d bytes", maxStringLength)
	}
	return nil
}

// validateBase64Binary validates a FHIR base64Binary.
func validateBase64Binary(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		return fmt.Errorf("invalid base64 encoding: %v", err)
	}
	return nil
}

// validateInstant validates a FHIR instant.
func validateInstant(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if !instantRegex.MatchString(s) {
		return fmt.Errorf("invalid instant format: %s", s)
	}
	return validCalendarDate(s)
}

// validateDate validates a FHIR date.
func validateDate(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if !dateRegex.MatchString(s) {
		return fmt.Errorf("invalid date format: %s (expected YYYY, YYYY-MM, or YYYY-MM-DD)", s)
	}
	return validCalendarDate(s)
}

// validateDateTime validates a FHIR dateTime.
func validateDateTime(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if !dateTimeRegex.MatchString(s) {
		return fmt.Errorf("invalid dateTime format: %s", s)
	}
	return validCalendarDate(s)
}

// validateTime validates a FHIR time.
func validateTime(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if !timeRegex.MatchString(s) {
		return fmt.Errorf("invalid time format: %s (expected HH:MM:SS or HH:MM:SS.sss)", s)
	}
	return nil
}

// validateXHTML validates a FHIR xhtml.
func validateXHTML(value any) error {
	s, err := stringValue(value)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(strings.TrimSpace(s), "<div") {
		return errors.New("xhtml must start with <div> element")
	}
	return nil
}

// validCalendarDate rejects dates the regular expressions let through, such
// as February 30.
func validCalendarDate(s string) error {
	if len(s) < len("2006-01-02") {
		return nil
	}
	if _, err := time.Parse("2006-01-02", s[:10]); err != nil {
		return fmt.Errorf("%s is not a calendar date", s[:10])
	}
	return nil
}

var (
	integerRegex   = regexp.MustCompile(`^-?(0|[1-9]\d*)$`)
	decimalRegex   = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?([eE][+-]?\d+)?$`)
	urlRegex       = regexp.MustCompile(`^\S+$`)
	canonicalRegex = regexp.MustCompile(`^\S+(\|\S+)?$`)
	codeRegex      = regexp.MustCompile(`^\S+( \S+)*$`)
	oidRegex       = regexp.MustCompile(`^urn:oid:[012](\.(0|[1-9]\d*))+$`)
	uuidRegex      = regexp.MustCompile(`^urn:uuid:[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	instantRegex   = regexp.MustCompile(`^(\d{4})-(0[1-9]|1[012])-(0[1-9]|[12]\d|3[01])T([01]\d|2[0-3]):[0-5]\d:([0-5]\d|60)(\.\d+)?(Z|[+-]((0\d|1[0-3]):[0-5]\d|14:00))$`)
	dateRegex      = regexp.MustCompile(`^(\d{4})(-(0[1-9]|1[012])(-(0[1-9]|[12]\d|3[01]))?)?$`)
	dateTimeRegex  = regexp.MustCompile(`^(\d{4})(-(0[1-9]|1[012])(-(0[1-9]|[12]\d|3[01])(T([01]\d|2[0-3]):[0-5]\d:([0-5]\d|60)(\.\d+)?(Z|[+-]((0\d|1[0-3]):[0-5]\d|14:00)))?)?)?$`)
	timeRegex      = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d:([0-5]\d|60)(\.\d+)?$`)
)
