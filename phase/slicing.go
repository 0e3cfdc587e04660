package phase

import (
	"context"
	"fmt"
	"slices"
	"strings"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/pipeline"
	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"github.com/PraveenKS30/hl7-fhir-validator/walker"
)

// Slicing rules.
const (
	SlicingRulesClosed    = "closed"
	SlicingRulesOpen      = "open"
	SlicingRulesOpenAtEnd = "openAtEnd"
)

// Discriminator types.
const (
	DiscriminatorValue   = "value"
	DiscriminatorExists  = "exists"
	DiscriminatorPattern = "pattern"
	DiscriminatorType    = "type"
	DiscriminatorProfile = "profile"
)

// SlicingPhase validates sliced elements.
//
// Each value of a sliced element is assigned to the first slice whose
// discriminators it matches. The phase then checks the cardinality of every
// slice, the closed and openAtEnd rules, slice order when the slicing is
// ordered, and the fixed values, patterns and cardinalities the matched
// slice puts on the direct children of the value.
//
// A group whose discriminators cannot be evaluated, e.g. a path through
// resolve(), is reported once as information and otherwise skipped.
type SlicingPhase struct{}

// NewSlicingPhase creates a new slicing validation phase.
func NewSlicingPhase() *SlicingPhase {
	return &SlicingPhase{}
}

// Name returns the phase name.
func (p *SlicingPhase) Name() string {
	return "slicing"
}

// Validate performs slicing validation.
func (p *SlicingPhase) Validate(ctx context.Context, pctx *pipeline.Context) ([]fv.Issue, error) {
	var issues []fv.Issue
	indexes := make(map[*service.StructureDefinition]*sliceIndex)

	for _, o := range objects(pctx.Root) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, def := range o.Definitions() {
			if def.Slicing == nil {
				continue
			}
			idx, ok := indexes[o.SD]
			if !ok {
				idx = newSliceIndex(o.SD)
				indexes[o.SD] = idx
			}
			if group := idx.slices[elementID(def)]; len(group) > 0 {
				issues = append(issues, p.validateGroup(o, def, group, idx)...)
			}
		}
	}

	return issues, nil
}

// sliceIndex locates the slices of one StructureDefinition snapshot.
type sliceIndex struct {
	sd       *service.StructureDefinition
	byID     map[string]*service.ElementDefinition
	slices   map[string][]*service.ElementDefinition // base element id, snapshot order
	children map[string][]*service.ElementDefinition // direct children by parent id
}

func newSliceIndex(sd *service.StructureDefinition) *sliceIndex {
	idx := &sliceIndex{
		sd:       sd,
		byID:     make(map[string]*service.ElementDefinition, len(sd.Snapshot)),
		slices:   make(map[string][]*service.ElementDefinition),
		children: make(map[string][]*service.ElementDefinition),
	}
	for i := range sd.Snapshot {
		e := &sd.Snapshot[i]
		id := elementID(e)
		idx.byID[id] = e

		// Re-slices ("a:b/c") are not evaluated.
		if e.SliceName != "" && !strings.Contains(e.SliceName, "/") {
			if base, ok := strings.CutSuffix(id, ":"+e.SliceName); ok {
				idx.slices[base] = append(idx.slices[base], e)
			}
			continue
		}
		if i := strings.LastIndexByte(id, '.'); i > 0 {
			idx.children[id[:i]] = append(idx.children[id[:i]], e)
		}
	}
	return idx
}

// elementID returns the element id, derived from the path for definitions
// that carry none.
func elementID(e *service.ElementDefinition) string {
	switch {
	case e.ID != "":
		return e.ID
	case e.SliceName != "":
		return e.Path + ":" + e.SliceName
	}
	return e.Path
}

// sliceItem is one value of a sliced element.
type sliceItem struct {
	value    *walker.Value
	typeCode string
}

// unevaluable marks a discriminator the phase cannot evaluate.
type unevaluable struct {
	reason string
}

func (u *unevaluable) Error() string { return u.reason }

func (p *SlicingPhase) validateGroup(o *walker.Object, def *service.ElementDefinition, group []*service.ElementDefinition, idx *sliceIndex) []fv.Issue {
	path := childPath(o, def.Name())
	slicing := def.Slicing

	var items []sliceItem
	for _, el := range o.Elements {
		if el.Def != def {
			continue
		}
		for _, v := range el.Values {
			if v.Value != nil {
				items = append(items, sliceItem{value: v, typeCode: el.Type})
			}
		}
	}

	// assigned[i] is the position in group of the slice item i matched, -1
	// for none.
	assigned := make([]int, len(items))
	for i, it := range items {
		assigned[i] = -1
		for j, slice := range group {
			ok, err := matchesSlice(it, slice, slicing.Discriminator, idx)
			if err != nil {
				return []fv.Issue{infoAt(
					fv.IssueTypeNotSupported,
					fmt.Sprintf("Slicing of '%s' in %s was not checked: %s", def.Path, idx.sd.URL, err),
					path,
					p.Name(),
				)}
			}
			if ok {
				assigned[i] = j
				break
			}
		}
	}

	var issues []fv.Issue
	for j, slice := range group {
		count := 0
		for _, a := range assigned {
			if a == j {
				count++
			}
		}
		issues = append(issues, p.validateSliceCount(slice, count, path, idx.sd.URL)...)
	}

	lastSlice, sawUnmatched := -1, false
	for i, it := range items {
		a := assigned[i]
		if a < 0 {
			sawUnmatched = true
			if slicing.Rules == SlicingRulesClosed {
				issues = append(issues, errorAt(
					fv.IssueTypeStructure,
					fmt.Sprintf("This element does not match any known slice defined in the profile %s and slicing is CLOSED", idx.sd.URL),
					it.value.Path,
					p.Name(),
				))
			}
			continue
		}

		if slicing.Rules == SlicingRulesOpenAtEnd && sawUnmatched {
			issues = append(issues, errorAt(
				fv.IssueTypeStructure,
				fmt.Sprintf("Slice '%s' follows an element that matches no slice, but slicing is openAtEnd", sliceLabel(group[a])),
				it.value.Path,
				p.Name(),
			))
		}
		if slicing.Ordered && a < lastSlice {
			issues = append(issues, errorAt(
				fv.IssueTypeStructure,
				fmt.Sprintf("As specified by profile %s, element '%s' is out of order: slice '%s' must come before slice '%s'",
					idx.sd.URL, def.Path, sliceLabel(group[a]), sliceLabel(group[lastSlice])),
				it.value.Path,
				p.Name(),
			))
		}
		lastSlice = max(lastSlice, a)

		issues = append(issues, p.validateMember(it.value, group[a], idx)...)
	}

	return issues
}

func sliceLabel(slice *service.ElementDefinition) string {
	return slice.Path + ":" + slice.SliceName
}

func (p *SlicingPhase) validateSliceCount(slice *service.ElementDefinition, count int, path, profile string) []fv.Issue {
	label := sliceLabel(slice)
	switch {
	case count < slice.Min && count == 0:
		return []fv.Issue{errorAt(
			fv.IssueTypeStructure,
			fmt.Sprintf("Slice '%s': a matching slice is required, but not found (from %s)", label, profile),
			path,
			p.Name(),
		)}
	case count < slice.Min:
		return []fv.Issue{errorAt(
			fv.IssueTypeStructure,
			fmt.Sprintf("Slice '%s': minimum required = %d, but only found %d (from %s)", label, slice.Min, count, profile),
			path,
			p.Name(),
		)}
	}
	if limit, ok := parseMax(slice.Max); ok && count > limit {
		return []fv.Issue{errorAt(
			fv.IssueTypeStructure,
			fmt.Sprintf("Slice '%s': maximum allowed = %d, but found %d (from %s)", label, limit, count, profile),
			path,
			p.Name(),
		)}
	}
	return nil
}

// validateMember checks a value against the slice it was assigned to: the
// fixed value or pattern of the slice itself, then the cardinality, fixed
// values and patterns of its direct children.
func (p *SlicingPhase) validateMember(v *walker.Value, slice *service.ElementDefinition, idx *sliceIndex) []fv.Issue {
	var issues []fv.Issue
	if slice.Fixed != nil || slice.Pattern != nil {
		if issue, ok := p.checkValue(slice, v.Value, v.Path); ok {
			issues = append(issues, issue)
		}
	}

	m, ok := v.Value.(map[string]any)
	if !ok {
		return issues
	}

	for _, child := range idx.children[elementID(slice)] {
		values, present := childValues(m, child)
		path := v.Path + "." + strings.TrimSuffix(child.Name(), "[x]")

		if present < child.Min {
			issues = append(issues, errorAt(
				fv.IssueTypeRequired,
				fmt.Sprintf("Element '%s' is required (min=%d) in slice '%s' but has %d occurrence(s)", path, child.Min, sliceLabel(slice), present),
				path,
				p.Name(),
			))
		}
		if limit, ok := parseMax(child.Max); ok && present > limit {
			issues = append(issues, errorAt(
				fv.IssueTypeStructure,
				fmt.Sprintf("Element '%s' has %d occurrence(s) but slice '%s' allows %d", path, present, sliceLabel(slice), limit),
				path,
				p.Name(),
			))
		}
		if child.Fixed == nil && child.Pattern == nil {
			continue
		}
		for _, value := range values {
			if issue, ok := p.checkValue(child, value, path); ok {
				issues = append(issues, issue)
			}
		}
	}
	return issues
}

func (p *SlicingPhase) checkValue(def *service.ElementDefinition, value any, path string) (fv.Issue, bool) {
	if def.Fixed != nil && !deepEqual(value, def.Fixed) {
		return errorAt(
			fv.IssueTypeValue,
			fmt.Sprintf("Value does not match the fixed value of slice element '%s'. Expected: %s, got: %s", elementID(def), render(def.Fixed), render(value)),
			path,
			p.Name(),
		), true
	}
	if def.Pattern != nil && !matchesPattern(value, def.Pattern) {
		return errorAt(
			fv.IssueTypeValue,
			fmt.Sprintf("Value does not match the pattern of slice element '%s'. Required pattern: %s", elementID(def), render(def.Pattern)),
			path,
			p.Name(),
		), true
	}
	return fv.Issue{}, false
}

// childValues returns the values of child in m and the number of present
// occurrences, counting those that only carry an extension.
func childValues(m map[string]any, child *service.ElementDefinition) ([]any, int) {
	keys := []string{child.Name()}
	if child.IsChoice() {
		keys = keys[:0]
		for _, v := range walker.ChoiceVariants(child) {
			keys = append(keys, v.Key)
		}
	}

	var values []any
	present := 0
	for _, key := range keys {
		raw, hasValue := m[key]
		ext, hasExt := m["_"+key]
		if !hasValue && !hasExt {
			continue
		}
		if list, ok := raw.([]any); ok {
			values = append(values, list...)
			present += max(len(list), arrayLen(ext))
			continue
		}
		if extList, ok := ext.([]any); ok && !hasValue {
			present += len(extList)
			continue
		}
		if hasValue {
			values = append(values, raw)
		}
		present++
	}
	return values, present
}

func arrayLen(v any) int {
	list, _ := v.([]any)
	return len(list)
}

// matchesSlice reports whether it matches every discriminator of slice.
func matchesSlice(it sliceItem, slice *service.ElementDefinition, discriminators []service.Discriminator, idx *sliceIndex) (bool, error) {
	if len(discriminators) == 0 {
		return false, &unevaluable{"the slicing has no discriminator"}
	}
	for _, d := range discriminators {
		ok, err := matchesDiscriminator(it, slice, d, idx)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchesDiscriminator(it sliceItem, slice *service.ElementDefinition, d service.Discriminator, idx *sliceIndex) (bool, error) {
	values, err := valuesAt(it.value.Value, d.Path)
	if err != nil {
		return false, err
	}
	target := discriminatorTarget(slice, d.Path, idx)

	switch d.Type {
	case DiscriminatorValue, DiscriminatorPattern:
		var want any
		exact := false
		switch {
		case target != nil && target.Fixed != nil:
			want, exact = target.Fixed, true
		case target != nil && target.Pattern != nil:
			want = target.Pattern
		case isExtensionSlicing(slice) && d.Path == "url":
			want, exact = extensionURL(slice, idx), true
		}
		if want == nil || want == "" {
			return false, &unevaluable{fmt.Sprintf("slice '%s' fixes no value at '%s'", slice.SliceName, d.Path)}
		}
		for _, v := range values {
			if exact && deepEqual(v, want) || !exact && matchesPattern(v, want) {
				return true, nil
			}
		}
		return false, nil

	case DiscriminatorExists:
		if target == nil {
			return false, &unevaluable{fmt.Sprintf("slice '%s' does not constrain '%s'", slice.SliceName, d.Path)}
		}
		switch {
		case target.Min >= 1:
			return len(values) > 0, nil
		case target.Max == "0":
			return len(values) == 0, nil
		}
		return false, &unevaluable{fmt.Sprintf("slice '%s' neither requires nor prohibits '%s'", slice.SliceName, d.Path)}

	case DiscriminatorType:
		if target == nil || len(target.Types) == 0 {
			return false, &unevaluable{fmt.Sprintf("slice '%s' declares no type at '%s'", slice.SliceName, d.Path)}
		}
		actual, ok := valueType(it, d.Path, values)
		if !ok {
			return false, &unevaluable{fmt.Sprintf("the type at '%s' cannot be determined", d.Path)}
		}
		return slices.Contains(target.TypeCodes(), actual), nil

	case DiscriminatorProfile:
		var profiles []string
		if target != nil {
			for _, t := range target.Types {
				profiles = append(profiles, t.Profile...)
				profiles = append(profiles, t.TargetProfile...)
			}
		}
		if len(profiles) == 0 {
			return false, &unevaluable{fmt.Sprintf("slice '%s' declares no profile at '%s'", slice.SliceName, d.Path)}
		}
		for _, v := range values {
			if declaresProfile(v, profiles) {
				return true, nil
			}
		}
		return false, nil
	}

	return false, &unevaluable{fmt.Sprintf("unknown discriminator type '%s'", d.Type)}
}

// discriminatorTarget returns the element of slice the discriminator path
// points at, or nil when the snapshot does not define it.
func discriminatorTarget(slice *service.ElementDefinition, path string, idx *sliceIndex) *service.ElementDefinition {
	if path == "$this" {
		return slice
	}
	var b strings.Builder
	b.WriteString(elementID(slice))
	for _, seg := range splitDiscriminatorPath(path) {
		name, fn := segmentFunction(seg)
		switch fn {
		case "":
			b.WriteString("." + name)
		case "ofType":
			// the target is the choice element itself
		default:
			return nil
		}
	}
	id := b.String()
	if e, ok := idx.byID[id]; ok {
		return e
	}
	// "value" stands for "value[x]"
	return idx.byID[id+"[x]"]
}

// valuesAt evaluates a discriminator path against value. Plain names,
// $this, extension('url') and ofType(T) are supported.
func valuesAt(value any, path string) ([]any, error) {
	current := []any{value}
	if path == "$this" {
		return current, nil
	}

	segs := splitDiscriminatorPath(path)
	for i := 0; i < len(segs); i++ {
		name, fn := segmentFunction(segs[i])
		switch fn {
		case "":
		case "extension":
			current = filterExtensions(current, name)
			continue
		default:
			return nil, &unevaluable{fmt.Sprintf("'%s' is not supported in discriminator paths", segs[i])}
		}

		key := name
		if i+1 < len(segs) {
			if typeName, next := segmentFunction(segs[i+1]); next == "ofType" && typeName != "" {
				key = name + strings.ToUpper(typeName[:1]) + typeName[1:]
				i++
			}
		}

		var next []any
		for _, c := range current {
			m, ok := c.(map[string]any)
			if !ok {
				continue
			}
			next = appendValues(next, lookupKey(m, key))
		}
		current = next
	}
	return current, nil
}

// lookupKey returns m[key], or the value of the first choice variant of key
// such as "valueQuantity" for "value".
func lookupKey(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if len(k) > len(key) && strings.HasPrefix(k, key) && k[len(key)] >= 'A' && k[len(key)] <= 'Z' {
			return v
		}
	}
	return nil
}

func appendValues(out []any, v any) []any {
	switch v := v.(type) {
	case nil:
		return out
	case []any:
		for _, item := range v {
			if item != nil {
				out = append(out, item)
			}
		}
		return out
	}
	return append(out, v)
}

func filterExtensions(current []any, url string) []any {
	var out []any
	for _, c := range current {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		list, _ := m["extension"].([]any)
		for _, item := range list {
			if ext, ok := item.(map[string]any); ok && ext["url"] == url {
				out = append(out, ext)
			}
		}
	}
	return out
}

// splitDiscriminatorPath splits a path at the dots outside of function
// arguments.
func splitDiscriminatorPath(path string) []string {
	var segs []string
	depth, start := 0, 0
	quoted := false
	for i := 0; i < len(path); i++ {
		switch c := path[i]; {
		case c == '\'':
			quoted = !quoted
		case quoted:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '.' && depth == 0:
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	return append(segs, path[start:])
}

// segmentFunction splits "extension('url')" into "url" and "extension". A
// plain name is returned with an empty function.
func segmentFunction(seg string) (arg, fn string) {
	open := strings.IndexByte(seg, '(')
	if open < 0 || !strings.HasSuffix(seg, ")") {
		return seg, ""
	}
	arg = strings.Trim(seg[open+1:len(seg)-1], `'"`)
	return arg, seg[:open]
}

// valueType returns the type of the value a type discriminator looks at:
// the resourceType of a resource, or the type the walker resolved for a
// choice value.
func valueType(it sliceItem, path string, values []any) (string, bool) {
	if len(values) == 1 {
		if m, ok := values[0].(map[string]any); ok {
			if rt, ok := m["resourceType"].(string); ok && rt != "" {
				return rt, true
			}
		}
	}
	if path == "$this" && it.typeCode != "" {
		return it.typeCode, true
	}
	return "", false
}

// declaresProfile reports whether v claims one of profiles, through
// meta.profile for resources or its url for extensions.
func declaresProfile(v any, profiles []string) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	if url, ok := m["url"].(string); ok && slices.Contains(profiles, url) {
		return true
	}
	meta, _ := m["meta"].(map[string]any)
	declared, _ := meta["profile"].([]any)
	for _, d := range declared {
		s, _ := d.(string)
		if s != "" && (slices.Contains(profiles, s) || slices.Contains(profiles, service.StripVersion(s))) {
			return true
		}
	}
	return false
}
