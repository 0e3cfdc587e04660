package phase

import (
	"context"
	"fmt"
	"strings"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/pipeline"
	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"github.com/PraveenKS30/hl7-fhir-validator/walker"
)

// ExtensionsPhase checks extensions against their definitions, which are
// fetched by url.
//
// An extension no provider knows is reported as information. An unknown
// modifierExtension is an error: the element carrying it cannot be
// understood without it. Known extensions are checked for the modifier flag,
// the type of their value and their required sub-extensions. Sub-extensions
// must be declared by the definition of the extension they belong to.
type ExtensionsPhase struct{}

// NewExtensionsPhase creates a new extension validation phase.
func NewExtensionsPhase() *ExtensionsPhase {
	return &ExtensionsPhase{}
}

// Name returns the phase name.
func (p *ExtensionsPhase) Name() string {
	return "extensions"
}

// extensionDefs fetches extension definitions once per pass. Unknown urls
// are remembered as nil.
type extensionDefs struct {
	support service.ValidationSupport
	defs    map[string]*service.StructureDefinition
}

func (d *extensionDefs) fetch(ctx context.Context, url string) (*service.StructureDefinition, error) {
	if sd, ok := d.defs[url]; ok {
		return sd, nil
	}
	sd, err := d.support.FetchStructureDefinition(ctx, url)
	if err != nil {
		if !service.IsUnresolved(err) {
			return nil, fmt.Errorf("fetch extension %s: %w", url, err)
		}
		sd = nil
	}
	d.defs[url] = sd
	return sd, nil
}

// Validate performs extension validation.
func (p *ExtensionsPhase) Validate(ctx context.Context, pctx *pipeline.Context) ([]fv.Issue, error) {
	if pctx.Support == nil {
		return nil, nil
	}
	defs := &extensionDefs{support: pctx.Support, defs: make(map[string]*service.StructureDefinition)}

	var issues []fv.Issue
	for _, o := range objects(pctx.Root) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, el := range o.Elements {
			name := el.Def.Name()
			if name != "extension" && name != "modifierExtension" {
				continue
			}
			for _, v := range el.Values {
				ext, ok := v.Value.(map[string]any)
				if !ok {
					continue
				}
				url, _ := ext["url"].(string)
				if url == "" {
					continue
				}

				var (
					found []fv.Issue
					err   error
				)
				if o.Type == "Extension" && !isAbsoluteURL(url) {
					found, err = p.validateSubExtension(ctx, defs, o.Value, ext, url, v.Path)
				} else {
					found, err = p.validateExtension(ctx, defs, ext, url, name == "modifierExtension", v.Path)
				}
				if err != nil {
					return nil, err
				}
				issues = append(issues, found...)
			}
		}
	}
	return issues, nil
}

func (p *ExtensionsPhase) validateExtension(ctx context.Context, defs *extensionDefs, ext map[string]any, url string, modifier bool, path string) ([]fv.Issue, error) {
	if !isAbsoluteURL(url) {
		return []fv.Issue{warningAt(
			fv.IssueTypeValue,
			fmt.Sprintf("Extension url '%s' is not an absolute URL", url),
			path+".url",
			p.Name(),
		)}, nil
	}

	sd, err := defs.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if sd == nil {
		if modifier {
			return []fv.Issue{errorAt(
				fv.IssueTypeStructure,
				fmt.Sprintf("Unknown modifier extension '%s'; the element carrying it cannot be processed", url),
				path,
				p.Name(),
			)}, nil
		}
		return []fv.Issue{infoAt(
			fv.IssueTypeInformational,
			fmt.Sprintf("Unknown extension '%s'", url),
			path,
			p.Name(),
		)}, nil
	}
	if sd.Type != "Extension" {
		return []fv.Issue{errorAt(
			fv.IssueTypeInvalid,
			fmt.Sprintf("'%s' defines a %s, not an extension", url, sd.Type),
			path+".url",
			p.Name(),
		)}, nil
	}

	var issues []fv.Issue
	isModifier := false
	if root := extensionRoot(sd); root != nil {
		isModifier = root.IsModifier
	}
	switch {
	case modifier && !isModifier:
		issues = append(issues, errorAt(
			fv.IssueTypeStructure,
			fmt.Sprintf("Extension '%s' is not a modifier extension and cannot be used as a modifierExtension", url),
			path,
			p.Name(),
		))
	case !modifier && isModifier:
		issues = append(issues, errorAt(
			fv.IssueTypeStructure,
			fmt.Sprintf("Extension '%s' is a modifier extension and must be used as a modifierExtension", url),
			path,
			p.Name(),
		))
	}

	issues = append(issues, p.validateValue(extensionValue(sd), ext, url, path)...)

	// Required sub-extensions of a complex extension.
	idx := newSliceIndex(sd)
	present := make(map[string]bool)
	nested, _ := ext["extension"].([]any)
	for _, item := range nested {
		if m, ok := item.(map[string]any); ok {
			if u, ok := m["url"].(string); ok {
				present[u] = true
			}
		}
	}
	for _, slice := range idx.slices["Extension.extension"] {
		subURL := extensionURL(slice, idx)
		if subURL != "" && slice.Min > 0 && !present[subURL] {
			issues = append(issues, errorAt(
				fv.IssueTypeRequired,
				fmt.Sprintf("Extension '%s' requires the sub-extension '%s'", url, subURL),
				path,
				p.Name(),
			))
		}
	}
	return issues, nil
}

func (p *ExtensionsPhase) validateSubExtension(ctx context.Context, defs *extensionDefs, parent, ext map[string]any, url, path string) ([]fv.Issue, error) {
	parentURL, _ := parent["url"].(string)
	if !isAbsoluteURL(parentURL) {
		return nil, nil
	}
	sd, err := defs.fetch(ctx, parentURL)
	if err != nil || sd == nil {
		// an unknown parent is reported on its own
		return nil, err
	}

	idx := newSliceIndex(sd)
	subs := extensionSlices(idx, "Extension.extension")
	if len(subs) == 0 {
		return nil, nil
	}
	slice, ok := subs[url]
	if !ok {
		msg := fmt.Sprintf("Sub-extension '%s' is not defined by extension '%s'", url, parentURL)
		if base := idx.byID["Extension.extension"]; base != nil && base.Slicing != nil && base.Slicing.Rules == SlicingRulesClosed {
			return []fv.Issue{errorAt(fv.IssueTypeStructure, msg, path, p.Name())}, nil
		}
		return []fv.Issue{warningAt(fv.IssueTypeStructure, msg, path, p.Name())}, nil
	}
	return p.validateValue(idx.byID[elementID(slice)+".value[x]"], ext, url, path), nil
}

// validateValue checks the value of an extension against the value[x]
// definition of the extension or sub-extension, if there is one.
func (p *ExtensionsPhase) validateValue(def *service.ElementDefinition, ext map[string]any, url, path string) []fv.Issue {
	if def == nil {
		return nil
	}

	key := valueKey(ext)
	if key == "" {
		if def.Min > 0 {
			return []fv.Issue{errorAt(
				fv.IssueTypeRequired,
				fmt.Sprintf("Extension '%s' requires a value", url),
				path,
				p.Name(),
			)}
		}
		return nil
	}

	if def.IsProhibited() {
		return []fv.Issue{errorAt(
			fv.IssueTypeStructure,
			fmt.Sprintf("Extension '%s' does not allow a value; it holds sub-extensions only", url),
			path+"."+key,
			p.Name(),
		)}
	}
	if len(def.Types) == 0 {
		return nil
	}
	if _, ok := walker.ChoiceType(def, key); !ok {
		return []fv.Issue{errorAt(
			fv.IssueTypeStructure,
			fmt.Sprintf("The value type of '%s' is not allowed by extension '%s'; allowed types: %s", key, url, strings.Join(def.TypeCodes(), ", ")),
			path+"."+key,
			p.Name(),
		)}
	}
	return nil
}

// valueKey returns the value[x] property of an extension, or "".
func valueKey(ext map[string]any) string {
	for key := range ext {
		if len(key) > len("value") && strings.HasPrefix(key, "value") && key[5] >= 'A' && key[5] <= 'Z' {
			return key
		}
	}
	return ""
}
