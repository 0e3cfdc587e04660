package walker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/PraveenKS30/hl7-fhir-validator/service"
)

// maxDepth bounds the nesting the walker follows. Deeper objects are kept
// opaque.
const maxDepth = 64

// Walker matches a resource instance against a StructureDefinition and
// builds the tree of Objects the validation phases work on.
//
// Children of BackboneElements, and of any element the definition itself
// describes further, are matched in the same definition. Other complex
// values switch to the definition of their datatype, resolved through the
// support. Nested resources are matched against the definition of their
// own resourceType.
//
// A Walker is safe for concurrent use.
type Walker struct {
	resolver *Resolver
}

// New creates a walker resolving datatypes through support.
func New(support service.ValidationSupport) *Walker {
	return &Walker{resolver: NewResolver(support)}
}

// Resolver returns the type resolver of the walker.
func (w *Walker) Resolver() *Resolver {
	return w.resolver
}

// Walk matches resource against sd. The returned error is a provider fault
// or the context error; unresolvable datatypes leave their values opaque.
func (w *Walker) Walk(ctx context.Context, resource map[string]any, sd *service.StructureDefinition) (*Object, error) {
	if !sd.HasSnapshot() {
		return nil, fmt.Errorf("structure definition %s has no snapshot", sd.URL)
	}

	idx := w.resolver.Index(sd)
	path, _ := resource["resourceType"].(string)
	if path == "" {
		path = sd.Type
	}

	root := &Object{
		Path:     path,
		DefPath:  idx.Root().Path,
		Type:     sd.Type,
		SD:       sd,
		Index:    idx,
		Value:    resource,
		Resource: true,
	}
	if err := w.walkObject(ctx, root, 0); err != nil {
		return nil, err
	}
	return root, nil
}

func (w *Walker) walkObject(ctx context.Context, o *Object, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.Opaque() {
		return nil
	}

	claimed := make(map[string]bool, len(o.Value))
	if o.Resource {
		claimed["resourceType"] = true
	}

	for _, def := range o.Definitions() {
		if def.IsChoice() {
			for _, v := range ChoiceVariants(def) {
				o.match(v.Key, def, v.Type, claimed)
			}
			continue
		}
		o.match(def.Name(), def, elementType(def), claimed)
	}

	for key := range o.Value {
		if !claimed[key] {
			o.Unknown = append(o.Unknown, key)
		}
	}
	sort.Strings(o.Unknown)

	for _, el := range o.Elements {
		for _, v := range el.Values {
			child, err := w.child(ctx, o, el, v, depth+1)
			if err != nil {
				return err
			}
			if child == nil {
				continue
			}
			v.Object = child
			if err := w.walkObject(ctx, child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// match adds the element stored under key, if present.
func (o *Object) match(key string, def *service.ElementDefinition, typeCode string, claimed map[string]bool) {
	raw, hasValue := o.Value[key]
	rawExt, hasExt := o.Value["_"+key]
	if !hasValue && !hasExt {
		return
	}
	claimed[key] = true
	claimed["_"+key] = true

	el := &Element{Key: key, Def: def, Type: typeCode, Raw: raw, RawExt: rawExt}

	values, isArray := raw.([]any)
	exts, extIsArray := rawExt.([]any)
	if isArray || (!hasValue && extIsArray) {
		el.Array = true
		n := max(len(values), len(exts))
		for i := 0; i < n; i++ {
			v := &Value{Path: fmt.Sprintf("%s.%s[%d]", o.Path, key, i), Index: i}
			if i < len(values) {
				v.Value = values[i]
			}
			if i < len(exts) {
				v.Ext = exts[i]
			}
			el.Values = append(el.Values, v)
		}
	} else {
		el.Values = []*Value{{Path: o.Path + "." + key, Index: -1, Value: raw, Ext: rawExt}}
	}

	o.Elements = append(o.Elements, el)
}

// child builds the object for a complex value, or returns nil for values
// that are not walked into.
func (w *Walker) child(ctx context.Context, parent *Object, el *Element, v *Value, depth int) (*Object, error) {
	m, ok := v.Value.(map[string]any)
	if !ok || IsPrimitiveType(el.Type) {
		return nil, nil
	}

	o := &Object{Path: v.Path, Def: el.Def, Type: el.Type, Value: m}
	if depth > maxDepth {
		return o, nil
	}

	switch {
	case el.Def.ContentReference != "":
		_, target, _ := strings.Cut(el.Def.ContentReference, "#")
		o.DefPath, o.SD, o.Index = target, parent.SD, parent.Index

	case el.Type == TypeResource:
		o.Resource = true
		resourceType, _ := m["resourceType"].(string)
		if resourceType == "" {
			return o, nil
		}
		o.Type = resourceType
		if err := w.switchType(ctx, o, resourceType); err != nil {
			return nil, err
		}

	case IsInlineElementType(el.Type) || parent.Index.HasChildren(el.Def.Path):
		o.DefPath, o.SD, o.Index = el.Def.Path, parent.SD, parent.Index

	default:
		if err := w.switchType(ctx, o, el.Type); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// switchType points o at the definition of typeCode. Unknown types leave o
// opaque.
func (w *Walker) switchType(ctx context.Context, o *Object, typeCode string) error {
	sd, err := w.resolver.ResolveType(ctx, typeCode)
	if err != nil || sd == nil {
		return err
	}
	o.SD = sd
	o.Index = w.resolver.Index(sd)
	o.DefPath = o.Index.Root().Path
	return nil
}

// elementType returns the type code of a non-choice element.
func elementType(def *service.ElementDefinition) string {
	if def.ContentReference != "" {
		return "BackboneElement"
	}
	if len(def.Types) == 0 {
		return ""
	}
	return NormalizeSystemType(def.Types[0].Code)
}
