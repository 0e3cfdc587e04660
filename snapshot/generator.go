// Package snapshot expands differential-only profiles into snapshot
// StructureDefinitions.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PraveenKS30/hl7-fhir-validator/service"
)

// maxDepth bounds base definition chains and nested datatype expansion.
const maxDepth = 16

// Error reports a profile whose snapshot cannot be generated. It wraps
// nothing, so the chain treats it as a fault rather than a missing profile.
type Error struct {
	URL    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("snapshot for %s: %s", e.URL, e.Reason)
}

// Generator serves differential profiles with a generated snapshot. Base
// definitions and datatype definitions are fetched through the root support
// set with Bind, normally the cache in front of the whole chain, so that a
// profile may derive from another differential profile.
type Generator struct {
	service.BaseSupport

	mu       sync.RWMutex
	profiles map[string]*service.StructureDefinition
	root     service.ValidationSupport
}

// New creates an empty generator.
func New() *Generator {
	return &Generator{profiles: make(map[string]*service.StructureDefinition)}
}

// Bind sets the support used to resolve base and datatype definitions.
func (g *Generator) Bind(root service.ValidationSupport) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.root = root
}

// Name implements service.ValidationSupport.
func (g *Generator) Name() string {
	return "snapshot"
}

// Add stores differential profiles.
func (g *Generator) Add(sds ...*service.StructureDefinition) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, sd := range sds {
		switch {
		case sd == nil:
			return fmt.Errorf("structure definition is nil")
		case sd.URL == "":
			return fmt.Errorf("structure definition %q has no url", sd.Name)
		case sd.BaseDefinition == "":
			return fmt.Errorf("structure definition %s has no baseDefinition", sd.URL)
		case len(sd.Differential) == 0:
			return fmt.Errorf("structure definition %s has no differential", sd.URL)
		}
		g.profiles[sd.URL] = sd
	}
	return nil
}

// Count returns the number of held profiles.
func (g *Generator) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.profiles)
}

// FetchStructureDefinition implements service.ValidationSupport.
func (g *Generator) FetchStructureDefinition(ctx context.Context, url string) (*service.StructureDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	url = service.StripVersion(url)

	g.mu.RLock()
	profile, ok := g.profiles[url]
	root := g.root
	g.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("structure definition %s: %w", url, service.ErrNotFound)
	}
	if root == nil {
		return nil, &Error{URL: url, Reason: "generator is not bound to a support chain"}
	}

	// Cycles are detected before any lookup: a lookup of a profile already
	// being generated would wait on itself in the cache.
	if err := g.checkChain(url); err != nil {
		return nil, err
	}

	base, err := root.FetchStructureDefinition(ctx, profile.BaseDefinition)
	if err != nil {
		if service.IsUnresolved(err) {
			return nil, &Error{URL: url, Reason: "base definition " + profile.BaseDefinition + " not found"}
		}
		return nil, err
	}
	if !base.HasSnapshot() {
		return nil, &Error{URL: url, Reason: "base definition " + profile.BaseDefinition + " has no snapshot"}
	}

	b := &builder{
		ctx:      ctx,
		root:     root,
		profile:  profile,
		elements: copyElements(base.Snapshot),
	}
	if err := b.apply(); err != nil {
		return nil, err
	}

	out := *profile
	out.Snapshot = b.elements
	if out.Type == "" {
		out.Type = base.Type
	}
	if out.Kind == "" {
		out.Kind = base.Kind
	}
	if out.Derivation == "" {
		out.Derivation = "constraint"
	}
	return &out, nil
}

func (g *Generator) checkChain(url string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	for cur := url; ; {
		if seen[cur] {
			return &Error{URL: url, Reason: "circular base definition chain through " + cur}
		}
		if len(seen) >= maxDepth {
			return &Error{URL: url, Reason: "base definition chain is too deep"}
		}
		seen[cur] = true

		p, ok := g.profiles[cur]
		if !ok {
			return nil
		}
		cur = service.StripVersion(p.BaseDefinition)
	}
}

// builder applies one differential to a copy of the base snapshot.
type builder struct {
	ctx      context.Context
	root     service.ValidationSupport
	profile  *service.StructureDefinition
	elements []service.ElementDefinition
}

func (b *builder) apply() error {
	for i := range b.profile.Differential {
		diff := &b.profile.Differential[i]
		idx, err := b.locate(diff)
		if err != nil {
			return err
		}
		b.merge(&b.elements[idx], diff)
	}
	return nil
}

// locate returns the index of the snapshot element diff applies to, adding
// slices and datatype children as needed.
func (b *builder) locate(diff *service.ElementDefinition) (int, error) {
	id := elementID(diff)
	if diff.ID == "" && diff.SliceName != "" {
		id = diff.Path + ":" + diff.SliceName
	}
	for attempt := 0; attempt < maxDepth; attempt++ {
		if idx := b.find(id); idx >= 0 {
			return idx, nil
		}

		parentID, last := splitID(id)
		if name, slice, ok := strings.Cut(last, ":"); ok {
			if err := b.addSlice(joinID(parentID, name), slice); err != nil {
				return -1, err
			}
			continue
		}
		if parentID == "" {
			break
		}
		if err := b.expand(parentID); err != nil {
			return -1, err
		}
	}
	return -1, b.fail("no base element for " + id)
}

// expand adds the children of a datatype element, creating the element
// itself first when it is missing.
func (b *builder) expand(id string) error {
	idx := b.find(id)
	if idx < 0 {
		parentID, last := splitID(id)
		if parentID == "" {
			return b.fail("no base element for " + id)
		}
		if name, slice, ok := strings.Cut(last, ":"); ok {
			return b.addSlice(joinID(parentID, name), slice)
		}
		return b.expand(parentID)
	}

	parent := &b.elements[idx]
	if b.hasChildren(idx) {
		return b.fail("no base element below " + id)
	}
	if len(parent.Types) != 1 {
		return b.fail("cannot expand " + id + ": element does not have exactly one type")
	}

	typeURL := service.CoreURL(parent.Types[0].Code)
	if len(parent.Types[0].Profile) > 0 {
		typeURL = parent.Types[0].Profile[0]
	}
	typeSD, err := b.root.FetchStructureDefinition(b.ctx, typeURL)
	if err != nil {
		if service.IsUnresolved(err) {
			return b.fail("datatype " + typeURL + " not found")
		}
		return err
	}
	if !typeSD.HasSnapshot() {
		return b.fail("datatype " + typeURL + " has no snapshot")
	}

	children := copyElements(typeSD.Snapshot[1:])
	rootPath := typeSD.Snapshot[0].Path
	parentID := elementID(parent)
	for i := range children {
		c := &children[i]
		c.ID = parentID + strings.TrimPrefix(elementID(c), rootPath)
		c.Path = parent.Path + strings.TrimPrefix(c.Path, rootPath)
	}
	b.insert(idx+1, children)
	return nil
}

// addSlice copies the element named by id, with its children, as a new
// slice placed after the existing subtree and slices of that element.
func (b *builder) addSlice(id, sliceName string) error {
	idx := b.find(id)
	if idx < 0 {
		if err := b.expand(parentOf(id)); err != nil {
			return err
		}
		if idx = b.find(id); idx < 0 {
			return b.fail("no base element for slice " + id + ":" + sliceName)
		}
	}

	end := b.subtreeEnd(idx)
	base := b.elements[idx : idx+1+countPlainChildren(b.elements, idx)]
	slice := copyElements(base)
	sliceID := id + ":" + sliceName
	for i := range slice {
		slice[i].ID = sliceID + strings.TrimPrefix(elementID(&slice[i]), id)
	}
	slice[0].SliceName = sliceName
	slice[0].Slicing = nil
	b.insert(end, slice)
	return nil
}

func (b *builder) merge(dst, diff *service.ElementDefinition) {
	if diff.Min > dst.Min {
		dst.Min = diff.Min
	}
	if diff.Max != "" {
		dst.Max = diff.Max
	}
	if diff.Short != "" {
		dst.Short = diff.Short
	}
	if len(diff.Types) > 0 {
		dst.Types = copyTypes(diff.Types)
	}
	if diff.Binding != nil {
		binding := *diff.Binding
		if dst.Binding != nil {
			if binding.Strength == "" {
				binding.Strength = dst.Binding.Strength
			}
			if binding.ValueSet == "" {
				binding.ValueSet = dst.Binding.ValueSet
			}
		}
		dst.Binding = &binding
	}
	if diff.Fixed != nil {
		dst.Fixed = diff.Fixed
	}
	if diff.Pattern != nil {
		dst.Pattern = diff.Pattern
	}
	if diff.Slicing != nil {
		slicing := *diff.Slicing
		slicing.Discriminator = append([]service.Discriminator(nil), diff.Slicing.Discriminator...)
		dst.Slicing = &slicing
	}
	for _, c := range diff.Constraints {
		if c.Source == "" {
			c.Source = b.profile.URL
		}
		dst.Constraints = append(dst.Constraints, c)
	}
	dst.MustSupport = dst.MustSupport || diff.MustSupport
}

func (b *builder) find(id string) int {
	for i := range b.elements {
		if elementID(&b.elements[i]) == id {
			return i
		}
	}
	return -1
}

func (b *builder) hasChildren(idx int) bool {
	return idx+1 < len(b.elements) && strings.HasPrefix(elementID(&b.elements[idx+1]), elementID(&b.elements[idx])+".")
}

// subtreeEnd returns the index after the element at idx, its children and
// its slices.
func (b *builder) subtreeEnd(idx int) int {
	id := elementID(&b.elements[idx])
	end := idx + 1
	for end < len(b.elements) {
		next := elementID(&b.elements[end])
		if !strings.HasPrefix(next, id+".") && !strings.HasPrefix(next, id+":") {
			break
		}
		end++
	}
	return end
}

func (b *builder) insert(at int, elems []service.ElementDefinition) {
	b.elements = append(b.elements[:at], append(elems, b.elements[at:]...)...)
}

func (b *builder) fail(reason string) error {
	return &Error{URL: b.profile.URL, Reason: reason}
}

// countPlainChildren counts the descendants of the element at idx that are
// not part of a slice.
func countPlainChildren(elems []service.ElementDefinition, idx int) int {
	id := elementID(&elems[idx])
	n := 0
	for i := idx + 1; i < len(elems); i++ {
		next := elementID(&elems[i])
		if !strings.HasPrefix(next, id+".") {
			break
		}
		n++
	}
	return n
}

func elementID(e *service.ElementDefinition) string {
	if e.ID != "" {
		return e.ID
	}
	return e.Path
}

// splitID splits "Patient.contact.name" into "Patient.contact" and "name".
// Dots inside slice names are not expected.
func splitID(id string) (string, string) {
	i := strings.LastIndexByte(id, '.')
	if i < 0 {
		return "", id
	}
	return id[:i], id[i+1:]
}

func parentOf(id string) string {
	parent, _ := splitID(id)
	return parent
}

func joinID(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// copyElements deep copies element definitions. Fixed and pattern values
// are shared; they are never modified.
func copyElements(elems []service.ElementDefinition) []service.ElementDefinition {
	out := make([]service.ElementDefinition, len(elems))
	for i := range elems {
		e := elems[i]
		e.Types = copyTypes(e.Types)
		e.Constraints = append([]service.Constraint(nil), e.Constraints...)
		if e.Binding != nil {
			binding := *e.Binding
			e.Binding = &binding
		}
		if e.Slicing != nil {
			slicing := *e.Slicing
			slicing.Discriminator = append([]service.Discriminator(nil), e.Slicing.Discriminator...)
			e.Slicing = &slicing
		}
		out[i] = e
	}
	return out
}

func copyTypes(types []service.TypeRef) []service.TypeRef {
	if types == nil {
		return nil
	}
	out := make([]service.TypeRef, len(types))
	for i, t := range types {
		out[i] = service.TypeRef{
			Code:          t.Code,
			Profile:       append([]string(nil), t.Profile...),
			TargetProfile: append([]string(nil), t.TargetProfile...),
		}
	}
	return out
}

// IsError reports whether err is a snapshot generation failure.
func IsError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

var _ service.ValidationSupport = (*Generator)(nil)
