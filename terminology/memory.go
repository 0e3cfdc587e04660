package terminology

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/PraveenKS30/hl7-fhir-validator/service"
)

// maxImportDepth bounds ValueSet.compose.include.valueSet recursion.
const maxImportDepth = 8

// InMemory validates codes against the CodeSystems and ValueSets it holds.
//
// ValueSets are expanded lazily on first use. A ValueSet that includes a
// whole code system (or filters one) that is not loaded is incomplete: codes
// of that system it cannot find are answered with service.ErrNotSupported so
// that the next provider in the chain can judge them.
type InMemory struct {
	service.BaseSupport

	mu          sync.RWMutex
	valueSets   map[string]*valueSetData
	codeSystems map[string]*codeSystemData
}

// valueSetData holds a ValueSet and its expanded codes for fast lookup.
type valueSetData struct {
	def      *service.ValueSet
	codes    map[string]map[string]codeEntry // system -> code -> entry
	external map[string]bool                 // systems included but not loaded
	expanded bool
}

// codeSystemData holds a CodeSystem for code lookup.
type codeSystemData struct {
	def      *service.CodeSystem
	codes    map[string]codeEntry // code -> entry
	children map[string][]string  // code -> child codes
}

// codeEntry represents a code in a ValueSet or CodeSystem.
type codeEntry struct {
	code    string
	display string
	system  string
}

// NewInMemory creates an empty in-memory terminology provider.
func NewInMemory() *InMemory {
	return &InMemory{
		valueSets:   make(map[string]*valueSetData),
		codeSystems: make(map[string]*codeSystemData),
	}
}

// Name implements service.ValidationSupport.
func (s *InMemory) Name() string {
	return "terminology"
}

// AddCodeSystem stores a CodeSystem. ValueSets expanded before the call
// are expanded again on next use.
func (s *InMemory) AddCodeSystem(cs *service.CodeSystem) error {
	if cs == nil || cs.URL == "" {
		return fmt.Errorf("codesystem is nil or has no URL")
	}

	data := &codeSystemData{
		def:      cs,
		codes:    make(map[string]codeEntry, len(cs.Concepts)),
		children: make(map[string][]string),
	}
	for _, c := range cs.Concepts {
		data.codes[c.Code] = codeEntry{code: c.Code, display: c.Display, system: cs.URL}
		for _, parent := range c.Parents {
			data.children[parent] = append(data.children[parent], c.Code)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codeSystems[cs.URL] = data
	s.resetExpansions()
	return nil
}

// AddValueSet stores a ValueSet.
func (s *InMemory) AddValueSet(vs *service.ValueSet) error {
	if vs == nil || vs.URL == "" {
		return fmt.Errorf("valueset is nil or has no URL")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.valueSets[vs.URL] = &valueSetData{def: vs}
	s.resetExpansions()
	return nil
}

// resetExpansions must be called with the write lock held.
func (s *InMemory) resetExpansions() {
	for _, vs := range s.valueSets {
		vs.expanded = false
		vs.codes = nil
		vs.external = nil
	}
}

// FetchValueSet implements service.ValidationSupport.
func (s *InMemory) FetchValueSet(ctx context.Context, url string) (*service.ValueSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	url = service.StripVersion(url)

	s.mu.RLock()
	defer s.mu.RUnlock()

	vs, ok := s.valueSets[url]
	if !ok {
		return nil, fmt.Errorf("valueset %s: %w", url, service.ErrNotFound)
	}
	return vs.def, nil
}

// FetchCodeSystem implements service.ValidationSupport.
func (s *InMemory) FetchCodeSystem(ctx context.Context, url string) (*service.CodeSystem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	url = service.StripVersion(url)

	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.codeSystems[url]
	if !ok {
		return nil, fmt.Errorf("codesystem %s: %w", url, service.ErrNotFound)
	}
	return cs.def, nil
}

// ValidateCode implements service.ValidationSupport.
func (s *InMemory) ValidateCode(ctx context.Context, req service.CodeRequest) (*service.ValidateCodeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if req.ValueSet != "" {
		return s.validateInValueSet(req)
	}
	return s.validateInCodeSystem(req)
}

func (s *InMemory) validateInValueSet(req service.CodeRequest) (*service.ValidateCodeResult, error) {
	url := service.StripVersion(req.ValueSet)
	if err := s.ensureExpanded(url); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	vs := s.valueSets[url]

	if req.Code == "" {
		return &service.ValidateCodeResult{Valid: false, Message: "code is empty", System: req.System}, nil
	}

	if req.System != "" {
		if entry, ok := s.lookup(vs.codes[req.System], req.System, req.Code); ok {
			return matched(req, entry), nil
		}
		if vs.external[req.System] {
			return nil, fmt.Errorf("valueset %s includes %s: %w", url, req.System, service.ErrNotSupported)
		}
	} else {
		// No system specified, check all systems in ValueSet
		systems := make([]string, 0, len(vs.codes))
		for system := range vs.codes {
			systems = append(systems, system)
		}
		sort.Strings(systems)
		for _, system := range systems {
			if entry, ok := s.lookup(vs.codes[system], system, req.Code); ok {
				return matched(req, entry), nil
			}
		}
		if len(vs.external) > 0 {
			return nil, fmt.Errorf("valueset %s is not fully expandable: %w", url, service.ErrNotSupported)
		}
	}

	return &service.ValidateCodeResult{
		Valid:   false,
		Message: fmt.Sprintf("The code '%s' is not in the value set '%s'", codeLabel(req), url),
		Code:    req.Code,
		System:  req.System,
	}, nil
}

func (s *InMemory) validateInCodeSystem(req service.CodeRequest) (*service.ValidateCodeResult, error) {
	if req.System == "" {
		return nil, fmt.Errorf("code %q has no system: %w", req.Code, service.ErrNotSupported)
	}

	system := service.StripVersion(req.System)

	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.codeSystems[system]
	if !ok {
		return nil, fmt.Errorf("codesystem %s: %w", system, service.ErrNotFound)
	}

	if entry, ok := s.lookup(cs.codes, system, req.Code); ok {
		return matched(req, entry), nil
	}

	// A fragment or an example code system does not list every code.
	if cs.def.Content != "" && cs.def.Content != "complete" {
		return nil, fmt.Errorf("codesystem %s has content %s: %w", system, cs.def.Content, service.ErrNotSupported)
	}

	return &service.ValidateCodeResult{
		Valid:   false,
		Message: fmt.Sprintf("Unknown code '%s' in the CodeSystem '%s'", req.Code, system),
		Code:    req.Code,
		System:  system,
	}, nil
}

// lookup finds code in codes, case-insensitively for code systems that say so.
func (s *InMemory) lookup(codes map[string]codeEntry, system, code string) (codeEntry, bool) {
	if entry, ok := codes[code]; ok {
		return entry, true
	}
	if cs, ok := s.codeSystems[system]; ok && !cs.def.CaseSensitive {
		for c, entry := range codes {
			if strings.EqualFold(c, code) {
				return entry, true
			}
		}
	}
	return codeEntry{}, false
}

func matched(req service.CodeRequest, entry codeEntry) *service.ValidateCodeResult {
	result := &service.ValidateCodeResult{
		Valid:   true,
		Display: entry.display,
		Code:    entry.code,
		System:  entry.system,
	}
	if req.Display != "" && entry.display != "" && !strings.EqualFold(req.Display, entry.display) {
		result.DisplayMismatch = true
		result.Message = fmt.Sprintf("Wrong display '%s' for %s#%s, expected '%s'", req.Display, entry.system, entry.code, entry.display)
	}
	return result
}

func codeLabel(req service.CodeRequest) string {
	if req.System == "" {
		return req.Code
	}
	return req.System + "#" + req.Code
}

// Expand returns the codes of a ValueSet sorted by system and code.
func (s *InMemory) Expand(ctx context.Context, url string) ([]service.Concept, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	url = service.StripVersion(url)
	if err := s.ensureExpanded(url); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	vs := s.valueSets[url]
	var out []service.Concept
	for system, codes := range vs.codes {
		for _, entry := range codes {
			out = append(out, service.Concept{System: system, Code: entry.code, Display: entry.display})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].System != out[j].System {
			return out[i].System < out[j].System
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// ensureExpanded expands a ValueSet once, with double-checked locking.
func (s *InMemory) ensureExpanded(url string) error {
	s.mu.RLock()
	vs, ok := s.valueSets[url]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("valueset %s: %w", url, service.ErrNotFound)
	}
	if vs.expanded {
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	vs = s.valueSets[url]
	if vs.expanded {
		return nil
	}
	s.expand(vs, 0)
	return nil
}

// expand must be called with the write lock held.
func (s *InMemory) expand(vs *valueSetData, depth int) {
	vs.codes = make(map[string]map[string]codeEntry)
	vs.external = make(map[string]bool)
	vs.expanded = true

	// A stored expansion is authoritative.
	if len(vs.def.Expansion) > 0 {
		for _, c := range vs.def.Expansion {
			vs.add(codeEntry{code: c.Code, display: c.Display, system: c.System})
		}
		return
	}

	for i := range vs.def.Include {
		s.applyConceptSet(vs, &vs.def.Include[i], depth, true)
	}
	for i := range vs.def.Exclude {
		s.applyConceptSet(vs, &vs.def.Exclude[i], depth, false)
	}
}

func (s *InMemory) applyConceptSet(vs *valueSetData, set *service.ConceptSet, depth int, include bool) {
	apply := vs.remove
	if include {
		apply = vs.add
	}

	for _, imported := range set.ValueSets {
		other, ok := s.valueSets[service.StripVersion(imported)]
		if !ok || depth >= maxImportDepth {
			continue
		}
		if !other.expanded {
			s.expand(other, depth+1)
		}
		for _, codes := range other.codes {
			for _, entry := range codes {
				apply(entry)
			}
		}
		if include {
			for system := range other.external {
				vs.external[system] = true
			}
		}
	}

	if set.System == "" {
		return
	}

	cs, loaded := s.codeSystems[set.System]

	for _, c := range set.Concepts {
		display := c.Display
		if display == "" && loaded {
			display = cs.codes[c.Code].display
		}
		apply(codeEntry{code: c.Code, display: display, system: set.System})
	}

	if len(set.Concepts) > 0 && len(set.Filters) == 0 {
		return
	}

	if !loaded {
		if include {
			vs.external[set.System] = true
		}
		return
	}

	if len(set.Filters) == 0 {
		for _, entry := range cs.codes {
			apply(entry)
		}
		return
	}

	for _, f := range set.Filters {
		for _, code := range s.filterCodes(cs, f) {
			apply(cs.codes[code])
		}
	}
}

// filterCodes selects the codes of cs that pass a compose filter.
func (s *InMemory) filterCodes(cs *codeSystemData, f service.Filter) []string {
	switch {
	case f.Property == "concept" && (f.Op == "is-a" || f.Op == "descendent-of"):
		return s.collectDescendants(cs, f.Value, f.Op == "is-a")
	case f.Property == "code" && f.Op == "regex":
		re, err := regexp.Compile("^(?:" + f.Value + ")$")
		if err != nil {
			return nil
		}
		var out []string
		for code := range cs.codes {
			if re.MatchString(code) {
				out = append(out, code)
			}
		}
		return out
	case (f.Property == "code" || f.Property == "concept") && f.Op == "=":
		if _, ok := cs.codes[f.Value]; ok {
			return []string{f.Value}
		}
	case (f.Property == "code" || f.Property == "concept") && f.Op == "in":
		var out []string
		for _, code := range strings.Split(f.Value, ",") {
			code = strings.TrimSpace(code)
			if _, ok := cs.codes[code]; ok {
				out = append(out, code)
			}
		}
		return out
	}
	return nil
}

// collectDescendants collects all descendants of a code in a CodeSystem.
// If includeSelf is true, includes the starting code itself.
func (s *InMemory) collectDescendants(cs *codeSystemData, startCode string, includeSelf bool) []string {
	var result []string
	visited := make(map[string]bool)

	var collect func(code string)
	collect = func(code string) {
		if visited[code] {
			return
		}
		visited[code] = true

		if includeSelf || code != startCode {
			// Abstract codes start with an underscore by convention.
			if code == "" || code[0] != '_' {
				result = append(result, code)
			}
		}

		for _, child := range cs.children[code] {
			collect(child)
		}
	}

	collect(startCode)
	return result
}

func (vs *valueSetData) add(e codeEntry) {
	if vs.codes[e.system] == nil {
		vs.codes[e.system] = make(map[string]codeEntry)
	}
	vs.codes[e.system][e.code] = e
}

func (vs *valueSetData) remove(e codeEntry) {
	delete(vs.codes[e.system], e.code)
}

// CountValueSets returns the number of loaded ValueSets.
func (s *InMemory) CountValueSets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.valueSets)
}

// CountCodeSystems returns the number of loaded CodeSystems.
func (s *InMemory) CountCodeSystems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.codeSystems)
}

var _ service.ValidationSupport = (*InMemory)(nil)
