package loader

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"github.com/gofhir/fhir/r4"
)

// Definitions groups the conformance resources read from one source.
type Definitions struct {
	StructureDefinitions []*service.StructureDefinition
	ValueSets            []*service.ValueSet
	CodeSystems          []*service.CodeSystem
}

// Len returns the total number of definitions.
func (d *Definitions) Len() int {
	return len(d.StructureDefinitions) + len(d.ValueSets) + len(d.CodeSystems)
}

// Merge appends the definitions of other.
func (d *Definitions) Merge(other *Definitions) {
	if other == nil {
		return
	}
	d.StructureDefinitions = append(d.StructureDefinitions, other.StructureDefinitions...)
	d.ValueSets = append(d.ValueSets, other.ValueSets...)
	d.CodeSystems = append(d.CodeSystems, other.CodeSystems...)
}

// Reader decodes StructureDefinitions, ValueSets and CodeSystems from JSON.
// Other resource types are skipped.
type Reader struct{}

// NewReader creates a definition reader.
func NewReader() *Reader {
	return &Reader{}
}

// Read decodes a single resource or a Bundle of resources.
func (r *Reader) Read(data []byte) (*Definitions, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	defs := &Definitions{}
	if head.ResourceType == "Bundle" {
		var bundle struct {
			Entry []struct {
				Resource json.RawMessage `json:"resource"`
			} `json:"entry"`
		}
		if err := json.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("failed to parse Bundle: %w", err)
		}
		for i, entry := range bundle.Entry {
			if len(entry.Resource) == 0 {
				continue
			}
			if err := r.readResource(entry.Resource, defs); err != nil {
				return nil, fmt.Errorf("bundle entry %d: %w", i, err)
			}
		}
		return defs, nil
	}

	if err := r.readResource(data, defs); err != nil {
		return nil, err
	}
	return defs, nil
}

func (r *Reader) readResource(data []byte, defs *Definitions) error {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	switch head.ResourceType {
	case "StructureDefinition":
		sd, err := r.readStructureDefinition(data)
		if err != nil {
			return err
		}
		defs.StructureDefinitions = append(defs.StructureDefinitions, sd)
	case "ValueSet":
		vs, err := r.readValueSet(data)
		if err != nil {
			return err
		}
		defs.ValueSets = append(defs.ValueSets, vs)
	case "CodeSystem":
		cs, err := r.readCodeSystem(data)
		if err != nil {
			return err
		}
		defs.CodeSystems = append(defs.CodeSystems, cs)
	}
	return nil
}

// Fields the converter does not carry are read from the same bytes.
type sdExtras struct {
	Version    string `json:"version"`
	Derivation string `json:"derivation"`
}

type vsExtras struct {
	Version string `json:"version"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Compose struct {
		Include []conceptSetExtras `json:"include"`
		Exclude []conceptSetExtras `json:"exclude"`
	} `json:"compose"`
}

type conceptSetExtras struct {
	System  string `json:"system"`
	Version string `json:"version"`
	Concept []struct {
		Code    string `json:"code"`
		Display string `json:"display"`
	} `json:"concept"`
	Filter []struct {
		Property string `json:"property"`
		Op       string `json:"op"`
		Value    string `json:"value"`
	} `json:"filter"`
	ValueSet []string `json:"valueSet"`
}

type csExtras struct {
	Version       string `json:"version"`
	Name          string `json:"name"`
	Content       string `json:"content"`
	CaseSensitive bool   `json:"caseSensitive"`
}

func (r *Reader) readStructureDefinition(data []byte) (*service.StructureDefinition, error) {
	var sd r4.StructureDefinition
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("failed to parse StructureDefinition: %w", err)
	}
	var extras sdExtras
	if err := json.Unmarshal(data, &extras); err != nil {
		return nil, fmt.Errorf("failed to parse StructureDefinition: %w", err)
	}

	converted := toStructureDefinition(&sd)
	if converted.URL == "" {
		return nil, fmt.Errorf("StructureDefinition %q has no url", converted.Name)
	}
	converted.Version = extras.Version
	converted.Derivation = extras.Derivation
	return converted, nil
}

func (r *Reader) readValueSet(data []byte) (*service.ValueSet, error) {
	var vs r4.ValueSet
	if err := json.Unmarshal(data, &vs); err != nil {
		return nil, fmt.Errorf("failed to parse ValueSet: %w", err)
	}
	var extras vsExtras
	if err := json.Unmarshal(data, &extras); err != nil {
		return nil, fmt.Errorf("failed to parse ValueSet: %w", err)
	}

	if vs.Url == nil || *vs.Url == "" {
		return nil, fmt.Errorf("ValueSet %q has no url", extras.Name)
	}
	converted := &service.ValueSet{
		URL:       *vs.Url,
		Version:   extras.Version,
		Name:      extras.Name,
		Status:    extras.Status,
		Expansion: expansion(&vs),
	}
	for _, in := range extras.Compose.Include {
		converted.Include = append(converted.Include, in.toConceptSet())
	}
	for _, ex := range extras.Compose.Exclude {
		converted.Exclude = append(converted.Exclude, ex.toConceptSet())
	}
	return converted, nil
}

func (c conceptSetExtras) toConceptSet() service.ConceptSet {
	set := service.ConceptSet{
		System:    c.System,
		Version:   c.Version,
		ValueSets: c.ValueSet,
	}
	for _, concept := range c.Concept {
		set.Concepts = append(set.Concepts, service.Concept{
			System:  c.System,
			Code:    concept.Code,
			Display: concept.Display,
		})
	}
	for _, f := range c.Filter {
		set.Filters = append(set.Filters, service.Filter{Property: f.Property, Op: f.Op, Value: f.Value})
	}
	return set
}

func (r *Reader) readCodeSystem(data []byte) (*service.CodeSystem, error) {
	var cs r4.CodeSystem
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("failed to parse CodeSystem: %w", err)
	}
	var extras csExtras
	if err := json.Unmarshal(data, &extras); err != nil {
		return nil, fmt.Errorf("failed to parse CodeSystem: %w", err)
	}

	if cs.Url == nil || *cs.Url == "" {
		return nil, fmt.Errorf("CodeSystem %q has no url", extras.Name)
	}
	return &service.CodeSystem{
		URL:           *cs.Url,
		Version:       extras.Version,
		Name:          extras.Name,
		Content:       extras.Content,
		CaseSensitive: extras.CaseSensitive,
		Concepts:      codeSystemConcepts(&cs),
	}, nil
}

// ReadFile reads definitions from a JSON file.
func (r *Reader) ReadFile(filePath string) (*Definitions, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}
	defs, err := r.Read(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return defs, nil
}

// ReadFS reads every *.json file below root in fsys, in lexical order.
// NPM package manifests (package.json, .index.json) are skipped.
func (r *Reader) ReadFS(fsys fs.FS, root string) (*Definitions, error) {
	var files []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		if d.Name() == "package.json" || d.Name() == ".index.json" {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	sort.Strings(files)

	defs := &Definitions{}
	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", file, err)
		}
		loaded, err := r.Read(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(file), err)
		}
		defs.Merge(loaded)
	}
	return defs, nil
}

// ReadDirectory reads every JSON file below dir.
func (r *Reader) ReadDirectory(dir string) (*Definitions, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return r.ReadFS(os.DirFS(dir), ".")
}
