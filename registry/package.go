package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/loader"
	"golang.org/x/sync/errgroup"
)

// PackageRef names a package version.
type PackageRef struct {
	Name    string
	Version string
}

// String returns the reference in the "name#version" form used by the HL7
// tooling.
func (p PackageRef) String() string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + "#" + p.Version
}

// ParsePackageRef parses "name#version", "name@version" or a bare name,
// which selects the latest version.
func ParsePackageRef(s string) (PackageRef, error) {
	s = strings.TrimSpace(s)
	name, version := s, VersionLatest
	if i := strings.LastIndexAny(s, "#@"); i >= 0 {
		name, version = s[:i], s[i+1:]
	}
	if name == "" || version == "" || strings.ContainsAny(name, " /\\") {
		return PackageRef{}, fmt.Errorf("invalid package reference %q", s)
	}
	return PackageRef{Name: name, Version: version}, nil
}

// CorePackage returns the published core package of a FHIR version.
func CorePackage(version fv.FHIRVersion) (PackageRef, error) {
	if !version.IsValid() {
		return PackageRef{}, fmt.Errorf("no core package for FHIR version %q", version)
	}
	name, v := version.Package()
	return PackageRef{Name: name, Version: v}, nil
}

// Manifest is the package.json of a FHIR package.
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	FHIRVersions []string          `json:"fhirVersions"`
	Dependencies map[string]string `json:"dependencies"`
	Canonical    string            `json:"canonical"`
	Type         string            `json:"type"`
}

// ContentDir returns the directory holding a package's resources: the
// "package" subdirectory of an unpacked tarball, or dir itself.
func ContentDir(dir string) string {
	sub := filepath.Join(dir, "package")
	if info, err := os.Stat(sub); err == nil && info.IsDir() {
		return sub
	}
	return dir
}

// ReadManifest reads the package.json of an unpacked package.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(ContentDir(dir), "package.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse package.json: %w", err)
	}
	return &m, nil
}

// Load reads the StructureDefinitions, ValueSets and CodeSystems of an
// unpacked package. Other resources, and JSON files that are not resources,
// are skipped.
func Load(dir string) (*loader.Definitions, error) {
	defs, err := loader.NewReader().ReadDirectory(ContentDir(dir))
	if err != nil {
		return nil, fmt.Errorf("load package %s: %w", filepath.Base(dir), err)
	}
	return defs, nil
}

// Package is a fetched package.
type Package struct {
	Ref PackageRef
	Dir string
}

// Resolve fetches refs concurrently. Packages that could not be fetched are
// left out of the result and reported together in the error, so that the
// caller may carry on with the rest.
func Resolve(ctx context.Context, client *Client, refs []PackageRef) ([]Package, error) {
	dirs := make([]string, len(refs))
	errs := make([]error, len(refs))

	var g errgroup.Group
	g.SetLimit(4)
	for i, ref := range refs {
		g.Go(func() error {
			dir, err := client.Fetch(ctx, ref)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", ref, err)
				return nil
			}
			dirs[i] = dir
			return nil
		})
	}
	_ = g.Wait()

	var pkgs []Package
	for i, ref := range refs {
		if dirs[i] != "" {
			pkgs = append(pkgs, Package{Ref: ref, Dir: dirs[i]})
		}
	}
	return pkgs, errors.Join(errs...)
}
