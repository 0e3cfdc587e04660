package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
)

func TestParsePackageRef(t *testing.T) {
	tests := []struct {
		in      string
		want    PackageRef
		wantErr bool
	}{
		{in: "hl7.fhir.r4.core#4.0.1", want: PackageRef{Name: "hl7.fhir.r4.core", Version: "4.0.1"}},
		{in: "hl7.fhir.us.core@6.1.0", want: PackageRef{Name: "hl7.fhir.us.core", Version: "6.1.0"}},
		{in: " hl7.fhir.uv.ips ", want: PackageRef{Name: "hl7.fhir.uv.ips", Version: VersionLatest}},
		{in: "", wantErr: true},
		{in: "#4.0.1", wantErr: true},
		{in: "hl7.fhir.r4.core#", wantErr: true},
		{in: "../etc#1.0.0", wantErr: true},
		{in: "two words", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePackageRef(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParsePackageRef(%q) = %v; want an error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePackageRef(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParsePackageRef(%q) = %+v; want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCorePackage(t *testing.T) {
	ref, err := CorePackage(fv.R4)
	if err != nil {
		t.Fatalf("CorePackage failed: %v", err)
	}
	if ref.String() != "hl7.fhir.r4.core#4.0.1" {
		t.Errorf("CorePackage(R4) = %s", ref)
	}
	if _, err := CorePackage(fv.FHIRVersion("DSTU2")); err == nil {
		t.Error("CorePackage(DSTU2) succeeded; want an error")
	}
}

func writePackage(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, "package", name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writePackage(t, map[string]string{
		"package.json":                        `{"name": "example.fhir.ig", "version": "1.0.0", "fhirVersions": ["4.0.1"], "dependencies": {"hl7.fhir.r4.core": "4.0.1"}}`,
		".index.json":                         `{"index-version": 1}`,
		"StructureDefinition-ig-patient.json": igProfile,
		"ImplementationGuide-example.json":    `{"resourceType": "ImplementationGuide", "url": "http://example.org/ig"}`,
		"other/openapi.json":                  `{"openapi": "3.0.0"}`,
	})

	defs, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(defs.StructureDefinitions) != 1 || defs.Len() != 1 {
		t.Fatalf("loaded %d definitions; want the profile only", defs.Len())
	}
	if defs.StructureDefinitions[0].URL != "http://example.org/fhir/StructureDefinition/ig-patient" {
		t.Errorf("URL = %s", defs.StructureDefinitions[0].URL)
	}

	m, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if m.Name != "example.fhir.ig" || m.Dependencies["hl7.fhir.r4.core"] != "4.0.1" {
		t.Errorf("manifest = %+v", m)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Load of a missing directory succeeded; want an error")
	}
	if _, err := ReadManifest(t.TempDir()); err == nil {
		t.Error("ReadManifest without package.json succeeded; want an error")
	}
}

func TestResolve(t *testing.T) {
	reg := newFakeRegistry(t, validArchive(t))
	client := NewClient(WithRegistryURL(reg.URL), WithCacheDir(t.TempDir()))

	refs := []PackageRef{
		{Name: "example.fhir.ig", Version: "1.0.0"},
		{Name: "example.fhir.missing", Version: "1.0.0"},
	}
	pkgs, err := Resolve(context.Background(), client, refs)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve error = %v; want ErrNotFound", err)
	}
	if len(pkgs) != 1 || pkgs[0].Ref != refs[0] {
		t.Fatalf("Resolve = %+v; want only the fetched package", pkgs)
	}

	defs, err := Load(pkgs[0].Dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(defs.StructureDefinitions) != 1 {
		t.Errorf("loaded %d profiles; want 1", len(defs.StructureDefinitions))
	}
}
