package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const patient = `{
	"resourceType": "Patient",
	"text": {
		"status": "generated",
		"div": "<div xmlns=\"http://www.w3.org/1999/xhtml\">John Smith</div>"
	},
	"name": [{"family": "Smith", "given": ["John"]}],
	"gender": "male",
	"birthDate": "1974-12-25"
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp(&stdout, &stderr)
	app.Reader = strings.NewReader(stdin)
	err := app.Run(context.Background(), append([]string{name}, args...))
	return stdout.String(), err
}

func decodeReports(t *testing.T, out string) []fileReport {
	t.Helper()
	var reports []fileReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports), out)
	return reports
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, name+" "+version)
}

func TestValidateCmd_Valid(t *testing.T) {
	file := writeFile(t, t.TempDir(), "patient.json", patient)

	out, err := run(t, "", "validate", file)
	require.NoError(t, err)

	reports := decodeReports(t, out)
	require.Len(t, reports, 1)
	assert.Equal(t, file, reports[0].File)
	assert.True(t, reports[0].Valid)
	assert.False(t, reports[0].Outcome.HasErrors())
}

func TestValidateCmd_Invalid(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", patient)
	bad := writeFile(t, dir, "bad.json", strings.Replace(patient, `"male"`, `"robot"`, 1))
	junk := writeFile(t, dir, "junk.json", `{"resourceType": `)

	out, err := run(t, "", "validate", good, bad, junk)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3")

	reports := decodeReports(t, out)
	require.Len(t, reports, 3)
	assert.True(t, reports[0].Valid)

	assert.False(t, reports[1].Valid)
	require.True(t, reports[1].Outcome.HasErrors())

	assert.False(t, reports[2].Valid)
	require.Len(t, reports[2].Outcome.Issue, 1)
	assert.Equal(t, fv.SeverityFatal, reports[2].Outcome.Issue[0].Severity)
}

func TestValidateCmd_Stdin(t *testing.T) {
	out, err := run(t, patient, "validate", "-")
	require.NoError(t, err)

	reports := decodeReports(t, out)
	require.Len(t, reports, 1)
	assert.Equal(t, "-", reports[0].File)
	assert.True(t, reports[0].Valid)
}

func TestValidateCmd_Profiles(t *testing.T) {
	dir := t.TempDir()
	profiles := filepath.Join(dir, "ig")
	require.NoError(t, os.Mkdir(profiles, 0o755))
	writeFile(t, profiles, "mrn-patient.json", `{
		"resourceType": "StructureDefinition",
		"url": "http://example.org/fhir/StructureDefinition/mrn-patient",
		"name": "MRNPatient",
		"status": "active",
		"kind": "resource",
		"abstract": false,
		"type": "Patient",
		"baseDefinition": "http://hl7.org/fhir/StructureDefinition/Patient",
		"derivation": "constraint",
		"differential": {
			"element": [
				{"id": "Patient", "path": "Patient"},
				{"id": "Patient.identifier", "path": "Patient.identifier", "min": 1}
			]
		}
	}`)
	file := writeFile(t, dir, "patient.json", strings.Replace(patient, `"resourceType": "Patient",`,
		`"resourceType": "Patient", "meta": {"profile": ["http://example.org/fhir/StructureDefinition/mrn-patient"]},`, 1))

	out, err := run(t, "", "validate", file)
	require.NoError(t, err, "an unresolved profile is only a warning")
	assert.Contains(t, out, "mrn-patient")

	out, err = run(t, "", "validate", "--profiles", profiles, file)
	require.Error(t, err)
	reports := decodeReports(t, out)
	require.Len(t, reports, 1)
	assert.Contains(t, out, "Patient.identifier")
}

func TestValidateCmd_Errors(t *testing.T) {
	_, err := run(t, "", "validate")
	assert.ErrorContains(t, err, "no input files")

	_, err = run(t, "", "validate", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = run(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "validate", "x.json")
	assert.Error(t, err)

	_, err = run(t, "", "--log-level", "loud", "validate", "x.json")
	assert.Error(t, err)
}

const identifierProfile = `{
	"resourceType": "StructureDefinition",
	"url": "http://example.org/fhir/StructureDefinition/mrn-patient",
	"name": "MRNPatient",
	"status": "active",
	"kind": "resource",
	"abstract": false,
	"type": "Patient",
	"baseDefinition": "http://hl7.org/fhir/StructureDefinition/Patient",
	"derivation": "constraint",
	"differential": {
		"element": [
			{"id": "Patient", "path": "Patient"},
			{"id": "Patient.identifier", "path": "Patient.identifier", "min": 1}
		]
	}
}`

func TestValidateCmd_CachedPackage(t *testing.T) {
	cache := t.TempDir()
	pkg := filepath.Join(cache, "example.fhir.ig#1.0.0", "package")
	require.NoError(t, os.MkdirAll(pkg, 0o755))
	writeFile(t, pkg, "package.json", `{"name": "example.fhir.ig", "version": "1.0.0", "fhirVersions": ["4.0.1"]}`)
	writeFile(t, pkg, "StructureDefinition-mrn-patient.json", identifierProfile)

	t.Setenv(config.EnvPackageCache, cache)
	t.Setenv(config.EnvPackages, "example.fhir.ig#1.0.0")

	file := writeFile(t, t.TempDir(), "patient.json", strings.Replace(patient, `"resourceType": "Patient",`,
		`"resourceType": "Patient", "meta": {"profile": ["http://example.org/fhir/StructureDefinition/mrn-patient"]},`, 1))

	out, err := run(t, "", "validate", file)
	require.Error(t, err, "the cached package supplies the profile")
	assert.Contains(t, out, "Patient.identifier")
}

func TestValidateCmd_PackageUnavailable(t *testing.T) {
	registry := httptest.NewServer(http.NotFoundHandler())
	defer registry.Close()
	t.Setenv(config.EnvPackageCache, t.TempDir())

	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", "validation:\n  packages: [example.fhir.missing]\n  registry_url: "+registry.URL+"\n")
	file := writeFile(t, dir, "patient.json", patient)

	out, err := run(t, "", "--config", cfg, "validate", file)
	require.NoError(t, err, "validation carries on with the embedded core")
	reports := decodeReports(t, out)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Valid)
}
