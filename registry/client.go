// Package registry fetches FHIR NPM packages from a package registry.
//
// The FHIR Package Registry (https://packages.fhir.org) hosts the published
// core definitions and implementation guides. Packages are downloaded once
// into a local cache laid out like the one used by the HL7 tooling
// (<cache>/<name>#<version>/package/...) and read from there afterwards.
package registry

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultRegistryURL is the primary FHIR package registry.
	DefaultRegistryURL = "https://packages.fhir.org"

	// DefaultTimeout bounds each registry request.
	DefaultTimeout = 60 * time.Second

	// DefaultCacheDir is the cache location below the home directory.
	DefaultCacheDir = ".fhir/packages"

	// VersionLatest selects the version tagged latest.
	VersionLatest = "latest"

	// maxFileSize caps each extracted file.
	maxFileSize = 100 << 20
)

// ErrNotFound is returned when the registry has no such package or version.
var ErrNotFound = errors.New("package not found")

// Client is a FHIR package registry client.
type Client struct {
	httpClient  *http.Client
	registryURL string
	cacheDir    string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRegistryURL sets the registry base URL.
func WithRegistryURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.registryURL = strings.TrimRight(url, "/")
		}
	}
}

// WithCacheDir sets the package cache directory.
func WithCacheDir(dir string) ClientOption {
	return func(c *Client) {
		if dir != "" {
			c.cacheDir = dir
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the timeout of the HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a registry client. Without WithCacheDir packages are
// cached in ~/.fhir/packages.
func NewClient(opts ...ClientOption) *Client {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		registryURL: DefaultRegistryURL,
		cacheDir:    filepath.Join(home, DefaultCacheDir),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CacheDir returns the cache directory.
func (c *Client) CacheDir() string {
	return c.cacheDir
}

// PackageInfo describes one version of a package in the registry.
type PackageInfo struct {
	Name        string
	Version     string
	Description string
	FHIRVersion string
	Tarball     string
}

// registryDocument is the registry's package document, an NPM packument.
type registryDocument struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	DistTags    map[string]string `json:"dist-tags"`
	Versions    map[string]struct {
		Version     string `json:"version"`
		FHIRVersion string `json:"fhirVersion"`
		URL         string `json:"url"`
		Dist        struct {
			Tarball string `json:"tarball"`
		} `json:"dist"`
	} `json:"versions"`
}

// Info resolves a package version, "latest" included, against the registry.
func (c *Client) Info(ctx context.Context, ref PackageRef) (*PackageInfo, error) {
	url := fmt.Sprintf("%s/%s", c.registryURL, ref.Name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch package info: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.Name)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("package info %s: status %d", ref.Name, resp.StatusCode)
	}

	var doc registryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode package info: %w", err)
	}

	version := ref.Version
	if version == "" || version == VersionLatest {
		latest, ok := doc.DistTags[VersionLatest]
		if !ok {
			return nil, fmt.Errorf("%w: no latest version of %s", ErrNotFound, ref.Name)
		}
		version = latest
	}

	v, ok := doc.Versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, PackageRef{Name: ref.Name, Version: version})
	}

	info := &PackageInfo{
		Name:        doc.Name,
		Version:     version,
		Description: doc.Description,
		FHIRVersion: v.FHIRVersion,
		Tarball:     v.Dist.Tarball,
	}
	if info.Name == "" {
		info.Name = ref.Name
	}
	if info.Tarball == "" {
		info.Tarball = v.URL
	}
	if info.Tarball == "" {
		return nil, fmt.Errorf("no download URL for %s", PackageRef{Name: ref.Name, Version: version})
	}
	return info, nil
}

// Fetch returns the cache directory of a package, downloading and
// extracting it first when it is not cached. A cached exact version is used
// without contacting the registry.
func (c *Client) Fetch(ctx context.Context, ref PackageRef) (string, error) {
	if ref.Version != "" && ref.Version != VersionLatest {
		if dir, ok := c.Cached(ref); ok {
			return dir, nil
		}
	}

	info, err := c.Info(ctx, ref)
	if err != nil {
		return "", err
	}
	resolved := PackageRef{Name: ref.Name, Version: info.Version}
	if dir, ok := c.Cached(resolved); ok {
		return dir, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.Tarball, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", resolved, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s: status %d", resolved, resp.StatusCode)
	}

	dir := c.packagePath(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := extractTarGz(resp.Body, dir); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("failed to extract %s: %w", resolved, err)
	}
	if _, ok := c.Cached(resolved); !ok {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("%s has no package.json", resolved)
	}
	return dir, nil
}

// Cached reports the cache directory of an exact package version, if a
// complete copy is cached.
func (c *Client) Cached(ref PackageRef) (string, bool) {
	dir := c.packagePath(ref)
	for _, manifest := range []string{
		filepath.Join(dir, "package", "package.json"),
		filepath.Join(dir, "package.json"),
	} {
		if _, err := os.Stat(manifest); err == nil {
			return dir, true
		}
	}
	return "", false
}

func (c *Client) packagePath(ref PackageRef) string {
	name := strings.ReplaceAll(ref.Name, "/", "-")
	return filepath.Join(c.cacheDir, name+"#"+ref.Version)
}

// extractTarGz extracts a gzipped tarball below destDir.
func extractTarGz(r io.Reader, destDir string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}

		target := filepath.Join(destDir, header.Name) //nolint:gosec // checked against root below
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("invalid tar path: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create parent directory: %w", err)
			}
			if err := writeFile(target, tr); err != nil {
				return err
			}
		}
	}
}

func writeFile(target string, r io.Reader) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, io.LimitReader(r, maxFileSize)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return f.Close()
}
