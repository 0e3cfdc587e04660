// Package config loads the service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. Command-line flags are applied last by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/engine"
	"github.com/PraveenKS30/hl7-fhir-validator/pkg/logger"
	"github.com/PraveenKS30/hl7-fhir-validator/registry"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvPort            = "PORT"
	EnvLogLevel        = "LOG_LEVEL"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT_SECONDS"
	EnvCacheSize       = "FHIR_VALIDATOR_CACHE_SIZE"
	EnvProfiles        = "FHIR_VALIDATOR_PROFILES"
	EnvTerminology     = "FHIR_VALIDATOR_TERMINOLOGY"
	EnvPackages        = "FHIR_VALIDATOR_PACKAGES"
	EnvPackageCache    = "FHIR_VALIDATOR_PACKAGE_CACHE"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Validation ValidationConfig `yaml:"validation"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`

	// Requests per second and burst size; a zero rate disables limiting
	RateLimit      float64 `yaml:"rate_limit"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	// MaxBodyBytes bounds the request body of POST /fhir/validate
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ValidationConfig selects the definitions and the checks.
type ValidationConfig struct {
	FHIRVersion     string   `yaml:"fhir_version"`
	ProfileDirs     []string `yaml:"profile_dirs"`
	TerminologyDirs []string `yaml:"terminology_dirs"`

	// CacheSize bounds the lookup cache; zero keeps it unbounded
	CacheSize int `yaml:"cache_size"`

	// Packages are FHIR packages ("name#version") fetched from the registry
	// and loaded over the embedded core. CorePackage adds the published
	// core package of FHIRVersion.
	Packages     []string `yaml:"packages"`
	CorePackage  bool     `yaml:"core_package"`
	PackageCache string   `yaml:"package_cache"`
	RegistryURL  string   `yaml:"registry_url"`

	Terminology     bool `yaml:"terminology"`
	Constraints     bool `yaml:"constraints"`
	UnknownElements bool `yaml:"unknown_elements"`
	MetaProfiles    bool `yaml:"meta_profiles"`
	StrictMode      bool `yaml:"strict_mode"`
	MaxErrors       int  `yaml:"max_errors"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			RateLimit:       100,
			RateLimitBurst:  200,
			MaxBodyBytes:    10 << 20,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Validation: ValidationConfig{
			FHIRVersion:     string(fv.R4),
			Terminology:     true,
			Constraints:     true,
			UnknownElements: true,
			MetaProfiles:    true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(logger.FormatJSON),
		},
	}
}

// Load builds the configuration from the defaults, the YAML file at path
// (skipped when path is empty) and the environment, and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	// Relative directories are relative to the config file.
	base := filepath.Dir(path)
	c.Validation.ProfileDirs = resolveDirs(base, c.Validation.ProfileDirs)
	c.Validation.TerminologyDirs = resolveDirs(base, c.Validation.TerminologyDirs)
	if d := c.Validation.PackageCache; d != "" && !filepath.IsAbs(d) {
		c.Validation.PackageCache = filepath.Join(base, d)
	}
	return nil
}

func resolveDirs(base string, dirs []string) []string {
	if len(dirs) == 0 {
		return nil
	}
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if !filepath.IsAbs(d) {
			d = filepath.Join(base, d)
		}
		out = append(out, d)
	}
	return out
}

// ApplyEnv overrides values from the environment. lookup is os.LookupEnv
// outside of tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}

	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}

	if v, ok := lookup(EnvShutdownTimeout); ok && v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvShutdownTimeout, err)
		}
		c.Server.ShutdownTimeout = time.Duration(seconds) * time.Second
	}

	if v, ok := lookup(EnvCacheSize); ok && v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCacheSize, err)
		}
		c.Validation.CacheSize = size
	}

	if v, ok := lookup(EnvProfiles); ok && v != "" {
		c.Validation.ProfileDirs = filepath.SplitList(v)
	}
	if v, ok := lookup(EnvTerminology); ok && v != "" {
		c.Validation.TerminologyDirs = filepath.SplitList(v)
	}
	if v, ok := lookup(EnvPackages); ok && v != "" {
		c.Validation.Packages = strings.Split(v, ",")
	}
	if v, ok := lookup(EnvPackageCache); ok && v != "" {
		c.Validation.PackageCache = v
	}
	return nil
}

// Validate reports the first invalid value.
func (c *Config) Validate() error {
	s := c.Server
	switch {
	case s.Port < 1 || s.Port > 65535:
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalid, s.Port)
	case s.RateLimit < 0:
		return fmt.Errorf("%w: negative rate limit %v", ErrInvalid, s.RateLimit)
	case s.RateLimit > 0 && s.RateLimitBurst < 1:
		return fmt.Errorf("%w: rate limit burst must be positive", ErrInvalid)
	case s.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: max body bytes must be positive", ErrInvalid)
	case s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.IdleTimeout < 0 || s.ShutdownTimeout < 0:
		return fmt.Errorf("%w: negative timeout", ErrInvalid)
	}

	v := c.Validation
	if _, err := fv.ParseFHIRVersion(v.FHIRVersion); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if v.CacheSize < 0 {
		return fmt.Errorf("%w: negative cache size %d", ErrInvalid, v.CacheSize)
	}
	if v.MaxErrors < 0 {
		return fmt.Errorf("%w: negative max errors %d", ErrInvalid, v.MaxErrors)
	}
	for _, p := range v.Packages {
		if _, err := registry.ParsePackageRef(p); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := logger.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// Version returns the configured FHIR version. It assumes Validate passed.
func (c *Config) Version() fv.FHIRVersion {
	v, _ := fv.ParseFHIRVersion(c.Validation.FHIRVersion)
	return v
}

// SupportConfig returns the definition sources for engine.BuildSupport.
func (c *Config) SupportConfig() engine.SupportConfig {
	return engine.SupportConfig{
		Version:         c.Version(),
		ProfileDirs:     c.Validation.ProfileDirs,
		TerminologyDirs: c.Validation.TerminologyDirs,
		CacheSize:       c.Validation.CacheSize,
	}
}

// PackageRefs returns the packages to fetch, the core package first. It
// assumes Validate passed.
func (c *Config) PackageRefs() []registry.PackageRef {
	var refs []registry.PackageRef
	if c.Validation.CorePackage {
		if ref, err := registry.CorePackage(c.Version()); err == nil {
			refs = append(refs, ref)
		}
	}
	for _, p := range c.Validation.Packages {
		if ref, err := registry.ParsePackageRef(p); err == nil {
			refs = append(refs, ref)
		}
	}
	return refs
}

// RegistryClient returns a package registry client for the configured
// registry and cache.
func (c *Config) RegistryClient() *registry.Client {
	return registry.NewClient(
		registry.WithRegistryURL(c.Validation.RegistryURL),
		registry.WithCacheDir(c.Validation.PackageCache),
	)
}

// EngineOptions returns the validator options.
func (c *Config) EngineOptions() []fv.Option {
	v := c.Validation
	return []fv.Option{
		fv.WithTerminology(v.Terminology),
		fv.WithConstraints(v.Constraints),
		fv.WithUnknownElements(v.UnknownElements),
		fv.WithMetaProfiles(v.MetaProfiles),
		fv.WithStrictMode(v.StrictMode),
		fv.WithMaxErrors(v.MaxErrors),
	}
}
