package engine

import (
	"context"
	"fmt"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/loader"
	"github.com/PraveenKS30/hl7-fhir-validator/registry"
	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"github.com/PraveenKS30/hl7-fhir-validator/snapshot"
	"github.com/PraveenKS30/hl7-fhir-validator/specs"
	"github.com/PraveenKS30/hl7-fhir-validator/terminology"
	"golang.org/x/sync/errgroup"
)

// SupportConfig selects the definitions BuildSupport loads on top of the
// embedded core.
type SupportConfig struct {
	// Version selects the embedded core definitions; empty means R4
	Version fv.FHIRVersion

	// Packages are unpacked FHIR packages, such as the published core
	// package fetched by registry.Resolve
	Packages []string

	// ProfileDirs hold implementation guide profiles, with or without a
	// snapshot, and the terminology they ship
	ProfileDirs []string

	// TerminologyDirs hold additional CodeSystems and ValueSets
	TerminologyDirs []string

	// CacheSize bounds the lookup cache; zero keeps it unbounded
	CacheSize int

	// Observer receives cache hits and misses, e.g. a *fv.Metrics
	Observer service.Observer
}

// SupportStats counts the loaded definitions.
type SupportStats struct {
	Profiles      int
	Differentials int
	ValueSets     int
	CodeSystems   int
}

// Support is the cached support chain shared by every validation.
type Support struct {
	*service.CachingSupport

	Stats SupportStats
}

// BuildSupport loads the embedded core definitions, the configured packages
// and directories, and assembles the lookup chain:
//
//  1. profiles with a snapshot
//  2. in-memory terminology
//  3. common external code systems
//  4. snapshot generation for differential profiles
//
// The chain is wrapped in a cache, which is also what the snapshot generator
// resolves base definitions through. Sources are read concurrently and
// applied in order (core, packages, profile directories, terminology
// directories), so that a later source overrides a definition by URL.
func BuildSupport(ctx context.Context, cfg SupportConfig) (*Support, error) {
	version := cfg.Version
	if version == "" {
		version = fv.R4
	}
	fsys, err := specs.Core(string(version))
	if err != nil {
		return nil, err
	}

	dirs := make([]string, 0, len(cfg.ProfileDirs)+len(cfg.TerminologyDirs))
	dirs = append(dirs, cfg.ProfileDirs...)
	dirs = append(dirs, cfg.TerminologyDirs...)

	// sources[0] is the core, then one entry per package and per directory
	sources := make([]*loader.Definitions, 1+len(cfg.Packages)+len(dirs))
	offset := 1 + len(cfg.Packages)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defs, err := loader.NewReader().ReadFS(fsys, ".")
		if err != nil {
			return fmt.Errorf("load %s core definitions: %w", version, err)
		}
		sources[0] = defs
		return nil
	})
	for i, dir := range cfg.Packages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			defs, err := registry.Load(dir)
			if err != nil {
				return err
			}
			sources[i+1] = defs
			return nil
		})
	}
	for i, dir := range dirs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			defs, err := loader.NewReader().ReadDirectory(dir)
			if err != nil {
				return fmt.Errorf("load definitions: %w", err)
			}
			sources[offset+i] = defs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := &loader.Definitions{}
	for _, defs := range sources {
		all.Merge(defs)
	}

	profiles := loader.NewProfileSupport()
	generator := snapshot.New()

	for _, sd := range all.StructureDefinitions {
		switch {
		case sd.HasSnapshot():
			if err := profiles.Add(sd); err != nil {
				return nil, err
			}
		case len(sd.Differential) > 0:
			if err := generator.Add(sd); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("structure definition %s has neither a snapshot nor a differential", sd.URL)
		}
	}

	codes := terminology.NewInMemory()
	loaded, err := codes.Load(all)
	if err != nil {
		return nil, err
	}
	stats := SupportStats{
		Profiles:      profiles.Count(),
		Differentials: generator.Count(),
		ValueSets:     loaded.ValueSetsLoaded,
		CodeSystems:   loaded.CodeSystemsLoaded,
	}

	chain := service.NewChain(profiles, codes, terminology.NewCommon(), generator)

	opts := []service.CachingOption{service.WithCacheSize(cfg.CacheSize)}
	if cfg.Observer != nil {
		opts = append(opts, service.WithObserver(cfg.Observer))
	}
	cached := service.NewCachingSupport(chain, opts...)
	generator.Bind(cached)

	return &Support{CachingSupport: cached, Stats: stats}, nil
}
