// Package engine provides the main FHIR validation engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	fv "github.com/PraveenKS30/hl7-fhir-validator"
	"github.com/PraveenKS30/hl7-fhir-validator/phase"
	"github.com/PraveenKS30/hl7-fhir-validator/pipeline"
	"github.com/PraveenKS30/hl7-fhir-validator/service"
	"github.com/PraveenKS30/hl7-fhir-validator/walker"
	"golang.org/x/sync/errgroup"
)

// Validator is the main FHIR resource validator.
// It walks a resource against its definitions and runs the validation
// phases over the result.
//
// A resource is validated against the core definition of its type and then
// against each profile declared in meta.profile. Issues of all passes are
// merged in that order; an issue reported by several passes appears once.
//
// A Validator is safe for concurrent use.
type Validator struct {
	// Configuration
	version fv.FHIRVersion
	options *fv.Options

	// Services
	support   service.ValidationSupport
	evaluator service.FHIRPathEvaluator
	walker    *walker.Walker

	// Pipeline
	pipe *pipeline.Pipeline
}

// New creates a Validator for version that looks definitions and codes up
// in support, normally the cache returned by BuildSupport.
func New(version fv.FHIRVersion, support service.ValidationSupport, opts ...fv.Option) (*Validator, error) {
	if !version.IsValid() {
		return nil, fmt.Errorf("unsupported FHIR version %q", version)
	}
	if support == nil {
		return nil, errors.New("validation support is required")
	}

	options := fv.DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	v := &Validator{
		version:   version,
		options:   options,
		support:   support,
		evaluator: service.NewFHIRPathAdapter(),
		walker:    walker.New(support),
	}
	v.buildPipeline()
	return v, nil
}

// buildPipeline registers the phases in execution order.
func (v *Validator) buildPipeline() {
	p := pipeline.NewPipeline()

	p.Register(pipeline.PhaseIDStructure, phase.NewStructurePhase(), pipeline.WithPriority(pipeline.PriorityFirst))
	p.Register(pipeline.PhaseIDCardinality, phase.NewCardinalityPhase(), pipeline.WithPriority(pipeline.PriorityEarly))
	p.Register(pipeline.PhaseIDPrimitives, phase.NewPrimitivesPhase(), pipeline.WithPriority(pipeline.PriorityEarly))
	p.Register(pipeline.PhaseIDFixedPattern, phase.NewFixedPatternPhase())
	p.Register(pipeline.PhaseIDReferences, phase.NewReferencesPhase())
	p.Register(pipeline.PhaseIDSlicing, phase.NewSlicingPhase())
	p.Register(pipeline.PhaseIDExtensions, phase.NewExtensionsPhase(), pipeline.WithPriority(pipeline.PriorityLate))

	p.Register(pipeline.PhaseIDTerminology,
		pipeline.When(func(c *pipeline.Context) bool {
			return c.Options.ValidateTerminology
		}, phase.NewTerminologyPhase()),
		pipeline.WithPriority(pipeline.PriorityLate))

	p.Register(pipeline.PhaseIDConstraints,
		pipeline.When(func(c *pipeline.Context) bool {
			return c.Options.ValidateConstraints
		}, phase.NewConstraintsPhase(v.evaluator)),
		pipeline.WithPriority(pipeline.PriorityLast))

	v.pipe = p
}

// SetFHIRPathEvaluator replaces the evaluator used for constraints.
// It must not be called while validations are running.
func (v *Validator) SetFHIRPathEvaluator(eval service.FHIRPathEvaluator) {
	v.evaluator = eval
	v.buildPipeline()
}

// Validate validates a parsed FHIR resource.
//
// Conformance problems are reported as issues. The error is reserved for
// provider faults and context cancellation; no partial result is returned
// with it.
func (v *Validator) Validate(ctx context.Context, res *fv.Resource) (*fv.Result, error) {
	if res == nil {
		return nil, errors.New("resource is nil")
	}
	start := time.Now()

	var (
		issues   []fv.Issue
		profiles []string
	)

	base, err := v.support.FetchStructureDefinition(ctx, service.CoreURL(res.Type))
	switch {
	case err == nil:
		found, err := v.pass(ctx, res, base)
		if err != nil {
			return nil, err
		}
		issues = append(issues, found...)
		profiles = append(profiles, base.URL)
	case service.IsUnresolved(err):
		issues = append(issues, fv.Info(fv.IssueTypeInformational).
			Diagnostics(fmt.Sprintf("No StructureDefinition is available for resource type '%s'; structural validation was skipped", res.Type)).
			At(res.Type).
			Build())
	default:
		return nil, fmt.Errorf("fetch definition of %s: %w", res.Type, err)
	}

	if v.options.ValidateMetaProfiles {
		for i, url := range res.Profiles {
			if v.limitReached(issues) {
				break
			}
			found, sd, err := v.profilePass(ctx, res, url, fmt.Sprintf("%s.meta.profile[%d]", res.Type, i))
			if err != nil {
				return nil, err
			}
			issues = append(issues, found...)
			if sd != nil {
				profiles = append(profiles, sd.URL)
			}
		}
	}

	result := v.finish(res.Type, profiles, issues)

	v.options.Metrics.RecordValidation(res.Type, time.Since(start), result.Valid)
	v.options.Metrics.RecordIssues(result.Issues)
	return result, nil
}

// profilePass validates res against a declared profile. A profile no
// provider knows yields a warning at path instead of a pass.
func (v *Validator) profilePass(ctx context.Context, res *fv.Resource, url, path string) ([]fv.Issue, *service.StructureDefinition, error) {
	sd, err := v.support.FetchStructureDefinition(ctx, url)
	if err != nil {
		if service.IsUnresolved(err) {
			return []fv.Issue{fv.Warning(fv.IssueTypeNotFound).
				Diagnostics(fmt.Sprintf("Profile '%s' could not be resolved; the resource was not validated against it", url)).
				At(path).
				Build()}, nil, nil
		}
		return nil, nil, fmt.Errorf("fetch profile %s: %w", url, err)
	}

	if sd.Type != res.Type {
		return []fv.Issue{fv.Error(fv.IssueTypeInvalid).
			Diagnostics(fmt.Sprintf("Profile '%s' constrains %s and cannot be applied to a %s", url, sd.Type, res.Type)).
			At(path).
			Build()}, nil, nil
	}

	found, err := v.pass(ctx, res, sd)
	if err != nil {
		return nil, nil, err
	}
	return found, sd, nil
}

// pass walks res against sd and runs the pipeline over it.
func (v *Validator) pass(ctx context.Context, res *fv.Resource, sd *service.StructureDefinition) ([]fv.Issue, error) {
	root, err := v.walker.Walk(ctx, res.Data, sd)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", sd.URL, err)
	}

	pctx := pipeline.NewContext(res, sd, root, v.support, v.options)
	if err := v.pipe.Execute(ctx, pctx); err != nil {
		return nil, fmt.Errorf("validate against %s: %w", sd.URL, err)
	}
	return pctx.Issues(), nil
}

func (v *Validator) limitReached(issues []fv.Issue) bool {
	if v.options.MaxErrors <= 0 {
		return false
	}
	n := 0
	for _, issue := range issues {
		if issue.IsError() {
			n++
		}
	}
	return n >= v.options.MaxErrors
}

// finish applies strict mode and the error limit to the merged issues of all
// passes and builds the result.
func (v *Validator) finish(resourceType string, profiles []string, issues []fv.Issue) *fv.Result {
	if v.options.StrictMode {
		for i := range issues {
			if issues[i].Severity == fv.SeverityWarning {
				issues[i].Severity = fv.SeverityError
			}
		}
	}

	// Duplicates must not count towards the limit.
	result := fv.NewResult(resourceType, profiles, issues)
	if v.options.MaxErrors <= 0 || result.ErrorCount() <= v.options.MaxErrors {
		return result
	}

	kept := make([]fv.Issue, 0, len(result.Issues)+1)
	errs := 0
	for _, issue := range result.Issues {
		if issue.IsError() {
			if errs == v.options.MaxErrors {
				break
			}
			errs++
		}
		kept = append(kept, issue)
	}
	kept = append(kept, fv.Info(fv.IssueTypeTooCostly).
		Diagnostics(fmt.Sprintf("Validation stopped after %d errors", v.options.MaxErrors)).
		Build())
	return fv.NewResult(resourceType, profiles, kept)
}

// ValidateBatch validates resources concurrently, at most workers at a
// time. Results are returned in input order. The first error cancels the
// remaining validations.
func (v *Validator) ValidateBatch(ctx context.Context, resources []*fv.Resource, workers int) ([]*fv.Result, error) {
	if workers <= 0 {
		workers = 4
	}
	results := make([]*fv.Result, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, res := range resources {
		g.Go(func() error {
			result, err := v.Validate(gctx, res)
			if err != nil {
				return fmt.Errorf("resource %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Phases returns the ids of the registered phases in execution order.
func (v *Validator) Phases() []pipeline.PhaseID {
	return v.pipe.Phases()
}

// Version returns the FHIR version this validator is configured for.
func (v *Validator) Version() fv.FHIRVersion {
	return v.version
}

// Options returns the validator's options.
func (v *Validator) Options() *fv.Options {
	return v.options
}

var _ fv.Engine = (*Validator)(nil)
