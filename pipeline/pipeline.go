package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Pipeline orchestrates the execution of validation phases.
//
// Phases run one after the other in priority order so that issue order is
// stable between calls. Execution stops early when the context is cancelled,
// when a phase fails or when the maximum number of errors is reached.
type Pipeline struct {
	mu     sync.RWMutex
	phases []*PhaseConfig
}

// PhaseConfig holds the registration of a phase in the pipeline.
type PhaseConfig struct {
	ID       PhaseID
	Phase    Phase
	Priority PhasePriority
	Enabled  bool
}

// PhaseOption configures a phase registration.
type PhaseOption func(*PhaseConfig)

// WithPriority sets the phase priority.
func WithPriority(priority PhasePriority) PhaseOption {
	return func(c *PhaseConfig) {
		c.Priority = priority
	}
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Register adds a phase to the pipeline. Registering an id again replaces
// the earlier phase.
func (p *Pipeline) Register(id PhaseID, phase Phase, opts ...PhaseOption) {
	cfg := &PhaseConfig{
		ID:       id,
		Phase:    phase,
		Priority: PriorityNormal,
		Enabled:  true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.phases = slices.DeleteFunc(p.phases, func(c *PhaseConfig) bool { return c.ID == id })
	p.phases = append(p.phases, cfg)
	slices.SortStableFunc(p.phases, func(a, b *PhaseConfig) int {
		return int(a.Priority) - int(b.Priority)
	})
}

// Enable enables a phase by ID.
func (p *Pipeline) Enable(id PhaseID) {
	p.setEnabled(id, true)
}

// Disable disables a phase by ID.
func (p *Pipeline) Disable(id PhaseID) {
	p.setEnabled(id, false)
}

func (p *Pipeline) setEnabled(id PhaseID, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cfg := range p.phases {
		if cfg.ID == id {
			cfg.Enabled = enabled
		}
	}
}

// Execute runs the enabled phases against pctx and accumulates their issues
// in it. The returned error comes from the context or from a failing phase.
func (p *Pipeline) Execute(ctx context.Context, pctx *Context) error {
	p.mu.RLock()
	phases := make([]*PhaseConfig, 0, len(p.phases))
	for _, cfg := range p.phases {
		if cfg.Enabled {
			phases = append(phases, cfg)
		}
	}
	p.mu.RUnlock()

	for _, cfg := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if pctx.ShouldStop() {
			return nil
		}

		issues, err := cfg.Phase.Validate(ctx, pctx)
		if err != nil {
			return fmt.Errorf("%s phase: %w", cfg.Phase.Name(), err)
		}
		pctx.AddIssues(issues...)
	}
	return nil
}

// Phases returns the ids of the enabled phases in execution order.
func (p *Pipeline) Phases() []PhaseID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var ids []PhaseID
	for _, cfg := range p.phases {
		if cfg.Enabled {
			ids = append(ids, cfg.ID)
		}
	}
	return ids
}

// PhaseCount returns the number of enabled phases.
func (p *Pipeline) PhaseCount() int {
	return len(p.Phases())
}
