// Package pipeline runs named publish steps in an order derived from their
// dependsOn and requiredBy anchors.
//
// Steps only run in publish mode. A step runs at most once per Execute call
// and a failing step aborts the rest; steps are expected to be idempotent
// so a failed publish can simply be repeated.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/core/graph"
)

// Built-in anchors.
const (
	AnchorPublishEnv = "publish-env"
	AnchorPublish    = "publish"
)

// StepContext is shared by the steps of one Execute call.
type StepContext struct {
	OutputDir string
	Plan      *domain.Plan
	Logger    *slog.Logger
}

// StepFunc is the body of a step.
type StepFunc func(ctx context.Context, sc *StepContext) error

// Step is a named unit of publish work.
type Step struct {
	Name       string
	DependsOn  []string // steps that must run before this one
	RequiredBy []string // steps that must run after this one
	Run        StepFunc
}

// Pipeline is an ordered set of steps.
type Pipeline struct {
	mu     sync.Mutex
	steps  []Step
	index  map[string]int
	logger *slog.Logger
}

// New creates an empty pipeline.
func New(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		index:  make(map[string]int),
		logger: logger.With("component", "pipeline"),
	}
}

// Add registers a step.
//
// Errors:
//   - domain.ErrInvalidName for an empty name or missing body
//   - domain.ErrDuplicateName if the name is taken
func (p *Pipeline) Add(step Step) error {
	if err := domain.ValidateName(step.Name); err != nil {
		return domain.NewTopologyError("AddStep", step.Name, err.Error(), err)
	}
	if step.Run == nil {
		return domain.NewTopologyError("AddStep", step.Name, "step has no body", domain.ErrInvalidName)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.index[step.Name]; ok {
		return domain.NewTopologyError("AddStep", step.Name, "step already registered", domain.ErrDuplicateName)
	}
	p.index[step.Name] = len(p.steps)
	p.steps = append(p.steps, step)
	return nil
}

// Steps returns step names in registration order.
func (p *Pipeline) Steps() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}
	return names
}

// Validate checks that every anchor names a registered step.
func (p *Pipeline) Validate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validateLocked()
}

func (p *Pipeline) validateLocked() error {
	var errs []error
	for _, s := range p.steps {
		for _, a := range s.DependsOn {
			if _, ok := p.index[a]; !ok {
				errs = append(errs, &domain.StepOrderingError{Step: s.Name, Anchor: a, Relation: "dependsOn"})
			}
		}
		for _, a := range s.RequiredBy {
			if _, ok := p.index[a]; !ok {
				errs = append(errs, &domain.StepOrderingError{Step: s.Name, Anchor: a, Relation: "requiredBy"})
			}
		}
	}
	return errors.Join(errs...)
}

// Order returns the execution order. Ties keep registration order.
func (p *Pipeline) Order() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.validateLocked(); err != nil {
		return nil, err
	}
	g := graph.New()
	for _, s := range p.steps {
		g.AddNode(s.Name)
	}
	for _, s := range p.steps {
		for _, a := range s.DependsOn {
			if err := g.AddWaitFor(s.Name, a); err != nil {
				return nil, err
			}
		}
		for _, a := range s.RequiredBy {
			if err := g.AddWaitFor(a, s.Name); err != nil {
				return nil, err
			}
		}
	}
	return g.StartOrder()
}

// Execute runs every step in order when mode is publish and returns the
// names of the steps that completed. Other modes run nothing.
func (p *Pipeline) Execute(ctx context.Context, mode domain.Mode, sc *StepContext) ([]string, error) {
	if mode != domain.ModePublish {
		p.logger.Debug("pipeline skipped", "mode", mode)
		return nil, nil
	}
	order, err := p.Order()
	if err != nil {
		return nil, err
	}
	if sc == nil {
		sc = &StepContext{}
	}
	if sc.Logger == nil {
		sc.Logger = p.logger
	}

	done := make(map[string]bool, len(order))
	completed := make([]string, 0, len(order))
	for _, name := range order {
		if done[name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		p.mu.Lock()
		step := p.steps[p.index[name]]
		p.mu.Unlock()

		p.logger.Info("running publish step", "step", name)
		if err := step.Run(ctx, sc); err != nil {
			return completed, fmt.Errorf("step %s: %w", name, err)
		}
		done[name] = true
		completed = append(completed, name)
	}
	return completed, nil
}
