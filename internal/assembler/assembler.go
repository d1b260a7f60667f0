// Package assembler builds a topology from the builders enabled by a
// feature selection.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/core/flags"
	"github.com/artpar/apphost/internal/topology"
)

// Scope is handed to every enabled builder.
type Scope struct {
	Topology *topology.Topology
	Groups   *GroupLookup
	Features flags.Features
	Logger   *slog.Logger
}

// BuildFunc declares resources on the scope's topology.
type BuildFunc func(ctx context.Context, s *Scope) error

// Requirements maps a configuration key to its value. Empty values are
// missing.
type Requirements map[string]string

// Builder is one conditional part of the topology.
type Builder struct {
	Name     string
	When     flags.Predicate
	Requires Requirements
	Build    BuildFunc
}

// Options configures an Assembler.
type Options struct {
	// Concurrency bounds parallel builders; 0 or 1 runs them in
	// registration order.
	Concurrency int
	Logger      *slog.Logger
}

// Assembler holds registered builders.
type Assembler struct {
	mu       sync.Mutex
	builders []Builder
	opts     Options
	logger   *slog.Logger
}

// New creates an Assembler.
func New(opts Options) *Assembler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{opts: opts, logger: logger.With("component", "assembler")}
}

// Register adds a builder enabled by pred.
func (a *Assembler) Register(name string, pred flags.Predicate, fn BuildFunc) {
	a.Add(Builder{Name: name, When: pred, Build: fn})
}

// Add adds a fully described builder.
func (a *Assembler) Add(b Builder) {
	if b.When == nil {
		b.When = flags.Always()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.builders = append(a.builders, b)
}

// Enabled returns the names of the builders enabled by features.
func (a *Assembler) Enabled(features flags.Features) []string {
	var names []string
	for _, b := range a.enabled(features) {
		names = append(names, b.Name)
	}
	return names
}

func (a *Assembler) enabled(features flags.Features) []Builder {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Builder
	for _, b := range a.builders {
		if b.When(features) {
			out = append(out, b)
		}
	}
	return out
}

// Assemble runs every builder whose predicate holds for fs.
//
// Required configuration of every enabled builder is checked before any
// builder runs; missing keys fail with domain.ErrInvalidFlagSelection.
// Builder errors and declaration errors recorded on topo are joined.
func (a *Assembler) Assemble(ctx context.Context, fs flags.FlagSet, topo *topology.Topology) error {
	features := fs.Features()
	enabled := a.enabled(features)

	if err := checkRequirements(enabled); err != nil {
		return err
	}

	scope := &Scope{
		Topology: topo,
		Groups:   NewGroupLookup(topo),
		Features: features,
		Logger:   a.logger,
	}

	a.logger.Info("assembling topology", "flags", fs.String(), "builders", len(enabled))

	var buildErr error
	if a.opts.Concurrency > 1 {
		buildErr = a.runConcurrent(ctx, scope, enabled)
	} else {
		buildErr = a.runSequential(ctx, scope, enabled)
	}
	return errors.Join(buildErr, topo.Err())
}

func (a *Assembler) runSequential(ctx context.Context, scope *Scope, builders []Builder) error {
	var errs []error
	for _, b := range builders {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.runOne(ctx, scope, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Assembler) runConcurrent(ctx context.Context, scope *Scope, builders []Builder) error {
	var g errgroup.Group
	g.SetLimit(a.opts.Concurrency)

	errs := make([]error, len(builders))
	for i, b := range builders {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = a.runOne(ctx, scope, b)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (a *Assembler) runOne(ctx context.Context, scope *Scope, b Builder) error {
	a.logger.Debug("running builder", "builder", b.Name)
	if err := b.Build(ctx, scope); err != nil {
		return fmt.Errorf("builder %s: %w", b.Name, err)
	}
	return nil
}

func checkRequirements(builders []Builder) error {
	var errs []error
	for _, b := range builders {
		var missing []string
		for key, value := range b.Requires {
			if strings.TrimSpace(value) == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) == 0 {
			continue
		}
		sort.Strings(missing)
		errs = append(errs, fmt.Errorf("%w: builder %s is missing %s",
			domain.ErrInvalidFlagSelection, b.Name, strings.Join(missing, ", ")))
	}
	return errors.Join(errs...)
}
