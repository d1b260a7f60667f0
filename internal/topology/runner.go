package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/apphost/internal/core/domain"
)

// Starter launches a runnable resource. Implementations belong to the
// container runtime; the topology never starts anything itself.
type Starter interface {
	Start(ctx context.Context, res domain.ResourcePlan) error
}

// Prober blocks until url answers healthy or ctx ends.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// KindStarters dispatches on the resource kind. Kinds without an entry
// fall back to LogStarter.
type KindStarters map[domain.Kind]Starter

// Start implements Starter.
func (k KindStarters) Start(ctx context.Context, res domain.ResourcePlan) error {
	if s, ok := k[res.Kind]; ok && s != nil {
		return s.Start(ctx, res)
	}
	return LogStarter{}.Start(ctx, res)
}

// LogStarter only logs the start request.
type LogStarter struct {
	Logger *slog.Logger
}

// Start implements Starter.
func (s LogStarter) Start(_ context.Context, res domain.ResourcePlan) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("start requested", "resource", res.Name, "kind", res.Kind, "image", res.Image)
	return nil
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Starter Starter // defaults to LogStarter
	Prober  Prober  // nil skips health checks
	Logger  *slog.Logger
}

// Runner executes a plan against its topology.
type Runner struct {
	topo    *Topology
	starter Starter
	prober  Prober
	logger  *slog.Logger
}

// NewRunner creates a runner for topo.
func NewRunner(topo *Topology, opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	starter := opts.Starter
	if starter == nil {
		starter = LogStarter{Logger: logger}
	}
	return &Runner{
		topo:    topo,
		starter: starter,
		prober:  opts.Prober,
		logger:  logger.With("component", "runner"),
	}
}

// Run signals every group ready, then starts each resource of plan as soon
// as its wait-for dependencies are Ready. A failed dependency fails its
// dependents; cancellation stops resources that have not started yet.
// Run returns once every resource settled and group propagation finished.
func (r *Runner) Run(ctx context.Context, plan *domain.Plan) error {
	for _, g := range r.topo.Groups() {
		r.topo.propagator.Watch(g.Name())
		r.topo.bus.Publish(Event{Type: EventReady, Resource: g.Name(), State: domain.StateReady})
	}

	var g errgroup.Group
	errs := make([]error, len(plan.Order))
	for i, name := range plan.Order {
		res, ok := r.topo.registry.Find(name)
		if !ok {
			errs[i] = domain.NewTopologyError("Run", name, "not registered", domain.ErrNotFound)
			continue
		}
		if res.Kind() == domain.KindGroup {
			continue
		}
		spec, _ := plan.Resource(name)
		g.Go(func() error {
			errs[i] = r.runOne(ctx, res, spec)
			return nil
		})
	}
	_ = g.Wait()

	for _, grp := range r.topo.Groups() {
		select {
		case <-r.topo.propagator.Done(grp.Name()):
		case <-ctx.Done():
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) runOne(ctx context.Context, res *Resource, spec domain.ResourcePlan) error {
	name := res.Name()

	for _, depName := range res.WaitFor() {
		dep, ok := r.topo.registry.Find(depName)
		if !ok {
			return r.fail(res, domain.NewTopologyError("Run", name,
				fmt.Sprintf("waits for unregistered resource %s", depName), domain.ErrNotFound))
		}
		state, err := dep.WaitState(ctx, func(s domain.State) bool {
			return s == domain.StateReady || s.IsTerminal()
		})
		if err != nil {
			return r.stop(res, err)
		}
		if state != domain.StateReady {
			if ctx.Err() != nil {
				return r.stop(res, ctx.Err())
			}
			return r.fail(res, domain.NewTopologyError("Run", name,
				fmt.Sprintf("dependency %s ended %s", depName, state), domain.ErrDependencyFailed))
		}
	}
	if ctx.Err() != nil {
		return r.stop(res, ctx.Err())
	}

	if !res.Kind().Runnable() {
		return res.Transition(domain.StateReady, nil)
	}

	if err := res.Transition(domain.StateStarting, nil); err != nil {
		return err
	}
	r.logger.Debug("starting resource", "resource", name)
	if err := r.starter.Start(ctx, spec); err != nil {
		if ctx.Err() != nil {
			return r.stop(res, ctx.Err())
		}
		return r.fail(res, domain.NewTopologyError("Run", name, "start failed: "+err.Error(), err))
	}
	if err := res.Transition(domain.StateRunning, nil); err != nil {
		return err
	}

	if err := r.probe(ctx, res); err != nil {
		if ctx.Err() != nil {
			return r.stop(res, ctx.Err())
		}
		return r.fail(res, domain.NewTopologyError("Run", name, "health check failed: "+err.Error(), err))
	}
	if err := res.Transition(domain.StateReady, nil); err != nil {
		return err
	}
	r.logger.Info("resource ready", "resource", name)
	return nil
}

// probe runs the health check of res, if it has one and a prober is set.
func (r *Runner) probe(ctx context.Context, res *Resource) error {
	hc := res.HealthCheck()
	if hc == nil || r.prober == nil {
		return nil
	}
	ref := &EndpointRef{alloc: r.topo.alloc, resource: res.Name(), name: hc.Endpoint}
	ep, err := ref.Endpoint()
	if err != nil {
		return err
	}
	base, err := ep.URL()
	if err != nil {
		return err
	}
	return r.prober.Probe(ctx, strings.TrimSuffix(base, "/")+hc.Path)
}

func (r *Runner) fail(res *Resource, err error) error {
	if tErr := res.Transition(domain.StateFailed, err); tErr != nil {
		return errors.Join(err, tErr)
	}
	r.logger.Error("resource failed", "resource", res.Name(), "error", err)
	return err
}

func (r *Runner) stop(res *Resource, cause error) error {
	if tErr := res.Transition(domain.StateStopped, cause); tErr != nil {
		return errors.Join(cause, tErr)
	}
	r.logger.Info("resource stopped", "resource", res.Name(), "reason", cause)
	return domain.NewTopologyError("Run", res.Name(), "stopped: "+cause.Error(), cause)
}
