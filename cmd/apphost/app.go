package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/artpar/apphost/internal/assembler"
	"github.com/artpar/apphost/internal/core/compose"
	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/core/flags"
	"github.com/artpar/apphost/internal/shell/docker"
	"github.com/artpar/apphost/internal/stacks"
	"github.com/artpar/apphost/internal/topology"
)

// App holds what every command shares: configuration, secrets and the
// optional Docker connection.
type App struct {
	cfg     *Config
	logger  *slog.Logger
	secrets stacks.Config
	docker  *docker.Client // nil when disabled or unreachable
}

// NewApp loads secrets and connects to Docker when enabled. An unreachable
// daemon is logged and tolerated.
func NewApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	secrets, err := LoadSecrets(cfg.SecretsFile)
	if err != nil {
		return nil, &ServerError{Op: "LoadSecrets", Err: err, ExitCode: ExitConfigError}
	}

	app := &App{cfg: cfg, logger: logger, secrets: secrets}

	if cfg.Docker.Enabled {
		cli, err := docker.NewClient(ctx, cfg.Docker.Host, cfg.Project, logger)
		if err != nil {
			logger.Warn("docker unavailable, host ports will not be probed", "error", err)
			return app, nil
		}
		app.docker = reachableDocker(ctx, cli, logger)
	}

	return app, nil
}

// reachableDocker returns cli if the daemon answers a ping. Otherwise cli
// is closed and nil is returned.
func reachableDocker(ctx context.Context, cli *docker.Client, logger *slog.Logger) *docker.Client {
	if err := cli.Ping(ctx); err != nil {
		logger.Warn("docker unavailable, host ports will not be probed", "error", err)
		if closeErr := cli.Close(); closeErr != nil {
			logger.Error("Docker client close error", "error", closeErr)
		}
		return nil
	}
	return cli
}

// Close releases the Docker connection.
func (a *App) Close() {
	if a.docker != nil {
		if err := a.docker.Close(); err != nil {
			a.logger.Error("Docker client close error", "error", err)
		}
	}
}

// Build assembles the topology selected by the run mode and seals it into
// a plan of the given mode. The caller owns the returned topology.
func (a *App) Build(ctx context.Context, mode domain.Mode) (*topology.Topology, *domain.Plan, error) {
	fs := flags.ParseOrDefault(a.cfg.RunMode)

	opts := topology.Options{
		Project:   a.cfg.Project,
		PortRange: a.cfg.Endpoints.Ports,
		Host:      a.cfg.Endpoints.Host,
		Logger:    a.logger,
	}
	if a.docker != nil {
		opts.UsedPorts = a.docker
	}
	topo := topology.New(opts)

	asm := assembler.New(assembler.Options{Concurrency: a.cfg.Concurrency, Logger: a.logger})
	if a.cfg.ComposeFile != "" {
		doc, err := loadCompose(ctx, a.cfg.ComposeFile, a.cfg.Project)
		if err != nil {
			topo.Close()
			return nil, nil, err
		}
		asm.Register("compose", flags.Always(), stacks.FromCompose(doc))
	} else {
		stacks.Register(asm, a.secrets)
	}

	a.logger.Info("assembling topology", "run_mode", fs.String(), "builders", asm.Enabled(fs.Features()))
	if err := asm.Assemble(ctx, fs, topo); err != nil {
		topo.Close()
		return nil, nil, err
	}

	plan, err := topo.Plan(ctx)
	if err != nil {
		topo.Close()
		return nil, nil, err
	}
	plan.Mode = mode
	plan.Flags = fs.String()
	return topo, plan, nil
}

// Starter returns the starter used by run and serve. Containers go to
// Docker; everything else, or everything when dryRun is set, is logged.
func (a *App) Starter(dryRun bool) topology.Starter {
	if dryRun || a.docker == nil {
		return topology.LogStarter{Logger: a.logger}
	}
	return topology.KindStarters{domain.KindContainer: a.docker}
}

func loadCompose(ctx context.Context, path, project string) (*compose.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ServerError{Op: "LoadCompose", Err: err, ExitCode: ExitConfigError}
	}
	doc, err := compose.Parse(ctx, project, string(data))
	if err != nil {
		return nil, &ServerError{Op: "LoadCompose", Err: fmt.Errorf("%s: %w", path, err), ExitCode: ExitConfigError}
	}
	return doc, nil
}
