package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/core/envfile"
	"github.com/artpar/apphost/internal/core/flags"
	"github.com/artpar/apphost/internal/pipeline"
	"github.com/artpar/apphost/internal/shell/workers"
	"github.com/artpar/apphost/internal/topology"
)

// =============================================================================
// Root
// =============================================================================

// RootCommand holds the flags shared by every subcommand.
type RootCommand struct {
	ConfigPath  string
	RunMode     string
	ComposeFile string
	SecretsFile string

	cfg *Config
	app *App
}

func NewRootCommand() *cobra.Command {
	root := &RootCommand{}

	cmd := &cobra.Command{
		Use:               "apphost",
		Short:             "Assemble, plan and run an application topology",
		Version:           fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: root.load,
		PersistentPostRun: root.close,
	}

	cmd.PersistentFlags().StringVarP(&root.ConfigPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&root.RunMode, "run-mode", "", "feature selection, e.g. platform:be+fe,portal:be (overrides run_mode)")
	cmd.PersistentFlags().StringVar(&root.ComposeFile, "compose", "", "declare resources from a compose file instead of the built-in stacks")
	cmd.PersistentFlags().StringVar(&root.SecretsFile, "secrets", "", "dotenv file with stack credentials (overrides secrets_file)")

	cmd.AddCommand(
		NewPlanCommand(root),
		NewRunCommand(root),
		NewPublishCommand(root),
		NewServeCommand(root),
	)
	return cmd
}

func (r *RootCommand) load(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(r.ConfigPath)
	if err != nil {
		return &ServerError{Op: "LoadConfig", Err: err, ExitCode: ExitConfigError}
	}
	if r.RunMode != "" {
		cfg.RunMode = r.RunMode
	}
	if r.ComposeFile != "" {
		cfg.ComposeFile = r.ComposeFile
	}
	if r.SecretsFile != "" {
		cfg.SecretsFile = r.SecretsFile
	}
	r.cfg = cfg

	logger := SetupLogger(cfg)
	logger.Debug("configuration loaded", "version", Version, "config", r.ConfigPath, "run_mode", cfg.RunMode)

	app, err := NewApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	r.app = app
	return nil
}

func (r *RootCommand) close(cmd *cobra.Command, args []string) {
	if r.app != nil {
		r.app.Close()
	}
}

// signalContext ends on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// =============================================================================
// plan
// =============================================================================

// PlanCommand prints the resolved plan as YAML.
type PlanCommand struct {
	root   *RootCommand
	Output string
}

func NewPlanCommand(root *RootCommand) *cobra.Command {
	planCmd := &PlanCommand{root: root}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Resolve the topology and print the plan as YAML",
		Args:  cobra.NoArgs,
		RunE:  planCmd.plan,
	}
	cmd.Flags().StringVarP(&planCmd.Output, "output", "o", "", "write the plan to this file instead of stdout")
	return cmd
}

func (p *PlanCommand) plan(cmd *cobra.Command, args []string) error {
	topo, plan, err := p.root.app.Build(cmd.Context(), domain.ModeRun)
	if err != nil {
		return err
	}
	defer topo.Close()

	out := cmd.OutOrStdout()
	if p.Output != "" {
		f, err := os.Create(p.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(plan); err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	return enc.Close()
}

// =============================================================================
// run
// =============================================================================

// RunCommand starts every resource in dependency order.
type RunCommand struct {
	root    *RootCommand
	DryRun  bool
	Timeout time.Duration
}

func NewRunCommand(root *RootCommand) *cobra.Command {
	runCmd := &RunCommand{root: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the topology in dependency order",
		Args:  cobra.NoArgs,
		RunE:  runCmd.run,
	}
	cmd.Flags().BoolVar(&runCmd.DryRun, "dry-run", false, "log start requests instead of starting containers")
	cmd.Flags().DurationVar(&runCmd.Timeout, "timeout", 0, "give up after this long (0 waits until interrupted)")
	return cmd
}

func (c *RunCommand) run(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	app := c.root.app
	topo, plan, err := app.Build(ctx, domain.ModeRun)
	if err != nil {
		return err
	}
	defer topo.Close()

	runner := topology.NewRunner(topo, topology.RunnerOptions{
		Starter: app.Starter(c.DryRun),
		Prober:  newProber(app),
		Logger:  app.logger,
	})
	runErr := runner.Run(ctx, plan)

	printStates(cmd, topo)
	if runErr != nil {
		return &ServerError{Op: "Run", Err: runErr, ExitCode: ExitTopologyError}
	}
	return nil
}

func newProber(app *App) *workers.HTTPProber {
	return workers.NewHTTPProber(nil, workers.ProberConfig{
		Interval:       app.cfg.Health.ProbeInterval,
		RequestTimeout: app.cfg.Health.ProbeTimeout,
	}, app.logger)
}

func printStates(cmd *cobra.Command, topo *topology.Topology) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tKIND\tSTATE\tPARENT")
	for _, res := range topo.Snapshot() {
		parent, _ := res.Properties.Get(domain.ParentNameProperty)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", res.Name, res.Kind, res.State, parent)
	}
	w.Flush()
}

// =============================================================================
// publish
// =============================================================================

// PublishCommand runs the publish pipeline into an output directory.
type PublishCommand struct {
	root        *RootCommand
	OutputDir   string
	Environment string
	Set         []string
	Images      []string
}

func NewPublishCommand(root *RootCommand) *cobra.Command {
	publishCmd := &PublishCommand{root: root}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Write the .env artifact and store the plan",
		Args:  cobra.NoArgs,
		RunE:  publishCmd.publish,
	}
	cmd.Flags().StringVarP(&publishCmd.OutputDir, "output", "o", "", "output directory for the .env artifact")
	cmd.Flags().StringVarP(&publishCmd.Environment, "environment", "e", "", "target environment: dev, staging or prod (overrides target_env)")
	cmd.Flags().StringArrayVar(&publishCmd.Set, "set", nil, "extra KEY=VALUE entry for the .env artifact (repeatable)")
	cmd.Flags().StringSliceVar(&publishCmd.Images, "images", []string{"apiservice", "webfrontend"}, "images tagged with the target environment")
	cmd.MarkFlagRequired("output")
	return cmd
}

func (p *PublishCommand) publish(cmd *cobra.Command, args []string) error {
	app := p.root.app

	envName := p.Environment
	if envName == "" {
		envName = app.cfg.TargetEnv
	}
	env, err := flags.ParseEnvironment(envName)
	if err != nil {
		return err
	}
	entries, err := parseEntries(p.Set)
	if err != nil {
		return &ServerError{Op: "Publish", Err: err, ExitCode: ExitConfigError}
	}

	ctx := cmd.Context()
	topo, plan, err := app.Build(ctx, domain.ModePublish)
	if err != nil {
		return err
	}
	defer topo.Close()

	s, err := openStore(app.cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	pl := pipeline.NewPublish(s, app.logger)
	if len(entries) > 0 {
		if err := pl.Add(pipeline.EnvPatchStep("modify-env", entries)); err != nil {
			return err
		}
	}
	if err := pl.Add(pipeline.EnvironmentStep(env, p.Images...)); err != nil {
		return err
	}

	executed, err := pl.Execute(ctx, plan.Mode, &pipeline.StepContext{
		OutputDir: p.OutputDir,
		Plan:      plan,
		Logger:    app.logger,
	})
	if err != nil {
		return &ServerError{Op: "Publish", Err: err, ExitCode: ExitTopologyError}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "plan %s published to %s (steps: %s)\n",
		plan.ID, envfile.Path(p.OutputDir), strings.Join(executed, ", "))
	return nil
}

// parseEntries parses KEY=VALUE pairs.
func parseEntries(raw []string) ([]envfile.Entry, error) {
	entries := make([]envfile.Entry, 0, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid entry %q, expected KEY=VALUE", kv)
		}
		entries = append(entries, envfile.Entry{Key: strings.TrimSpace(key), Value: value})
	}
	return entries, nil
}

// =============================================================================
// serve
// =============================================================================

// ServeCommand serves the inspection API, optionally while running the
// topology.
type ServeCommand struct {
	root   *RootCommand
	Run    bool
	DryRun bool
}

func NewServeCommand(root *RootCommand) *cobra.Command {
	serveCmd := &ServeCommand{root: root}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the inspection API for the topology",
		Args:  cobra.NoArgs,
		RunE:  serveCmd.serve,
	}
	cmd.Flags().BoolVar(&serveCmd.Run, "run", false, "also run the topology while serving")
	cmd.Flags().BoolVar(&serveCmd.DryRun, "dry-run", false, "with --run, log start requests instead of starting containers")
	return cmd
}

func (c *ServeCommand) serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	app := c.root.app
	topo, plan, err := app.Build(ctx, domain.ModeRun)
	if err != nil {
		return err
	}
	defer topo.Close()

	server, err := NewServer(app.cfg, topo, app.logger)
	if err != nil {
		return err
	}

	runDone := make(chan struct{})
	if c.Run {
		runner := topology.NewRunner(topo, topology.RunnerOptions{
			Starter: app.Starter(c.DryRun),
			Prober:  newProber(app),
			Logger:  app.logger,
		})
		go func() {
			defer close(runDone)
			if err := runner.Run(ctx, plan); err != nil {
				app.logger.Error("run failed", "error", err)
			}
		}()
	} else {
		close(runDone)
	}

	err = server.Start(ctx)
	stop()
	<-runDone
	return err
}
