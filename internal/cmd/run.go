package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/Iron-Ham/stagehand/internal/catalog"
	"github.com/Iron-Ham/stagehand/internal/config"
	"github.com/Iron-Ham/stagehand/internal/errors"
	"github.com/Iron-Ham/stagehand/internal/event"
	"github.com/Iron-Ham/stagehand/internal/logging"
	"github.com/Iron-Ham/stagehand/internal/manifest"
	"github.com/Iron-Ham/stagehand/internal/metrics"
	"github.com/Iron-Ham/stagehand/internal/orchestrator"
	"github.com/Iron-Ham/stagehand/internal/progress"
	"github.com/Iron-Ham/stagehand/internal/schedule"
	"github.com/Iron-Ham/stagehand/internal/steps"
	"github.com/Iron-Ham/stagehand/internal/telemetry"
	"github.com/Iron-Ham/stagehand/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the boot sequence",
	Long: `Run executes the configured manifest: basics, every declared step in
order, then readiness. With chaining enabled, a ready stage tears down its
instances in reverse order and hands off to the stage named by next:.

With --watch the first stage stays resident and restarts whenever its
manifest changes; the superseded run is cancelled.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

// linger keeps the final boot screen visible before the program exits.
const linger = 300 * time.Millisecond

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("manifest", "m", "", "manifest to run (default from boot.manifest)")
	runCmd.Flags().Bool("watch", false, "restart the stage when its manifest changes")
	runCmd.Flags().Bool("no-tui", false, "report progress through the log instead of the terminal UI")
	runCmd.Flags().Bool("chain", true, "hand off to the manifest's next stage once ready")
	runCmd.Flags().Bool("fan-out", false, "run every unit an instance carries")

	_ = viper.BindPFlag("boot.manifest", runCmd.Flags().Lookup("manifest"))
	_ = viper.BindPFlag("boot.chain", runCmd.Flags().Lookup("chain"))
	_ = viper.BindPFlag("boot.fan_out", runCmd.Flags().Lookup("fan-out"))
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	watch, _ := cmd.Flags().GetBool("watch")
	noTUI, _ := cmd.Flags().GetBool("no-tui")

	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		logger.Warn("tracing disabled", "error", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	chain := cfg.Boot.Chain && !watch
	manifests, err := loadChain(cfg.Boot.Manifest, chain)
	if err != nil {
		return err
	}

	var wg conc.WaitGroup
	defer wg.Wait()
	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()

	recorder := metrics.New()
	if cfg.Metrics.Addr != "" {
		wg.Go(func() {
			if err := recorder.Serve(serveCtx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics server failed", "error", err.Error())
			}
		})
	}

	bus := event.NewBus()
	var surface progress.Controller = progress.NewLog(logger, cfg.Boot.OnlyIncrease)
	var app *tui.App
	if !noTUI && term.IsTerminal(int(os.Stdout.Fd())) {
		app = tui.New(tui.Options{
			Stage:          manifests[0].StageName(),
			Width:          cfg.Progress.Width,
			ShowPercentage: cfg.Progress.ShowPercentage,
			GradientStart:  cfg.Progress.GradientStart,
			GradientEnd:    cfg.Progress.GradientEnd,
			OnlyIncrease:   cfg.Boot.OnlyIncrease,
			Interrupt:      stop,
		}, tea.WithOutput(cmd.OutOrStdout()))
		surface = app
		detach := app.Attach(bus)
		defer detach()

		wg.Go(func() {
			if err := app.Run(serveCtx); err != nil {
				logger.Error("terminal UI failed", "error", err.Error())
				stop()
			}
		})
	}

	var scheduler schedule.Scheduler = schedule.Immediate{}
	if cfg.Boot.TickInterval() > 0 {
		ticker := schedule.NewTicker(cfg.Boot.TickInterval())
		defer ticker.Stop()
		scheduler = ticker
	}

	reg := steps.NewRegistry()
	stages := buildStages(manifests, reg, stageEnv{
		cfg:       cfg,
		logger:    logger,
		surface:   surface,
		scheduler: scheduler,
		bus:       bus,
		recorder:  recorder,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for i := len(stages) - 1; i >= 0; i-- {
			if err := stages[i].Close(closeCtx); err != nil {
				logger.Warn("stage close failed", "stage", stages[i].Stage(), "error", err.Error())
			}
		}
	}()

	if watch {
		err = watchStage(ctx, stages[0], reg, manifests[0], cfg.Boot.WatchDebounce(), logger)
	} else {
		err = runChain(ctx, stages)
	}

	if app != nil {
		if err == nil {
			time.Sleep(linger)
		}
		app.Quit()
	}
	stopServing()

	printReports(cmd.OutOrStdout(), stages)
	if errors.IsCancellation(err) {
		return fmt.Errorf("boot interrupted: %w", err)
	}
	return err
}

// stageEnv is what every stage of one invocation shares.
type stageEnv struct {
	cfg       *config.Config
	logger    *logging.Logger
	surface   progress.Controller
	scheduler schedule.Scheduler
	bus       *event.Bus
	recorder  *metrics.Recorder
}

// buildStages creates one orchestrator per manifest, last first, so each
// can hand off to the one after it. Each stage reports progress into its
// own band of the shared surface.
func buildStages(manifests []*manifest.Manifest, reg *catalog.Registry, env stageEnv) []*orchestrator.Orchestrator {
	stages := make([]*orchestrator.Orchestrator, len(manifests))
	var next orchestrator.Successor
	for i := len(manifests) - 1; i >= 0; i-- {
		m := manifests[i]
		logger := env.logger.With("stage", m.StageName())

		decls, warnings := reg.Resolve(m)
		for _, w := range warnings {
			logger.Warn("step resolved to a null declaration", "error", w.Error())
		}

		o := orchestrator.New(decls, orchestrator.Options{
			Stage:     m.StageName(),
			Logger:    logger,
			Progress:  &band{inner: env.surface, index: i, count: len(manifests)},
			Animated:  env.cfg.Boot.Animated,
			Scheduler: env.scheduler,
			Bus:       env.bus,
			Metrics:   env.recorder,
			Tracer:    telemetry.Tracer(),
			Prerequisites: []orchestrator.Prerequisite{
				steps.HTTPClientPrerequisite(env.cfg.Boot.HTTPTimeout()),
			},
			FanOut:    env.cfg.Boot.FanOut,
			JoinGrace: env.cfg.Boot.JoinGrace(),
			Next:      next,
		})
		stages[i] = o
		next = o
	}
	return stages
}

// runChain runs the first stage and deconstructs each ready stage in turn,
// which hands off to and runs the next. The last stage is left ready.
func runChain(ctx context.Context, stages []*orchestrator.Orchestrator) error {
	if err := stages[0].Run(ctx); err != nil {
		return err
	}
	for i := 0; i < len(stages)-1; i++ {
		if err := stages[i].Deconstruct(ctx); err != nil {
			return err
		}
	}
	return nil
}

// watchStage runs the stage and restarts it on every manifest change until
// ctx is done.
func watchStage(ctx context.Context, stage *orchestrator.Orchestrator, reg *catalog.Registry, m *manifest.Manifest, debounce time.Duration, logger *logging.Logger) error {
	w, err := manifest.NewWatcher(m.Path(), debounce, logger)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	var runs conc.WaitGroup
	defer runs.Wait()

	start := func() {
		runs.Go(func() {
			if err := stage.Run(ctx); err != nil && !errors.IsCancellation(err) {
				logger.Error("run failed", "error", err.Error())
			}
		})
	}

	start()
	return w.Run(ctx, func(changed *manifest.Manifest) {
		decls, warnings := reg.Resolve(changed)
		for _, warn := range warnings {
			logger.Warn("step resolved to a null declaration", "error", warn.Error())
		}
		stage.SetDeclarations(decls)
		logger.Info("restarting after manifest change", "steps", len(decls))
		start()
	})
}

func printReports(out io.Writer, stages []*orchestrator.Orchestrator) {
	for _, s := range stages {
		r, ok := s.LastReport()
		if !ok {
			continue
		}
		status := "ready"
		if r.Cancelled {
			status = "cancelled"
		}
		fmt.Fprintf(out, "%s: %s (%d completed, %d failed, %d skipped) in %s\n",
			r.Stage, status, r.Completed, r.Failed, r.Skipped, r.Duration.Round(time.Millisecond))
		for _, slot := range r.Slots {
			if slot.Err != nil {
				fmt.Fprintf(out, "  %s %s: %v\n", slot.Status, slot.Label, slot.Err)
			}
		}
	}
}

// band maps a stage's [0,1] progress into its share of a surface shared by
// count chained stages, so the bar never restarts between stages.
type band struct {
	inner progress.Controller
	index int
	count int
}

func (b *band) SetProgress(value float64, animated bool) {
	v := (float64(b.index) + progress.Clamp(value)) / float64(b.count)
	b.inner.SetProgress(v, animated)
}

func (b *band) Show() { b.inner.Show() }

// Hide only hides the surface once the last stage is done.
func (b *band) Hide() {
	if b.index == b.count-1 {
		b.inner.Hide()
	}
}
