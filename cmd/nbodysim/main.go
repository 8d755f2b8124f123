package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/nbodysim/internal/camera"
	"github.com/san-kum/nbodysim/internal/compute"
	"github.com/san-kum/nbodysim/internal/config"
	"github.com/san-kum/nbodysim/internal/dynamo"
	"github.com/san-kum/nbodysim/internal/export"
	"github.com/san-kum/nbodysim/internal/galaxy"
	"github.com/san-kum/nbodysim/internal/logging"
	"github.com/san-kum/nbodysim/internal/metrics"
	"github.com/san-kum/nbodysim/internal/physics"
	"github.com/san-kum/nbodysim/internal/sim"
	"github.com/san-kum/nbodysim/internal/storage"
	"github.com/san-kum/nbodysim/internal/viz"
)

// escapeRadius is how many disc radii a body may travel before the run
// counts as unstable.
const escapeRadius = 20

// runMetrics are observed alongside the built-in drift metrics.
func runMetrics(cfg *config.Config) []dynamo.Metric {
	return []dynamo.Metric{
		metrics.NewStability(escapeRadius * cfg.Initial.MaxRadius),
	}
}

var (
	dataDir    string
	configFile string
	preset     string
	logLevel   string

	backend     string
	parallel    bool
	dt          float64
	frames      int
	numBodies   int
	seed        uint64
	metricsAddr string
	sampleEvery int
	noSave      bool

	frameRate int
	theme     string

	workers     int
	benchSizes  []int
	benchFrames int

	asJSON  bool
	svgPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "nbodysim",
		Short:        "gravitational n-body simulator",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".nbodysim", "data directory")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "preset as kind/name, e.g. galaxy/small")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a headless simulation and save the result",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	addSimFlags(runCmd)
	runCmd.Flags().IntVar(&frames, "frames", config.DefaultFrames, "frames to simulate")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	runCmd.Flags().IntVar(&sampleEvery, "sample-every", 10, "frames between diagnostic samples")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run the simulation in the terminal viewer",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	addSimFlags(liveCmd)
	liveCmd.Flags().IntVar(&frameRate, "fps", 30, "frame rate")
	liveCmd.Flags().StringVar(&theme, "theme", "nebula", "color theme ("+strings.Join(viz.ThemeNames(), ", ")+")")

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "compare tick times of the host and device backends",
		Args:  cobra.NoArgs,
		RunE:  benchBackends,
	}
	benchCmd.Flags().IntSliceVar(&benchSizes, "sizes", []int{256, 1024, 2048}, "body counts")
	benchCmd.Flags().IntVar(&benchFrames, "ticks", 20, "ticks per measurement")
	benchCmd.Flags().IntVar(&workers, "workers", 0, "device workers (0 = all CPUs)")

	presetsCmd := &cobra.Command{
		Use:   "presets [kind]",
		Short: "list available presets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := config.ListKinds()
			if len(args) == 1 {
				kinds = args
			}
			for _, kind := range kinds {
				presets := config.ListPresets(kind)
				if len(presets) == 0 {
					fmt.Printf("no presets for kind: %s\n", kind)
					continue
				}
				fmt.Printf("presets for %s:\n", kind)
				for _, p := range presets {
					fmt.Printf("  %s\n", p)
				}
			}
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "print metadata and bodies as JSON")
	showCmd.Flags().StringVar(&svgPath, "svg", "", "also render the bodies to this SVG file")

	rootCmd.AddCommand(runCmd, liveCmd, benchCmd, presetsCmd, listCmd, showCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSimFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&backend, "backend", "auto", "backend ("+strings.Join(sim.ListBackends(), ", ")+")")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "row-parallel host integrator")
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "timestep")
	cmd.Flags().IntVar(&numBodies, "bodies", config.DefaultBodies, "number of bodies (galaxy)")
	cmd.Flags().Uint64Var(&seed, "seed", config.DefaultSeed, "random seed")
	cmd.Flags().IntVar(&workers, "workers", 0, "device workers (0 = all CPUs)")
}

// loadConfig layers preset, config file and explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if preset != "" {
		kind, name, ok := strings.Cut(preset, "/")
		if !ok {
			return nil, fmt.Errorf("preset must be kind/name, got %q", preset)
		}
		p := config.GetPreset(kind, name)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(kind))
		}
		cfg = p
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = backend
	}
	if flags.Changed("parallel") {
		cfg.Parallel = parallel
	}
	if flags.Changed("dt") {
		cfg.Dt = dt
	}
	if flags.Changed("bodies") {
		cfg.Initial.Bodies = numBodies
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("workers") {
		cfg.Device.Workers = workers
	}
	if flags.Changed("frames") {
		cfg.Frames = frames
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, output string) (*zap.Logger, error) {
	return logging.New(logging.Config{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
		Output:   output,
	})
}

// newSimulation builds the compute context (unless the host backend was
// requested), the initial bodies and the simulation.
func newSimulation(cfg *config.Config, log *zap.Logger) (*sim.Simulation, func(), error) {
	bodies, err := cfg.InitialBodies()
	if err != nil {
		return nil, nil, err
	}

	var gpu *compute.Context
	if cfg.Backend != sim.KindHost {
		gpu, err = compute.NewContext(compute.Options{Workers: cfg.Device.Workers, Logger: log})
		if err != nil {
			return nil, nil, err
		}
	}
	closeGPU := func() {
		if gpu != nil {
			gpu.Close()
		}
	}

	be, err := sim.NewBackend(bodies, sim.BackendOptions{
		Kind:     cfg.Backend,
		Context:  gpu,
		G:        float32(cfg.GravitationConstant),
		Parallel: cfg.Parallel,
		Logger:   log,
	})
	if err != nil {
		closeGPU()
		return nil, nil, err
	}

	s, err := sim.New(be, sim.Config{Dt: float32(cfg.Dt), SampleEvery: sampleEvery}, log)
	if err != nil {
		be.Close()
		closeGPU()
		return nil, nil, err
	}
	s.Controls = cfg.Controls

	cleanup := func() {
		be.Close()
		closeGPU()
	}
	return s, cleanup, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, "")
	if err != nil {
		return err
	}
	defer log.Sync()

	s, cleanup, err := newSimulation(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	collectors := metrics.NewCollectors()
	s.Instrument(collectors)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	fmt.Printf("running %d bodies on %s for %d frames...\n", s.Backend().Len(), s.Backend().Name(), cfg.Frames)

	var result *sim.Result
	g, gctx := errgroup.WithContext(ctx)
	runCtx, finish := context.WithCancel(gctx)
	defer finish()
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return collectors.Serve(runCtx, cfg.Metrics.Addr, log)
		})
	}
	g.Go(func() error {
		defer finish()
		var err error
		result, err = s.Run(runCtx, cfg.Frames, runMetrics(cfg)...)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", result.Elapsed)
	if result.Frames > 0 {
		fmt.Printf("per frame: %v\n", result.Elapsed/time.Duration(result.Frames))
	}
	if result.FirstError != nil {
		fmt.Printf("warning: %v\n", result.FirstError)
	}
	fmt.Println("\nmetrics:")
	for _, name := range []string{"momentum_drift", "energy_drift", "stability"} {
		fmt.Printf("  %s: %.6g\n", name, result.Metrics[name])
	}

	if len(result.Momentum) > 1 {
		fmt.Println()
		fmt.Println(asciigraph.Plot(result.Momentum,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption("momentum drift |P(t) - P(0)|"),
		))
	}

	if noSave {
		return nil
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(storage.RunMetadata{
		Kind:    cfg.Initial.Kind,
		Preset:  preset,
		Backend: s.Backend().Name(),
		Seed:    cfg.Seed,
		Dt:      cfg.Dt,
		Frames:  result.Frames,
		G:       cfg.GravitationConstant,
		Elapsed: result.Elapsed,
		Metrics: result.Metrics,
	}, result.Final)
	if err != nil {
		return err
	}
	fmt.Printf("\nrun id: %s\n", runID)
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// The terminal belongs to the viewer; logs go to a file.
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}
	log, err := newLogger(cfg, filepath.Join(dataDir, "live.log"))
	if err != nil {
		return err
	}
	defer log.Sync()

	s, cleanup, err := newSimulation(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	reseed := cfg.Seed
	m := viz.NewModel(s, viz.Options{
		Title:  fmt.Sprintf("%s · %d bodies", cfg.Initial.Kind, s.Backend().Len()),
		FPS:    frameRate,
		Theme:  theme,
		Logger: log,
		Reseed: func() (*dynamo.Bodies, error) {
			reseed++
			next := *cfg
			next.Seed = reseed
			return next.InitialBodies()
		},
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(cmd.Context()))
	final, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(viz.Model); ok && fm.Err() != nil {
		return fm.Err()
	}
	return nil
}

func benchBackends(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, "")
	if err != nil {
		return err
	}
	defer log.Sync()

	gpu, err := compute.NewContext(compute.Options{Workers: cfg.Device.Workers, Logger: log})
	if err != nil {
		return err
	}
	defer gpu.Close()

	collectors := metrics.NewCollectors()
	dt32 := float32(cfg.Dt)
	g32 := float32(cfg.GravitationConstant)

	fmt.Printf("benchmarking %d ticks per backend (device workers: %d)\n\n", benchFrames, gpu.Device.Workers())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BODIES\tBACKEND\tTOTAL\tPER TICK\tPAIRS/SEC")

	for _, n := range benchSizes {
		p := cfg.GalaxyParams()
		p.Count = n
		bodies, err := galaxy.Generate(p, galaxy.NewSource(cfg.Seed))
		if err != nil {
			return err
		}

		for _, par := range []bool{false, true} {
			it := physics.NewIntegrator(par)
			it.Observe(func(_ int, elapsed time.Duration) {
				collectors.ObserveTick(it.Name(), elapsed)
			})
			b := bodies.Clone()
			start := time.Now()
			for i := 0; i < benchFrames; i++ {
				it.Step(b, dt32, g32)
			}
			report(w, n, it.Name(), time.Since(start))
		}

		uploadStart := time.Now()
		device, err := sim.NewDeviceBackend(gpu, bodies, g32, log)
		if err != nil {
			return err
		}
		collectors.ObserveUpload(time.Since(uploadStart))

		start := time.Now()
		for i := 0; i < benchFrames; i++ {
			tick := time.Now()
			if err := device.Tick(dt32); err != nil {
				device.Close()
				return err
			}
			device.Wait()
			collectors.ObserveTick(device.Name(), time.Since(tick))
		}
		report(w, n, device.Name(), time.Since(start))
		device.Close()
	}
	return w.Flush()
}

func report(w *tabwriter.Writer, n int, name string, total time.Duration) {
	per := total / time.Duration(benchFrames)
	pairs := float64(n) * float64(n-1) * float64(benchFrames) / total.Seconds()
	fmt.Fprintf(w, "%d\t%s\t%v\t%v\t%.3g\n", n, name, total.Round(time.Microsecond), per.Round(time.Microsecond), pairs)
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tTIME\tBODIES\tFRAMES\tDT\tBACKEND\tMOMENTUM DRIFT")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.4fs\t%s\t%.3g\n",
			run.ID,
			run.Kind,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Bodies,
			run.Frames,
			run.Dt,
			run.Backend,
			run.Metrics["momentum_drift"],
		)
	}

	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	bodies, err := st.LoadBodies(runID)
	if err != nil {
		return err
	}

	if svgPath != "" {
		if err := writeSVG(svgPath, bodies); err != nil {
			return err
		}
	}
	if asJSON {
		return storage.ExportJSON(os.Stdout, *meta, bodies)
	}

	p := bodies.Momentum()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "run:\t%s\n", meta.ID)
	fmt.Fprintf(w, "kind:\t%s\n", meta.Kind)
	if meta.Preset != "" {
		fmt.Fprintf(w, "preset:\t%s\n", meta.Preset)
	}
	fmt.Fprintf(w, "backend:\t%s\n", meta.Backend)
	fmt.Fprintf(w, "seed:\t%d\n", meta.Seed)
	fmt.Fprintf(w, "bodies:\t%d\n", bodies.Len())
	fmt.Fprintf(w, "frames:\t%d (dt %.4fs, G %g)\n", meta.Frames, meta.Dt, meta.G)
	fmt.Fprintf(w, "elapsed:\t%v\n", meta.Elapsed)
	fmt.Fprintf(w, "mass:\t%.4f\n", bodies.TotalMass())
	fmt.Fprintf(w, "momentum:\t(%.4g, %.4g, %.4g)\n", p[0], p[1], p[2])
	fmt.Fprintf(w, "energy:\t%.6g\n", physics.Energy(bodies, meta.G))
	for name, val := range meta.Metrics {
		fmt.Fprintf(w, "%s:\t%.6g\n", name, val)
	}
	return w.Flush()
}

func writeSVG(path string, bodies *dynamo.Bodies) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := export.SnapshotSVG(f, bodies, camera.Default(1), 800, 800); err != nil {
		return err
	}
	return f.Close()
}
