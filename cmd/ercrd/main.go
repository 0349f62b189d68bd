package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/ercrd/internal/config"
	"github.com/san-kum/ercrd/internal/experiment"
	"github.com/san-kum/ercrd/internal/logging"
	"github.com/san-kum/ercrd/internal/metrics"
	"github.com/san-kum/ercrd/internal/optimizer"
	"github.com/san-kum/ercrd/internal/progress"
	"github.com/san-kum/ercrd/internal/storage"
	"github.com/san-kum/ercrd/internal/sweep"
)

var (
	dataDir     string
	configFile  string
	preset      string
	logLevel    string
	live        bool
	noSave      bool
	metricsFile string
	axes        []string
	jobs        int
	outFile     string
	svgX        string
	svgY        string

	// solver overrides, applied only when set on the command line
	horizon       float64
	steps         int
	integrator    string
	method        string
	gradientMode  string
	policy        string
	rule          string
	maxIter       int
	tolerance     float64
	alpha         float64
	beta          float64
	gamma         float64
	controlWeight float64
	penalty       float64
	timeout       time.Duration
	warm          string
	noise         float64
	seed          uint64
	x0            []float64
	target        []float64
)

var log zerolog.Logger

func main() {
	_ = godotenv.Load()
	log = logging.New("cli")

	rootCmd := &cobra.Command{
		Use:           "ercrd",
		Short:         "constrained trajectory optimisation over adaptive cost landscapes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".ercrd", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, disabled)")

	solveCmd := &cobra.Command{
		Use:   "solve [problem]",
		Short: "optimise a problem and save the run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  solve,
	}
	addRunFlags(solveCmd.Flags())
	solveCmd.Flags().BoolVar(&live, "live", false, "show live progress")

	sweepCmd := &cobra.Command{
		Use:   "sweep [problem]",
		Short: "solve over a grid of parameter values",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	addRunFlags(sweepCmd.Flags())
	sweepCmd.Flags().StringArrayVar(&axes, "axis", nil, "swept parameter as name=v1,v2,... (repeatable)")
	sweepCmd.Flags().IntVar(&jobs, "jobs", 0, "concurrent solves (default GOMAXPROCS)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot states, controls and cost history of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outFile, "output", "o", "", "write to file instead of stdout")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export a run trajectory as CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVarP(&outFile, "output", "o", "", "write to file instead of stdout")

	exportSVGCmd := &cobra.Command{
		Use:   "export-svg [run_id]",
		Short: "draw one trajectory series against another as SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  exportSVG,
	}
	exportSVGCmd.Flags().StringVarP(&outFile, "output", "o", "", "write to file instead of stdout")
	exportSVGCmd.Flags().StringVar(&svgX, "x", "t", "horizontal series (t, x<i> or u<i>)")
	exportSVGCmd.Flags().StringVar(&svgY, "y", "x0", "vertical series (t, x<i> or u<i>)")

	presetsCmd := &cobra.Command{
		Use:   "presets [problem]",
		Short: "list available presets",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listPresets,
	}

	problemsCmd := &cobra.Command{
		Use:   "problems",
		Short: "list problems and warm-start policies",
		Args:  cobra.NoArgs,
		RunE:  listProblems,
	}

	configCmd := &cobra.Command{
		Use:   "config [problem]",
		Short: "print the resolved configuration as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showConfig,
	}
	addRunFlags(configCmd.Flags())
	configCmd.Flags().StringVarP(&outFile, "output", "o", "", "save to file instead of printing")

	rootCmd.AddCommand(solveCmd, sweepCmd, listCmd, plotCmd, exportJSONCmd, exportCSVCmd, exportSVGCmd, presetsCmd, problemsCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addRunFlags(f *pflag.FlagSet) {
	f.StringVar(&configFile, "config", "", "config file path (yaml)")
	f.StringVar(&preset, "preset", "", "start from a preset")
	f.BoolVar(&noSave, "no-save", false, "do not save the run")
	f.StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file")

	f.Float64Var(&horizon, "horizon", optimizer.DefaultHorizon, "horizon T")
	f.IntVar(&steps, "steps", optimizer.DefaultSteps, "number of steps K")
	f.StringVar(&integrator, "integrator", "euler", "euler, heun, rk4 or dopri5")
	f.StringVar(&method, "method", string(optimizer.MethodGradient), "gradient, lbfgs or bfgs")
	f.StringVar(&gradientMode, "gradient", string(optimizer.GradientAdjoint), "adjoint or finite-difference")
	f.StringVar(&policy, "constraints", "penalty", "penalty or projection")
	f.StringVar(&rule, "rule", "trapezoid", "trapezoid or rectangle")
	f.IntVar(&maxIter, "max-iter", optimizer.DefaultMaxIterations, "iteration cap")
	f.Float64Var(&tolerance, "tol", optimizer.DefaultTolerance, "convergence tolerance")
	f.Float64Var(&alpha, "alpha", optimizer.DefaultAlpha, "efficiency weight")
	f.Float64Var(&beta, "beta", optimizer.DefaultBeta, "adaptability weight")
	f.Float64Var(&gamma, "gamma", optimizer.DefaultGamma, "collective weight")
	f.Float64Var(&controlWeight, "control-weight", 1, "control penalty weight")
	f.Float64Var(&penalty, "penalty", 1e3, "constraint penalty weight")
	f.DurationVar(&timeout, "timeout", 0, "wall-clock limit (0 for none)")
	f.StringVar(&warm, "warm", config.DefaultWarm, "warm-start policy")
	f.Float64Var(&noise, "noise", 0, "disturbance standard deviation")
	f.Uint64Var(&seed, "seed", 0, "disturbance seed")
	f.Float64SliceVar(&x0, "x0", nil, "initial state")
	f.Float64SliceVar(&target, "target", nil, "target state")
}

// resolveConfig layers defaults or a preset, the config file, ERCRD_
// environment variables and finally flags set on the command line.
func resolveConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	problem := ""
	if len(args) > 0 {
		problem = args[0]
	}
	if preset != "" {
		if problem == "" {
			problem = config.DefaultProblem
		}
		cfg, err = config.LoadPreset(problem, preset, configFile)
	} else {
		cfg, err = config.Load(configFile)
	}
	if err != nil {
		return nil, err
	}
	if problem != "" {
		cfg.Problem = problem
	}

	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("horizon", func() { cfg.Solver.Horizon = horizon })
	set("steps", func() { cfg.Solver.Steps = steps })
	set("integrator", func() { cfg.Solver.Integrator = integrator })
	set("method", func() { cfg.Solver.Method = optimizer.Method(method) })
	set("gradient", func() { cfg.Solver.GradientMode = optimizer.GradientMode(gradientMode) })
	set("constraints", func() { cfg.Solver.ConstraintPolicy = policy })
	set("rule", func() { cfg.Solver.Rule = rule })
	set("max-iter", func() { cfg.Solver.MaxIterations = maxIter })
	set("tol", func() { cfg.Solver.Tolerance = tolerance })
	set("alpha", func() { cfg.Solver.Alpha = alpha })
	set("beta", func() { cfg.Solver.Beta = beta })
	set("gamma", func() { cfg.Solver.Gamma = gamma })
	set("control-weight", func() { cfg.Solver.ControlWeight = controlWeight })
	set("penalty", func() { cfg.Solver.PenaltyWeight = penalty })
	set("timeout", func() { cfg.Solver.Timeout = timeout })
	set("warm", func() { cfg.Warm = warm })
	set("noise", func() { cfg.Noise = noise })
	set("seed", func() { cfg.Seed = seed })
	set("x0", func() { cfg.X0 = x0 })
	set("target", func() { cfg.Target = target })

	if lf := cmd.Flag("log-level"); lf != nil && lf.Changed {
		cfg.LogLevel = logLevel
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func solve(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	reg := experiment.NewRegistry()
	exp, err := experiment.New(reg, cfg)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	sink, err := metrics.NewSink(promReg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	var res *optimizer.Result
	if live {
		res, err = progress.Watch(ctx, cfg.Problem, func(ctx context.Context, obs optimizer.Observer) (*optimizer.Result, error) {
			return exp.Run(ctx, obs, sink.Observer(cfg.Problem))
		})
	} else {
		res, err = exp.Run(ctx, sink.Observer(cfg.Problem))
	}
	if err != nil {
		return err
	}
	sink.Record(cfg.Problem, res)

	inst := exp.Instance()
	diag := metrics.Evaluate(res.Trajectory(), metrics.Defaults(inst.Problem.Dynamics, inst.Target)...)
	fmt.Println(progress.Summary(cfg.Problem, res, diag))

	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, promReg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if noSave {
		return nil
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	id, err := st.Save(cfg, res, diag)
	if err != nil {
		return err
	}
	log.Info().Str("run", id).Msg("run saved")
	fmt.Printf("run: %s\n", id)
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	if len(axes) == 0 {
		return fmt.Errorf("at least one --axis is required")
	}
	var parsed []sweep.Axis
	for _, s := range axes {
		a, err := sweep.ParseAxis(s)
		if err != nil {
			return err
		}
		parsed = append(parsed, a)
	}
	grid := sweep.NewGrid(parsed...)

	promReg := prometheus.NewRegistry()
	sink, err := metrics.NewSink(promReg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	opts := []sweep.Option{sweep.WithRunObserver(func(r sweep.Run) {
		if r.Err != nil {
			log.Warn().Err(r.Err).Int("run", r.Index).Msg("sweep run failed")
			return
		}
		sink.Record(cfg.Problem, r.Result)
		log.Debug().Int("run", r.Index).Float64("cost", r.Cost()).Msg("sweep run finished")
	})}
	if jobs > 0 {
		opts = append(opts, sweep.WithLimit(jobs))
	}

	log.Info().Int("runs", grid.Size()).Str("problem", cfg.Problem).Msg("sweep started")
	runs, err := sweep.New(experiment.NewRegistry(), opts...).Run(ctx, cfg, grid)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := []string{"RANK"}
	for _, a := range grid.Axes {
		header = append(header, strings.ToUpper(a.Name))
	}
	header = append(header, "STATUS", "ITER", "COST")
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for i, r := range sweep.Rank(runs) {
		row := []string{fmt.Sprintf("%d", i+1)}
		for _, a := range grid.Axes {
			row = append(row, fmt.Sprintf("%g", r.Params[a.Name]))
		}
		if r.Err != nil {
			row = append(row, "error", "-", r.Err.Error())
		} else {
			row = append(row, r.Result.Status().String(), fmt.Sprintf("%d", r.Result.Iterations()), fmt.Sprintf("%.6g", r.Cost()))
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, promReg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	best, ok := sweep.Best(runs)
	if !ok {
		return fmt.Errorf("no feasible run in the sweep")
	}
	if noSave {
		return nil
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	reg := experiment.NewRegistry()
	inst, err := reg.Problem(best.Config)
	if err != nil {
		return err
	}
	diag := metrics.Evaluate(best.Result.Trajectory(), metrics.Defaults(inst.Problem.Dynamics, inst.Target)...)
	id, err := st.Save(best.Config, best.Result, diag)
	if err != nil {
		return err
	}
	fmt.Printf("best run: %s\n", id)
	return nil
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
	fmt.Fprintln(w, "ID\tPROBLEM\tTIME\tSTATUS\tREASON\tITER\tCOST")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%.6g\n",
			run.ID[:8],
			run.Problem,
			run.Timestamp.Local().Format("2006-01-02 15:04:05"),
			run.Status,
			run.Reason,
			run.Iterations,
			float64(run.Cost),
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	rec, err := st.LoadRecord(args[0])
	if err != nil {
		return err
	}
	traj := rec.Trajectory
	if len(traj.States) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", rec.ID)
	fmt.Printf("problem: %s\n", rec.Problem)
	fmt.Printf("status: %s (%s)\n", rec.Summary.Status, rec.Summary.Reason)
	fmt.Printf("samples: %d\n\n", len(traj.States))

	plot := func(data []float64, caption string) {
		if len(data) == 0 {
			return
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(caption),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	numVars := len(traj.States[0])
	maxPlots := 6
	if numVars > maxPlots {
		numVars = maxPlots
	}
	for i := 0; i < numVars; i++ {
		data := make([]float64, len(traj.States))
		for k, x := range traj.States {
			data[k] = x[i]
		}
		plot(data, fmt.Sprintf("x%d vs time", i))
	}
	if traj.Len() > 0 {
		for j := range traj.Controls[0] {
			data := make([]float64, traj.Len())
			for k, u := range traj.Controls {
				data[k] = u[j]
			}
			plot(data, fmt.Sprintf("u%d vs time", j))
		}
	}
	if len(rec.Summary.History) > 1 {
		plot(rec.Summary.History, "cost per iteration")
	}
	return nil
}

func output() (*os.File, func() error, error) {
	if outFile == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(outFile)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	rec, err := st.LoadRecord(args[0])
	if err != nil {
		return err
	}
	w, done, err := output()
	if err != nil {
		return err
	}
	if err := storage.ExportJSON(w, rec); err != nil {
		done()
		return err
	}
	return done()
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	traj, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}
	w, done, err := output()
	if err != nil {
		return err
	}
	if err := storage.WriteCSV(w, traj); err != nil {
		done()
		return err
	}
	return done()
}

func exportSVG(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	traj, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}
	w, done, err := output()
	if err != nil {
		return err
	}
	if err := storage.WriteSVG(w, traj, storage.Series(svgX), storage.Series(svgY), 800, 400, "#00ff00"); err != nil {
		done()
		return err
	}
	return done()
}

func listPresets(cmd *cobra.Command, args []string) error {
	problems := experiment.NewRegistry().ListProblems()
	if len(args) > 0 {
		problems = args
	}
	for _, problem := range problems {
		presets := config.ListPresets(problem)
		if len(presets) == 0 {
			fmt.Printf("no presets for problem: %s\n", problem)
			continue
		}
		fmt.Printf("presets for %s:\n", problem)
		for _, p := range presets {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}

func listProblems(cmd *cobra.Command, args []string) error {
	reg := experiment.NewRegistry()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBLEM\tDESCRIPTION")
	for _, name := range reg.ListProblems() {
		fmt.Fprintf(w, "%s\t%s\n", name, reg.Describe(name))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nwarm-start policies: %s\n", strings.Join(reg.ListPolicies(), ", "))
	return nil
}

func showConfig(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	if outFile != "" {
		if err := config.Save(outFile, cfg); err != nil {
			return err
		}
		fmt.Printf("config written to %s\n", outFile)
		return nil
	}
	return yaml.NewEncoder(os.Stdout).Encode(cfg)
}
