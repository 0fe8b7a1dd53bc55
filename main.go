package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var (
	// CLI flags
	configPath string
	logLevel   string

	debugLogging atomic.Bool
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the robotctl command tree
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "robotctl",
		Short:        "onboard control for the competition robot",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (built-in robot when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	var dryRun bool
	var routine string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the control loops until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runRobot(ctx, config, dryRun, routine)
		},
	}
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Drive the simulator instead of the CAN bus")
	runCmd.Flags().StringVar(&routine, "routine", "", "Autonomous routine to play at startup")

	var setpoint float64
	var tuneDryRun bool
	var applyPosition string
	var applyHold time.Duration
	tuneCmd := &cobra.Command{
		Use:   "tune [actuator]",
		Short: "relay autotune one actuator and print suggested gains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runTune(ctx, cmd.OutOrStdout(), config, tuneOptions{
				Name:          args[0],
				Setpoint:      setpoint,
				DryRun:        tuneDryRun,
				ApplyPosition: applyPosition,
				ApplyHold:     applyHold,
			})
		},
	}
	tuneCmd.Flags().Float64Var(&setpoint, "setpoint", 0, "Pot value to oscillate around (middle of travel when 0)")
	tuneCmd.Flags().BoolVar(&tuneDryRun, "dry-run", false, "Tune against the simulator")
	tuneCmd.Flags().StringVar(&applyPosition, "apply", "", "Load the tuned gains and hold this named position to check them")
	tuneCmd.Flags().DurationVar(&applyHold, "apply-hold", 2*time.Second, "How long to hold the --apply position")

	routinesCmd := &cobra.Command{
		Use:   "routines",
		Short: "list autonomous routines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			return listRoutines(cmd.OutOrStdout(), config)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check-config",
		Short: "validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d actuators, %d routines, backend %s, operator %s\n",
				len(config.Actuators), len(config.Autonomous.Routines),
				config.Hardware.Backend, config.Hardware.Operator)
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, tuneCmd, routinesCmd, checkCmd)
	return rootCmd
}

// loadConfig reads --config, or the built-in robot when none is given, and
// applies --log-level
func loadConfig() (*Config, error) {
	var config *Config
	if configPath == "" {
		config = DefaultConfig()
	} else {
		var err error
		config, err = LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// Override log level if specified
	if logLevel != "" {
		config.Server.LogLevel = logLevel
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}
	setLogLevel(config.Server.LogLevel)
	return config, nil
}

func setLogLevel(level string) {
	debugLogging.Store(level == "debug")
}

// logDebugf logs only when the debug level is active
func logDebugf(format string, args ...interface{}) {
	if debugLogging.Load() {
		log.Printf("DEBUG: "+format, args...)
	}
}

// runRobot wires the hardware, control loops, HTTP server and telemetry and
// blocks until ctx is canceled
func runRobot(ctx context.Context, config *Config, dryRun bool, routine string) error {
	if routine != "" {
		if _, ok := config.Routine(routine); !ok {
			return fmt.Errorf("unknown routine %s", routine)
		}
	}

	log.Printf("Starting robot controller (config: %s, backend: %s, dry-run: %v)",
		describeConfigPath(), config.Hardware.Backend, dryRun)

	hw, sim, err := OpenHardware(ctx, config, dryRun)
	if err != nil {
		return err
	}

	// Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewMetrics(reg)

	robot, err := NewRobot(config, hw, sim, metrics)
	if err != nil {
		return err
	}

	// Start metrics server
	StartMetricsServer(ctx, config.Server.MetricsPort, NewRouter(reg, robot, time.Now()))

	if config.Telemetry.Broker != "" {
		pub, err := dialMQTT(config.Telemetry)
		if err != nil {
			metrics.RecordError("telemetry")
			log.Printf("Warning: telemetry disabled: %v", err)
		} else {
			defer pub.Close()
			go NewTelemetryPublisher(pub, config.Telemetry, robot, metrics).Run(ctx)
		}
	}

	if routine != "" {
		go func() {
			if err := robot.RunRoutine(ctx, routine); err != nil {
				metrics.RecordError("routine")
				log.Printf("Routine %s aborted: %v", routine, err)
			}
		}()
	}

	robot.Run(ctx)
	log.Println("Robot controller stopped")
	return nil
}

type tuneOptions struct {
	Name          string
	Setpoint      float64
	DryRun        bool
	ApplyPosition string
	ApplyHold     time.Duration
}

// runTune autotunes one actuator and writes the suggested gains and a plot of
// the pot trace to out. With ApplyPosition set the gains are loaded and held
// at that position before returning.
func runTune(ctx context.Context, out io.Writer, config *Config, opts tuneOptions) error {
	name, setpoint := opts.Name, opts.Setpoint
	hw, sim, err := OpenHardware(ctx, config, opts.DryRun)
	if err != nil {
		return err
	}
	robot, err := NewRobot(config, hw, sim, nil)
	if err != nil {
		return err
	}
	a, ok := robot.Actuator(name)
	if !ok {
		return fmt.Errorf("unknown actuator %s", name)
	}
	// Reject an unknown position before the session starts
	if opts.ApplyPosition != "" {
		if err := a.LockTo(opts.ApplyPosition); err != nil {
			return err
		}
	}
	if setpoint == 0 {
		lo, hi := a.Range()
		setpoint = (lo + hi) / 2
	}

	if sim != nil {
		simCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go sim.Run(simCtx, config.Control.Period)
	}

	result, trace, err := RunAutotune(ctx, a, config.Autotune, setpoint, nil)
	if len(trace) > 1 {
		inputs := make([]float64, len(trace))
		for i, s := range trace {
			inputs[i] = s.Input
		}
		fmt.Fprintln(out, asciigraph.Plot(inputs,
			asciigraph.Height(12),
			asciigraph.Width(72),
			asciigraph.Caption(fmt.Sprintf("%s pot around %.0f", name, setpoint))))
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nKu=%.5f Pu=%.2fs\n", result.Ku, result.Pu)
	fmt.Fprintf(out, "actuators:\n  - name: %s\n    pid:\n      kp: %.5f\n      ki: %.5f\n      kd: %.5f\n",
		name, result.Kp, result.Ki, result.Kd)

	if opts.ApplyPosition == "" {
		return nil
	}
	kp, ki, kd := a.Gains()
	residual, err := ApplyGains(ctx, a, result, opts.ApplyPosition, opts.ApplyHold, config.Control.Period)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nprevious gains: kp %.5f ki %.5f kd %.5f\n", kp, ki, kd)
	fmt.Fprintf(out, "held %s for %v, error %.0f\n", opts.ApplyPosition, opts.ApplyHold, residual)
	if err := a.Stop(); err != nil {
		log.Printf("Warning: failed to stop %s: %v", name, err)
	}
	return nil
}

// listRoutines prints every routine with its step count and duration
func listRoutines(out io.Writer, config *Config) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTEPS\tDURATION")
	for _, r := range config.Autonomous.Routines {
		var total time.Duration
		for _, s := range r.Steps {
			total += s.Duration
		}
		fmt.Fprintf(w, "%s\t%d\t%v\n", r.Name, len(r.Steps), total)
	}
	return w.Flush()
}

func describeConfigPath() string {
	if configPath == "" {
		return "built-in"
	}
	return configPath
}
