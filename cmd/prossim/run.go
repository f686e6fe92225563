package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/vexide/pros-simulator/event"
)

var runFlags struct {
	phase     string
	connected bool
	messages  string
	clock     string
	record    string
	format    string
	timeout   time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run <robot.wasm>",
	Short: "Run robot code with scripted input",
	Long: `Run loads a robot program, applies the initial phase and any scripted
messages, and runs until the program finishes, exits or deadlocks.

The messages file is read in full before the program is loaded, so every
scripted message is queued at once and applied together at the first step
boundary, in file order. Use "prossim serve" to send input while the
program runs.

The process exits with the robot's exit code if it called exit, 2 on
deadlock and 1 on any other failure.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.phase, "phase", "opcontrol", "initial competition phase: disabled, autonomous or opcontrol; empty for none")
	f.BoolVar(&runFlags.connected, "connected", false, "start connected to competition control")
	f.StringVar(&runFlags.messages, "messages", "", "NDJSON file of messages, all applied at the first step after the initial phase")
	f.StringVar(&runFlags.clock, "clock", "", "clock mode: virtual or realtime")
	f.StringVar(&runFlags.record, "record", "", "record the run to this SQLite database")
	f.StringVar(&runFlags.format, "format", formatAuto, "output format: auto, ndjson or pretty")
	f.DurationVar(&runFlags.timeout, "timeout", 0, "stop the run after this much wall-clock time")
}

// applyRunFlags overrides config values with flags given on the command line.
func applyRunFlags(cmd *cobra.Command) error {
	if cmd.Flags().Changed("clock") {
		cfg.Clock.Mode = runFlags.clock
	}
	if cmd.Flags().Changed("record") {
		cfg.Record.Path = runFlags.record
	}
	return cfg.Validate()
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := applyRunFlags(cmd); err != nil {
		return err
	}
	sink, err := eventSink(cmd.OutOrStdout(), runFlags.format)
	if err != nil {
		return err
	}

	var initial []event.Message
	if runFlags.phase != "" {
		phase := event.Phase{Mode: event.Mode(runFlags.phase), Connected: runFlags.connected}
		if err := phase.Validate(); err != nil {
			return fmt.Errorf("--phase: %w", err)
		}
		initial = append(initial, event.PhaseChange(phase))
	}

	var script *os.File
	if runFlags.messages != "" {
		script, err = os.Open(runFlags.messages)
		if err != nil {
			return fmt.Errorf("open messages: %w", err)
		}
		defer script.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if runFlags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runFlags.timeout)
		defer cancel()
	}

	s, err := openSession(ctx, args[0])
	if err != nil {
		return err
	}
	s.consume(sink)

	bus := s.sim.Bus()
	for _, msg := range initial {
		_ = bus.Send(msg)
	}
	if script != nil {
		if err := feed(s.sim, script); err != nil {
			s.abort()
			return err
		}
	} else {
		bus.CloseInbound()
	}

	res, err := s.run(ctx)
	if rerr := resultError(res); rerr != nil {
		return rerr
	}
	return err
}
