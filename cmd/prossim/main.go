// Command prossim runs PROS robot programs compiled to WebAssembly.
package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/config"
	"github.com/vexide/pros-simulator/engine"
	"github.com/vexide/pros-simulator/host"
	"github.com/vexide/pros-simulator/recorder"
	"github.com/vexide/pros-simulator/rtos"
	"github.com/vexide/pros-simulator/runtime"
)

var (
	configPath string
	logLevel   string

	cfg = config.Default()
	log = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "prossim",
	Short: "Simulate PROS robot code",
	Long: `prossim runs a PROS robot program compiled to WebAssembly against a
simulated V5 brain: tasks, mutexes, the LLEMU display, controllers and
competition control.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		l, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		installLogger(l)
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = log.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(versionCmd)
}

// installLogger hands l to every package that logs.
func installLogger(l *zap.Logger) {
	log = l
	rtos.SetLogger(l.Named("rtos"))
	engine.SetLogger(l.Named("engine"))
	host.SetLogger(l.Named("host"))
	runtime.SetLogger(l.Named("runtime"))
	recorder.SetLogger(l.Named("recorder"))
}

// exitCodeError ends the process with a specific status. A nil err exits
// quietly.
type exitCodeError struct {
	err  error
	code int
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	code := 1
	var ec *exitCodeError
	if stderrors.As(err, &ec) {
		code = ec.code
	}
	if ec == nil || ec.err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(code)
}
