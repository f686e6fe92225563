package main

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/event"
)

var serveCmd = &cobra.Command{
	Use:   "serve <robot.wasm>",
	Short: "Run robot code driven by NDJSON on stdin",
	Long: `Serve runs robot code as a subprocess of a graphical frontend. Messages
are read from stdin, one JSON object per line, and events are written to
stdout the same way. Logs go to stderr.

Nothing runs until the first phase_change message. The run ends once stdin
is closed and no task can run again.`,
	Aliases: []string{"stdio"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyRunFlags(cmd); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		s, err := openSession(ctx, args[0])
		if err != nil {
			return err
		}
		s.consume(event.NewEncoder(cmd.OutOrStdout()).Encode)

		go func() {
			if err := feed(s.sim, cmd.InOrStdin()); err != nil {
				log.Error("stopped reading stdin", zap.Error(err))
			}
		}()

		res, err := s.run(ctx)
		if rerr := resultError(res); rerr != nil {
			return rerr
		}
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&runFlags.clock, "clock", "", "clock mode: virtual or realtime")
	serveCmd.Flags().StringVar(&runFlags.record, "record", "", "record the run to this SQLite database")
}
