package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vexide/pros-simulator/recorder"
)

var replayFormat string

var replayCmd = &cobra.Command{
	Use:   "replay <db> [run-id]",
	Short: "Print a recorded run, or list recorded runs",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := recorder.Open(args[0])
		if err != nil {
			return err
		}
		defer rec.Close()

		if len(args) == 1 {
			return listRuns(cmd, rec)
		}

		sink, err := eventSink(cmd.OutOrStdout(), replayFormat)
		if err != nil {
			return err
		}
		return rec.Replay(cmd.Context(), args[1], sink)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFormat, "format", formatNDJSON, "output format: auto, ndjson or pretty")
}

func listRuns(cmd *cobra.Command, rec *recorder.Recorder) error {
	runs, err := rec.Runs(cmd.Context())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no recorded runs")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPROGRAM\tSTARTED\tRESULT\tEVENTS")
	for _, r := range runs {
		result := r.Result
		switch {
		case result == "":
			result = "unfinished"
		case r.ExitCode != nil:
			result = fmt.Sprintf("%s (%d)", result, *r.ExitCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			r.ID, r.Program, r.StartedAt.Local().Format(time.DateTime), result, r.Events)
	}
	return w.Flush()
}
