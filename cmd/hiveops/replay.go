package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hiveops/internal/clock"
	"hiveops/internal/logging"
	"hiveops/internal/sink"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay an agent telemetry log file",
	Long:  "replay feeds agent telemetry rows from a JSONL export back into GreptimeDB or STDOUT.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		log := logging.New(cmd.ErrOrStderr(), logLevel)
		writer, err := baseWriter(replayPrintOnly, log)
		if err != nil {
			return err
		}
		ctx := logging.NewContext(cmd.Context(), log)
		return sink.ReplayLogFile(ctx, replayInput, writer, clock.Real{}, replaySpeed)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to telemetry log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to DB")
	replayCmd.MarkFlagRequired("input")
}
