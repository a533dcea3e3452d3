package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/sarchlab/rvcosim/datarecording"
	"github.com/sarchlab/rvcosim/tracing"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the events of a recorded run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		trace, _ := cmd.Flags().GetString("trace")
		if trace == "" {
			return fmt.Errorf("--trace is required")
		}

		limit, _ := cmd.Flags().GetInt("limit")

		return listEvents(cmd.Context(), cmd.OutOrStdout(), trace, limit)
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().String("trace", "", "The recording database")
	eventsCmd.Flags().Int("limit", 0, "Stop after this many events, 0 for all")
}

func listEvents(ctx context.Context, w io.Writer, path string, limit int) error {
	reader, err := datarecording.OpenReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	info, err := tracing.ReadRunInfo(ctx, reader)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "run %s of %s started %s\n",
		info.RunID, info.ELFPath, info.StartTime)

	events, err := tracing.ReadEvents(ctx, reader)
	if err != nil {
		return err
	}

	for i, e := range events {
		if limit > 0 && i >= limit {
			break
		}

		fmt.Fprintf(w, "%6d [%d] %s\n", e.Seq, e.Tick, describeEvent(e))
	}

	return nil
}

func describeEvent(e tracing.Event) string {
	switch e.Kind {
	case tracing.KindRetire, tracing.KindOverride:
		return fmt.Sprintf("%s pc=%#x inst=%#08x", e.Kind, e.Record.PC, e.Record.Inst)
	case tracing.KindState:
		return fmt.Sprintf("%s -> %s: %s", e.Kind, e.State, e.Err)
	}

	s := fmt.Sprintf("%s addr=%#x size=%d data=%s",
		e.Kind, e.Addr, 1<<e.SizeLog2, hex.EncodeToString(e.Data))
	if e.Err != "" {
		s += " error=" + e.Err
	}

	return s
}
