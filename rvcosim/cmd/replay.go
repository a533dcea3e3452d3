package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/sarchlab/rvcosim/config"
	"github.com/sarchlab/rvcosim/datarecording"
	"github.com/sarchlab/rvcosim/driver"
	"github.com/sarchlab/rvcosim/oracle/replay"
	"github.com/sarchlab/rvcosim/tracing"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"golang.org/x/term"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded run against a golden trace.",
	Long: "`replay --trace run.sqlite3` feeds the bus transactions and " +
		"retirements of a recorded run to a fresh driver. The reference " +
		"model replays the oracle states of --golden, which defaults to the " +
		"recording itself. The exit code is the one of the replayed run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := replayOptions{}
		opts.tracePath, _ = cmd.Flags().GetString("trace")
		opts.goldenPath, _ = cmd.Flags().GetString("golden")
		opts.elfPath, _ = cmd.Flags().GetString("elf")
		opts.logLevel, _ = cmd.Flags().GetString("log-level")
		opts.timeout, _ = cmd.Flags().GetUint64("timeout")
		opts.hardDeadline, _ = cmd.Flags().GetUint64("hard-deadline")
		opts.trapPC, _ = cmd.Flags().GetUint64("trap-pc")

		if opts.tracePath == "" {
			return fmt.Errorf("--trace is required")
		}

		out := cmd.OutOrStdout()

		state, err := runReplay(cmd.Context(), opts, out)
		if err != nil {
			return err
		}

		printOutcome(out, state, isTerminal(out))
		atexit.Exit(state.ExitCode())

		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().String("trace", "", "The recording to replay")
	replayCmd.Flags().String("golden", "",
		"The recording that provides the oracle states")
	replayCmd.Flags().String("elf", "",
		"The program, if not the one named by the recording")
	replayCmd.Flags().String("log-level", config.LogLevelInfo,
		"One of error, info, debug and trace")
	replayCmd.Flags().Uint64("timeout", 0,
		"Ticks without a commit before timing out, 0 for the default")
	replayCmd.Flags().Uint64("hard-deadline", 0, "Last tick of the run")
	replayCmd.Flags().Uint64("trap-pc", 0, "The pc of the trap instruction")
}

type replayOptions struct {
	tracePath    string
	goldenPath   string
	elfPath      string
	logLevel     string
	timeout      uint64
	hardDeadline uint64
	trapPC       uint64
}

func (o replayOptions) config(info tracing.RunInfo) config.Config {
	cfg := config.Default()
	cfg.ELFPath = info.ELFPath
	cfg.ISA = info.ISA
	cfg.PrivLevel = info.PrivLevel
	cfg.DataWidth = info.DataWidth
	cfg.FetchWidth = info.FetchWidth
	cfg.ClockPeriod = info.ClockPeriod
	cfg.HardDeadline = o.hardDeadline
	cfg.TrapPC = o.trapPC

	if o.elfPath != "" {
		cfg.ELFPath = o.elfPath
	}

	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	if o.timeout != 0 {
		cfg.Timeout = o.timeout
	}

	return cfg
}

func runReplay(
	ctx context.Context,
	opts replayOptions,
	out io.Writer,
) (driver.State, error) {
	reader, err := datarecording.OpenReader(opts.tracePath)
	if err != nil {
		return driver.Running, err
	}
	defer reader.Close()

	info, err := tracing.ReadRunInfo(ctx, reader)
	if err != nil {
		return driver.Running, err
	}

	events, err := tracing.ReadEvents(ctx, reader)
	if err != nil {
		return driver.Running, err
	}

	golden := opts.goldenPath
	if golden == "" {
		golden = opts.tracePath
	}

	o, err := replay.Open(golden)
	if err != nil {
		return driver.Running, err
	}

	cfg := opts.config(info)
	if err := cfg.Validate(); err != nil {
		return driver.Running, err
	}

	logger := log.New(out, "", 0)
	clock := &driver.ManualClock{}

	d, err := driver.MakeBuilder().
		WithConfig(cfg).
		WithOracle(o).
		WithTimeTeller(clock).
		WithConsole(out).
		WithLogger(logger).
		Build("Replay")
	if err != nil {
		return driver.Running, err
	}

	d.AcceptHook(tracing.NewLogTracer(logger, cfg.LogLevel))

	for _, e := range events {
		clock.Set(e.Tick * cfg.ClockPeriod)
		feed(d, e, logger)

		if d.Poll().Terminal() {
			break
		}
	}

	return d.State(), nil
}

// feed hands one recorded event to the driver. Errors are not returned
// because the driver already turned them into a state change.
func feed(d *driver.Driver, e tracing.Event, logger *log.Logger) {
	switch e.Kind {
	case tracing.KindRead:
		data, err := d.HandleRead(uint32(e.Addr), e.SizeLog2)
		checkReplayedRead(e, data, err, logger)
	case tracing.KindFetch:
		data, err := d.HandleFetch(uint32(e.Addr), e.SizeLog2)
		checkReplayedRead(e, data, err, logger)
	case tracing.KindWrite:
		_ = d.HandleWrite(uint32(e.Addr), e.SizeLog2, e.Strobe, e.Data)
	case tracing.KindRetire, tracing.KindOverride:
		_ = d.Retire(e.Record)
	}
}

func checkReplayedRead(
	e tracing.Event,
	data []byte,
	err error,
	logger *log.Logger,
) {
	if err != nil || e.Err != "" || bytes.Equal(data, e.Data) {
		return
	}

	logger.Printf("[%d] %s at %#x returned %x, recorded %x",
		e.Tick, e.Kind, e.Addr, data, e.Data)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printOutcome(w io.Writer, state driver.State, color bool) {
	msg := fmt.Sprintf("%s (exit code %d)", state, state.ExitCode())

	if color {
		code := "31"
		if state.ExitCode() == 0 {
			code = "32"
		}

		msg = "\033[" + code + "m" + msg + "\033[0m"
	}

	fmt.Fprintln(w, msg)
}
