package driver

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/sarchlab/rvcosim/bus"
	"github.com/sarchlab/rvcosim/config"
	"github.com/sarchlab/rvcosim/hooking"
	"github.com/sarchlab/rvcosim/loader"
	"github.com/sarchlab/rvcosim/oracle"
)

// Builder can build drivers.
type Builder struct {
	bus          *bus.Bus
	oracle       oracle.Oracle
	elfPath      string
	timeTeller   TimeTeller
	timeout      uint64
	hardDeadline uint64
	clockPeriod  uint64
	dataWidth    uint64
	fetchWidth   uint64
	trapPC       uint64
	waveDumper   WaveDumper
	wavePath     string
	dumpStart    uint64
	dumpEnd      uint64
	console      io.Writer
	logger       *log.Logger
}

// MakeBuilder returns a Builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{}.WithConfig(config.Default())
}

// WithBus sets the bus that serves the device under test. By default, the
// driver creates the default bus.
func (b Builder) WithBus(bus *bus.Bus) Builder {
	b.bus = bus
	return b
}

// WithOracle sets the reference model.
func (b Builder) WithOracle(o oracle.Oracle) Builder {
	b.oracle = o
	return b
}

// WithELF sets the program to run.
func (b Builder) WithELF(path string) Builder {
	b.elfPath = path
	return b
}

// WithTimeTeller sets where the driver reads the simulator time from.
func (b Builder) WithTimeTeller(t TimeTeller) Builder {
	b.timeTeller = t
	return b
}

// WithTimeout sets the number of ticks without a commit before the run times
// out.
func (b Builder) WithTimeout(ticks uint64) Builder {
	b.timeout = ticks
	return b
}

// WithHardDeadline sets the tick after which the run times out regardless of
// progress. Zero disables the deadline.
func (b Builder) WithHardDeadline(tick uint64) Builder {
	b.hardDeadline = tick
	return b
}

// WithClockPeriod sets the number of time units per tick.
func (b Builder) WithClockPeriod(period uint64) Builder {
	b.clockPeriod = period
	return b
}

// WithDataWidth sets the load/store bus width in bits.
func (b Builder) WithDataWidth(bits uint64) Builder {
	b.dataWidth = bits
	return b
}

// WithFetchWidth sets the instruction fetch bus width in bits.
func (b Builder) WithFetchWidth(bits uint64) Builder {
	b.fetchWidth = bits
	return b
}

// WithTrapPC enables the trap protocol: retiring the instruction at pc ends
// the run, successfully if a0 is zero.
func (b Builder) WithTrapPC(pc uint64) Builder {
	b.trapPC = pc
	return b
}

// WithWaveDumper sets the collaborator that starts waveform dumps.
func (b Builder) WithWaveDumper(d WaveDumper) Builder {
	b.waveDumper = d
	return b
}

// WithWaveWindow sets where and when to dump waveforms. Start and end are in
// ticks, that is simulator time divided by the clock period, not in raw
// simulator time. An end of zero keeps the window open until the run ends.
func (b Builder) WithWaveWindow(path string, start, end uint64) Builder {
	b.wavePath = path
	b.dumpStart = start
	b.dumpEnd = end

	return b
}

// WithConsole sets where the UART of the default bus prints to.
func (b Builder) WithConsole(w io.Writer) Builder {
	b.console = w
	return b
}

// WithLogger sets the logger for run diagnostics.
func (b Builder) WithLogger(l *log.Logger) Builder {
	b.logger = l
	return b
}

// WithConfig applies everything the configuration says about the driver.
func (b Builder) WithConfig(c config.Config) Builder {
	b.elfPath = c.ELFPath
	b.timeout = c.Timeout
	b.hardDeadline = c.HardDeadline
	b.clockPeriod = c.ClockPeriod
	b.dataWidth = c.DataWidth
	b.fetchWidth = c.FetchWidth
	b.trapPC = c.TrapPC
	b.wavePath = c.WavePath
	b.dumpStart = c.DumpStart
	b.dumpEnd = c.DumpEnd

	return b
}

// Build loads the program and creates a driver that is ready to serve the
// device under test.
func (b Builder) Build(name string) (*Driver, error) {
	if err := b.check(); err != nil {
		return nil, fmt.Errorf("driver %s: %w", name, err)
	}

	d := &Driver{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		bus:          b.bus,
		oracle:       b.oracle,
		timeTeller:   b.timeTeller,
		timeout:      b.timeout,
		hardDeadline: b.hardDeadline,
		clockPeriod:  b.clockPeriod,
		dataWidth:    b.dataWidth / 8,
		fetchWidth:   b.fetchWidth / 8,
		trapPC:       b.trapPC,
		logger:       b.logger,
		state:        Running,
	}

	if d.bus == nil {
		d.bus = bus.NewDefaultBus(b.console)
	}

	if d.timeTeller == nil {
		d.timeTeller = &ManualClock{}
	}

	if d.logger == nil {
		d.logger = log.New(os.Stderr, "", 0)
	}

	if b.waveDumper != nil {
		d.dump = NewDumpControl(b.waveDumper, b.wavePath, b.dumpStart, b.dumpEnd)
		d.dump.logger = d.logger
	}

	program, err := loader.Load(b.elfPath, d.bus, d.oracle)
	if err != nil {
		return nil, fmt.Errorf("driver %s: %w", name, err)
	}

	d.program = program

	state, err := d.oracle.ReadState()
	if err != nil {
		return nil, fmt.Errorf("driver %s: read initial reference state: %w",
			name, err)
	}

	d.cached = state
	d.pc = state.PC
	d.lastCommitTick = d.tick()

	d.logger.Printf("[%d] %s loaded %s, entry %#x, %d segments",
		d.lastCommitTick, name, program.Path, program.Entry,
		len(program.Segments))

	return d, nil
}

func (b Builder) check() error {
	if b.oracle == nil {
		return errors.New("no reference model")
	}

	if b.elfPath == "" {
		return errors.New("no ELF file")
	}

	if b.clockPeriod == 0 {
		return errors.New("clock period is zero")
	}

	for _, w := range []uint64{b.dataWidth, b.fetchWidth} {
		bytes := w / 8
		if w%8 != 0 || bytes == 0 || bytes&(bytes-1) != 0 {
			return fmt.Errorf("bus width of %d bits is not supported", w)
		}
	}

	return nil
}
