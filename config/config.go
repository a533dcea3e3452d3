// Package config collects the settings of a co-simulation run from defaults,
// .env files, environment variables and simulator plusargs, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Log levels, from the quietest to the noisiest.
const (
	LogLevelError = "error"
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
	LogLevelTrace = "trace"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is everything a run needs to know before it starts.
type Config struct {
	ELFPath  string
	LogFile  string
	LogLevel string

	// ISA and PrivLevel are passed through to the reference model and
	// recorded with the run.
	ISA       string
	PrivLevel string

	// Timeout is the number of ticks without a commit after which the run
	// times out. HardDeadline caps the run in ticks, 0 means no cap.
	Timeout      uint64
	HardDeadline uint64

	// ClockPeriod is the number of simulator time units per tick.
	ClockPeriod uint64

	// DataWidth and FetchWidth are bus widths in bits.
	DataWidth  uint64
	FetchWidth uint64

	// TrapPC enables the trap protocol when not zero.
	TrapPC uint64

	// WavePath is where waveforms are dumped. DumpStart and DumpEnd bound the
	// dump window in ticks (simulator time / ClockPeriod). The run finishes
	// once the tick passes a nonzero DumpEnd.
	WavePath  string
	DumpStart uint64
	DumpEnd   uint64

	TraceDB      string
	RecordOracle bool
	MonitorPort  int
	ExitCodeFile string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		LogLevel:     LogLevelInfo,
		ISA:          "rv64imafdc",
		PrivLevel:    "u",
		Timeout:      10000,
		ClockPeriod:  10,
		DataWidth:    32,
		FetchWidth:   256,
		WavePath:     "wave.fst",
		ExitCodeFile: "exit_code.txt",
	}
}

type field struct {
	plusArg string
	env     string
	set     func(c *Config, v string) error
}

func str(f func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*f(c) = v
		return nil
	}
}

func u64(f func(c *Config) *uint64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return err
		}

		*f(c) = n

		return nil
	}
}

var fields = []field{
	{"elf-file", "RVCOSIM_ELF_FILE", str(func(c *Config) *string { return &c.ELFPath })},
	{"log-file", "RVCOSIM_LOG_FILE", str(func(c *Config) *string { return &c.LogFile })},
	{"log-level", "RVCOSIM_LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"set", "RVCOSIM_ISA", str(func(c *Config) *string { return &c.ISA })},
	{"lvl", "RVCOSIM_PRIV_LEVEL", str(func(c *Config) *string { return &c.PrivLevel })},
	{"timeout", "RVCOSIM_TIMEOUT", u64(func(c *Config) *uint64 { return &c.Timeout })},
	{"hard-deadline", "RVCOSIM_HARD_DEADLINE", u64(func(c *Config) *uint64 { return &c.HardDeadline })},
	{"clock-period", "RVCOSIM_CLOCK_PERIOD", u64(func(c *Config) *uint64 { return &c.ClockPeriod })},
	{"data-width", "RVCOSIM_DATA_WIDTH", u64(func(c *Config) *uint64 { return &c.DataWidth })},
	{"fetch-width", "RVCOSIM_FETCH_WIDTH", u64(func(c *Config) *uint64 { return &c.FetchWidth })},
	{"trap-pc", "RVCOSIM_TRAP_PC", u64(func(c *Config) *uint64 { return &c.TrapPC })},
	{"wave-path", "RVCOSIM_WAVE_PATH", str(func(c *Config) *string { return &c.WavePath })},
	{"dump-start", "RVCOSIM_DUMP_START", u64(func(c *Config) *uint64 { return &c.DumpStart })},
	{"dump-end", "RVCOSIM_DUMP_END", u64(func(c *Config) *uint64 { return &c.DumpEnd })},
	{"trace-db", "RVCOSIM_TRACE_DB", str(func(c *Config) *string { return &c.TraceDB })},
	{"record-oracle", "RVCOSIM_RECORD_ORACLE", setRecordOracle},
	{"monitor-port", "RVCOSIM_MONITOR_PORT", setMonitorPort},
	{"exit-code-file", "RVCOSIM_EXIT_CODE_FILE", str(func(c *Config) *string { return &c.ExitCodeFile })},
}

func setRecordOracle(c *Config, v string) error {
	if v == "" {
		c.RecordOracle = true
		return nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}

	c.RecordOracle = b

	return nil
}

func setMonitorPort(c *Config, v string) error {
	p, err := strconv.Atoi(v)
	if err != nil {
		return err
	}

	c.MonitorPort = p

	return nil
}

// LoadEnv loads the given .env files, or ".env" when none is given, and then
// applies every RVCOSIM_* variable of the environment. A missing default
// .env file is not an error. Variables already set in the environment win
// over the files.
func (c *Config) LoadEnv(files ...string) error {
	if len(files) == 0 {
		err := godotenv.Load()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
	} else {
		err := godotenv.Load(files...)
		if err != nil {
			return fmt.Errorf("load %s: %w", strings.Join(files, ", "), err)
		}
	}

	for _, f := range fields {
		v, ok := os.LookupEnv(f.env)
		if !ok {
			continue
		}

		if err := f.set(c, v); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, f.env, v, err)
		}
	}

	return nil
}

// ApplyPlusArgs applies simulator plusargs of the form +key=value. Arguments
// that do not start with '+' and unknown keys are ignored, since the
// simulator passes its own arguments along.
func (c *Config) ApplyPlusArgs(args []string) error {
	for _, arg := range args {
		if !strings.HasPrefix(arg, "+") {
			continue
		}

		key, value, _ := strings.Cut(arg[1:], "=")

		for _, f := range fields {
			if f.plusArg != key {
				continue
			}

			if err := f.set(c, value); err != nil {
				return fmt.Errorf("%w: +%s=%q: %v", ErrInvalid, key, value, err)
			}
		}
	}

	return nil
}

// Validate checks that the configuration can drive a run.
func (c Config) Validate() error {
	if c.ELFPath == "" {
		return fmt.Errorf("%w: no ELF file given", ErrInvalid)
	}

	if c.ClockPeriod == 0 {
		return fmt.Errorf("%w: clock period is zero", ErrInvalid)
	}

	if err := checkWidth("data", c.DataWidth); err != nil {
		return err
	}

	if err := checkWidth("fetch", c.FetchWidth); err != nil {
		return err
	}

	if c.DumpEnd != 0 && c.DumpEnd < c.DumpStart {
		return fmt.Errorf("%w: dump end %d is before dump start %d",
			ErrInvalid, c.DumpEnd, c.DumpStart)
	}

	switch c.LogLevel {
	case LogLevelError, LogLevelInfo, LogLevelDebug, LogLevelTrace:
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.LogLevel)
	}

	if c.MonitorPort < 0 || c.MonitorPort > 65535 {
		return fmt.Errorf("%w: monitor port %d", ErrInvalid, c.MonitorPort)
	}

	return nil
}

func checkWidth(name string, bits uint64) error {
	if bits < 8 || bits%8 != 0 {
		return fmt.Errorf("%w: %s width %d is not a whole number of bytes",
			ErrInvalid, name, bits)
	}

	bytes := bits / 8
	if bytes&(bytes-1) != 0 {
		return fmt.Errorf("%w: %s width %d is not a power of two",
			ErrInvalid, name, bits)
	}

	return nil
}

// DataBytes returns the load/store bus width in bytes.
func (c Config) DataBytes() uint64 {
	return c.DataWidth / 8
}

// FetchBytes returns the fetch bus width in bytes.
func (c Config) FetchBytes() uint64 {
	return c.FetchWidth / 8
}

// Verbosity ranks a log level, 0 being error.
func Verbosity(level string) int {
	switch level {
	case LogLevelError:
		return 0
	case LogLevelDebug:
		return 2
	case LogLevelTrace:
		return 3
	default:
		return 1
	}
}
