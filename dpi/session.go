// Package dpi is the boundary between the hardware simulator and the driver.
// The simulator may call in from threads the driver does not control, so a
// Session serializes every call onto a single driver.
package dpi

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"sync"

	"github.com/sarchlab/rvcosim/arch"
	"github.com/sarchlab/rvcosim/config"
	"github.com/sarchlab/rvcosim/datarecording"
	"github.com/sarchlab/rvcosim/driver"
	"github.com/sarchlab/rvcosim/monitoring"
	"github.com/sarchlab/rvcosim/oracle"
	"github.com/sarchlab/rvcosim/tracing"
)

var (
	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("dpi: session already initialized")

	// ErrNotInitialized is returned by calls before Init.
	ErrNotInitialized = errors.New("dpi: session not initialized")
)

// Options are the collaborators that the hardware side provides.
type Options struct {
	Oracle     oracle.Oracle
	TimeTeller driver.TimeTeller
	WaveDumper driver.WaveDumper
	Console    io.Writer
}

// Session owns the driver of a run.
type Session struct {
	mu sync.Mutex

	cfg        config.Config
	drv        *driver.Driver
	timeTeller driver.TimeTeller
	logger     *log.Logger
	logFile    *os.File
	recorder   datarecording.DataRecorder
	monitor    *monitoring.Monitor
	final      bool
}

// NewSession creates a session that is not initialized yet.
func NewSession() *Session {
	return &Session{}
}

// Init builds the driver. It can only succeed once.
func (s *Session) Init(cfg config.Config, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drv != nil {
		return ErrAlreadyInitialized
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if opts.TimeTeller == nil {
		opts.TimeTeller = &driver.ManualClock{}
	}

	if err := s.openLog(cfg); err != nil {
		return err
	}

	d, err := driver.MakeBuilder().
		WithConfig(cfg).
		WithOracle(opts.Oracle).
		WithTimeTeller(opts.TimeTeller).
		WithWaveDumper(opts.WaveDumper).
		WithConsole(opts.Console).
		WithLogger(s.logger).
		Build("Driver")
	if err != nil {
		s.closeLog()
		return err
	}

	d.AcceptHook(tracing.NewLogTracer(s.logger, cfg.LogLevel))

	if err := s.startRecording(cfg, d); err != nil {
		s.closeLog()
		return err
	}

	s.cfg = cfg
	s.drv = d
	s.timeTeller = opts.TimeTeller

	if cfg.MonitorPort != 0 {
		s.startMonitor(cfg, d)
	}

	return nil
}

func (s *Session) openLog(cfg config.Config) error {
	if cfg.LogFile == "" {
		s.logger = log.New(os.Stderr, "", 0)
		return nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("dpi: open log file: %w", err)
	}

	s.logFile = f
	s.logger = log.New(f, "", 0)

	return nil
}

func (s *Session) closeLog() {
	if s.logFile != nil {
		s.logger.SetOutput(io.Discard)
		s.logFile.Close()
		s.logFile = nil
	}
}

func (s *Session) startRecording(cfg config.Config, d *driver.Driver) error {
	if cfg.TraceDB == "" {
		return nil
	}

	recorder, err := datarecording.Connect(cfg.TraceDB)
	if err != nil {
		return fmt.Errorf("dpi: open trace database: %w", err)
	}

	tracer := tracing.NewDBTracer(recorder, tracing.RunInfo{
		ELFPath:     cfg.ELFPath,
		ISA:         cfg.ISA,
		PrivLevel:   cfg.PrivLevel,
		DataWidth:   cfg.DataWidth,
		FetchWidth:  cfg.FetchWidth,
		ClockPeriod: cfg.ClockPeriod,
	})

	if cfg.RecordOracle {
		tracer.RecordOracleStates(d.ArchState())
	}

	d.AcceptHook(tracer)
	s.recorder = recorder

	return nil
}

func (s *Session) startMonitor(cfg config.Config, d *driver.Driver) {
	progress := monitoring.NewProgressHook()
	d.AcceptHook(progress)

	s.monitor = monitoring.NewMonitor().
		WithPortNumber(cfg.MonitorPort)
	s.monitor.RegisterStatusSource(s.Status)
	s.monitor.RegisterArchSource(s.ArchState)
	s.monitor.RegisterProgressSource(func() monitoring.Progress {
		s.mu.Lock()
		defer s.mu.Unlock()

		return progress.Progress()
	})

	addr, err := s.monitor.StartServer()
	if err != nil {
		s.logger.Printf("monitor not started: %v", err)
		return
	}

	s.logger.Printf("monitoring run at http://%s", addr)
}

func (s *Session) timeZero() bool {
	return s.timeTeller.Now() == 0
}

// ReadLoadStore serves a load/store read. At time zero, the hardware is not
// out of reset and the read is ignored: the returned data is nil.
func (s *Session) ReadLoadStore(addr uint32, sizeLog2 uint8) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drv == nil {
		return nil, ErrNotInitialized
	}

	if s.timeZero() {
		return nil, nil
	}

	return s.drv.HandleRead(addr, sizeLog2)
}

// ReadFetch serves an instruction fetch. Fetches at time zero are ignored
// like in ReadLoadStore.
func (s *Session) ReadFetch(addr uint32, sizeLog2 uint8) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drv == nil {
		return nil, ErrNotInitialized
	}

	if s.timeZero() {
		return nil, nil
	}

	return s.drv.HandleFetch(addr, sizeLog2)
}

// WriteLoadStore serves a load/store write given as a packed payload.
func (s *Session) WriteLoadStore(addr uint32, sizeLog2 uint8, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drv == nil {
		return ErrNotInitialized
	}

	strobe, data, err := DecodeWritePayload(payload, int(s.cfg.DataBytes()))
	if err != nil {
		return err
	}

	return s.drv.HandleWrite(addr, sizeLog2, strobe, data)
}

// Retire checks a retired instruction given in the packed record layout.
func (s *Session) Retire(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drv == nil {
		return ErrNotInitialized
	}

	var rec arch.RetirementRecord
	if err := rec.UnmarshalBinary(buf); err != nil {
		return err
	}

	return s.drv.Retire(rec)
}

// Watchdog polls the driver and returns the state as its exit code: 2 while
// running, 0 on success, 1 on a failed check, and 3 on a timeout.
func (s *Session) Watchdog() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drv == nil {
		return uint8(driver.Running.ExitCode())
	}

	return uint8(s.drv.Poll().ExitCode())
}

// ResetVector returns the entry point of the program.
func (s *Session) ResetVector() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drv == nil {
		return 0, ErrNotInitialized
	}

	return s.drv.Program().Entry, nil
}

// Config returns the configuration the session was initialized with.
func (s *Session) Config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cfg
}

// Status returns a snapshot of the run.
func (s *Session) Status() driver.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drv == nil {
		return driver.Status{}
	}

	return s.drv.Status()
}

// ArchState returns the last known state of the reference model.
func (s *Session) ArchState() arch.ArchState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drv == nil {
		return arch.ArchState{}
	}

	return s.drv.ArchState()
}

// Final ends the session. It flushes the recording and writes the exit code
// of the run to the exit code file. Final only acts once.
func (s *Session) Final() (driver.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drv == nil {
		return driver.Running, ErrNotInitialized
	}

	state := s.drv.State()
	if s.final {
		return state, nil
	}

	s.final = true

	var errs []error

	if s.recorder != nil {
		errs = append(errs, s.recorder.Close())
	}

	if s.cfg.ExitCodeFile != "" {
		code := strconv.Itoa(state.ExitCode()) + "\n"
		err := os.WriteFile(s.cfg.ExitCodeFile, []byte(code), 0o644)
		if err != nil {
			errs = append(errs, fmt.Errorf("dpi: write exit code: %w", err))
		}
	}

	s.logger.Printf("simulation ended: %s (exit code %d)",
		state, state.ExitCode())
	s.closeLog()

	return state, errors.Join(errs...)
}
