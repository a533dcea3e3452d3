package driver

import "log"

// A WaveDumper starts recording waveforms of the hardware simulation.
type WaveDumper interface {
	StartDump(path string) error
}

// DumpControl decides when the waveform dump starts and when the dump window
// is over.
type DumpControl struct {
	dumper  WaveDumper
	logger  *log.Logger
	path    string
	start   uint64
	end     uint64
	started bool
}

// NewDumpControl creates a DumpControl for the window [start, end], measured
// in ticks. An end of zero means the window never closes.
func NewDumpControl(
	dumper WaveDumper,
	path string,
	start, end uint64,
) *DumpControl {
	return &DumpControl{
		dumper: dumper,
		logger: log.Default(),
		path:   path,
		start:  start,
		end:    end,
	}
}

// Started reports whether the dump has been started.
func (c *DumpControl) Started() bool {
	return c.started
}

// Ended reports whether tick is beyond the dump window.
func (c *DumpControl) Ended(tick uint64) bool {
	return c.end != 0 && tick > c.end
}

// TryStart starts the dump once tick reaches the start of the window. The dump
// is started at most once. A failure to start is logged and not retried.
func (c *DumpControl) TryStart(tick uint64) {
	if c.started || tick < c.start {
		return
	}

	c.started = true

	err := c.dumper.StartDump(c.path)
	if err != nil {
		c.logger.Printf("[%d] failed to start wave dump to %s: %v", tick, c.path, err)
		return
	}

	c.logger.Printf("[%d] wave dump started: %s", tick, c.path)
}
