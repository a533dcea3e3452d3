package tracing

import (
	"encoding/hex"
	"log"

	"github.com/sarchlab/rvcosim/config"
	"github.com/sarchlab/rvcosim/driver"
	"github.com/sarchlab/rvcosim/hooking"
)

// LogTracer prints driver activity. Which activity is printed depends on the
// log level: state changes and divergences always, overrides from info,
// retirements from debug, and bus transactions from trace.
type LogTracer struct {
	*log.Logger

	verbosity int
}

// NewLogTracer creates a LogTracer that prints to logger.
func NewLogTracer(logger *log.Logger, level string) *LogTracer {
	return &LogTracer{
		Logger:    logger,
		verbosity: config.Verbosity(level),
	}
}

// Func prints the event of the hook context.
func (t *LogTracer) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case driver.HookPosStateChange:
		c := ctx.Item.(driver.StateChange)
		t.Printf("[%d] run %s -> %s: %s", c.Tick, c.From, c.To, c.Reason)
	case driver.HookPosDivergence:
		div := ctx.Item.(*driver.DivergenceError)
		t.Printf("%s", div)
	case driver.HookPosOverride:
		if t.verbosity >= config.Verbosity(config.LogLevelInfo) {
			r := ctx.Item.(driver.Retirement)
			t.Printf("[%d] #%d override pc=%#x inst=%#x",
				r.Tick, r.Seq, r.Record.PC, r.Record.Inst)
		}
	case driver.HookPosRetire:
		if t.verbosity >= config.Verbosity(config.LogLevelDebug) {
			r := ctx.Item.(driver.Retirement)
			t.Printf("[%d] #%d retire pc=%#x inst=%#x",
				r.Tick, r.Seq, r.Record.PC, r.Record.Inst)
		}
	case driver.HookPosBusRead, driver.HookPosFetch, driver.HookPosBusWrite:
		if t.verbosity >= config.Verbosity(config.LogLevelTrace) {
			t.printAccess(ctx.Item.(driver.BusAccess))
		}
	}
}

func (t *LogTracer) printAccess(a driver.BusAccess) {
	op := "read"
	if a.Write {
		op = "write"
	}

	if a.Err != nil {
		t.Printf("[%d] %s %s (addr=%#x, size=%d) failed: %v",
			a.Tick, a.Channel, op, a.Addr, 1<<a.SizeLog2, a.Err)
		return
	}

	t.Printf("[%d] %s %s (addr=%#x, size=%d, data=%s)",
		a.Tick, a.Channel, op, a.Addr, 1<<a.SizeLog2, hex.EncodeToString(a.Data))
}
