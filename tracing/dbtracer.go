package tracing

import (
	"encoding/hex"
	"time"

	"github.com/rs/xid"
	"github.com/sarchlab/rvcosim/arch"
	"github.com/sarchlab/rvcosim/datarecording"
	"github.com/sarchlab/rvcosim/driver"
	"github.com/sarchlab/rvcosim/hooking"
)

// DBTracer records every driver event into a database so that a run can be
// inspected or replayed later.
type DBTracer struct {
	backend      datarecording.DataRecorder
	recordOracle bool
	seq          uint64
}

// NewDBTracer creates the tables of a recording and writes the run_info row.
// A missing RunID or StartTime is filled in.
func NewDBTracer(
	dataRecorder datarecording.DataRecorder,
	info RunInfo,
) *DBTracer {
	dataRecorder.CreateTable(RunInfoTable, RunInfo{})
	dataRecorder.CreateTable(EventTable, eventEntry{})
	dataRecorder.CreateTable(OracleStatesTable, oracleStateEntry{})

	if info.RunID == "" {
		info.RunID = xid.New().String()
	}

	if info.StartTime == "" {
		info.StartTime = time.Now().Format(time.RFC3339)
	}

	info.SchemaVersion = arch.SchemaVersion
	dataRecorder.InsertData(RunInfoTable, info)

	return &DBTracer{
		backend: dataRecorder,
	}
}

// RecordOracleStates makes the tracer also record the reference model state
// after each compared instruction, starting from initial. Such a recording
// can serve as the golden trace of a replay.
func (t *DBTracer) RecordOracleStates(initial arch.ArchState) {
	t.recordOracle = true
	t.insertState(0, initial)
}

// Func records the event of the hook context.
func (t *DBTracer) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case driver.HookPosBusRead, driver.HookPosFetch, driver.HookPosBusWrite:
		t.recordAccess(ctx.Item.(driver.BusAccess))
	case driver.HookPosRetire:
		r := ctx.Item.(driver.Retirement)
		t.recordRetirement(KindRetire, r)

		if t.recordOracle {
			t.insertState(r.Seq, r.Oracle)
		}
	case driver.HookPosOverride:
		t.recordRetirement(KindOverride, ctx.Item.(driver.Retirement))
	case driver.HookPosStateChange:
		c := ctx.Item.(driver.StateChange)
		t.insertEvent(eventEntry{
			Tick:    c.Tick,
			Kind:    KindState,
			Payload: c.To.String(),
			Error:   c.Reason,
		})
	}
}

// Flush writes the buffered rows to the database.
func (t *DBTracer) Flush() {
	t.backend.Flush()
}

func (t *DBTracer) recordAccess(a driver.BusAccess) {
	kind := KindRead

	switch {
	case a.Write:
		kind = KindWrite
	case a.Channel == driver.ChannelFetch:
		kind = KindFetch
	}

	e := eventEntry{
		Tick:     a.Tick,
		Kind:     kind,
		Address:  uint64(a.Addr),
		SizeLog2: a.SizeLog2,
		Strobe:   encodeStrobe(a.Strobe),
		Payload:  hex.EncodeToString(a.Data),
	}

	if a.Err != nil {
		e.Error = a.Err.Error()
	}

	t.insertEvent(e)
}

func (t *DBTracer) recordRetirement(kind string, r driver.Retirement) {
	buf, _ := r.Record.MarshalBinary()

	t.insertEvent(eventEntry{
		Tick:    r.Tick,
		Kind:    kind,
		Address: r.Record.PC,
		Payload: hex.EncodeToString(buf),
	})
}

func (t *DBTracer) insertEvent(e eventEntry) {
	t.seq++
	e.Seq = t.seq
	t.backend.InsertData(EventTable, e)
}

func (t *DBTracer) insertState(seq uint64, s arch.ArchState) {
	buf, _ := s.MarshalBinary()

	t.backend.InsertData(OracleStatesTable, oracleStateEntry{
		Seq:     seq,
		Payload: hex.EncodeToString(buf),
	})
}

func encodeStrobe(strobe []bool) string {
	if strobe == nil {
		return ""
	}

	bits := make([]byte, len(strobe))
	for i, s := range strobe {
		if s {
			bits[i] = '1'
		} else {
			bits[i] = '0'
		}
	}

	return string(bits)
}

func decodeStrobe(s string) []bool {
	if s == "" {
		return nil
	}

	strobe := make([]bool, len(s))
	for i := range s {
		strobe[i] = s[i] == '1'
	}

	return strobe
}
