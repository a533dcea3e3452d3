package tracing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/sarchlab/rvcosim/arch"
	"github.com/sarchlab/rvcosim/datarecording"
)

// ErrNoRunInfo is returned when a recording has no run_info row.
var ErrNoRunInfo = errors.New("recording has no run info")

// An Event is a recorded driver event.
type Event struct {
	Seq      uint64
	Tick     uint64
	Kind     string
	Addr     uint64
	SizeLog2 uint8
	Strobe   []bool
	Data     []byte
	Record   arch.RetirementRecord
	State    string
	Err      string
}

// ReadRunInfo returns the description of a recorded run.
func ReadRunInfo(
	ctx context.Context,
	reader datarecording.DataReader,
) (RunInfo, error) {
	reader.MapTable(RunInfoTable, RunInfo{})

	rows, err := reader.Query(ctx, RunInfoTable,
		datarecording.QueryParams{Limit: 1})
	if err != nil {
		return RunInfo{}, err
	}

	if len(rows) == 0 {
		return RunInfo{}, ErrNoRunInfo
	}

	return *rows[0].(*RunInfo), nil
}

// ReadEvents returns the recorded events in the order they happened.
func ReadEvents(
	ctx context.Context,
	reader datarecording.DataReader,
) ([]Event, error) {
	reader.MapTable(EventTable, eventEntry{})

	rows, err := reader.Query(ctx, EventTable,
		datarecording.QueryParams{OrderBy: "Seq ASC"})
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(rows))

	for _, row := range rows {
		e, err := decodeEvent(*row.(*eventEntry))
		if err != nil {
			return nil, err
		}

		events = append(events, e)
	}

	return events, nil
}

func decodeEvent(row eventEntry) (Event, error) {
	e := Event{
		Seq:      row.Seq,
		Tick:     row.Tick,
		Kind:     row.Kind,
		Addr:     row.Address,
		SizeLog2: row.SizeLog2,
		Strobe:   decodeStrobe(row.Strobe),
		Err:      row.Error,
	}

	switch row.Kind {
	case KindState:
		e.State = row.Payload
		return e, nil
	case KindRetire, KindOverride:
		buf, err := hex.DecodeString(row.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("event %d: %w", row.Seq, err)
		}

		if err := e.Record.UnmarshalBinary(buf); err != nil {
			return Event{}, fmt.Errorf("event %d: %w", row.Seq, err)
		}
	default:
		buf, err := hex.DecodeString(row.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("event %d: %w", row.Seq, err)
		}

		e.Data = buf
	}

	return e, nil
}

// ReadOracleStates returns the recorded reference model states ordered by
// retirement. The first state is the one before the first instruction.
func ReadOracleStates(
	ctx context.Context,
	reader datarecording.DataReader,
) ([]arch.ArchState, error) {
	reader.MapTable(OracleStatesTable, oracleStateEntry{})

	rows, err := reader.Query(ctx, OracleStatesTable,
		datarecording.QueryParams{OrderBy: "Seq ASC"})
	if err != nil {
		return nil, err
	}

	states := make([]arch.ArchState, len(rows))

	for i, row := range rows {
		entry := row.(*oracleStateEntry)

		buf, err := hex.DecodeString(entry.Payload)
		if err != nil {
			return nil, fmt.Errorf("oracle state %d: %w", entry.Seq, err)
		}

		if err := states[i].UnmarshalBinary(buf); err != nil {
			return nil, fmt.Errorf("oracle state %d: %w", entry.Seq, err)
		}
	}

	return states, nil
}
