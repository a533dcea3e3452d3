// Package replay provides a reference model that plays back the states
// recorded by an earlier run instead of executing instructions.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/sarchlab/rvcosim/arch"
	"github.com/sarchlab/rvcosim/datarecording"
	"github.com/sarchlab/rvcosim/tracing"
)

// ErrExhausted is returned by Step when every recorded state has been played.
var ErrExhausted = errors.New("replay: no more recorded states")

// Oracle replays a golden trace.
type Oracle struct {
	states   []arch.ArchState
	next     int
	current  arch.ArchState
	segments int
}

// Open reads the golden trace recorded in the database file at path.
func Open(path string) (*Oracle, error) {
	reader, err := datarecording.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return New(reader)
}

// New reads the golden trace from reader.
func New(reader datarecording.DataReader) (*Oracle, error) {
	states, err := tracing.ReadOracleStates(context.Background(), reader)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	return NewFromStates(states)
}

// NewFromStates creates an oracle over states. The first state is the one
// before the first instruction.
func NewFromStates(states []arch.ArchState) (*Oracle, error) {
	if len(states) == 0 {
		return nil, errors.New("replay: golden trace is empty")
	}

	return &Oracle{
		states:  states,
		next:    1,
		current: states[0],
	}, nil
}

// Step moves to the next recorded state.
func (o *Oracle) Step() error {
	if o.next >= len(o.states) {
		return fmt.Errorf("%w after %d steps", ErrExhausted, o.next-1)
	}

	o.current = o.states[o.next]
	o.next++

	return nil
}

// ReadState returns the current state.
func (o *Oracle) ReadState() (arch.ArchState, error) {
	return o.current, nil
}

// WriteState replaces the current state until the next step.
func (o *Oracle) WriteState(state arch.ArchState) error {
	o.current = state
	return nil
}

// LoadMemory only counts the segments. The recorded states already reflect
// the program.
func (o *Oracle) LoadMemory(_ uint64, _ []byte) error {
	o.segments++
	return nil
}

// Segments returns the number of segments loaded.
func (o *Oracle) Segments() int {
	return o.segments
}

// Remaining returns the number of steps left.
func (o *Oracle) Remaining() int {
	return len(o.states) - o.next
}

// Display renders the current state.
func (o *Oracle) Display() string {
	return fmt.Sprintf("replay step %d of %d\n%s",
		o.next-1, len(o.states)-1, o.current.Dump())
}
