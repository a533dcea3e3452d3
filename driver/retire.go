package driver

import (
	"fmt"
	"strings"

	"github.com/sarchlab/rvcosim/arch"
	"github.com/sarchlab/rvcosim/hooking"
	"github.com/sarchlab/rvcosim/oracle"
)

// RetireMode selects how a retired instruction is checked.
type RetireMode int

const (
	// Compare steps the reference model and compares its state with the
	// retired state.
	Compare RetireMode = iota

	// Override copies the retired registers into the reference model without
	// stepping it. The reference pc is set to the fall-through pc of the
	// record (pc+2 for compressed instructions, pc+4 otherwise), so a skipped
	// instruction that jumps is not followed. It is used for instructions
	// the reference model cannot reproduce.
	Override
)

func (m RetireMode) String() string {
	if m == Override {
		return "override"
	}

	return "compare"
}

// ModeOf returns the mode a record is checked with.
func ModeOf(rec arch.RetirementRecord) RetireMode {
	if rec.Skip {
		return Override
	}

	return Compare
}

// A DivergenceError reports that the device under test and the reference
// model disagree after an instruction.
type DivergenceError struct {
	Seq        uint64
	Record     arch.RetirementRecord
	Expected   arch.ArchState
	Mismatches []arch.FieldMismatch
}

func (e *DivergenceError) Error() string {
	msgs := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		msgs[i] = m.String()
	}

	return fmt.Sprintf("divergence at retirement %d, pc %#x: %s",
		e.Seq, e.Record.PC, strings.Join(msgs, "; "))
}

// Retire checks one retired instruction. Once the run is over, Retire does
// nothing. A mismatch ends the run as BadTrap and returns a
// *DivergenceError.
func (d *Driver) Retire(rec arch.RetirementRecord) error {
	if d.state.Terminal() {
		return nil
	}

	d.seq++

	switch ModeOf(rec) {
	case Override:
		return d.override(rec)
	default:
		return d.compare(rec)
	}
}

func (d *Driver) override(rec arch.RetirementRecord) error {
	state := arch.ArchState{
		GPR: rec.GPR,
		CSR: rec.CSR,
		PC:  rec.NextPC(),
	}

	err := d.oracle.WriteState(state)
	if err != nil {
		return d.failOracle("override", err)
	}

	d.commit(HookPosOverride, Override, rec, state)

	return nil
}

func (d *Driver) compare(rec arch.RetirementRecord) error {
	expectedPC := d.pc

	err := d.oracle.Step()
	if err != nil {
		return d.failOracle("step", err)
	}

	state, err := d.oracle.ReadState()
	if err != nil {
		return d.failOracle("read state", err)
	}

	mismatches := arch.DiffPC(expectedPC, rec.PC)
	mismatches = append(mismatches, state.DiffRegisters(rec.State())...)

	if len(mismatches) > 0 {
		expected := state
		expected.PC = expectedPC

		div := &DivergenceError{
			Seq:        d.seq,
			Record:     rec,
			Expected:   expected,
			Mismatches: mismatches,
		}
		d.reportDivergence(div)

		return div
	}

	d.commit(HookPosRetire, Compare, rec, state)
	d.checkTrap(rec)

	return nil
}

func (d *Driver) commit(
	pos *hooking.HookPos,
	mode RetireMode,
	rec arch.RetirementRecord,
	state arch.ArchState,
) {
	d.cached = state
	d.pc = state.PC
	d.retired++
	d.lastCommitTick = d.tick()

	d.InvokeHook(hooking.HookCtx{
		Domain: d,
		Pos:    pos,
		Item: Retirement{
			Seq:    d.seq,
			Tick:   d.lastCommitTick,
			Mode:   mode,
			Record: rec,
			Oracle: state,
		},
	})
}

func (d *Driver) checkTrap(rec arch.RetirementRecord) {
	if d.trapPC == 0 || rec.PC != d.trapPC {
		return
	}

	a0 := rec.GPR[10]
	if a0 == 0 {
		d.setState(GoodTrap, "trap with a0 = 0")
		return
	}

	d.setState(BadTrap, fmt.Sprintf("trap with a0 = %#x", a0))
}

func (d *Driver) failOracle(op string, err error) error {
	err = fmt.Errorf("reference model %s at retirement %d: %w", op, d.seq, err)
	d.setState(BadTrap, err.Error())

	return err
}

func (d *Driver) reportDivergence(div *DivergenceError) {
	tick := d.tick()

	for _, m := range div.Mismatches {
		d.logger.Printf("[%d] %s", tick, m)
	}

	sb := new(strings.Builder)
	fmt.Fprintf(sb, "dut display (%s):\n",
		d.program.Symbols.Describe(div.Record.PC))
	sb.WriteString(div.Record.Dump())

	if dis, ok := d.oracle.(oracle.Disassembler); ok {
		fmt.Fprintf(sb, "dut inst: %s\n", dis.Disassemble(div.Record.PC, div.Record.Inst))
	}

	fmt.Fprintf(sb, "last agreed pc: %#x (%s)\n",
		d.cached.PC, d.program.Symbols.Describe(d.cached.PC))
	sb.WriteString("ref display:\n")
	sb.WriteString(d.oracle.Display())

	d.logger.Printf("[%d] %s", tick, sb.String())

	d.setState(BadTrap, div.Error())

	d.InvokeHook(hooking.HookCtx{
		Domain: d,
		Pos:    HookPosDivergence,
		Item:   div,
	})
}
