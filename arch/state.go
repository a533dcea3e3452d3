// Package arch defines the architectural state that is exchanged between the
// device under test, the driver, and the reference model.
package arch

import (
	"fmt"
	"strings"
)

// ArchState is a snapshot of the architectural registers of a hart.
type ArchState struct {
	GPR [NumGPR]uint64
	CSR [NumCSR]uint64
	PC  uint64
}

// A RetirementRecord is reported by the device under test once for every
// committed instruction.
type RetirementRecord struct {
	Inst uint32
	PC   uint64
	GPR  [NumGPR]uint64
	CSR  [NumCSR]uint64

	// Skip marks an instruction whose result the reference model cannot
	// reproduce, such as a read of a wall-clock CSR.
	Skip    bool
	IsRVC   bool
	RFWen   bool
	IsLoad  bool
	IsStore bool
}

// State returns the architectural state carried by the record.
func (r RetirementRecord) State() ArchState {
	return ArchState{
		GPR: r.GPR,
		CSR: r.CSR,
		PC:  r.PC,
	}
}

// NextPC returns the fall-through pc of the retired instruction.
func (r RetirementRecord) NextPC() uint64 {
	if r.IsRVC {
		return r.PC + 2
	}

	return r.PC + 4
}

// Dump renders every field of the record, one per line.
func (r RetirementRecord) Dump() string {
	sb := new(strings.Builder)

	fmt.Fprintf(sb, "pc: %#x\n", r.PC)
	fmt.Fprintf(sb, "inst: %#x\n", r.Inst)
	fmt.Fprintf(sb, "flags: skip=%t rvc=%t rfwen=%t load=%t store=%t\n",
		r.Skip, r.IsRVC, r.RFWen, r.IsLoad, r.IsStore)
	writeRegisters(sb, r.GPR, r.CSR)

	return sb.String()
}

// Dump renders every field of the state, one per line.
func (s ArchState) Dump() string {
	sb := new(strings.Builder)

	fmt.Fprintf(sb, "pc: %#x\n", s.PC)
	writeRegisters(sb, s.GPR, s.CSR)

	return sb.String()
}

func writeRegisters(
	sb *strings.Builder,
	gpr [NumGPR]uint64,
	csr [NumCSR]uint64,
) {
	for i, v := range gpr {
		fmt.Fprintf(sb, "gpr%d(%s): %#x\n", i, GPRName(i), v)
	}

	for i, v := range csr {
		fmt.Fprintf(sb, "csr %s: %#x\n", CSRName(i), v)
	}
}
