// Package oracle defines the contract of the reference instruction-set
// simulator that the driver checks the device under test against.
package oracle

import "github.com/sarchlab/rvcosim/arch"

// An Oracle is a reference model that executes the same program as the device
// under test.
type Oracle interface {
	// Step executes exactly one instruction.
	Step() error

	// ReadState copies the architectural state out of the model.
	ReadState() (arch.ArchState, error)

	// WriteState overrides the architectural state of the model.
	WriteState(state arch.ArchState) error

	// LoadMemory copies data into the memory of the model at addr.
	LoadMemory(addr uint64, data []byte) error

	// Display renders the internal state of the model for humans.
	Display() string
}

// A Disassembler is an Oracle that can also render an instruction.
type Disassembler interface {
	Disassemble(pc uint64, inst uint32) string
}
