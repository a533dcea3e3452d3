//go:build nemu

// Package nemu adapts the NEMU difftest library to the oracle contract.
//
// The library is linked statically. Set CGO_LDFLAGS to the directory holding
// libnemu.a, for example CGO_LDFLAGS="-L/opt/nemu/build".
package nemu

/*
#cgo LDFLAGS: -lnemu
#include <stdbool.h>
#include <stddef.h>
#include <stdint.h>
#include <stdlib.h>

extern void difftest_init(void);
extern void difftest_regcpy(void *dut, bool direction);
extern void difftest_memcpy(uint64_t addr, void *buf, size_t n, bool direction);
extern void difftest_exec(uint64_t n);
extern void difftest_display(void);
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/sarchlab/rvcosim/arch"
)

// Copy directions of the difftest ABI.
const (
	toDUT = C.bool(false)
	toREF = C.bool(true)
)

var initOnce sync.Once

// Model is the NEMU reference model. NEMU keeps its state in globals, so only
// one Model should exist in a process.
type Model struct {
	buf [arch.ArchStateSize]byte
}

// New initializes NEMU and returns the model.
func New() *Model {
	initOnce.Do(func() {
		C.difftest_init()
	})

	return &Model{}
}

// Step executes one instruction.
func (m *Model) Step() error {
	C.difftest_exec(1)
	return nil
}

// ReadState copies the registers out of NEMU.
func (m *Model) ReadState() (arch.ArchState, error) {
	var s arch.ArchState

	C.difftest_regcpy(unsafe.Pointer(&m.buf[0]), toDUT)

	err := s.UnmarshalBinary(m.buf[:])
	if err != nil {
		return s, fmt.Errorf("nemu regcpy: %w", err)
	}

	return s, nil
}

// WriteState copies the registers into NEMU.
func (m *Model) WriteState(state arch.ArchState) error {
	buf, err := state.MarshalBinary()
	if err != nil {
		return err
	}

	copy(m.buf[:], buf)
	C.difftest_regcpy(unsafe.Pointer(&m.buf[0]), toREF)

	return nil
}

// LoadMemory copies a program segment into NEMU's memory.
func (m *Model) LoadMemory(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	cbuf := C.CBytes(data)
	defer C.free(cbuf)

	C.difftest_memcpy(C.uint64_t(addr), cbuf, C.size_t(len(data)), toREF)

	return nil
}

// Display makes NEMU print its registers to the standard output.
func (m *Model) Display() string {
	C.difftest_display()
	return "(nemu state printed to stdout)"
}
