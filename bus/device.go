// Package bus models the memory-mapped devices that answer the bus
// transactions of the device under test.
package bus

import (
	"errors"
	"fmt"
	"io"
)

// A Device answers reads and writes within its own local address space.
// Offsets are relative to the base address the device is mapped at. The bus
// guarantees that every access lies within the device.
type Device interface {
	// Read returns a copy of size bytes starting at offset.
	Read(offset, size uint64) ([]byte, error)

	// Write commits the bytes of data whose strobe bit is set. A nil strobe
	// commits every byte.
	Write(offset uint64, data []byte, strobe []bool) error
}

// Memory is a flat byte store of a fixed size.
type Memory struct {
	storage *Storage
}

// NewMemory creates a memory device of the given size.
func NewMemory(size uint64) *Memory {
	return &Memory{storage: NewStorage(size)}
}

// Size returns the size of the memory in bytes.
func (m *Memory) Size() uint64 {
	return m.storage.Capacity()
}

// Read returns a copy of the requested window.
func (m *Memory) Read(offset, size uint64) ([]byte, error) {
	return m.storage.Read(offset, size)
}

// Write copies data into the window, leaving bytes with a cleared strobe bit
// untouched.
func (m *Memory) Write(offset uint64, data []byte, strobe []bool) error {
	return m.storage.WriteMasked(offset, data, strobe)
}

// UART register offsets.
const (
	UARTRxFIFO = 0x0
	UARTTxFIFO = 0x4
	UARTStat   = 0x8
	UARTCtrl   = 0xc

	// UARTSize is the size of the UART register file.
	UARTSize = 0x10
)

// UART is a polled single-byte transmitter. Every non-zero byte that lands in
// the transmit register is written to the console and the register is cleared.
// The receive path is not modeled and always reads zero.
type UART struct {
	regs    [UARTSize]byte
	console io.Writer
}

// NewUART creates a UART that writes transmitted bytes to console. A nil
// console discards the output.
func NewUART(console io.Writer) *UART {
	if console == nil {
		console = io.Discard
	}

	return &UART{console: console}
}

func (u *UART) checkRange(offset, size uint64) error {
	if offset > UARTSize || size > UARTSize-offset {
		return fmt.Errorf("uart access [%#x, %#x) beyond register file",
			offset, offset+size)
	}

	return nil
}

// Read returns the raw register bytes.
func (u *UART) Read(offset, size uint64) ([]byte, error) {
	if err := u.checkRange(offset, size); err != nil {
		return nil, err
	}

	res := make([]byte, size)
	copy(res, u.regs[offset:offset+size])

	return res, nil
}

// Write commits the strobed bytes and then drains the transmit register.
func (u *UART) Write(offset uint64, data []byte, strobe []bool) error {
	if err := u.checkRange(offset, uint64(len(data))); err != nil {
		return err
	}

	if strobe != nil && len(strobe) != len(data) {
		return errors.New("uart strobe length does not match data length")
	}

	for i, b := range data {
		if strobe == nil || strobe[i] {
			u.regs[offset+uint64(i)] = b
		}
	}

	tx := u.regs[UARTTxFIFO]
	u.regs[UARTTxFIFO] = 0

	if tx != 0 {
		if _, err := u.console.Write([]byte{tx}); err != nil {
			return fmt.Errorf("uart console: %w", err)
		}
	}

	return nil
}
