// Package driver checks a RISC-V device under test against a reference model.
//
// The device under test talks to the driver through three calls: bus
// transactions, retired instructions, and watchdog polls. The driver serves
// the bus transactions from its own memory model, compares every retired
// instruction with the reference model, and reports the state of the run on
// each poll. A Driver is not safe for concurrent use.
package driver

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/sarchlab/rvcosim/arch"
	"github.com/sarchlab/rvcosim/bus"
	"github.com/sarchlab/rvcosim/hooking"
	"github.com/sarchlab/rvcosim/loader"
	"github.com/sarchlab/rvcosim/oracle"
)

// The program ends the run by writing ExitMagic to ExitAddr.
const (
	ExitAddr  = 0x4000_0000
	ExitMagic = 0xDEAD_BEEF
)

// Driver runs the differential check of one program.
type Driver struct {
	*hooking.HookableBase

	name       string
	bus        *bus.Bus
	oracle     oracle.Oracle
	program    *loader.Program
	timeTeller TimeTeller
	dump       *DumpControl
	logger     *log.Logger

	timeout      uint64
	hardDeadline uint64
	clockPeriod  uint64
	dataWidth    uint64
	fetchWidth   uint64
	trapPC       uint64

	state          State
	lastCommitTick uint64

	// pc is the pc of the next instruction the reference model executes.
	pc     uint64
	cached arch.ArchState

	seq     uint64
	retired uint64
	reads   uint64
	writes  uint64
	fetches uint64
}

// Status is a snapshot of a run.
type Status struct {
	Name           string
	State          State
	Tick           uint64
	LastCommitTick uint64
	Retired        uint64
	PC             uint64
	Entry          uint64
	Reads          uint64
	Writes         uint64
	Fetches        uint64
}

// Name returns the name of the driver.
func (d *Driver) Name() string {
	return d.name
}

// State returns the state of the run without polling the watchdog.
func (d *Driver) State() State {
	return d.state
}

// Program returns the loaded program.
func (d *Driver) Program() *loader.Program {
	return d.program
}

// ArchState returns the last known state of the reference model.
func (d *Driver) ArchState() arch.ArchState {
	return d.cached
}

// Status returns a snapshot of the run.
func (d *Driver) Status() Status {
	return Status{
		Name:           d.name,
		State:          d.state,
		Tick:           d.tick(),
		LastCommitTick: d.lastCommitTick,
		Retired:        d.retired,
		PC:             d.pc,
		Entry:          d.program.Entry,
		Reads:          d.reads,
		Writes:         d.writes,
		Fetches:        d.fetches,
	}
}

func (d *Driver) tick() uint64 {
	return d.timeTeller.Now() / d.clockPeriod
}

func (d *Driver) setState(to State, reason string) {
	if d.state.Terminal() {
		return
	}

	change := StateChange{
		Tick:   d.tick(),
		From:   d.state,
		To:     to,
		Reason: reason,
	}

	d.state = to
	d.logger.Printf("[%d] %s: %s -> %s: %s",
		change.Tick, d.name, change.From, change.To, reason)

	d.InvokeHook(hooking.HookCtx{
		Domain: d,
		Pos:    HookPosStateChange,
		Item:   change,
	})
}

// HandleRead serves a read on the load/store port. The result is always as
// wide as the data bus. A failed read ends the run as BadTrap and returns
// zeros along with the error.
func (d *Driver) HandleRead(addr uint32, sizeLog2 uint8) ([]byte, error) {
	d.reads++

	return d.read(ChannelLoadStore, HookPosBusRead, addr, sizeLog2, d.dataWidth)
}

// HandleFetch serves a read on the instruction fetch port.
func (d *Driver) HandleFetch(addr uint32, sizeLog2 uint8) ([]byte, error) {
	d.fetches++

	return d.read(ChannelFetch, HookPosFetch, addr, sizeLog2, d.fetchWidth)
}

func (d *Driver) read(
	ch Channel,
	pos *hooking.HookPos,
	addr uint32,
	sizeLog2 uint8,
	width uint64,
) ([]byte, error) {
	size := uint64(1) << sizeLog2

	data, err := d.bus.Read(uint64(addr), size, width)
	if err != nil {
		err = fmt.Errorf("%s read: %w", ch, err)
		data = make([]byte, width)
		d.setState(BadTrap, err.Error())
	}

	d.InvokeHook(hooking.HookCtx{
		Domain: d,
		Pos:    pos,
		Item: BusAccess{
			Tick:     d.tick(),
			Channel:  ch,
			Addr:     addr,
			SizeLog2: sizeLog2,
			Width:    width,
			Data:     data,
			Err:      err,
		},
	})

	return data, err
}

// HandleWrite serves a write on the load/store port. Writing ExitMagic to
// ExitAddr ends the run as Finished. A failed write ends the run as BadTrap.
func (d *Driver) HandleWrite(
	addr uint32,
	sizeLog2 uint8,
	strobe []bool,
	data []byte,
) error {
	d.writes++

	var err error

	if addr == ExitAddr {
		d.checkExit(strobe, data)
		d.lastCommitTick = d.tick()
	} else {
		size := uint64(1) << sizeLog2

		err = d.bus.Write(uint64(addr), size, d.dataWidth, strobe, data)
		if err != nil {
			err = fmt.Errorf("%s write: %w", ChannelLoadStore, err)
			d.setState(BadTrap, err.Error())
		} else {
			d.lastCommitTick = d.tick()
		}
	}

	d.InvokeHook(hooking.HookCtx{
		Domain: d,
		Pos:    HookPosBusWrite,
		Item: BusAccess{
			Tick:     d.tick(),
			Channel:  ChannelLoadStore,
			Write:    true,
			Addr:     addr,
			SizeLog2: sizeLog2,
			Width:    d.dataWidth,
			Strobe:   strobe,
			Data:     data,
			Err:      err,
		},
	})

	return err
}

func (d *Driver) checkExit(strobe []bool, data []byte) {
	lane := uint64(ExitAddr) % d.dataWidth
	end := lane + 4

	if end > uint64(len(data)) || end > uint64(len(strobe)) {
		d.logger.Printf("[%d] %s: exit write too narrow, ignored",
			d.tick(), d.name)
		return
	}

	for _, s := range strobe[lane:end] {
		if !s {
			d.logger.Printf("[%d] %s: partial exit write ignored",
				d.tick(), d.name)
			return
		}
	}

	value := binary.LittleEndian.Uint32(data[lane:end])
	if value != ExitMagic {
		d.logger.Printf("[%d] %s: exit write of %#x ignored",
			d.tick(), d.name, value)
		return
	}

	d.setState(Finished, "exit sentinel written")
}
