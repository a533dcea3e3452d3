package driver

import (
	"github.com/sarchlab/rvcosim/arch"
	"github.com/sarchlab/rvcosim/hooking"
)

// Hook positions of the driver.
var (
	// HookPosBusRead triggers after a load/store read. Item is a BusAccess.
	HookPosBusRead = &hooking.HookPos{Name: "BusRead"}

	// HookPosBusWrite triggers after a load/store write. Item is a BusAccess.
	HookPosBusWrite = &hooking.HookPos{Name: "BusWrite"}

	// HookPosFetch triggers after an instruction fetch. Item is a BusAccess.
	HookPosFetch = &hooking.HookPos{Name: "Fetch"}

	// HookPosRetire triggers after a retirement passes the comparison. Item
	// is a Retirement.
	HookPosRetire = &hooking.HookPos{Name: "Retire"}

	// HookPosOverride triggers after the reference model state is
	// overwritten by a skipped retirement. Item is a Retirement.
	HookPosOverride = &hooking.HookPos{Name: "Override"}

	// HookPosDivergence triggers when the device under test diverges from the
	// reference model. Item is a *DivergenceError.
	HookPosDivergence = &hooking.HookPos{Name: "Divergence"}

	// HookPosStateChange triggers when the run leaves Running. Item is a
	// StateChange.
	HookPosStateChange = &hooking.HookPos{Name: "StateChange"}
)

// Channel names the bus port of an access.
type Channel string

// The bus ports of the device under test.
const (
	ChannelLoadStore Channel = "loadstore"
	ChannelFetch     Channel = "fetch"
)

// BusAccess describes one bus transaction.
type BusAccess struct {
	Tick     uint64
	Channel  Channel
	Write    bool
	Addr     uint32
	SizeLog2 uint8
	Width    uint64
	Strobe   []bool
	Data     []byte
	Err      error
}

// Retirement describes one retired instruction and the state of the reference
// model after it.
type Retirement struct {
	Seq    uint64
	Tick   uint64
	Mode   RetireMode
	Record arch.RetirementRecord
	Oracle arch.ArchState
}

// StateChange describes the end of a run.
type StateChange struct {
	Tick   uint64
	From   State
	To     State
	Reason string
}
