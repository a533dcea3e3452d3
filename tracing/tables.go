// Package tracing observes a driver through hooks and writes what happens to
// a log or to a database.
package tracing

// Table names of a recording.
const (
	RunInfoTable      = "run_info"
	EventTable        = "cosim_events"
	OracleStatesTable = "oracle_states"
)

// Event kinds of the cosim_events table.
const (
	KindRead     = "read"
	KindFetch    = "fetch"
	KindWrite    = "write"
	KindRetire   = "retire"
	KindOverride = "override"
	KindState    = "state"
)

// RunInfo describes a recorded run.
type RunInfo struct {
	RunID         string `json:"run_id"`
	ELFPath       string `json:"elf_path"`
	ISA           string `json:"isa"`
	PrivLevel     string `json:"priv_level"`
	DataWidth     uint64 `json:"data_width"`
	FetchWidth    uint64 `json:"fetch_width"`
	ClockPeriod   uint64 `json:"clock_period"`
	SchemaVersion int    `json:"schema_version"`
	StartTime     string `json:"start_time"`
}

// eventEntry is a row of cosim_events. Byte payloads are hex encoded.
type eventEntry struct {
	Seq      uint64 `json:"seq"`
	Tick     uint64 `json:"tick"`
	Kind     string `json:"kind"`
	Address  uint64 `json:"address"`
	SizeLog2 uint8  `json:"size_log2"`
	Strobe   string `json:"strobe"`
	Payload  string `json:"payload"`
	Error    string `json:"error"`
}

// oracleStateEntry is a row of oracle_states. Seq 0 is the state before the
// first instruction.
type oracleStateEntry struct {
	Seq     uint64 `json:"seq"`
	Payload string `json:"payload"`
}
