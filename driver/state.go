package driver

// State is the state of a co-simulation run. A run starts Running and moves
// to exactly one of the other states, which it never leaves.
type State int

// All the states of a run.
const (
	Running State = iota
	GoodTrap
	BadTrap
	Timeout
	Finished
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case GoodTrap:
		return "GoodTrap"
	case BadTrap:
		return "BadTrap"
	case Timeout:
		return "Timeout"
	case Finished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the run is over.
func (s State) Terminal() bool {
	return s != Running
}

// ExitCode is the process exit code that reports the state to the test
// harness.
func (s State) ExitCode() int {
	switch s {
	case GoodTrap, Finished:
		return 0
	case BadTrap:
		return 1
	case Running:
		return 2
	default:
		return 3
	}
}
