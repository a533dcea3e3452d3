package driver

import "fmt"

// Poll runs the watchdog and returns the state of the run. A run that has
// not committed anything for more than the timeout, or that is beyond the
// hard deadline, times out. A run beyond the end of the wave window finishes.
// Otherwise, the wave dump starts once its window opens.
func (d *Driver) Poll() State {
	if d.state.Terminal() {
		return d.state
	}

	tick := d.tick()

	var idle uint64
	if tick > d.lastCommitTick {
		idle = tick - d.lastCommitTick
	}

	switch {
	case idle > d.timeout:
		d.setState(Timeout, fmt.Sprintf(
			"watchdog timeout (last_commit_tick=%d)", d.lastCommitTick))
	case d.hardDeadline != 0 && tick > d.hardDeadline:
		d.setState(Timeout, fmt.Sprintf(
			"hard deadline %d passed", d.hardDeadline))
	case d.dump != nil && d.dump.Ended(tick):
		d.setState(Finished, "wave window closed")
	case d.dump != nil:
		d.dump.TryStart(tick)
	}

	return d.state
}
