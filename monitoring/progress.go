package monitoring

import (
	"sync"
	"time"

	"github.com/sarchlab/rvcosim/driver"
	"github.com/sarchlab/rvcosim/hooking"
)

// Progress counts what a run has done so far.
type Progress struct {
	StartTime        time.Time `json:"start_time"`
	Retired          uint64    `json:"retired"`
	Overrides        uint64    `json:"overrides"`
	Reads            uint64    `json:"reads"`
	Writes           uint64    `json:"writes"`
	Fetches          uint64    `json:"fetches"`
	BusErrors        uint64    `json:"bus_errors"`
	Divergences      uint64    `json:"divergences"`
	RetiredPerSecond float64   `json:"retired_per_second"`
}

// ProgressHook is a hook that counts driver events.
type ProgressHook struct {
	sync.Mutex
	progress Progress
	now      func() time.Time
}

// NewProgressHook creates a ProgressHook that starts counting now.
func NewProgressHook() *ProgressHook {
	h := &ProgressHook{now: time.Now}
	h.progress.StartTime = h.now()

	return h
}

// Func counts the event of the hook context.
func (h *ProgressHook) Func(ctx hooking.HookCtx) {
	h.Lock()
	defer h.Unlock()

	switch ctx.Pos {
	case driver.HookPosRetire:
		h.progress.Retired++
	case driver.HookPosOverride:
		h.progress.Retired++
		h.progress.Overrides++
	case driver.HookPosBusRead:
		h.progress.Reads++
		h.countError(ctx)
	case driver.HookPosBusWrite:
		h.progress.Writes++
		h.countError(ctx)
	case driver.HookPosFetch:
		h.progress.Fetches++
		h.countError(ctx)
	case driver.HookPosDivergence:
		h.progress.Divergences++
	}
}

func (h *ProgressHook) countError(ctx hooking.HookCtx) {
	if ctx.Item.(driver.BusAccess).Err != nil {
		h.progress.BusErrors++
	}
}

// Progress returns a snapshot of the counters.
func (h *ProgressHook) Progress() Progress {
	h.Lock()
	defer h.Unlock()

	p := h.progress

	elapsed := h.now().Sub(p.StartTime).Seconds()
	if elapsed > 0 {
		p.RetiredPerSecond = float64(p.Retired) / elapsed
	}

	return p
}
