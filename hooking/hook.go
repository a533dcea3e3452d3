// Package hooking lets tracers and counters observe the driver. The driver
// publishes bus accesses, retirements and state changes at named positions;
// observers attach once before the run and see every event in order.
package hooking

import (
	"fmt"
	"reflect"
)

// HookPos names a point in the driver where events are published.
type HookPos struct {
	Name string
}

// HookCtx describes one published event. Item carries the event payload
// (a BusAccess, a Retirement, ...) and Detail any extra data the position
// defines.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail any
}

// Hookable is anything observers can attach to.
type Hookable interface {
	// AcceptHook attaches a hook. Attaching the same hook twice panics.
	AcceptHook(hook Hook)

	// NumHooks returns the number of attached hooks.
	NumHooks() int
}

// Hook receives events from a Hookable.
type Hook interface {
	Func(ctx HookCtx)
}

// HookableBase keeps the attached hooks of a Hookable and fans events out to
// them in attach order.
type HookableBase struct {
	attached []Hook
}

// NewHookableBase creates a HookableBase with no hooks.
func NewHookableBase() *HookableBase {
	return &HookableBase{}
}

// AcceptHook attaches hook. It panics if hook is already attached.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.mustNotBeAttached(hook)
	h.attached = append(h.attached, hook)
}

func (h *HookableBase) mustNotBeAttached(hook Hook) {
	// HookFunc values are not comparable; they are never deduplicated.
	if !reflect.TypeOf(hook).Comparable() {
		return
	}

	for _, a := range h.attached {
		if a == hook {
			panic(fmt.Sprintf("hook %T attached twice", hook))
		}
	}
}

// NumHooks returns the number of attached hooks.
func (h *HookableBase) NumHooks() int {
	return len(h.attached)
}

// InvokeHook hands ctx to every attached hook.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.attached {
		hook.Func(ctx)
	}
}

// HookFunc adapts a plain function into a Hook.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}
