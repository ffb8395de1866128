package gateway

import "sync/atomic"

// ModeSwitch is the single source of truth for the gateway's current
// GatewayMode, shared between the PolicyEngine (which needs it to resolve
// the block-threshold decision in spec.md §4.4 step 6) and the
// CircuitBreaker (which needs it for its full decision mapping in §4.5).
// A reader observes either the value in effect before or after a
// concurrent Set, never a torn one -- per spec.md §5's mode-change note,
// that's all concurrent evaluations are required to see.
type ModeSwitch struct {
	v atomic.Value
}

// NewModeSwitch creates a ModeSwitch initialized to mode.
func NewModeSwitch(mode GatewayMode) *ModeSwitch {
	m := &ModeSwitch{}
	m.v.Store(mode)
	return m
}

// Get returns the current mode.
func (m *ModeSwitch) Get() GatewayMode {
	return m.v.Load().(GatewayMode)
}

// Set updates the current mode.
func (m *ModeSwitch) Set(mode GatewayMode) {
	m.v.Store(mode)
}
