// Package frame models single stack-frame entries: physical frames reported
// by the unwinder and synthesized inline frames layered on top of them.
package frame

import "github.com/dshills/stormdbg/internal/sym"

// Raw is an unsymbolized frame as reported by the remote agent's unwinder.
type Raw struct {
	// IP is the instruction pointer (return address for non-top frames).
	IP uint64

	// SP is the stack pointer on entry to the frame.
	SP uint64

	// CFA is the canonical frame address: the stack pointer value
	// immediately before the call that created the frame.
	CFA uint64

	// BP is the frame base pointer, zero if unavailable.
	BP uint64

	// Regs holds any additional register values the agent included.
	Regs map[string]uint64
}

// Frame is one entry of a call stack. A physical frame corresponds to a real
// call-instruction boundary; an inline frame is a non-owning view over its
// enclosing physical frame with its own synthesized source location.
type Frame interface {
	// IP returns the instruction pointer for the frame. Inline frames share
	// their physical frame's address.
	IP() uint64

	// Location returns the source location displayed for the frame.
	Location() sym.Location

	// Physical returns the owning physical frame. A physical frame returns
	// itself.
	Physical() *PhysicalFrame

	// IsInline reports whether the frame is a synthesized inline entry.
	IsInline() bool
}

// PhysicalFrame is a stack frame with its own stack pointer and registers.
type PhysicalFrame struct {
	raw Raw
	loc sym.Location
}

// NewPhysical builds a physical frame from a raw frame and its resolved
// location.
func NewPhysical(raw Raw, loc sym.Location) *PhysicalFrame {
	return &PhysicalFrame{raw: raw, loc: loc}
}

// IP returns the frame's instruction pointer.
func (f *PhysicalFrame) IP() uint64 { return f.raw.IP }

// SP returns the frame's stack pointer.
func (f *PhysicalFrame) SP() uint64 { return f.raw.SP }

// CFA returns the canonical frame address. This is the FrameAddress used in
// the frame's fingerprint.
func (f *PhysicalFrame) CFA() uint64 { return f.raw.CFA }

// BP returns the frame base pointer, zero if unavailable.
func (f *PhysicalFrame) BP() uint64 { return f.raw.BP }

// Register returns a named register value reported for the frame.
func (f *PhysicalFrame) Register(name string) (uint64, bool) {
	v, ok := f.raw.Regs[name]
	return v, ok
}

// Location returns the frame's source location.
func (f *PhysicalFrame) Location() sym.Location { return f.loc }

// SetLocation replaces the displayed location. Used while synthesizing an
// inline chain, where the physical frame shows the call site of its
// outermost inline callee.
func (f *PhysicalFrame) SetLocation(loc sym.Location) { f.loc = loc }

// Physical returns the frame itself.
func (f *PhysicalFrame) Physical() *PhysicalFrame { return f }

// IsInline reports false for a physical frame.
func (f *PhysicalFrame) IsInline() bool { return false }

// InlineFrame is a synthesized entry for a function that was inlined into
// its caller. It borrows registers and memory from its enclosing physical
// frame; its lifetime is bounded by the physical frame's lifetime.
type InlineFrame struct {
	physical  *PhysicalFrame
	loc       sym.Location
	ambiguous bool
}

// NewInline builds an inline frame over its enclosing physical frame.
// ambiguous marks the instruction pointer as sitting exactly at the first
// instruction of the inline function's range, where the address means both
// "about to call" and "just entered".
func NewInline(physical *PhysicalFrame, loc sym.Location, ambiguous bool) *InlineFrame {
	return &InlineFrame{physical: physical, loc: loc, ambiguous: ambiguous}
}

// IP returns the enclosing physical frame's instruction pointer.
func (f *InlineFrame) IP() uint64 { return f.physical.IP() }

// Location returns the synthesized source location for the inline frame.
func (f *InlineFrame) Location() sym.Location { return f.loc }

// Physical returns the enclosing physical frame.
func (f *InlineFrame) Physical() *PhysicalFrame { return f.physical }

// IsInline reports true for an inline frame.
func (f *InlineFrame) IsInline() bool { return true }

// Ambiguous reports whether the frame sits at the first instruction of its
// inline range.
func (f *InlineFrame) Ambiguous() bool { return f.ambiguous }
