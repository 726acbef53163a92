// Package stack presents a logical, inline-aware call stack for one thread.
//
// The stack owns an ordered sequence of frames, innermost first. Physical
// frames come from the unwinder; when a frame's address resolves to an
// inline call chain, one inline frame is synthesized per chain entry ahead
// of the physical frame. A hidden-inline count controls which topmost
// ambiguous inline frames are treated as not yet entered, so controllers can
// virtually step into or out of an inline function without executing any
// instruction.
package stack

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/stormdbg/internal/frame"
	"github.com/dshills/stormdbg/internal/sym"
)

// Unwinder requests a full stack unwind from the process side. The callback
// receives all frames innermost first. The request is asynchronous; the
// callback runs on the engine's dispatch goroutine.
type Unwinder interface {
	RequestFullUnwind(done func(frames []frame.Raw, err error))
}

// Stack is the inline-aware call stack for one thread. It is exclusively
// owned and mutated by its thread; all access is serialized on the engine's
// dispatch goroutine.
type Stack struct {
	resolver sym.Resolver

	// frames holds the logical stack, innermost first.
	frames []frame.Frame

	// hidden is the number of topmost ambiguous inline frames treated as
	// not yet entered for externally visible indexing.
	hidden int

	// hasAllFrames is true once a full unwind has been synced.
	hasAllFrames bool
}

// New creates an empty stack using the given resolver for symbolization.
func New(resolver sym.Resolver) *Stack {
	return &Stack{resolver: resolver}
}

// Clear drops all frames. Called whenever the thread resumes.
func (s *Stack) Clear() {
	s.frames = nil
	s.hidden = 0
	s.hasAllFrames = false
}

// HasAllFrames reports whether a full unwind has been synced.
func (s *Stack) HasAllFrames() bool {
	return s.hasAllFrames
}

// FrameCount returns the number of visible frames. Hidden ambiguous inline
// frames at the top are excluded.
func (s *Stack) FrameCount() int {
	return len(s.frames) - s.hidden
}

// FrameAt returns the visible frame at index i; index 0 is the first
// visible frame.
func (s *Stack) FrameAt(i int) (frame.Frame, error) {
	real := i + s.hidden
	if i < 0 || real >= len(s.frames) {
		return nil, fmt.Errorf("%w: %d", ErrFrameIndexOutOfRange, i)
	}
	return s.frames[real], nil
}

// TopFrame returns the first visible frame.
func (s *Stack) TopFrame() (frame.Frame, error) {
	return s.FrameAt(0)
}

// FingerprintAt computes the fingerprint of the visible frame at index i.
// The frame address is the canonical frame address of the owning physical
// frame; the inline count is the frame's distance from it.
func (s *Stack) FingerprintAt(i int) (frame.Fingerprint, error) {
	real := i + s.hidden
	if i < 0 || real >= len(s.frames) {
		return frame.Fingerprint{}, fmt.Errorf("%w: %d", ErrFrameIndexOutOfRange, i)
	}
	phys := real
	for phys < len(s.frames) && s.frames[phys].IsInline() {
		phys++
	}
	if phys == len(s.frames) {
		return frame.Fingerprint{}, ErrNoPhysicalFrame
	}
	return frame.Fingerprint{
		FrameAddress: s.frames[phys].Physical().CFA(),
		InlineCount:  phys - real,
	}, nil
}

// AmbiguousInlineCount counts, from the top of the stack, how many
// consecutive frames are inline frames positioned exactly at the first
// instruction of their range. For such frames the instruction pointer could
// mean either "about to call" or "just entered".
func (s *Stack) AmbiguousInlineCount() int {
	n := 0
	for _, f := range s.frames {
		inl, ok := f.(*frame.InlineFrame)
		if !ok || !inl.Ambiguous() {
			break
		}
		n++
	}
	return n
}

// HiddenInlineCount returns the current hidden-inline count.
func (s *Stack) HiddenInlineCount() int {
	return s.hidden
}

// SetHiddenInlineCount changes which frame visible index 0 refers to,
// without touching the underlying frames. n must not exceed the number of
// ambiguous inline frames at the top.
func (s *Stack) SetHiddenInlineCount(n int) error {
	if n < 0 || n > s.AmbiguousInlineCount() {
		return fmt.Errorf("%w: %d (ambiguous: %d)", ErrHiddenCountOutOfRange, n, s.AmbiguousInlineCount())
	}
	s.hidden = n
	return nil
}

// AppendPhysicalFrame symbolizes a raw frame and appends it, preceded by
// one synthesized inline frame per entry of its inline call chain,
// innermost first.
//
// Each inline frame displays the call site of the next-more-inner frame;
// the innermost displays the direct lookup result. Only the topmost
// physical frame may retain ambiguous inline frames: for any other frame
// the address is a return address, so a chain entry starting exactly there
// was not actually entered and is dropped.
func (s *Stack) AppendPhysicalFrame(raw frame.Raw) error {
	topmost := len(s.frames) == 0

	res, err := s.resolver.Symbolize(raw.IP)
	if err != nil {
		if !errors.Is(err, sym.ErrNoSymbol) {
			return fmt.Errorf("symbolize frame at %#x: %w", raw.IP, err)
		}
		s.frames = append(s.frames, frame.NewPhysical(raw, sym.Location{}))
		return nil
	}

	chain := res.InlineChain

	// Ambiguous chain entries start exactly at the frame's address. For a
	// non-topmost frame that address is a return address, so the entry was
	// never entered; skip it. Ambiguity is always a chain prefix.
	drop := 0
	if !topmost {
		for drop < len(chain) && raw.IP == chain[drop].Range.Low {
			drop++
		}
	}

	physLoc := sym.Location{
		Function: res.Function,
		File:     res.Location.File,
		Line:     res.Location.Line,
		Range:    res.Location.Range,
	}
	if n := len(chain); n > 0 {
		physLoc.File = chain[n-1].CallFile
		physLoc.Line = chain[n-1].CallLine
	}
	phys := frame.NewPhysical(raw, physLoc)

	for i := drop; i < len(chain); i++ {
		entry := chain[i]
		loc := sym.Location{
			Function: entry.Function,
			File:     res.Location.File,
			Line:     res.Location.Line,
			Range:    entry.Range,
		}
		if i > 0 {
			// Dropped entries still supply the call site their caller
			// displays.
			loc.File = chain[i-1].CallFile
			loc.Line = chain[i-1].CallLine
		}
		ambiguous := raw.IP == entry.Range.Low
		s.frames = append(s.frames, frame.NewInline(phys, loc, ambiguous))
	}
	s.frames = append(s.frames, phys)
	return nil
}

// SyncFrames requests a full unwind and merges the result into the stack.
//
// If the new frames are a superset of the current physical frames, only the
// missing older frames are appended, preserving any hidden-inline state
// still valid for the existing frames. Otherwise the stack is replaced
// wholesale and the hidden count reset to zero. done runs after the merge,
// or with the unwind error.
func (s *Stack) SyncFrames(unwinder Unwinder, done func(error)) {
	unwinder.RequestFullUnwind(func(raws []frame.Raw, err error) {
		if err != nil {
			done(fmt.Errorf("full unwind: %w", err))
			return
		}
		done(s.mergeFullUnwind(raws))
	})
}

// mergeFullUnwind reconciles a full unwind with the current frames.
func (s *Stack) mergeFullUnwind(raws []frame.Raw) error {
	existing := s.physicalFrames()

	if len(raws) >= len(existing) && matchesPrefix(existing, raws) {
		for _, raw := range raws[len(existing):] {
			if err := s.AppendPhysicalFrame(raw); err != nil {
				return err
			}
		}
		s.hasAllFrames = true
		return nil
	}

	// Not a superset: rebuild from scratch.
	s.Clear()
	for _, raw := range raws {
		if err := s.AppendPhysicalFrame(raw); err != nil {
			return err
		}
	}
	s.hasAllFrames = true
	return nil
}

// physicalFrames returns the physical frames in stack order.
func (s *Stack) physicalFrames() []*frame.PhysicalFrame {
	var phys []*frame.PhysicalFrame
	for _, f := range s.frames {
		if !f.IsInline() {
			phys = append(phys, f.Physical())
		}
	}
	return phys
}

// matchesPrefix reports whether each existing physical frame matches the
// raw frame at the same position.
func matchesPrefix(existing []*frame.PhysicalFrame, raws []frame.Raw) bool {
	for i, f := range existing {
		if f.IP() != raws[i].IP || f.CFA() != raws[i].CFA {
			return false
		}
	}
	return true
}

// FormatTrace returns a formatted listing of the visible frames.
func (s *Stack) FormatTrace() string {
	var b strings.Builder
	for i := s.hidden; i < len(s.frames); i++ {
		f := s.frames[i]
		marker := "  "
		if f.IsInline() {
			marker = " ~"
		}
		fmt.Fprintf(&b, "%s#%d %s\n", marker, i-s.hidden, f.Location())
	}
	return b.String()
}
