// Package sym defines the symbol-resolution contracts the stepping engine
// depends on. Symbol indexing, DWARF parsing, and line-table construction
// live behind these interfaces; the engine only consumes their results.
package sym

import "fmt"

// AddressRange is a half-open address interval [Low, High).
type AddressRange struct {
	// Low is the first address in the range.
	Low uint64

	// High is the first address past the range.
	High uint64
}

// Contains reports whether addr falls inside the range.
func (r AddressRange) Contains(addr uint64) bool {
	return addr >= r.Low && addr < r.High
}

// Empty reports whether the range covers no addresses.
func (r AddressRange) Empty() bool {
	return r.High <= r.Low
}

// String returns a formatted range like "[0x1000,0x1040)".
func (r AddressRange) String() string {
	return fmt.Sprintf("[%#x,%#x)", r.Low, r.High)
}

// LineEntry is one row of a line table: the address range generated for a
// source line. Line 0 marks compiler-generated code with no source line.
type LineEntry struct {
	// File is the source file path.
	File string

	// Line is the 1-based source line, or 0 for compiler-generated code.
	Line int

	// Range is the address range the line occupies.
	Range AddressRange
}

// IsZeroLine reports whether the entry is a compiler-generated "line 0"
// region. Such regions never terminate a source step.
func (e LineEntry) IsZeroLine() bool {
	return e.Line == 0
}

// Location describes the symbol information for one frame entry.
type Location struct {
	// Function is the demangled function name, empty if unsymbolized.
	Function string

	// File is the source file path, empty if unknown.
	File string

	// Line is the 1-based source line, 0 if unknown or compiler-generated.
	Line int

	// Range is the address range of the enclosing line-table entry, or the
	// function's range for inline entries.
	Range AddressRange
}

// HasSource reports whether the location carries file/line information.
func (l Location) HasSource() bool {
	return l.File != ""
}

// String returns a formatted location like "main.run at main.go:42".
func (l Location) String() string {
	name := l.Function
	if name == "" {
		name = "<unsymbolized>"
	}
	if l.File == "" {
		return name
	}
	return fmt.Sprintf("%s at %s:%d", name, l.File, l.Line)
}

// InlineEntry is one element of the inline call chain at an address,
// innermost first.
type InlineEntry struct {
	// Function is the inlined function's name.
	Function string

	// Range is the address range of the inline expansion.
	Range AddressRange

	// CallFile and CallLine identify the call site of this inline function
	// in its (possibly also inlined) caller.
	CallFile string
	CallLine int
}

// Symbolized is the full symbol lookup result for an instruction address.
type Symbolized struct {
	// Function is the name of the physical (outermost) function containing
	// the address.
	Function string

	// Location is the innermost source location at the address.
	Location Location

	// InlineChain lists the inline functions containing the address,
	// innermost first. Empty when the address is not inside any inline
	// expansion.
	InlineChain []InlineEntry
}

// Resolver resolves addresses to symbol information. Index implements it
// over tables downloaded from the agent; anything that can answer these
// lookups works.
type Resolver interface {
	// Symbolize returns the symbol information at an instruction address.
	// It returns ErrNoSymbol if the address has no symbol coverage at all.
	Symbolize(ip uint64) (Symbolized, error)

	// LineAt returns the line-table entry covering an address. It returns
	// ErrNoLineInfo if no line table covers the address.
	LineAt(ip uint64) (LineEntry, error)

	// IsTrampoline reports whether the address lies in call-stub glue code
	// (for example a dynamic-linker trampoline) with no symbol of its own.
	IsTrampoline(ip uint64) bool

	// TrampolineDestinations resolves the non-stub destination addresses a
	// trampoline at ip forwards to. An empty result means the destination
	// could not be determined.
	TrampolineDestinations(ip uint64) []uint64

	// ResolveLocation resolves a named or file:line location to concrete
	// addresses. It returns ErrLocationNotFound when nothing matches.
	ResolveLocation(spec string) ([]uint64, error)
}
