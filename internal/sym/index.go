package sym

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// InlineRecord is one inline expansion inside a function, as delivered by
// the symbol tables.
type InlineRecord struct {
	// Function is the inlined function's name.
	Function string

	// Range is the address range of the expansion.
	Range AddressRange

	// CallFile and CallLine identify the call site in the caller.
	CallFile string
	CallLine int

	// Depth is the nesting depth inside the physical function; deeper is
	// more inner.
	Depth int
}

// FuncRecord is one physical function in the symbol tables.
type FuncRecord struct {
	// Name is the demangled function name.
	Name string

	// Range is the function's address range.
	Range AddressRange

	// Inlines are the inline expansions inside the function.
	Inlines []InlineRecord

	// Trampoline marks call-stub glue code.
	Trampoline bool

	// TrampolineDests are the destination addresses a stub forwards to.
	TrampolineDests []uint64
}

// Tables is the raw symbol data an Index is built from.
type Tables struct {
	// Functions are the physical functions, any order.
	Functions []FuncRecord

	// Lines is the line table, any order.
	Lines []LineEntry
}

// Index is an in-memory symbol resolver over downloaded tables. Lookups are
// binary searches over address-sorted copies; the index is immutable after
// construction and safe for concurrent readers.
type Index struct {
	funcs []FuncRecord
	lines []LineEntry
}

// NewIndex builds a resolver from symbol tables.
func NewIndex(t Tables) *Index {
	idx := &Index{
		funcs: append([]FuncRecord(nil), t.Functions...),
		lines: append([]LineEntry(nil), t.Lines...),
	}
	sort.Slice(idx.funcs, func(i, j int) bool {
		return idx.funcs[i].Range.Low < idx.funcs[j].Range.Low
	})
	sort.Slice(idx.lines, func(i, j int) bool {
		return idx.lines[i].Range.Low < idx.lines[j].Range.Low
	})
	return idx
}

// funcAt finds the function containing ip.
func (idx *Index) funcAt(ip uint64) (*FuncRecord, bool) {
	i := sort.Search(len(idx.funcs), func(i int) bool {
		return idx.funcs[i].Range.Low > ip
	})
	if i == 0 {
		return nil, false
	}
	fn := &idx.funcs[i-1]
	if !fn.Range.Contains(ip) {
		return nil, false
	}
	return fn, true
}

// Symbolize returns the symbol information at an instruction address.
func (idx *Index) Symbolize(ip uint64) (Symbolized, error) {
	fn, ok := idx.funcAt(ip)
	if !ok {
		return Symbolized{}, fmt.Errorf("%w: %#x", ErrNoSymbol, ip)
	}

	// Inline expansions containing ip, innermost (deepest) first.
	var chain []InlineEntry
	records := make([]InlineRecord, 0, len(fn.Inlines))
	for _, rec := range fn.Inlines {
		if rec.Range.Contains(ip) {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Depth > records[j].Depth
	})
	for _, rec := range records {
		chain = append(chain, InlineEntry{
			Function: rec.Function,
			Range:    rec.Range,
			CallFile: rec.CallFile,
			CallLine: rec.CallLine,
		})
	}

	loc := Location{Function: fn.Name}
	if len(chain) > 0 {
		loc.Function = chain[0].Function
	}
	if entry, err := idx.LineAt(ip); err == nil {
		loc.File = entry.File
		loc.Line = entry.Line
		loc.Range = entry.Range
	}

	return Symbolized{Function: fn.Name, Location: loc, InlineChain: chain}, nil
}

// LineAt returns the line-table entry covering an address.
func (idx *Index) LineAt(ip uint64) (LineEntry, error) {
	i := sort.Search(len(idx.lines), func(i int) bool {
		return idx.lines[i].Range.Low > ip
	})
	if i == 0 || !idx.lines[i-1].Range.Contains(ip) {
		return LineEntry{}, fmt.Errorf("%w: %#x", ErrNoLineInfo, ip)
	}
	return idx.lines[i-1], nil
}

// IsTrampoline reports whether the address lies in call-stub glue code.
func (idx *Index) IsTrampoline(ip uint64) bool {
	fn, ok := idx.funcAt(ip)
	return ok && fn.Trampoline
}

// TrampolineDestinations resolves the destinations of a stub at ip.
func (idx *Index) TrampolineDestinations(ip uint64) []uint64 {
	fn, ok := idx.funcAt(ip)
	if !ok || !fn.Trampoline {
		return nil
	}
	return append([]uint64(nil), fn.TrampolineDests...)
}

// ResolveLocation resolves "function" or "file:line" to addresses. A
// function resolves to its entry address; a file:line resolves to the start
// of every matching line-table entry.
func (idx *Index) ResolveLocation(spec string) ([]uint64, error) {
	if file, line, ok := splitFileLine(spec); ok {
		var addrs []uint64
		for _, entry := range idx.lines {
			if entry.Line == line && strings.HasSuffix(entry.File, file) {
				addrs = append(addrs, entry.Range.Low)
			}
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, spec)
		}
		return addrs, nil
	}

	var addrs []uint64
	for _, fn := range idx.funcs {
		if fn.Name == spec {
			addrs = append(addrs, fn.Range.Low)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, spec)
	}
	return addrs, nil
}

// splitFileLine parses a "file:line" spec.
func splitFileLine(spec string) (file string, line int, ok bool) {
	i := strings.LastIndexByte(spec, ':')
	if i <= 0 || i == len(spec)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(spec[i+1:])
	if err != nil || n <= 0 {
		return "", 0, false
	}
	return spec[:i], n, true
}
