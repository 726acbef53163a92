package control

import (
	"fmt"

	"github.com/dshills/stormdbg/internal/frame"
	"github.com/dshills/stormdbg/internal/stack"
	"github.com/dshills/stormdbg/internal/sym"
)

// testIndex builds the program image the controller tests run against:
//
//	main.main [0x200,0x300)  calls main.fm
//	main.fm   [0x100,0x200)  contains inlA [0x110,0x140) called at fm.go:10,
//	                         which contains inlB [0x118,0x130) called at
//	                         inl.go:50; a line-0 region at [0x160,0x168)
//	main.sub  [0x600,0x700)  a plain callee
//	plt.jump  [0x700,0x710)  trampoline to main.sub
//	plt.self  [0x720,0x730)  trampoline whose only destination is itself
//	plt.dead  [0x730,0x740)  trampoline with no destination
//
// Addresses at 0x800 and above have no symbol coverage at all.
func testIndex() *sym.Index {
	return sym.NewIndex(sym.Tables{
		Functions: []sym.FuncRecord{
			{Name: "main.main", Range: sym.AddressRange{Low: 0x200, High: 0x300}},
			{
				Name:  "main.fm",
				Range: sym.AddressRange{Low: 0x100, High: 0x200},
				Inlines: []sym.InlineRecord{
					{Function: "main.inlA", Range: sym.AddressRange{Low: 0x110, High: 0x140}, CallFile: "fm.go", CallLine: 10, Depth: 1},
					{Function: "main.inlB", Range: sym.AddressRange{Low: 0x118, High: 0x130}, CallFile: "inl.go", CallLine: 50, Depth: 2},
					{Function: "main.inlZ", Range: sym.AddressRange{Low: 0x158, High: 0x160}, CallFile: "fm.go", CallLine: 12, Depth: 1},
				},
			},
			{Name: "main.sub", Range: sym.AddressRange{Low: 0x600, High: 0x700}},
			{Name: "plt.jump", Range: sym.AddressRange{Low: 0x700, High: 0x710}, Trampoline: true, TrampolineDests: []uint64{0x600}},
			{Name: "plt.self", Range: sym.AddressRange{Low: 0x720, High: 0x730}, Trampoline: true, TrampolineDests: []uint64{0x720}},
			{Name: "plt.dead", Range: sym.AddressRange{Low: 0x730, High: 0x740}, Trampoline: true},
		},
		Lines: []sym.LineEntry{
			{File: "main.go", Line: 5, Range: sym.AddressRange{Low: 0x200, High: 0x210}},
			{File: "main.go", Line: 6, Range: sym.AddressRange{Low: 0x210, High: 0x220}},
			{File: "fm.go", Line: 10, Range: sym.AddressRange{Low: 0x100, High: 0x110}},
			{File: "inl.go", Line: 50, Range: sym.AddressRange{Low: 0x110, High: 0x118}},
			{File: "inl2.go", Line: 60, Range: sym.AddressRange{Low: 0x118, High: 0x121}},
			{File: "inl2.go", Line: 61, Range: sym.AddressRange{Low: 0x121, High: 0x130}},
			{File: "inl.go", Line: 52, Range: sym.AddressRange{Low: 0x130, High: 0x140}},
			{File: "fm.go", Line: 11, Range: sym.AddressRange{Low: 0x140, High: 0x150}},
			{File: "fm.go", Line: 12, Range: sym.AddressRange{Low: 0x150, High: 0x160}},
			{File: "fm.go", Line: 0, Range: sym.AddressRange{Low: 0x160, High: 0x168}},
			{File: "fm.go", Line: 13, Range: sym.AddressRange{Low: 0x168, High: 0x170}},
			{File: "fm.go", Line: 14, Range: sym.AddressRange{Low: 0x170, High: 0x178}},
			{File: "fm.go", Line: 14, Range: sym.AddressRange{Low: 0x178, High: 0x180}},
			{File: "sub.go", Line: 70, Range: sym.AddressRange{Low: 0x600, High: 0x610}},
			{File: "sub.go", Line: 71, Range: sym.AddressRange{Low: 0x610, High: 0x620}},
		},
	})
}

// fakeBreakpoints records breakpoint operations and acknowledges them
// synchronously, as the engine does once the agent replies.
type fakeBreakpoints struct {
	sets    [][]uint64
	removed []string
	n       int
	failSet error
}

func (b *fakeBreakpoints) Set(addrs []uint64, done func(string, error)) {
	b.sets = append(b.sets, addrs)
	if b.failSet != nil {
		done("", b.failSet)
		return
	}
	b.n++
	done(fmt.Sprintf("bp-%d", b.n), nil)
}

func (b *fakeBreakpoints) Remove(handle string) {
	b.removed = append(b.removed, handle)
}

// unwinderFunc adapts a function to stack.Unwinder.
type unwinderFunc func(done func([]frame.Raw, error))

func (f unwinderFunc) RequestFullUnwind(done func([]frame.Raw, error)) { f(done) }

// fakeThread is a scripted control.Thread. Tests rebuild its stack with
// stopAt the way the engine does on real stops.
type fakeThread struct {
	id         int
	st         *stack.Stack
	res        sym.Resolver
	bps        *fakeBreakpoints
	unwindRaws []frame.Raw
	unwindErr  error
	reevals    int
}

func newFakeThread() *fakeThread {
	res := testIndex()
	return &fakeThread{
		id:  1,
		st:  stack.New(res),
		res: res,
		bps: &fakeBreakpoints{},
	}
}

func (t *fakeThread) ID() int             { return t.id }
func (t *fakeThread) Stack() *stack.Stack { return t.st }

func (t *fakeThread) Unwinder() stack.Unwinder {
	return unwinderFunc(func(done func([]frame.Raw, error)) {
		done(t.unwindRaws, t.unwindErr)
	})
}

func (t *fakeThread) Resolver() sym.Resolver   { return t.res }
func (t *fakeThread) Breakpoints() Breakpoints { return t.bps }
func (t *fakeThread) Reevaluate()              { t.reevals++ }

// stopAt rebuilds the stack as the engine would on a real stop: symbolized
// frames, innermost first, ambiguous inline frames hidden.
func (t *fakeThread) stopAt(raws ...frame.Raw) {
	t.st.Clear()
	for _, raw := range raws {
		if err := t.st.AppendPhysicalFrame(raw); err != nil {
			panic(err)
		}
	}
	if err := t.st.SetHiddenInlineCount(t.st.AmbiguousInlineCount()); err != nil {
		panic(err)
	}
}

// fakeHandle is a weak reference to a fakeThread.
type fakeHandle struct {
	th   *fakeThread
	gone bool
}

func (h *fakeHandle) Resolve() (Thread, bool) {
	if h.gone {
		return nil, false
	}
	return h.th, true
}

// initController runs Init and returns the synchronously reported error.
func initController(c Controller, h Handle) error {
	var initErr error
	c.Init(h, func(err error) { initErr = err })
	return initErr
}
