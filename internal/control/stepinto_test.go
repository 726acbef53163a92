package control

import (
	"testing"

	"github.com/dshills/stormdbg/internal/agent"
	"github.com/dshills/stormdbg/internal/frame"
)

func TestStepIntoEntersInlineFunction(t *testing.T) {
	th := newFakeThread()
	th.stopAt(frame.Raw{IP: 0x100, CFA: 0x5000})
	h := &fakeHandle{th: th}

	si := NewStepInto(Policy{})
	if err := initController(si, h); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer si.Close()

	// Landing exactly at inlA's first instruction counts as entering it.
	th.stopAt(frame.Raw{IP: 0x110, CFA: 0x5000})
	if v := si.OnThreadStop(agent.StopCauseStep, nil); v != VerdictContinue {
		t.Fatalf("ambiguous stop = %v, want VerdictContinue", v)
	}
	if req := si.ResumeRequest(); req.Op != OpSyntheticStop {
		t.Fatalf("resume op = %v, want OpSyntheticStop", req.Op)
	}

	if v := si.OnThreadStop(agent.StopCauseSynthetic, nil); v != VerdictDone {
		t.Fatalf("synthetic stop = %v, want VerdictDone", v)
	}
	top, err := th.st.TopFrame()
	if err != nil {
		t.Fatalf("TopFrame: %v", err)
	}
	if loc := top.Location(); loc.Function != "main.inlA" {
		t.Errorf("landed in %s, want main.inlA", loc.Function)
	}
}

func TestStepIntoStepsThroughTrampoline(t *testing.T) {
	th := newFakeThread()
	th.stopAt(frame.Raw{IP: 0x100, CFA: 0x5000})
	h := &fakeHandle{th: th}

	si := NewStepInto(Policy{})
	if err := initController(si, h); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer si.Close()

	// The step lands in the plt.jump stub.
	th.stopAt(
		frame.Raw{IP: 0x700, CFA: 0x4000},
		frame.Raw{IP: 0x108, CFA: 0x5000},
	)
	if v := si.OnThreadStop(agent.StopCauseStep, nil); v != VerdictFuture {
		t.Fatalf("stub stop = %v, want VerdictFuture", v)
	}
	if th.reevals != 1 {
		t.Fatalf("reevaluations = %d, want 1", th.reevals)
	}
	if len(th.bps.sets) != 1 || th.bps.sets[0][0] != 0x600 {
		t.Fatalf("breakpoints set = %v, want [[0x600]]", th.bps.sets)
	}

	if v := si.OnThreadStop(agent.StopCauseNone, nil); v != VerdictContinue {
		t.Fatalf("evaluation at stub = %v, want VerdictContinue", v)
	}

	th.stopAt(
		frame.Raw{IP: 0x600, CFA: 0x3f00},
		frame.Raw{IP: 0x108, CFA: 0x5000},
	)
	if v := si.OnThreadStop(agent.StopCauseBreakpoint, []string{"bp-1"}); v != VerdictDone {
		t.Errorf("destination stop = %v, want VerdictDone", v)
	}
}

func TestStepIntoDeadTrampolineFails(t *testing.T) {
	th := newFakeThread()
	th.stopAt(frame.Raw{IP: 0x100, CFA: 0x5000})
	h := &fakeHandle{th: th}

	si := NewStepInto(Policy{})
	if err := initController(si, h); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer si.Close()

	th.stopAt(
		frame.Raw{IP: 0x735, CFA: 0x4000},
		frame.Raw{IP: 0x108, CFA: 0x5000},
	)
	if v := si.OnThreadStop(agent.StopCauseStep, nil); v != VerdictFuture {
		t.Fatalf("stub stop = %v, want VerdictFuture", v)
	}
	if len(th.bps.sets) != 0 {
		t.Fatalf("breakpoints set = %v, want none", th.bps.sets)
	}
	// The failed setup surfaces on the triggered re-evaluation.
	if th.reevals != 1 {
		t.Fatalf("reevaluations = %d, want 1", th.reevals)
	}
	if v := si.OnThreadStop(agent.StopCauseNone, nil); v != VerdictUnexpected {
		t.Errorf("evaluation after failure = %v, want VerdictUnexpected", v)
	}
}
