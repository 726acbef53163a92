package control

import (
	"errors"
	"testing"

	"github.com/dshills/stormdbg/internal/agent"
	"github.com/dshills/stormdbg/internal/frame"
	"github.com/dshills/stormdbg/internal/sym"
)

func TestUntilAddrs(t *testing.T) {
	th := newFakeThread()
	th.stopAt(frame.Raw{IP: 0x205, CFA: 0x6000})
	h := &fakeHandle{th: th}

	u := NewUntilAddrs([]uint64{0x600})
	if err := initController(u, h); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if len(th.bps.sets) != 1 || th.bps.sets[0][0] != 0x600 {
		t.Fatalf("breakpoints set = %v, want [[0x600]]", th.bps.sets)
	}
	if req := u.ResumeRequest(); req.Op != OpContinue {
		t.Fatalf("resume op = %v, want OpContinue", req.Op)
	}

	// A delegated evaluation before any hit keeps running.
	if v := u.OnThreadStop(agent.StopCauseNone, nil); v != VerdictContinue {
		t.Errorf("evaluation = %v, want VerdictContinue", v)
	}

	th.stopAt(
		frame.Raw{IP: 0x600, CFA: 0x4000},
		frame.Raw{IP: 0x108, CFA: 0x5000},
	)
	if v := u.OnThreadStop(agent.StopCauseBreakpoint, []string{"bp-1"}); v != VerdictDone {
		t.Errorf("hit = %v, want VerdictDone", v)
	}

	u.Close()
	if len(th.bps.removed) != 1 || th.bps.removed[0] != "bp-1" {
		t.Errorf("removed breakpoints = %v, want [bp-1]", th.bps.removed)
	}
}

func TestUntilThresholdSkipsNewerFrames(t *testing.T) {
	th := newFakeThread()
	th.stopAt(frame.Raw{IP: 0x205, CFA: 0x6000})
	h := &fakeHandle{th: th}

	u := NewUntilAddrs([]uint64{0x600})
	u.SetThreshold(frame.Fingerprint{FrameAddress: 0x6000}, CompareOlderOrEqual)
	if err := initController(u, h); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer u.Close()

	// The location is reached in a frame newer than the threshold, as in a
	// recursive call: skipped.
	th.stopAt(frame.Raw{IP: 0x600, CFA: 0x5000})
	if v := u.OnThreadStop(agent.StopCauseBreakpoint, []string{"bp-1"}); v != VerdictContinue {
		t.Fatalf("newer hit = %v, want VerdictContinue", v)
	}

	// Reached at the threshold frame itself.
	th.stopAt(frame.Raw{IP: 0x600, CFA: 0x6000})
	if v := u.OnThreadStop(agent.StopCauseBreakpoint, []string{"bp-1"}); v != VerdictDone {
		t.Errorf("threshold hit = %v, want VerdictDone", v)
	}
}

func TestUntilCompareOlderExcludesThresholdFrame(t *testing.T) {
	th := newFakeThread()
	th.stopAt(frame.Raw{IP: 0x205, CFA: 0x6000})
	h := &fakeHandle{th: th}

	u := NewUntilAddrs([]uint64{0x600})
	u.SetThreshold(frame.Fingerprint{FrameAddress: 0x5000}, CompareOlder)
	if err := initController(u, h); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer u.Close()

	th.stopAt(frame.Raw{IP: 0x600, CFA: 0x5000})
	if v := u.OnThreadStop(agent.StopCauseBreakpoint, []string{"bp-1"}); v != VerdictContinue {
		t.Fatalf("same-frame hit = %v, want VerdictContinue", v)
	}

	th.stopAt(frame.Raw{IP: 0x600, CFA: 0x6000})
	if v := u.OnThreadStop(agent.StopCauseBreakpoint, []string{"bp-1"}); v != VerdictDone {
		t.Errorf("older hit = %v, want VerdictDone", v)
	}
}

func TestUntilResolvesLocation(t *testing.T) {
	th := newFakeThread()
	th.stopAt(frame.Raw{IP: 0x205, CFA: 0x6000})
	h := &fakeHandle{th: th}

	u := NewUntilLocation("main.sub")
	if err := initController(u, h); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer u.Close()

	if len(th.bps.sets) != 1 || th.bps.sets[0][0] != 0x600 {
		t.Errorf("breakpoints set = %v, want [[0x600]]", th.bps.sets)
	}
}

func TestUntilSetupFailures(t *testing.T) {
	t.Run("unknown location", func(t *testing.T) {
		th := newFakeThread()
		th.stopAt(frame.Raw{IP: 0x205, CFA: 0x6000})
		u := NewUntilLocation("main.missing")
		if err := initController(u, &fakeHandle{th: th}); !errors.Is(err, sym.ErrLocationNotFound) {
			t.Errorf("err = %v, want ErrLocationNotFound", err)
		}
		if len(th.bps.sets) != 0 {
			t.Errorf("breakpoints set = %v, want none", th.bps.sets)
		}
	})

	t.Run("no locations", func(t *testing.T) {
		th := newFakeThread()
		th.stopAt(frame.Raw{IP: 0x205, CFA: 0x6000})
		u := NewUntilAddrs(nil)
		if err := initController(u, &fakeHandle{th: th}); !errors.Is(err, ErrNoLocations) {
			t.Errorf("err = %v, want ErrNoLocations", err)
		}
	})

	t.Run("breakpoint set fails", func(t *testing.T) {
		th := newFakeThread()
		th.stopAt(frame.Raw{IP: 0x205, CFA: 0x6000})
		th.bps.failSet = errors.New("agent refused")
		u := NewUntilAddrs([]uint64{0x600})
		if err := initController(u, &fakeHandle{th: th}); err == nil {
			t.Error("breakpoint failure not reported")
		}
	})
}

func TestUntilForeignStops(t *testing.T) {
	th := newFakeThread()
	th.stopAt(frame.Raw{IP: 0x205, CFA: 0x6000})
	h := &fakeHandle{th: th}

	u := NewUntilAddrs([]uint64{0x600})
	if err := initController(u, h); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer u.Close()

	if v := u.OnThreadStop(agent.StopCauseStep, nil); v != VerdictUnexpected {
		t.Errorf("step stop = %v, want VerdictUnexpected", v)
	}
	if v := u.OnThreadStop(agent.StopCauseBreakpoint, []string{"bp-9"}); v != VerdictUnexpected {
		t.Errorf("foreign breakpoint = %v, want VerdictUnexpected", v)
	}
}
