// Package control implements the stepping controllers that turn high-level
// stepping requests into sequences of low-level resume/stop decisions.
//
// # Architecture
//
// A command creates a top-level controller and attaches it to a thread.
// The engine asks the controller how to resume; every time the remote agent
// reports a stop, the controller's OnThreadStop is invoked with the stop's
// cause and returns a verdict:
//
//	┌───────────────────────────────────────────────────────────┐
//	│                    Top-level controller                   │
//	│  StepOver / StepInto / Finish / Until / Trampoline / Func │
//	└───────────────────────────────────────────────────────────┘
//	                │ owns (exclusively)
//	                ▼
//	┌───────────────────────────────────────────────────────────┐
//	│                     Sub-controllers                       │
//	│  Step (range/line stepping), FinishPhysical, Until        │
//	└───────────────────────────────────────────────────────────┘
//
// Higher-level controllers own and delegate to lower-level ones: StepOver
// owns a Step and, when a call is entered, a Finish; Finish owns a
// FinishPhysical and per-inline-range StepOvers; StepThroughTrampoline owns
// an Until.
//
// # Verdicts
//
//   - Continue: resume the thread per ResumeRequest and keep going.
//   - Done: the operation is complete; report to the user and detach.
//   - Unexpected: no opinion; the engine surfaces the raw stop.
//   - Future: asynchronous work is in flight; the thread stays stopped
//     until the controller triggers re-evaluation.
//
// # Thread references
//
// Controllers reach their thread only through a weak Handle. A thread can
// be destroyed while a controller's asynchronous work is pending; every
// pending callback resolves the handle first and becomes a no-op if the
// thread is gone.
package control
