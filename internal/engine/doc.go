// Package engine drives threads of the debugged process: it owns the thread
// table, routes stop notifications from the remote agent to the attached
// step controller, and issues resume requests back.
//
// # Architecture
//
//	┌──────────────┐  stop events   ┌──────────────────────────────┐
//	│ agent.Client │ ─────────────▶ │ Engine (dispatch goroutine)  │
//	│              │ ◀───────────── │  thread table, breakpoints   │
//	└──────────────┘  resume/bp/    └──────────────┬───────────────┘
//	                  unwind                       │ owns
//	                                               ▼
//	                                ┌──────────────────────────────┐
//	                                │ Thread: stack + controller   │
//	                                └──────────────────────────────┘
//
// All engine state is confined to a single dispatch goroutine; client
// callbacks and public commands post closures onto its queue. Blocking agent
// requests run in their own goroutines and post their completions back, so
// the dispatch goroutine never waits on the wire.
package engine
