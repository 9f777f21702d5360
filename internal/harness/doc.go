// Package harness runs YAML scenarios against the demo application.
//
// A scenario seeds the db, optionally runs setup events, then walks a list
// of steps. Each step either queues an event, processes one synchronously,
// drains the queue, purges it, or advances the fake timer that backs
// dispatch-later. Steps may carry assertions that are checked right after
// the step; the scenario's own assertions are checked once the queue has
// drained at the end.
//
// Every event the runtime processes after setup is appended to the trace
// with a logical sequence number (testutil.DeterministicClock), its
// outcome, and how many events were still queued. Traces plus the final db
// are compared against golden files with goldie:
//
//	go test ./internal/harness -update
//
// Scenario format:
//
//	name: add_and_toggle
//	description: adding two todos then completing the first
//	db: {...}                 # optional, defaults to demo.InitialDB
//	setup:
//	  - [":add-todo", "milk"]
//	steps:
//	  - dispatch: [":add-todo", "bread"]
//	  - run: true
//	  - dispatch_sync: [":toggle-done", 1]
//	    expect:
//	      - type: sub
//	        query: [":counts"]
//	        value: {total: 2, done: 1, active: 1}
//	  - advance: 3000
//	assertions:
//	  - type: trace_count
//	    event: ":clear-notice"
//	    count: 2
//
// Strings starting with ':' are keywords; a leading '~' escapes a literal
// string.
//
// With WithJournal, the run is also recorded to a journal and replayed into
// a fresh runtime; any replay divergence fails the scenario.
package harness
