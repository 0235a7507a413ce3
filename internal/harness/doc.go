// Package harness runs approval scenarios end to end.
//
// A scenario seeds pages, queues changes, applies concurrent direct edits
// and then approves queued changes in batches, all against a fresh
// in-memory database with a stepping clock and sequential batch ids. The
// consequences executed form the trace, which can be compared against a
// golden file.
//
// # Scenario Format
//
//	name: merge_then_conflict
//	description: "What this scenario validates"
//	groups:
//	  Bot: [bot]
//	pages:
//	  - title: River
//	    text: "one\ntwo\n"
//	pending:
//	  - user: {id: 4, name: Bob}
//	    title: River
//	    text: "ONE\ntwo\n"
//	    ip: 192.0.2.10
//	    tags: [mobile edit]
//	    at: "20240101100000"
//	concurrent:
//	  - title: River
//	    text: "one\nTWO\n"
//	approve:
//	  - ids: [1]
//	  - author: Bob
//	expect:
//	  pages:
//	    - title: River
//	      text: "ONE\nTWO\n"
//	  pending:
//	    - id: 1
//	      merged: true
//	  outcomes:
//	    - id: 1
//	      code: ok
//	assertions:
//	  - type: trace_order
//	    actions: [install-approve-hook, approve-edit, mark-as-merged]
//	  - type: final_state
//	    table: moderation
//	    where: {mod_id: 1}
//	    expect: {mod_conflict: 0}
//
// Queued changes get mod ids 1, 2, ... in the order listed. Pages are
// created before anything is queued; concurrent edits run after queuing
// and before the first approval.
//
// # Assertion Types
//
//   - trace_contains: a consequence of the kind ran with matching args
//   - trace_order: consequence kinds ran in this order
//   - trace_count: a consequence kind ran exactly N times
//   - final_state: a table row matches the expected columns
package harness
