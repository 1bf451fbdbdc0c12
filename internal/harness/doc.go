// Package harness replays end-to-end scenarios against the indexer.
//
// A scenario scripts the update stream, drives the ingestion reconciler
// over it until every event is applied, then runs searches and multi-gets
// through the search service. Every step is recorded in a trace that can
// be compared against a golden file.
//
// # Scenario Format
//
// Scenarios are yaml files:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	blocks_per_request: 100      # optional, reconciler range width
//	upstream_failures: 1         # optional, fetches that fail before any succeeds
//	events:
//	  - {height: 1, address: 3PA, key: "$order#1", string: "$buy"}
//	  - {height: 2, address: 3PA, key: "$order#1"}   # no value: removal
//	queries:
//	  - name: orders
//	    search: {filter: {address: {value: 3PA}}, limit: 10}
//	    height: 1                  # optional point in history
//	    expect:
//	      keys: ["$order#1"]
//	  - name: lookup
//	    entries: [{address: 3PA, key: "$order#1"}]
//	assertions:
//	  - type: result_count
//	    query: orders
//	    count: 1
//	  - type: final_state
//	    address: 3PA
//	    key: "$order#1"
//	    removed: true
//
// Values take one of integer, string, bool or binary (base64). An event
// without any of them removes the pair.
//
// # Assertion Types
//
//   - result_contains: the named query returned the key
//   - result_order: the keys appear in this order in the named query
//   - result_count: the named query returned exactly count rows
//   - final_state: the current version of a pair has this value, or is removed
//   - watermark: the last handled height after ingestion
//
// # Deterministic Testing
//
// Each scenario runs against a fresh in-memory SQLite store. Block h is
// stamped with testutil.BlockTime(h), so traces are identical across runs
// and suitable for golden comparison.
package harness
