// Package ingest keeps the store in step with the chain.
//
// The Reconciler is a single-writer loop over one persisted integer, the
// last handled height:
//
//  1. from = max(min height, last handled + 1), to = from + blocks per request - 1
//  2. fetch every data entry event in [from, to] from the update source
//  3. split the events into inserts (value present) and tombstones (value absent)
//  4. apply inserts then tombstones in one store transaction, together with
//     the new watermark: the highest height actually seen
//  5. when the range yielded nothing, back off before asking again
//
// A failed fetch counts as an empty range and is retried after the backoff.
// A failed apply stops the loop. Since a batch and its watermark commit
// together, a restart resumes from the last committed batch.
//
// Only one Reconciler may run against a store. Cancellation is observed
// between iterations and during the backoff, never in the middle of an
// apply.
package ingest
