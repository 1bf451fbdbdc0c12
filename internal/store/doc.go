// Package store persists data entry versions in a relational database.
//
// Every write to an (address, key) pair appends a row to data_entries. The
// current version of a pair has superseded_by = MaxUID, older versions point
// at the row that replaced them. A removal is a version with every value
// column null, so it is current but never matches a search.
//
// Every version is also recorded in data_entries_history, which answers
// "which version was current at height H (or time T)" for historical reads.
//
// # Dialects
//
//   - postgres (lib/pq): production backend
//   - sqlite3 (go-sqlite3): embedded and test backend, single connection,
//     WAL mode, with unescape_literal, md5 and decode registered as Go
//     functions
//
// Schema migrations live in migrations/<dialect>/ and are applied with
// adlio/schema. Writes and lookups are built with squirrel. Searches run the
// text produced by querysql as is.
//
// # Watermark
//
// last_handled_height holds the highest height whose events are fully
// applied. ApplyBatch advances it in the same transaction as the batch.
package store
