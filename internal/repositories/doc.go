// Package repositories implements SQLite persistence for the run history.
//
// Key Implementations:
//   - [RunRepository] : one row per CLI command execution, with counters and the playlists that failed
//
// The archive on disk decides what has been fetched. The history only answers "what did each run do",
// so losing the database never causes a refetch.
//
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
