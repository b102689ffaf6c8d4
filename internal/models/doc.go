// Package models defines domain entities and persistence interfaces for the sparchive playlist archiver.
//
// The package contains two categories of types:
//
// 1. Harvest entities: decoded views over raw API payloads
//   - [Playlist] : Playlist metadata with owner and cover images, keeping the raw JSON for persistence
//   - [Page] : One page of a paginated collection, carrying the cursor state
//   - [Track] : One playlist entry produced by the explicit parse step [ParseEntry]
//   - [ErrorReport] : Ordered, non-fatal per-playlist failures collected during a run
//
// 2. Persistent entities: database-backed models
//   - [HarvestRun] : One CLI invocation with its counters and outcome
//
// Raw payloads are never rewritten. The decoded types only exist so the harvest can make decisions
// (file names, eligibility for lookups), while the artifact on disk is the JSON the API returned.
//
// [Repository] is the storage contract for [Record] types such as [HarvestRun].
package models
