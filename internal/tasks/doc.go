// Package tasks harvests a user's playlists into an [archive.Store] with real-time progress reporting.
//
// # Core Operations
//
// The [Harvester] interface defines the lookups run by the CLI:
//
//  1. [Harvester.DownloadPlaylists] : archive playlists
//     - Pages through the playlist collection, optionally keeping owned playlists only
//     - Pages through each playlist's tracks, or reads back a stored track list
//     - Stores metadata, track list and cover images; records per-playlist failures in error.log
//     - Returns the dedup set of track ids for lookups
//
//  2. [Harvester.FetchAnalysis] : one analysis request per stored track id without an analysis file
//
//  3. [Harvester.FetchFeatures] : features for every analysed id, in chunks of at most 100
//
// # Building Blocks
//
//   - [Paginator] : walks offset or cursor paginated collections
//   - [IDSet] : the dedup set, built from tracks ([FromTracks]) or artifact names ([FromDisk])
//   - [BatchLookup] : chunked features requests
//   - [Metrics] : prometheus counters for a run
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
// A nil channel disables reporting, and a full channel drops the update.
package tasks
