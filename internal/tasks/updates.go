package tasks

import (
	"fmt"
)

// ProgressUpdate represents a progress event during a harvest.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Harvest phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase, 0 when unknown
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Phase is the harvest state machine position.
type Phase int

const (
	Idle Phase = iota
	ListingPlaylists
	FetchingTracks
	PersistingArtifacts
	DownloadingImages
	Aggregating
	LookupAnalysis
	LookupFeatures
	Done
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case ListingPlaylists:
		return "listing_playlists"
	case FetchingTracks:
		return "fetching_tracks"
	case PersistingArtifacts:
		return "persisting_artifacts"
	case DownloadingImages:
		return "downloading_images"
	case Aggregating:
		return "aggregating"
	case LookupAnalysis:
		return "lookup_analysis"
	case LookupFeatures:
		return "lookup_features"
	case Done:
		return "done"
	default:
		return ""
	}
}

func listingUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ListingPlaylists,
		Step:    count,
		Message: fmt.Sprintf("Listed %d playlists", count),
	}
}

func playlistUpdate(phase Phase, step, total int, name string) ProgressUpdate {
	var verb string
	switch phase {
	case FetchingTracks:
		verb = "Fetching tracks"
	case PersistingArtifacts:
		verb = "Saving"
	case DownloadingImages:
		verb = "Downloading images"
	default:
		verb = phase.String()
	}
	return ProgressUpdate{
		Phase:   phase,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s: %s", step, total, verb, name),
	}
}

func playlistFailedUpdate(step, total int, name string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PersistingArtifacts,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, name, err),
		Data:    err,
	}
}

func aggregateUpdate(playlists, ids int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Aggregating,
		Step:    playlists,
		Message: fmt.Sprintf("%d unique tracks across %d playlists", ids, playlists),
	}
}

func lookupUpdate(phase Phase, step, total int, key string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   phase,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", step, total, key),
	}
}

func doneUpdate(summary string, data any) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Done,
		Message: summary,
		Data:    data,
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}
