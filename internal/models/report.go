package models

import "strings"

// PlaylistError records why one playlist did not archive cleanly.
type PlaylistError struct {
	Playlist string
	Cause    error
}

// ErrorReport accumulates per-playlist failures in the order they occurred.
type ErrorReport struct {
	entries []PlaylistError
}

// Add appends a failure. A playlist may appear more than once.
func (r *ErrorReport) Add(playlist string, cause error) {
	r.entries = append(r.entries, PlaylistError{Playlist: playlist, Cause: cause})
}

func (r *ErrorReport) Entries() []PlaylistError {
	return r.entries
}

func (r *ErrorReport) Empty() bool {
	return len(r.entries) == 0
}

// Playlists returns the failed playlist names, first occurrence order, without duplicates.
func (r *ErrorReport) Playlists() []string {
	seen := make(map[string]bool, len(r.entries))
	var names []string
	for _, e := range r.entries {
		if seen[e.Playlist] {
			continue
		}
		seen[e.Playlist] = true
		names = append(names, e.Playlist)
	}
	return names
}

func (r *ErrorReport) String() string {
	var b strings.Builder
	for _, e := range r.entries {
		b.WriteString(e.Playlist)
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
		b.WriteString("\n")
	}
	return b.String()
}
