package models

import (
	"encoding/json"
	"errors"

	"github.com/desertthunder/sparchive/internal/shared"
)

// TrackType tags a playlist entry as a music track or a podcast episode.
type TrackType string

const (
	TypeTrack   TrackType = "track"
	TypeEpisode TrackType = "episode"
)

// Track is one playlist entry.
//
// ID is empty for local files, which the API returns with a null id.
type Track struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Album      string    `json:"album"`
	Artists    []string  `json:"artists"`
	DurationMS int       `json:"duration_ms"`
	AddedAt    string    `json:"added_at"`
	AddedBy    string    `json:"added_by"`
	Type       TrackType `json:"type"`
	PlaylistID string    `json:"playlist_id"`
}

// Eligible reports whether the track can be looked up for analysis and features.
func (t Track) Eligible() bool {
	return t.Type == TypeTrack && t.ID != ""
}

type rawEntry struct {
	AddedAt string `json:"added_at"`
	AddedBy *struct {
		ID string `json:"id"`
	} `json:"added_by"`
	Track *struct {
		ID    *string `json:"id"`
		Name  *string `json:"name"`
		Type  *string `json:"type"`
		Album *struct {
			Name string `json:"name"`
		} `json:"album"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
		DurationMS int `json:"duration_ms"`
	} `json:"track"`
}

// ParseEntry decodes one raw playlist item.
//
// The track object with its name and type are required; a missing one yields a
// [shared.MalformedEntityError] naming the field.
func ParseEntry(raw json.RawMessage, playlistID string) (Track, error) {
	var entry rawEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Track{}, &shared.MalformedEntityError{Index: -1, Field: "entry", Err: err}
	}

	t := entry.Track
	switch {
	case t == nil:
		return Track{}, &shared.MalformedEntityError{Index: -1, Field: "track"}
	case t.Name == nil:
		return Track{}, &shared.MalformedEntityError{Index: -1, Field: "track.name"}
	case t.Type == nil || *t.Type == "":
		return Track{}, &shared.MalformedEntityError{Index: -1, Field: "track.type"}
	}

	track := Track{
		Name:       *t.Name,
		DurationMS: t.DurationMS,
		AddedAt:    entry.AddedAt,
		Type:       TrackType(*t.Type),
		PlaylistID: playlistID,
	}
	if t.ID != nil {
		track.ID = *t.ID
	}
	if t.Album != nil {
		track.Album = t.Album.Name
	}
	if entry.AddedBy != nil {
		track.AddedBy = entry.AddedBy.ID
	}
	for _, a := range t.Artists {
		track.Artists = append(track.Artists, a.Name)
	}
	return track, nil
}

// ParseEntries runs [ParseEntry] over a track list. A malformed item never stops the
// rest from parsing; its error carries the item index.
func ParseEntries(raws []json.RawMessage, playlistID string) ([]Track, []error) {
	var (
		tracks []Track
		errs   []error
	)
	for i, raw := range raws {
		t, err := ParseEntry(raw, playlistID)
		if err != nil {
			errs = append(errs, withIndex(err, i))
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks, errs
}

func withIndex(err error, i int) error {
	var me *shared.MalformedEntityError
	if errors.As(err, &me) {
		me.Index = i
	}
	return err
}
