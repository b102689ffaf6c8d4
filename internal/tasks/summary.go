package tasks

import (
	"github.com/desertthunder/sparchive/internal/archive"
	"github.com/desertthunder/sparchive/internal/models"
)

// SummaryRow is one stored playlist entry tagged with the playlist directory it came from.
type SummaryRow struct {
	Playlist string
	models.Track
}

// Summary flattens every stored track list into one table.
type Summary struct {
	Rows      []SummaryRow
	Playlists int
	UniqueIDs int
	Types     []string // distinct entry types, sorted
	Malformed int      // entries dropped by the parser
}

// Summarize reads every stored track list. Playlists without a readable list are skipped.
func Summarize(store *archive.Store) (*Summary, error) {
	names, err := store.Playlists()
	if err != nil {
		return nil, err
	}

	s := &Summary{}
	ids := NewIDSet()
	types := NewIDSet()
	for _, name := range names {
		raws, err := store.ReadTrackList(name)
		if isFatal(err) && store.Exists(archive.KindTrackList, name) {
			return nil, err
		}
		if err != nil {
			continue
		}
		s.Playlists++

		tracks, errs := models.ParseEntries(raws, "")
		s.Malformed += len(errs)
		for _, t := range tracks {
			s.Rows = append(s.Rows, SummaryRow{Playlist: name, Track: t})
			if t.ID != "" {
				ids.Add(t.ID)
			}
			types.Add(string(t.Type))
		}
	}

	s.UniqueIDs = ids.Len()
	s.Types = types.Sorted()
	return s, nil
}
