package tasks

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/desertthunder/sparchive/internal/models"
	"github.com/desertthunder/sparchive/internal/shared"
	"github.com/spf13/afero"
)

// IDSet is a set of track ids, each present at most once.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s IDSet) Add(id string) { s[id] = struct{}{} }

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Len() int { return len(s) }

// Sorted returns the members in lexical order.
func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Union adds every member of other.
func (s IDSet) Union(other IDSet) {
	for id := range other {
		s.Add(id)
	}
}

// Difference returns the members of s absent from other.
func (s IDSet) Difference(other IDSet) IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		if !other.Has(id) {
			out.Add(id)
		}
	}
	return out
}

// FromTracks collects the ids eligible for lookups. Episodes and tracks without
// an id are left out, and repeated ids collapse.
func FromTracks(tracks []models.Track) IDSet {
	s := make(IDSet)
	for _, t := range tracks {
		if t.Eligible() {
			s.Add(t.ID)
		}
	}
	return s
}

// FromDisk recovers ids from the file names in dir ending with suffix.
// A missing directory yields an empty set.
func FromDisk(fsys afero.Fs, dir, suffix string) (IDSet, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if os.IsNotExist(err) {
		return make(IDSet), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", shared.ErrFilesystem, dir, err)
	}

	s := make(IDSet, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		if id := strings.TrimSuffix(name, suffix); id != "" {
			s.Add(id)
		}
	}
	return s, nil
}
