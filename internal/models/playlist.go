package models

import (
	"encoding/json"
	"fmt"

	"github.com/desertthunder/sparchive/internal/shared"
)

// Owner identifies the user a playlist belongs to.
type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Image is a playlist cover descriptor. Height and Width are nil when the API does not know them.
type Image struct {
	URL    string `json:"url"`
	Height *int   `json:"height"`
	Width  *int   `json:"width"`
}

// HasDimensions reports whether both dimensions are known.
func (i Image) HasDimensions() bool {
	return i.Height != nil && i.Width != nil
}

// Playlist is a playlist as listed by the collection endpoint.
//
// Raw holds the untouched JSON object, which is what gets persisted.
type Playlist struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Owner  Owner           `json:"owner"`
	Images []Image         `json:"images"`
	Raw    json.RawMessage `json:"-"`
}

// StorageName is the playlist name as a single path segment.
func (p Playlist) StorageName() string {
	return shared.SaveableName(p.Name)
}

// OwnedBy reports whether user owns the playlist. An empty user matches nothing.
func (p Playlist) OwnedBy(user string) bool {
	return user != "" && p.Owner.ID == user
}

// ParsePlaylist decodes one raw playlist item. The id and a non-empty name are required,
// since the name becomes the playlist's directory.
func ParsePlaylist(raw json.RawMessage) (Playlist, error) {
	var wire struct {
		ID     *string `json:"id"`
		Name   *string `json:"name"`
		Owner  Owner   `json:"owner"`
		Images []Image `json:"images"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Playlist{}, &shared.MalformedEntityError{Index: -1, Field: "playlist", Err: err}
	}

	switch {
	case wire.ID == nil || *wire.ID == "":
		return Playlist{}, &shared.MalformedEntityError{Index: -1, Field: "id"}
	case wire.Name == nil || *wire.Name == "":
		return Playlist{}, &shared.MalformedEntityError{Index: -1, Field: "name"}
	}

	return Playlist{
		ID:     *wire.ID,
		Name:   *wire.Name,
		Owner:  wire.Owner,
		Images: wire.Images,
		Raw:    raw,
	}, nil
}

// ParsePlaylists decodes a listing. Malformed items are returned as errors carrying their index.
func ParsePlaylists(raws []json.RawMessage) ([]Playlist, []error) {
	var (
		playlists []Playlist
		errs      []error
	)
	for i, raw := range raws {
		p, err := ParsePlaylist(raw)
		if err != nil {
			errs = append(errs, withIndex(err, i))
			continue
		}
		playlists = append(playlists, p)
	}
	return playlists, errs
}

// Page is one response of a paginated collection endpoint.
type Page struct {
	Items  []json.RawMessage `json:"items"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
	Next   *string           `json:"next"`
}

// HasNext reports whether the page carries a non-empty next cursor.
func (p *Page) HasNext() bool {
	return p.Next != nil && *p.Next != ""
}

// NextOffset is the offset of the page following this one.
func (p *Page) NextOffset() int {
	return p.Offset + len(p.Items)
}

// More reports whether offset arithmetic says items remain after this page.
func (p *Page) More() bool {
	return p.NextOffset() < p.Total
}

func (p *Page) String() string {
	return fmt.Sprintf("page offset=%d items=%d total=%d", p.Offset, len(p.Items), p.Total)
}
