// package archive persists harvested artifacts under a data directory.
//
// Layout:
//
//	raw_data/<name>/<name>.json        playlist metadata
//	raw_data/<name>/tracks.json        playlist entries
//	raw_data/<name>/error.log          per-playlist failures
//	raw_data/<name>/images/cover*.png  cover images
//	musics/raw_data/<id>_analysis.json audio analysis
//	musics/raw_data/<id>_features.json audio features
//	analysis/<file>                    derived reports
//
// The presence of a file is the only record that an entity was fetched.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/desertthunder/sparchive/internal/models"
	"github.com/desertthunder/sparchive/internal/shared"
	"github.com/spf13/afero"
)

const (
	RawDataDir     = "raw_data"
	MusicsDir      = "musics"
	ImagesDir      = "images"
	TrackListFile  = "tracks.json"
	ErrorLogFile   = "error.log"
	FallbackImage  = "cover.png"
	AnalysisSuffix = "_analysis.json"
	FeaturesSuffix = "_features.json"
	ReportsDir     = "analysis"
	SummaryFile    = "raw_data_summary_database.csv"
)

// Kind selects the artifact family and with it the path derivation.
type Kind int

const (
	KindPlaylist  Kind = iota // keyed by playlist name
	KindTrackList             // keyed by playlist name
	KindErrorLog              // keyed by playlist name
	KindAnalysis              // keyed by track id
	KindFeatures              // keyed by track id
	KindReport                // keyed by file name
)

func (k Kind) String() string {
	switch k {
	case KindPlaylist:
		return "playlist"
	case KindTrackList:
		return "tracks"
	case KindErrorLog:
		return "error_log"
	case KindAnalysis:
		return "analysis"
	case KindFeatures:
		return "features"
	case KindReport:
		return "report"
	default:
		return "unknown"
	}
}

// WriteResult reports what [Store.Write] did.
type WriteResult int

const (
	Skipped WriteResult = iota
	Written
)

func (r WriteResult) String() string {
	if r == Written {
		return "written"
	}
	return "skipped"
}

// Store reads and writes artifacts rooted at one data directory.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore returns a Store on the OS filesystem.
func NewStore(root string) *Store {
	return NewStoreFs(afero.NewOsFs(), root)
}

// NewStoreFs returns a Store on fs.
func NewStoreFs(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

func (s *Store) Root() string { return s.root }

func (s *Store) Fs() afero.Fs { return s.fs }

// TracksDir is the directory holding analysis and features artifacts.
func (s *Store) TracksDir() string {
	return filepath.Join(s.root, MusicsDir, RawDataDir)
}

// PlaylistDir is the directory of one playlist, derived from its display name.
func (s *Store) PlaylistDir(name string) string {
	return filepath.Join(s.root, RawDataDir, shared.SaveableName(name))
}

// Path derives the artifact path for (kind, key).
func (s *Store) Path(kind Kind, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty %s key", shared.ErrInvalidParameter, kind)
	}

	switch kind {
	case KindPlaylist:
		name := shared.SaveableName(key)
		return filepath.Join(s.PlaylistDir(key), name+".json"), nil
	case KindTrackList:
		return filepath.Join(s.PlaylistDir(key), TrackListFile), nil
	case KindErrorLog:
		return filepath.Join(s.PlaylistDir(key), ErrorLogFile), nil
	case KindReport:
		if !isFileName(key) {
			return "", fmt.Errorf("%w: report %q is not a file name", shared.ErrInvalidParameter, key)
		}
		return filepath.Join(s.root, ReportsDir, key), nil
	case KindAnalysis, KindFeatures:
		if !isFileName(key) {
			return "", fmt.Errorf("%w: track id %q is not a file name", shared.ErrInvalidParameter, key)
		}
		suffix := AnalysisSuffix
		if kind == KindFeatures {
			suffix = FeaturesSuffix
		}
		return filepath.Join(s.TracksDir(), key+suffix), nil
	default:
		return "", fmt.Errorf("%w: unknown artifact kind %d", shared.ErrInvalidParameter, kind)
	}
}

func isFileName(key string) bool {
	return !strings.ContainsAny(key, `/\`) && strings.Trim(key, ".") != ""
}

// Exists reports whether the artifact for (kind, key) is present.
func (s *Store) Exists(kind Kind, key string) bool {
	path, err := s.Path(kind, key)
	if err != nil {
		return false
	}
	ok, err := afero.Exists(s.fs, path)
	return err == nil && ok
}

// Write stores payload unless the artifact exists and force is false.
func (s *Store) Write(kind Kind, key string, payload []byte, force bool) (WriteResult, error) {
	path, err := s.Path(kind, key)
	if err != nil {
		return Skipped, err
	}

	if !force {
		ok, err := afero.Exists(s.fs, path)
		if err != nil {
			return Skipped, fmt.Errorf("%w: %v", shared.ErrFilesystem, err)
		}
		if ok {
			return Skipped, nil
		}
	}

	if err := s.writeAtomic(path, payload); err != nil {
		return Skipped, err
	}
	return Written, nil
}

// WriteJSON encodes v compactly and stores it through [Store.Write].
func (s *Store) WriteJSON(kind Kind, key string, v any, force bool) (WriteResult, error) {
	data, err := shared.MarshalJSON(v, false)
	if err != nil {
		return Skipped, fmt.Errorf("failed to encode %s %s: %w", kind, key, err)
	}
	return s.Write(kind, key, data, force)
}

// ImageName is cover<h>x<w>.png, or cover.png when a dimension is unknown.
//
// Two images without dimensions share the fallback name, so the later one replaces the earlier.
func ImageName(img models.Image) string {
	if !img.HasDimensions() {
		return FallbackImage
	}
	return fmt.Sprintf("cover%dx%d.png", *img.Height, *img.Width)
}

// WriteImage stores a cover image for a playlist and returns its path. Images are always overwritten.
func (s *Store) WriteImage(playlistName string, img models.Image, data []byte) (string, error) {
	if playlistName == "" {
		return "", fmt.Errorf("%w: empty playlist name", shared.ErrInvalidParameter)
	}
	path := filepath.Join(s.PlaylistDir(playlistName), ImagesDir, ImageName(img))
	if err := s.writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// Read returns the artifact content.
func (s *Store) Read(kind Kind, key string) ([]byte, error) {
	path, err := s.Path(kind, key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", shared.ErrFilesystem, path, err)
	}
	return data, nil
}

// ReadTrackList decodes a stored track list into its raw entries.
func (s *Store) ReadTrackList(playlistName string) ([]json.RawMessage, error) {
	data, err := s.Read(KindTrackList, playlistName)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &shared.MalformedEntityError{Index: -1, Field: TrackListFile, Err: err}
	}
	return items, nil
}

// Playlists lists the stored playlist directory names in lexical order.
// A missing raw_data directory yields an empty list.
func (s *Store) Playlists() ([]string, error) {
	dir := filepath.Join(s.root, RawDataDir)
	entries, err := afero.ReadDir(s.fs, dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", shared.ErrFilesystem, dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// EnsureDir creates the directory tree for kind up front so an unwritable data
// directory fails before any request is made.
func (s *Store) EnsureDir(kind Kind) error {
	dir := filepath.Join(s.root, RawDataDir)
	if kind == KindAnalysis || kind == KindFeatures {
		dir = s.TracksDir()
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", shared.ErrFilesystem, dir, err)
	}
	return nil
}

// writeAtomic writes data to a temp file beside path and renames it into place.
func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", shared.ErrFilesystem, dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: temp file in %s: %v", shared.ErrFilesystem, dir, err)
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(name)
		return fmt.Errorf("%w: write %s: %v", shared.ErrFilesystem, path, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(name)
		return fmt.Errorf("%w: close %s: %v", shared.ErrFilesystem, path, err)
	}
	if err := s.fs.Chmod(name, 0o644); err != nil {
		s.fs.Remove(name)
		return fmt.Errorf("%w: chmod %s: %v", shared.ErrFilesystem, path, err)
	}
	if err := s.fs.Rename(name, path); err != nil {
		s.fs.Remove(name)
		return fmt.Errorf("%w: rename %s: %v", shared.ErrFilesystem, path, err)
	}
	return nil
}
