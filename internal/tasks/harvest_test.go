package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/sparchive/internal/archive"
	"github.com/desertthunder/sparchive/internal/models"
	"github.com/desertthunder/sparchive/internal/shared"
	tu "github.com/desertthunder/sparchive/internal/testing"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
)

func testOptions() Options {
	return Options{ChunkSize: 100, TrackPageSize: 2, PlaylistPageSize: 1}
}

func newEngine(t *testing.T, src Source, opts Options) (*HarvestEngine, *archive.Store) {
	t.Helper()
	store := archive.NewStoreFs(afero.NewMemMapFs(), "/data")
	engine, err := NewHarvestEngine(src, store, opts, nil, nil)
	if err != nil {
		t.Fatalf("NewHarvestEngine() error = %v", err)
	}
	return engine, store
}

// roadTrip lists two playlists: one with a cover in the listing, one whose covers come from the images endpoint.
func roadTrip() *tu.FakeSource {
	src := tu.NewFakeSource("me")
	src.Playlists = []json.RawMessage{
		tu.PlaylistJSON("p1", "Road Trip", "me", "https://img.test/p1.png"),
		tu.PlaylistJSON("p2", "Focus/Work", "someone"),
	}
	src.Tracks["p1"] = []json.RawMessage{
		tu.Entry("A", "Song A", "track"),
		tu.Entry("B", "Show B", "episode"),
		tu.Entry("A", "Song A", "track"),
	}
	src.Tracks["p2"] = []json.RawMessage{
		tu.Entry("A", "Song A", "track"),
		tu.Entry("C", "Song C", "track"),
		tu.Entry("", "local file", "track"),
	}
	src.Images["p2"] = []models.Image{{URL: "https://img.test/p2.png"}}
	src.ImageData["https://img.test/p1.png"] = []byte("png1")
	src.ImageData["https://img.test/p2.png"] = []byte("png2")
	return src
}

func mustRead(t *testing.T, store *archive.Store, path string) string {
	t.Helper()
	data, err := afero.ReadFile(store.Fs(), path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestOptions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"defaults", func(o *Options) {}, false},
		{"upper bounds", func(o *Options) { o.ChunkSize, o.TrackPageSize, o.PlaylistPageSize = 100, 100, 50 }, false},
		{"zero chunk", func(o *Options) { o.ChunkSize = 0 }, true},
		{"chunk too large", func(o *Options) { o.ChunkSize = 101 }, true},
		{"track page too large", func(o *Options) { o.TrackPageSize = 101 }, true},
		{"playlist page too large", func(o *Options) { o.PlaylistPageSize = 51 }, true},
		{"negative playlist page", func(o *Options) { o.PlaylistPageSize = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)

			err := opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, shared.ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}

	t.Run("NewHarvestEngine rejects invalid options", func(t *testing.T) {
		opts := testOptions()
		opts.ChunkSize = 500
		if _, err := NewHarvestEngine(tu.NewFakeSource("me"), archive.NewStoreFs(afero.NewMemMapFs(), "/"), opts, nil, nil); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("OptionsFromConfig", func(t *testing.T) {
		opts := OptionsFromConfig(shared.DefaultConfig().Archive)
		if err := opts.Validate(); err != nil {
			t.Errorf("default config must produce valid options: %v", err)
		}
	})
}

func TestDownloadPlaylists(t *testing.T) {
	t.Run("archives every playlist", func(t *testing.T) {
		src := roadTrip()
		engine, store := newEngine(t, src, testOptions())

		result, err := engine.DownloadPlaylists(context.Background(), nil)
		if err != nil {
			t.Fatalf("DownloadPlaylists() error = %v", err)
		}

		if result.Listed != 2 {
			t.Errorf("expected 2 listed, got %d", result.Listed)
		}
		if fmt.Sprint(result.Succeeded) != "[Road Trip Focus/Work]" {
			t.Errorf("unexpected succeeded %v", result.Succeeded)
		}
		if !result.Report.Empty() {
			t.Errorf("unexpected report:\n%s", result.Report.String())
		}
		if got := fmt.Sprint(result.IDs.Sorted()); got != "[A C]" {
			t.Errorf("dedup ids = %s, want [A C]", got)
		}

		for _, name := range []string{"Road Trip", "Focus/Work"} {
			if !store.Exists(archive.KindPlaylist, name) || !store.Exists(archive.KindTrackList, name) {
				t.Errorf("artifacts missing for %s", name)
			}
			if store.Exists(archive.KindErrorLog, name) {
				t.Errorf("unexpected error.log for %s", name)
			}
		}

		raw, err := store.ReadTrackList("Road Trip")
		if err != nil {
			t.Fatalf("ReadTrackList() error = %v", err)
		}
		if len(raw) != 3 {
			t.Errorf("track list must keep every entry, got %d", len(raw))
		}

		meta, _ := store.Read(archive.KindPlaylist, "Road Trip")
		if string(meta) != string(src.Playlists[0]) {
			t.Errorf("playlist metadata not stored verbatim: %s", meta)
		}

		cover := filepath.Join(store.PlaylistDir("Road Trip"), archive.ImagesDir, "cover64x64.png")
		if got := mustRead(t, store, cover); got != "png1" {
			t.Errorf("cover content = %q", got)
		}
		fallback := filepath.Join(store.PlaylistDir("Focus/Work"), archive.ImagesDir, archive.FallbackImage)
		if got := mustRead(t, store, fallback); got != "png2" {
			t.Errorf("fallback cover content = %q", got)
		}

		if src.Calls["images"] != 1 {
			t.Errorf("images endpoint must only be used without listing covers, got %d calls", src.Calls["images"])
		}
		if src.Calls["playlists"] != 2 {
			t.Errorf("expected 2 listing pages of size 1, got %d", src.Calls["playlists"])
		}
		if got := testutil.ToFloat64(engine.Metrics().PlaylistsTotal.WithLabelValues("succeeded")); got != 2 {
			t.Errorf("succeeded metric = %v, want 2", got)
		}
		if result.Counts.Written != 6 {
			t.Errorf("expected 6 writes (2 metadata, 2 track lists, 2 images), got %d", result.Counts.Written)
		}
	})

	t.Run("second run resumes from disk", func(t *testing.T) {
		src := roadTrip()
		engine, _ := newEngine(t, src, testOptions())

		if _, err := engine.DownloadPlaylists(context.Background(), nil); err != nil {
			t.Fatal(err)
		}
		tracksCalls, imageCalls := src.Calls["tracks"], src.Calls["image"]

		result, err := engine.DownloadPlaylists(context.Background(), nil)
		if err != nil {
			t.Fatalf("second DownloadPlaylists() error = %v", err)
		}
		if src.Calls["tracks"] != tracksCalls {
			t.Errorf("stored track lists must not be fetched again")
		}
		if src.Calls["image"] != imageCalls {
			t.Errorf("images must not be downloaded again")
		}
		if result.Counts.Written != 0 || result.Counts.Skipped != 2 {
			t.Errorf("expected only skipped metadata, got %+v", result.Counts)
		}
		if got := fmt.Sprint(result.IDs.Sorted()); got != "[A C]" {
			t.Errorf("resumed dedup ids = %s, want [A C]", got)
		}
	})

	t.Run("force refetches and overwrites", func(t *testing.T) {
		src := roadTrip()
		opts := testOptions()
		opts.Force = true
		engine, store := newEngine(t, src, opts)

		if _, err := engine.DownloadPlaylists(context.Background(), nil); err != nil {
			t.Fatal(err)
		}
		src.Tracks["p1"] = []json.RawMessage{tu.Entry("Z", "New", "track")}

		result, err := engine.DownloadPlaylists(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		raw, _ := store.ReadTrackList("Road Trip")
		if len(raw) != 1 {
			t.Errorf("track list not replaced, %d entries", len(raw))
		}
		if !result.IDs.Has("Z") || result.IDs.Has("B") {
			t.Errorf("unexpected ids %v", result.IDs.Sorted())
		}
	})

	t.Run("remote failure is scoped to its playlist", func(t *testing.T) {
		src := roadTrip()
		src.Errors["tracks:p2"] = &shared.RemoteError{Endpoint: "playlists/p2/tracks", Status: 404}
		engine, store := newEngine(t, src, testOptions())

		result, err := engine.DownloadPlaylists(context.Background(), nil)
		if err != nil {
			t.Fatalf("DownloadPlaylists() error = %v", err)
		}

		if fmt.Sprint(result.Succeeded) != "[Road Trip]" {
			t.Errorf("unexpected succeeded %v", result.Succeeded)
		}
		if fmt.Sprint(result.Report.Playlists()) != "[Focus/Work]" {
			t.Errorf("unexpected report playlists %v", result.Report.Playlists())
		}
		if store.Exists(archive.KindTrackList, "Focus/Work") || store.Exists(archive.KindPlaylist, "Focus/Work") {
			t.Error("no artifacts expected for a playlist whose tracks failed")
		}

		logPath, _ := store.Path(archive.KindErrorLog, "Focus/Work")
		log := mustRead(t, store, logPath)
		if !strings.Contains(log, "ERROR PROCESSING Focus/Work") || !strings.Contains(log, "404") {
			t.Errorf("unexpected error.log:\n%s", log)
		}
		if got := fmt.Sprint(result.IDs.Sorted()); got != "[A]" {
			t.Errorf("dedup ids = %s, want [A]", got)
		}
		if got := testutil.ToFloat64(engine.Metrics().RemoteErrorsTotal.WithLabelValues("playlist_tracks")); got != 1 {
			t.Errorf("remote error metric = %v, want 1", got)
		}
		if got := testutil.ToFloat64(engine.Metrics().PlaylistsTotal.WithLabelValues("failed")); got != 1 {
			t.Errorf("failed metric = %v, want 1", got)
		}
	})

	t.Run("malformed entries are reported but archived", func(t *testing.T) {
		src := roadTrip()
		src.Tracks["p1"] = append(src.Tracks["p1"], json.RawMessage(`{"track": {"id": "X", "type": "track"}}`))
		engine, store := newEngine(t, src, testOptions())

		result, err := engine.DownloadPlaylists(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		entries := result.Report.Entries()
		if len(entries) != 1 || entries[0].Playlist != "Road Trip" {
			t.Fatalf("unexpected report entries %+v", entries)
		}
		if !errors.Is(entries[0].Cause, shared.ErrMalformedEntity) {
			t.Errorf("expected ErrMalformedEntity, got %v", entries[0].Cause)
		}
		if !store.Exists(archive.KindTrackList, "Road Trip") || !store.Exists(archive.KindErrorLog, "Road Trip") {
			t.Error("track list and error.log expected")
		}
		if result.IDs.Has("X") {
			t.Error("malformed entry must not reach the dedup set")
		}
	})

	t.Run("image failure is a playlist problem", func(t *testing.T) {
		src := roadTrip()
		src.Errors["image:https://img.test/p1.png"] = &shared.RemoteError{Endpoint: "p1.png", Err: errors.New("dial tcp")}
		engine, store := newEngine(t, src, testOptions())

		result, err := engine.DownloadPlaylists(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(result.Report.Playlists()) != "[Road Trip]" {
			t.Errorf("unexpected report playlists %v", result.Report.Playlists())
		}
		if !store.Exists(archive.KindPlaylist, "Road Trip") {
			t.Error("metadata must still be stored")
		}
	})

	t.Run("owned only", func(t *testing.T) {
		src := roadTrip()
		opts := testOptions()
		opts.OwnedOnly = true
		engine, store := newEngine(t, src, opts)

		result, err := engine.DownloadPlaylists(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if src.Calls["me"] != 1 {
			t.Errorf("expected the current user to be resolved once, got %d", src.Calls["me"])
		}
		if fmt.Sprint(result.Succeeded) != "[Road Trip]" {
			t.Errorf("unexpected succeeded %v", result.Succeeded)
		}
		if store.Exists(archive.KindPlaylist, "Focus/Work") {
			t.Error("followed playlist must be skipped")
		}
		if result.Listed != 2 {
			t.Errorf("listing count covers every playlist, got %d", result.Listed)
		}
	})

	t.Run("malformed listing item", func(t *testing.T) {
		src := roadTrip()
		src.Playlists = append(src.Playlists, json.RawMessage(`{"name": "no id"}`))
		engine, _ := newEngine(t, src, testOptions())

		result, err := engine.DownloadPlaylists(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(result.Succeeded) != 2 || result.Report.Empty() {
			t.Errorf("expected 2 playlists and one report entry, got %v / %v", result.Succeeded, result.Report.Playlists())
		}
	})

	t.Run("empty playlist name is reported and the run continues", func(t *testing.T) {
		src := tu.NewFakeSource("me")
		src.Playlists = []json.RawMessage{
			tu.PlaylistJSON("p0", "", "me"),
			tu.PlaylistJSON("p1", "Good", "me"),
		}
		src.Tracks["p0"] = []json.RawMessage{tu.Entry("X", "Song X", "track")}
		src.Tracks["p1"] = []json.RawMessage{tu.Entry("A", "Song A", "track")}
		engine, store := newEngine(t, src, testOptions())

		result, err := engine.DownloadPlaylists(context.Background(), nil)
		if err != nil {
			t.Fatalf("DownloadPlaylists() error = %v", err)
		}
		if len(result.Succeeded) != 1 || result.Succeeded[0] != "Good" {
			t.Errorf("expected Good to succeed, got %v", result.Succeeded)
		}
		if len(result.Report.Entries()) != 1 || !errors.Is(result.Report.Entries()[0].Cause, shared.ErrMalformedEntity) {
			t.Errorf("expected one malformed listing entry, got %v", result.Report.Entries())
		}
		if !store.Exists(archive.KindTrackList, "Good") {
			t.Error("expected the track list of Good")
		}
		if result.IDs.Len() != 1 {
			t.Errorf("expected only A in the dedup set, got %d ids", result.IDs.Len())
		}
	})

	t.Run("listing failure ends the run", func(t *testing.T) {
		src := roadTrip()
		src.Errors["playlists"] = &shared.RemoteError{Endpoint: "me/playlists", Status: 401}
		engine, _ := newEngine(t, src, testOptions())

		_, err := engine.DownloadPlaylists(context.Background(), nil)
		if !errors.Is(err, shared.ErrRemoteService) {
			t.Errorf("expected ErrRemoteService, got %v", err)
		}
	})

	t.Run("unwritable data directory", func(t *testing.T) {
		src := roadTrip()
		store := archive.NewStoreFs(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/data")
		engine, err := NewHarvestEngine(src, store, testOptions(), nil, nil)
		if err != nil {
			t.Fatal(err)
		}

		_, err = engine.DownloadPlaylists(context.Background(), nil)
		if !errors.Is(err, shared.ErrFilesystem) {
			t.Errorf("expected ErrFilesystem, got %v", err)
		}
		if src.Calls["playlists"] != 0 {
			t.Error("no request expected before the data directory is usable")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		engine, _ := newEngine(t, roadTrip(), testOptions())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := engine.DownloadPlaylists(ctx, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("progress ends with done", func(t *testing.T) {
		engine, _ := newEngine(t, roadTrip(), testOptions())
		progress := make(chan ProgressUpdate, 64)

		if _, err := engine.DownloadPlaylists(context.Background(), progress); err != nil {
			t.Fatal(err)
		}
		close(progress)

		var phases []Phase
		for u := range progress {
			phases = append(phases, u.Phase)
		}
		if len(phases) == 0 || phases[0] != ListingPlaylists || phases[len(phases)-1] != Done {
			t.Errorf("unexpected phases %v", phases)
		}
	})
}

func TestFetchAnalysis(t *testing.T) {
	harvested := func(t *testing.T, src *tu.FakeSource) (*HarvestEngine, *archive.Store) {
		t.Helper()
		engine, store := newEngine(t, src, testOptions())
		if _, err := engine.DownloadPlaylists(context.Background(), nil); err != nil {
			t.Fatal(err)
		}
		return engine, store
	}

	t.Run("fetches only missing analysis", func(t *testing.T) {
		src := roadTrip()
		engine, store := harvested(t, src)
		if _, err := store.Write(archive.KindAnalysis, "A", []byte(`{"cached": true}`), false); err != nil {
			t.Fatal(err)
		}

		result, err := engine.FetchAnalysis(context.Background(), nil)
		if err != nil {
			t.Fatalf("FetchAnalysis() error = %v", err)
		}
		if result.Candidates != 2 || result.Pending != 1 {
			t.Errorf("expected 2 candidates and 1 pending, got %+v", result)
		}
		if src.Calls["analysis"] != 1 || result.Requests != 1 {
			t.Errorf("expected a single request, got %d", src.Calls["analysis"])
		}
		if result.Counts.Written != 1 || result.Counts.Skipped != 1 {
			t.Errorf("unexpected counts %+v", result.Counts)
		}
		if !store.Exists(archive.KindAnalysis, "C") {
			t.Error("analysis for C expected")
		}
		if got, _ := store.Read(archive.KindAnalysis, "A"); string(got) != `{"cached": true}` {
			t.Error("existing analysis must not be overwritten")
		}
	})

	t.Run("remote failures are skipped", func(t *testing.T) {
		src := roadTrip()
		src.Errors["analysis:A"] = &shared.RemoteError{Endpoint: "audio-analysis/A", Status: 404}
		engine, store := harvested(t, src)

		result, err := engine.FetchAnalysis(context.Background(), nil)
		if err != nil {
			t.Fatalf("FetchAnalysis() error = %v", err)
		}
		if result.Counts.Failed != 1 || result.Counts.Written != 1 {
			t.Errorf("unexpected counts %+v", result.Counts)
		}
		if store.Exists(archive.KindAnalysis, "A") || !store.Exists(archive.KindAnalysis, "C") {
			t.Error("only C should have analysis")
		}
		if got := testutil.ToFloat64(engine.Metrics().RemoteErrorsTotal.WithLabelValues("audio_analysis")); got != 1 {
			t.Errorf("remote error metric = %v, want 1", got)
		}
	})

	t.Run("empty archive", func(t *testing.T) {
		src := tu.NewFakeSource("me")
		engine, _ := newEngine(t, src, testOptions())

		result, err := engine.FetchAnalysis(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if result.Candidates != 0 || src.Calls["analysis"] != 0 {
			t.Errorf("expected nothing to do, got %+v", result)
		}
	})
}

func TestFetchFeatures(t *testing.T) {
	t.Run("requests ids with analysis and without features", func(t *testing.T) {
		src := tu.NewFakeSource("me")
		src.Features["Y"] = featuresJSON("Y")
		engine, store := newEngine(t, src, testOptions())

		for _, id := range []string{"X", "Y"} {
			if _, err := store.Write(archive.KindAnalysis, id, []byte(`{}`), false); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := store.Write(archive.KindFeatures, "X", featuresJSON("X"), false); err != nil {
			t.Fatal(err)
		}

		result, err := engine.FetchFeatures(context.Background(), nil)
		if err != nil {
			t.Fatalf("FetchFeatures() error = %v", err)
		}
		if fmt.Sprint(src.FeatureCalls) != "[[Y]]" {
			t.Errorf("unexpected feature requests %v", src.FeatureCalls)
		}
		if result.Candidates != 2 || result.Pending != 1 || result.Counts.Written != 1 || result.Counts.Skipped != 1 {
			t.Errorf("unexpected result %+v", result)
		}
	})

	t.Run("chunk failure is returned", func(t *testing.T) {
		src := tu.NewFakeSource("me")
		src.Errors["features"] = &shared.RemoteError{Endpoint: "audio-features", Status: 503}
		engine, store := newEngine(t, src, testOptions())
		if _, err := store.Write(archive.KindAnalysis, "X", []byte(`{}`), false); err != nil {
			t.Fatal(err)
		}

		result, err := engine.FetchFeatures(context.Background(), nil)
		if !errors.Is(err, shared.ErrRemoteService) {
			t.Fatalf("expected ErrRemoteService, got %v", err)
		}
		if result == nil || result.Requests != 1 {
			t.Errorf("partial result expected, got %+v", result)
		}
	})
}

func TestAll(t *testing.T) {
	src := roadTrip()
	src.Features["A"] = featuresJSON("A")
	src.Features["C"] = featuresJSON("C")
	engine, store := newEngine(t, src, testOptions())
	if _, err := engine.DownloadPlaylists(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	results, err := engine.All(context.Background(), nil)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(results) != 2 || results[0].Phase != LookupAnalysis || results[1].Phase != LookupFeatures {
		t.Fatalf("unexpected results %+v", results)
	}
	for _, id := range []string{"A", "C"} {
		if !store.Exists(archive.KindAnalysis, id) || !store.Exists(archive.KindFeatures, id) {
			t.Errorf("artifacts missing for %s", id)
		}
	}
	if len(src.FeatureCalls) != 1 {
		t.Errorf("expected one features chunk, got %d", len(src.FeatureCalls))
	}
}
