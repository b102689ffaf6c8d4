package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/desertthunder/sparchive/internal/archive"
	"github.com/desertthunder/sparchive/internal/shared"
	tu "github.com/desertthunder/sparchive/internal/testing"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
)

func featuresJSON(id string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id": %q, "danceability": 0.5}`, id))
}

func newLookup(src *tu.FakeSource, size int) (*BatchLookup, *archive.Store) {
	store := archive.NewStoreFs(afero.NewMemMapFs(), "/data")
	return &BatchLookup{
		Fetch:     src.AudioFeatures,
		Store:     store,
		ChunkSize: size,
		Metrics:   NewMetrics(),
	}, store
}

func TestChunks(t *testing.T) {
	tests := []struct {
		n, size int
		want    []int
	}{
		{0, 100, nil},
		{1, 100, []int{1}},
		{100, 100, []int{100}},
		{101, 100, []int{100, 1}},
		{250, 100, []int{100, 100, 50}},
		{5, 2, []int{2, 2, 1}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d by %d", tt.n, tt.size), func(t *testing.T) {
			ids := make([]string, tt.n)
			for i := range ids {
				ids[i] = fmt.Sprintf("id%03d", i)
			}

			chunks := Chunks(ids, tt.size)
			var sizes []int
			seen := 0
			for _, c := range chunks {
				sizes = append(sizes, len(c))
				for _, id := range c {
					if id != ids[seen] {
						t.Fatalf("chunk order broken at %d", seen)
					}
					seen++
				}
			}
			if fmt.Sprint(sizes) != fmt.Sprint(tt.want) {
				t.Errorf("chunk sizes = %v, want %v", sizes, tt.want)
			}
			if seen != tt.n {
				t.Errorf("chunks cover %d ids, want %d", seen, tt.n)
			}
		})
	}
}

func TestBatchLookup(t *testing.T) {
	t.Run("issues ceil(N/C) requests covering every id once", func(t *testing.T) {
		src := tu.NewFakeSource("me")
		ids := NewIDSet()
		for i := range 7 {
			id := fmt.Sprintf("t%d", i)
			ids.Add(id)
			src.Features[id] = featuresJSON(id)
		}

		lookup, store := newLookup(src, 3)
		res, err := lookup.FetchChunks(context.Background(), ids)
		if err != nil {
			t.Fatalf("FetchChunks() error = %v", err)
		}

		if res.Requests != 3 || len(src.FeatureCalls) != 3 {
			t.Errorf("expected 3 requests, got %d (source saw %d)", res.Requests, len(src.FeatureCalls))
		}
		requested := NewIDSet()
		for _, call := range src.FeatureCalls {
			if len(call) > 3 {
				t.Errorf("chunk of %d exceeds size 3", len(call))
			}
			for _, id := range call {
				if requested.Has(id) {
					t.Errorf("id %s requested twice", id)
				}
				requested.Add(id)
			}
		}
		if requested.Difference(ids).Len() != 0 || ids.Difference(requested).Len() != 0 {
			t.Errorf("requested ids %v differ from input %v", requested.Sorted(), ids.Sorted())
		}

		if res.Written != 7 {
			t.Errorf("expected 7 written, got %d", res.Written)
		}
		for id := range ids {
			if !store.Exists(archive.KindFeatures, id) {
				t.Errorf("missing features artifact for %s", id)
			}
		}
		if got := testutil.ToFloat64(lookup.Metrics.BatchRequestsTotal); got != 3 {
			t.Errorf("batch request metric = %v, want 3", got)
		}
	})

	t.Run("null items are missing", func(t *testing.T) {
		src := tu.NewFakeSource("me")
		src.Features["known"] = featuresJSON("known")

		lookup, store := newLookup(src, 100)
		res, err := lookup.FetchChunks(context.Background(), NewIDSet("known", "gone"))
		if err != nil {
			t.Fatalf("FetchChunks() error = %v", err)
		}
		if res.Written != 1 || res.Missing != 1 {
			t.Errorf("expected 1 written and 1 missing, got %+v", res)
		}
		if store.Exists(archive.KindFeatures, "gone") {
			t.Error("no artifact should be written for a null item")
		}
	})

	t.Run("existing artifacts are skipped unless forced", func(t *testing.T) {
		src := tu.NewFakeSource("me")
		src.Features["a"] = featuresJSON("a")

		lookup, store := newLookup(src, 10)
		if _, err := store.Write(archive.KindFeatures, "a", []byte(`{"id": "a", "old": true}`), false); err != nil {
			t.Fatal(err)
		}

		res, err := lookup.FetchChunks(context.Background(), NewIDSet("a"))
		if err != nil {
			t.Fatalf("FetchChunks() error = %v", err)
		}
		if res.Skipped != 1 || res.Written != 0 {
			t.Errorf("expected skip, got %+v", res)
		}

		lookup.Force = true
		res, err = lookup.FetchChunks(context.Background(), NewIDSet("a"))
		if err != nil {
			t.Fatalf("FetchChunks() error = %v", err)
		}
		if res.Written != 1 {
			t.Errorf("expected forced write, got %+v", res)
		}
		data, _ := store.Read(archive.KindFeatures, "a")
		if string(data) != string(featuresJSON("a")) {
			t.Errorf("artifact not overwritten: %s", data)
		}
	})

	t.Run("failed chunk stops the lookup", func(t *testing.T) {
		src := tu.NewFakeSource("me")
		src.Errors["features"] = &shared.RemoteError{Endpoint: "audio-features", Status: 500}

		lookup, _ := newLookup(src, 2)
		res, err := lookup.FetchChunks(context.Background(), NewIDSet("a", "b", "c"))
		if !errors.Is(err, shared.ErrRemoteService) {
			t.Fatalf("expected ErrRemoteService, got %v", err)
		}
		if res.Requests != 1 {
			t.Errorf("expected to stop after 1 request, got %d", res.Requests)
		}
		if got := testutil.ToFloat64(lookup.Metrics.RemoteErrorsTotal.WithLabelValues("audio_features")); got != 1 {
			t.Errorf("remote error metric = %v, want 1", got)
		}
	})

	t.Run("invalid chunk size", func(t *testing.T) {
		for _, size := range []int{0, -1, shared.MaxChunkSize + 1} {
			src := tu.NewFakeSource("me")
			lookup, _ := newLookup(src, size)

			_, err := lookup.FetchChunks(context.Background(), NewIDSet("a"))
			if !errors.Is(err, shared.ErrInvalidParameter) {
				t.Errorf("size %d: expected ErrInvalidParameter, got %v", size, err)
			}
			if len(src.FeatureCalls) != 0 {
				t.Errorf("size %d: no request expected", size)
			}
		}
	})

	t.Run("empty set issues no requests", func(t *testing.T) {
		src := tu.NewFakeSource("me")
		lookup, _ := newLookup(src, 100)

		res, err := lookup.FetchChunks(context.Background(), NewIDSet())
		if err != nil || res.Requests != 0 {
			t.Errorf("expected no requests, got %+v, %v", res, err)
		}
	})
}

func TestItemID(t *testing.T) {
	tests := []struct {
		raw string
		id  string
		ok  bool
	}{
		{`{"id": "abc"}`, "abc", true},
		{`null`, "", false},
		{` null `, "", false},
		{`{"danceability": 1}`, "", false},
		{`[1, 2]`, "", false},
		{``, "", false},
	}

	for _, tt := range tests {
		id, ok := itemID(json.RawMessage(tt.raw))
		if id != tt.id || ok != tt.ok {
			t.Errorf("itemID(%q) = %q, %v; want %q, %v", tt.raw, id, ok, tt.id, tt.ok)
		}
	}
}
