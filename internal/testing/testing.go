// package testing contains shared testing utilities
package testing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/desertthunder/sparchive/internal/models"
)

const fakeBaseURL = "https://api.test/v1"

// FakeSource is an in-memory remote API implementing tasks.Source.
//
// Errors are keyed by operation, optionally narrowed to one key: "playlists", "tracks:<playlist id>",
// "images:<playlist id>", "image:<url>", "analysis:<track id>", "features", "me".
type FakeSource struct {
	User      string
	Playlists []json.RawMessage
	Tracks    map[string][]json.RawMessage // playlist id to entries
	Images    map[string][]models.Image    // playlist id to images endpoint response
	ImageData map[string][]byte            // image url to body
	Analysis  map[string]json.RawMessage   // track id to analysis
	Features  map[string]json.RawMessage   // track id to features, absent ids come back null
	UseCursor bool                         // emit next cursors instead of relying on totals
	Errors    map[string]error

	Calls        map[string]int
	FeatureCalls [][]string
}

// NewFakeSource returns an empty source for user.
func NewFakeSource(user string) *FakeSource {
	return &FakeSource{
		User:      user,
		Tracks:    map[string][]json.RawMessage{},
		Images:    map[string][]models.Image{},
		ImageData: map[string][]byte{},
		Analysis:  map[string]json.RawMessage{},
		Features:  map[string]json.RawMessage{},
		Errors:    map[string]error{},
		Calls:     map[string]int{},
	}
}

func (f *FakeSource) fail(op, key string) error {
	if f.Calls == nil {
		f.Calls = map[string]int{}
	}
	f.Calls[op]++
	if err, ok := f.Errors[op+":"+key]; ok {
		return err
	}
	return f.Errors[op]
}

func (f *FakeSource) page(kind, id string, items []json.RawMessage, limit, offset int) *models.Page {
	end := min(offset+limit, len(items))
	if offset > end {
		offset = end
	}
	p := &models.Page{
		Items:  items[offset:end],
		Total:  len(items),
		Limit:  limit,
		Offset: offset,
	}
	if f.UseCursor && end < len(items) {
		next := fmt.Sprintf("%s/%s/%s?offset=%d&limit=%d", fakeBaseURL, kind, url.PathEscape(id), end, limit)
		p.Next = &next
	}
	return p
}

func (f *FakeSource) CurrentUser(ctx context.Context) (string, error) {
	if err := f.fail("me", ""); err != nil {
		return "", err
	}
	return f.User, nil
}

func (f *FakeSource) UserPlaylists(ctx context.Context, user string, limit, offset int) (*models.Page, error) {
	if err := f.fail("playlists", user); err != nil {
		return nil, err
	}
	return f.page("playlists", user, f.Playlists, limit, offset), nil
}

func (f *FakeSource) PlaylistTracks(ctx context.Context, playlistID string, limit, offset int) (*models.Page, error) {
	if err := f.fail("tracks", playlistID); err != nil {
		return nil, err
	}
	return f.page("tracks", playlistID, f.Tracks[playlistID], limit, offset), nil
}

func (f *FakeSource) NextPage(ctx context.Context, next string) (*models.Page, error) {
	u, err := url.Parse(next)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(strings.TrimPrefix(u.Path, "/v1/"), "/")
	if len(parts) != 2 {
		return nil, fmt.Errorf("unexpected cursor %s", next)
	}
	offset, _ := strconv.Atoi(u.Query().Get("offset"))
	limit, _ := strconv.Atoi(u.Query().Get("limit"))
	id, _ := url.PathUnescape(parts[1])

	if parts[0] == "playlists" {
		return f.UserPlaylists(ctx, id, limit, offset)
	}
	return f.PlaylistTracks(ctx, id, limit, offset)
}

func (f *FakeSource) PlaylistImages(ctx context.Context, playlistID string) ([]models.Image, error) {
	if err := f.fail("images", playlistID); err != nil {
		return nil, err
	}
	return f.Images[playlistID], nil
}

func (f *FakeSource) AudioAnalysis(ctx context.Context, trackID string) (json.RawMessage, error) {
	if err := f.fail("analysis", trackID); err != nil {
		return nil, err
	}
	raw, ok := f.Analysis[trackID]
	if !ok {
		return json.RawMessage(fmt.Sprintf(`{"track": {"id": %q}}`, trackID)), nil
	}
	return raw, nil
}

func (f *FakeSource) AudioFeatures(ctx context.Context, trackIDs []string) ([]json.RawMessage, error) {
	f.FeatureCalls = append(f.FeatureCalls, append([]string(nil), trackIDs...))
	if err := f.fail("features", ""); err != nil {
		return nil, err
	}
	items := make([]json.RawMessage, len(trackIDs))
	for i, id := range trackIDs {
		raw, ok := f.Features[id]
		if !ok {
			raw = json.RawMessage("null")
		}
		items[i] = raw
	}
	return items, nil
}

func (f *FakeSource) DownloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	if err := f.fail("image", imageURL); err != nil {
		return nil, err
	}
	return f.ImageData[imageURL], nil
}

// Entry builds a raw playlist entry.
func Entry(id, name, kind string) json.RawMessage {
	idJSON := "null"
	if id != "" {
		idJSON = strconv.Quote(id)
	}
	return json.RawMessage(fmt.Sprintf(
		`{"added_at": "2020-01-01T00:00:00Z", "added_by": {"id": "u"}, "track": {"id": %s, "name": %q, "type": %q, "artists": [{"name": "a"}], "album": {"name": "al"}}}`,
		idJSON, name, kind,
	))
}

// PlaylistJSON builds a raw playlist listing item.
func PlaylistJSON(id, name, owner string, images ...string) json.RawMessage {
	imgs := make([]string, len(images))
	for i, u := range images {
		imgs[i] = fmt.Sprintf(`{"url": %q, "height": 64, "width": 64}`, u)
	}
	return json.RawMessage(fmt.Sprintf(
		`{"id": %q, "name": %q, "owner": {"id": %q}, "images": [%s]}`,
		id, name, owner, strings.Join(imgs, ","),
	))
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertNoFile(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("File should not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
