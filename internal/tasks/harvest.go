package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sparchive/internal/archive"
	"github.com/desertthunder/sparchive/internal/models"
	"github.com/desertthunder/sparchive/internal/shared"
	"go.uber.org/multierr"
)

// Source is the remote API a harvest reads from. [services.SpotifyService] implements it.
type Source interface {
	CurrentUser(ctx context.Context) (string, error)
	UserPlaylists(ctx context.Context, user string, limit, offset int) (*models.Page, error)
	PlaylistTracks(ctx context.Context, playlistID string, limit, offset int) (*models.Page, error)
	NextPage(ctx context.Context, next string) (*models.Page, error)
	PlaylistImages(ctx context.Context, playlistID string) ([]models.Image, error)
	AudioAnalysis(ctx context.Context, trackID string) (json.RawMessage, error)
	AudioFeatures(ctx context.Context, trackIDs []string) ([]json.RawMessage, error)
	DownloadImage(ctx context.Context, url string) ([]byte, error)
}

// Harvester is the set of operations the CLI runs. [HarvestEngine] implements it.
type Harvester interface {
	DownloadPlaylists(ctx context.Context, progress chan<- ProgressUpdate) (*PlaylistResult, error)
	FetchAnalysis(ctx context.Context, progress chan<- ProgressUpdate) (*LookupResult, error)
	FetchFeatures(ctx context.Context, progress chan<- ProgressUpdate) (*LookupResult, error)
	All(ctx context.Context, progress chan<- ProgressUpdate) ([]*LookupResult, error)
	Metrics() *Metrics
}

// Options are the harvest settings, passed in explicitly at construction.
type Options struct {
	User             string // playlist owner to list, empty for the authenticated user
	OwnedOnly        bool   // drop followed playlists owned by someone else
	Force            bool   // overwrite artifacts that already exist
	ChunkSize        int
	TrackPageSize    int
	PlaylistPageSize int
}

// OptionsFromConfig maps the [archive] config section onto [Options].
func OptionsFromConfig(c shared.ArchiveConfig) Options {
	return Options{
		User:             c.User,
		Force:            c.Force,
		ChunkSize:        c.ChunkSize,
		TrackPageSize:    c.TrackPageSize,
		PlaylistPageSize: c.PlaylistPageSize,
	}
}

// Validate checks the request sizes against the API bounds.
func (o Options) Validate() error {
	switch {
	case o.ChunkSize <= 0 || o.ChunkSize > shared.MaxChunkSize:
		return fmt.Errorf("%w: chunk size %d not in 1..%d", shared.ErrInvalidParameter, o.ChunkSize, shared.MaxChunkSize)
	case o.TrackPageSize <= 0 || o.TrackPageSize > shared.MaxTrackPageSize:
		return fmt.Errorf("%w: track page size %d not in 1..%d", shared.ErrInvalidParameter, o.TrackPageSize, shared.MaxTrackPageSize)
	case o.PlaylistPageSize <= 0 || o.PlaylistPageSize > shared.MaxPlaylistPageSize:
		return fmt.Errorf("%w: playlist page size %d not in 1..%d", shared.ErrInvalidParameter, o.PlaylistPageSize, shared.MaxPlaylistPageSize)
	}
	return nil
}

// Counts tallies artifact outcomes.
type Counts struct {
	Written int
	Skipped int
	Failed  int
}

func (c *Counts) add(res archive.WriteResult) {
	if res == archive.Written {
		c.Written++
	} else {
		c.Skipped++
	}
}

// PlaylistResult is the outcome of [HarvestEngine.DownloadPlaylists].
type PlaylistResult struct {
	Listed    int
	Succeeded []string
	Report    models.ErrorReport
	IDs       IDSet // dedup set over every archived track list
	Counts    Counts
	Elapsed   time.Duration
}

// LookupResult is the outcome of an analysis or features lookup.
type LookupResult struct {
	Phase      Phase
	Candidates int // ids considered
	Pending    int // ids without an artifact before the run
	Counts     Counts
	Requests   int
	Missing    int
	Elapsed    time.Duration
}

// HarvestEngine sequences listing, track pagination, persistence, dedup and lookups.
//
// Failures scoped to one playlist are written to its error.log and collected in the report.
// Filesystem failures and features batch failures end the run.
type HarvestEngine struct {
	source  Source
	store   *archive.Store
	opts    Options
	logger  *log.Logger
	metrics *Metrics
}

// NewHarvestEngine validates opts and wires the engine. A nil logger discards output and nil
// metrics get a private registry.
func NewHarvestEngine(source Source, store *archive.Store, opts Options, logger *log.Logger, metrics *Metrics) (*HarvestEngine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &HarvestEngine{
		source:  source,
		store:   store,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}, nil
}

var _ Harvester = (*HarvestEngine)(nil)

func (e *HarvestEngine) Metrics() *Metrics { return e.metrics }

// DownloadPlaylists archives every listed playlist with its tracks and cover images.
func (e *HarvestEngine) DownloadPlaylists(ctx context.Context, progress chan<- ProgressUpdate) (*PlaylistResult, error) {
	start := time.Now()
	result := &PlaylistResult{IDs: make(IDSet)}

	if err := e.store.EnsureDir(archive.KindPlaylist); err != nil {
		return nil, err
	}

	playlists, err := e.listPlaylists(ctx, progress, result)
	if err != nil {
		return nil, err
	}

	for i, p := range playlists {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tracks, problems, err := e.archivePlaylist(ctx, progress, i+1, len(playlists), p, &result.Counts)
		if err != nil {
			return nil, fmt.Errorf("playlist %q: %w", p.Name, err)
		}

		if problems != nil {
			if err := e.writeErrorLog(p.Name, problems); err != nil {
				return nil, err
			}
			result.Report.Add(p.Name, problems)
			e.metrics.playlist("failed")
			e.logger.Error("Error in the playlist", "playlist", p.Name, "errors", len(multierr.Errors(problems)))
			sendProgress(progress, playlistFailedUpdate(i+1, len(playlists), p.Name, problems))
		} else {
			result.Succeeded = append(result.Succeeded, p.Name)
			e.metrics.playlist("succeeded")
		}

		result.IDs.Union(FromTracks(tracks))
	}

	sendProgress(progress, aggregateUpdate(len(playlists), result.IDs.Len()))
	e.logger.Info("Aggregated track ids", "playlists", len(playlists), "unique", result.IDs.Len())

	result.Elapsed = time.Since(start)
	sendProgress(progress, doneUpdate(fmt.Sprintf("%d saved, %d with errors", len(result.Succeeded), len(result.Report.Playlists())), result))
	return result, nil
}

// listPlaylists walks the playlist collection and applies the ownership filter.
func (e *HarvestEngine) listPlaylists(ctx context.Context, progress chan<- ProgressUpdate, result *PlaylistResult) ([]models.Playlist, error) {
	e.logger.Info("Getting playlists", "user", e.opts.User)

	pager := &Paginator{
		Fetch: func(ctx context.Context, limit, offset int) (*models.Page, error) {
			return e.source.UserPlaylists(ctx, e.opts.User, limit, offset)
		},
		Next:     e.source.NextPage,
		PageSize: e.opts.PlaylistPageSize,
	}
	raws, err := pager.CollectAll(ctx)
	if err != nil {
		e.countRemote("list_playlists", err)
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}

	playlists, errs := models.ParsePlaylists(raws)
	for _, err := range errs {
		e.logger.Warn("Skipping unreadable playlist", "error", err)
		result.Report.Add("(unnamed)", err)
	}
	result.Listed = len(raws)
	sendProgress(progress, listingUpdate(len(raws)))

	if !e.opts.OwnedOnly {
		return playlists, nil
	}

	owner := e.opts.User
	if owner == "" {
		if owner, err = e.source.CurrentUser(ctx); err != nil {
			e.countRemote("current_user", err)
			return nil, fmt.Errorf("failed to resolve current user: %w", err)
		}
	}

	owned := playlists[:0]
	for _, p := range playlists {
		if p.OwnedBy(owner) {
			owned = append(owned, p)
		}
	}
	e.logger.Debug("Filtered to owned playlists", "owner", owner, "kept", len(owned), "listed", len(playlists))
	return owned, nil
}

// archivePlaylist persists one playlist. problems collects non-fatal failures; err is fatal.
func (e *HarvestEngine) archivePlaylist(ctx context.Context, progress chan<- ProgressUpdate, step, total int, p models.Playlist, counts *Counts) (tracks []models.Track, problems, err error) {
	logger := e.logger.With("playlist", p.Name)
	logger.Info("Saving playlist")

	raws, resumed, err := e.trackEntries(ctx, progress, step, total, p)
	if isFatal(err) {
		return nil, nil, err
	}
	if err != nil {
		return nil, err, nil
	}

	sendProgress(progress, playlistUpdate(PersistingArtifacts, step, total, p.Name))

	meta, err := e.write(archive.KindPlaylist, p.Name, p.Raw, counts)
	if err != nil {
		return nil, nil, err
	}
	if !resumed {
		data, err := json.Marshal(raws)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode track list: %w", err)
		}
		if _, err := e.write(archive.KindTrackList, p.Name, data, counts); err != nil {
			return nil, nil, err
		}
	}

	if meta == archive.Written {
		sendProgress(progress, playlistUpdate(DownloadingImages, step, total, p.Name))
		imgErr, err := e.saveImages(ctx, p, counts)
		if err != nil {
			return nil, nil, err
		}
		problems = multierr.Append(problems, imgErr)
	}

	tracks, errs := models.ParseEntries(raws, p.ID)
	for _, perr := range errs {
		logger.Debug("Malformed entry", "error", perr)
		problems = multierr.Append(problems, perr)
	}

	return tracks, problems, nil
}

// trackEntries returns the playlist's raw entries, read back from disk when a previous run stored them.
func (e *HarvestEngine) trackEntries(ctx context.Context, progress chan<- ProgressUpdate, step, total int, p models.Playlist) ([]json.RawMessage, bool, error) {
	if !e.opts.Force && e.store.Exists(archive.KindTrackList, p.Name) {
		raws, err := e.store.ReadTrackList(p.Name)
		if err == nil {
			e.logger.Debug("Resuming from stored track list", "playlist", p.Name, "entries", len(raws))
			return raws, true, nil
		}
		if isFatal(err) {
			return nil, false, err
		}
		e.logger.Warn("Stored track list unreadable, fetching again", "playlist", p.Name, "error", err)
	}

	sendProgress(progress, playlistUpdate(FetchingTracks, step, total, p.Name))

	pager := &Paginator{
		Fetch: func(ctx context.Context, limit, offset int) (*models.Page, error) {
			return e.source.PlaylistTracks(ctx, p.ID, limit, offset)
		},
		Next:     e.source.NextPage,
		PageSize: e.opts.TrackPageSize,
	}
	raws, err := pager.CollectAll(ctx)
	if err != nil {
		e.countRemote("playlist_tracks", err)
		return nil, false, err
	}
	return raws, false, nil
}

// saveImages stores every cover image. Download failures are returned as problems, write failures as err.
func (e *HarvestEngine) saveImages(ctx context.Context, p models.Playlist, counts *Counts) (problems, err error) {
	images := p.Images
	if len(images) == 0 {
		images, err = e.source.PlaylistImages(ctx, p.ID)
		if isFatal(err) {
			return nil, err
		}
		if err != nil {
			e.countRemote("playlist_images", err)
			return fmt.Errorf("images: %w", err), nil
		}
	}

	var saved []string
	for _, img := range images {
		data, err := e.source.DownloadImage(ctx, img.URL)
		if isFatal(err) {
			return nil, err
		}
		if err != nil {
			e.countRemote("download_image", err)
			problems = multierr.Append(problems, fmt.Errorf("image %s: %w", img.URL, err))
			continue
		}

		path, err := e.store.WriteImage(p.Name, img, data)
		if err != nil {
			return nil, err
		}
		counts.Written++
		saved = append(saved, path)
	}
	if len(saved) > 0 {
		e.logger.Debug("Saved images", "playlist", p.Name, "files", strings.Join(saved, ", "))
	}
	return problems, nil
}

func (e *HarvestEngine) writeErrorLog(name string, problems error) error {
	var b strings.Builder
	stamp := time.Now().UTC().Format(time.RFC3339)
	for _, err := range multierr.Errors(problems) {
		fmt.Fprintf(&b, "%s ERROR PROCESSING %s: %v\n", stamp, name, err)
	}
	_, err := e.store.Write(archive.KindErrorLog, name, []byte(b.String()), true)
	return err
}

// FetchAnalysis fetches single-track analysis for every eligible id in the stored track lists
// that has no analysis artifact yet. Remote failures are logged and skipped.
func (e *HarvestEngine) FetchAnalysis(ctx context.Context, progress chan<- ProgressUpdate) (*LookupResult, error) {
	start := time.Now()
	result := &LookupResult{Phase: LookupAnalysis}

	if err := e.store.EnsureDir(archive.KindAnalysis); err != nil {
		return nil, err
	}

	ids, err := e.storedTrackIDs(progress)
	if err != nil {
		return nil, err
	}
	result.Candidates = ids.Len()

	pending := ids
	if !e.opts.Force {
		have, err := FromDisk(e.store.Fs(), e.store.TracksDir(), archive.AnalysisSuffix)
		if err != nil {
			return nil, err
		}
		pending = ids.Difference(have)
		result.Counts.Skipped = ids.Len() - pending.Len()
	}
	result.Pending = pending.Len()
	e.logger.Info("Getting audio analysis", "tracks", ids.Len(), "pending", pending.Len())

	for i, id := range pending.Sorted() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sendProgress(progress, lookupUpdate(LookupAnalysis, i+1, pending.Len(), id))

		raw, err := e.source.AudioAnalysis(ctx, id)
		result.Requests++
		if isFatal(err) {
			return nil, err
		}
		if err != nil {
			e.countRemote("audio_analysis", err)
			e.logger.Error("Analysis failed", "track", id, "error", err)
			result.Counts.Failed++
			continue
		}

		if _, err := e.write(archive.KindAnalysis, id, raw, &result.Counts); err != nil {
			return nil, err
		}
	}

	result.Elapsed = time.Since(start)
	sendProgress(progress, doneUpdate(fmt.Sprintf("analysis: %d written, %d failed", result.Counts.Written, result.Counts.Failed), result))
	return result, nil
}

// FetchFeatures derives ids from the analysis artifacts on disk and fetches features in chunks.
// A failed chunk ends the lookup with an error.
func (e *HarvestEngine) FetchFeatures(ctx context.Context, progress chan<- ProgressUpdate) (*LookupResult, error) {
	start := time.Now()
	result := &LookupResult{Phase: LookupFeatures}

	if err := e.store.EnsureDir(archive.KindFeatures); err != nil {
		return nil, err
	}

	ids, err := FromDisk(e.store.Fs(), e.store.TracksDir(), archive.AnalysisSuffix)
	if err != nil {
		return nil, err
	}
	result.Candidates = ids.Len()

	pending := ids
	if !e.opts.Force {
		have, err := FromDisk(e.store.Fs(), e.store.TracksDir(), archive.FeaturesSuffix)
		if err != nil {
			return nil, err
		}
		pending = ids.Difference(have)
		result.Counts.Skipped = ids.Len() - pending.Len()
	}
	result.Pending = pending.Len()
	e.logger.Info("Getting audio features", "tracks", ids.Len(), "pending", pending.Len(), "chunk_size", e.opts.ChunkSize)

	lookup := &BatchLookup{
		Fetch:     e.source.AudioFeatures,
		Store:     e.store,
		ChunkSize: e.opts.ChunkSize,
		Force:     e.opts.Force,
		Logger:    e.logger,
		Metrics:   e.metrics,
		Progress:  progress,
	}
	batch, err := lookup.FetchChunks(ctx, pending)
	result.Requests = batch.Requests
	result.Missing = batch.Missing
	result.Counts.Written += batch.Written
	result.Counts.Skipped += batch.Skipped
	if err != nil {
		return result, err
	}

	result.Elapsed = time.Since(start)
	sendProgress(progress, doneUpdate(fmt.Sprintf("features: %d written in %d requests", batch.Written, batch.Requests), result))
	return result, nil
}

// All runs the analysis lookup followed by the features lookup.
func (e *HarvestEngine) All(ctx context.Context, progress chan<- ProgressUpdate) ([]*LookupResult, error) {
	analysis, err := e.FetchAnalysis(ctx, progress)
	if err != nil {
		return nil, err
	}
	features, err := e.FetchFeatures(ctx, progress)
	if err != nil {
		return []*LookupResult{analysis, features}, err
	}
	return []*LookupResult{analysis, features}, nil
}

// storedTrackIDs rebuilds the dedup set from every stored track list.
func (e *HarvestEngine) storedTrackIDs(progress chan<- ProgressUpdate) (IDSet, error) {
	names, err := e.store.Playlists()
	if err != nil {
		return nil, err
	}

	ids := make(IDSet)
	for _, name := range names {
		raws, err := e.store.ReadTrackList(name)
		if isFatal(err) && e.store.Exists(archive.KindTrackList, name) {
			return nil, err
		}
		if err != nil {
			e.logger.Warn("Skipping playlist without a readable track list", "playlist", name, "error", err)
			continue
		}

		tracks, errs := models.ParseEntries(raws, "")
		for _, perr := range errs {
			e.logger.Debug("Skipping malformed entry", "playlist", name, "error", perr)
		}
		ids.Union(FromTracks(tracks))
	}

	sendProgress(progress, aggregateUpdate(len(names), ids.Len()))
	return ids, nil
}

func (e *HarvestEngine) write(kind archive.Kind, key string, payload []byte, counts *Counts) (archive.WriteResult, error) {
	res, err := e.store.Write(kind, key, payload, e.opts.Force)
	if err != nil {
		return res, err
	}
	counts.add(res)
	e.metrics.artifact(kind, res)
	return res, nil
}

func (e *HarvestEngine) countRemote(operation string, err error) {
	if errors.Is(err, shared.ErrRemoteService) {
		e.metrics.remoteError(operation)
	}
}

// isFatal reports errors that must end the run: filesystem failures, caller bugs and cancellation.
func isFatal(err error) bool {
	return errors.Is(err, shared.ErrFilesystem) ||
		errors.Is(err, shared.ErrInvalidParameter) ||
		errors.Is(err, shared.ErrNotAuthenticated) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
