package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/desertthunder/sparchive/internal/archive"
	"github.com/desertthunder/sparchive/internal/formatter"
	"github.com/desertthunder/sparchive/internal/models"
	"github.com/desertthunder/sparchive/internal/shared"
	"github.com/desertthunder/sparchive/internal/tasks"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
)

type playlistSummary struct {
	Listed       int               `json:"listed"`
	Succeeded    []string          `json:"succeeded"`
	Failed       map[string]string `json:"failed,omitempty"`
	UniqueTracks int               `json:"unique_tracks"`
	Written      int               `json:"written"`
	Skipped      int               `json:"skipped"`
	Elapsed      string            `json:"elapsed"`
}

type lookupSummary struct {
	Phase      string `json:"phase"`
	Candidates int    `json:"candidates"`
	Pending    int    `json:"pending"`
	Requests   int    `json:"requests"`
	Written    int    `json:"written"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Missing    int    `json:"missing"`
	Elapsed    string `json:"elapsed"`
}

func newPlaylistSummary(res *tasks.PlaylistResult) playlistSummary {
	s := playlistSummary{
		Listed:       res.Listed,
		Succeeded:    res.Succeeded,
		UniqueTracks: res.IDs.Len(),
		Written:      res.Counts.Written,
		Skipped:      res.Counts.Skipped,
		Elapsed:      shared.FormatElapsed(res.Elapsed),
	}
	if s.Succeeded == nil {
		s.Succeeded = []string{}
	}
	for _, e := range res.Report.Entries() {
		if s.Failed == nil {
			s.Failed = make(map[string]string)
		}
		s.Failed[e.Playlist] = e.Cause.Error()
	}
	return s
}

func newLookupSummary(res *tasks.LookupResult) lookupSummary {
	return lookupSummary{
		Phase:      res.Phase.String(),
		Candidates: res.Candidates,
		Pending:    res.Pending,
		Requests:   res.Requests,
		Written:    res.Counts.Written,
		Skipped:    res.Counts.Skipped,
		Failed:     res.Counts.Failed,
		Missing:    res.Missing,
		Elapsed:    shared.FormatElapsed(res.Elapsed),
	}
}

// Playlists downloads every playlist of the user with its tracks and cover images.
func (r *Runner) Playlists(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.harvester(ctx, cmd)
	if err != nil {
		return err
	}

	return r.record("playlists", func(run *models.HarvestRun) error {
		progress, stop := r.track()
		result, err := engine.DownloadPlaylists(ctx, progress)
		stop()

		if result != nil {
			run.SetCounts(result.Counts.Written, result.Counts.Skipped, result.Counts.Failed)
			run.SetFailedPlaylists(result.Report.Playlists())
		}
		if err != nil {
			return err
		}

		if cmd.Bool("json") {
			return r.writeJSON(newPlaylistSummary(result), true)
		}
		return formatter.WriteHarvestSummary(r.output, r.palette, result)
	})
}

// Analysis fetches audio analysis for every archived track without one.
func (r *Runner) Analysis(ctx context.Context, cmd *cli.Command) error {
	return r.lookup(ctx, cmd, "analysis", func(engine tasks.Harvester, progress chan<- tasks.ProgressUpdate) ([]*tasks.LookupResult, error) {
		res, err := engine.FetchAnalysis(ctx, progress)
		return []*tasks.LookupResult{res}, err
	})
}

// Features fetches audio features in batches for every archived track without them.
func (r *Runner) Features(ctx context.Context, cmd *cli.Command) error {
	return r.lookup(ctx, cmd, "features", func(engine tasks.Harvester, progress chan<- tasks.ProgressUpdate) ([]*tasks.LookupResult, error) {
		res, err := engine.FetchFeatures(ctx, progress)
		return []*tasks.LookupResult{res}, err
	})
}

// All runs the analysis lookup followed by the features lookup.
func (r *Runner) All(ctx context.Context, cmd *cli.Command) error {
	return r.lookup(ctx, cmd, "all", func(engine tasks.Harvester, progress chan<- tasks.ProgressUpdate) ([]*tasks.LookupResult, error) {
		return engine.All(ctx, progress)
	})
}

func (r *Runner) lookup(ctx context.Context, cmd *cli.Command, name string, fn func(tasks.Harvester, chan<- tasks.ProgressUpdate) ([]*tasks.LookupResult, error)) error {
	engine, err := r.harvester(ctx, cmd)
	if err != nil {
		return err
	}

	return r.record(name, func(run *models.HarvestRun) error {
		progress, stop := r.track()
		results, err := fn(engine, progress)
		stop()

		var counts tasks.Counts
		summaries := []lookupSummary{}
		for _, res := range results {
			if res == nil {
				continue
			}
			counts.Written += res.Counts.Written
			counts.Skipped += res.Counts.Skipped
			counts.Failed += res.Counts.Failed
			summaries = append(summaries, newLookupSummary(res))
		}
		run.SetCounts(counts.Written, counts.Skipped, counts.Failed)
		if err != nil {
			return err
		}

		if cmd.Bool("json") {
			return r.writeJSON(summaries, true)
		}
		for i, res := range results {
			if i > 0 {
				if err := r.writePlain("\n"); err != nil {
					return err
				}
			}
			if err := formatter.WriteLookupSummary(r.output, r.palette, res); err != nil {
				return err
			}
		}
		return nil
	})
}

// Export renders a stored track list as csv, markdown or text.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("playlist")
	if name == "" {
		return fmt.Errorf("%w: playlist name", shared.ErrMissingArgument)
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	store := r.archive()
	if !store.Exists(archive.KindTrackList, name) {
		return fmt.Errorf("%w: no archived track list for %q", shared.ErrInvalidArgument, name)
	}

	raws, err := store.ReadTrackList(name)
	if err != nil {
		return err
	}
	tracks, errs := models.ParseEntries(raws, "")
	for _, perr := range errs {
		r.logger.Warn("skipping malformed entry", "playlist", name, "error", perr)
	}

	data, err := formatter.Export(format, name, tracks, coverImage(store, name))
	if err != nil {
		return err
	}

	out := cmd.String("output")
	if out == "" {
		_, err := r.output.Write(data)
		return err
	}
	if err := afero.WriteFile(store.Fs(), out, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrFilesystem, err)
	}
	r.logger.Info("exported playlist", "playlist", name, "format", format, "path", out)
	return nil
}

// Summary flattens every stored track list into the summary CSV and prints its totals.
//
// An existing CSV is kept unless --force is given; the totals are always recomputed from disk.
func (r *Runner) Summary(ctx context.Context, cmd *cli.Command) error {
	store := r.archive()

	summary, err := tasks.Summarize(store)
	if err != nil {
		return err
	}

	data, err := formatter.ExportSummaryCSV(summary.Rows)
	if err != nil {
		return err
	}
	res, err := store.Write(archive.KindReport, archive.SummaryFile, data, cmd.Bool("force"))
	if err != nil {
		return err
	}
	path, _ := store.Path(archive.KindReport, archive.SummaryFile)
	if res == archive.Skipped {
		r.logger.Info("summary already exists, use --force to rebuild it", "path", path)
	} else {
		r.logger.Info("wrote summary", "path", path, "rows", len(summary.Rows))
	}

	return formatter.WriteSummaryReport(r.output, r.palette, summary)
}

// archive returns the artifact store for the configured data directory.
func (r *Runner) archive() *archive.Store {
	if r.store == nil {
		r.store = archive.NewStore(r.config.Archive.DataDir)
	}
	return r.store
}

// coverImage picks the largest stored cover of a playlist, or "" when it has none.
func coverImage(store *archive.Store, name string) string {
	dir := filepath.Join(store.PlaylistDir(name), archive.ImagesDir)
	infos, err := afero.ReadDir(store.Fs(), dir)
	if err != nil || len(infos) == 0 {
		return ""
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].Size() > infos[j].Size() })
	return filepath.Join(archive.ImagesDir, infos[0].Name())
}
