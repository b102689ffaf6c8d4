// package formatter renders harvest results for the terminal and exports archived
// track lists to CSV, Markdown and plain text.
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/sparchive/internal/models"
	"github.com/desertthunder/sparchive/internal/shared"
	"github.com/desertthunder/sparchive/internal/tasks"
)

// Format selects an export encoding.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatText     Format = "txt"
)

// ParseFormat accepts csv, md/markdown and txt/text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "txt", "text", "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
	}
}

// Export encodes the tracks of one archived playlist in format.
func Export(format Format, name string, tracks []models.Track, cover string) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ExportToCSV(tracks)
	case FormatMarkdown:
		return ExportToMarkdown(name, tracks, cover)
	default:
		return ExportToText(name, tracks)
	}
}

// ExportToCSV writes columns: ID, Name, Artists, Album, Duration, Type, Added At
func ExportToCSV(tracks []models.Track) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Name", "Artists", "Album", "Duration", "Type", "Added At"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, track := range tracks {
		if err := writer.Write(trackRecord(track)); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportSummaryCSV writes one row per stored entry across playlists, led by a Playlist column.
func ExportSummaryCSV(rows []tasks.SummaryRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Playlist", "ID", "Name", "Artists", "Album", "Duration", "Type", "Added At"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(append([]string{row.Playlist}, trackRecord(row.Track)...)); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func trackRecord(track models.Track) []string {
	return []string{
		track.ID,
		track.Name,
		strings.Join(track.Artists, "; "),
		track.Album,
		strconv.Itoa(track.DurationMS / 1000),
		string(track.Type),
		track.AddedAt,
	}
}

// ExportToMarkdown renders a heading, an optional cover image and a numbered track list.
func ExportToMarkdown(name string, tracks []models.Track, cover string) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", name)
	if cover != "" {
		fmt.Fprintf(&buf, "![Cover](%s)\n\n", cover)
	}
	fmt.Fprintf(&buf, "**Tracks**: %d\n\n", len(tracks))

	buf.WriteString("## Tracks\n\n")
	for i, track := range tracks {
		albumPart := ""
		if track.Album != "" {
			albumPart = fmt.Sprintf(" (%s)", track.Album)
		}
		episode := ""
		if track.Type == models.TypeEpisode {
			episode = " _episode_"
		}
		fmt.Fprintf(&buf, "%d. %s - %s%s [%s]%s\n",
			i+1, artists(track), track.Name, albumPart, FormatDuration(track.DurationMS), episode)
	}

	return buf.Bytes(), nil
}

// ExportToText renders one line per track.
func ExportToText(name string, tracks []models.Track) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlist: %s\n", name)
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(tracks))
	for i, track := range tracks {
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, artists(track), track.Name)
	}

	return buf.Bytes(), nil
}

// FormatDuration renders milliseconds as m:ss.
func FormatDuration(ms int) string {
	if ms <= 0 {
		return "0:00"
	}
	s := ms / 1000
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func artists(t models.Track) string {
	if len(t.Artists) == 0 {
		return "Unknown"
	}
	return strings.Join(t.Artists, ", ")
}

// WriteHarvestSummary prints the saved and failed playlists of a download run.
func WriteHarvestSummary(w io.Writer, p *Palette, r *tasks.PlaylistResult) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", p.Title(fmt.Sprintf("Successfully saved %d playlists:", len(r.Succeeded))))
	for _, name := range r.Succeeded {
		fmt.Fprintf(&b, "  %s %s\n", p.OK("✓"), name)
	}

	if failed := r.Report.Playlists(); len(failed) > 0 {
		fmt.Fprintf(&b, "\n%s\n", p.Err(fmt.Sprintf("Errors in %d playlists:", len(failed))))
		for _, name := range failed {
			fmt.Fprintf(&b, "  %s %s\n", p.Err("✗"), name)
		}
		fmt.Fprintf(&b, "%s\n", p.Help("See error.log in each playlist directory for details"))
	}

	fmt.Fprintf(&b, "\n%d unique tracks, %d written, %d skipped\n", r.IDs.Len(), r.Counts.Written, r.Counts.Skipped)
	fmt.Fprintf(&b, "Elapsed time: %s\n", shared.FormatElapsed(r.Elapsed))

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteLookupSummary prints the counters of an analysis or features lookup.
func WriteLookupSummary(w io.Writer, p *Palette, r *tasks.LookupResult) error {
	var b strings.Builder

	label := "Audio analysis"
	if r.Phase == tasks.LookupFeatures {
		label = "Audio features"
	}
	fmt.Fprintf(&b, "%s\n", p.Title(label))
	fmt.Fprintf(&b, "  tracks:   %d (%d pending)\n", r.Candidates, r.Pending)
	fmt.Fprintf(&b, "  requests: %d\n", r.Requests)
	fmt.Fprintf(&b, "  written:  %s\n", p.OK(strconv.Itoa(r.Counts.Written)))
	fmt.Fprintf(&b, "  skipped:  %d\n", r.Counts.Skipped)
	if r.Counts.Failed > 0 {
		fmt.Fprintf(&b, "  failed:   %s\n", p.Err(strconv.Itoa(r.Counts.Failed)))
	}
	if r.Missing > 0 {
		fmt.Fprintf(&b, "  unknown:  %s\n", p.Warn(strconv.Itoa(r.Missing)))
	}
	fmt.Fprintf(&b, "Elapsed time: %s\n", shared.FormatElapsed(r.Elapsed))

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteSummaryReport prints the totals of a [tasks.Summary] and the distinct entry types.
func WriteSummaryReport(w io.Writer, p *Palette, s *tasks.Summary) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", p.Title("Raw data summary"))
	fmt.Fprintf(&b, "  playlists:  %d\n", s.Playlists)
	fmt.Fprintf(&b, "  entries:    %d\n", len(s.Rows))
	fmt.Fprintf(&b, "  unique ids: %d\n", s.UniqueIDs)
	if s.Malformed > 0 {
		fmt.Fprintf(&b, "  malformed:  %s\n", p.Warn(strconv.Itoa(s.Malformed)))
	}
	fmt.Fprintf(&b, "  types:      %d\n", len(s.Types))
	for _, t := range s.Types {
		fmt.Fprintf(&b, "    - %s\n", t)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteRuns prints the run history as a table, newest first.
func WriteRuns(w io.Writer, p *Palette, runs []*models.HarvestRun) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, p.Help("No runs recorded"))
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "COMMAND", "STATUS", "STARTED", "ELAPSED", "WRITTEN", "SKIPPED", "FAILED")

	for _, run := range runs {
		elapsed := "-"
		if run.FinishedAt() != nil {
			elapsed = shared.FormatElapsed(run.Elapsed())
		}
		t.Row(
			strconv.Itoa(run.Sequence()),
			run.Command(),
			string(run.Status()),
			run.StartedAt().Local().Format("2006-01-02 15:04:05"),
			elapsed,
			strconv.Itoa(run.Written()),
			strconv.Itoa(run.Skipped()),
			strconv.Itoa(run.Failed()),
		)
	}

	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}

	for _, run := range runs {
		if names := run.FailedPlaylists(); len(names) > 0 {
			if _, err := fmt.Fprintf(w, "#%d failed: %s\n", run.Sequence(), p.Err(strings.Join(names, ", "))); err != nil {
				return err
			}
		}
		if msg := run.ErrorMessage(); msg != "" {
			if _, err := fmt.Fprintf(w, "#%d error: %s\n", run.Sequence(), p.Warn(msg)); err != nil {
				return err
			}
		}
	}
	return nil
}
