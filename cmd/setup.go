package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/desertthunder/sparchive/internal/formatter"
	"github.com/desertthunder/sparchive/internal/models"
	"github.com/desertthunder/sparchive/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes the embedded example config to the config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	if err := shared.CreateConfigFile(r.configPath); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", r.configPath)
	return r.writePlain("%s Config written to %s\nSet credentials.spotify.client_id and client_secret, then run 'sparchive auth'\n", r.palette.OK("✓"), r.configPath)
}

// SetupDatabase initializes the run history database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	if _, err := os.Stat(r.configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", r.configPath)
		if err := shared.CreateConfigFile(r.configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		}
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)

	db, err := shared.OpenHistory(r.config.Database)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}
	defer db.Close()

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	return nil
}

// RollbackDatabase reverts the most recent migration.
func (r *Runner) RollbackDatabase(ctx context.Context, cmd *cli.Command) error {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := shared.RollbackMigration(db); err != nil {
		return err
	}
	r.logger.Info("rolled back latest migration", "path", r.config.Database.Path)
	return nil
}

type runSummary struct {
	ID              string   `json:"id"`
	Sequence        int      `json:"sequence"`
	Command         string   `json:"command"`
	Status          string   `json:"status"`
	StartedAt       string   `json:"started_at"`
	Elapsed         string   `json:"elapsed,omitempty"`
	Written         int      `json:"written"`
	Skipped         int      `json:"skipped"`
	Failed          int      `json:"failed"`
	FailedPlaylists []string `json:"failed_playlists,omitempty"`
	Error           string   `json:"error,omitempty"`
}

func newRunSummary(run *models.HarvestRun) runSummary {
	s := runSummary{
		ID:              run.ID(),
		Sequence:        run.Sequence(),
		Command:         run.Command(),
		Status:          string(run.Status()),
		StartedAt:       run.StartedAt().Format(time.RFC3339),
		Written:         run.Written(),
		Skipped:         run.Skipped(),
		Failed:          run.Failed(),
		FailedPlaylists: run.FailedPlaylists(),
		Error:           run.ErrorMessage(),
	}
	if run.FinishedAt() != nil {
		s.Elapsed = shared.FormatElapsed(run.Elapsed())
	}
	return s
}

// Runs prints the recorded harvest runs, newest first.
func (r *Runner) Runs(ctx context.Context, cmd *cli.Command) error {
	repo := r.history()
	if repo == nil {
		return fmt.Errorf("%w: run history unavailable at %s", shared.ErrInvalidConfig, r.config.Database.Path)
	}

	runs, err := repo.List(map[string]any{
		"command": cmd.String("command"),
		"status":  cmd.String("status"),
		"limit":   cmd.Int("limit"),
	})
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		summaries := make([]runSummary, len(runs))
		for i, run := range runs {
			summaries[i] = newRunSummary(run)
		}
		return r.writeJSON(summaries, true)
	}
	return formatter.WriteRuns(r.output, r.palette, runs)
}
