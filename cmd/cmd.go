// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func forceFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "force",
		Aliases: []string{"f"},
		Usage:   "Overwrite artifacts that already exist on disk",
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output the summary as JSON",
	}
}

// playlistsCommand downloads playlist metadata, track lists and covers
func playlistsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlists",
		Aliases: []string{"pl"},
		Usage:   "Download every playlist of the user with its tracks and cover images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Playlist owner, defaults to archive.user or the authenticated user",
			},
			&cli.BoolFlag{
				Name:  "owned-only",
				Usage: "Skip followed playlists owned by someone else",
			},
			forceFlag(),
			jsonFlag(),
		},
		Action: r.Playlists,
	}
}

// analysisCommand fetches audio analysis for every archived track
func analysisCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "analysis",
		Usage:  "Fetch audio analysis for archived tracks that have none",
		Flags:  []cli.Flag{forceFlag(), jsonFlag()},
		Action: r.Analysis,
	}
}

// featuresCommand fetches audio features in batches
func featuresCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "features",
		Usage:  "Fetch audio features for archived tracks in batches",
		Flags:  []cli.Flag{forceFlag(), jsonFlag()},
		Action: r.Features,
	}
}

// allCommand runs the analysis lookup then the features lookup
func allCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "all",
		Usage:  "Fetch audio analysis then audio features (run 'playlists' first)",
		Flags:  []cli.Flag{forceFlag(), jsonFlag()},
		Action: r.All,
	}
}

// exportCommand renders a stored track list
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export an archived playlist as csv, md or txt",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "playlist"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: csv, md or txt",
				Value: "csv",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file path, defaults to stdout",
			},
		},
		Action: r.Export,
	}
}

// summaryCommand builds the raw data summary CSV
func summaryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "summary",
		Usage:  "Flatten every archived track list into analysis/raw_data_summary_database.csv",
		Flags:  []cli.Flag{forceFlag()},
		Action: r.Summary,
	}
}

// runsCommand lists the run history
func runsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Show recorded harvest runs, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to show",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "command",
				Usage: "Only show runs of this command",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Only show runs with this status",
			},
			jsonFlag(),
		},
		Action: r.Runs,
	}
}

// authCommand runs the OAuth2 authorization code flow
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with Spotify using OAuth2",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the browser callback",
				Value: authTimeout,
			},
			&cli.BoolFlag{
				Name:  "no-browser",
				Usage: "Print the authorization URL instead of opening a browser",
			},
		},
		Action: r.Auth,
	}
}

// setupCommand handles setup operations for config and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config file from the embedded template",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize the run history database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the latest run history migration",
				Action: r.RollbackDatabase,
			},
		},
	}
}
