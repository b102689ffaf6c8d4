package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sparchive/internal/archive"
	"github.com/desertthunder/sparchive/internal/formatter"
	"github.com/desertthunder/sparchive/internal/models"
	"github.com/desertthunder/sparchive/internal/repositories"
	"github.com/desertthunder/sparchive/internal/services"
	"github.com/desertthunder/sparchive/internal/shared"
	"github.com/desertthunder/sparchive/internal/tasks"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "config.toml"

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The source, store and history database are built from the config on first use unless injected.
type Runner struct {
	config      *shared.Config
	configPath  string
	source      tasks.Source
	oauth       services.OAuthService
	openBrowser func(url string) error
	store       *archive.Store
	db          *sql.DB
	ownsDB      bool
	metrics     *tasks.Metrics
	palette     *formatter.Palette
	logger      *log.Logger
	output      io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config      *shared.Config
	ConfigPath  string
	Source      tasks.Source
	OAuth       services.OAuthService
	OpenBrowser func(url string) error
	Store       *archive.Store
	DB          *sql.DB
	Metrics     *tasks.Metrics
	Palette     *formatter.Palette
	Logger      *log.Logger
	Output      io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = defaultConfigPath
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Metrics == nil {
		opts.Metrics = tasks.NewMetrics()
	}
	if opts.Palette == nil {
		opts.Palette = formatter.DefaultPalette
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	return &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		source:      opts.Source,
		oauth:       opts.OAuth,
		openBrowser: opts.OpenBrowser,
		store:       opts.Store,
		db:          opts.DB,
		metrics:     opts.Metrics,
		palette:     opts.Palette,
		logger:      opts.Logger,
		output:      opts.Output,
	}
}

// App returns the root command.
func (r *Runner) App() *cli.Command {
	return &cli.Command{
		Name:    "sparchive",
		Usage:   "Archive Spotify playlists, audio analysis and audio features to disk",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   defaultConfigPath,
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment overrides from a dotenv file",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Root of the artifact tree, overrides archive.data_dir",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output",
			},
		},
		Before:   r.Before,
		After:    r.After,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		playlistsCommand, analysisCommand, featuresCommand, allCommand,
		exportCommand, summaryCommand, runsCommand, authCommand, setupCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads the environment and config named by the root flags.
//
// A missing config file is not an error: defaults plus environment overrides are used.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("debug") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}
	if cmd.Bool("no-color") {
		r.palette = formatter.PlainPalette()
	}

	if envFile := cmd.String("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return ctx, fmt.Errorf("%w: env file %s: %v", shared.ErrInvalidArgument, envFile, err)
		}
		r.logger.Debug("loaded env file", "path", envFile)
	}

	if cmd.IsSet("config") {
		r.configPath = cmd.String("config")
	}

	if _, err := os.Stat(r.configPath); err == nil {
		config, err := shared.LoadConfig(r.configPath)
		if err != nil {
			return ctx, err
		}
		r.config = config
	} else if cmd.IsSet("config") {
		return ctx, fmt.Errorf("%w: %s", shared.ErrMissingConfig, r.configPath)
	} else if err := cleanenv.ReadEnv(r.config); err != nil {
		return ctx, fmt.Errorf("failed to read environment: %w", err)
	}

	if dir := cmd.String("data-dir"); dir != "" {
		r.config.Archive.DataDir = dir
	}
	return ctx, nil
}

// After releases the history database opened by [Runner.history]. An injected database is left open.
func (r *Runner) After(ctx context.Context, cmd *cli.Command) error {
	if r.db == nil || !r.ownsDB {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// harvester builds an engine from the config with the command's flag overrides applied.
func (r *Runner) harvester(ctx context.Context, cmd *cli.Command) (tasks.Harvester, error) {
	if err := r.config.Validate(); err != nil {
		return nil, err
	}

	opts := tasks.OptionsFromConfig(r.config.Archive)
	if cmd.IsSet("user") {
		opts.User = cmd.String("user")
	}
	if cmd.Bool("owned-only") {
		opts.OwnedOnly = true
	}
	if cmd.Bool("force") {
		opts.Force = true
	}

	source, err := r.spotify(ctx)
	if err != nil {
		return nil, err
	}

	return tasks.NewHarvestEngine(source, r.archive(), opts, shared.WithLogger(r.logger, "component", "harvest"), r.metrics)
}

// spotify returns the authenticated API source, saving the token back when it was refreshed.
func (r *Runner) spotify(ctx context.Context) (tasks.Source, error) {
	if r.source != nil {
		return r.source, nil
	}

	creds := r.config.Credentials.Spotify
	svc, err := services.NewSpotifyService(creds.Map(),
		services.WithRateLimit(r.config.Archive.RequestsPerSecond),
		services.WithLogger(shared.WithLogger(r.logger, "component", "spotify")),
	)
	if err != nil {
		return nil, err
	}

	if err := svc.Authenticate(ctx, creds.Map()); err != nil {
		if errors.Is(err, shared.ErrMissingCredentials) {
			return nil, fmt.Errorf("%w: run 'sparchive auth' first", shared.ErrNotAuthenticated)
		}
		return nil, err
	}

	if token := svc.Token(); token != nil && token.AccessToken != creds.AccessToken {
		if err := r.config.Credentials.Spotify.Update(token); err == nil {
			if err := shared.SaveConfig(r.configPath, r.config); err != nil {
				r.logger.Warn("failed to save refreshed token", "error", err)
			}
		}
	}

	r.source = svc
	return svc, nil
}

// history returns the run repository, or nil when the database cannot be opened.
//
// Run history is bookkeeping: a harvest still runs without it.
func (r *Runner) history() models.Repository[*models.HarvestRun] {
	if r.db == nil {
		db, err := shared.OpenHistory(r.config.Database)
		if err != nil {
			r.logger.Warn("run history disabled", "error", err)
			return nil
		}
		r.db = db
		r.ownsDB = true
	}
	return repositories.NewRunRepository(r.db)
}

// record runs fn as a tracked harvest run and stores its outcome in the history.
func (r *Runner) record(command string, fn func(run *models.HarvestRun) error) error {
	run := models.NewHarvestRun(command, r.config.Archive.DataDir)
	repo := r.history()
	if repo != nil {
		if err := repo.Create(run); err != nil {
			r.logger.Warn("failed to record run", "error", err)
			repo = nil
		}
	}

	err := fn(run)

	if repo != nil {
		if ferr := repo.Finish(run, err); ferr != nil {
			r.logger.Warn("failed to finish run", "id", run.ID(), "error", ferr)
		}
	} else {
		run.Finish(err)
	}

	if path := r.config.Metrics.Textfile; path != "" {
		if merr := r.metrics.WriteTextfile(path); merr != nil {
			r.logger.Warn("failed to write metrics", "path", path, "error", merr)
		}
	}
	return err
}

// track drains progress updates into the logger until the returned stop func is called.
func (r *Runner) track() (chan<- tasks.ProgressUpdate, func()) {
	progress := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for update := range progress {
			switch {
			case update.Phase == tasks.Done:
				r.logger.Info(update.Message)
			case update.Data != nil && update.Phase == tasks.PersistingArtifacts:
				r.logger.Warn(update.Message, "phase", update.Phase)
			default:
				r.logger.Debug(update.Message, "phase", update.Phase)
			}
		}
	}()

	return progress, func() {
		close(progress)
		<-done
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
