package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/dockhand/internal/auth"
	"github.com/hay-kot/dockhand/internal/bootstrap"
	"github.com/hay-kot/dockhand/internal/commands"
	"github.com/hay-kot/dockhand/internal/core/config"
	"github.com/hay-kot/dockhand/internal/events"
	"github.com/hay-kot/dockhand/internal/graphql"
	"github.com/hay-kot/dockhand/internal/printer"
	"github.com/hay-kot/dockhand/internal/store/jsonfile"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}

	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

func main() {
	if err := setupLogger("info", ""); err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var (
		p     = printer.New(os.Stderr)
		flags = &commands.Flags{}
	)
	ctx = printer.NewContext(ctx, p)

	app := &cli.Command{
		Name:      "dockhand",
		Usage:     "Watch containers, builds, and logs from the command line",
		UsageText: "dockhand [global options] command [command options]",
		Description: `Dockhand is a terminal client for the dockhand API.

It keeps your session signed in across runs, refreshing tokens as needed,
and polls or streams the resources you ask it to watch.

Run 'dockhand login' to sign in.
Run 'dockhand watch container <id>' to follow a container.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("DOCKHAND_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (optional)",
				Sources:     cli.EnvVars("DOCKHAND_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("DOCKHAND_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("DOCKHAND_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := setupLogger(flags.LogLevel, flags.LogFile); err != nil {
				return ctx, err
			}

			// config validate and doctor report problems themselves
			load := config.Load
			if sub := c.Args().First(); sub == "config" || sub == "doctor" {
				load = config.Read
			}

			cfg, err := load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.Config = cfg

			wire(ctx, flags)
			return ctx, nil
		},
	}

	app = commands.NewLoginCmd(flags).Register(app)
	app = commands.NewLogoutCmd(flags).Register(app)
	app = commands.NewWhoamiCmd(flags).Register(app)
	app = commands.NewWatchCmd(flags).Register(app)
	app = commands.NewLogsCmd(flags).Register(app)
	app = commands.NewConfigValidateCmd(flags).Register(app)
	app = commands.NewDoctorCmd(flags).Register(app)

	exitCode := 0
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Println()
		printer.Ctx(ctx).FatalError(err)
		exitCode = 1
	}

	if flags.Events != nil {
		flags.Events.Close()
	}
	if flags.Bootstrap != nil {
		flags.Bootstrap.Close()
	}

	stop()
	os.Exit(exitCode)
}

// wire builds the session stack shared by every command.
func wire(ctx context.Context, flags *commands.Flags) {
	cfg := flags.Config

	store := jsonfile.NewSessionStore(cfg.SessionFile())
	client := graphql.NewClient(graphql.Options{
		Endpoint:  cfg.API.Endpoint,
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		Burst:     cfg.API.Burst,
	}, log.Logger)

	sessions := auth.NewManager(client, store, log.With().Str("component", "auth").Logger()).
		WithLeeway(cfg.Auth.RefreshLeeway)

	if err := sessions.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("ignoring unreadable session, sign in again")
	}

	boot := bootstrap.New(sessions, client, bootstrap.NewContext(), bootstrap.Options{
		LoginPath:   cfg.Auth.LoginPath,
		AuthPattern: cfg.Auth.PathPattern,
	}, log.Logger)

	subscriber := graphql.NewSubscriber(graphql.SubscriberOptions{
		Endpoint:          cfg.API.SubscriptionEndpoint,
		ReconnectAttempts: cfg.Events.ReconnectAttempts,
		ReconnectDelay:    cfg.Events.ReconnectDelay,
	}, sessions.EnsureFresh, log.Logger)

	flags.Store = store
	flags.Client = client
	flags.Sessions = sessions
	flags.Bootstrap = boot
	flags.Events = events.NewHub(subscriber, log.Logger)
}

func setupLogger(level string, logFile string) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}

	if logFile != "" {
		// Create log directory if it doesn't exist
		logDir := filepath.Dir(logFile)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		// Write to both console and file
		output = io.MultiWriter(
			zerolog.ConsoleWriter{Out: os.Stderr},
			file,
		)
	}

	log.Logger = log.Output(output).Level(parsedLevel)

	return nil
}
