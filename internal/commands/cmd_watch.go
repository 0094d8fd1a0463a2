package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/dockhand/internal/core/config"
	"github.com/hay-kot/dockhand/internal/core/session"
	"github.com/hay-kot/dockhand/internal/graphql"
	"github.com/hay-kot/dockhand/internal/poller"
	"github.com/hay-kot/dockhand/internal/printer"
	"github.com/hay-kot/dockhand/internal/telemetry"
)

type WatchCmd struct {
	flags       *Flags
	interval    time.Duration
	maxErrors   int
	metricsAddr string

	// maxErrorsSet tells an explicit --max-errors 0 apart from the default.
	maxErrorsSet bool
}

// NewWatchCmd creates a new watch command
func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

// Register adds the watch command to the application
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "watch",
		Usage: "Poll a container or build and print state changes",
		Commands: []*cli.Command{
			{
				Name:      "container",
				Usage:     "Watch the state of a container",
				UsageText: "dockhand watch container [options] <id>",
				Description: `Polls the container status and prints every change.

Polling pauses after --max-errors consecutive failures. In a terminal, press
enter to resume or to poll right away; otherwise the command exits.`,
				Flags:  cmd.pollFlags(),
				Action: cmd.runContainer,
			},
			{
				Name:        "build",
				Usage:       "Watch a build until it finishes",
				UsageText:   "dockhand watch build [options] <id>",
				Description: "Polls the build and prints every step until it reaches a terminal status.",
				Flags:       cmd.pollFlags(),
				Action:      cmd.runBuild,
			},
		},
	})

	return app
}

func (cmd *WatchCmd) pollFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:        "interval",
			Aliases:     []string{"i"},
			Usage:       "delay between the end of one poll and the start of the next (default from config)",
			Destination: &cmd.interval,
		},
		&cli.IntFlag{
			Name:        "max-errors",
			Usage:       "pause after this many consecutive failures, 0 never pauses (default from config)",
			Destination: &cmd.maxErrors,
		},
		&cli.StringFlag{
			Name:        "metrics-addr",
			Usage:       "serve Prometheus metrics on this address, e.g. :9090",
			Sources:     cli.EnvVars("DOCKHAND_METRICS_ADDR"),
			Destination: &cmd.metricsAddr,
		},
	}
}

func (cmd *WatchCmd) runContainer(ctx context.Context, c *cli.Command) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("container id is required")
	}
	cmd.maxErrorsSet = c.IsSet("max-errors")

	client := cmd.flags.Client
	return watchTarget(ctx, cmd, target[graphql.ContainerStatus]{
		name: "container " + id,
		dest: "/containers/" + id,
		fetch: func(ctx context.Context, token string) (graphql.ContainerStatus, error) {
			return client.GetContainerStatus(ctx, token, id)
		},
		render: func(s graphql.ContainerStatus) (string, string) {
			return s.State, s.Status
		},
	})
}

func (cmd *WatchCmd) runBuild(ctx context.Context, c *cli.Command) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("build id is required")
	}
	cmd.maxErrorsSet = c.IsSet("max-errors")

	client := cmd.flags.Client
	return watchTarget(ctx, cmd, target[graphql.Build]{
		name: "build " + id,
		dest: "/builds/" + id,
		fetch: func(ctx context.Context, token string) (graphql.Build, error) {
			return client.GetBuild(ctx, token, id)
		},
		render: func(b graphql.Build) (string, string) {
			return b.Status, b.Step
		},
		done: graphql.Build.Done,
	})
}

// target describes one watched resource.
type target[T any] struct {
	name   string
	dest   string
	fetch  func(ctx context.Context, token string) (T, error)
	render func(T) (state, detail string)
	// done reports a terminal value. Nil watches until interrupted.
	done func(T) bool
}

func watchTarget[T any](ctx context.Context, cmd *WatchCmd, t target[T]) error {
	if err := navigate(ctx, cmd.flags, t.dest); err != nil {
		return err
	}

	p := printer.Ctx(ctx)
	cfg := cmd.flags.Config

	interval, maxErrors, err := cmd.pollSettings(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	paused := pauseNotifier(make(chan struct{}, 1))
	observers := []poller.Observer{paused}

	if cmd.metricsAddr != "" {
		metrics := telemetry.New()
		metrics.MarkActive(t.name)
		observers = append(observers, metrics)
		go func() {
			if err := metrics.Serve(ctx, cmd.metricsAddr, log.Logger); err != nil {
				cancel(err)
			}
		}()
	}

	var (
		lastKey  string
		finished = make(chan struct{})
		finish   sync.Once
	)

	probe := func(ctx context.Context) (T, error) {
		v, err := withToken(ctx, cmd.flags.Sessions, t.fetch)
		if err != nil {
			if errors.Is(err, session.ErrSessionLost) {
				cancel(err)
			}
			return v, err
		}

		state, detail := t.render(v)
		if key := state + "\x00" + detail; key != lastKey {
			lastKey = key
			p.State(time.Now(), t.name, state, detail)
		}
		if t.done != nil && t.done(v) {
			finish.Do(func() { close(finished) })
		}
		return v, nil
	}

	pl, err := poller.New(ctx, log.Logger, probe, poller.Options{
		Name:                 t.name,
		Interval:             interval,
		MaxConsecutiveErrors: maxErrors,
		Immediate:            true,
		Observer:             poller.Observers(observers...),
	})
	if err != nil {
		return err
	}
	defer pl.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	var enter <-chan struct{}
	if interactive {
		enter = readLines(ctx, os.Stdin)
	}

	for {
		select {
		case <-ctx.Done():
			cause := context.Cause(ctx)
			if errors.Is(cause, session.ErrSessionLost) {
				p.Redirect(t.dest, cfg.Auth.LoginPath)
				return fmt.Errorf("%w: %w", ErrNotSignedIn, cause)
			}
			if errors.Is(cause, context.Canceled) {
				return nil
			}
			return cause
		case <-finished:
			return nil
		case <-paused:
			_, lastErr := pl.Last()
			p.Paused(t.name, pl.ConsecutiveErrors(), lastErr)
			if !interactive {
				return fmt.Errorf("%s: polling paused after %d consecutive failures", t.name, pl.ConsecutiveErrors())
			}
			p.Infof("press enter to resume")
		case _, ok := <-enter:
			if !ok {
				enter = nil
				continue
			}
			if pl.IsActive() {
				pl.Trigger()
			} else {
				pl.Resume()
			}
		}
	}
}

// pauseNotifier signals auto-pauses. Other observer calls are ignored.
type pauseNotifier chan struct{}

func (n pauseNotifier) ProbeSucceeded(string, time.Duration)   {}
func (n pauseNotifier) ProbeFailed(string, time.Duration, int) {}
func (n pauseNotifier) Resumed(string)                         {}

func (n pauseNotifier) Paused(_ string, auto bool) {
	if !auto {
		return
	}
	select {
	case n <- struct{}{}:
	default:
	}
}

// pollSettings resolves the poll interval and failure limit from the flags,
// falling back to the config. An explicit --max-errors 0 disables auto-pause.
func (cmd *WatchCmd) pollSettings(cfg *config.Config) (time.Duration, int, error) {
	interval := cmd.interval
	if interval <= 0 {
		interval = cfg.Polling.Interval
	}

	maxErrors := cfg.Polling.MaxConsecutiveErrors
	if cmd.maxErrorsSet {
		if cmd.maxErrors < 0 {
			return 0, 0, fmt.Errorf("--max-errors must not be negative, got %d", cmd.maxErrors)
		}
		maxErrors = cmd.maxErrors
	}

	return interval, maxErrors, nil
}

// readLines signals every line read from r until ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case ch <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
