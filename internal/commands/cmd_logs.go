package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/dockhand/internal/printer"
)

type LogsCmd struct {
	flags   *Flags
	channel string
}

// NewLogsCmd creates a new logs command
func NewLogsCmd(flags *Flags) *LogsCmd {
	return &LogsCmd{flags: flags}
}

// Register adds the logs command to the application
func (cmd *LogsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "logs",
		Usage:     "Stream server-pushed events",
		UsageText: "dockhand logs [--channel NAME]",
		Description: `Subscribes to a channel and prints every event in arrival order until
interrupted or the server ends the stream.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "channel",
				Usage:       "subscription channel (default from config)",
				Destination: &cmd.channel,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *LogsCmd) run(ctx context.Context, c *cli.Command) error {
	channel := cmd.channel
	if channel == "" {
		channel = cmd.flags.Config.Events.Channel
	}

	if err := navigate(ctx, cmd.flags, "/logs/"+channel); err != nil {
		return err
	}

	bridge := cmd.flags.Events.Bridge(channel)
	if err := bridge.Activate(ctx); err != nil {
		return err
	}
	defer bridge.Close()

	out := c.Root().Writer
	bridge.Buffer().Follow(ctx, 0, bridge.Done(), func(line string) {
		_, _ = fmt.Fprintln(out, line)
	})

	if ctx.Err() == nil {
		printer.Ctx(ctx).Warnf("event stream %q ended", channel)
	}
	return nil
}
