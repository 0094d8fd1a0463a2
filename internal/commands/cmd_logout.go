package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/dockhand/internal/printer"
)

type LogoutCmd struct {
	flags *Flags
}

// NewLogoutCmd creates a new logout command
func NewLogoutCmd(flags *Flags) *LogoutCmd {
	return &LogoutCmd{flags: flags}
}

// Register adds the logout command to the application
func (cmd *LogoutCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "logout",
		Usage:       "Sign out and forget the stored session",
		UsageText:   "dockhand logout",
		Description: "Clears the session from memory and from the data directory.",
		Action:      cmd.run,
	})

	return app
}

func (cmd *LogoutCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if cmd.flags.Sessions.Current().IsEmpty() {
		p.Infof("Not signed in")
		return nil
	}

	cmd.flags.Sessions.ClearSession(ctx)
	p.Successf("Signed out")
	return nil
}
