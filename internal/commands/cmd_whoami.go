package commands

import (
	"context"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/dockhand/internal/printer"
)

type WhoamiCmd struct {
	flags *Flags
}

// NewWhoamiCmd creates a new whoami command
func NewWhoamiCmd(flags *Flags) *WhoamiCmd {
	return &WhoamiCmd{flags: flags}
}

// Register adds the whoami command to the application
func (cmd *WhoamiCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "whoami",
		Usage:       "Show the signed in user and team",
		UsageText:   "dockhand whoami",
		Description: "Refreshes the session if needed and prints the current user, team, and token expiry.",
		Action:      cmd.run,
	})

	return app
}

func (cmd *WhoamiCmd) run(ctx context.Context, c *cli.Command) error {
	if err := navigate(ctx, cmd.flags, "/account"); err != nil {
		return err
	}

	p := printer.Ctx(ctx)
	state := cmd.flags.Bootstrap.Context()
	user, _ := state.User()
	team, _ := state.Team()

	p.Field("user", user.DisplayName())
	p.Field("email", user.Email)
	p.Field("team", team.Name)
	if len(user.Roles) > 0 {
		p.Field("roles", strings.Join(user.Roles, ", "))
	}

	sess := cmd.flags.Sessions.Current()
	if claims := cmd.flags.Sessions.DecodeClaims(sess.AccessToken); claims != nil && !claims.ExpiresAt.IsZero() {
		p.Field("expires", claims.ExpiresAt.Local().Format(time.RFC1123))
	}

	return nil
}
