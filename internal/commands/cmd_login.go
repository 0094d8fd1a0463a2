package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/dockhand/internal/printer"
)

type LoginCmd struct {
	flags    *Flags
	email    string
	password string
}

// NewLoginCmd creates a new login command
func NewLoginCmd(flags *Flags) *LoginCmd {
	return &LoginCmd{flags: flags}
}

// Register adds the login command to the application
func (cmd *LoginCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "login",
		Usage:     "Sign in to the dockhand API",
		UsageText: "dockhand login [--email EMAIL] [--password PASSWORD]",
		Description: `Signs in and stores the session in the data directory.

When stdin is a terminal, missing credentials are prompted for. Otherwise
both --email and --password are required.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "email",
				Aliases:     []string{"e"},
				Usage:       "account email",
				Sources:     cli.EnvVars("DOCKHAND_EMAIL"),
				Destination: &cmd.email,
			},
			&cli.StringFlag{
				Name:        "password",
				Usage:       "account password",
				Sources:     cli.EnvVars("DOCKHAND_PASSWORD"),
				Destination: &cmd.password,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *LoginCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if cmd.email == "" || cmd.password == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("--email and --password are required when stdin is not a terminal")
		}
		if err := cmd.prompt(); err != nil {
			return err
		}
	}

	pair, user, err := cmd.flags.Client.Login(ctx, strings.TrimSpace(cmd.email), cmd.password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	if err := cmd.flags.Sessions.SignIn(ctx, pair, &user); err != nil {
		return err
	}

	if err := navigate(ctx, cmd.flags, "/account"); err != nil {
		return err
	}

	team, _ := cmd.flags.Bootstrap.Context().Team()
	p.Success("Signed in as "+user.DisplayName(), team.Name)
	return nil
}

func (cmd *LoginCmd) prompt() error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Value(&cmd.email).
				Validate(func(s string) error {
					if !strings.Contains(s, "@") {
						return errors.New("enter a valid email")
					}
					return nil
				}),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&cmd.password).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("password is required")
					}
					return nil
				}),
		),
	).WithTheme(huh.ThemeCharm())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return cli.Exit("", 130)
		}
		return fmt.Errorf("login form: %w", err)
	}
	return nil
}
