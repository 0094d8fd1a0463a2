package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/hay-kot/dockhand/internal/printer"
)

// ErrNotSignedIn is returned by commands whose navigation was redirected to
// the login path.
var ErrNotSignedIn = errors.New("not signed in, run 'dockhand login'")

// navigate bootstraps the session for dest and turns a redirect into
// ErrNotSignedIn.
func navigate(ctx context.Context, flags *Flags, dest string) error {
	res, err := flags.Bootstrap.Navigate(ctx, dest)
	if res.Allowed {
		return nil
	}

	printer.Ctx(ctx).Redirect(dest, res.RedirectTo)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotSignedIn, err)
	}
	return ErrNotSignedIn
}
