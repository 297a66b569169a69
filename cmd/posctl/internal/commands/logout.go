package commands

import (
	"context"
	"fmt"
)

type LogoutCmd struct{}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.store.Logout(); err != nil {
		return fmt.Errorf("sign-out failed: %w", err)
	}
	fmt.Fprintln(globals.Stdout, "Signed out.")
	return nil
}
