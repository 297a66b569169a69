package commands

import (
	"context"
	"fmt"
)

type StatusCmd struct{}

func (s *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer c.close()

	snap := c.store.Snapshot()
	fmt.Fprintf(globals.Stdout, "Backend: %s\n", globals.Backend)
	fmt.Fprintf(globals.Stdout, "Session: %s\n", snap.Status)
	if snap.User != nil && snap.User.ExpiresAt != nil {
		fmt.Fprintf(globals.Stdout, "Expires: %s\n", snap.User.ExpiresAt.Local().Format("Jan 2, 2006 3:04 PM"))
	}
	return nil
}
