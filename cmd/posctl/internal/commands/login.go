package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/DukeRupert/posadmin/internal/gate"
	"github.com/DukeRupert/posadmin/internal/guard"
)

type LoginCmd struct {
	Email     string `arg:"" help:"Account email"`
	Password  string `help:"Password (read from stdin when empty)" env:"POSCTL_PASSWORD"`
	ReturnURL string `name:"return-url" help:"Page to continue to after signing in" default:"/dashboard"`
}

func (l *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	password := l.Password
	if password == "" {
		var err error
		if password, err = readPassword(globals); err != nil {
			return err
		}
	}

	c, err := open(ctx, globals)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.store.Login(ctx, l.Email, password); err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}

	snap := c.store.Snapshot()
	target, ok := guard.LoginTarget(snap, l.ReturnURL)
	if !ok {
		target = gate.DefaultReturnPath
	}
	fmt.Fprintf(globals.Stdout, "Signed in as %s. Continue at %s\n", snap.User.DisplayName(), target)
	return nil
}

// readPassword reads one line from stdin.
func readPassword(g *Globals) (string, error) {
	fmt.Fprint(g.Stderr, "Password: ")
	line, err := bufio.NewReader(g.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
