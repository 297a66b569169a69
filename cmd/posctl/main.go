package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/DukeRupert/posadmin/cmd/posctl/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login  commands.LoginCmd  `cmd:"" help:"Sign in and store the session cookie"`
		Logout commands.LogoutCmd `cmd:"" help:"Sign out and remove the session cookie"`
		Status commands.StatusCmd `cmd:"" help:"Show whether the stored session is still valid"`
		Order  commands.OrderCmd  `cmd:"" help:"Show an order and its payments"`

		Backend    string `help:"Backend base URL" env:"BACKEND_URL" default:"http://localhost:8081"`
		CookieFile string `help:"Session cookie file (defaults to the user config dir)" type:"path" env:"POSCTL_COOKIE_FILE"`
		Debug      bool   `help:"Enable debug logging."`
		Version    kong.VersionFlag
	}
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("posctl"),
		kong.Description("Headless admin console for the POS backend."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Backend:    cli.Backend,
		CookieFile: cli.CookieFile,
		Debug:      cli.Debug,
		Version:    version,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	})
	cmd.FatalIfErrorf(err)
}
