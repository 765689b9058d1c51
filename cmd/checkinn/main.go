// Command checkinn is the terminal client. It opens the configured backend
// directly, so the signed-in user and the stays live in the same store the
// server would use.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/term"

	"github.com/sakif/checkinn/internal/backend"
	"github.com/sakif/checkinn/internal/cli"
	"github.com/sakif/checkinn/internal/config"
	"github.com/sakif/checkinn/internal/logging"
	"github.com/sakif/checkinn/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("checkinn", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a JSON config file (default $CHECKINN_CONFIG)")
	dbPath := fs.String("db", "", "sqlite database path (overrides DB_PATH)")
	lang := fs.String("lang", "", "display language: ja, en or system (overrides CHECKINN_LANG)")
	verbose := fs.Bool("v", false, "log to stderr at debug level")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *dbPath != "" {
		cfg.Storage = config.StorageSQLite
		cfg.DBPath = *dbPath
	}
	if *lang != "" {
		cfg.Language = *lang
	}

	// The CLI's output is for people; logs stay quiet unless asked for.
	level := logging.ParseLevel("error")
	if *verbose {
		level = logging.ParseLevel("debug")
	}
	logger := logging.New(os.Stderr, logging.Options{
		Level:   level,
		Format:  cfg.LogFormat,
		NoColor: !term.IsTerminal(int(os.Stderr.Fd())),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer b.Close()

	ctrl := session.NewController(b.Auth, b.Language, logger)
	defer ctrl.Close()

	app := cli.NewApp(ctrl, b.Stays, b.Language, logger, cli.Options{
		In:      os.Stdin,
		StdinFd: int(os.Stdin.Fd()),
		Out:     os.Stdout,
		ErrOut:  os.Stderr,
	})
	return app.Run(ctx, fs.Args())
}
