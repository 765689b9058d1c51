// Package cli is the single-user terminal front end.
//
// Each invocation runs one command against the local backend:
//
//	checkinn signup -email a@b.c -name Hanako
//	checkinn add -title "Ryokan" -city Kyoto -in 2025-06-01 -out 2025-06-03
//	checkinn stays -q kyoto
//
// Account commands go through a session.Controller, so failures surface as
// the same localized message a GUI would show. The signed-in user persists
// between invocations through the backend's saved session.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/checkinn/internal/apperror"
	"github.com/sakif/checkinn/internal/locale"
	"github.com/sakif/checkinn/internal/model"
	"github.com/sakif/checkinn/internal/session"
)

// StayStore is what the stay commands need from service.StayService.
type StayStore interface {
	ListStays(ctx context.Context, userID string) ([]model.Stay, error)
	AddStay(ctx context.Context, userID string, stay model.Stay) (*model.Stay, error)
	UpsertStay(ctx context.Context, userID string, stay model.Stay) (*model.Stay, error)
	DeleteStay(ctx context.Context, userID, stayID string) error
	SearchStays(ctx context.Context, userID, query string) ([]model.Stay, error)
	Stats(ctx context.Context, userID string, now time.Time) (*model.StayStats, error)
}

// errFailed marks a failure whose message has already been printed.
var errFailed = errors.New("cli: command failed")

type command struct {
	usage string
	run   func(a *App, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"signup":  {"signup -email EMAIL [-name NAME]", (*App).signUp},
	"signin":  {"signin -email EMAIL", (*App).signIn},
	"signout": {"signout", (*App).signOut},
	"whoami":  {"whoami", (*App).whoami},
	"rename":  {"rename NAME", (*App).rename},
	"stays":   {"stays [-q QUERY]", (*App).listStays},
	"add":     {"add -in YYYY-MM-DD [-out YYYY-MM-DD] [-title T] [-city C] [-note N]", (*App).addStay},
	"edit":    {"edit ID [-in ...] [-out ...] [-title T] [-city C] [-note N]", (*App).editStay},
	"rm":      {"rm ID", (*App).removeStay},
	"stats":   {"stats", (*App).stats},
}

// commandOrder fixes the help listing.
var commandOrder = []string{"signup", "signin", "signout", "whoami", "rename", "stays", "add", "edit", "rm", "stats"}

// App runs CLI commands.
type App struct {
	session *session.Controller
	stays   StayStore
	lang    locale.Language
	logger  *slog.Logger

	in      *bufio.Reader
	stdinFd int
	out     io.Writer
	errOut  io.Writer
	now     func() time.Time
}

// Options are the App's I/O endpoints. StdinFd is only used to detect a
// terminal for the password prompt.
type Options struct {
	In      io.Reader
	StdinFd int
	Out     io.Writer
	ErrOut  io.Writer
}

// NewApp creates an App.
func NewApp(ctrl *session.Controller, stays StayStore, lang locale.Language, logger *slog.Logger, opts Options) *App {
	return &App{
		session: ctrl,
		stays:   stays,
		lang:    lang,
		logger:  logger,
		in:      bufio.NewReader(opts.In),
		stdinFd: opts.StdinFd,
		out:     opts.Out,
		errOut:  opts.ErrOut,
		now:     time.Now,
	}
}

// Run executes one command and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		a.usage(a.out)
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(a.errOut, "%s: %s\n", a.text("不明なコマンド", "unknown command"), args[0])
		a.usage(a.errOut)
		return 2
	}

	if err := cmd.run(a, ctx, args[1:]); err != nil {
		if !errors.Is(err, errFailed) {
			if errors.Is(err, flag.ErrHelp) {
				return 0
			}
			a.logger.Debug("command failed", slog.String("command", args[0]), slog.String("error", err.Error()))
			fmt.Fprintln(a.errOut, apperror.Localize(err, a.lang))
		}
		return 1
	}
	return 0
}

func (a *App) usage(w io.Writer) {
	fmt.Fprintln(w, "usage: checkinn [-config FILE] [-db PATH] [-lang ja|en] COMMAND")
	fmt.Fprintln(w)
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
}

// newFlags builds a FlagSet for a subcommand. Parse errors go to errOut.
func (a *App) newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	fs.Usage = func() {
		fmt.Fprintf(a.errOut, "usage of checkinn %s:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

func (a *App) text(ja, en string) string {
	return locale.Text(a.lang, ja, en)
}

// =========================================================================
// ACCOUNT COMMANDS
// =========================================================================

// controllerErr reports a failed controller action with the controller's own
// localized message.
func (a *App) controllerErr(err error) error {
	if err == nil {
		return nil
	}
	if msg := a.session.ErrorMessage(); msg != "" {
		fmt.Fprintln(a.errOut, msg)
		return errFailed
	}
	return err
}

func (a *App) signUp(ctx context.Context, args []string) error {
	fs := a.newFlags("signup")
	email := fs.String("email", "", "email address")
	name := fs.String("name", "", "display name (defaults to the part before @)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pw, err := a.password(a.text("パスワード: ", "Password: "))
	if err != nil {
		return err
	}
	if err := a.controllerErr(a.session.SignUp(ctx, *email, pw, *name)); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s %s\n", a.text("登録しました:", "Signed up as"), a.describeUser())
	return nil
}

func (a *App) signIn(ctx context.Context, args []string) error {
	fs := a.newFlags("signin")
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pw, err := a.password(a.text("パスワード: ", "Password: "))
	if err != nil {
		return err
	}
	if err := a.controllerErr(a.session.SignIn(ctx, *email, pw)); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s %s\n", a.text("ログインしました:", "Signed in as"), a.describeUser())
	return nil
}

func (a *App) signOut(ctx context.Context, _ []string) error {
	if err := a.controllerErr(a.session.SignOut(ctx)); err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.text("ログアウトしました。", "Signed out."))
	return nil
}

func (a *App) whoami(_ context.Context, _ []string) error {
	user := a.session.User()
	if user == nil {
		return apperror.NotAuthenticated()
	}

	fmt.Fprintf(a.out, "%-8s %s\n", "ID", a.session.PublicUserID())
	fmt.Fprintf(a.out, "%-8s %s\n", a.text("名前", "Name"), model.Deref(user.DisplayName))
	fmt.Fprintf(a.out, "%-8s %s\n", a.text("メール", "Email"), model.Deref(user.Email))
	return nil
}

func (a *App) rename(ctx context.Context, args []string) error {
	name := strings.Join(args, " ")
	if err := a.controllerErr(a.session.UpdateDisplayName(ctx, name)); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", a.text("名前を変更しました:", "Renamed to"), model.Deref(a.session.User().DisplayName))
	return nil
}

// describeUser is "Name <email>" for the current user.
func (a *App) describeUser() string {
	user := a.session.User()
	if user == nil {
		return ""
	}
	s := model.Deref(user.DisplayName)
	if email := model.Deref(user.Email); email != "" {
		s += " <" + email + ">"
	}
	return strings.TrimSpace(s)
}

// currentUserID fails with NotAuthenticated when nobody is signed in.
func (a *App) currentUserID() (string, error) {
	user := a.session.User()
	if user == nil {
		return "", apperror.NotAuthenticated()
	}
	return user.ID, nil
}
