package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/checkinn/internal/auth"
	"github.com/sakif/checkinn/internal/locale"
	"github.com/sakif/checkinn/internal/repository/blob"
	"github.com/sakif/checkinn/internal/repository/memory"
	"github.com/sakif/checkinn/internal/service"
	"github.com/sakif/checkinn/internal/session"
)

// =========================================================================
// HARNESS
// =========================================================================

// device is one user's machine: a store, the services and a controller.
// Every run builds a fresh App on top, like separate invocations would.
type device struct {
	lang  locale.Language
	ctrl  *session.Controller
	stays *service.StayService
}

func newDevice(t *testing.T, lang locale.Language) *device {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := memory.New()

	authSvc := service.NewAuthService(context.Background(),
		blob.NewIdentityStore(store, logger),
		auth.NewPasswordServiceForTest(),
		logger,
		service.WithLanguage(lang),
	)
	ctrl := session.NewController(authSvc, lang, logger)
	t.Cleanup(ctrl.Close)

	return &device{
		lang:  lang,
		ctrl:  ctrl,
		stays: service.NewStayService(blob.NewStayStore(store, logger), lang, logger),
	}
}

type result struct {
	code   int
	out    string
	errOut string
}

func (d *device) run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	app := NewApp(d.ctrl, d.stays, d.lang, logger, Options{
		In:     strings.NewReader(stdin),
		Out:    &out,
		ErrOut: &errOut,
	})
	app.now = func() time.Time { return time.Date(2025, 5, 1, 9, 0, 0, 0, time.Local) }

	code := app.Run(context.Background(), args)
	return result{code: code, out: out.String(), errOut: errOut.String()}
}

// pipedStdin makes every test see a non-terminal stdin.
func pipedStdin(t *testing.T) {
	t.Helper()
	orig := isTerminal
	isTerminal = func(int) bool { return false }
	t.Cleanup(func() { isTerminal = orig })
}

// onlyID pulls the stay id out of "Added <title> (<id>)".
func onlyID(t *testing.T, line string) string {
	t.Helper()
	open := strings.LastIndex(line, "(")
	end := strings.LastIndex(line, ")")
	require.True(t, open >= 0 && end > open, "no id in %q", line)
	return line[open+1 : end]
}

// =========================================================================
// ACCOUNT COMMANDS
// =========================================================================

func TestSignUpWhoamiSignOut(t *testing.T) {
	pipedStdin(t)
	d := newDevice(t, locale.English)

	res := d.run(t, "secret1\n", "signup", "-email", "Hanako@Example.com", "-name", "Hanako")
	require.Equal(t, 0, res.code, res.errOut)
	assert.Equal(t, "Signed up as Hanako <hanako@example.com>\n", res.out)

	res = d.run(t, "", "whoami")
	require.Equal(t, 0, res.code)
	assert.Contains(t, res.out, d.ctrl.PublicUserID())
	assert.Contains(t, res.out, "hanako@example.com")

	res = d.run(t, "", "signout")
	require.Equal(t, 0, res.code)
	assert.Equal(t, "Signed out.\n", res.out)

	res = d.run(t, "", "whoami")
	assert.Equal(t, 1, res.code)
	assert.Equal(t, "No active session was found.\n", res.errOut)
}

func TestSignIn_ControllerMessage(t *testing.T) {
	pipedStdin(t)

	t.Run("english", func(t *testing.T) {
		d := newDevice(t, locale.English)
		res := d.run(t, "secret1\n", "signin", "-email", "nobody@example.com")
		assert.Equal(t, 1, res.code)
		assert.Equal(t, "Account not found. Please create a new account.\n", res.errOut)
		assert.Equal(t, "Account not found. Please create a new account.", d.ctrl.ErrorMessage())
	})

	t.Run("japanese", func(t *testing.T) {
		d := newDevice(t, locale.Japanese)
		d.run(t, "secret1\n", "signup", "-email", "ken@example.com")

		res := d.run(t, "wrong1\n", "signin", "-email", "ken@example.com")
		assert.Equal(t, 1, res.code)
		assert.Equal(t, "メールアドレスまたはパスワードが不正です。\n", res.errOut)
	})
}

func TestPassword_TerminalUsesReadPassword(t *testing.T) {
	origTerm, origRead := isTerminal, readPassword
	t.Cleanup(func() { isTerminal, readPassword = origTerm, origRead })

	isTerminal = func(int) bool { return true }
	readPassword = func(int) ([]byte, error) { return []byte("fromtty"), nil }

	d := newDevice(t, locale.English)
	res := d.run(t, "ignored-line\n", "signup", "-email", "tty@example.com")
	require.Equal(t, 0, res.code, res.errOut)
	assert.True(t, strings.HasPrefix(res.out, "Password: \n"))

	d.run(t, "", "signout")
	readPassword = func(int) ([]byte, error) { return nil, errors.New("no tty") }
	res = d.run(t, "", "signin", "-email", "tty@example.com")
	assert.Equal(t, 1, res.code)
	assert.Nil(t, d.ctrl.User())
}

func TestRename(t *testing.T) {
	pipedStdin(t)
	d := newDevice(t, locale.English)
	d.run(t, "secret1\n", "signup", "-email", "r@example.com")

	res := d.run(t, "", "rename", "Yuki", "Tanaka")
	require.Equal(t, 0, res.code, res.errOut)
	assert.Equal(t, "Renamed to Yuki Tanaka\n", res.out)
}

func TestRun_UsageAndUnknownCommand(t *testing.T) {
	d := newDevice(t, locale.English)

	res := d.run(t, "")
	assert.Equal(t, 0, res.code)
	assert.Contains(t, res.out, "signup -email EMAIL")

	res = d.run(t, "", "teleport")
	assert.Equal(t, 2, res.code)
	assert.Contains(t, res.errOut, "unknown command: teleport")
}

// =========================================================================
// STAY COMMANDS
// =========================================================================

func TestStays_RequireSignIn(t *testing.T) {
	d := newDevice(t, locale.English)

	for _, args := range [][]string{{"stays"}, {"add", "-in", "2025-01-01"}, {"rm", "x"}, {"stats"}} {
		res := d.run(t, "", args...)
		assert.Equal(t, 1, res.code, args)
		assert.Equal(t, "No active session was found.\n", res.errOut, args)
	}
}

func TestStays_AddListEditRemove(t *testing.T) {
	pipedStdin(t)
	d := newDevice(t, locale.English)
	d.run(t, "secret1\n", "signup", "-email", "travel@example.com")

	res := d.run(t, "", "add", "-city", "Kyoto", "-in", "2025-06-01", "-out", "2025-06-03", "-note", "ryokan")
	require.Equal(t, 0, res.code, res.errOut)
	kyoto := onlyID(t, res.out)
	assert.True(t, strings.HasPrefix(res.out, "Added Kyoto ("))

	res = d.run(t, "", "add", "-title", "Osaka", "-in", "2025-01-10")
	require.Equal(t, 0, res.code, res.errOut)

	res = d.run(t, "", "stays")
	require.Equal(t, 0, res.code)
	lines := strings.Split(strings.TrimSpace(res.out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "TITLE")
	assert.Contains(t, lines[1], "Osaka")
	assert.Contains(t, lines[2], "2025-06-01..2025-06-03")

	res = d.run(t, "", "edit", kyoto, "-title", "Kyoto ryokan", "-out", "")
	require.Equal(t, 0, res.code, res.errOut)
	assert.Equal(t, "Updated Kyoto ryokan ("+kyoto+")\n", res.out)

	stays, err := d.stays.ListStays(context.Background(), d.ctrl.User().ID)
	require.NoError(t, err)
	require.Len(t, stays, 2)
	assert.Equal(t, "Kyoto ryokan", stays[1].Title)
	assert.Nil(t, stays[1].CheckOut)
	assert.Equal(t, "ryokan", *stays[1].Note)

	res = d.run(t, "", "rm", kyoto)
	require.Equal(t, 0, res.code)

	res = d.run(t, "", "stays", "-q", "kyoto")
	assert.Equal(t, "No stays yet.\n", res.out)
}

func TestStays_Errors(t *testing.T) {
	pipedStdin(t)
	d := newDevice(t, locale.English)
	d.run(t, "secret1\n", "signup", "-email", "err@example.com")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"add without check-in", []string{"add", "-title", "x"}, "check-in date is required"},
		{"bad date", []string{"add", "-in", "tomorrow"}, "invalid date"},
		{"out before in", []string{"add", "-in", "2025-02-02", "-out", "2025-02-01"}, "check-out must not be before check-in"},
		{"edit unknown id", []string{"edit", "nope", "-title", "x"}, "not found"},
		{"edit without id", []string{"edit", "-title", "x"}, "a stay ID is required"},
		{"rm without id", []string{"rm"}, "exactly one stay ID is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.run(t, "", tt.args...)
			assert.Equal(t, 1, res.code)
			assert.Contains(t, res.errOut, tt.want)
		})
	}
}

func TestStats(t *testing.T) {
	pipedStdin(t)
	d := newDevice(t, locale.English)
	d.run(t, "secret1\n", "signup", "-email", "stats@example.com")
	d.run(t, "", "add", "-city", "Kyoto", "-in", "2025-03-01", "-out", "2025-03-03")
	d.run(t, "", "add", "-city", "Sapporo", "-in", "2025-07-20")

	res := d.run(t, "", "stats")
	require.Equal(t, 0, res.code, res.errOut)
	assert.Contains(t, res.out, "Stays          2")
	assert.Contains(t, res.out, "Total days     4")
	assert.Contains(t, res.out, "Cities         2")
	assert.Contains(t, res.out, "Next check-in  2025-07-20")
}
