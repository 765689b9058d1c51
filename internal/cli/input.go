package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// readLine reads one line, trimming the newline. A final line without a
// newline is still returned.
func (a *App) readLine() (string, error) {
	line, err := a.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// password prompts without echo when stdin is a terminal. Piped input
// (scripts, tests) supplies the password as its first line instead.
func (a *App) password(prompt string) (string, error) {
	if !isTerminal(a.stdinFd) {
		pw, err := a.readLine()
		if err != nil {
			return "", fmt.Errorf("cli: reading password: %w", err)
		}
		return pw, nil
	}

	fmt.Fprint(a.out, prompt)
	pw, err := readPassword(a.stdinFd)
	fmt.Fprintln(a.out)
	if err != nil {
		return "", fmt.Errorf("cli: reading password: %w", err)
	}
	return string(pw), nil
}
