// Package tui provides the interactive prompts used when authgate is attached
// to a terminal.
package tui

import (
	"errors"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/x/term"
)

// ErrNotInteractive is returned when a prompt is needed but stdin or stdout
// is not a terminal.
var ErrNotInteractive = errors.New("not attached to a terminal")

// ErrCanceled is returned when the user aborts a prompt.
var ErrCanceled = errors.New("canceled")

// IsInteractive reports whether both stdin and stdout are terminals.
func IsInteractive() bool {
	return term.IsTerminal(os.Stdin.Fd()) && term.IsTerminal(os.Stdout.Fd())
}

// Confirm shows a yes/no confirmation prompt.
func Confirm(message string, defaultValue bool) (bool, error) {
	result := defaultValue
	err := huh.NewConfirm().
		Title(message).
		Affirmative("Yes").
		Negative("No").
		Value(&result).
		Run()
	if err != nil {
		return defaultValue, err
	}
	return result, nil
}

// LoginCredentials holds what the login form collects.
type LoginCredentials struct {
	Username string
	Password string
}

// LoginForm prompts for a username and password. A non-empty username is
// prefilled and only the password is asked for.
func LoginForm(title, username string) (LoginCredentials, error) {
	if !IsInteractive() {
		return LoginCredentials{}, ErrNotInteractive
	}

	creds := LoginCredentials{Username: username}
	var fields []huh.Field
	if username == "" {
		fields = append(fields, huh.NewInput().
			Title("Username").
			Value(&creds.Username).
			Validate(required))
	}
	fields = append(fields, huh.NewInput().
		Title("Password").
		EchoMode(huh.EchoModePassword).
		Value(&creds.Password).
		Validate(required))

	form := huh.NewForm(huh.NewGroup(fields...).Title(title))
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return LoginCredentials{}, ErrCanceled
		}
		return LoginCredentials{}, err
	}
	creds.Username = strings.TrimSpace(creds.Username)
	return creds, nil
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("this field is required")
	}
	return nil
}
