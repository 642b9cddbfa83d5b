package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/absfs/biosecure"
)

// PasscodeEnv is the environment variable consulted when --passcode is unset
const PasscodeEnv = "BIOSECURE_PASSCODE"

var errNoTerminal = errors.New("cannot read passcode: stdin is not a terminal (use --passcode or " + PasscodeEnv + ")")

// passcodeSource resolves the passcode for a prompt. Explicit values win
// over the environment, which wins over the terminal.
type passcodeSource struct {
	flag   string
	getenv func(string) string
	stderr io.Writer

	// readTerminal reads a line without echo. Nil means os.Stdin.
	readTerminal func() ([]byte, error)
}

// interactive reports whether answering a prompt needs the terminal
func (p *passcodeSource) interactive() bool {
	return p.flag == "" && p.getenv(PasscodeEnv) == ""
}

// Prompt answers a biometric prompt with the passcode
func (p *passcodeSource) Prompt(ctx context.Context, prompt biosecure.PromptConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.flag != "" {
		return p.flag, nil
	}
	if v := p.getenv(PasscodeEnv); v != "" {
		return v, nil
	}

	label := prompt.Title
	if prompt.Description != "" {
		label += " - " + prompt.Description
	}
	return p.ask(label + ": ")
}

func (p *passcodeSource) ask(label string) (string, error) {
	read := p.readTerminal
	if read == nil {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", errNoTerminal
		}
		read = func() ([]byte, error) { return term.ReadPassword(fd) }
	}

	fmt.Fprint(p.stderr, label)
	passcode, err := read()
	fmt.Fprintln(p.stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passcode: %w", err)
	}

	s := strings.TrimRight(string(passcode), "\r\n")
	if s == "" {
		return "", biosecure.ErrAuthenticationCanceled
	}
	return s, nil
}

// Passcode returns the passcode outside of a prompt, e.g. for enrollment
func (p *passcodeSource) Passcode(label string) (string, error) {
	return p.Prompt(context.Background(), biosecure.PromptConfig{Title: label})
}
