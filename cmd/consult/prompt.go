package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// terminal bundles the process streams so run can be driven from tests.
type terminal struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	stdinTTY  bool
	stdoutTTY bool
	stderrTTY bool

	ask func() (string, error) // Interactive prompt entry.
}

func newTerminal() terminal {
	return terminal{
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		stdinTTY:  isTerminal(os.Stdin),
		stdoutTTY: isTerminal(os.Stdout),
		stderrTTY: isTerminal(os.Stderr),
		ask:       askPrompt,
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

var errNoPrompt = errors.New("a prompt is required (pass it as arguments, pipe it on stdin, or run in a terminal)")

// readPrompt returns the prompt from the arguments, the interactive form when
// stdin is a terminal, or all of stdin otherwise.
func readPrompt(o cliOptions, t terminal) (string, error) {
	if o.prompt != "" {
		return o.prompt, nil
	}

	var (
		prompt string
		err    error
	)

	if t.stdinTTY && t.ask != nil {
		prompt, err = t.ask()
	} else {
		var data []byte
		data, err = io.ReadAll(t.stdin)
		prompt = string(data)
	}

	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errNoPrompt
	}

	return prompt, nil
}

func askPrompt() (string, error) {
	var prompt string

	err := huh.NewForm(huh.NewGroup(
		huh.NewText().
			Title("Prompt").
			Description("What do you want to ask?").
			Value(&prompt).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("prompt cannot be empty")
				}
				return nil
			}),
	)).Run()

	return prompt, err
}
