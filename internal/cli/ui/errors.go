// Package ui formats CLI output.
package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/modinspect/modinspect/internal/connection"
)

// ErrorLevel represents the severity of an error message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Level   ErrorLevel
	Context string
	Problem string
	Hints   []string
	NoColor bool
}

// FormatError renders a message like:
//
//	✗ BACKEND UNAVAILABLE: dial tcp 127.0.0.1:9000: connection refused
//
//	   → Check backend.url in modinspect.yml
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	var header *color.Color
	var symbol string
	switch opts.Level {
	case ErrorLevelWarning:
		header, symbol = color.New(color.FgYellow, color.Bold), "!"
	case ErrorLevelInfo:
		header, symbol = color.New(color.FgCyan, color.Bold), "i"
	default:
		header, symbol = color.New(color.FgRed, color.Bold), "✗"
	}
	if opts.NoColor {
		header.DisableColor()
	}

	if opts.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	if len(opts.Hints) > 0 {
		b.WriteString("\n")
		cyan := color.New(color.FgCyan)
		if opts.NoColor {
			cyan.DisableColor()
		}
		for _, hint := range opts.Hints {
			cyan.Fprintf(&b, "   → %s\n", hint)
		}
	}

	return b.String()
}

// WriteError writes a formatted error message to the writer
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// FormatSuccess creates a success message
func FormatSuccess(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// WriteSuccess writes a success message to the writer
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// Error attaches a headline and hints to err for Describe.
type Error struct {
	Context string
	Err     error
	Hints   []string
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Wrap annotates err; a nil err stays nil.
func Wrap(context string, err error, hints ...string) error {
	if err == nil {
		return nil
	}
	return &Error{Context: context, Err: err, Hints: hints}
}

// ConfigError annotates a configuration failure.
func ConfigError(err error) error {
	return Wrap("configuration error", err,
		"Check modinspect.yml in the project directory",
		"Environment overrides use the MODINSPECT_ prefix, e.g. MODINSPECT_SERVER_PORT",
	)
}

// Describe turns any error into the CLI's formatted message.
func Describe(err error, noColor bool) string {
	opts := ErrorOptions{Level: ErrorLevelError, Problem: err.Error(), NoColor: noColor}

	var annotated *Error
	switch {
	case errors.As(err, &annotated):
		opts.Context = annotated.Context
		opts.Hints = annotated.Hints
	case errors.Is(err, connection.ErrConnect):
		opts.Context = "backend unavailable"
		opts.Hints = []string{
			"Check backend.url in modinspect.yml, or leave it empty to run the backend in-process",
			"Start a standalone backend: modinspect backend",
		}
	}
	return FormatError(opts)
}
