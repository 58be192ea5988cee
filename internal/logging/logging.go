// SPDX-License-Identifier: MPL-2.0

// Package logging installs the process-wide slog logger.
//
// All packages log through log/slog. Setup routes those records to a
// charmbracelet/log handler so terminal output matches the CLI styling.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ErrInvalidFormat is returned for an unknown log format.
var ErrInvalidFormat = errors.New("invalid log format")

type (
	// Options configures Setup.
	Options struct {
		Format  Format
		Verbose bool
		// Level overrides the level derived from Verbose when non-empty
		// ("debug", "info", "warn", "error").
		Level string
	}

	// InvalidFormatError reports an unsupported log format value.
	InvalidFormatError struct {
		Value Format
	}
)

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid log format %q (valid: text, json)", e.Value)
}

func (e *InvalidFormatError) Unwrap() error { return ErrInvalidFormat }

// Validate returns an error when f is not a supported format.
// The empty value is accepted and means text.
func (f Format) Validate() error {
	switch f {
	case "", FormatText, FormatJSON:
		return nil
	default:
		return &InvalidFormatError{Value: f}
	}
}

// ParseFormat parses a case-insensitive format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if err := f.Validate(); err != nil {
		return "", err
	}
	if f == "" {
		return FormatText, nil
	}
	return f, nil
}

// New builds a slog.Logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	if err := opts.Format.Validate(); err != nil {
		return nil, err
	}

	level := log.InfoLevel
	if opts.Verbose {
		level = log.DebugLevel
	}
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	handlerOpts := log.Options{
		Level:           level,
		Prefix:          "stackpack",
		ReportTimestamp: opts.Verbose,
		Formatter:       log.TextFormatter,
	}
	if opts.Format == FormatJSON {
		handlerOpts.Formatter = log.JSONFormatter
		handlerOpts.ReportTimestamp = true
	}

	return slog.New(log.NewWithOptions(w, handlerOpts)), nil
}

// Setup builds a logger with New and installs it as the slog default.
func Setup(w io.Writer, opts Options) (*slog.Logger, error) {
	logger, err := New(w, opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}
