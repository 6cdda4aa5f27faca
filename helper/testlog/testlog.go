// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package testlog creates loggers backed by testing.T to ease logging in
// tests.
package testlog

import (
	"bytes"
	"io"
	"os"
	"strconv"

	"github.com/hashicorp/go-hclog"
)

// LogPrinter is the methods of testing.T (or testing.B) needed by the test
// logger.
type LogPrinter interface {
	Logf(format string, args ...interface{})
}

// writer implements io.Writer on top of a LogPrinter.
type writer struct {
	prefix string
	t      LogPrinter
}

// Write to an underlying LogPrinter. Never returns an error.
func (w *writer) Write(p []byte) (n int, err error) {
	w.t.Logf("%s%s", w.prefix, bytes.TrimRight(p, "\n"))
	return len(p), nil
}

// NewWriter creates a new io.Writer backed by a LogPrinter.
func NewWriter(t LogPrinter) io.Writer {
	return &writer{t: t}
}

// NewPrefixWriter creates a new io.Writer backed by a LogPrinter that
// prefixes every line.
func NewPrefixWriter(t LogPrinter, prefix string) io.Writer {
	return &writer{prefix: prefix, t: t}
}

// HCLogger returns a new test hc-logger. The level defaults to TRACE and
// can be raised with the PLANNER_TEST_LOG_LEVEL environment variable. Set
// PLANNER_TEST_LOG_OFF=true to silence test output entirely.
func HCLogger(t LogPrinter) hclog.InterceptLogger {
	return hclog.NewInterceptLogger(HCLoggerTestOpts(t))
}

// HCLoggerTestOpts returns the logger options used by HCLogger.
func HCLoggerTestOpts(t LogPrinter) *hclog.LoggerOptions {
	level := hclog.Trace
	if envLevel := os.Getenv("PLANNER_TEST_LOG_LEVEL"); envLevel != "" {
		level = hclog.LevelFromString(envLevel)
	}

	var output io.Writer = NewWriter(t)
	if off, _ := strconv.ParseBool(os.Getenv("PLANNER_TEST_LOG_OFF")); off {
		output = io.Discard
	}

	return &hclog.LoggerOptions{
		Level:           level,
		Output:          output,
		IncludeLocation: true,
	}
}

// HCLoggerWithOutput returns a test logger whose output also goes to w, for tests
// that assert on what was logged.
func HCLoggerWithOutput(t LogPrinter, w io.Writer) hclog.Logger {
	opts := HCLoggerTestOpts(t)
	opts.Output = io.MultiWriter(opts.Output, w)
	return hclog.New(opts)
}
