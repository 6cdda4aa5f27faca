// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/cli"
	"github.com/hashicorp/go-hclog"
	"github.com/kr/text"
	"github.com/posener/complete"
	"github.com/ryanuber/columnize"
	"github.com/vmplacement/deployplanner/placement/inventory"
	"github.com/vmplacement/deployplanner/placement/structs"
	"github.com/vmplacement/deployplanner/placement/structs/config"
)

// maxLineLength is the maximum width of any line.
const maxLineLength int = 78

// formatKV takes a set of strings and formats them into properly
// aligned k = v pairs using the columnize library.
func formatKV(in []string) string {
	columnConf := columnize.DefaultConfig()
	columnConf.Empty = "<none>"
	columnConf.Glue = " = "
	return columnize.Format(in, columnConf)
}

// formatList takes a set of strings and formats them into properly
// aligned output, replacing any blank fields with a placeholder
// for awk-ability.
func formatList(in []string) string {
	columnConf := columnize.DefaultConfig()
	columnConf.Empty = "<none>"
	return columnize.Format(in, columnConf)
}

// wrapAtLengthWithPadding wraps the given text at the maxLineLength, taking
// into account any provided left padding.
func wrapAtLengthWithPadding(s string, pad int) string {
	wrapped := text.Wrap(s, maxLineLength-pad)
	lines := strings.Split(wrapped, "\n")
	for i, line := range lines {
		lines[i] = strings.Repeat(" ", pad) + line
	}
	return strings.Join(lines, "\n")
}

// wrapAtLength wraps the given text to maxLineLength.
func wrapAtLength(s string) string {
	return wrapAtLengthWithPadding(s, 0)
}

// formatMB renders a size in MB the way humans read it, e.g. "64 GiB".
func formatMB(mb int64) string {
	if mb < 0 {
		return "-" + humanize.IBytes(uint64(-mb)<<20)
	}
	return humanize.IBytes(uint64(mb) << 20)
}

// formatBytes renders a size in bytes, e.g. "20 GiB".
func formatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

func formatPercent(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}

func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}

// commandErrorText is used to easily render the same messaging across
// commands when an error is printed.
func commandErrorText(cmd NamedCommand) string {
	return fmt.Sprintf("For additional help try 'deployplanner %s -help'", cmd.Name())
}

func mergeAutocompleteFlags(flags ...complete.Flags) complete.Flags {
	merged := make(map[string]complete.Predictor, len(flags))
	for _, f := range flags {
		for k, v := range f {
			merged[k] = v
		}
	}
	return merged
}

// loadConfig returns the defaults, merged with the file at path when set.
func loadConfig(path string) (*config.PlannerConfig, error) {
	if path == "" {
		return config.DefaultPlannerConfig(), nil
	}
	return config.LoadPlannerConfig(path)
}

// loadInventory decodes and converts the inventory file at path. The
// decoded file is returned as well since it may also hold requests.
func loadInventory(path string) (*structs.Inventory, *inventory.File, error) {
	f, err := inventory.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	inv, err := f.Inventory()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid inventory %s: %w", path, err)
	}
	return inv, f, nil
}

// loadRequests converts the requests of f, or of the file at path when
// path is set.
func loadRequests(f *inventory.File, path string) ([]*inventory.Request, error) {
	if path != "" {
		var err error
		if f, err = inventory.LoadFile(path); err != nil {
			return nil, err
		}
	}
	reqs, err := f.Requests()
	if err != nil {
		return nil, fmt.Errorf("invalid requests: %w", err)
	}
	return reqs, nil
}

// newLogger returns a logger writing through the UI's error stream.
func newLogger(ui cli.Ui, level string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "deployplanner",
		Level:  hclog.LevelFromString(level),
		Output: &uiErrorWriter{ui: ui},
	})
}

// uiErrorWriter is a io.Writer that wraps underlying ui.ErrorWriter().
// ui.ErrorWriter expects full lines as inputs and it emits its own line breaks.
//
// uiErrorWriter scans input for individual lines to pass to ui.ErrorWriter. If data
// doesn't contain a new line, it buffers result until next new line or writer is closed.
type uiErrorWriter struct {
	ui  cli.Ui
	buf bytes.Buffer
}

func (w *uiErrorWriter) Write(data []byte) (int, error) {
	read := 0
	for len(data) != 0 {
		a, token, err := bufio.ScanLines(data, false)
		if err != nil {
			return read, err
		}

		if a == 0 {
			r, err := w.buf.Write(data)
			return read + r, err
		}

		w.ui.Error(w.buf.String() + string(token))
		data = data[a:]
		w.buf.Reset()
		read += a
	}

	return read, nil
}

func (w *uiErrorWriter) Close() error {
	// emit what's remaining
	if w.buf.Len() != 0 {
		w.ui.Error(w.buf.String())
		w.buf.Reset()
	}
	return nil
}
