// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"flag"
	"os"

	"github.com/hashicorp/cli"
	colorable "github.com/mattn/go-colorable"
	"github.com/mitchellh/colorstring"
	"github.com/posener/complete"
	"golang.org/x/term"
)

// FlagSetFlags is an enum to define what flags are present in the
// default FlagSet returned by Meta.FlagSet.
type FlagSetFlags uint

const (
	FlagSetNone    FlagSetFlags = 0
	FlagSetColor   FlagSetFlags = 1 << iota
	FlagSetDefault              = FlagSetColor
)

// Meta contains the meta-options and functionality that nearly every
// command inherits.
type Meta struct {
	Ui cli.Ui

	// Whether to not-colorize output
	noColor bool

	// Whether to force colorized output
	forceColor bool
}

// FlagSet returns a FlagSet with the common flags that every command
// implements.
func (m *Meta) FlagSet(n string, fs FlagSetFlags) *flag.FlagSet {
	f := flag.NewFlagSet(n, flag.ContinueOnError)

	if fs&FlagSetColor != 0 {
		f.BoolVar(&m.noColor, "no-color", false, "")
		f.BoolVar(&m.forceColor, "force-color", false, "")
	}

	f.SetOutput(&uiErrorWriter{ui: m.Ui})

	return f
}

// AutocompleteFlags returns a set of flag completions for the given flag set.
func (m *Meta) AutocompleteFlags(fs FlagSetFlags) complete.Flags {
	if fs&FlagSetColor == 0 {
		return nil
	}

	return complete.Flags{
		"-no-color":    complete.PredictNothing,
		"-force-color": complete.PredictNothing,
	}
}

// Colorize returns a colorizer that is only enabled for colored UIs.
func (m *Meta) Colorize() *colorstring.Colorize {
	_, coloredUi := m.Ui.(*cli.ColoredUi)

	return &colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: !coloredUi || m.noColor,
		Reset:   true,
	}
}

// SetupUi picks the UI for the process from the color flags found in args
// and the environment.
func (m *Meta) SetupUi(args []string) {
	noColor := os.Getenv(EnvCLINoColor) != ""
	forceColor := os.Getenv(EnvCLIForceColor) != ""

	for _, arg := range args {
		// Check if color is set
		if arg == "-no-color" || arg == "--no-color" {
			noColor = true
		} else if arg == "-force-color" || arg == "--force-color" {
			forceColor = true
		}
	}

	m.Ui = &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      colorable.NewColorableStdout(),
		ErrorWriter: colorable.NewColorableStderr(),
	}

	// Only use colored UI if not disabled and stdout is a tty or colors are
	// forced.
	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	useColor := !noColor && (isTerminal || forceColor)
	if useColor {
		m.Ui = &cli.ColoredUi{
			ErrorColor: cli.UiColorRed,
			WarnColor:  cli.UiColorYellow,
			InfoColor:  cli.UiColorGreen,
			Ui:         m.Ui,
		}
	}
}

// generalOptionsUsage returns the help string for the global options.
func generalOptionsUsage() string {
	helpText := `
  -no-color
    Disables colored command output. Alternatively, DEPLOYPLANNER_CLI_NO_COLOR
    may be set. This option takes precedence over -force-color.

  -force-color
    Forces colored command output. This can be used in cases where the usual
    terminal detection fails. Alternatively, DEPLOYPLANNER_CLI_FORCE_COLOR may
    be set. This option has no effect if -no-color is also used.
`
	return helpText
}
