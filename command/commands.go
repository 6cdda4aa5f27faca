// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"os"

	"github.com/hashicorp/cli"
	colorable "github.com/mattn/go-colorable"
	"github.com/vmplacement/deployplanner/version"
)

const (
	// EnvCLINoColor is an env var that toggles colored UI output.
	EnvCLINoColor = `DEPLOYPLANNER_CLI_NO_COLOR`

	// EnvCLIForceColor is an env var that forces colored UI output.
	EnvCLIForceColor = `DEPLOYPLANNER_CLI_FORCE_COLOR`
)

// NamedCommand is a interface to denote a commmand's name.
type NamedCommand interface {
	Name() string
}

// Commands returns the mapping of CLI commands. The meta parameter lets
// you set meta options for all commands.
func Commands(metaPtr *Meta) map[string]cli.CommandFactory {
	if metaPtr == nil {
		metaPtr = new(Meta)
	}

	meta := *metaPtr
	if meta.Ui == nil {
		meta.Ui = &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      colorable.NewColorableStdout(),
			ErrorWriter: colorable.NewColorableStderr(),
		}
	}

	all := map[string]cli.CommandFactory{
		"inventory": func() (cli.Command, error) {
			return &InventoryCommand{
				Meta: meta,
			}, nil
		},
		"plan": func() (cli.Command, error) {
			return &PlanCommand{
				Meta: meta,
			}, nil
		},
		"validate": func() (cli.Command, error) {
			return &ValidateCommand{
				Meta: meta,
			}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{
				Version: version.GetVersion(),
				Ui:      meta.Ui,
			}, nil
		},
	}

	return all
}
