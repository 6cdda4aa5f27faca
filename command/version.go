// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"github.com/hashicorp/cli"
	"github.com/vmplacement/deployplanner/version"
)

// VersionCommand is a Command implementation prints the version.
type VersionCommand struct {
	Version *version.VersionInfo
	Ui      cli.Ui
}

func (c *VersionCommand) Help() string {
	return "Usage: deployplanner version\n\n  Prints the deployplanner version."
}

func (c *VersionCommand) Name() string { return "version" }

func (c *VersionCommand) Run(_ []string) int {
	c.Ui.Output(c.Version.FullVersionNumber(true))
	if _, err := c.Version.Semver(); err != nil {
		c.Ui.Warn("Build carries a malformed version: " + err.Error())
	}
	return 0
}

func (c *VersionCommand) Synopsis() string {
	return "Prints the deployplanner version"
}
