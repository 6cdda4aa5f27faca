// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package version

import (
	"fmt"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
)

var (
	// BuildDate is the time of the git commit used to build the program,
	// in RFC3339 format. It is filled in by the linker.
	BuildDate string

	// GitCommit is the git commit that was compiled, filled in by the
	// linker.
	GitCommit   string
	GitDescribe string

	// Version is the main version number that is being run at the moment.
	Version = "0.3.0"

	// VersionPrerelease marks a pre-release such as "dev", "beta" or "rc1".
	// Empty for final releases.
	VersionPrerelease = "dev"

	// VersionMetadata is metadata further describing the build type.
	VersionMetadata = ""
)

// VersionInfo describes the running build.
type VersionInfo struct {
	BuildDate         time.Time
	Revision          string
	Version           string
	VersionPrerelease string
	VersionMetadata   string
}

func GetVersion() *VersionInfo {
	ver := Version
	rel := VersionPrerelease
	if GitDescribe != "" {
		ver = strings.TrimPrefix(GitDescribe, "v")
	}

	// on parse error, will be zero value time.Time{}
	built, _ := time.Parse(time.RFC3339, BuildDate)

	return &VersionInfo{
		BuildDate:         built,
		Revision:          GitCommit,
		Version:           ver,
		VersionPrerelease: rel,
		VersionMetadata:   VersionMetadata,
	}
}

// VersionNumber returns the version with its pre-release and metadata
// suffixes, e.g. 0.3.0-dev+ent.
func (c *VersionInfo) VersionNumber() string {
	version := c.Version
	if c.VersionPrerelease != "" {
		version = fmt.Sprintf("%s-%s", version, c.VersionPrerelease)
	}
	if c.VersionMetadata != "" {
		version = fmt.Sprintf("%s+%s", version, c.VersionMetadata)
	}
	return version
}

// Semver parses VersionNumber, failing when the build was stamped with a
// malformed version.
func (c *VersionInfo) Semver() (*goversion.Version, error) {
	return goversion.NewSemver(c.VersionNumber())
}

// FullVersionNumber returns the human readable version banner.
func (c *VersionInfo) FullVersionNumber(rev bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "deployplanner v%s", c.VersionNumber())
	if !c.BuildDate.IsZero() {
		fmt.Fprintf(&b, "\nBuildDate %s", c.BuildDate.Format(time.RFC3339))
	}
	if rev && c.Revision != "" {
		fmt.Fprintf(&b, "\nRevision %s", c.Revision)
	}
	return b.String()
}
