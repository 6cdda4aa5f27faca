// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"

	"github.com/vmplacement/deployplanner/helper/hcl"
)

// ParsePlannerConfig decodes HCL source into a PlannerConfig. Fields absent
// from the source are left unset so the result can be merged over the
// defaults.
func ParsePlannerConfig(src []byte, filename string) (*PlannerConfig, error) {
	var c PlannerConfig
	if diags := hcl.NewParser().Parse(src, &c, filename); diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, diags)
	}
	return &c, nil
}

// LoadPlannerConfig reads the HCL file at path, merges it over the
// defaults and validates the result.
func LoadPlannerConfig(path string) (*PlannerConfig, error) {
	var c PlannerConfig
	if err := hcl.NewParser().ParseFile(path, &c); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	merged := DefaultPlannerConfig().Merge(&c)
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("invalid planner config %s: %w", path, err)
	}
	return merged, nil
}
