// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shoenig/test/must"
	"github.com/vmplacement/deployplanner/ci"
	"github.com/vmplacement/deployplanner/helper/pointer"
)

func TestPlannerConfig_Defaults(t *testing.T) {
	ci.Parallel(t)

	c := DefaultPlannerConfig()
	must.NoError(t, c.Validate())
	must.True(t, c.ThresholdsEnabled())
	must.Eq(t, 0.85, c.CPUThreshold())
	must.Eq(t, 0.85, c.MemoryThreshold())
	must.Eq(t, AlgorithmRandom, c.Algorithm())
	must.Eq(t, CapacityTypeMemory, c.OrderCapacityType())
	must.Eq(t, 1.0, c.DispersionWeight())
	must.Eq(t, 10, c.Attempts())

	// The zero config falls back to the same values.
	var zero PlannerConfig
	must.True(t, zero.ThresholdsEnabled())
	must.Eq(t, 0.85, zero.CPUThreshold())
	must.Eq(t, AlgorithmRandom, zero.Algorithm())
	must.Eq(t, 10, zero.Attempts())
}

func TestPlannerConfig_Merge(t *testing.T) {
	ci.Parallel(t)

	base := DefaultPlannerConfig()
	override := &PlannerConfig{
		CPUDisableThreshold: pointer.Of(0.5),
		ThresholdEnabled:    pointer.Of(false),
		AllocationAlgorithm: AlgorithmFirstFit,
		RandomSeed:          pointer.Of(int64(42)),
		MaxAttempts:         pointer.Of(0),
	}

	merged := base.Merge(override)
	must.Eq(t, 0.5, merged.CPUThreshold())
	must.Eq(t, 0.85, merged.MemoryThreshold())
	must.False(t, merged.ThresholdsEnabled())
	must.Eq(t, AlgorithmFirstFit, merged.Algorithm())
	must.Eq(t, 42, *merged.RandomSeed)
	must.Eq(t, 0, merged.Attempts())
	must.Eq(t, DefaultAttemptTimeout, *merged.AttemptTimeout)

	// Merging never mutates either side.
	*override.CPUDisableThreshold = 0.1
	must.Eq(t, 0.5, merged.CPUThreshold())
	must.Eq(t, 0.85, base.CPUThreshold())
	must.Eq(t, AlgorithmRandom, base.Algorithm())

	must.Eq(t, base.CPUThreshold(), base.Merge(nil).CPUThreshold())
}

func TestPlannerConfig_Copy(t *testing.T) {
	ci.Parallel(t)

	c := DefaultPlannerConfig()
	cp := c.Copy()
	*cp.CPUDisableThreshold = 0.2
	*cp.AttemptTimeout = time.Second
	must.Eq(t, 0.85, c.CPUThreshold())
	must.Eq(t, DefaultAttemptTimeout, *c.AttemptTimeout)

	var nilConfig *PlannerConfig
	must.Nil(t, nilConfig.Copy())
}

func TestPlannerConfig_Validate(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name   string
		config *PlannerConfig
		errMsg string
	}{
		{
			name:   "threshold above one",
			config: &PlannerConfig{CPUDisableThreshold: pointer.Of(1.5)},
			errMsg: "cpu_disable_threshold must be between 0 and 1",
		},
		{
			name:   "negative memory threshold",
			config: &PlannerConfig{MemoryDisableThreshold: pointer.Of(-0.1)},
			errMsg: "memory_disable_threshold must be between 0 and 1",
		},
		{
			name:   "weight",
			config: &PlannerConfig{UserDispersionWeight: pointer.Of(2.0)},
			errMsg: "vm_user_dispersion_weight",
		},
		{
			name:   "algorithm",
			config: &PlannerConfig{AllocationAlgorithm: "bestfit"},
			errMsg: `invalid allocation algorithm "bestfit"`,
		},
		{
			name:   "capacity type",
			config: &PlannerConfig{CapacityTypeToOrderClusters: "disk"},
			errMsg: `invalid capacity type "disk"`,
		},
		{
			name:   "attempts",
			config: &PlannerConfig{MaxAttempts: pointer.Of(-1)},
			errMsg: "max_attempts must not be negative",
		},
		{
			name:   "timeout",
			config: &PlannerConfig{AttemptTimeout: pointer.Of(-time.Second)},
			errMsg: "attempt_timeout must not be negative",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			must.ErrorContains(t, tc.config.Validate(), tc.errMsg)
		})
	}

	t.Run("all errors reported", func(t *testing.T) {
		c := &PlannerConfig{
			CPUDisableThreshold: pointer.Of(2.0),
			AllocationAlgorithm: "bestfit",
		}
		err := c.Validate()
		must.ErrorContains(t, err, "2 errors occurred")
	})
}

func TestAllocationAlgorithm(t *testing.T) {
	ci.Parallel(t)

	for _, a := range AllocationAlgorithms {
		must.True(t, a.Valid())
	}
	must.False(t, AllocationAlgorithm("bestfit").Valid())
	must.True(t, AlgorithmRandom.IsRandom())
	must.True(t, AlgorithmUserConcentratedPodRandom.IsRandom())
	must.False(t, AlgorithmFirstFit.IsRandom())
}

func TestParsePlannerConfig(t *testing.T) {
	ci.Parallel(t)

	src := `
cpu_disable_threshold           = "80%"
memory_disable_threshold        = 0.9
threshold_enabled               = true
allocation_algorithm            = "userdispersing"
capacity_type_to_order_clusters = "cpu"
vm_user_dispersion_weight       = 0.5
random_seed                     = 7
max_attempts                    = 3
attempt_timeout                 = "5s"
log_level                       = "DEBUG"
`
	c, err := ParsePlannerConfig([]byte(src), "planner.hcl")
	must.NoError(t, err)
	must.Eq(t, 0.8, c.CPUThreshold())
	must.Eq(t, 0.9, c.MemoryThreshold())
	must.True(t, c.ThresholdsEnabled())
	must.Eq(t, AlgorithmUserDispersing, c.Algorithm())
	must.Eq(t, CapacityTypeCPU, c.OrderCapacityType())
	must.Eq(t, 0.5, c.DispersionWeight())
	must.Eq(t, 7, *c.RandomSeed)
	must.Eq(t, 3, c.Attempts())
	must.Eq(t, 5*time.Second, *c.AttemptTimeout)
	must.Eq(t, "DEBUG", c.LogLevel)

	_, err = ParsePlannerConfig([]byte(`max_attempts = "many"`), "bad.hcl")
	must.ErrorContains(t, err, "failed to parse bad.hcl")
}

func TestLoadPlannerConfig(t *testing.T) {
	ci.Parallel(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "planner.hcl")
	must.NoError(t, os.WriteFile(path, []byte(`allocation_algorithm = "firstfit"`), 0o644))

	c, err := LoadPlannerConfig(path)
	must.NoError(t, err)
	must.Eq(t, AlgorithmFirstFit, c.Algorithm())
	must.Eq(t, 0.85, c.CPUThreshold())

	must.NoError(t, os.WriteFile(path, []byte(`cpu_disable_threshold = 3`), 0o644))
	_, err = LoadPlannerConfig(path)
	must.ErrorContains(t, err, "cpu_disable_threshold must be between 0 and 1")
}
