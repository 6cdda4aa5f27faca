// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/copystructure"
	"github.com/vmplacement/deployplanner/helper/pointer"
)

// AllocationAlgorithm selects how clusters and hosts are ordered once the
// capacity filters have run.
type AllocationAlgorithm string

const (
	// AlgorithmRandom shuffles candidates with the per-attempt seeded PRNG.
	AlgorithmRandom AllocationAlgorithm = "random"

	// AlgorithmFirstFit orders candidates by absolute free capacity.
	AlgorithmFirstFit AllocationAlgorithm = "firstfit"

	// AlgorithmUserDispersing prefers candidates running the fewest VMs of
	// the requesting account.
	AlgorithmUserDispersing AllocationAlgorithm = "userdispersing"

	// AlgorithmUserConcentratedPodRandom prefers pods already running VMs
	// of the account and shuffles clusters within each pod.
	AlgorithmUserConcentratedPodRandom AllocationAlgorithm = "userconcentratedpod_random"

	// AlgorithmUserConcentratedPodFirstFit prefers pods already running
	// VMs of the account and orders clusters within each pod by free
	// capacity.
	AlgorithmUserConcentratedPodFirstFit AllocationAlgorithm = "userconcentratedpod_firstfit"

	// AlgorithmFirstFitLeastConsumed orders candidates by the fraction of
	// their capacity already allocated.
	AlgorithmFirstFitLeastConsumed AllocationAlgorithm = "firstfitleastconsumed"
)

// AllocationAlgorithms lists every valid algorithm.
var AllocationAlgorithms = []AllocationAlgorithm{
	AlgorithmRandom,
	AlgorithmFirstFit,
	AlgorithmUserDispersing,
	AlgorithmUserConcentratedPodRandom,
	AlgorithmUserConcentratedPodFirstFit,
	AlgorithmFirstFitLeastConsumed,
}

// Valid returns whether a is a known algorithm.
func (a AllocationAlgorithm) Valid() bool {
	return slices.Contains(AllocationAlgorithms, a)
}

// IsRandom returns whether the algorithm shuffles candidates.
func (a AllocationAlgorithm) IsRandom() bool {
	return a == AlgorithmRandom || a == AlgorithmUserConcentratedPodRandom
}

// CapacityType is the resource used to order clusters by capacity.
type CapacityType string

const (
	CapacityTypeCPU    CapacityType = "cpu"
	CapacityTypeMemory CapacityType = "memory"
)

const (
	DefaultDisableThreshold      = 0.85
	DefaultUserDispersionWeight  = 1.0
	DefaultMaxAttempts           = 10
	DefaultAllocationAlgorithm   = AlgorithmRandom
	DefaultCapacityTypeToOrderBy = CapacityTypeMemory
	DefaultAttemptTimeout        = 30 * time.Second
)

// PlannerConfig holds the tunables that drive placement decisions. Pointer
// fields are optional in configuration files and fall back to the defaults
// through Merge.
type PlannerConfig struct {
	// CPUDisableThreshold and MemoryDisableThreshold are the allocated
	// capacity fractions beyond which a cluster receives no placements.
	CPUDisableThreshold    *float64 `hcl:"cpu_disable_threshold,optional"`
	MemoryDisableThreshold *float64 `hcl:"memory_disable_threshold,optional"`

	// ThresholdEnabled toggles the disable thresholds globally.
	ThresholdEnabled *bool `hcl:"threshold_enabled,optional"`

	AllocationAlgorithm AllocationAlgorithm `hcl:"allocation_algorithm,optional"`

	// CapacityTypeToOrderClusters is the resource firstfit style orderings
	// compare clusters by.
	CapacityTypeToOrderClusters CapacityType `hcl:"capacity_type_to_order_clusters,optional"`

	// UserDispersionWeight balances account VM count (1.0) against
	// allocated capacity (0.0) for the userdispersing algorithm.
	UserDispersionWeight *float64 `hcl:"vm_user_dispersion_weight,optional"`

	// RandomSeed makes random orderings reproducible when set.
	RandomSeed *int64 `hcl:"random_seed,optional"`

	// MaxAttempts bounds the fold-and-retry loop. Zero means unbounded.
	MaxAttempts *int `hcl:"max_attempts,optional"`

	// AttemptTimeout bounds the wall time of one placement request.
	AttemptTimeout *time.Duration `hcl:"attempt_timeout,optional"`

	LogLevel string `hcl:"log_level,optional"`
}

// DefaultPlannerConfig returns a configuration with every field set to
// its default.
func DefaultPlannerConfig() *PlannerConfig {
	cpu := DefaultDisableThreshold
	mem := DefaultDisableThreshold
	enabled := true
	weight := DefaultUserDispersionWeight
	attempts := DefaultMaxAttempts
	timeout := DefaultAttemptTimeout
	return &PlannerConfig{
		CPUDisableThreshold:         &cpu,
		MemoryDisableThreshold:      &mem,
		ThresholdEnabled:            &enabled,
		AllocationAlgorithm:         DefaultAllocationAlgorithm,
		CapacityTypeToOrderClusters: DefaultCapacityTypeToOrderBy,
		UserDispersionWeight:        &weight,
		MaxAttempts:                 &attempts,
		AttemptTimeout:              &timeout,
		LogLevel:                    "INFO",
	}
}

// Merge returns a new config with fields set in b taking precedence over
// those of c.
func (c *PlannerConfig) Merge(b *PlannerConfig) *PlannerConfig {
	result := c.Copy()
	if b == nil {
		return result
	}
	if b.CPUDisableThreshold != nil {
		result.CPUDisableThreshold = pointer.Copy(b.CPUDisableThreshold)
	}
	if b.MemoryDisableThreshold != nil {
		result.MemoryDisableThreshold = pointer.Copy(b.MemoryDisableThreshold)
	}
	if b.ThresholdEnabled != nil {
		result.ThresholdEnabled = pointer.Copy(b.ThresholdEnabled)
	}
	if b.AllocationAlgorithm != "" {
		result.AllocationAlgorithm = b.AllocationAlgorithm
	}
	if b.CapacityTypeToOrderClusters != "" {
		result.CapacityTypeToOrderClusters = b.CapacityTypeToOrderClusters
	}
	if b.UserDispersionWeight != nil {
		result.UserDispersionWeight = pointer.Copy(b.UserDispersionWeight)
	}
	if b.RandomSeed != nil {
		result.RandomSeed = pointer.Copy(b.RandomSeed)
	}
	if b.MaxAttempts != nil {
		result.MaxAttempts = pointer.Copy(b.MaxAttempts)
	}
	if b.AttemptTimeout != nil {
		result.AttemptTimeout = pointer.Copy(b.AttemptTimeout)
	}
	if b.LogLevel != "" {
		result.LogLevel = b.LogLevel
	}
	return result
}

// Copy returns a deep copy of the config.
func (c *PlannerConfig) Copy() *PlannerConfig {
	if c == nil {
		return nil
	}
	return copystructure.Must(copystructure.Copy(c)).(*PlannerConfig)
}

// Validate returns every problem found in the config.
func (c *PlannerConfig) Validate() error {
	var mErr multierror.Error
	checkFraction := func(name string, v *float64) {
		if v != nil && (*v < 0 || *v > 1) {
			mErr.Errors = append(mErr.Errors, fmt.Errorf("%s must be between 0 and 1, got %v", name, *v))
		}
	}
	checkFraction("cpu_disable_threshold", c.CPUDisableThreshold)
	checkFraction("memory_disable_threshold", c.MemoryDisableThreshold)
	checkFraction("vm_user_dispersion_weight", c.UserDispersionWeight)

	if c.AllocationAlgorithm != "" && !c.AllocationAlgorithm.Valid() {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid allocation algorithm %q", c.AllocationAlgorithm))
	}
	switch c.CapacityTypeToOrderClusters {
	case "", CapacityTypeCPU, CapacityTypeMemory:
	default:
		mErr.Errors = append(mErr.Errors, fmt.Errorf("invalid capacity type %q", c.CapacityTypeToOrderClusters))
	}
	if c.MaxAttempts != nil && *c.MaxAttempts < 0 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("max_attempts must not be negative"))
	}
	if c.AttemptTimeout != nil && *c.AttemptTimeout < 0 {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("attempt_timeout must not be negative"))
	}
	return mErr.ErrorOrNil()
}

// ThresholdsEnabled returns whether the disable thresholds apply.
func (c *PlannerConfig) ThresholdsEnabled() bool {
	return c.ThresholdEnabled == nil || *c.ThresholdEnabled
}

// CPUThreshold returns the global CPU disable threshold.
func (c *PlannerConfig) CPUThreshold() float64 {
	return pointer.ValueOr(c.CPUDisableThreshold, DefaultDisableThreshold)
}

// MemoryThreshold returns the global memory disable threshold.
func (c *PlannerConfig) MemoryThreshold() float64 {
	return pointer.ValueOr(c.MemoryDisableThreshold, DefaultDisableThreshold)
}

// Algorithm returns the configured algorithm or the default.
func (c *PlannerConfig) Algorithm() AllocationAlgorithm {
	if c.AllocationAlgorithm == "" {
		return DefaultAllocationAlgorithm
	}
	return c.AllocationAlgorithm
}

// OrderCapacityType returns the resource clusters are compared by.
func (c *PlannerConfig) OrderCapacityType() CapacityType {
	if c.CapacityTypeToOrderClusters == "" {
		return DefaultCapacityTypeToOrderBy
	}
	return c.CapacityTypeToOrderClusters
}

// DispersionWeight returns the userdispersing weight.
func (c *PlannerConfig) DispersionWeight() float64 {
	if c.UserDispersionWeight == nil {
		return DefaultUserDispersionWeight
	}
	return *c.UserDispersionWeight
}

// Attempts returns the retry bound, zero meaning unbounded.
func (c *PlannerConfig) Attempts() int {
	if c.MaxAttempts == nil {
		return DefaultMaxAttempts
	}
	return *c.MaxAttempts
}
