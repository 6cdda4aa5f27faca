// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"fmt"
	"math"
)

// HostPriorityAdjustment is a request to change how strongly a plan
// prefers a host across retries.
type HostPriorityAdjustment uint8

const (
	HostPriorityDefault HostPriorityAdjustment = iota
	HostPriorityHigher
	HostPriorityLower
	HostPriorityProhibit
)

func (a HostPriorityAdjustment) String() string {
	switch a {
	case HostPriorityDefault:
		return "default"
	case HostPriorityHigher:
		return "higher"
	case HostPriorityLower:
		return "lower"
	case HostPriorityProhibit:
		return "prohibit"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

const (
	// HostPriorityStep is how much a single Higher or Lower adjustment
	// moves a host's bias.
	HostPriorityStep = 1

	// HostPriorityProhibited is the value reported by HostPriority.Value
	// for prohibited hosts.
	HostPriorityProhibited = math.MinInt32
)

// HostPriority is the plan-local bias of one host: either a signed bias
// (zero by default) or prohibited. Prohibition only hides the host from
// this plan and is never recorded in the ExcludeList.
type HostPriority struct {
	bias       int
	prohibited bool
}

// Biased returns a priority with the given bias.
func Biased(bias int) HostPriority {
	return HostPriority{bias: bias}
}

// Prohibited returns the prohibited priority.
func Prohibited() HostPriority {
	return HostPriority{prohibited: true}
}

func (p HostPriority) Bias() int          { return p.bias }
func (p HostPriority) IsProhibited() bool { return p.prohibited }

// Value flattens the priority into a single integer, using
// HostPriorityProhibited for prohibited hosts.
func (p HostPriority) Value() int {
	if p.prohibited {
		return HostPriorityProhibited
	}
	return p.bias
}

// Adjust applies an adjustment and returns the resulting priority. Once a
// host is prohibited only HostPriorityDefault brings it back; Higher and
// Lower leave it prohibited.
func (p HostPriority) Adjust(adj HostPriorityAdjustment) HostPriority {
	switch adj {
	case HostPriorityDefault:
		return HostPriority{}
	case HostPriorityProhibit:
		return Prohibited()
	case HostPriorityHigher:
		if p.prohibited {
			return p
		}
		return Biased(p.bias + HostPriorityStep)
	case HostPriorityLower:
		if p.prohibited {
			return p
		}
		return Biased(p.bias - HostPriorityStep)
	default:
		return p
	}
}

// Equal returns whether both priorities are in the same state.
func (p HostPriority) Equal(o HostPriority) bool {
	return p == o
}

func (p HostPriority) String() string {
	if p.prohibited {
		return "prohibited"
	}
	return fmt.Sprintf("%+d", p.bias)
}
