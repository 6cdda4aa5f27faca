// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vmplacement/deployplanner/placement/structs"
)

var (
	// ErrNoPlanner is returned when no planner of a chain accepts the
	// request.
	ErrNoPlanner = errors.New("no planner can handle the request")

	// ErrPlannerConflict is returned when more than one planner of a chain
	// accepts the request.
	ErrPlannerConflict = errors.New("more than one planner can handle the request")
)

// Planner is the part common to every planner: a name and a fast, side
// effect free predicate telling whether it applies to a request.
type Planner interface {
	Name() string
	CanHandle(vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan, avoid *structs.ExcludeList) bool
}

// ClusterPlanner ranks candidate clusters and leaves host and storage
// selection to an Allocator.
type ClusterPlanner interface {
	Planner

	// OrderClusters returns the ids of the feasible clusters, most
	// preferred first. Identical inputs and capacity yield an identical
	// order.
	OrderClusters(ctx Context, vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan,
		avoid *structs.ExcludeList) ([]int64, error)

	// ResourceUsage classifies the tenancy of the clusters this planner
	// hands out.
	ResourceUsage(vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan,
		avoid *structs.ExcludeList) structs.PlannerResourceUsage
}

// DeploymentPlanner is the legacy single shot planner that ranks and
// allocates in one call. A nil destination with a nil error means no
// candidate is left.
type DeploymentPlanner interface {
	Planner

	Plan(ctx Context, vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan,
		avoid *structs.ExcludeList) (*structs.DeployDestination, error)
}

// PlannerChain is an ordered list of planners of which exactly one must
// accept any given request.
type PlannerChain struct {
	planners []Planner
}

// NewPlannerChain returns a chain over the planners, in order. Each
// planner must be a ClusterPlanner or a DeploymentPlanner.
func NewPlannerChain(planners ...Planner) (*PlannerChain, error) {
	for _, p := range planners {
		switch p.(type) {
		case ClusterPlanner, DeploymentPlanner:
		default:
			return nil, fmt.Errorf("planner %q is neither a cluster nor a deployment planner", p.Name())
		}
	}
	return &PlannerChain{planners: planners}, nil
}

// Planners returns the planners of the chain in order.
func (c *PlannerChain) Planners() []Planner {
	return c.planners
}

// Select returns the single planner accepting the request. It returns
// ErrNoPlanner when none does and ErrPlannerConflict, naming every
// match, when several do.
func (c *PlannerChain) Select(vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan,
	avoid *structs.ExcludeList) (Planner, error) {

	var matched []Planner
	for _, p := range c.planners {
		if p.CanHandle(vm, plan, avoid) {
			matched = append(matched, p)
		}
	}

	switch len(matched) {
	case 0:
		return nil, ErrNoPlanner
	case 1:
		return matched[0], nil
	default:
		names := make([]string, len(matched))
		for i, p := range matched {
			names[i] = p.Name()
		}
		return nil, fmt.Errorf("%w: %s", ErrPlannerConflict, strings.Join(names, ", "))
	}
}
