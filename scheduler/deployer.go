// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
	"github.com/vmplacement/deployplanner/helper/uuid"
	"github.com/vmplacement/deployplanner/placement/state"
	"github.com/vmplacement/deployplanner/placement/structs"
	"github.com/vmplacement/deployplanner/placement/structs/config"
)

var (
	// ErrInsufficientCapacity is returned when every candidate was ruled
	// out.
	ErrInsufficientCapacity = errors.New("insufficient capacity")

	// ErrUnrecognizedScope is returned when a capacity failure carries a
	// scope the exclude list cannot record. Retrying would loop forever.
	ErrUnrecognizedScope = errors.New("capacity failure with unrecognized scope")

	// ErrMaxAttempts is returned alongside ErrInsufficientCapacity when the
	// attempt limit was reached.
	ErrMaxAttempts = errors.New("maximum placement attempts reached")
)

// AttemptState is the state of a placement request.
type AttemptState uint8

const (
	AttemptSearching AttemptState = iota
	AttemptSucceeded
	AttemptExhausted
	AttemptFatal
)

func (s AttemptState) String() string {
	switch s {
	case AttemptSearching:
		return "searching"
	case AttemptSucceeded:
		return "succeeded"
	case AttemptExhausted:
		return "exhausted"
	case AttemptFatal:
		return "fatal"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// DeployResult describes how a placement request ended.
type DeployResult struct {
	State       AttemptState
	Destination *structs.DeployDestination

	// Exclude is the exclude list accumulated over every attempt
	Exclude *structs.ExcludeList

	// Attempts is the number of planning rounds run
	Attempts int

	// Planner is the name of the planner of the last round
	Planner string
	Usage   structs.PlannerResourceUsage

	// Metrics explains the last round
	Metrics *PlanMetric
}

// Deployer drives a placement request: it selects the planner, plans,
// folds retryable capacity failures into the exclude list and plans again
// until a destination is found, the candidates run out or a fatal error
// occurs. A Deployer may serve concurrent requests; each request gets its
// own evaluation context and exclude list.
type Deployer struct {
	logger    hclog.Logger
	state     State
	config    *config.PlannerConfig
	chain     *PlannerChain
	allocator Allocator
}

// NewDeployer returns a driver over the state. When s is a live
// *state.StateStore every round plans against a fresh snapshot of it.
func NewDeployer(logger hclog.Logger, s State, cfg *config.PlannerConfig, chain *PlannerChain, allocator Allocator) *Deployer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg == nil {
		cfg = config.DefaultPlannerConfig()
	}
	return &Deployer{
		logger:    logger.Named("deployer"),
		state:     s,
		config:    cfg,
		chain:     chain,
		allocator: allocator,
	}
}

func (d *Deployer) snapshot() State {
	if store, ok := d.state.(*state.StateStore); ok {
		return store.Snapshot()
	}
	return d.state
}

// Deploy finds a destination for the VM within the plan. The plan's exclude
// list is created when missing and grows with every retryable failure; it
// is returned in the result whatever the outcome. The returned error is
// nil only for AttemptSucceeded.
func (d *Deployer) Deploy(ctx context.Context, vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan) (result *DeployResult, err error) {
	defer metrics.MeasureSince([]string{"planner", "deploy"}, time.Now())

	avoid := plan.Avoids()
	if avoid == nil {
		avoid = structs.NewExcludeList()
		plan.SetAvoids(avoid)
	}

	logger := d.logger.With("vm_id", vm.ID, "attempt_id", uuid.Short())
	if rc := plan.ReservationContext(); rc != nil {
		logger = logger.With("reservation_id", rc.ID)
	}

	if timeout := d.config.AttemptTimeout; timeout != nil && *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	result = &DeployResult{State: AttemptSearching, Exclude: avoid}
	evalCtx := NewEvalContext(d.state, d.config, logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("planner panicked - please report this as a bug!", "error", r, "stack_trace", string(debug.Stack()))
			result.State = AttemptFatal
			result.Destination = nil
			err = fmt.Errorf("planner panicked: %v", r)
		}
		metrics.IncrCounterWithLabels([]string{"planner", "deploy", "outcome"}, 1,
			[]metrics.Label{{Name: "state", Value: result.State.String()}})
	}()

	maxAttempts := d.config.Attempts()
	for {
		if err := ctx.Err(); err != nil {
			logger.Warn("placement abandoned", "attempts", result.Attempts, "error", err)
			return d.finish(result, AttemptFatal, fmt.Errorf("placement abandoned: %w", err))
		}
		if maxAttempts > 0 && result.Attempts >= maxAttempts {
			logger.Debug("attempt limit reached", "attempts", result.Attempts, "exclude", avoid)
			return d.finish(result, AttemptExhausted, fmt.Errorf("%w: %w", ErrInsufficientCapacity, ErrMaxAttempts))
		}

		result.Attempts += 1
		metrics.IncrCounter([]string{"planner", "deploy", "attempt"}, 1)

		evalCtx.SetState(d.snapshot())
		evalCtx.Reset()
		start := time.Now()
		dest, err := d.attempt(evalCtx, vm, plan, avoid, result)
		evalCtx.Metrics().AllocationTime = time.Since(start)
		result.Metrics = evalCtx.Metrics().Copy()

		if err == nil {
			if dest == nil {
				logger.Debug("no destination left", "planner", result.Planner, "metrics", result.Metrics)
				return d.finish(result, AttemptExhausted, ErrInsufficientCapacity)
			}
			result.Destination = dest
			logger.Debug("placement found", "destination", dest, "attempts", result.Attempts)
			return d.finish(result, AttemptSucceeded, nil)
		}

		var capErr structs.CapacityError
		if !errors.As(err, &capErr) {
			logger.Error("placement failed", "planner", result.Planner, "error", err)
			return d.finish(result, AttemptFatal, err)
		}
		if !avoid.Add(capErr) {
			logger.Error("capacity failure cannot be excluded", "scope", capErr.Scope(), "error", err)
			return d.finish(result, AttemptFatal, fmt.Errorf("%w: %w", ErrUnrecognizedScope, err))
		}
		metrics.IncrCounterWithLabels([]string{"planner", "deploy", "excluded"}, 1,
			[]metrics.Label{{Name: "scope", Value: capErr.Scope().String()}})
		logger.Debug("excluding resource and retrying",
			"scope", capErr.Scope(), "resource_id", capErr.ResourceID(), "error", err)
	}
}

// attempt runs one planning round with the planner the chain selects.
func (d *Deployer) attempt(ctx *EvalContext, vm *structs.VirtualMachineProfile, plan structs.DeploymentPlan,
	avoid *structs.ExcludeList, result *DeployResult) (*structs.DeployDestination, error) {

	planner, err := d.chain.Select(vm, plan, avoid)
	if err != nil {
		return nil, err
	}
	result.Planner = planner.Name()

	switch p := planner.(type) {
	case ClusterPlanner:
		usage := p.ResourceUsage(vm, plan, avoid)
		result.Usage = usage
		clusters, err := p.OrderClusters(ctx, vm, plan, avoid)
		if err != nil {
			return nil, err
		}
		if len(clusters) == 0 {
			return nil, nil
		}
		return d.allocator.Allocate(ctx, vm, plan, avoid, clusters, usage)

	case DeploymentPlanner:
		result.Usage = structs.PlannerResourceUsageShared
		return p.Plan(ctx, vm, plan, avoid)

	default:
		return nil, fmt.Errorf("planner %q is neither a cluster nor a deployment planner", planner.Name())
	}
}

func (d *Deployer) finish(result *DeployResult, s AttemptState, err error) (*DeployResult, error) {
	result.State = s
	return result, err
}
