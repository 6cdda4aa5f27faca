// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shoenig/test/must"
	"github.com/vmplacement/deployplanner/ci"
	"github.com/vmplacement/deployplanner/helper/pointer"
	"github.com/vmplacement/deployplanner/helper/testlog"
	"github.com/vmplacement/deployplanner/placement/mock"
	"github.com/vmplacement/deployplanner/placement/state"
	"github.com/vmplacement/deployplanner/placement/structs"
	"github.com/vmplacement/deployplanner/placement/structs/config"
	"golang.org/x/sync/errgroup"
)

// scriptedPlanner is a legacy planner that replays one step per call.
// A step is either an error to return or, when nil, a success.
type scriptedPlanner struct {
	name  string
	steps []func() error
	calls int
	dest  *structs.DeployDestination
}

func (p *scriptedPlanner) Name() string { return p.name }

func (p *scriptedPlanner) CanHandle(*structs.VirtualMachineProfile, structs.DeploymentPlan, *structs.ExcludeList) bool {
	return true
}

func (p *scriptedPlanner) Plan(Context, *structs.VirtualMachineProfile, structs.DeploymentPlan,
	*structs.ExcludeList) (*structs.DeployDestination, error) {

	step := p.steps[min(p.calls, len(p.steps)-1)]
	p.calls++
	if step == nil {
		return p.dest, nil
	}
	return nil, step()
}

func hostFailure(id int64) func() error {
	return func() error {
		return structs.NewInsufficientCapacityError(structs.ScopeHost, id, "host full")
	}
}

func testDestination(t *testing.T) *structs.DeployDestination {
	inv := mock.Inventory()
	c := invCluster(inv, 1)
	dest, err := structs.NewDeployDestination(inv.DataCenters[0], inv.Pods[0], c, invHost(inv, 11), nil)
	must.NoError(t, err)
	return dest
}

func testDeployer(t *testing.T, store *state.StateStore, cfg *config.PlannerConfig, planners ...Planner) *Deployer {
	if cfg == nil {
		cfg = testConfig(config.AlgorithmFirstFit)
	}
	if len(planners) == 0 {
		planners = DefaultPlanners(cfg, store)
	}
	chain, err := NewPlannerChain(planners...)
	must.NoError(t, err)
	logger := testlog.HCLogger(t)
	return NewDeployer(logger, store, cfg, chain, NewHostAllocator(logger, store))
}

func TestDeployer_Deploy(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	state.TestUpsertInventory(t, store, mock.Inventory())
	d := testDeployer(t, store, nil)
	vm := mock.VM(1)

	result, err := d.Deploy(context.Background(), vm, structs.NewDataCenterDeployment(1))
	must.NoError(t, err)
	must.Eq(t, AttemptSucceeded, result.State)
	must.Eq(t, 1, result.Attempts)
	must.Eq(t, "FirstFitPlanner", result.Planner)
	must.Eq(t, structs.PlannerResourceUsageShared, result.Usage)
	must.Eq(t, 11, result.Destination.Host.ID)
	must.True(t, result.Exclude.Empty())
	must.Eq(t, 3, result.Metrics.ClustersEvaluated)

	host, err := store.HostByID(11)
	must.NoError(t, err)
	must.Eq(t, vm.CPUMHz, host.CPUUsedMHz)
}

// TestDeployer_FoldHostFailures checks that two host scoped failures end
// up in the exclude list, and nothing else does, before the third round
// succeeds.
func TestDeployer_FoldHostFailures(t *testing.T) {
	ci.Parallel(t)

	planner := &scriptedPlanner{
		name:  "Scripted",
		steps: []func() error{hostFailure(10), hostFailure(11), nil},
		dest:  testDestination(t),
	}
	d := testDeployer(t, state.TestStateStore(t), nil, planner)
	plan := structs.NewDataCenterDeployment(1)

	result, err := d.Deploy(context.Background(), mock.VM(1), plan)
	must.NoError(t, err)
	must.Eq(t, AttemptSucceeded, result.State)
	must.Eq(t, 3, result.Attempts)
	must.Eq(t, []int64{10, 11}, result.Exclude.HostsToAvoid())
	must.SliceEmpty(t, result.Exclude.ClustersToAvoid())
	must.SliceEmpty(t, result.Exclude.PodsToAvoid())
	must.SliceEmpty(t, result.Exclude.DataCentersToAvoid())
	must.SliceEmpty(t, result.Exclude.PoolsToAvoid())
	must.True(t, plan.Avoids() == result.Exclude)
	must.True(t, planner.dest.Equal(result.Destination))
}

func TestDeployer_CallerExcludeList(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	state.TestUpsertInventory(t, store, mock.Inventory())
	d := testDeployer(t, store, nil)

	avoid := structs.NewExcludeList()
	avoid.AddCluster(1)
	plan := structs.NewDeployment(1, structs.WithPod(1))
	plan.SetAvoids(avoid)

	result, err := d.Deploy(context.Background(), mock.VM(1), plan)
	must.NoError(t, err)
	must.Eq(t, 2, result.Destination.Cluster.ID)
	must.True(t, avoid == result.Exclude)
	must.Eq(t, []int64{1}, avoid.ClustersToAvoid())
}

func TestDeployer_Exhausted(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	state.TestUpsertInventory(t, store, thresholdInventory())
	d := testDeployer(t, store, nil)

	plan := structs.NewDeployment(1, structs.WithPod(1))
	plan.SetAvoids(structs.NewExcludeList())
	plan.Avoids().AddCluster(1)

	result, err := d.Deploy(context.Background(), mock.VM(1), plan)
	must.ErrorIs(t, err, ErrInsufficientCapacity)
	must.Eq(t, AttemptExhausted, result.State)
	must.Eq(t, 1, result.Attempts)
	must.Nil(t, result.Destination)
	must.Eq(t, 1, result.Metrics.ClusterFilterReasons[FilterCPUThreshold])
}

func TestDeployer_ExhaustedAfterRetries(t *testing.T) {
	ci.Parallel(t)

	planner := &scriptedPlanner{
		name:  "Scripted",
		steps: []func() error{hostFailure(1), hostFailure(2), nil},
	}
	d := testDeployer(t, state.TestStateStore(t), nil, planner)

	result, err := d.Deploy(context.Background(), mock.VM(1), structs.NewDataCenterDeployment(1))
	must.ErrorIs(t, err, ErrInsufficientCapacity)
	must.Eq(t, AttemptExhausted, result.State)
	must.Eq(t, 3, result.Attempts)
	must.Eq(t, []int64{1, 2}, result.Exclude.HostsToAvoid())
}

func TestDeployer_MaxAttempts(t *testing.T) {
	ci.Parallel(t)

	var next int64
	planner := &scriptedPlanner{
		name: "Scripted",
		steps: []func() error{func() error {
			return hostFailure(atomic.AddInt64(&next, 1))()
		}},
	}
	cfg := testConfig(config.AlgorithmFirstFit)
	cfg.MaxAttempts = pointer.Of(3)
	d := testDeployer(t, state.TestStateStore(t), cfg, planner)

	result, err := d.Deploy(context.Background(), mock.VM(1), structs.NewDataCenterDeployment(1))
	must.ErrorIs(t, err, ErrInsufficientCapacity)
	must.ErrorIs(t, err, ErrMaxAttempts)
	must.Eq(t, AttemptExhausted, result.State)
	must.Eq(t, 3, result.Attempts)
	must.Eq(t, []int64{1, 2, 3}, result.Exclude.HostsToAvoid())
}

func TestDeployer_Fatal(t *testing.T) {
	ci.Parallel(t)

	boom := errors.New("boom")
	cases := []struct {
		name    string
		step    func() error
		is      error
		contain string
	}{
		{
			name: "unrecognized scope",
			step: func() error {
				return structs.NewInsufficientCapacityError(structs.ScopeNone, 4, "who knows")
			},
			is: ErrUnrecognizedScope,
		},
		{
			name: "other error",
			step: func() error { return boom },
			is:   boom,
		},
		{
			name:    "panic",
			step:    func() error { panic("planner bug") },
			contain: "planner panicked: planner bug",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			planner := &scriptedPlanner{name: "Scripted", steps: []func() error{tc.step}}
			d := testDeployer(t, state.TestStateStore(t), nil, planner)

			result, err := d.Deploy(context.Background(), mock.VM(1), structs.NewDataCenterDeployment(1))
			if tc.is != nil {
				must.ErrorIs(t, err, tc.is)
			}
			if tc.contain != "" {
				must.ErrorContains(t, err, tc.contain)
			}
			must.Eq(t, AttemptFatal, result.State)
			must.Eq(t, 1, result.Attempts)
			must.Nil(t, result.Destination)
			must.True(t, result.Exclude.Empty())
		})
	}
}

func TestDeployer_PlannerSelection(t *testing.T) {
	ci.Parallel(t)

	a := &scriptedPlanner{name: "A", steps: []func() error{nil}}
	b := &scriptedPlanner{name: "B", steps: []func() error{nil}}
	d := testDeployer(t, state.TestStateStore(t), nil, a, b)
	result, err := d.Deploy(context.Background(), mock.VM(1), structs.NewDataCenterDeployment(1))
	must.ErrorIs(t, err, ErrPlannerConflict)
	must.Eq(t, AttemptFatal, result.State)

	d = testDeployer(t, state.TestStateStore(t), nil, NewBareMetalPlanner(nil))
	result, err = d.Deploy(context.Background(), mock.VM(1), structs.NewDataCenterDeployment(1))
	must.ErrorIs(t, err, ErrNoPlanner)
	must.Eq(t, AttemptFatal, result.State)
}

func TestDeployer_Context(t *testing.T) {
	ci.Parallel(t)

	t.Run("canceled", func(t *testing.T) {
		planner := &scriptedPlanner{name: "Scripted", steps: []func() error{nil}}
		d := testDeployer(t, state.TestStateStore(t), nil, planner)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result, err := d.Deploy(ctx, mock.VM(1), structs.NewDataCenterDeployment(1))
		must.ErrorIs(t, err, context.Canceled)
		must.Eq(t, AttemptFatal, result.State)
		must.Zero(t, result.Attempts)
		must.Zero(t, planner.calls)
	})

	t.Run("attempt timeout", func(t *testing.T) {
		planner := &scriptedPlanner{
			name: "Scripted",
			steps: []func() error{func() error {
				time.Sleep(20 * time.Millisecond)
				return hostFailure(1)()
			}},
		}
		cfg := testConfig(config.AlgorithmFirstFit)
		cfg.MaxAttempts = pointer.Of(0)
		cfg.AttemptTimeout = pointer.Of(50 * time.Millisecond)
		d := testDeployer(t, state.TestStateStore(t), cfg, planner)

		result, err := d.Deploy(context.Background(), mock.VM(1), structs.NewDataCenterDeployment(1))
		must.ErrorIs(t, err, context.DeadlineExceeded)
		must.Eq(t, AttemptFatal, result.State)
		must.Positive(t, result.Attempts)
	})
}

func TestDeployer_ReservationRace(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	state.TestUpsertInventory(t, store, mock.Inventory())
	cfg := testConfig(config.AlgorithmFirstFit)
	chain, err := NewPlannerChain(DefaultPlanners(cfg, store)...)
	must.NoError(t, err)
	reserver := &failingReserver{fails: 1, next: store}
	logger := testlog.HCLogger(t)
	d := NewDeployer(logger, store, cfg, chain, NewHostAllocator(logger, reserver))

	result, err := d.Deploy(context.Background(), mock.VM(1), structs.NewDeployment(1, structs.WithCluster(1)))
	must.NoError(t, err)
	must.Eq(t, 2, result.Attempts)
	must.Eq(t, 12, result.Destination.Host.ID)
	must.Eq(t, []int64{11}, result.Exclude.HostsToAvoid())
	must.Eq(t, []int64{11, 12}, reserver.attempts)
}

func TestDeployer_DedicatedHostTenancy(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	state.TestUpsertInventory(t, store, mock.Inventory())
	d := testDeployer(t, store, nil)
	plan := func() structs.DeploymentPlan { return structs.NewDeployment(1, structs.WithCluster(1)) }

	dedicated := mock.VM(1)
	dedicated.AccountID = "acct-a"
	dedicated.ImplicitDedication = true
	result, err := d.Deploy(context.Background(), dedicated, plan())
	must.NoError(t, err)
	must.Eq(t, "ImplicitDedicationPlanner", result.Planner)
	must.Eq(t, structs.PlannerResourceUsageDedicated, result.Usage)
	must.Eq(t, 11, result.Destination.Host.ID)

	// Another account's shared VM must not join the dedicated host even
	// though it is first in cluster order.
	shared := mock.VM(2)
	shared.AccountID = "acct-b"
	result, err = d.Deploy(context.Background(), shared, plan())
	must.NoError(t, err)
	must.Eq(t, structs.PlannerResourceUsageShared, result.Usage)
	must.Eq(t, 12, result.Destination.Host.ID)

	// The same account may keep using its dedicated host.
	again := mock.VM(3)
	again.AccountID = "acct-a"
	result, err = d.Deploy(context.Background(), again, plan())
	must.NoError(t, err)
	must.Eq(t, 11, result.Destination.Host.ID)

	// No host in the cluster is free for a third account's dedicated VM.
	other := mock.VM(4)
	other.AccountID = "acct-c"
	other.ImplicitDedication = true
	result, err = d.Deploy(context.Background(), other, plan())
	must.ErrorIs(t, err, ErrInsufficientCapacity)
	must.Eq(t, AttemptExhausted, result.State)
}

func TestDeployer_Concurrent(t *testing.T) {
	ci.Parallel(t)

	store := state.TestStateStore(t)
	state.TestUpsertInventory(t, store, mock.Inventory())
	cfg := testConfig(config.AlgorithmRandom)
	cfg.ThresholdEnabled = pointer.Of(false)
	d := testDeployer(t, store, cfg)

	// cluster1 has room for exactly four of these
	const requests = 8
	results := make([]*DeployResult, requests)
	var g errgroup.Group
	for i := 0; i < requests; i++ {
		g.Go(func() error {
			vm := mock.VM(int64(i + 1))
			vm.CPUMHz = 8000
			results[i], _ = d.Deploy(context.Background(), vm, structs.NewDeployment(1, structs.WithCluster(1)))
			return nil
		})
	}
	must.NoError(t, g.Wait())

	succeeded := 0
	for _, r := range results {
		switch r.State {
		case AttemptSucceeded:
			succeeded++
		case AttemptExhausted:
		default:
			t.Fatalf("unexpected state %s", r.State)
		}
	}
	must.Eq(t, 4, succeeded)

	for _, id := range []int64{11, 12} {
		host, err := store.HostByID(id)
		must.NoError(t, err)
		must.Eq(t, 16000, host.CPUUsedMHz)
	}
}

func TestAttemptState_String(t *testing.T) {
	ci.Parallel(t)

	must.Eq(t, "searching", AttemptSearching.String())
	must.Eq(t, "succeeded", AttemptSucceeded.String())
	must.Eq(t, "exhausted", AttemptExhausted.String())
	must.Eq(t, "fatal", AttemptFatal.String())
	must.Eq(t, "unknown(9)", AttemptState(9).String())
}
