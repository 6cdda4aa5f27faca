// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"testing"

	"github.com/shoenig/test/must"
	"github.com/vmplacement/deployplanner/ci"
)

func TestDataCenterDeployment_Pins(t *testing.T) {
	ci.Parallel(t)

	plan := NewDataCenterDeployment(1)
	must.Eq(t, 1, plan.DataCenterID())
	must.Nil(t, plan.PodID())
	must.Nil(t, plan.ClusterID())
	must.Nil(t, plan.HostID())
	must.Nil(t, plan.PoolID())
	must.Nil(t, plan.PhysicalNetworkID())
	must.False(t, plan.MigrationPlan())
	must.Eq(t, "Plan[dc=1]", plan.String())

	rc := &ReservationContext{ID: "r1", AccountID: "acct"}
	plan = NewDeployment(1, WithPod(2), WithCluster(3), WithHost(4), WithPool(5),
		WithPhysicalNetwork(6), WithReservation(rc), WithMigration())
	must.Eq(t, 2, *plan.PodID())
	must.Eq(t, 3, *plan.ClusterID())
	must.Eq(t, 4, *plan.HostID())
	must.Eq(t, 5, *plan.PoolID())
	must.Eq(t, 6, *plan.PhysicalNetworkID())
	must.True(t, plan.MigrationPlan())
	must.Eq(t, rc, plan.ReservationContext())
	must.Eq(t, "Plan[dc=1 pod=2 cluster=3 host=4 pool=5 physical_network=6 migration]", plan.String())
}

func TestDataCenterDeployment_PreferredHostsReplaced(t *testing.T) {
	ci.Parallel(t)

	plan := NewDataCenterDeployment(1)
	plan.SetPreferredHosts([]int64{3, 1})
	plan.SetPreferredHosts([]int64{2})
	must.Eq(t, []int64{2}, plan.PreferredHosts())

	// Callers cannot mutate the plan through the returned slice.
	got := plan.PreferredHosts()
	got[0] = 9
	must.Eq(t, []int64{2}, plan.PreferredHosts())
}

func TestDataCenterDeployment_Avoids(t *testing.T) {
	ci.Parallel(t)

	plan := NewDataCenterDeployment(1)
	must.Nil(t, plan.Avoids())

	avoid := NewExcludeList()
	plan.SetAvoids(avoid)
	avoid.AddHost(4)
	must.Eq(t, []int64{4}, plan.Avoids().HostsToAvoid())

	// Copies share the caller owned exclude list.
	cp := plan.Copy()
	avoid.AddHost(5)
	must.Eq(t, []int64{4, 5}, cp.Avoids().HostsToAvoid())
}

func TestDataCenterDeployment_HostPriorities(t *testing.T) {
	ci.Parallel(t)

	plan := NewDataCenterDeployment(1)
	plan.AdjustHostPriority(1, HostPriorityHigher)
	plan.AdjustHostPriority(1, HostPriorityHigher)
	plan.AdjustHostPriority(2, HostPriorityLower)
	plan.AdjustHostPriority(3, HostPriorityProhibit)

	must.Eq(t, Biased(2), plan.HostPriority(1))
	must.Eq(t, Biased(-1), plan.HostPriority(2))
	must.True(t, plan.HostPriority(3).IsProhibited())
	must.Eq(t, Biased(0), plan.HostPriority(4))
	must.MapLen(t, 3, plan.HostPriorities())

	// Returning to the default removes the entry.
	plan.AdjustHostPriority(2, HostPriorityHigher)
	must.MapLen(t, 2, plan.HostPriorities())

	// The returned map is a copy.
	prios := plan.HostPriorities()
	delete(prios, 1)
	must.Eq(t, Biased(2), plan.HostPriority(1))

	// Copies have independent priorities.
	cp := plan.Copy()
	cp.AdjustHostPriority(1, HostPriorityDefault)
	must.Eq(t, Biased(2), plan.HostPriority(1))
	must.Eq(t, Biased(0), cp.HostPriority(1))
}
