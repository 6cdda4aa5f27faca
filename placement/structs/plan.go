// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/vmplacement/deployplanner/helper/pointer"
)

// PlannerResourceUsage describes the tenancy model of the clusters a
// planner hands out.
type PlannerResourceUsage string

const (
	PlannerResourceUsageShared    PlannerResourceUsage = "Shared"
	PlannerResourceUsageDedicated PlannerResourceUsage = "Dedicated"
)

// ReservationContext is opaque caller context carried through planning
// untouched, typically used for auditing a reservation.
type ReservationContext struct {
	ID        string
	AccountID string
	Caller    string
}

// DeploymentPlan describes where a VM may be deployed. Only the data
// center is mandatory; every other pin is optional and narrows the search
// to that resource when set.
type DeploymentPlan interface {
	DataCenterID() int64
	PodID() *int64
	ClusterID() *int64
	HostID() *int64
	PoolID() *int64
	PhysicalNetworkID() *int64

	ReservationContext() *ReservationContext

	// Avoids is the exclude list attached to the plan. It is owned by the
	// caller driving the placement request.
	Avoids() *ExcludeList
	SetAvoids(*ExcludeList)

	// PreferredHosts is an ordered hint, not a constraint.
	PreferredHosts() []int64
	SetPreferredHosts([]int64)

	MigrationPlan() bool

	AdjustHostPriority(hostID int64, adj HostPriorityAdjustment)
	HostPriority(hostID int64) HostPriority
	HostPriorities() map[int64]HostPriority
}

// DataCenterDeployment is the concrete DeploymentPlan.
type DataCenterDeployment struct {
	dataCenterID      int64
	podID             *int64
	clusterID         *int64
	hostID            *int64
	poolID            *int64
	physicalNetworkID *int64

	reservation *ReservationContext
	avoids      *ExcludeList

	preferredHosts []int64
	migration      bool

	priorities map[int64]HostPriority
}

// NewDataCenterDeployment returns a plan scoped to the data center with
// nothing else pinned.
func NewDataCenterDeployment(dataCenterID int64) *DataCenterDeployment {
	return &DataCenterDeployment{
		dataCenterID: dataCenterID,
	}
}

// PlanOption is used to pin optional parts of a DataCenterDeployment.
type PlanOption func(*DataCenterDeployment)

func WithPod(id int64) PlanOption     { return func(d *DataCenterDeployment) { d.podID = &id } }
func WithCluster(id int64) PlanOption { return func(d *DataCenterDeployment) { d.clusterID = &id } }
func WithHost(id int64) PlanOption    { return func(d *DataCenterDeployment) { d.hostID = &id } }
func WithPool(id int64) PlanOption    { return func(d *DataCenterDeployment) { d.poolID = &id } }

func WithPhysicalNetwork(id int64) PlanOption {
	return func(d *DataCenterDeployment) { d.physicalNetworkID = &id }
}

func WithReservation(rc *ReservationContext) PlanOption {
	return func(d *DataCenterDeployment) { d.reservation = rc }
}

// WithMigration marks the plan as relocating a running VM.
func WithMigration() PlanOption {
	return func(d *DataCenterDeployment) { d.migration = true }
}

// NewDeployment returns a plan for the data center with the given pins.
func NewDeployment(dataCenterID int64, opts ...PlanOption) *DataCenterDeployment {
	d := NewDataCenterDeployment(dataCenterID)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *DataCenterDeployment) DataCenterID() int64       { return d.dataCenterID }
func (d *DataCenterDeployment) PodID() *int64             { return d.podID }
func (d *DataCenterDeployment) ClusterID() *int64         { return d.clusterID }
func (d *DataCenterDeployment) HostID() *int64            { return d.hostID }
func (d *DataCenterDeployment) PoolID() *int64            { return d.poolID }
func (d *DataCenterDeployment) PhysicalNetworkID() *int64 { return d.physicalNetworkID }
func (d *DataCenterDeployment) MigrationPlan() bool       { return d.migration }

func (d *DataCenterDeployment) ReservationContext() *ReservationContext {
	return d.reservation
}

func (d *DataCenterDeployment) Avoids() *ExcludeList     { return d.avoids }
func (d *DataCenterDeployment) SetAvoids(e *ExcludeList) { d.avoids = e }

func (d *DataCenterDeployment) PreferredHosts() []int64 {
	return slices.Clone(d.preferredHosts)
}

// SetPreferredHosts replaces the preferred host list; it never merges with
// a previous list.
func (d *DataCenterDeployment) SetPreferredHosts(ids []int64) {
	d.preferredHosts = slices.Clone(ids)
}

// AdjustHostPriority moves the host's priority according to adj.
func (d *DataCenterDeployment) AdjustHostPriority(hostID int64, adj HostPriorityAdjustment) {
	if d.priorities == nil {
		d.priorities = make(map[int64]HostPriority)
	}
	next := d.priorities[hostID].Adjust(adj)
	if next == (HostPriority{}) {
		delete(d.priorities, hostID)
		return
	}
	d.priorities[hostID] = next
}

// HostPriority returns the host's priority, the zero bias if it was never
// adjusted.
func (d *DataCenterDeployment) HostPriority(hostID int64) HostPriority {
	return d.priorities[hostID]
}

// HostPriorities returns a copy of every non-default host priority.
func (d *DataCenterDeployment) HostPriorities() map[int64]HostPriority {
	if len(d.priorities) == 0 {
		return map[int64]HostPriority{}
	}
	return maps.Clone(d.priorities)
}

// Copy returns a copy of the plan. The attached exclude list is shared, not
// copied, because it belongs to the caller.
func (d *DataCenterDeployment) Copy() *DataCenterDeployment {
	if d == nil {
		return nil
	}
	nd := &DataCenterDeployment{
		dataCenterID:      d.dataCenterID,
		podID:             pointer.Copy(d.podID),
		clusterID:         pointer.Copy(d.clusterID),
		hostID:            pointer.Copy(d.hostID),
		poolID:            pointer.Copy(d.poolID),
		physicalNetworkID: pointer.Copy(d.physicalNetworkID),
		reservation:       d.reservation,
		avoids:            d.avoids,
		preferredHosts:    slices.Clone(d.preferredHosts),
		migration:         d.migration,
	}
	if d.priorities != nil {
		nd.priorities = maps.Clone(d.priorities)
	}
	return nd
}

func (d *DataCenterDeployment) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan[dc=%d", d.dataCenterID)
	for _, pin := range []struct {
		name string
		v    *int64
	}{
		{"pod", d.podID},
		{"cluster", d.clusterID},
		{"host", d.hostID},
		{"pool", d.poolID},
		{"physical_network", d.physicalNetworkID},
	} {
		if pin.v != nil {
			fmt.Fprintf(&b, " %s=%d", pin.name, *pin.v)
		}
	}
	if d.migration {
		b.WriteString(" migration")
	}
	b.WriteString("]")
	return b.String()
}
