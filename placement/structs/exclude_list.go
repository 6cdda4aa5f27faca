// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-set/v3"
)

// ExcludeList accumulates the data centers, pods, clusters, hosts and
// storage pools proven infeasible during one placement request. It only
// ever grows. The zero value is an empty list ready to use.
//
// An ExcludeList belongs to a single placement attempt and must not be
// shared between attempts for different VMs.
type ExcludeList struct {
	dcs      *set.Set[int64]
	pods     *set.Set[int64]
	clusters *set.Set[int64]
	hosts    *set.Set[int64]
	pools    *set.Set[int64]
}

// NewExcludeList returns an empty ExcludeList.
func NewExcludeList() *ExcludeList {
	return new(ExcludeList)
}

func addTo(s **set.Set[int64], ids ...int64) {
	if *s == nil {
		*s = set.New[int64](len(ids))
	}
	(*s).InsertSlice(ids)
}

func contains(s *set.Set[int64], id int64) bool {
	return s != nil && s.Contains(id)
}

func (e *ExcludeList) AddDataCenter(id int64) { addTo(&e.dcs, id) }
func (e *ExcludeList) AddPod(id int64)        { addTo(&e.pods, id) }
func (e *ExcludeList) AddCluster(id int64)    { addTo(&e.clusters, id) }
func (e *ExcludeList) AddHost(id int64)       { addTo(&e.hosts, id) }
func (e *ExcludeList) AddPool(id int64)       { addTo(&e.pools, id) }

func (e *ExcludeList) AddPodList(ids []int64)     { addTo(&e.pods, ids...) }
func (e *ExcludeList) AddClusterList(ids []int64) { addTo(&e.clusters, ids...) }
func (e *ExcludeList) AddHostList(ids []int64)    { addTo(&e.hosts, ids...) }

// Add folds a capacity failure into the list. It returns false, leaving
// the list untouched, when the failure does not carry a known scope; the
// caller must then treat the failure as fatal rather than retry.
func (e *ExcludeList) Add(err CapacityError) bool {
	if err == nil {
		return false
	}

	// A typed nil error reports ScopeNone and is rejected below.
	id := err.ResourceID()
	switch err.Scope() {
	case ScopeHost:
		e.AddHost(id)
	case ScopePod:
		e.AddPod(id)
	case ScopeDataCenter:
		e.AddDataCenter(id)
	case ScopeCluster:
		e.AddCluster(id)
	case ScopeStoragePool:
		e.AddPool(id)
	default:
		return false
	}
	return true
}

// ShouldAvoidDataCenter returns whether the data center is excluded.
func (e *ExcludeList) ShouldAvoidDataCenter(dc *DataCenter) bool {
	if e == nil {
		return false
	}
	return contains(e.dcs, dc.ID)
}

// ShouldAvoidPod returns whether the pod or its data center is excluded.
func (e *ExcludeList) ShouldAvoidPod(pod *Pod) bool {
	if e == nil {
		return false
	}
	return contains(e.pods, pod.ID) ||
		contains(e.dcs, pod.DataCenterID)
}

// ShouldAvoidCluster returns whether the cluster or anything containing it
// is excluded.
func (e *ExcludeList) ShouldAvoidCluster(cluster *Cluster) bool {
	if e == nil {
		return false
	}
	return contains(e.clusters, cluster.ID) ||
		contains(e.pods, cluster.PodID) ||
		contains(e.dcs, cluster.DataCenterID)
}

// ShouldAvoidHost returns whether the host or anything containing it is
// excluded.
func (e *ExcludeList) ShouldAvoidHost(host *Host) bool {
	if e == nil {
		return false
	}
	return contains(e.hosts, host.ID) ||
		contains(e.dcs, host.DataCenterID) ||
		contains(e.pods, host.PodID) ||
		contains(e.clusters, host.ClusterID)
}

// ShouldAvoidPool returns whether the storage pool or anything containing
// it is excluded. Zone-wide pools carry no pod or cluster and are only
// matched on their own id and data center.
func (e *ExcludeList) ShouldAvoidPool(pool *StoragePool) bool {
	if e == nil {
		return false
	}
	if contains(e.pools, pool.ID) {
		return true
	}
	if pool.ClusterID != 0 && contains(e.clusters, pool.ClusterID) {
		return true
	}
	if pool.PodID != 0 && contains(e.pods, pool.PodID) {
		return true
	}
	return contains(e.dcs, pool.DataCenterID)
}

func sorted(s *set.Set[int64]) []int64 {
	if s == nil {
		return nil
	}
	out := s.Slice()
	slices.Sort(out)
	return out
}

// DataCentersToAvoid returns the excluded data center ids in ascending order.
func (e *ExcludeList) DataCentersToAvoid() []int64 {
	if e == nil {
		return nil
	}
	return sorted(e.dcs)
}

// PodsToAvoid returns the excluded pod ids in ascending order.
func (e *ExcludeList) PodsToAvoid() []int64 {
	if e == nil {
		return nil
	}
	return sorted(e.pods)
}

// ClustersToAvoid returns the excluded cluster ids in ascending order.
func (e *ExcludeList) ClustersToAvoid() []int64 {
	if e == nil {
		return nil
	}
	return sorted(e.clusters)
}

// HostsToAvoid returns the excluded host ids in ascending order.
func (e *ExcludeList) HostsToAvoid() []int64 {
	if e == nil {
		return nil
	}
	return sorted(e.hosts)
}

// PoolsToAvoid returns the excluded storage pool ids in ascending order.
func (e *ExcludeList) PoolsToAvoid() []int64 {
	if e == nil {
		return nil
	}
	return sorted(e.pools)
}

// Empty returns true if nothing is excluded at any level.
func (e *ExcludeList) Empty() bool {
	if e == nil {
		return true
	}
	for _, s := range []*set.Set[int64]{e.dcs, e.pods, e.clusters, e.hosts, e.pools} {
		if s != nil && !s.Empty() {
			return false
		}
	}
	return true
}

// Copy returns an independent copy of the list.
func (e *ExcludeList) Copy() *ExcludeList {
	if e == nil {
		return nil
	}
	c := new(ExcludeList)
	for _, pair := range []struct {
		dst **set.Set[int64]
		src *set.Set[int64]
	}{
		{&c.dcs, e.dcs},
		{&c.pods, e.pods},
		{&c.clusters, e.clusters},
		{&c.hosts, e.hosts},
		{&c.pools, e.pools},
	} {
		if pair.src != nil {
			*pair.dst = pair.src.Copy()
		}
	}
	return c
}

func (e *ExcludeList) String() string {
	var b strings.Builder
	b.WriteString("ExcludeList[")
	parts := []struct {
		name string
		ids  []int64
	}{
		{"dcs", e.DataCentersToAvoid()},
		{"pods", e.PodsToAvoid()},
		{"clusters", e.ClustersToAvoid()},
		{"hosts", e.HostsToAvoid()},
		{"pools", e.PoolsToAvoid()},
	}
	first := true
	for _, p := range parts {
		if len(p.ids) == 0 {
			continue
		}
		if !first {
			b.WriteString(" ")
		}
		first = false
		fmt.Fprintf(&b, "%s=%v", p.name, p.ids)
	}
	b.WriteString("]")
	return b.String()
}
