// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Filter and exhaustion reasons recorded in PlanMetric.
const (
	FilterDataCenterDisabled = "datacenter disabled"
	FilterDataCenterExcluded = "datacenter excluded"
	FilterPodDisabled        = "pod disabled"
	FilterClusterDisabled    = "cluster disabled"
	FilterClusterPin         = "cluster outside plan"
	FilterHypervisor         = "hypervisor mismatch"
	FilterCPUThreshold       = "cpu disable threshold"
	FilterMemoryThreshold    = "memory disable threshold"
	FilterExcluded           = "excluded"
	FilterDedication         = "dedicated to another account"

	FilterHostNotReady       = "host not ready"
	FilterHostPin            = "host outside plan"
	FilterHostProhibited     = "host prohibited"
	FilterHostVersion        = "hypervisor version"
	FilterHostTags           = "host tags"
	FilterHostCurrent        = "current host"
	FilterHostNotEmpty       = "host not empty"
	ExhaustedCPU             = "cpu"
	ExhaustedMemory          = "memory"
	ExhaustedStorage         = "storage"
	ExhaustedClusterNoHosts  = "no feasible host"
	FilterStoragePoolTags    = "storage tags"
	FilterStoragePoolStatus  = "storage pool not up"
	FilterStoragePoolExclude = "storage pool excluded"
)

// PlanMetric explains a planning pass: how many clusters and hosts were
// looked at and why candidates were dropped. Planners record into it
// instead of logging.
type PlanMetric struct {
	// ClustersEvaluated is the number of clusters in the candidate universe
	ClustersEvaluated int

	// ClustersFiltered is the number of clusters removed before ordering
	ClustersFiltered int

	// ClusterFilterReasons counts filtered clusters by reason
	ClusterFilterReasons map[string]int

	// ClustersExhausted is the number of ordered clusters in which no
	// host and storage combination fit
	ClustersExhausted int

	HostsEvaluated int
	HostsFiltered  int

	// HostFilterReasons counts hosts dropped for a non capacity reason
	HostFilterReasons map[string]int

	// HostsExhausted is the number of hosts skipped for lack of capacity
	HostsExhausted int

	// DimensionExhausted counts exhausted hosts by resource
	DimensionExhausted map[string]int

	PoolsFiltered int

	// PoolFilterReasons counts storage pools dropped by reason
	PoolFilterReasons map[string]int

	// AllocationTime is the time spent in the pass
	AllocationTime time.Duration
}

func (m *PlanMetric) Copy() *PlanMetric {
	if m == nil {
		return nil
	}
	nm := *m
	nm.ClusterFilterReasons = maps.Clone(m.ClusterFilterReasons)
	nm.HostFilterReasons = maps.Clone(m.HostFilterReasons)
	nm.DimensionExhausted = maps.Clone(m.DimensionExhausted)
	nm.PoolFilterReasons = maps.Clone(m.PoolFilterReasons)
	return &nm
}

func incr(m *map[string]int, key string) {
	if key == "" {
		return
	}
	if *m == nil {
		*m = make(map[string]int)
	}
	(*m)[key] += 1
}

func (m *PlanMetric) EvaluateCluster() {
	m.ClustersEvaluated += 1
}

func (m *PlanMetric) FilterCluster(reason string) {
	m.ClustersFiltered += 1
	incr(&m.ClusterFilterReasons, reason)
}

func (m *PlanMetric) ExhaustedCluster() {
	m.ClustersExhausted += 1
}

func (m *PlanMetric) EvaluateHost() {
	m.HostsEvaluated += 1
}

func (m *PlanMetric) FilterHost(reason string) {
	m.HostsFiltered += 1
	incr(&m.HostFilterReasons, reason)
}

func (m *PlanMetric) ExhaustedHost(dimension string) {
	m.HostsExhausted += 1
	incr(&m.DimensionExhausted, dimension)
}

func (m *PlanMetric) FilterPool(reason string) {
	m.PoolsFiltered += 1
	incr(&m.PoolFilterReasons, reason)
}

func formatReasons(reasons map[string]int) string {
	keys := slices.Sorted(maps.Keys(reasons))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%q=%d", k, reasons[k]))
	}
	return strings.Join(parts, " ")
}

// String summarizes the metric on one line, e.g. for logging.
func (m *PlanMetric) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "clusters evaluated=%d filtered=%d exhausted=%d",
		m.ClustersEvaluated, m.ClustersFiltered, m.ClustersExhausted)
	if len(m.ClusterFilterReasons) > 0 {
		fmt.Fprintf(&b, " (%s)", formatReasons(m.ClusterFilterReasons))
	}
	fmt.Fprintf(&b, "; hosts evaluated=%d filtered=%d exhausted=%d",
		m.HostsEvaluated, m.HostsFiltered, m.HostsExhausted)
	if len(m.HostFilterReasons) > 0 {
		fmt.Fprintf(&b, " (%s)", formatReasons(m.HostFilterReasons))
	}
	if len(m.DimensionExhausted) > 0 {
		fmt.Fprintf(&b, " (%s)", formatReasons(m.DimensionExhausted))
	}
	if m.PoolsFiltered > 0 {
		fmt.Fprintf(&b, "; pools filtered=%d (%s)", m.PoolsFiltered, formatReasons(m.PoolFilterReasons))
	}
	return b.String()
}
