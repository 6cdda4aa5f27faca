// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"testing"

	"github.com/shoenig/test/must"
	"github.com/vmplacement/deployplanner/ci"
)

type testTopology struct {
	dc      *DataCenter
	pod     *Pod
	cluster *Cluster
	host    *Host
	pools   []*StoragePool
	vols    []*Volume
}

func newTestTopology() *testTopology {
	return &testTopology{
		dc:      &DataCenter{ID: 1},
		pod:     &Pod{ID: 2, DataCenterID: 1},
		cluster: &Cluster{ID: 3, PodID: 2, DataCenterID: 1},
		host:    testHost(4, 3, 2, 1),
		pools: []*StoragePool{
			{ID: 6, DataCenterID: 1, PodID: 2, ClusterID: 3, Scope: StoragePoolScopeCluster},
			{ID: 7, DataCenterID: 1, Scope: StoragePoolScopeZone},
			{ID: 8, DataCenterID: 1, PodID: 2, ClusterID: 3, HostID: 4, Scope: StoragePoolScopeHost},
		},
		vols: []*Volume{
			{ID: 5, Type: VolumeTypeRoot},
			{ID: 9, Type: VolumeTypeDataDisk},
		},
	}
}

func TestDeployDestination_New(t *testing.T) {
	ci.Parallel(t)

	topo := newTestTopology()
	dest, err := NewDeployDestination(topo.dc, topo.pod, topo.cluster, topo.host,
		map[*Volume]*StoragePool{
			topo.vols[1]: topo.pools[1],
			topo.vols[0]: topo.pools[0],
		})
	must.NoError(t, err)
	must.Len(t, 2, dest.Storage)
	must.Eq(t, 5, dest.Storage[0].Volume.ID)
	must.Eq(t, 9, dest.Storage[1].Volume.ID)
	must.Eq(t, topo.pools[1], dest.PoolFor(9))
	must.Nil(t, dest.PoolFor(99))
	must.Eq(t,
		"Dest[Zone(1)-Pod(2)-Cluster(3)-Host(4)-Storage(Volume(5|ROOT)-->Pool(6), Volume(9|DATADISK)-->Pool(7))]",
		dest.String())

	empty, err := NewDeployDestination(topo.dc, topo.pod, topo.cluster, topo.host, nil)
	must.NoError(t, err)
	must.SliceEmpty(t, empty.Storage)
	must.Eq(t, "Dest[Zone(1)-Pod(2)-Cluster(3)-Host(4)-Storage()]", empty.String())
}

func TestDeployDestination_NewInvalid(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name   string
		mutate func(*testTopology) map[*Volume]*StoragePool
		errMsg string
	}{
		{
			name: "missing host",
			mutate: func(topo *testTopology) map[*Volume]*StoragePool {
				topo.host = nil
				return nil
			},
			errMsg: "missing host",
		},
		{
			name: "host in another cluster",
			mutate: func(topo *testTopology) map[*Volume]*StoragePool {
				topo.host.ClusterID = 99
				return nil
			},
			errMsg: "host 4 is not in cluster 3",
		},
		{
			name: "pod in another data center",
			mutate: func(topo *testTopology) map[*Volume]*StoragePool {
				topo.pod.DataCenterID = 99
				return nil
			},
			errMsg: "pod 2 is not in data center 1",
		},
		{
			name: "cluster pool of another cluster",
			mutate: func(topo *testTopology) map[*Volume]*StoragePool {
				topo.pools[0].ClusterID = 99
				return map[*Volume]*StoragePool{topo.vols[0]: topo.pools[0]}
			},
			errMsg: "pool 6 is not reachable from host 4",
		},
		{
			name: "local pool of another host",
			mutate: func(topo *testTopology) map[*Volume]*StoragePool {
				topo.pools[2].HostID = 99
				return map[*Volume]*StoragePool{topo.vols[0]: topo.pools[2]}
			},
			errMsg: "pool 8 is not reachable from host 4",
		},
		{
			name: "zone pool of another data center",
			mutate: func(topo *testTopology) map[*Volume]*StoragePool {
				topo.pools[1].DataCenterID = 99
				return map[*Volume]*StoragePool{topo.vols[0]: topo.pools[1]}
			},
			errMsg: "pool 7 is not reachable from host 4",
		},
		{
			name: "volume without pool",
			mutate: func(topo *testTopology) map[*Volume]*StoragePool {
				return map[*Volume]*StoragePool{topo.vols[0]: nil}
			},
			errMsg: "volume 5 has no pool",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			topo := newTestTopology()
			storage := tc.mutate(topo)
			dest, err := NewDeployDestination(topo.dc, topo.pod, topo.cluster, topo.host, storage)
			must.ErrorContains(t, err, tc.errMsg)
			must.Nil(t, dest)
		})
	}
}

func TestDeployDestination_EqualIgnoresStorage(t *testing.T) {
	ci.Parallel(t)

	topo := newTestTopology()
	a, err := NewDeployDestination(topo.dc, topo.pod, topo.cluster, topo.host,
		map[*Volume]*StoragePool{topo.vols[0]: topo.pools[0]})
	must.NoError(t, err)
	b, err := NewDeployDestination(topo.dc, topo.pod, topo.cluster, topo.host,
		map[*Volume]*StoragePool{topo.vols[0]: topo.pools[1], topo.vols[1]: topo.pools[2]})
	must.NoError(t, err)

	must.True(t, a.Equal(b))
	must.True(t, b.Equal(a))

	ka, err := a.Key()
	must.NoError(t, err)
	kb, err := b.Key()
	must.NoError(t, err)
	must.Eq(t, ka, kb)

	// Capacity counters do not change the identity of a host either.
	busy := topo.host.Copy()
	busy.CPUUsedMHz = 500
	c, err := NewDeployDestination(topo.dc, topo.pod, topo.cluster, busy, nil)
	must.NoError(t, err)
	must.True(t, a.Equal(c))
	kc, err := c.Key()
	must.NoError(t, err)
	must.Eq(t, ka, kc)

	other := testHost(5, 3, 2, 1)
	d, err := NewDeployDestination(topo.dc, topo.pod, topo.cluster, other, nil)
	must.NoError(t, err)
	must.False(t, a.Equal(d))
	kd, err := d.Key()
	must.NoError(t, err)
	must.NotEq(t, ka, kd)

	var nilDest *DeployDestination
	must.False(t, a.Equal(nilDest))
	must.True(t, nilDest.Equal(nil))
}
