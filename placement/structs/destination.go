// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/hashstructure"
)

// VolumePlacement assigns one volume to a storage pool.
type VolumePlacement struct {
	Volume *Volume
	Pool   *StoragePool
}

// DeployDestination is a fully resolved placement: every compute level is
// set and every volume that needed storage has a pool reachable from the
// host. It is immutable once built.
type DeployDestination struct {
	DataCenter *DataCenter
	Pod        *Pod
	Cluster    *Cluster
	Host       *Host

	// Storage is ordered by volume id.
	Storage []VolumePlacement
}

// NewDeployDestination validates and assembles a destination. No partial
// destination is ever returned: either every check passes or the result is
// nil with an error describing all inconsistencies.
func NewDeployDestination(dc *DataCenter, pod *Pod, cluster *Cluster, host *Host, storage map[*Volume]*StoragePool) (*DeployDestination, error) {
	var mErr multierror.Error
	if dc == nil {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing data center"))
	}
	if pod == nil {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing pod"))
	}
	if cluster == nil {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing cluster"))
	}
	if host == nil {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("missing host"))
	}
	if len(mErr.Errors) > 0 {
		return nil, mErr.ErrorOrNil()
	}

	if pod.DataCenterID != dc.ID {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("pod %d is not in data center %d", pod.ID, dc.ID))
	}
	if cluster.PodID != pod.ID || cluster.DataCenterID != dc.ID {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("cluster %d is not in pod %d", cluster.ID, pod.ID))
	}
	if host.ClusterID != cluster.ID || host.PodID != pod.ID || host.DataCenterID != dc.ID {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("host %d is not in cluster %d", host.ID, cluster.ID))
	}

	placements := make([]VolumePlacement, 0, len(storage))
	for vol, pool := range storage {
		switch {
		case vol == nil:
			mErr.Errors = append(mErr.Errors, fmt.Errorf("storage assignment without volume"))
		case pool == nil:
			mErr.Errors = append(mErr.Errors, fmt.Errorf("volume %d has no pool", vol.ID))
		case !pool.ReachableFrom(host):
			mErr.Errors = append(mErr.Errors, fmt.Errorf("pool %d is not reachable from host %d", pool.ID, host.ID))
		default:
			placements = append(placements, VolumePlacement{Volume: vol, Pool: pool})
		}
	}
	if err := mErr.ErrorOrNil(); err != nil {
		return nil, err
	}

	slices.SortFunc(placements, func(a, b VolumePlacement) int {
		switch {
		case a.Volume.ID < b.Volume.ID:
			return -1
		case a.Volume.ID > b.Volume.ID:
			return 1
		}
		return 0
	})

	return &DeployDestination{
		DataCenter: dc,
		Pod:        pod,
		Cluster:    cluster,
		Host:       host,
		Storage:    placements,
	}, nil
}

// Equal compares the compute placement only. Two destinations that differ
// only in their storage assignment are equal.
func (d *DeployDestination) Equal(o *DeployDestination) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.DataCenter.ID == o.DataCenter.ID &&
		d.Pod.ID == o.Pod.ID &&
		d.Cluster.ID == o.Cluster.ID &&
		d.Host.ID == o.Host.ID
}

// HashInclude keeps storage out of the destination key so that Key agrees
// with Equal.
func (d DeployDestination) HashInclude(field string, _ interface{}) (bool, error) {
	switch field {
	case "Storage":
		return false, nil
	default:
		return true, nil
	}
}

// Key returns a hash identifying the compute placement, suitable for
// deduplicating destinations.
func (d *DeployDestination) Key() (uint64, error) {
	return hashstructure.Hash(d, nil)
}

// PoolFor returns the pool assigned to the volume id, if any.
func (d *DeployDestination) PoolFor(volumeID int64) *StoragePool {
	for _, p := range d.Storage {
		if p.Volume.ID == volumeID {
			return p.Pool
		}
	}
	return nil
}

func (d *DeployDestination) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dest[Zone(%d)-Pod(%d)-Cluster(%d)-Host(%d)-Storage(",
		d.DataCenter.ID, d.Pod.ID, d.Cluster.ID, d.Host.ID)
	for i, p := range d.Storage {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s-->%s", p.Volume, p.Pool)
	}
	b.WriteString(")]")
	return b.String()
}
