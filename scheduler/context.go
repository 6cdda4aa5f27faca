// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"math/rand"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/vmplacement/deployplanner/placement/structs"
	"github.com/vmplacement/deployplanner/placement/structs/config"
)

// State is the read-only capacity and metadata provider planners consult.
// Lookups return nil without error for unknown ids. Results must not be
// cached across placement attempts.
type State interface {
	DataCenterByID(id int64) (*structs.DataCenter, error)
	PodByID(id int64) (*structs.Pod, error)
	ClusterByID(id int64) (*structs.Cluster, error)
	HostByID(id int64) (*structs.Host, error)
	StoragePoolByID(id int64) (*structs.StoragePool, error)

	PodsByDataCenter(dcID int64) ([]*structs.Pod, error)
	ClustersByDataCenter(dcID int64) ([]*structs.Cluster, error)
	ClustersByPod(podID int64) ([]*structs.Cluster, error)
	HostsByCluster(clusterID int64) ([]*structs.Host, error)
	StoragePoolsByDataCenter(dcID int64) ([]*structs.StoragePool, error)

	VirtualMachinesByAccount(accountID string) ([]*structs.VirtualMachine, error)
	VirtualMachinesByHost(hostID int64) ([]*structs.VirtualMachine, error)

	// ClusterCapacity computes the cluster's current aggregate capacity.
	ClusterCapacity(clusterID int64) (*structs.ClusterCapacity, error)
}

// Reserver commits a placement decision under the planner's resource
// usage. Implementations must make the commit atomic with respect to
// concurrent reservations, re-checking capacity and host tenancy, and
// report a lost race as a structs.CapacityError.
type Reserver interface {
	ReserveCapacity(vm *structs.VirtualMachineProfile, dest *structs.DeployDestination, usage structs.PlannerResourceUsage) error
}

// Context is used to track contextual information used for placement
type Context interface {
	// State is used to inspect the current global state
	State() State

	// Config returns the planner tunables
	Config() *config.PlannerConfig

	// Logger provides a way to log
	Logger() hclog.Logger

	// Rand is the source of randomness for random orderings
	Rand() *rand.Rand

	// Metrics returns the metrics of the current planning pass
	Metrics() *PlanMetric
}

// EvalContext is a Context used during one placement request. It is owned
// by a single request and never shared.
type EvalContext struct {
	state   State
	config  *config.PlannerConfig
	logger  hclog.Logger
	rand    *rand.Rand
	metrics *PlanMetric
}

// NewEvalContext constructs a new EvalContext. The random source is seeded
// from the config's random_seed when set so that random orderings can be
// reproduced.
func NewEvalContext(s State, cfg *config.PlannerConfig, logger hclog.Logger) *EvalContext {
	if cfg == nil {
		cfg = config.DefaultPlannerConfig()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	seed := time.Now().UnixNano()
	if cfg.RandomSeed != nil {
		seed = *cfg.RandomSeed
	}
	return &EvalContext{
		state:   s,
		config:  cfg,
		logger:  logger,
		rand:    rand.New(rand.NewSource(seed)),
		metrics: new(PlanMetric),
	}
}

func (e *EvalContext) State() State {
	return e.state
}

func (e *EvalContext) SetState(s State) {
	e.state = s
}

func (e *EvalContext) Config() *config.PlannerConfig {
	return e.config
}

func (e *EvalContext) Logger() hclog.Logger {
	return e.logger
}

func (e *EvalContext) Rand() *rand.Rand {
	return e.rand
}

func (e *EvalContext) Metrics() *PlanMetric {
	return e.metrics
}

// Reset starts a new planning pass with fresh metrics.
func (e *EvalContext) Reset() {
	e.metrics = new(PlanMetric)
}
