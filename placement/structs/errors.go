// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"fmt"
)

// Scope identifies which kind of entity a capacity or availability failure
// is attributed to.
type Scope uint8

const (
	ScopeNone Scope = iota
	ScopeDataCenter
	ScopePod
	ScopeCluster
	ScopeHost
	ScopeStoragePool
)

func (s Scope) String() string {
	switch s {
	case ScopeNone:
		return "none"
	case ScopeDataCenter:
		return "datacenter"
	case ScopePod:
		return "pod"
	case ScopeCluster:
		return "cluster"
	case ScopeHost:
		return "host"
	case ScopeStoragePool:
		return "storage_pool"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// CapacityError is a retryable placement failure. The failing scope and
// resource id are folded into an ExcludeList so that the next planning
// round avoids the resource.
type CapacityError interface {
	error
	Scope() Scope
	ResourceID() int64
}

// InsufficientCapacityError is returned when a resource exists and is
// usable but does not have room for the request.
type InsufficientCapacityError struct {
	Msg      string
	ErrScope Scope
	ID       int64
}

// NewInsufficientCapacityError returns an InsufficientCapacityError for the
// resource id of the given scope.
func NewInsufficientCapacityError(scope Scope, id int64, format string, args ...any) *InsufficientCapacityError {
	return &InsufficientCapacityError{
		Msg:      fmt.Sprintf(format, args...),
		ErrScope: scope,
		ID:       id,
	}
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity on %s %d: %s", e.ErrScope, e.ID, e.Msg)
}

func (e *InsufficientCapacityError) Scope() Scope {
	if e == nil {
		return ScopeNone
	}
	return e.ErrScope
}

func (e *InsufficientCapacityError) ResourceID() int64 {
	if e == nil {
		return 0
	}
	return e.ID
}

// ResourceUnavailableError is returned when a resource cannot be used at
// all, for example because it went down or into maintenance.
type ResourceUnavailableError struct {
	Msg      string
	ErrScope Scope
	ID       int64
}

// NewResourceUnavailableError returns a ResourceUnavailableError for the
// resource id of the given scope.
func NewResourceUnavailableError(scope Scope, id int64, format string, args ...any) *ResourceUnavailableError {
	return &ResourceUnavailableError{
		Msg:      fmt.Sprintf(format, args...),
		ErrScope: scope,
		ID:       id,
	}
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("%s %d unavailable: %s", e.ErrScope, e.ID, e.Msg)
}

func (e *ResourceUnavailableError) Scope() Scope {
	if e == nil {
		return ScopeNone
	}
	return e.ErrScope
}

func (e *ResourceUnavailableError) ResourceID() int64 {
	if e == nil {
		return 0
	}
	return e.ID
}
