// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package pointer provides helper functions related to Go pointers, used
// mostly for the optional pins and tunables of plans and configs.
package pointer

// Of returns a pointer to a.
func Of[A any](a A) *A {
	return &a
}

// Copy returns a new pointer to the value a points to, or nil.
func Copy[A any](a *A) *A {
	if a == nil {
		return nil
	}
	na := *a
	return &na
}

// Eq returns whether a and b are both nil or point to equal values.
func Eq[A comparable](a, b *A) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ValueOr returns the value a points to, or def when a is nil.
func ValueOr[A any](a *A, def A) A {
	if a == nil {
		return def
	}
	return *a
}
