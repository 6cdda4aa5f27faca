// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	testing "github.com/mitchellh/go-testing-interface"

	"github.com/vmplacement/deployplanner/helper/testlog"
	"github.com/vmplacement/deployplanner/placement/structs"
)

// TestStateStore returns an empty state store logging to t.
func TestStateStore(t testing.T) *StateStore {
	state, err := NewStateStore(testlog.HCLogger(t))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if state == nil {
		t.Fatalf("missing state")
	}
	return state
}

// TestUpsertInventory loads every resource of inv into the store, failing
// the test on error.
func TestUpsertInventory(t testing.T, s *StateStore, inv *structs.Inventory) {
	if err := s.UpsertInventory(inv); err != nil {
		t.Fatalf("inventory upsert failed: %v", err)
	}
}
