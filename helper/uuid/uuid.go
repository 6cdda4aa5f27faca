// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package uuid

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// Generate is used to generate a random UUID.
func Generate() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}
	return id
}

// Short is used to generate a random shortened UUID.
func Short() string {
	return Generate()[:8]
}
