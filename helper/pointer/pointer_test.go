// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package pointer

import (
	"testing"

	"github.com/shoenig/test/must"
)

func Test_Of(t *testing.T) {
	s := "hello"
	sPtr := Of(s)

	must.Eq(t, s, *sPtr)

	b := "bye"
	sPtr = &b
	must.NotEq(t, s, *sPtr)
}

func Test_Copy(t *testing.T) {
	must.Nil(t, Copy[int64](nil))

	orig := Of(int64(7))
	cp := Copy(orig)
	must.Eq(t, int64(7), *cp)

	*cp = 8
	must.Eq(t, int64(7), *orig)
}

func Test_Eq(t *testing.T) {
	must.True(t, Eq[float64](nil, nil))
	must.False(t, Eq(Of(0.85), nil))
	must.False(t, Eq(nil, Of(0.85)))
	must.True(t, Eq(Of(0.85), Of(0.85)))
	must.False(t, Eq(Of(0.85), Of(0.9)))
}

func Test_ValueOr(t *testing.T) {
	must.Eq(t, 10, ValueOr(nil, 10))
	must.Eq(t, 3, ValueOr(Of(3), 10))
}
