// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package flags

import (
	"flag"
	"testing"

	"github.com/shoenig/test/must"
	"github.com/vmplacement/deployplanner/ci"
)

func TestStringFlag_implements(t *testing.T) {
	ci.Parallel(t)

	var raw interface{}
	raw = new(StringFlag)
	_, ok := raw.(flag.Value)
	must.True(t, ok, must.Sprint("StringFlag should be a Value"))
}

func TestStringFlagSet(t *testing.T) {
	ci.Parallel(t)

	sv := new(StringFlag)
	must.NoError(t, sv.Set("foo"))
	must.NoError(t, sv.Set("bar"))
	must.Eq(t, []string{"foo", "bar"}, []string(*sv))
}

func TestStringFlagSet_Append(t *testing.T) {
	ci.Parallel(t)

	var vms StringFlag

	flagSet := flag.NewFlagSet("test", flag.PanicOnError)
	flagSet.Var(&vms, "vm", "vm, specify more than once")

	args := []string{"-vm", "web-1", "-vm", "web-2", "-vm", "batch-1"}
	must.NoError(t, flagSet.Parse(args))
	must.Eq(t, "web-1,web-2,batch-1", vms.String())
}
