// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package hcl

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

func unsuitable(expr hcl.Expression, detail string) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Unsuitable value type",
		Detail:   detail,
		Subject:  expr.StartRange().Ptr(),
		Context:  expr.Range().Ptr(),
	}
}

// DecodeDuration is the decode function for time.Duration types. It supports
// both string and numeric values. String values are parsed using
// time.ParseDuration. Numeric values are expected to be in nanoseconds.
func DecodeDuration(expr hcl.Expression, ctx *hcl.EvalContext, val any) hcl.Diagnostics {
	srcVal, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return diags
	}

	if srcVal.Type() == cty.String {
		dur, err := time.ParseDuration(srcVal.AsString())
		if err != nil {
			return append(diags, unsuitable(expr, fmt.Sprintf("Unsuitable duration value: %s", err.Error())))
		}
		srcVal = cty.NumberIntVal(int64(dur))
	}

	if srcVal.Type() != cty.Number {
		return append(diags, unsuitable(expr,
			fmt.Sprintf("Unsuitable value: expected a string but found %s", srcVal.Type().FriendlyName())))
	}

	if err := gocty.FromCtyValue(srcVal, val); err != nil {
		diags = append(diags, unsuitable(expr, fmt.Sprintf("Unsuitable value: %s", err.Error())))
	}
	return diags
}

// DecodeFraction is the decode function for float64 fractions such as the
// disable thresholds. It accepts plain numbers (0.85) and percentage
// strings ("85%").
func DecodeFraction(expr hcl.Expression, ctx *hcl.EvalContext, val any) hcl.Diagnostics {
	srcVal, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return diags
	}

	if srcVal.Type() == cty.String {
		raw := strings.TrimSpace(srcVal.AsString())
		pct, ok := strings.CutSuffix(raw, "%")
		f, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil {
			return append(diags, unsuitable(expr, fmt.Sprintf("Unsuitable fraction value: %q", raw)))
		}
		if ok {
			f /= 100
		}
		srcVal = cty.NumberFloatVal(f)
	}

	if srcVal.Type() != cty.Number {
		return append(diags, unsuitable(expr,
			fmt.Sprintf("Unsuitable value: expected a number but found %s", srcVal.Type().FriendlyName())))
	}

	if err := gocty.FromCtyValue(srcVal, val); err != nil {
		diags = append(diags, unsuitable(expr, fmt.Sprintf("Unsuitable value: %s", err.Error())))
	}
	return diags
}

// DecodeBytes is the decode function for byte sizes. It accepts plain
// numbers of bytes and human readable strings such as "64 GiB" or "1TB".
func DecodeBytes(expr hcl.Expression, ctx *hcl.EvalContext, val any) hcl.Diagnostics {
	srcVal, diags := expr.Value(ctx)
	if diags.HasErrors() {
		return diags
	}

	if srcVal.Type() == cty.String {
		n, err := humanize.ParseBytes(srcVal.AsString())
		if err != nil {
			return append(diags, unsuitable(expr, fmt.Sprintf("Unsuitable byte size: %s", err.Error())))
		}
		srcVal = cty.NumberUIntVal(n)
	}

	if srcVal.Type() != cty.Number {
		return append(diags, unsuitable(expr,
			fmt.Sprintf("Unsuitable value: expected a size but found %s", srcVal.Type().FriendlyName())))
	}

	if err := gocty.FromCtyValue(srcVal, val); err != nil {
		diags = append(diags, unsuitable(expr, fmt.Sprintf("Unsuitable value: %s", err.Error())))
	}
	return diags
}
