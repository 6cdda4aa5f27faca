// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package hcl

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

type Parser struct {
	parser  *hclparse.Parser
	decoder *gohcl.Decoder
}

// NewParser returns a new Parser instance which supports decoding
// time.Duration and fractional float64 parameters by default.
func NewParser() *Parser {

	// Create our base decoder, so we can register custom decoders on it.
	decoder := &gohcl.Decoder{}

	dur := time.Duration(0)
	decoder.RegisterExpressionDecoder(reflect.TypeOf(dur), DecodeDuration)
	decoder.RegisterExpressionDecoder(reflect.TypeOf(&dur), DecodeDuration)

	frac := float64(0)
	decoder.RegisterExpressionDecoder(reflect.TypeOf(frac), DecodeFraction)
	decoder.RegisterExpressionDecoder(reflect.TypeOf(&frac), DecodeFraction)

	return &Parser{
		decoder: decoder,
		parser:  hclparse.NewParser(),
	}
}

// AddExpressionDecoder registers an extra decode function for values of
// type t.
func (p *Parser) AddExpressionDecoder(t reflect.Type, fn func(hcl.Expression, *hcl.EvalContext, any) hcl.Diagnostics) {
	p.decoder.RegisterExpressionDecoder(t, fn)
}

// Parse decodes the HCL source into dst.
func (p *Parser) Parse(src []byte, dst any, filename string) hcl.Diagnostics {

	hclFile, parseDiag := p.parser.ParseHCL(src, filename)

	if parseDiag.HasErrors() {
		return parseDiag
	}

	decodeDiag := p.decoder.DecodeBody(hclFile.Body, nil, dst)
	return decodeDiag
}

// ParseFile reads and decodes the HCL file at path into dst.
func (p *Parser) ParseFile(path string, dst any) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if diags := p.Parse(src, dst, path); diags.HasErrors() {
		return diags
	}
	return nil
}
