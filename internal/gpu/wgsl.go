// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"fmt"

	"github.com/gogpu/naga"

	"github.com/gogpu/bitonic"
)

// checkWGSL parses and lowers src with naga before it reaches the driver, so
// generator mistakes surface as Go errors naming the shader instead of
// backend compile failures. Validation findings are logged, not returned.
func checkWGSL(label, src string) error {
	ast, err := naga.Parse(src)
	if err != nil {
		return fmt.Errorf("%s: parse WGSL: %w", label, err)
	}
	module, err := naga.LowerWithSource(ast, src)
	if err != nil {
		return fmt.Errorf("%s: lower WGSL: %w", label, err)
	}
	issues, err := naga.Validate(module)
	if err != nil {
		bitonic.Logger().Warn("gpu: WGSL validation failed", "shader", label, "err", err)
		return nil
	}
	for _, issue := range issues {
		bitonic.Logger().Warn("gpu: WGSL validation", "shader", label, "issue", issue.Message)
	}
	return nil
}
