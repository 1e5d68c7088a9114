// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	_ "embed"
	"strconv"
	"strings"

	"github.com/gogpu/grayscott/gpucore"
)

//go:embed shaders/seed.wgsl
var seedShaderSource string

//go:embed shaders/gray_scott.wgsl
var stepShaderSource string

//go:embed shaders/quad.wgsl
var quadShaderSource string

// Program names. Each name is also the WGSL entry point.
const (
	SeedProgram     = "seed"
	StepProgram     = "gray_scott"
	VertexProgram   = "vertex_main"
	FragmentProgram = "fragment_main"
)

// Library returns the WGSL program library of the hardware device.
func Library() gpucore.Library {
	return gpucore.NewLibrary(
		gpucore.Program{
			Name:     SeedProgram,
			Stage:    gpucore.StageCompute,
			Source:   seedShaderSource,
			Bindings: []gpucore.BindingType{gpucore.BindingUniform, gpucore.BindingStorage},
		},
		gpucore.Program{
			Name:   StepProgram,
			Stage:  gpucore.StageCompute,
			Source: stepShaderSource,
			Bindings: []gpucore.BindingType{
				gpucore.BindingUniform,
				gpucore.BindingReadOnlyStorage,
				gpucore.BindingStorage,
			},
		},
		gpucore.Program{Name: VertexProgram, Stage: gpucore.StageVertex, Source: quadShaderSource},
		gpucore.Program{
			Name:     FragmentProgram,
			Stage:    gpucore.StageFragment,
			Source:   quadShaderSource,
			Bindings: []gpucore.BindingType{gpucore.BindingReadOnlyStorage, gpucore.BindingUniform},
		},
	)
}

// specialize bakes the workgroup tile into a compute program source.
func specialize(src string, wg [2]uint32) string {
	return strings.NewReplacer(
		"WORKGROUP_X", strconv.FormatUint(uint64(wg[0]), 10),
		"WORKGROUP_Y", strconv.FormatUint(uint64(wg[1]), 10),
	).Replace(src)
}
