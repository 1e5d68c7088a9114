// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/grayscott/gpucore"
)

type buffer struct {
	dev   *Device
	label string
	size  uint64
	usage gpucore.BufferUsage
	raw   hal.Buffer
}

func (b *buffer) Label() string { return b.label }
func (b *buffer) Size() uint64  { return b.size }

type computePipeline struct {
	dev        *Device
	label      string
	program    gpucore.Program
	workgroup  [2]uint32
	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	raw        hal.ComputePipeline
}

func (p *computePipeline) Label() string        { return p.label }
func (p *computePipeline) Workgroup() [2]uint32 { return p.workgroup }

type renderPipeline struct {
	dev        *Device
	label      string
	fragment   gpucore.Program
	vertexMod  hal.ShaderModule
	fragMod    hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	raw        hal.RenderPipeline
}

func (p *renderPipeline) Label() string { return p.label }

type target struct {
	dev    *Device
	width  int
	height int
	format gpucore.TextureFormat
	tex    hal.Texture
	view   hal.TextureView
	drawn  bool
}

func (t *target) Size() (int, int) { return t.width, t.height }

func halBufferUsage(u gpucore.BufferUsage) gputypes.BufferUsage {
	// Every buffer can be staged into and read back.
	out := gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	if u&gpucore.BufferUsageVertex != 0 {
		out |= gputypes.BufferUsageVertex
	}
	if u&gpucore.BufferUsageUniform != 0 {
		out |= gputypes.BufferUsageUniform
	}
	if u&gpucore.BufferUsageStorage != 0 {
		out |= gputypes.BufferUsageStorage
	}
	return out
}

func halTextureFormat(f gpucore.TextureFormat) (gputypes.TextureFormat, error) {
	switch f {
	case gpucore.TextureFormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8Unorm, nil
	case gpucore.TextureFormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm, nil
	default:
		return gputypes.TextureFormatUndefined, fmt.Errorf("gpu: unsupported texture format %d", f)
	}
}

func halVertexFormat(f gpucore.VertexFormat) gputypes.VertexFormat {
	switch f {
	case gpucore.VertexFormatFloat32x2:
		return gputypes.VertexFormatFloat32x2
	case gpucore.VertexFormatFloat32x3:
		return gputypes.VertexFormatFloat32x3
	default:
		return gputypes.VertexFormatFloat32x4
	}
}

func halTopology(t gpucore.Topology) gputypes.PrimitiveTopology {
	if t == gpucore.TopologyTriangleStrip {
		return gputypes.PrimitiveTopologyTriangleStrip
	}
	return gputypes.PrimitiveTopologyTriangleList
}

func halBindingType(t gpucore.BindingType) gputypes.BufferBindingType {
	switch t {
	case gpucore.BindingUniform:
		return gputypes.BufferBindingTypeUniform
	case gpucore.BindingReadOnlyStorage:
		return gputypes.BufferBindingTypeReadOnlyStorage
	default:
		return gputypes.BufferBindingTypeStorage
	}
}

// CreateBuffer allocates a device buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.Buffer, error) {
	if desc.Size == 0 || desc.Size > d.opts.limits.MaxBufferSize {
		return nil, fmt.Errorf("gpu: buffer %q size %d out of range (max %d)",
			desc.Label, desc.Size, d.opts.limits.MaxBufferSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.live() {
		return nil, gpucore.ErrDeviceClosed
	}
	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: halBufferUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer %q: %w", desc.Label, err)
	}
	return &buffer{dev: d, label: desc.Label, size: desc.Size, usage: desc.Usage, raw: raw}, nil
}

// DestroyBuffer releases b. Foreign buffers are ignored.
func (d *Device) DestroyBuffer(b gpucore.Buffer) {
	buf, ok := b.(*buffer)
	if !ok || buf.dev != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != nil && buf.raw != nil {
		d.device.DestroyBuffer(buf.raw)
	}
	buf.raw = nil
}

func (d *Device) buffer(b gpucore.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf.dev != d {
		return nil, fmt.Errorf("buffer: %w", gpucore.ErrForeignResource)
	}
	if buf.raw == nil {
		return nil, fmt.Errorf("gpu: buffer %q was destroyed", buf.label)
	}
	return buf, nil
}

// bindings resolves a binding list against the layout a program declares.
func (d *Device) bindings(p gpucore.Program, list []gpucore.Binding) ([]*buffer, error) {
	if len(list) != len(p.Bindings) {
		return nil, fmt.Errorf("program %q expects %d bindings, got %d", p.Name, len(p.Bindings), len(list))
	}
	out := make([]*buffer, len(list))
	for i, b := range list {
		buf, err := d.buffer(b.Buffer)
		if err != nil {
			return nil, fmt.Errorf("binding %d: %w", i, err)
		}
		want := gpucore.BufferUsageStorage
		if p.Bindings[i] == gpucore.BindingUniform {
			want = gpucore.BufferUsageUniform
		}
		if buf.usage&want == 0 {
			return nil, fmt.Errorf("binding %d: buffer %q lacks required usage", i, buf.label)
		}
		out[i] = buf
	}
	return out, nil
}

// compile translates a WGSL program to a SPIR-V shader module. Compiler
// diagnostics come back as *gpucore.ShaderError. d.mu must be held.
func (d *Device) compile(prog gpucore.Program, src string) (hal.ShaderModule, error) {
	if src == "" {
		return nil, &gpucore.ShaderError{Program: prog.Name, Stage: prog.Stage, Diagnostic: "program has no WGSL source"}
	}
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, &gpucore.ShaderError{Program: prog.Name, Stage: prog.Stage, Diagnostic: err.Error()}
	}
	// SPIR-V is little-endian 32-bit words.
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  prog.Name,
		Source: hal.ShaderSource{SPIRV: spirvCode},
	})
	if err != nil {
		return nil, &gpucore.ShaderError{Program: prog.Name, Stage: prog.Stage, Diagnostic: err.Error()}
	}
	return module, nil
}

// layouts creates the group-0 bind group layout of a program and a
// pipeline layout around it. d.mu must be held.
func (d *Device) layouts(label string, prog gpucore.Program) (hal.BindGroupLayout, hal.PipelineLayout, error) {
	stage := gputypes.ShaderStageCompute
	if prog.Stage == gpucore.StageFragment {
		stage = gputypes.ShaderStageFragment
	}
	entries := make([]gputypes.BindGroupLayoutEntry, len(prog.Bindings))
	for i, t := range prog.Bindings {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i), //nolint:gosec // binding lists are tiny
			Visibility: stage,
			Buffer:     &gputypes.BufferBindingLayout{Type: halBindingType(t)},
		}
	}
	bindLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "_bind_layout",
		Entries: entries,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gpu: create bind group layout %q: %w", label, err)
	}
	pipeLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		d.device.DestroyBindGroupLayout(bindLayout)
		return nil, nil, fmt.Errorf("gpu: create pipeline layout %q: %w", label, err)
	}
	return bindLayout, pipeLayout, nil
}

// CreateComputePipeline compiles a compute program with the workgroup tile
// baked in.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipeline, error) {
	prog := desc.Program
	if prog.Stage != gpucore.StageCompute {
		return nil, &gpucore.ShaderError{Program: prog.Name, Stage: prog.Stage, Diagnostic: "not a compute program"}
	}
	wg, lim := desc.Workgroup, d.opts.limits
	if wg[0] == 0 || wg[1] == 0 || wg[0] > lim.MaxWorkgroupSize[0] || wg[1] > lim.MaxWorkgroupSize[1] ||
		wg[0]*wg[1] > lim.MaxWorkgroupInvocations {
		return nil, &gpucore.ShaderError{
			Program:    prog.Name,
			Stage:      prog.Stage,
			Diagnostic: fmt.Sprintf("workgroup %dx%d exceeds device limits", wg[0], wg[1]),
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.live() {
		return nil, gpucore.ErrDeviceClosed
	}
	p := &computePipeline{dev: d, label: desc.Label, program: prog, workgroup: wg}
	var err error
	if p.module, err = d.compile(prog, specialize(prog.Source, wg)); err != nil {
		return nil, err
	}
	if p.bindLayout, p.pipeLayout, err = d.layouts(desc.Label, prog); err != nil {
		d.destroyCompute(p)
		return nil, err
	}
	p.raw, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  p.pipeLayout,
		Compute: hal.ComputeState{Module: p.module, EntryPoint: prog.Name},
	})
	if err != nil {
		d.destroyCompute(p)
		return nil, &gpucore.ShaderError{Program: prog.Name, Stage: prog.Stage, Diagnostic: err.Error()}
	}
	d.log.Debug("gpu: compute pipeline created", "label", desc.Label, "workgroup", wg)
	return p, nil
}

func (d *Device) destroyCompute(p *computePipeline) {
	if d.device == nil {
		return
	}
	if p.raw != nil {
		d.device.DestroyComputePipeline(p.raw)
	}
	if p.pipeLayout != nil {
		d.device.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.bindLayout != nil {
		d.device.DestroyBindGroupLayout(p.bindLayout)
	}
	if p.module != nil {
		d.device.DestroyShaderModule(p.module)
	}
	p.raw, p.pipeLayout, p.bindLayout, p.module = nil, nil, nil, nil
}

// DestroyComputePipeline releases p. Foreign pipelines are ignored.
func (d *Device) DestroyComputePipeline(p gpucore.ComputePipeline) {
	cp, ok := p.(*computePipeline)
	if !ok || cp.dev != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyCompute(cp)
}

// CreateRenderPipeline compiles a vertex and fragment program pair.
func (d *Device) CreateRenderPipeline(desc *gpucore.RenderPipelineDesc) (gpucore.RenderPipeline, error) {
	if desc.Vertex.Stage != gpucore.StageVertex {
		return nil, &gpucore.ShaderError{Program: desc.Vertex.Name, Stage: desc.Vertex.Stage, Diagnostic: "not a vertex program"}
	}
	if desc.Fragment.Stage != gpucore.StageFragment {
		return nil, &gpucore.ShaderError{Program: desc.Fragment.Name, Stage: desc.Fragment.Stage, Diagnostic: "not a fragment program"}
	}
	if err := desc.Layout.Validate(); err != nil {
		return nil, err
	}
	format, err := halTextureFormat(desc.ColorFormat)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.live() {
		return nil, gpucore.ErrDeviceClosed
	}
	p := &renderPipeline{dev: d, label: desc.Label, fragment: desc.Fragment}
	if p.vertexMod, err = d.compile(desc.Vertex, desc.Vertex.Source); err != nil {
		return nil, err
	}
	if p.fragMod, err = d.compile(desc.Fragment, desc.Fragment.Source); err != nil {
		d.destroyRender(p)
		return nil, err
	}
	if p.bindLayout, p.pipeLayout, err = d.layouts(desc.Label, desc.Fragment); err != nil {
		d.destroyRender(p)
		return nil, err
	}

	attrs := make([]gputypes.VertexAttribute, len(desc.Layout.Attributes))
	for i, a := range desc.Layout.Attributes {
		attrs[i] = gputypes.VertexAttribute{
			Format:         halVertexFormat(a.Format),
			Offset:         a.Offset,
			ShaderLocation: a.Location,
		}
	}
	p.raw, err = d.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: p.pipeLayout,
		Vertex: hal.VertexState{
			Module:     p.vertexMod,
			EntryPoint: desc.Vertex.Name,
			Buffers: []gputypes.VertexBufferLayout{{
				ArrayStride: desc.Layout.Stride,
				StepMode:    gputypes.VertexStepModeVertex,
				Attributes:  attrs,
			}},
		},
		Fragment: &hal.FragmentState{
			Module:     p.fragMod,
			EntryPoint: desc.Fragment.Name,
			Targets: []gputypes.ColorTargetState{{
				Format:    format,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: halTopology(desc.Topology),
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		d.destroyRender(p)
		return nil, &gpucore.ShaderError{Program: desc.Fragment.Name, Stage: gpucore.StageFragment, Diagnostic: err.Error()}
	}
	return p, nil
}

func (d *Device) destroyRender(p *renderPipeline) {
	if d.device == nil {
		return
	}
	if p.raw != nil {
		d.device.DestroyRenderPipeline(p.raw)
	}
	if p.pipeLayout != nil {
		d.device.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.bindLayout != nil {
		d.device.DestroyBindGroupLayout(p.bindLayout)
	}
	if p.fragMod != nil {
		d.device.DestroyShaderModule(p.fragMod)
	}
	if p.vertexMod != nil {
		d.device.DestroyShaderModule(p.vertexMod)
	}
	p.raw, p.pipeLayout, p.bindLayout, p.fragMod, p.vertexMod = nil, nil, nil, nil, nil
}

// DestroyRenderPipeline releases p. Foreign pipelines are ignored.
func (d *Device) DestroyRenderPipeline(p gpucore.RenderPipeline) {
	rp, ok := p.(*renderPipeline)
	if !ok || rp.dev != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyRender(rp)
}

// CreateRenderTarget allocates a color texture that can be rendered to and
// copied out.
func (d *Device) CreateRenderTarget(width, height int, format gpucore.TextureFormat) (gpucore.RenderTarget, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("gpu: invalid render target size %dx%d", width, height)
	}
	hf, err := halTextureFormat(format)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.live() {
		return nil, gpucore.ErrDeviceClosed
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         "render_target",
		Size:          hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1}, //nolint:gosec // validated positive
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        hf,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create render target: %w", err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         "render_target_view",
		Format:        hf,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return nil, fmt.Errorf("gpu: create render target view: %w", err)
	}
	return &target{dev: d, width: width, height: height, format: format, tex: tex, view: view}, nil
}

// DestroyRenderTarget releases t. Foreign targets are ignored.
func (d *Device) DestroyRenderTarget(t gpucore.RenderTarget) {
	tg, ok := t.(*target)
	if !ok || tg.dev != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil || tg.tex == nil {
		return
	}
	d.device.DestroyTextureView(tg.view)
	d.device.DestroyTexture(tg.tex)
	tg.view, tg.tex = nil, nil
}

var errTargetDestroyed = errors.New("gpu: render target was destroyed")
