// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/grayscott/gpucore"
)

// command is one recorded operation, replayed into a HAL encoder at
// submission time.
type command interface {
	record(d *Device, enc hal.CommandEncoder, t *transient) error
}

type dispatchCmd struct {
	pass     string
	pipeline *computePipeline
	bindings []*buffer
	groups   [3]uint32
}

func entries(bufs []*buffer) []gputypes.BindGroupEntry {
	out := make([]gputypes.BindGroupEntry, len(bufs))
	for i, b := range bufs {
		out[i] = gputypes.BindGroupEntry{
			Binding: uint32(i), //nolint:gosec // binding lists are tiny
			Resource: gputypes.BufferBinding{
				Buffer: b.raw.NativeHandle(),
				Offset: 0,
				Size:   b.size,
			},
		}
	}
	return out
}

// record encodes one compute pass per dispatch so that storage writes of a
// dispatch are visible to the next.
func (c *dispatchCmd) record(d *Device, enc hal.CommandEncoder, t *transient) error {
	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   c.pipeline.label + "_bg",
		Layout:  c.pipeline.bindLayout,
		Entries: entries(c.bindings),
	})
	if err != nil {
		return fmt.Errorf("gpu: create bind group for %q: %w", c.pipeline.label, err)
	}
	t.bindGroups = append(t.bindGroups, bg)

	pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: c.pass})
	pass.SetPipeline(c.pipeline.raw)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(c.groups[0], c.groups[1], c.groups[2])
	pass.End()
	return nil
}

type copyCmd struct {
	src, dst *buffer
	size     uint64
}

func (c *copyCmd) record(_ *Device, enc hal.CommandEncoder, _ *transient) error {
	enc.CopyBufferToBuffer(c.src.raw, c.dst.raw, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: c.size}})
	return nil
}

type drawCmd struct {
	pipeline *renderPipeline
	vertices *buffer
	count    uint32
	bindings []*buffer
	target   *target
}

func (c *drawCmd) record(d *Device, enc hal.CommandEncoder, t *transient) error {
	if c.target.tex == nil {
		return errTargetDestroyed
	}
	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   c.pipeline.label + "_bg",
		Layout:  c.pipeline.bindLayout,
		Entries: entries(c.bindings),
	})
	if err != nil {
		return fmt.Errorf("gpu: create bind group for %q: %w", c.pipeline.label, err)
	}
	t.bindGroups = append(t.bindGroups, bg)

	rp := enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: c.pipeline.label,
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       c.target.view,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 0},
		}},
	})
	rp.SetPipeline(c.pipeline.raw)
	rp.SetBindGroup(0, bg, nil)
	rp.SetVertexBuffer(0, c.vertices.raw, 0)
	rp.Draw(c.count, 1, 0, 0)
	rp.End()
	c.target.drawn = true
	return nil
}

var errEncoderFinished = errors.New("gpu: encoder already finished")

type encoder struct {
	dev      *Device
	label    string
	cmds     []command
	err      error
	finished bool
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) BeginComputePass(label string) gpucore.ComputePass {
	return &computePass{enc: e, label: label}
}

func (e *encoder) CopyBufferToBuffer(src, dst gpucore.Buffer, size uint64) {
	s, err := e.dev.buffer(src)
	if err != nil {
		e.fail(err)
		return
	}
	d, err := e.dev.buffer(dst)
	if err != nil {
		e.fail(err)
		return
	}
	if size > s.size || size > d.size || size%4 != 0 {
		e.fail(fmt.Errorf("gpu: copy of %d bytes from %q (%d) to %q (%d) is out of range or unaligned",
			size, s.label, s.size, d.label, d.size))
		return
	}
	if s.usage&gpucore.BufferUsageCopySrc == 0 || d.usage&gpucore.BufferUsageCopyDst == 0 {
		e.fail(fmt.Errorf("gpu: copy %q -> %q requires CopySrc and CopyDst usage", s.label, d.label))
		return
	}
	e.cmds = append(e.cmds, &copyCmd{src: s, dst: d, size: size})
}

func (e *encoder) Draw(call *gpucore.DrawCall) {
	p, ok := call.Pipeline.(*renderPipeline)
	if !ok || p.dev != e.dev {
		e.fail(fmt.Errorf("draw pipeline: %w", gpucore.ErrForeignResource))
		return
	}
	t, ok := call.Target.(*target)
	if !ok || t.dev != e.dev {
		e.fail(fmt.Errorf("draw target: %w", gpucore.ErrForeignResource))
		return
	}
	vb, err := e.dev.buffer(call.Vertices)
	if err != nil {
		e.fail(err)
		return
	}
	bufs, err := e.dev.bindings(p.fragment, call.Bindings)
	if err != nil {
		e.fail(fmt.Errorf("draw %q: %w", p.label, err))
		return
	}
	e.cmds = append(e.cmds, &drawCmd{pipeline: p, vertices: vb, count: call.VertexCount, bindings: bufs, target: t})
}

func (e *encoder) Finish() (gpucore.CommandBuffer, error) {
	if e.finished {
		return nil, errEncoderFinished
	}
	e.finished = true
	if e.err != nil {
		return nil, e.err
	}
	return &commandBuffer{dev: e.dev, label: e.label, cmds: e.cmds}, nil
}

type computePass struct {
	enc      *encoder
	label    string
	pipeline *computePipeline
	bindings []*buffer
	ended    bool
}

func (p *computePass) SetPipeline(cp gpucore.ComputePipeline) {
	pipe, ok := cp.(*computePipeline)
	if !ok || pipe.dev != p.enc.dev {
		p.enc.fail(fmt.Errorf("pass %q pipeline: %w", p.label, gpucore.ErrForeignResource))
		return
	}
	p.pipeline = pipe
	p.bindings = nil
}

func (p *computePass) SetBindings(bindings []gpucore.Binding) {
	if p.pipeline == nil {
		p.enc.fail(fmt.Errorf("gpu: pass %q: bindings set before pipeline", p.label))
		return
	}
	bufs, err := p.enc.dev.bindings(p.pipeline.program, bindings)
	if err != nil {
		p.enc.fail(fmt.Errorf("pass %q: %w", p.label, err))
		return
	}
	p.bindings = bufs
}

func (p *computePass) Dispatch(x, y, z uint32) {
	if p.ended {
		p.enc.fail(fmt.Errorf("gpu: pass %q: dispatch after End", p.label))
		return
	}
	if p.pipeline == nil || p.bindings == nil {
		p.enc.fail(fmt.Errorf("gpu: pass %q: dispatch without pipeline and bindings", p.label))
		return
	}
	if x == 0 || y == 0 || z == 0 {
		return
	}
	p.enc.cmds = append(p.enc.cmds, &dispatchCmd{
		pass:     p.label,
		pipeline: p.pipeline,
		bindings: p.bindings,
		groups:   [3]uint32{x, y, z},
	})
}

func (p *computePass) End() { p.ended = true }

type commandBuffer struct {
	dev       *Device
	label     string
	cmds      []command
	submitted bool
}

func (c *commandBuffer) Label() string { return c.label }
