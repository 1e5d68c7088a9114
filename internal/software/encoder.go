package software

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/gogpu/grayscott/gpucore"
)

type command interface {
	execute(d *Device) error
}

type dispatchCmd struct {
	pipeline *computePipeline
	bindings []*buffer
	groups   [3]uint32
}

func (c *dispatchCmd) execute(d *Device) error {
	run, err := c.pipeline.kernel(c.bindings)
	if err != nil {
		return fmt.Errorf("dispatch %q: %w", c.pipeline.label, err)
	}
	tile := c.pipeline.workgroup
	gx, gy := c.groups[0], c.groups[1]
	// One task per workgroup row; rows never overlap in the cells they write.
	d.pool.ForEach(int(gy), func(row int) {
		y0 := uint32(row) * tile[1] //nolint:gosec // row < gy
		for y := y0; y < y0+tile[1]; y++ {
			for g := uint32(0); g < gx; g++ {
				x0 := g * tile[0]
				for x := x0; x < x0+tile[0]; x++ {
					run(x, y)
				}
			}
		}
	})
	return nil
}

type copyCmd struct {
	src, dst *buffer
	size     uint64
}

func (c *copyCmd) execute(*Device) error {
	copy(c.dst.data[:c.size], c.src.data[:c.size])
	return nil
}

type drawCmd struct {
	pipeline *renderPipeline
	vertices *buffer
	count    uint32
	bindings []*buffer
	target   *target
}

func (c *drawCmd) execute(*Device) error {
	verts, err := readVertices(c.vertices, c.pipeline.layout, c.count, c.pipeline.vertex)
	if err != nil {
		return fmt.Errorf("draw %q: %w", c.pipeline.label, err)
	}
	shade, err := c.pipeline.shade(c.bindings)
	if err != nil {
		return fmt.Errorf("draw %q: %w", c.pipeline.label, err)
	}
	img := c.target.img
	draw.Draw(img, img.Bounds(), image.Transparent, image.Point{}, draw.Src)
	for _, tri := range triangles(c.pipeline.topology, len(verts)) {
		fillTriangle(img, [3]vertexOut{verts[tri[0]], verts[tri[1]], verts[tri[2]]}, shade)
	}
	return nil
}

var errEncoderFinished = errors.New("software: encoder already finished")

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
	if size > s.Size() || size > d.Size() {
		e.fail(fmt.Errorf("software: copy of %d bytes from %q (%d) to %q (%d) is out of range",
			size, s.label, s.Size(), d.label, d.Size()))
		return
	}
	if s.usage&gpucore.BufferUsageCopySrc == 0 || d.usage&gpucore.BufferUsageCopyDst == 0 {
		e.fail(fmt.Errorf("software: copy %q -> %q requires CopySrc and CopyDst usage", s.label, d.label))
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
	return &commandBuffer{label: e.label, cmds: e.cmds}, nil
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
		p.enc.fail(fmt.Errorf("software: pass %q: bindings set before pipeline", p.label))
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
		p.enc.fail(fmt.Errorf("software: pass %q: dispatch after End", p.label))
		return
	}
	if p.pipeline == nil || p.bindings == nil {
		p.enc.fail(fmt.Errorf("software: pass %q: dispatch without pipeline and bindings", p.label))
		return
	}
	if x == 0 || y == 0 || z == 0 {
		return
	}
	p.enc.cmds = append(p.enc.cmds, &dispatchCmd{pipeline: p.pipeline, bindings: p.bindings, groups: [3]uint32{x, y, z}})
}

func (p *computePass) End() { p.ended = true }
