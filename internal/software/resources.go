package software

import (
	"image"

	"github.com/gogpu/grayscott/gpucore"
)

type buffer struct {
	dev   *Device
	label string
	usage gpucore.BufferUsage
	data  []byte // touched only on the queue goroutine after creation
}

func (b *buffer) Label() string { return b.label }
func (b *buffer) Size() uint64  { return uint64(len(b.data)) }

type computePipeline struct {
	dev       *Device
	label     string
	program   gpucore.Program
	kernel    computeKernel
	workgroup [2]uint32
}

func (p *computePipeline) Label() string        { return p.label }
func (p *computePipeline) Workgroup() [2]uint32 { return p.workgroup }

type renderPipeline struct {
	dev      *Device
	label    string
	fragment gpucore.Program
	vertex   vertexKernel
	shade    fragmentKernel
	layout   gpucore.VertexLayout
	topology gpucore.Topology
}

func (p *renderPipeline) Label() string { return p.label }

// target is an offscreen RGBA image. The software device stores pixels in
// RGBA order regardless of the requested format.
type target struct {
	dev *Device
	img *image.RGBA
}

func (t *target) Size() (int, int) {
	b := t.img.Bounds()
	return b.Dx(), b.Dy()
}

type commandBuffer struct {
	label     string
	cmds      []command
	submitted bool
}

func (c *commandBuffer) Label() string { return c.label }
