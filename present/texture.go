package present

import (
	"fmt"

	"github.com/gogpu/grayscott/gpucore"
	"github.com/gogpu/grayscott/sim"
)

// Texture is the presentation-owned copy of the field. Only the frame
// controller's copy writes it and only the Renderer's draw reads it.
type Texture struct {
	dev    gpucore.Device
	buf    gpucore.Buffer
	width  int
	height int
}

// NewTexture allocates a display texture for a width x height field.
func NewTexture(dev gpucore.Device, width, height int) (*Texture, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("present: invalid texture size %dx%d", width, height)
	}
	buf, err := dev.CreateBuffer(&gpucore.BufferDesc{
		Label: "display_texture",
		Size:  uint64(width) * uint64(height) * sim.CellSize, //nolint:gosec // positive size
		Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst | gpucore.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("present: allocate display texture: %w", err)
	}
	return &Texture{dev: dev, buf: buf, width: width, height: height}, nil
}

// Buffer returns the device buffer backing the texture.
func (t *Texture) Buffer() gpucore.Buffer { return t.buf }

// Size returns the field dimensions.
func (t *Texture) Size() (width, height int) { return t.width, t.height }

// Read returns a host copy of the texture after prior device work.
func (t *Texture) Read() (*sim.Grid, error) {
	data, err := t.dev.ReadBuffer(t.buf)
	if err != nil {
		return nil, fmt.Errorf("present: read display texture: %w", err)
	}
	return sim.DecodeGrid(data, t.width, t.height)
}

// Release destroys the texture buffer.
func (t *Texture) Release() {
	if t.buf != nil {
		t.dev.DestroyBuffer(t.buf)
		t.buf = nil
	}
}
