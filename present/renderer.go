package present

import (
	"encoding/binary"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gogpu/grayscott/gpucore"
	"github.com/gogpu/grayscott/pipeline"
)

// Render program names.
const (
	VertexProgram   = "vertex_main"
	FragmentProgram = "fragment_main"
)

// QuadLayout is the vertex layout of the quad: position (x, y, z) followed
// by texture coordinates (u, v).
var QuadLayout = gpucore.VertexLayout{
	Stride: 20,
	Attributes: []gpucore.VertexAttribute{
		{Location: 0, Format: gpucore.VertexFormatFloat32x3, Offset: 0},
		{Location: 1, Format: gpucore.VertexFormatFloat32x2, Offset: 12},
	},
}

// quadVertices is a full-viewport triangle strip. Texture row 0 is the top
// of the screen.
var quadVertices = [4][5]float32{
	{-1, -1, 0, 0, 1},
	{1, -1, 0, 1, 1},
	{-1, 1, 0, 0, 0},
	{1, 1, 0, 1, 0},
}

// Renderer draws a Texture into an offscreen target.
type Renderer struct {
	cache   *pipeline.Cache
	dev     gpucore.Device
	program pipeline.Handle
	texture *Texture
	quad    gpucore.Buffer
	view    gpucore.Buffer
	target  gpucore.RenderTarget
	log     *slog.Logger

	frame    atomic.Pointer[image.RGBA]
	readback atomic.Bool
	pending  sync.WaitGroup
	draws    atomic.Uint64
}

// NewRenderer registers the quad program with cache and allocates a
// width x height target.
func NewRenderer(cache *pipeline.Cache, tex *Texture, width, height int, log *slog.Logger) (*Renderer, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h, err := cache.RegisterRender(VertexProgram, FragmentProgram, QuadLayout)
	if err != nil {
		return nil, fmt.Errorf("present: register quad program: %w", err)
	}
	r := &Renderer{cache: cache, dev: cache.Device(), program: h, texture: tex, log: log}
	if err := r.allocate(width, height); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Renderer) allocate(width, height int) error {
	raw := make([]byte, 0, len(quadVertices)*20)
	for _, v := range quadVertices {
		for _, f := range v {
			raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(f))
		}
	}
	var err error
	r.quad, err = r.dev.CreateBuffer(&gpucore.BufferDesc{
		Label: "quad_vertices",
		Size:  uint64(len(raw)),
		Usage: gpucore.BufferUsageVertex | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("present: allocate quad: %w", err)
	}
	if err := r.dev.WriteBuffer(r.quad, 0, raw); err != nil {
		return fmt.Errorf("present: upload quad: %w", err)
	}

	tw, th := r.texture.Size()
	view := make([]byte, 16)
	binary.LittleEndian.PutUint32(view[0:], uint32(tw)) //nolint:gosec // positive size
	binary.LittleEndian.PutUint32(view[4:], uint32(th)) //nolint:gosec // positive size
	r.view, err = r.dev.CreateBuffer(&gpucore.BufferDesc{
		Label: "quad_view",
		Size:  uint64(len(view)),
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("present: allocate view parameters: %w", err)
	}
	if err := r.dev.WriteBuffer(r.view, 0, view); err != nil {
		return fmt.Errorf("present: upload view parameters: %w", err)
	}

	r.target, err = r.dev.CreateRenderTarget(width, height, pipeline.ColorFormat)
	if err != nil {
		return fmt.Errorf("present: allocate target: %w", err)
	}
	return nil
}

func (r *Renderer) encodeDraw(label string) (gpucore.CommandBuffer, error) {
	enc, err := r.dev.CreateCommandEncoder(label)
	if err != nil {
		return nil, fmt.Errorf("present: create encoder: %w", err)
	}
	enc.Draw(&gpucore.DrawCall{
		Pipeline:    r.cache.Render(r.program),
		Vertices:    r.quad,
		VertexCount: uint32(len(quadVertices)),
		Bindings:    gpucore.Bind(r.texture.Buffer(), r.view),
		Target:      r.target,
	})
	cb, err := enc.Finish()
	if err != nil {
		return nil, fmt.Errorf("present: encode %s: %w", label, err)
	}
	return cb, nil
}

// Draw records and submits one draw of the texture. It does not wait for
// the device. When no readback is in flight it also starts one, whose
// result later becomes visible through Frame.
func (r *Renderer) Draw() error {
	cb, err := r.encodeDraw("present_draw")
	if err != nil {
		return err
	}
	sub, err := r.dev.Submit(cb)
	if err != nil {
		return fmt.Errorf("present: submit draw: %w", err)
	}
	r.draws.Add(1)

	if r.readback.CompareAndSwap(false, true) {
		r.pending.Add(1)
		go r.readFrame(sub)
	}
	return nil
}

func (r *Renderer) readFrame(sub *gpucore.Submission) {
	defer r.pending.Done()
	defer r.readback.Store(false)
	<-sub.Done()
	if err := sub.Err(); err != nil {
		r.log.Warn("present: draw failed", "submission", sub.ID(), "err", err)
		return
	}
	img, err := r.dev.ReadTarget(r.target)
	if err != nil {
		r.log.Warn("present: frame readback failed", "err", err)
		return
	}
	r.frame.Store(img)
}

// Frame returns the most recently read back frame, or nil before the first
// readback finished. The image must not be modified.
func (r *Renderer) Frame() *image.RGBA { return r.frame.Load() }

// Capture draws the texture and waits for the resulting image. It blocks
// and is meant for headless output, not for display ticks.
func (r *Renderer) Capture() (*image.RGBA, error) {
	cb, err := r.encodeDraw("present_capture")
	if err != nil {
		return nil, err
	}
	if _, err := r.dev.Submit(cb); err != nil {
		return nil, fmt.Errorf("present: submit capture: %w", err)
	}
	img, err := r.dev.ReadTarget(r.target)
	if err != nil {
		return nil, fmt.Errorf("present: read target: %w", err)
	}
	return img, nil
}

// Draws returns the number of submitted draws.
func (r *Renderer) Draws() uint64 { return r.draws.Load() }

// Close waits for a pending readback and releases the renderer's buffers
// and target. The pipeline stays in the cache.
func (r *Renderer) Close() {
	r.pending.Wait()
	if r.quad != nil {
		r.dev.DestroyBuffer(r.quad)
		r.quad = nil
	}
	if r.view != nil {
		r.dev.DestroyBuffer(r.view)
		r.view = nil
	}
	if r.target != nil {
		r.dev.DestroyRenderTarget(r.target)
		r.target = nil
	}
}
