package software

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/grayscott/gpucore"
	"github.com/gogpu/grayscott/internal/parallel"
)

// DefaultLimits are the limits reported by a software device.
var DefaultLimits = gpucore.Limits{
	MaxWorkgroupSize:        [2]uint32{256, 256},
	MaxWorkgroupInvocations: 256,
	PreferredWorkgroup:      gpucore.DefaultWorkgroup,
	MaxBufferSize:           1 << 30,
}

// Option configures a Device.
type Option func(*options)

type options struct {
	workers int
	gate    *Gate
	limits  gpucore.Limits
	library gpucore.Library
	logger  *slog.Logger
}

// WithWorkers sets the number of dispatch workers. Zero uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithGate holds every command buffer until the gate releases it.
func WithGate(g *Gate) Option {
	return func(o *options) { o.gate = g }
}

// WithLimits overrides the reported device limits.
func WithLimits(l gpucore.Limits) Option {
	return func(o *options) { o.limits = l }
}

// WithLibrary replaces the program library. Programs without a Go
// implementation fail to compile.
func WithLibrary(lib gpucore.Library) Option {
	return func(o *options) { o.library = lib }
}

// WithLogger sets the device logger. Nil disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Device is a CPU implementation of gpucore.Device.
//
// Device is safe for concurrent use.
type Device struct {
	opts   options
	log    *slog.Logger
	queue  *queue
	pool   *parallel.WorkerPool
	nextID atomic.Uint64
	closed atomic.Bool

	closeOnce sync.Once
}

var _ gpucore.Device = (*Device)(nil)

// New creates a software device.
func New(opts ...Option) *Device {
	o := options{limits: DefaultLimits}
	for _, opt := range opts {
		opt(&o)
	}
	if o.library == nil {
		o.library = Library()
	}
	log := o.logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	d := &Device{
		opts:  o,
		log:   log,
		queue: newQueue(),
		pool:  parallel.NewWorkerPool(o.workers),
	}
	log.Info("software: device created", "workers", d.pool.Workers(), "gated", o.gate != nil)
	return d
}

// Info describes the software device.
func (d *Device) Info() gpucore.AdapterInfo {
	return gpucore.AdapterInfo{Name: "software", Backend: "cpu"}
}

// Limits returns the configured device limits.
func (d *Device) Limits() gpucore.Limits { return d.opts.limits }

// Library returns the program library.
func (d *Device) Library() gpucore.Library { return d.opts.library }

func (d *Device) buffer(b gpucore.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf.dev != d {
		return nil, fmt.Errorf("buffer: %w", gpucore.ErrForeignResource)
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

// CreateBuffer allocates a zero-filled buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.Buffer, error) {
	if d.closed.Load() {
		return nil, gpucore.ErrDeviceClosed
	}
	if desc.Size == 0 || desc.Size > d.opts.limits.MaxBufferSize {
		return nil, fmt.Errorf("software: buffer %q size %d out of range (max %d)",
			desc.Label, desc.Size, d.opts.limits.MaxBufferSize)
	}
	return &buffer{dev: d, label: desc.Label, usage: desc.Usage, data: make([]byte, desc.Size)}, nil
}

// DestroyBuffer is a no-op; host memory is reclaimed by the garbage collector.
func (d *Device) DestroyBuffer(gpucore.Buffer) {}

// WriteBuffer copies data now and applies it in queue order.
func (d *Device) WriteBuffer(b gpucore.Buffer, offset uint64, data []byte) error {
	buf, err := d.buffer(b)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > buf.Size() {
		return fmt.Errorf("software: write of %d bytes at %d overflows %q (%d)", len(data), offset, buf.label, buf.Size())
	}
	payload := append([]byte(nil), data...)
	if !d.queue.push(func() { copy(buf.data[offset:], payload) }) {
		return gpucore.ErrDeviceClosed
	}
	return nil
}

// ReadBuffer returns a copy of the buffer after prior work has run.
func (d *Device) ReadBuffer(b gpucore.Buffer) ([]byte, error) {
	buf, err := d.buffer(b)
	if err != nil {
		return nil, err
	}
	reply := make(chan []byte, 1)
	if !d.queue.push(func() { reply <- append([]byte(nil), buf.data...) }) {
		return nil, gpucore.ErrDeviceClosed
	}
	return <-reply, nil
}

// CreateComputePipeline binds a compute program to its Go kernel.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipeline, error) {
	if d.closed.Load() {
		return nil, gpucore.ErrDeviceClosed
	}
	prog := desc.Program
	if prog.Stage != gpucore.StageCompute {
		return nil, &gpucore.ShaderError{Program: prog.Name, Stage: prog.Stage, Diagnostic: "not a compute program"}
	}
	kernel, ok := computeKernels[prog.Name]
	if !ok {
		return nil, &gpucore.ShaderError{Program: prog.Name, Stage: prog.Stage, Diagnostic: "no compute kernel implements this entry point"}
	}
	wg := desc.Workgroup
	lim := d.opts.limits
	if wg[0] == 0 || wg[1] == 0 || wg[0] > lim.MaxWorkgroupSize[0] || wg[1] > lim.MaxWorkgroupSize[1] ||
		wg[0]*wg[1] > lim.MaxWorkgroupInvocations {
		return nil, &gpucore.ShaderError{
			Program:    prog.Name,
			Stage:      prog.Stage,
			Diagnostic: fmt.Sprintf("workgroup %dx%d exceeds device limits", wg[0], wg[1]),
		}
	}
	return &computePipeline{dev: d, label: desc.Label, program: prog, kernel: kernel, workgroup: wg}, nil
}

// DestroyComputePipeline is a no-op.
func (d *Device) DestroyComputePipeline(gpucore.ComputePipeline) {}

// CreateRenderPipeline binds a vertex/fragment pair to the rasterizer.
func (d *Device) CreateRenderPipeline(desc *gpucore.RenderPipelineDesc) (gpucore.RenderPipeline, error) {
	if d.closed.Load() {
		return nil, gpucore.ErrDeviceClosed
	}
	if desc.Vertex.Stage != gpucore.StageVertex {
		return nil, &gpucore.ShaderError{Program: desc.Vertex.Name, Stage: desc.Vertex.Stage, Diagnostic: "not a vertex program"}
	}
	if desc.Fragment.Stage != gpucore.StageFragment {
		return nil, &gpucore.ShaderError{Program: desc.Fragment.Name, Stage: desc.Fragment.Stage, Diagnostic: "not a fragment program"}
	}
	vs, ok := vertexKernels[desc.Vertex.Name]
	if !ok {
		return nil, &gpucore.ShaderError{Program: desc.Vertex.Name, Stage: gpucore.StageVertex, Diagnostic: "no vertex kernel implements this entry point"}
	}
	fs, ok := fragmentKernels[desc.Fragment.Name]
	if !ok {
		return nil, &gpucore.ShaderError{Program: desc.Fragment.Name, Stage: gpucore.StageFragment, Diagnostic: "no fragment kernel implements this entry point"}
	}
	if err := desc.Layout.Validate(); err != nil {
		return nil, err
	}
	return &renderPipeline{
		dev:      d,
		label:    desc.Label,
		fragment: desc.Fragment,
		vertex:   vs,
		shade:    fs,
		layout:   desc.Layout,
		topology: desc.Topology,
	}, nil
}

// DestroyRenderPipeline is a no-op.
func (d *Device) DestroyRenderPipeline(gpucore.RenderPipeline) {}

// CreateRenderTarget allocates an offscreen image.
func (d *Device) CreateRenderTarget(width, height int, _ gpucore.TextureFormat) (gpucore.RenderTarget, error) {
	if d.closed.Load() {
		return nil, gpucore.ErrDeviceClosed
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("software: invalid render target size %dx%d", width, height)
	}
	return &target{dev: d, img: image.NewRGBA(image.Rect(0, 0, width, height))}, nil
}

// DestroyRenderTarget is a no-op.
func (d *Device) DestroyRenderTarget(gpucore.RenderTarget) {}

// ReadTarget returns a copy of the target pixels after prior work has run.
func (d *Device) ReadTarget(t gpucore.RenderTarget) (*image.RGBA, error) {
	tgt, ok := t.(*target)
	if !ok || tgt.dev != d {
		return nil, fmt.Errorf("render target: %w", gpucore.ErrForeignResource)
	}
	reply := make(chan *image.RGBA, 1)
	ok = d.queue.push(func() {
		img := image.NewRGBA(tgt.img.Bounds())
		copy(img.Pix, tgt.img.Pix)
		reply <- img
	})
	if !ok {
		return nil, gpucore.ErrDeviceClosed
	}
	return <-reply, nil
}

// CreateCommandEncoder starts a new command recording.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	if d.closed.Load() {
		return nil, gpucore.ErrDeviceClosed
	}
	return &encoder{dev: d, label: label}, nil
}

// Submit enqueues cb. The submission completes after its commands ran.
func (d *Device) Submit(cb gpucore.CommandBuffer) (*gpucore.Submission, error) {
	buf, ok := cb.(*commandBuffer)
	if !ok {
		return nil, fmt.Errorf("command buffer: %w", gpucore.ErrForeignResource)
	}
	if buf.submitted {
		return nil, fmt.Errorf("software: command buffer %q submitted twice", buf.label)
	}
	buf.submitted = true

	sub := gpucore.NewSubmission(d.nextID.Add(1), buf.label)
	ok = d.queue.push(func() {
		if g := d.opts.gate; g != nil {
			g.wait()
		}
		err := d.execute(buf)
		if err != nil {
			d.log.Warn("software: submission failed", "id", sub.ID(), "label", sub.Label(), "err", err)
		}
		sub.Complete(err)
	})
	if !ok {
		return nil, gpucore.ErrDeviceClosed
	}
	return sub, nil
}

func (d *Device) execute(cb *commandBuffer) error {
	for _, c := range cb.cmds {
		if err := c.execute(d); err != nil {
			return err
		}
	}
	return nil
}

// WaitIdle blocks until all queued work has run or ctx ends.
func (d *Device) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	if !d.queue.push(func() { close(done) }) {
		return gpucore.ErrDeviceClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close runs all queued work and releases the device. A gate, if any, is
// opened so held command buffers can finish.
func (d *Device) Close() {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		if d.opts.gate != nil {
			d.opts.gate.Open()
		}
		d.queue.close()
		d.pool.Close()
		d.log.Info("software: device closed", "submissions", d.nextID.Load())
	})
}
