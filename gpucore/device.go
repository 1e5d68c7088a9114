package gpucore

import (
	"errors"
	"image"
	"strconv"
)

var (
	// ErrNoDevice is returned when no compatible GPU device is found.
	ErrNoDevice = errors.New("gpucore: no compatible GPU device found")

	// ErrDeviceClosed is returned by operations on a closed device.
	ErrDeviceClosed = errors.New("gpucore: device is closed")

	// ErrForeignResource is returned when a resource created by another
	// device is passed to a device.
	ErrForeignResource = errors.New("gpucore: resource belongs to another device")
)

// Library resolves named programs.
type Library interface {
	// Lookup returns the program with the given name.
	Lookup(name string) (Program, bool)

	// Names returns all program names in the library, sorted.
	Names() []string
}

// Buffer is a device-owned linear allocation.
type Buffer interface {
	Label() string
	Size() uint64
}

// ComputePipeline is a compiled, dispatch-ready compute program.
type ComputePipeline interface {
	Label() string

	// Workgroup returns the invocation tile the pipeline was compiled with.
	Workgroup() [2]uint32
}

// RenderPipeline is a compiled vertex+fragment pair.
type RenderPipeline interface {
	Label() string
}

// RenderTarget is a device-specific color attachment.
type RenderTarget interface {
	Size() (width, height int)
}

// CommandBuffer is a finished, submittable command recording.
type CommandBuffer interface {
	Label() string
}

// Binding binds one buffer at the index of its position in a binding list.
type Binding struct {
	Buffer Buffer
}

// Bind is shorthand for building a binding list.
func Bind(buffers ...Buffer) []Binding {
	out := make([]Binding, len(buffers))
	for i, b := range buffers {
		out[i] = Binding{Buffer: b}
	}
	return out
}

// ComputePass records dispatches. Dispatches recorded in one pass, and in
// consecutive passes of one encoder, execute in recording order with
// storage writes of earlier dispatches visible to later ones.
type ComputePass interface {
	SetPipeline(p ComputePipeline)
	SetBindings(bindings []Binding)
	Dispatch(x, y, z uint32)
	End()
}

// DrawCall is a single draw of a render pipeline into a target.
type DrawCall struct {
	Pipeline    RenderPipeline
	Vertices    Buffer
	VertexCount uint32
	Bindings    []Binding
	Target      RenderTarget
}

// CommandEncoder records commands into a command buffer.
//
// Recording errors are deferred and reported by Finish.
type CommandEncoder interface {
	BeginComputePass(label string) ComputePass
	CopyBufferToBuffer(src, dst Buffer, size uint64)
	Draw(call *DrawCall)
	Finish() (CommandBuffer, error)
}

// Device is the host graphics subsystem as seen by the engine.
//
// Implementations must be safe for concurrent use.
type Device interface {
	Info() AdapterInfo
	Limits() Limits
	Library() Library

	CreateBuffer(desc *BufferDesc) (Buffer, error)
	DestroyBuffer(b Buffer)

	// WriteBuffer schedules a host-to-device write ordered with Submit.
	WriteBuffer(b Buffer, offset uint64, data []byte) error

	// ReadBuffer returns the buffer contents after all previously
	// submitted work has completed. It blocks the calling goroutine.
	ReadBuffer(b Buffer) ([]byte, error)

	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipeline, error)
	DestroyComputePipeline(p ComputePipeline)
	CreateRenderPipeline(desc *RenderPipelineDesc) (RenderPipeline, error)
	DestroyRenderPipeline(p RenderPipeline)

	// CreateRenderTarget allocates an offscreen color attachment.
	CreateRenderTarget(width, height int, format TextureFormat) (RenderTarget, error)
	DestroyRenderTarget(t RenderTarget)

	// ReadTarget returns the target pixels after all previously submitted
	// work has completed. It blocks the calling goroutine.
	ReadTarget(t RenderTarget) (*image.RGBA, error)

	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Submit enqueues a command buffer. The returned submission completes
	// when the device reports the work done.
	Submit(cb CommandBuffer) (*Submission, error)

	// Close waits for submitted work and releases the device.
	Close()
}

// ShaderError is returned by devices when a program is rejected during
// pipeline creation. Diagnostic carries the compiler or driver message.
type ShaderError struct {
	Program    string
	Stage      Stage
	Diagnostic string
}

func (e *ShaderError) Error() string {
	return "gpucore: " + e.Stage.String() + " program " + strconv.Quote(e.Program) + ": " + e.Diagnostic
}
