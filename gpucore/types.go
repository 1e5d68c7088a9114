package gpucore

import "fmt"

// Stage identifies the shader stage a program runs in.
type Stage uint8

const (
	// StageCompute is a compute kernel dispatched over a grid.
	StageCompute Stage = iota + 1

	// StageVertex is a vertex program of a render pipeline.
	StageVertex

	// StageFragment is a fragment program of a render pipeline.
	StageFragment
)

// String returns the lower-case stage name.
func (s Stage) String() string {
	switch s {
	case StageCompute:
		return "compute"
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// BindingType describes how a program accesses one bound buffer.
type BindingType uint8

const (
	// BindingUniform is a small read-only parameter block.
	BindingUniform BindingType = iota + 1

	// BindingReadOnlyStorage is a storage buffer the program only reads.
	BindingReadOnlyStorage

	// BindingStorage is a storage buffer the program reads and writes.
	BindingStorage
)

// Program is a named entry in a program library.
//
// Bindings lists the buffer bindings the program expects at group 0, in
// binding-index order. Source holds WGSL text for hardware devices; the
// software device ignores it.
type Program struct {
	Name     string
	Stage    Stage
	Source   string
	Bindings []BindingType
}

// BufferUsage is a bitmask of allowed buffer usages.
type BufferUsage uint32

const (
	BufferUsageMapRead BufferUsage = 1 << iota
	BufferUsageCopySrc
	BufferUsageCopyDst
	BufferUsageVertex
	BufferUsageUniform
	BufferUsageStorage
)

// BufferDesc describes a buffer to allocate.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// TextureFormat is the pixel format of a render target.
type TextureFormat uint8

const (
	// TextureFormatBGRA8Unorm is the fixed output color format of render
	// pipelines created by the engine.
	TextureFormatBGRA8Unorm TextureFormat = iota + 1

	// TextureFormatRGBA8Unorm is used by offscreen targets.
	TextureFormatRGBA8Unorm
)

// VertexFormat is the data type of one vertex attribute.
type VertexFormat uint8

const (
	VertexFormatFloat32x2 VertexFormat = iota + 1
	VertexFormatFloat32x3
	VertexFormatFloat32x4
)

// Size returns the attribute size in bytes.
func (f VertexFormat) Size() uint64 {
	switch f {
	case VertexFormatFloat32x2:
		return 8
	case VertexFormatFloat32x3:
		return 12
	case VertexFormatFloat32x4:
		return 16
	default:
		return 0
	}
}

// VertexAttribute describes one attribute inside a vertex.
type VertexAttribute struct {
	Location uint32
	Format   VertexFormat
	Offset   uint64
}

// VertexLayout describes the layout of a single interleaved vertex buffer.
type VertexLayout struct {
	Stride     uint64
	Attributes []VertexAttribute
}

// Validate reports whether every attribute fits inside the stride.
func (l VertexLayout) Validate() error {
	if l.Stride == 0 {
		return fmt.Errorf("gpucore: vertex layout stride is zero")
	}
	for _, a := range l.Attributes {
		size := a.Format.Size()
		if size == 0 {
			return fmt.Errorf("gpucore: vertex attribute %d has unknown format", a.Location)
		}
		if a.Offset+size > l.Stride {
			return fmt.Errorf("gpucore: vertex attribute %d overflows stride %d", a.Location, l.Stride)
		}
	}
	return nil
}

// Topology is the primitive topology of a draw.
type Topology uint8

const (
	TopologyTriangleList Topology = iota + 1
	TopologyTriangleStrip
)

// ComputePipelineDesc describes a compute pipeline to compile.
// Workgroup is the invocation tile size baked into the pipeline.
type ComputePipelineDesc struct {
	Label     string
	Program   Program
	Workgroup [2]uint32
}

// RenderPipelineDesc describes a render pipeline to compile.
type RenderPipelineDesc struct {
	Label       string
	Vertex      Program
	Fragment    Program
	Layout      VertexLayout
	Topology    Topology
	ColorFormat TextureFormat
}

// AdapterInfo identifies the device a [Device] runs on.
type AdapterInfo struct {
	Name    string
	Backend string
}

// Limits are the device limits the engine consults.
type Limits struct {
	// MaxWorkgroupSize is the maximum invocation count per dimension.
	MaxWorkgroupSize [2]uint32

	// MaxWorkgroupInvocations bounds x*y of a workgroup.
	MaxWorkgroupInvocations uint32

	// PreferredWorkgroup is the tile the device executes most efficiently.
	PreferredWorkgroup [2]uint32

	// MaxBufferSize is the largest buffer the device will allocate.
	MaxBufferSize uint64
}
