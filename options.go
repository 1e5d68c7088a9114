package grayscott

import (
	"github.com/gogpu/gpucontext"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/grayscott/gpucore"
	"github.com/gogpu/grayscott/sim"
)

// Backend selects the device a Session opens when none is injected.
type Backend int

const (
	// BackendAuto opens the GPU and falls back to the CPU device when no
	// adapter is found.
	BackendAuto Backend = iota

	// BackendGPU requires a GPU adapter.
	BackendGPU

	// BackendSoftware runs every program on the CPU device.
	BackendSoftware
)

// String returns the flag spelling of the backend.
func (b Backend) String() string {
	switch b {
	case BackendGPU:
		return "gpu"
	case BackendSoftware:
		return "software"
	default:
		return "auto"
	}
}

// Defaults applied by NewSession.
const (
	DefaultGridSize       = 256
	DefaultStepsPerFrame  = 20
	DefaultTimestep       = 1.0
	DefaultInFlightBudget = 2
)

// Option configures a Session during creation.
//
// Example:
//
//	s, err := grayscott.NewSession(
//		grayscott.WithGridSize(512, 512),
//		grayscott.WithParams(sim.Params{F: 0.046, K: 0.065, Du: 0.2, Dv: 0.1}),
//	)
type Option func(*sessionOptions)

type sessionOptions struct {
	width, height   int
	renderW         int
	renderH         int
	steps           int
	timestep        float32
	budget          int
	params          sim.Params
	seed            float32
	workgroup       [2]uint32
	registerer      prometheus.Registerer
	device          gpucore.Device
	provider        gpucontext.DeviceProvider
	backend         Backend
	onPresent       func(seq uint64)
	softwareWorkers int
}

func defaultOptions() sessionOptions {
	return sessionOptions{
		width:    DefaultGridSize,
		height:   DefaultGridSize,
		steps:    DefaultStepsPerFrame,
		timestep: DefaultTimestep,
		budget:   DefaultInFlightBudget,
		params:   sim.DefaultParams(),
	}
}

// WithGridSize sets the simulation grid dimensions.
func WithGridSize(width, height int) Option {
	return func(o *sessionOptions) {
		o.width, o.height = width, height
	}
}

// WithRenderSize sets the size of the offscreen image the quad is drawn
// into. The default is the grid size.
func WithRenderSize(width, height int) Option {
	return func(o *sessionOptions) {
		o.renderW, o.renderH = width, height
	}
}

// WithStepsPerFrame sets how many steps each simulation batch advances.
func WithStepsPerFrame(n int) Option {
	return func(o *sessionOptions) {
		o.steps = n
	}
}

// WithTimestep sets the integration step of every simulation step.
func WithTimestep(dt float32) Option {
	return func(o *sessionOptions) {
		o.timestep = dt
	}
}

// WithInFlightBudget bounds the number of batches with outstanding GPU
// work. The default equals the number of field buffers.
func WithInFlightBudget(n int) Option {
	return func(o *sessionOptions) {
		o.budget = n
	}
}

// WithParams sets the initial reaction and diffusion parameters.
func WithParams(p sim.Params) Option {
	return func(o *sessionOptions) {
		o.params = p
	}
}

// WithSeed sets the value of the initial seeding pass.
func WithSeed(seed float32) Option {
	return func(o *sessionOptions) {
		o.seed = seed
	}
}

// WithWorkgroup overrides the compute tile. It is clamped to the device
// limits.
func WithWorkgroup(tile [2]uint32) Option {
	return func(o *sessionOptions) {
		o.workgroup = tile
	}
}

// WithRegisterer registers the frame controller metrics with reg.
// Without it no metrics are collected.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *sessionOptions) {
		o.registerer = reg
	}
}

// WithDevice runs the session on dev instead of opening one. The session
// does not close an injected device.
func WithDevice(dev gpucore.Device) Option {
	return func(o *sessionOptions) {
		o.device = dev
	}
}

// WithDeviceProvider runs the session on a GPU device owned by the host
// application, such as a gogpu window. The provider's device must be a
// *wgpu.Device. Closing the session leaves the host device open.
// WithDevice takes precedence.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *sessionOptions) {
		o.provider = p
	}
}

// WithBackend selects the device opened when none is injected.
func WithBackend(b Backend) Option {
	return func(o *sessionOptions) {
		o.backend = b
	}
}

// WithSoftwareWorkers sets the worker count of the CPU device.
// Zero uses GOMAXPROCS.
func WithSoftwareWorkers(n int) Option {
	return func(o *sessionOptions) {
		o.softwareWorkers = n
	}
}

// WithOnPresent registers a callback run after each batch result has been
// copied into the render-visible texture. It runs on the controller worker
// and must not block.
func WithOnPresent(fn func(seq uint64)) Option {
	return func(o *sessionOptions) {
		o.onPresent = fn
	}
}
