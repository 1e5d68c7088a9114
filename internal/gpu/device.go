// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/grayscott/gpucore"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// fenceTimeout bounds the wait for a single submission.
const fenceTimeout = 5 * time.Second

// DefaultLimits are the WebGPU baseline limits.
var DefaultLimits = gpucore.Limits{
	MaxWorkgroupSize:        [2]uint32{256, 256},
	MaxWorkgroupInvocations: 256,
	PreferredWorkgroup:      [2]uint32{32, 8},
	MaxBufferSize:           256 << 20,
}

// Option configures a Device.
type Option func(*options)

type options struct {
	limits  gpucore.Limits
	library gpucore.Library
	logger  *slog.Logger
}

// WithLimits overrides the limits reported to the engine.
func WithLimits(l gpucore.Limits) Option {
	return func(o *options) { o.limits = l }
}

// WithLibrary replaces the built-in WGSL program library.
func WithLibrary(lib gpucore.Library) Option {
	return func(o *options) { o.library = lib }
}

// WithLogger sets a device-scoped logger. Without it the package logger
// is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{limits: DefaultLimits}
	for _, opt := range opts {
		opt(&o)
	}
	if o.library == nil {
		o.library = Library()
	}
	if o.logger == nil {
		o.logger = slogger()
	}
	return o
}

// Device implements gpucore.Device on a wgpu HAL device.
//
// All HAL calls are serialized by mu. Submissions are tracked by a fence
// each; a goroutine per submission waits on the fence, releases transient
// objects and completes the gpucore.Submission.
type Device struct {
	mu       sync.Mutex
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool
	closed   bool

	info gpucore.AdapterInfo
	opts options
	log  *slog.Logger

	nextID  atomic.Uint64
	pending sync.WaitGroup
}

var _ gpucore.Device = (*Device)(nil)

// Open creates a Vulkan instance and opens the first discrete or
// integrated adapter, falling back to whatever adapter is present.
// It returns an error wrapping gpucore.ErrNoDevice when none is usable.
func Open(opts ...Option) (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", gpucore.ErrNoDevice)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %v", gpucore.ErrNoDevice, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no GPU adapters found", gpucore.ErrNoDevice)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: open device: %v", gpucore.ErrNoDevice, err)
	}

	o := newOptions(opts)
	d := &Device{
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
		info:     gpucore.AdapterInfo{Name: selected.Info.Name, Backend: "vulkan"},
		opts:     o,
		log:      o.logger,
	}
	d.log.Info("gpu: device opened", "adapter", selected.Info.Name)
	return d, nil
}

// ErrUnsupportedProvider is returned by FromProvider when the provider's
// device is not a wgpu device with a HAL backend.
var ErrUnsupportedProvider = errors.New("gpu: provider does not expose a wgpu HAL device")

// FromProvider wraps a device owned by the host application. The provider
// device must be a *wgpu.Device; Close leaves it and its queue alive.
func FromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrUnsupportedProvider)
	}
	wd, ok := provider.Device().(*wgpu.Device)
	if !ok || wd == nil {
		return nil, fmt.Errorf("%w: device is %T", ErrUnsupportedProvider, provider.Device())
	}
	device, queue := wd.HalDevice(), wd.HalQueue()
	if device == nil || queue == nil {
		return nil, fmt.Errorf("%w: device released or without HAL backend", ErrUnsupportedProvider)
	}

	name := provider.AdapterInfo().Name
	if name == "" {
		name = "shared"
	}
	o := newOptions(opts)
	d := &Device{
		device:   device,
		queue:    queue,
		external: true,
		info:     gpucore.AdapterInfo{Name: name, Backend: "vulkan"},
		opts:     o,
		log:      o.logger,
	}
	d.log.Debug("gpu: using shared device", "adapter", name)
	return d, nil
}

// Info describes the adapter.
func (d *Device) Info() gpucore.AdapterInfo { return d.info }

// Limits returns the limits reported to the engine.
func (d *Device) Limits() gpucore.Limits { return d.opts.limits }

// Library returns the WGSL program library.
func (d *Device) Library() gpucore.Library { return d.opts.library }

// Close waits for submitted work, then releases the HAL device unless it
// is owned by a provider. Resources not destroyed by then are leaked to the
// driver teardown.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.pending.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.external && d.device != nil {
		d.device.Destroy()
	}
	if d.instance != nil {
		d.instance.Destroy()
	}
	d.device, d.queue, d.instance = nil, nil, nil
}

// live reports whether HAL calls may be issued. d.mu must be held.
func (d *Device) live() bool { return !d.closed && d.device != nil }

// transient holds HAL objects that must outlive one queue submission.
type transient struct {
	cmd        hal.CommandBuffer
	fence      hal.Fence
	bindGroups []hal.BindGroup
	buffers    []hal.Buffer
}

// encode records one HAL command buffer into t. d.mu must be held.
func (d *Device) encode(label string, t *transient, record func(enc hal.CommandEncoder) error) error {
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return fmt.Errorf("gpu: begin encoding: %w", err)
	}
	if err := record(enc); err != nil {
		enc.DiscardEncoding()
		return err
	}
	cmd, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	t.cmd = cmd
	return nil
}

// submit hands t.cmd to the queue with a fresh fence. d.mu must be held.
func (d *Device) submit(t *transient) error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("gpu: create fence: %w", err)
	}
	t.fence = fence
	if err := d.queue.Submit([]hal.CommandBuffer{t.cmd}, fence, 1); err != nil {
		return fmt.Errorf("gpu: submit: %w", err)
	}
	return nil
}

// wait blocks until the fence of t signals. d.mu must not be held.
func (d *Device) wait(t *transient) error {
	ok, err := d.device.Wait(t.fence, 1, fenceTimeout)
	if err != nil {
		return fmt.Errorf("gpu: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("gpu: GPU timeout after %v", fenceTimeout)
	}
	return nil
}

// release destroys the objects held by t.
func (d *Device) release(t *transient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseLocked(t)
}

func (d *Device) releaseLocked(t *transient) {
	if d.device == nil {
		return
	}
	for _, bg := range t.bindGroups {
		d.device.DestroyBindGroup(bg)
	}
	for _, b := range t.buffers {
		d.device.DestroyBuffer(b)
	}
	if t.cmd != nil {
		d.device.FreeCommandBuffer(t.cmd)
	}
	if t.fence != nil {
		d.device.DestroyFence(t.fence)
	}
	*t = transient{}
}

// track waits for t in the background and calls done with the result.
// d.mu must be held.
func (d *Device) track(t *transient, done func(error)) {
	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		err := d.wait(t)
		d.release(t)
		done(err)
	}()
}
