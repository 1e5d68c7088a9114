package grayscott

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/gogpu/grayscott/frame"
	"github.com/gogpu/grayscott/gpucore"
	"github.com/gogpu/grayscott/internal/gpu"
	"github.com/gogpu/grayscott/internal/software"
	"github.com/gogpu/grayscott/pipeline"
	"github.com/gogpu/grayscott/present"
	"github.com/gogpu/grayscott/sim"
)

// Session is an explicitly constructed simulation context: one device, one
// pipeline cache, one stepper, the render-visible texture with its
// renderer, and the frame controller driving them.
type Session struct {
	dev        gpucore.Device
	ownsDevice bool
	cache      *pipeline.Cache
	stepper    *sim.Stepper
	texture    *present.Texture
	renderer   *present.Renderer
	controller *frame.Controller

	closeOnce sync.Once
	closeErr  error
}

// NewSession opens a device (or uses the injected one), registers every
// program, seeds the field and starts the frame controller. A missing
// device or program is fatal and returned here.
func NewSession(opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.width <= 0 || o.height <= 0 {
		return nil, fmt.Errorf("grayscott: invalid grid size %dx%d", o.width, o.height)
	}
	if !(o.timestep > 0) || math.IsInf(float64(o.timestep), 0) {
		return nil, fmt.Errorf("grayscott: timestep %v, need a positive finite value", o.timestep)
	}
	if o.renderW <= 0 || o.renderH <= 0 {
		o.renderW, o.renderH = o.width, o.height
	}
	log := Logger()

	s := &Session{dev: o.device}
	if s.dev == nil {
		dev, err := openDevice(o)
		if err != nil {
			return nil, err
		}
		s.dev, s.ownsDevice = dev, true
	}

	if err := s.build(o); err != nil {
		s.release()
		return nil, err
	}
	info := s.dev.Info()
	log.Info("grayscott: session started",
		"device", info.Name, "backend", info.Backend,
		"grid", fmt.Sprintf("%dx%d", o.width, o.height),
		"workgroup", s.cache.Workgroup(), "pipelines", s.cache.Len())
	return s, nil
}

func openDevice(o sessionOptions) (gpucore.Device, error) {
	log := Logger()
	if o.provider != nil {
		// The wrapper is closed with the session; the host device is not.
		dev, err := gpu.FromProvider(o.provider, gpu.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("grayscott: %w", err)
		}
		return dev, nil
	}
	cpu := func() gpucore.Device {
		return software.New(software.WithWorkers(o.softwareWorkers), software.WithLogger(log))
	}
	switch o.backend {
	case BackendSoftware:
		return cpu(), nil
	case BackendGPU:
		dev, err := gpu.Open(gpu.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("grayscott: %w", err)
		}
		return dev, nil
	default:
		dev, err := gpu.Open(gpu.WithLogger(log))
		if err == nil {
			return dev, nil
		}
		if !errors.Is(err, gpucore.ErrNoDevice) {
			return nil, fmt.Errorf("grayscott: %w", err)
		}
		log.Warn("grayscott: no GPU adapter, using CPU device", "err", err)
		return cpu(), nil
	}
}

func (s *Session) build(o sessionOptions) error {
	log := Logger()
	var cacheOpts []pipeline.Option
	if o.workgroup != [2]uint32{} {
		cacheOpts = append(cacheOpts, pipeline.WithWorkgroup(o.workgroup))
	}
	cacheOpts = append(cacheOpts, pipeline.WithLogger(log))

	var err error
	if s.cache, err = pipeline.New(s.dev, cacheOpts...); err != nil {
		return err
	}
	s.stepper, err = sim.New(s.cache, sim.Config{
		Width:  o.width,
		Height: o.height,
		Params: o.params,
		Seed:   o.seed,
		Logger: log,
	})
	if err != nil {
		return err
	}
	if s.texture, err = present.NewTexture(s.dev, o.width, o.height); err != nil {
		return err
	}
	if s.renderer, err = present.NewRenderer(s.cache, s.texture, o.renderW, o.renderH, log); err != nil {
		return err
	}
	// Registration ends here; the hot path only resolves handles.
	s.cache.Seal()

	var metrics *frame.Metrics
	if o.registerer != nil {
		metrics = frame.NewMetrics(o.registerer)
	}
	s.controller, err = frame.New(s.stepper, s.dev, s.texture.Buffer(), frame.Config{
		Steps:     o.steps,
		Timestep:  o.timestep,
		Budget:    o.budget,
		Metrics:   metrics,
		OnPresent: o.onPresent,
		Logger:    log,
	})
	return err
}

// Tick is one display refresh of the simulation side: it issues a batch
// when the in-flight budget allows and drops the tick otherwise.
func (s *Session) Tick() frame.TickResult { return s.controller.Tick() }

// Draw renders the render-visible texture without waiting for the GPU.
// The latest finished image is available from Frame.
func (s *Session) Draw() error { return s.renderer.Draw() }

// Frame returns the most recent finished image, or nil before the first
// Draw completed.
func (s *Session) Frame() *image.RGBA { return s.renderer.Frame() }

// Capture draws and waits for the image. It blocks and is meant for
// headless use.
func (s *Session) Capture() (*image.RGBA, error) { return s.renderer.Capture() }

// Reseed schedules a reseed with seed before the next batch.
func (s *Session) Reseed(seed float32) { s.controller.Reseed(seed) }

// SetFeedKill updates F and K; the next batch picks them up.
func (s *Session) SetFeedKill(feed, kill float32) { s.stepper.Params().SetFeedKill(feed, kill) }

// Params returns the parameters the next batch will use.
func (s *Session) Params() sim.Params { return s.stepper.Params().Snapshot() }

// Field reads back the render-visible texture. It blocks on the device.
func (s *Session) Field() (*sim.Grid, error) { return s.texture.Read() }

// Stats returns frame controller counters.
func (s *Session) Stats() frame.Stats { return s.controller.Stats() }

// Err returns the first asynchronous failure. A failed session issues no
// further batches.
func (s *Session) Err() error { return s.controller.Err() }

// Device returns the device the session runs on.
func (s *Session) Device() gpucore.Device { return s.dev }

// Close waits for in-flight batches and releases every resource. It is
// safe to call more than once and returns the session's fatal error, if any.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.release()
	})
	return s.closeErr
}

func (s *Session) release() error {
	var err error
	if s.controller != nil {
		err = s.controller.Close()
	}
	if s.renderer != nil {
		s.renderer.Close()
	}
	if s.texture != nil {
		s.texture.Release()
	}
	if s.stepper != nil {
		s.stepper.Release()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.ownsDevice && s.dev != nil {
		s.dev.Close()
	}
	return err
}
