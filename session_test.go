package grayscott

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/grayscott/frame"
	"github.com/gogpu/grayscott/gpucore"
	"github.com/gogpu/grayscott/internal/gpu"
	"github.com/gogpu/grayscott/internal/software"
	"github.com/gogpu/grayscott/sim"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	s, err := NewSession(append([]Option{WithBackend(BackendSoftware)}, opts...)...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSession_InvalidGrid(t *testing.T) {
	for _, size := range [][2]int{{0, 16}, {16, 0}, {-4, 4}} {
		if _, err := NewSession(WithBackend(BackendSoftware), WithGridSize(size[0], size[1])); err == nil {
			t.Errorf("NewSession(%dx%d) succeeded", size[0], size[1])
		}
	}
}

func TestNewSession_InvalidTimestep(t *testing.T) {
	for _, dt := range []float32{0, -1, float32(math.Inf(1)), float32(math.NaN())} {
		if _, err := NewSession(WithBackend(BackendSoftware), WithGridSize(8, 8), WithTimestep(dt)); err == nil {
			t.Errorf("NewSession(timestep %v) succeeded", dt)
		}
	}
}

func TestNewSession_Defaults(t *testing.T) {
	s := newSession(t, WithGridSize(32, 24))

	if got := s.Params(); got != sim.DefaultParams() {
		t.Errorf("Params = %+v, want %+v", got, sim.DefaultParams())
	}
	if info := s.Device().Info(); info.Backend != "cpu" {
		t.Errorf("backend = %q, want cpu", info.Backend)
	}
	img, err := s.Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Errorf("capture is %dx%d, want grid size 32x24", b.Dx(), b.Dy())
	}
}

func TestSession_RunsBatches(t *testing.T) {
	s := newSession(t, WithGridSize(48, 48), WithStepsPerFrame(10), WithRenderSize(96, 96))

	waitFor(t, "five presented batches", func() bool {
		s.Tick()
		if err := s.Draw(); err != nil {
			t.Fatalf("Draw: %v", err)
		}
		return s.Stats().Completed >= 5
	})
	if err := s.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}

	g, err := s.Field()
	if err != nil {
		t.Fatalf("Field: %v", err)
	}
	if !g.Finite() {
		t.Error("field holds NaN or Inf")
	}
	img, err := s.Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 96 || b.Dy() != 96 {
		t.Errorf("capture is %dx%d, want 96x96", b.Dx(), b.Dy())
	}
	waitFor(t, "first frame", func() bool { return s.Frame() != nil })
}

// A dropped tick issues no batch and the display still draws the texture
// it already holds.
func TestSession_FrameDrop(t *testing.T) {
	gate := software.NewGate()
	dev := software.New(software.WithGate(gate))
	t.Cleanup(dev.Close)

	s, err := NewSession(WithDevice(dev), WithGridSize(16, 16), WithInFlightBudget(1))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() {
		gate.Open()
		_ = s.Close()
	})

	gate.Release(1) // initial seed
	if err := s.Draw(); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	gate.Release(1)
	waitFor(t, "initial frame", func() bool { return s.Frame() != nil })
	before := s.Frame()

	if r := s.Tick(); r != frame.TickIssued {
		t.Fatalf("first tick = %v, want issued", r)
	}
	waitFor(t, "batch at gate", func() bool { return gate.Held() == 1 })

	if r := s.Tick(); r != frame.TickDropped {
		t.Fatalf("tick with outstanding batch = %v, want dropped", r)
	}
	if err := s.Draw(); err != nil {
		t.Fatalf("Draw during dropped tick: %v", err)
	}
	if s.Frame() != before {
		t.Error("frame changed while the batch was outstanding")
	}
	if st := s.Stats(); st.Issued != 1 || st.Dropped != 1 {
		t.Errorf("Stats = %+v, want 1 issued and 1 dropped", st)
	}

	gate.Open()
	waitFor(t, "batch completion", func() bool { return s.Stats().Completed == 1 })
	waitFor(t, "new frame", func() bool { return s.Frame() != before })
}

// windowHost stands in for a host application whose device is not a wgpu
// device.
type windowHost struct{}

func (windowHost) Device() gpucontext.Device             { return struct{}{} }
func (windowHost) Queue() gpucontext.Queue               { return nil }
func (windowHost) Adapter() gpucontext.Adapter           { return nil }
func (windowHost) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }
func (windowHost) AdapterInfo() gpucontext.AdapterInfo   { return gpucontext.AdapterInfo{Name: "host"} }

func TestNewSession_DeviceProvider(t *testing.T) {
	_, err := NewSession(WithDeviceProvider(windowHost{}), WithGridSize(8, 8))
	if !errors.Is(err, gpu.ErrUnsupportedProvider) {
		t.Fatalf("NewSession = %v, want ErrUnsupportedProvider", err)
	}

	// An injected device wins over the provider.
	dev := software.New()
	defer dev.Close()
	s, err := NewSession(WithDevice(dev), WithDeviceProvider(windowHost{}), WithGridSize(8, 8))
	if err != nil {
		t.Fatalf("NewSession with device and provider: %v", err)
	}
	if s.Device() != dev {
		t.Error("session did not use the injected device")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestSession_InjectedDeviceStaysOpen(t *testing.T) {
	dev := software.New()
	defer dev.Close()

	s, err := NewSession(WithDevice(dev), WithGridSize(8, 8))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := dev.CreateBuffer(&gpucore.BufferDesc{Label: "after", Size: 16, Usage: gpucore.BufferUsageStorage}); err != nil {
		t.Errorf("injected device closed by session: %v", err)
	}
}

func TestSession_SetFeedKillAndReseed(t *testing.T) {
	s := newSession(t, WithGridSize(16, 16))

	s.SetFeedKill(0.046, 0.065)
	if p := s.Params(); p.F != 0.046 || p.K != 0.065 {
		t.Errorf("Params = %+v, want F=0.046 K=0.065", p)
	}

	s.Reseed(0.25)
	waitFor(t, "batch after reseed", func() bool {
		s.Tick()
		return s.Stats().Completed >= 1
	})
	if err := s.Err(); err != nil {
		t.Errorf("Err = %v", err)
	}
}

func TestSession_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newSession(t, WithGridSize(16, 16), WithRegisterer(reg))

	waitFor(t, "one batch", func() bool {
		s.Tick()
		return s.Stats().Completed >= 1
	})
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("no metrics registered")
	}
}

func TestBackend_String(t *testing.T) {
	tests := []struct {
		b    Backend
		want string
	}{
		{BackendAuto, "auto"},
		{BackendGPU, "gpu"},
		{BackendSoftware, "software"},
	}
	for _, tt := range tests {
		if got := tt.b.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.b, got, tt.want)
		}
	}
}
