package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gogpu/grayscott/gpucore"
	"github.com/gogpu/grayscott/internal/software"
)

// countingDevice counts pipeline compilations.
type countingDevice struct {
	gpucore.Device
	compute atomic.Int32
	render  atomic.Int32
}

func (d *countingDevice) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipeline, error) {
	d.compute.Add(1)
	return d.Device.CreateComputePipeline(desc)
}

func (d *countingDevice) CreateRenderPipeline(desc *gpucore.RenderPipelineDesc) (gpucore.RenderPipeline, error) {
	d.render.Add(1)
	return d.Device.CreateRenderPipeline(desc)
}

func newCache(t *testing.T, devOpts ...software.Option) (*Cache, *countingDevice) {
	t.Helper()
	sw := software.New(devOpts...)
	t.Cleanup(sw.Close)
	dev := &countingDevice{Device: sw}
	c, err := New(dev)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c, dev
}

var quadLayout = gpucore.VertexLayout{
	Stride: 20,
	Attributes: []gpucore.VertexAttribute{
		{Location: 0, Format: gpucore.VertexFormatFloat32x3, Offset: 0},
		{Location: 1, Format: gpucore.VertexFormatFloat32x2, Offset: 12},
	},
}

func TestNew_NilDevice(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, gpucore.ErrNoDevice) {
		t.Errorf("New(nil) error = %v, want ErrNoDevice", err)
	}
}

func TestCache_RegisterComputeOnce(t *testing.T) {
	c, dev := newCache(t)

	h1, err := c.RegisterCompute(software.StepProgram)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := c.RegisterCompute(software.StepProgram)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("re-registration returned %v, want %v", h2, h1)
	}
	if n := dev.compute.Load(); n != 1 {
		t.Errorf("compiled %d times, want 1", n)
	}
	if h1.IsZero() {
		t.Error("issued the zero handle")
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Stats() = %d hits, %d misses; want 1, 1", hits, misses)
	}
}

func TestCache_HandlesAreStable(t *testing.T) {
	c, _ := newCache(t)

	seed, err := c.RegisterCompute(software.SeedProgram)
	if err != nil {
		t.Fatal(err)
	}
	step, err := c.RegisterCompute(software.StepProgram)
	if err != nil {
		t.Fatal(err)
	}
	quad, err := c.RegisterRender(software.VertexProgram, software.FragmentProgram, quadLayout)
	if err != nil {
		t.Fatal(err)
	}
	if seed == step || step == quad {
		t.Fatal("distinct programs share a handle")
	}

	first := c.Compute(seed)
	c.Seal()
	if got := c.Compute(seed); got != first {
		t.Error("handle resolved to a different pipeline after Seal")
	}
	if got := c.Resolve(quad); got.Kind != KindRender || got.Render == nil {
		t.Errorf("Resolve(render) = %+v", got)
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	if got := c.Compute(step).Workgroup(); got != c.Workgroup() {
		t.Errorf("pipeline workgroup %v, cache workgroup %v", got, c.Workgroup())
	}
}

func TestCache_ProgramNotFound(t *testing.T) {
	c, dev := newCache(t)

	tests := []struct {
		name     string
		register func() (Handle, error)
	}{
		{"compute", func() (Handle, error) { return c.RegisterCompute("missing") }},
		{"vertex", func() (Handle, error) {
			return c.RegisterRender("missing", software.FragmentProgram, quadLayout)
		}},
		{"fragment", func() (Handle, error) {
			return c.RegisterRender(software.VertexProgram, "missing", quadLayout)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := tt.register()
			if !errors.Is(err, ErrProgramNotFound) {
				t.Errorf("error = %v, want ErrProgramNotFound", err)
			}
			if !h.IsZero() {
				t.Errorf("handle = %v, want zero on failure", h)
			}
		})
	}
	if dev.compute.Load()+dev.render.Load() != 0 {
		t.Error("device compiled a missing program")
	}
}

func TestCache_CompilationError(t *testing.T) {
	lib := gpucore.NewLibrary(
		gpucore.Program{Name: "broken", Stage: gpucore.StageCompute},
		gpucore.Program{Name: software.VertexProgram, Stage: gpucore.StageVertex},
	)
	c, _ := newCache(t, software.WithLibrary(lib))

	tests := []struct {
		name      string
		register  func() (Handle, error)
		wantStage gpucore.Stage
	}{
		{"device rejects kernel", func() (Handle, error) { return c.RegisterCompute("broken") }, gpucore.StageCompute},
		{"stage mismatch", func() (Handle, error) { return c.RegisterCompute(software.VertexProgram) }, gpucore.StageVertex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.register()
			var ce *CompilationError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want *CompilationError", err)
			}
			if ce.Diagnostic == "" {
				t.Error("empty diagnostic")
			}
			if ce.Stage != tt.wantStage {
				t.Errorf("Stage = %v, want %v", ce.Stage, tt.wantStage)
			}
		})
	}
}

func TestCache_SealRejectsNewPrograms(t *testing.T) {
	c, _ := newCache(t)
	h, err := c.RegisterCompute(software.SeedProgram)
	if err != nil {
		t.Fatal(err)
	}
	c.Seal()

	if _, err := c.RegisterCompute(software.StepProgram); !errors.Is(err, ErrSealed) {
		t.Errorf("register after Seal = %v, want ErrSealed", err)
	}
	again, err := c.RegisterCompute(software.SeedProgram)
	if err != nil || again != h {
		t.Errorf("known program after Seal = %v, %v; want %v, nil", again, err, h)
	}
}

func TestCache_ResolveContractViolations(t *testing.T) {
	c, _ := newCache(t)
	other, _ := newCache(t)

	compute, err := c.RegisterCompute(software.SeedProgram)
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := other.RegisterCompute(software.SeedProgram)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		call func()
	}{
		{"zero handle", func() { c.Resolve(Handle{}) }},
		{"foreign handle", func() { c.Resolve(foreign) }},
		{"out of range", func() { c.Resolve(Handle{cache: c.id, index: 99}) }},
		{"wrong kind", func() { c.Render(compute) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.call()
		})
	}
}

func TestCache_ConcurrentRegistration(t *testing.T) {
	c, dev := newCache(t)

	var wg sync.WaitGroup
	handles := make([]Handle, 16)
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := c.RegisterCompute(software.StepProgram)
			if err != nil {
				t.Error(err)
			}
			handles[i] = h
		}()
	}
	wg.Wait()

	for _, h := range handles[1:] {
		if h != handles[0] {
			t.Fatalf("concurrent registrations returned %v and %v", handles[0], h)
		}
	}
	if n := dev.compute.Load(); n != 1 {
		t.Errorf("compiled %d times, want 1", n)
	}
}

func TestCache_WorkgroupClampedToLimits(t *testing.T) {
	lim := software.DefaultLimits
	lim.MaxWorkgroupInvocations = 64
	sw := software.New(software.WithLimits(lim))
	defer sw.Close()

	c, err := New(sw, WithWorkgroup([2]uint32{32, 8}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if got, want := c.Workgroup(), [2]uint32{32, 2}; got != want {
		t.Errorf("Workgroup() = %v, want %v", got, want)
	}
}

func TestCache_Closed(t *testing.T) {
	c, _ := newCache(t)
	h, err := c.RegisterCompute(software.SeedProgram)
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	c.Close()

	if _, err := c.RegisterCompute(software.StepProgram); !errors.Is(err, ErrClosed) {
		t.Errorf("register after Close = %v, want ErrClosed", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("Resolve after Close did not panic")
		}
	}()
	c.Resolve(h)
}
