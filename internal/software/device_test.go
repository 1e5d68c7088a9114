package software

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gogpu/grayscott/gpucore"
)

func newTestDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	d := New(opts...)
	t.Cleanup(d.Close)
	return d
}

func mustBuffer(t *testing.T, d *Device, label string, size uint64, usage gpucore.BufferUsage) gpucore.Buffer {
	t.Helper()
	b, err := d.CreateBuffer(&gpucore.BufferDesc{Label: label, Size: size, Usage: usage})
	if err != nil {
		t.Fatalf("CreateBuffer(%s): %v", label, err)
	}
	return b
}

func mustCompute(t *testing.T, d *Device, name string) gpucore.ComputePipeline {
	t.Helper()
	prog, ok := d.Library().Lookup(name)
	if !ok {
		t.Fatalf("program %q missing from library", name)
	}
	p, err := d.CreateComputePipeline(&gpucore.ComputePipelineDesc{Label: name, Program: prog, Workgroup: gpucore.DefaultWorkgroup})
	if err != nil {
		t.Fatalf("CreateComputePipeline(%s): %v", name, err)
	}
	return p
}

func uniform(words ...uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func fbits(f float32) uint32 { return math.Float32bits(f) }

const fieldUsage = gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst

// runKernel dispatches one compute program over a w x h grid and waits.
func runKernel(t *testing.T, d *Device, name string, w, h int, params []byte, fields ...gpucore.Buffer) {
	t.Helper()
	ub := mustBuffer(t, d, name+"_params", uint64(len(params)), gpucore.BufferUsageUniform|gpucore.BufferUsageCopyDst)
	if err := d.WriteBuffer(ub, 0, params); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	p := mustCompute(t, d, name)

	enc, err := d.CreateCommandEncoder(name)
	if err != nil {
		t.Fatalf("CreateCommandEncoder: %v", err)
	}
	pass := enc.BeginComputePass(name)
	pass.SetPipeline(p)
	pass.SetBindings(gpucore.Bind(append([]gpucore.Buffer{ub}, fields...)...))
	gx, gy := gpucore.WorkgroupCount(w, h, p.Workgroup())
	pass.Dispatch(gx, gy, 1)
	pass.End()
	cb, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	sub, err := d.Submit(cb)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sub.Wait(ctx); err != nil {
		t.Fatalf("submission %s: %v", name, err)
	}
}

func cells(data []byte) [][2]float32 {
	out := make([][2]float32, len(data)/8)
	for i := range out {
		out[i][0] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*8:]))
		out[i][1] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*8+4:]))
	}
	return out
}

func TestDevice_WriteReadOrdering(t *testing.T) {
	d := newTestDevice(t)
	b := mustBuffer(t, d, "b", 8, gpucore.BufferUsageStorage|gpucore.BufferUsageCopyDst)

	if err := d.WriteBuffer(b, 0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteBuffer(b, 2, []byte{9, 9}); err != nil {
		t.Fatal(err)
	}
	got, err := d.ReadBuffer(b)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 9, 9, 0, 0, 0, 0}
	if string(got) != string(want) {
		t.Errorf("ReadBuffer = %v, want %v", got, want)
	}

	if err := d.WriteBuffer(b, 6, []byte{1, 2, 3}); err == nil {
		t.Error("expected overflow error")
	}
}

func TestDevice_CreateBufferInvalid(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		name string
		size uint64
	}{
		{"zero", 0},
		{"too large", DefaultLimits.MaxBufferSize + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.CreateBuffer(&gpucore.BufferDesc{Label: tt.name, Size: tt.size}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSeedKernel_CoversPartialTiles(t *testing.T) {
	d := newTestDevice(t)
	const w, h = 37, 13 // not multiples of the 32x8 tile
	field := mustBuffer(t, d, "field", w*h*8, fieldUsage)

	runKernel(t, d, SeedProgram, w, h, uniform(w, h, fbits(0), 0), field)

	data, err := d.ReadBuffer(field)
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range cells(data) {
		if c[0] < 0.48 || c[0] > 1.02 {
			t.Fatalf("cell %d u = %v out of seeded range", i, c[0])
		}
	}
}

func TestSeedKernel_Deterministic(t *testing.T) {
	d := newTestDevice(t)
	const w, h = 64, 48
	a := mustBuffer(t, d, "a", w*h*8, fieldUsage)
	b := mustBuffer(t, d, "b", w*h*8, fieldUsage)
	c := mustBuffer(t, d, "c", w*h*8, fieldUsage)

	runKernel(t, d, SeedProgram, w, h, uniform(w, h, fbits(0.25), 0), a)
	runKernel(t, d, SeedProgram, w, h, uniform(w, h, fbits(0.25), 0), b)
	runKernel(t, d, SeedProgram, w, h, uniform(w, h, fbits(0.75), 0), c)

	da, _ := d.ReadBuffer(a)
	db, _ := d.ReadBuffer(b)
	dc, _ := d.ReadBuffer(c)
	if string(da) != string(db) {
		t.Error("same seed produced different fields")
	}
	if string(da) == string(dc) {
		t.Error("different seeds produced identical fields")
	}

	var seeded int
	for _, cell := range cells(da) {
		if cell[1] > 0.2 {
			seeded++
		}
	}
	if seeded == 0 {
		t.Error("seed left no perturbed cells")
	}
}

func TestStepKernel_SteadyState(t *testing.T) {
	d := newTestDevice(t)
	const w, h = 16, 16
	src := mustBuffer(t, d, "src", w*h*8, fieldUsage)
	dst := mustBuffer(t, d, "dst", w*h*8, fieldUsage)

	init := make([]byte, w*h*8)
	for i := 0; i < w*h; i++ {
		binary.LittleEndian.PutUint32(init[i*8:], fbits(1))
	}
	if err := d.WriteBuffer(src, 0, init); err != nil {
		t.Fatal(err)
	}

	params := uniform(w, h, fbits(0.046), fbits(0.065), fbits(0.2), fbits(0.1), fbits(1), 0)
	runKernel(t, d, StepProgram, w, h, params, src, dst)

	got, _ := d.ReadBuffer(dst)
	if string(got) != string(init) {
		t.Error("(u, v) = (1, 0) is a fixed point but the step changed it")
	}
}

func TestStepKernel_Diffuses(t *testing.T) {
	d := newTestDevice(t)
	const w, h = 8, 8
	src := mustBuffer(t, d, "src", w*h*8, fieldUsage)
	dst := mustBuffer(t, d, "dst", w*h*8, fieldUsage)

	// A single u spike at the origin; its left neighbour wraps to x = w-1.
	init := make([]byte, w*h*8)
	binary.LittleEndian.PutUint32(init, fbits(1))
	if err := d.WriteBuffer(src, 0, init); err != nil {
		t.Fatal(err)
	}
	params := uniform(w, h, 0, 0, fbits(0.2), fbits(0.1), fbits(1), 0)
	runKernel(t, d, StepProgram, w, h, params, src, dst)

	got := cells(mustRead(t, d, dst))
	if u := got[0][0]; math.Abs(float64(u-0.2)) > 1e-6 {
		t.Errorf("center u = %v, want 0.2", u)
	}
	for _, idx := range []int{1, w - 1, w, (h - 1) * w} {
		if u := got[idx][0]; math.Abs(float64(u-0.2)) > 1e-6 {
			t.Errorf("neighbour %d u = %v, want 0.2", idx, u)
		}
	}
}

func mustRead(t *testing.T, d *Device, b gpucore.Buffer) []byte {
	t.Helper()
	data, err := d.ReadBuffer(b)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	return data
}

func TestDevice_GateHoldsCompletion(t *testing.T) {
	gate := NewGate()
	d := newTestDevice(t, WithGate(gate))

	enc, _ := d.CreateCommandEncoder("held")
	cb, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	sub, err := d.Submit(cb)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for gate.Held() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("submission never reached the gate")
		}
		time.Sleep(time.Millisecond)
	}
	if sub.Completed() {
		t.Fatal("submission completed while gate was closed")
	}

	gate.Release(1)
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("submission did not complete after release")
	}
	if sub.Err() != nil {
		t.Errorf("Err() = %v", sub.Err())
	}
}

func TestDevice_CloseOpensGate(t *testing.T) {
	gate := NewGate()
	d := New(WithGate(gate))

	enc, _ := d.CreateCommandEncoder("held")
	cb, _ := enc.Finish()
	sub, err := d.Submit(cb)
	if err != nil {
		t.Fatal(err)
	}
	d.Close()
	if !sub.Completed() {
		t.Error("Close returned before held work completed")
	}
	if _, err := d.CreateCommandEncoder("late"); !errors.Is(err, gpucore.ErrDeviceClosed) {
		t.Errorf("CreateCommandEncoder after Close = %v, want ErrDeviceClosed", err)
	}
}

func TestDevice_SubmitTwice(t *testing.T) {
	d := newTestDevice(t)
	enc, _ := d.CreateCommandEncoder("once")
	cb, _ := enc.Finish()
	if _, err := d.Submit(cb); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Submit(cb); err == nil {
		t.Error("second Submit succeeded")
	}
}

func TestEncoder_DeferredErrors(t *testing.T) {
	d := newTestDevice(t)
	other := newTestDevice(t)
	p := mustCompute(t, d, StepProgram)
	foreign := mustBuffer(t, other, "foreign", 64, fieldUsage)
	local := mustBuffer(t, d, "local", 64, fieldUsage)

	tests := []struct {
		name   string
		record func(enc gpucore.CommandEncoder)
	}{
		{"foreign copy", func(enc gpucore.CommandEncoder) {
			enc.CopyBufferToBuffer(foreign, local, 8)
		}},
		{"copy out of range", func(enc gpucore.CommandEncoder) {
			enc.CopyBufferToBuffer(local, local, 128)
		}},
		{"binding count", func(enc gpucore.CommandEncoder) {
			pass := enc.BeginComputePass("p")
			pass.SetPipeline(p)
			pass.SetBindings(gpucore.Bind(local))
		}},
		{"dispatch without pipeline", func(enc gpucore.CommandEncoder) {
			enc.BeginComputePass("p").Dispatch(1, 1, 1)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := d.CreateCommandEncoder(tt.name)
			if err != nil {
				t.Fatal(err)
			}
			tt.record(enc)
			if _, err := enc.Finish(); err == nil {
				t.Error("Finish succeeded, want recording error")
			}
		})
	}
}

func TestDevice_CreateComputePipelineErrors(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		name string
		desc gpucore.ComputePipelineDesc
	}{
		{"unknown kernel", gpucore.ComputePipelineDesc{
			Program: gpucore.Program{Name: "nope", Stage: gpucore.StageCompute}, Workgroup: [2]uint32{8, 8},
		}},
		{"wrong stage", gpucore.ComputePipelineDesc{
			Program: gpucore.Program{Name: SeedProgram, Stage: gpucore.StageVertex}, Workgroup: [2]uint32{8, 8},
		}},
		{"workgroup too large", gpucore.ComputePipelineDesc{
			Program: gpucore.Program{Name: SeedProgram, Stage: gpucore.StageCompute}, Workgroup: [2]uint32{64, 64},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.CreateComputePipeline(&tt.desc); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDevice_DrawQuad(t *testing.T) {
	d := newTestDevice(t)
	const w, h = 8, 8

	field := mustBuffer(t, d, "field", w*h*8, fieldUsage)
	view := mustBuffer(t, d, "view", viewUniformSize, gpucore.BufferUsageUniform|gpucore.BufferUsageCopyDst)
	if err := d.WriteBuffer(view, 0, uniform(w, h, 0, 0)); err != nil {
		t.Fatal(err)
	}

	quad := []float32{
		-1, -1, 0, 0, 1,
		1, -1, 0, 1, 1,
		-1, 1, 0, 0, 0,
		1, 1, 0, 1, 0,
	}
	vb := mustBuffer(t, d, "quad", uint64(len(quad)*4), gpucore.BufferUsageVertex|gpucore.BufferUsageCopyDst)
	raw := make([]byte, len(quad)*4)
	for i, f := range quad {
		binary.LittleEndian.PutUint32(raw[i*4:], fbits(f))
	}
	if err := d.WriteBuffer(vb, 0, raw); err != nil {
		t.Fatal(err)
	}

	lib := d.Library()
	vs, _ := lib.Lookup(VertexProgram)
	fs, _ := lib.Lookup(FragmentProgram)
	rp, err := d.CreateRenderPipeline(&gpucore.RenderPipelineDesc{
		Label:    "quad",
		Vertex:   vs,
		Fragment: fs,
		Layout: gpucore.VertexLayout{Stride: 20, Attributes: []gpucore.VertexAttribute{
			{Location: 0, Format: gpucore.VertexFormatFloat32x3, Offset: 0},
			{Location: 1, Format: gpucore.VertexFormatFloat32x2, Offset: 12},
		}},
		Topology:    gpucore.TopologyTriangleStrip,
		ColorFormat: gpucore.TextureFormatBGRA8Unorm,
	})
	if err != nil {
		t.Fatal(err)
	}
	rt, err := d.CreateRenderTarget(16, 16, gpucore.TextureFormatBGRA8Unorm)
	if err != nil {
		t.Fatal(err)
	}

	enc, _ := d.CreateCommandEncoder("draw")
	enc.Draw(&gpucore.DrawCall{
		Pipeline:    rp,
		Vertices:    vb,
		VertexCount: 4,
		Bindings:    gpucore.Bind(field, view),
		Target:      rt,
	})
	cb, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Submit(cb); err != nil {
		t.Fatal(err)
	}

	img, err := d.ReadTarget(rt)
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if a := img.RGBAAt(x, y).A; a != 255 {
				t.Fatalf("pixel (%d,%d) alpha = %d, quad must cover the target", x, y, a)
			}
		}
	}
}
