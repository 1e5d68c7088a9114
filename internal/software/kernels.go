package software

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/grayscott/gpucore"
)

// Program names provided by the software library.
const (
	SeedProgram     = "seed"
	StepProgram     = "gray_scott"
	VertexProgram   = "vertex_main"
	FragmentProgram = "fragment_main"
)

// Uniform block sizes in bytes, matching the WGSL structs.
const (
	seedUniformSize = 16 // width u32, height u32, seed f32, pad
	stepUniformSize = 32 // width u32, height u32, F, K, Du, Dv, dt f32, pad
	viewUniformSize = 16 // width u32, height u32, pad, pad
)

// invocation runs one compute invocation at grid position (x, y).
type invocation func(x, y uint32)

// computeKernel validates the bound buffers of one dispatch and returns the
// per-invocation function.
type computeKernel func(bindings []*buffer) (invocation, error)

var computeKernels = map[string]computeKernel{
	SeedProgram: seedKernel,
	StepProgram: stepKernel,
}

// Library returns the program library of the software device.
func Library() gpucore.Library {
	return gpucore.NewLibrary(
		gpucore.Program{
			Name:     SeedProgram,
			Stage:    gpucore.StageCompute,
			Bindings: []gpucore.BindingType{gpucore.BindingUniform, gpucore.BindingStorage},
		},
		gpucore.Program{
			Name:  StepProgram,
			Stage: gpucore.StageCompute,
			Bindings: []gpucore.BindingType{
				gpucore.BindingUniform,
				gpucore.BindingReadOnlyStorage,
				gpucore.BindingStorage,
			},
		},
		gpucore.Program{Name: VertexProgram, Stage: gpucore.StageVertex},
		gpucore.Program{
			Name:     FragmentProgram,
			Stage:    gpucore.StageFragment,
			Bindings: []gpucore.BindingType{gpucore.BindingReadOnlyStorage, gpucore.BindingUniform},
		},
	)
}

func u32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }

func f32(b []byte, off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b[off:])) }

func putF32(b []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(b[off:], math.Float32bits(v))
}

// gridSize reads the width/height prefix shared by all uniform blocks and
// checks that field is large enough to hold the grid.
func gridSize(uniform *buffer, minSize int, fields ...*buffer) (w, h uint32, err error) {
	if len(uniform.data) < minSize {
		return 0, 0, fmt.Errorf("uniform buffer %q is %d bytes, need %d", uniform.label, len(uniform.data), minSize)
	}
	w, h = u32(uniform.data, 0), u32(uniform.data, 4)
	if w == 0 || h == 0 {
		return 0, 0, fmt.Errorf("uniform buffer %q describes an empty %dx%d grid", uniform.label, w, h)
	}
	need := uint64(w) * uint64(h) * 8
	for _, f := range fields {
		if uint64(len(f.data)) < need {
			return 0, 0, fmt.Errorf("field buffer %q is %d bytes, grid %dx%d needs %d", f.label, len(f.data), w, h, need)
		}
	}
	return w, h, nil
}

// pcgHash is the PCG output permutation used by the seed program.
func pcgHash(x uint32) uint32 {
	state := x*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

// unitNoise maps a hash to [-1, 1].
func unitNoise(h uint32) float32 {
	return float32(h&0xffff)/65535*2 - 1
}

func inSquare(x, y, px, py, side, w, h uint32) bool {
	return (x+w-px)%w < side && (y+h-py)%h < side
}

func seedKernel(bindings []*buffer) (invocation, error) {
	params, field := bindings[0], bindings[1]
	w, h, err := gridSize(params, seedUniformSize, field)
	if err != nil {
		return nil, err
	}
	seedBits := math.Float32bits(f32(params.data, 8))
	side := max(1, min(w, h)/10)

	var squares [5][2]uint32
	squares[0] = [2]uint32{w/2 - side/2, h/2 - side/2}
	for i := uint32(0); i < 4; i++ {
		hi := pcgHash(seedBits + i*0x9E3779B9)
		squares[i+1] = [2]uint32{hi % w, pcgHash(hi) % h}
	}
	cellSalt := pcgHash(seedBits)
	out := field.data

	return func(x, y uint32) {
		if x >= w || y >= h {
			return
		}
		u, v := float32(1), float32(0)
		for _, sq := range squares {
			if inSquare(x, y, sq[0], sq[1], side, w, h) {
				u, v = 0.5, 0.25
				break
			}
		}
		hc := pcgHash(cellSalt ^ (y*w + x))
		u *= 1 + 0.01*unitNoise(hc)
		v *= 1 + 0.01*unitNoise(pcgHash(hc))

		off := int(y*w+x) * 8
		putF32(out, off, u)
		putF32(out, off+4, v)
	}, nil
}

func stepKernel(bindings []*buffer) (invocation, error) {
	params, src, dst := bindings[0], bindings[1], bindings[2]
	if src == dst {
		return nil, fmt.Errorf("step source and destination are the same buffer %q", src.label)
	}
	w, h, err := gridSize(params, stepUniformSize, src, dst)
	if err != nil {
		return nil, err
	}
	var (
		feed = f32(params.data, 8)
		kill = f32(params.data, 12)
		du   = f32(params.data, 16)
		dv   = f32(params.data, 20)
		dt   = f32(params.data, 24)
		in   = src.data
		out  = dst.data
	)

	return func(x, y uint32) {
		if x >= w || y >= h {
			return
		}
		left, right := (x+w-1)%w, (x+1)%w
		up, down := (y+h-1)%h, (y+1)%h

		at := func(cx, cy uint32) (float32, float32) {
			off := int(cy*w+cx) * 8
			return f32(in, off), f32(in, off+4)
		}
		u, v := at(x, y)
		ul, vl := at(left, y)
		ur, vr := at(right, y)
		uu, vu := at(x, up)
		ud, vd := at(x, down)

		lu := ul + ur + uu + ud - 4*u
		lv := vl + vr + vu + vd - 4*v
		uvv := u * v * v

		nu := u + dt*(du*lu-uvv+feed*(1-u))
		nv := v + dt*(dv*lv+uvv-(feed+kill)*v)

		off := int(y*w+x) * 8
		putF32(out, off, nu)
		putF32(out, off+4, nv)
	}, nil
}
