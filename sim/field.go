package sim

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/grayscott/gpucore"
)

// CellSize is the byte size of one (u, v) cell.
const CellSize = 8

// Role is the part a field buffer plays in the next step.
type Role uint8

const (
	// RoleSource is read by the next step and holds the latest state.
	RoleSource Role = iota + 1

	// RoleDestination is written by the next step.
	RoleDestination
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleDestination:
		return "destination"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func (r Role) flip() Role {
	if r == RoleSource {
		return RoleDestination
	}
	return RoleSource
}

// Field is one of the two device buffers owned by a Stepper.
type Field struct {
	name   string
	buffer gpucore.Buffer
	role   Role
}

// Name returns "ping" or "pong".
func (f *Field) Name() string { return f.name }

// Buffer returns the device buffer.
func (f *Field) Buffer() gpucore.Buffer { return f.buffer }

// Grid is a host copy of a field.
type Grid struct {
	Width, Height int
	U, V          []float32
}

// DecodeGrid decodes raw field bytes.
func DecodeGrid(data []byte, width, height int) (*Grid, error) {
	n := width * height
	if width <= 0 || height <= 0 || len(data) < n*CellSize {
		return nil, fmt.Errorf("sim: %d bytes do not hold a %dx%d field", len(data), width, height)
	}
	g := &Grid{Width: width, Height: height, U: make([]float32, n), V: make([]float32, n)}
	for i := 0; i < n; i++ {
		g.U[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*CellSize:]))
		g.V[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*CellSize+4:]))
	}
	return g, nil
}

// At returns the cell at (x, y).
func (g *Grid) At(x, y int) (u, v float32) {
	i := y*g.Width + x
	return g.U[i], g.V[i]
}

// Finite reports whether every cell is free of NaN and Inf.
func (g *Grid) Finite() bool {
	for i := range g.U {
		u, v := float64(g.U[i]), float64(g.V[i])
		if math.IsNaN(u) || math.IsInf(u, 0) || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// StdDevU returns the population standard deviation of u.
func (g *Grid) StdDevU() float64 {
	if len(g.U) == 0 {
		return 0
	}
	var sum float64
	for _, u := range g.U {
		sum += float64(u)
	}
	mean := sum / float64(len(g.U))
	var sq float64
	for _, u := range g.U {
		d := float64(u) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(g.U)))
}

func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }

func putF32(b []byte, off int, v float32) { putU32(b, off, math.Float32bits(v)) }

// stepUniforms encodes the step program parameter block.
func stepUniforms(w, h int, p Params, dt float32) []byte {
	b := make([]byte, 32)
	putU32(b, 0, uint32(w)) //nolint:gosec // validated grid size
	putU32(b, 4, uint32(h)) //nolint:gosec // validated grid size
	putF32(b, 8, p.F)
	putF32(b, 12, p.K)
	putF32(b, 16, p.Du)
	putF32(b, 20, p.Dv)
	putF32(b, 24, dt)
	return b
}

// seedUniforms encodes the seed program parameter block.
func seedUniforms(w, h int, seed float32) []byte {
	b := make([]byte, 16)
	putU32(b, 0, uint32(w)) //nolint:gosec // validated grid size
	putU32(b, 4, uint32(h)) //nolint:gosec // validated grid size
	putF32(b, 8, seed)
	return b
}
