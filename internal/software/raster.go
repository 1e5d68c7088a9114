package software

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/gogpu/grayscott/gpucore"
)

// vertexOut is the interpolated output of the vertex program.
type vertexOut struct {
	x, y float32 // clip space
	s, t float32 // texture coordinates
}

type vertexKernel func(attrs [][4]float32) vertexOut

// fragmentKernel validates the bound buffers of a draw and returns the
// shading function for interpolated texture coordinates.
type fragmentKernel func(bindings []*buffer) (func(s, t float32) color.RGBA, error)

var vertexKernels = map[string]vertexKernel{
	VertexProgram: quadVertex,
}

var fragmentKernels = map[string]fragmentKernel{
	FragmentProgram: fieldFragment,
}

// quadVertex passes the position through and forwards attribute 1 as the
// texture coordinate.
func quadVertex(attrs [][4]float32) vertexOut {
	var out vertexOut
	if len(attrs) > 0 {
		out.x, out.y = attrs[0][0], attrs[0][1]
	}
	if len(attrs) > 1 {
		out.s, out.t = attrs[1][0], attrs[1][1]
	}
	return out
}

// Ramp endpoints of the field colorizer.
var (
	rampLow  = [3]float32{0.05, 0.05, 0.15}
	rampHigh = [3]float32{1.0, 0.85, 0.4}
)

func clamp01(v float32) float32 {
	if v != v || v < 0 { // NaN maps to 0
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toByte(v float32) uint8 {
	return uint8(clamp01(v)*255 + 0.5)
}

// fieldFragment samples the nearest field cell and maps v onto a two-color
// ramp.
func fieldFragment(bindings []*buffer) (func(s, t float32) color.RGBA, error) {
	field, view := bindings[0], bindings[1]
	w, h, err := gridSize(view, viewUniformSize, field)
	if err != nil {
		return nil, err
	}
	data := field.data
	return func(s, t float32) color.RGBA {
		cx := min(uint32(clamp01(s)*float32(w)), w-1)
		cy := min(uint32(clamp01(t)*float32(h)), h-1)
		v := f32(data, int(cy*w+cx)*8+4)
		k := clamp01(v * 3)
		return color.RGBA{
			R: toByte(rampLow[0] + (rampHigh[0]-rampLow[0])*k),
			G: toByte(rampLow[1] + (rampHigh[1]-rampLow[1])*k),
			B: toByte(rampLow[2] + (rampHigh[2]-rampLow[2])*k),
			A: 255,
		}
	}, nil
}

// readVertices decodes count vertices from a vertex buffer.
func readVertices(vb *buffer, layout gpucore.VertexLayout, count uint32, vs vertexKernel) ([]vertexOut, error) {
	need := layout.Stride * uint64(count)
	if uint64(len(vb.data)) < need {
		return nil, fmt.Errorf("vertex buffer %q is %d bytes, %d vertices need %d", vb.label, len(vb.data), count, need)
	}
	out := make([]vertexOut, count)
	attrs := make([][4]float32, len(layout.Attributes))
	for i := range out {
		base := int(layout.Stride) * i
		for _, a := range layout.Attributes {
			if int(a.Location) >= len(attrs) {
				continue
			}
			var v [4]float32
			n := int(a.Format.Size() / 4)
			for c := 0; c < n; c++ {
				v[c] = f32(vb.data, base+int(a.Offset)+c*4)
			}
			attrs[a.Location] = v
		}
		out[i] = vs(attrs)
	}
	return out, nil
}

// triangles expands a vertex list into triangles for the topology.
func triangles(topo gpucore.Topology, n int) [][3]int {
	var tris [][3]int
	switch topo {
	case gpucore.TopologyTriangleStrip:
		for i := 0; i+2 < n; i++ {
			if i%2 == 0 {
				tris = append(tris, [3]int{i, i + 1, i + 2})
			} else {
				tris = append(tris, [3]int{i + 1, i, i + 2})
			}
		}
	default:
		for i := 0; i+2 < n; i += 3 {
			tris = append(tris, [3]int{i, i + 1, i + 2})
		}
	}
	return tris
}

func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

// fillTriangle rasterizes one triangle into img, sampling at pixel centers.
// Culling is disabled; both windings are filled.
func fillTriangle(img *image.RGBA, v [3]vertexOut, shade func(s, t float32) color.RGBA) {
	b := img.Bounds()
	w, h := float32(b.Dx()), float32(b.Dy())

	var px, py [3]float32
	for i := range v {
		px[i] = (v[i].x + 1) / 2 * w
		py[i] = (1 - v[i].y) / 2 * h
	}
	area := edge(px[0], py[0], px[1], py[1], px[2], py[2])
	if area == 0 {
		return
	}

	minX := max(0, int(math.Floor(float64(min(px[0], px[1], px[2])))))
	maxX := min(b.Dx()-1, int(math.Ceil(float64(max(px[0], px[1], px[2])))))
	minY := max(0, int(math.Floor(float64(min(py[0], py[1], py[2])))))
	maxY := min(b.Dy()-1, int(math.Ceil(float64(max(py[0], py[1], py[2])))))

	for y := minY; y <= maxY; y++ {
		cy := float32(y) + 0.5
		for x := minX; x <= maxX; x++ {
			cx := float32(x) + 0.5
			w0 := edge(px[1], py[1], px[2], py[2], cx, cy) / area
			w1 := edge(px[2], py[2], px[0], py[0], cx, cy) / area
			w2 := 1 - w0 - w1
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			s := w0*v[0].s + w1*v[1].s + w2*v[2].s
			t := w0*v[0].t + w1*v[1].t + w2*v[2].t
			img.SetRGBA(b.Min.X+x, b.Min.Y+y, shade(s, t))
		}
	}
}
