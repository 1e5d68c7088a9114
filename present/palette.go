package present

import (
	"image"
	"image/color"
	"math"

	"github.com/crazy3lf/colorconv"
	"golang.org/x/image/draw"

	"github.com/gogpu/grayscott/sim"
)

const paletteSize = 256

// Palette maps the v concentration to a color.
type Palette struct {
	colors [paletteSize]color.RGBA
	scale  float32
}

// NewPalette builds an HSV ramp from hueFrom to hueTo degrees. Value rises
// from 0.15 to 1 along the ramp so an empty field reads dark. Concentrations
// at or above vMax map to the last color.
func NewPalette(hueFrom, hueTo float64, vMax float32) *Palette {
	if !(vMax > 0) {
		vMax = 0.4
	}
	p := &Palette{scale: (paletteSize - 1) / vMax}
	for i := range p.colors {
		t := float64(i) / (paletteSize - 1)
		hue := math.Mod(hueFrom+(hueTo-hueFrom)*t+360, 360)
		r, g, b, err := colorconv.HSVToRGB(hue, 0.85, 0.15+0.85*t)
		if err != nil {
			r, g, b = 0, 0, 0
		}
		p.colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return p
}

// DefaultPalette is a blue to yellow ramp.
func DefaultPalette() *Palette { return NewPalette(230, 50, 0.4) }

// Color returns the color for concentration v. NaN maps to the first color.
func (p *Palette) Color(v float32) color.RGBA {
	if !(v > 0) {
		return p.colors[0]
	}
	i := v * p.scale
	if i >= paletteSize-1 {
		return p.colors[paletteSize-1]
	}
	return p.colors[int(i)]
}

// Colorize renders a grid at one pixel per cell.
func (p *Palette) Colorize(g *sim.Grid) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			_, v := g.At(x, y)
			img.SetRGBA(x, y, p.Color(v))
		}
	}
	return img
}

// Snapshot colorizes g and scales it to width x height. Zero dimensions
// keep the grid size.
func Snapshot(g *sim.Grid, p *Palette, width, height int) *image.RGBA {
	src := p.Colorize(g)
	if width <= 0 || height <= 0 || (width == g.Width && height == g.Height) {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
