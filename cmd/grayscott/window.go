package main

import (
	"fmt"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/gogpu/grayscott"
)

// Fine-tuning step for the arrow keys.
const paramStep = 0.0005

// viewer drives a session from the ebiten loop: Update is the display
// tick, Draw submits a quad draw and shows the latest finished frame.
type viewer struct {
	session       *grayscott.Session
	preset        int
	width, height int
	drawErr       error
}

func (v *viewer) Update() error {
	if v.drawErr != nil {
		return v.drawErr
	}
	if err := v.session.Err(); err != nil {
		return err
	}
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		v.session.Reseed(timeSeed())
	case inpututil.IsKeyJustPressed(ebiten.KeyPageDown):
		v.selectPreset((v.preset + 1) % len(presets))
	case inpututil.IsKeyJustPressed(ebiten.KeyPageUp):
		v.selectPreset((v.preset + len(presets) - 1) % len(presets))
	case inpututil.IsKeyJustPressed(ebiten.KeyUp):
		v.nudge(paramStep, 0)
	case inpututil.IsKeyJustPressed(ebiten.KeyDown):
		v.nudge(-paramStep, 0)
	case inpututil.IsKeyJustPressed(ebiten.KeyRight):
		v.nudge(0, paramStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyLeft):
		v.nudge(0, -paramStep)
	}
	v.session.Tick()
	return nil
}

func (v *viewer) selectPreset(i int) {
	v.preset = i
	if p := presets[i]; !p.custom() {
		v.session.SetFeedKill(p.F, p.K)
	}
}

// nudge moves F or K by hand, which turns the selection into Custom.
func (v *viewer) nudge(df, dk float32) {
	p := v.session.Params()
	v.session.SetFeedKill(max(0, p.F+df), max(0, p.K+dk))
	v.preset = 0
}

func (v *viewer) Draw(screen *ebiten.Image) {
	if err := v.session.Draw(); err != nil && v.drawErr == nil {
		v.drawErr = err
	}
	if img := v.session.Frame(); img != nil {
		screen.WritePixels(img.Pix)
	}
	p := v.session.Params()
	st := v.session.Stats()
	ebitenutil.DebugPrint(screen, fmt.Sprintf(
		"%s  F=%.4f K=%.4f\nbatches %d  dropped %d  TPS %.0f\nPgUp/PgDn preset, arrows F/K, R reseed",
		presets[v.preset].Name, p.F, p.K, st.Completed, st.Dropped, ebiten.ActualTPS()))
}

func (v *viewer) Layout(_, _ int) (int, int) { return v.width, v.height }

func runWindow(s *grayscott.Session, preset, width, height, scale int) error {
	ebiten.SetWindowSize(width*scale, height*scale)
	ebiten.SetWindowTitle("Gray-Scott")
	return ebiten.RunGame(&viewer{session: s, preset: preset, width: width, height: height})
}
