// Package grayscott runs a Gray-Scott reaction-diffusion simulation on a GPU
// and presents the evolving field as a textured quad.
//
// # Quick Start
//
//	s, err := grayscott.NewSession(grayscott.WithGridSize(256, 256))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer s.Close()
//
//	for range 600 { // one iteration per display refresh
//		s.Tick()
//		s.Draw()
//	}
//	img, _ := s.Capture()
//
// # Architecture
//
// A Session wires four components, each usable on its own:
//   - pipeline: compiles named programs once and indexes them by Handle
//   - sim: two field buffers in ping-pong roles, advanced in batches
//   - frame: issues batches off the display thread under an in-flight budget
//   - present: the render-visible texture and the quad renderer
//
// All of them talk to a gpucore.Device. The hardware device uses
// gogpu/wgpu (Vulkan); a CPU device with identical semantics is used when no
// adapter is present.
//
// # Threading
//
// Tick, Draw, Reseed and SetFeedKill are meant for the display thread and
// never block on the GPU. Simulation batches run on the controller's worker
// goroutine.
package grayscott
