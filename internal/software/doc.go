// Package software implements gpucore.Device on the host CPU.
//
// Buffers live in host memory. A single queue goroutine executes writes,
// command buffers and readbacks strictly in submission order, and completes
// each gpucore.Submission only after its commands have run, so the device
// observes the same ordering rules as a hardware queue.
//
// Compute programs are Go functions registered under the same names as the
// WGSL entry points of the hardware library ("seed", "gray_scott"), and
// render programs ("vertex_main", "fragment_main") drive a small triangle
// rasterizer. Dispatches are split into workgroup rows and executed on an
// internal/parallel worker pool.
//
// A Gate can hold completions to model a stalled GPU in tests.
package software
