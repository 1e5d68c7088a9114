// Package gpucore defines the backend-agnostic GPU contract used by the
// Gray-Scott engine.
//
// The engine never talks to a graphics API directly. It works against the
// [Device] interface, which bundles the three handles a host graphics
// subsystem hands out at startup:
//
//   - a device that allocates buffers and compiles pipelines,
//   - a queue that executes submitted command buffers in submission order,
//   - a program library that resolves named GPU programs.
//
// Two implementations ship with the module: a wgpu/hal backed device
// (internal/gpu) and a CPU reference device (internal/software) that runs
// the same named programs in Go. Both report completion of submitted work
// through a [Submission], which is the only synchronization primitive the
// engine relies on.
//
// # Resource lifecycle
//
//   - Resources are created via Create* methods on the device.
//   - Resources are destroyed explicitly via Destroy* methods.
//   - Destroying a resource referenced by unfinished work is undefined.
//
// # Ordering
//
// Work submitted to a device executes in submission order. WriteBuffer is
// ordered with respect to Submit: a write issued after Submit(a) and before
// Submit(b) is visible to b and invisible to a.
package gpucore
