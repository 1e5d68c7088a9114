// Package pipeline compiles named device programs into pipelines once and
// hands out small handles for use on hot paths.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/grayscott/gpucore"
)

// Fixed render state of every render pipeline.
const (
	ColorFormat = gpucore.TextureFormatBGRA8Unorm
	Topology    = gpucore.TopologyTriangleStrip
)

var cacheIDs atomic.Uint32

// Option configures a Cache.
type Option func(*options)

type options struct {
	workgroup [2]uint32
	logger    *slog.Logger
}

// WithWorkgroup requests a compute tile. It is clamped to the device limits.
// The default is the device's preferred tile.
func WithWorkgroup(tile [2]uint32) Option {
	return func(o *options) { o.workgroup = tile }
}

// WithLogger sets the cache logger. Nil disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Object is a resolved pipeline. Exactly one of Compute and Render is set.
type Object struct {
	Kind    Kind
	Name    string
	Compute gpucore.ComputePipeline
	Render  gpucore.RenderPipeline
}

// Cache owns a device and the pipelines compiled on it.
//
// Pipelines live in an arena that only grows during the registration phase.
// Registering the same program again returns the existing handle without
// recompiling. After Seal, the arena is immutable and lookups take no lock.
//
// Cache is safe for concurrent use.
type Cache struct {
	id        uint32
	dev       gpucore.Device
	workgroup [2]uint32
	log       *slog.Logger

	mu      sync.RWMutex
	entries []Object
	byKey   map[string]Handle
	sealed  atomic.Bool
	closed  atomic.Bool

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a cache over dev. It fails with gpucore.ErrNoDevice if dev
// is nil.
func New(dev gpucore.Device, opts ...Option) (*Cache, error) {
	if dev == nil {
		return nil, gpucore.ErrNoDevice
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	lim := dev.Limits()
	want := o.workgroup
	if want == [2]uint32{} {
		want = lim.PreferredWorkgroup
	}
	return &Cache{
		id:        cacheIDs.Add(1),
		dev:       dev,
		workgroup: gpucore.FitWorkgroup(want, lim),
		log:       log,
		byKey:     make(map[string]Handle),
	}, nil
}

// Device returns the device the cache compiles for.
func (c *Cache) Device() gpucore.Device { return c.dev }

// Workgroup returns the compute tile every compute pipeline is built with.
func (c *Cache) Workgroup() [2]uint32 { return c.workgroup }

// RegisterCompute compiles the named compute program, or returns the handle
// of an earlier registration of the same name.
func (c *Cache) RegisterCompute(name string) (Handle, error) {
	key := "compute:" + name
	if h, ok := c.lookup(key); ok {
		return h, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.byKey[key]; ok {
		c.hits.Add(1)
		return h, nil
	}
	if err := c.writableLocked(); err != nil {
		return Handle{}, err
	}

	prog, err := c.program(name, gpucore.StageCompute)
	if err != nil {
		return Handle{}, err
	}
	p, err := c.dev.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label:     name,
		Program:   prog,
		Workgroup: c.workgroup,
	})
	if err != nil {
		return Handle{}, compilationError(prog, err)
	}
	h := c.appendLocked(key, Object{Kind: KindCompute, Name: name, Compute: p})
	c.log.Info("pipeline: compute registered", "name", name, "handle", h.index,
		"workgroup_x", c.workgroup[0], "workgroup_y", c.workgroup[1])
	return h, nil
}

// RegisterRender compiles a vertex and fragment program pair against layout,
// with the fixed ColorFormat and Topology, or returns the handle of an
// earlier registration of the same pair and layout.
func (c *Cache) RegisterRender(vertexName, fragmentName string, layout gpucore.VertexLayout) (Handle, error) {
	key := renderKey(vertexName, fragmentName, layout)
	if h, ok := c.lookup(key); ok {
		return h, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.byKey[key]; ok {
		c.hits.Add(1)
		return h, nil
	}
	if err := c.writableLocked(); err != nil {
		return Handle{}, err
	}

	vs, err := c.program(vertexName, gpucore.StageVertex)
	if err != nil {
		return Handle{}, err
	}
	fs, err := c.program(fragmentName, gpucore.StageFragment)
	if err != nil {
		return Handle{}, err
	}
	if err := layout.Validate(); err != nil {
		return Handle{}, &CompilationError{Program: vertexName, Stage: gpucore.StageVertex, Diagnostic: err.Error(), Err: err}
	}
	name := vertexName + "+" + fragmentName
	p, err := c.dev.CreateRenderPipeline(&gpucore.RenderPipelineDesc{
		Label:       name,
		Vertex:      vs,
		Fragment:    fs,
		Layout:      layout,
		Topology:    Topology,
		ColorFormat: ColorFormat,
	})
	if err != nil {
		return Handle{}, compilationError(vs, err)
	}
	h := c.appendLocked(key, Object{Kind: KindRender, Name: name, Render: p})
	c.log.Info("pipeline: render registered", "name", name, "handle", h.index)
	return h, nil
}

func renderKey(vertexName, fragmentName string, layout gpucore.VertexLayout) string {
	key := fmt.Sprintf("render:%s|%s|%d", vertexName, fragmentName, layout.Stride)
	for _, a := range layout.Attributes {
		key += fmt.Sprintf("|%d:%d@%d", a.Location, a.Format, a.Offset)
	}
	return key
}

func (c *Cache) lookup(key string) (Handle, bool) {
	c.mu.RLock()
	h, ok := c.byKey[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	}
	return h, ok
}

func (c *Cache) writableLocked() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.sealed.Load() {
		return ErrSealed
	}
	return nil
}

// program looks up name and checks its stage. A stage mismatch is reported
// as a compilation error, since the device would reject it at link time.
func (c *Cache) program(name string, stage gpucore.Stage) (gpucore.Program, error) {
	prog, ok := c.dev.Library().Lookup(name)
	if !ok {
		return gpucore.Program{}, fmt.Errorf("%w: %q", ErrProgramNotFound, name)
	}
	if prog.Stage != stage {
		err := fmt.Errorf("program stage is %s, want %s", prog.Stage, stage)
		return gpucore.Program{}, &CompilationError{Program: name, Stage: prog.Stage, Diagnostic: err.Error(), Err: err}
	}
	return prog, nil
}

func (c *Cache) appendLocked(key string, obj Object) Handle {
	h := Handle{cache: c.id, index: uint32(len(c.entries))} //nolint:gosec // arena is tiny
	c.entries = append(c.entries, obj)
	c.byKey[key] = h
	c.misses.Add(1)
	return h
}

// Seal ends the registration phase. Later registrations of new programs
// fail with ErrSealed; re-registering a known program still returns its
// handle.
func (c *Cache) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed.Store(true)
	c.log.Debug("pipeline: sealed", "pipelines", len(c.entries))
}

// Resolve returns the pipeline for h.
//
// It panics if h was not issued by this cache. Handles are created only by
// the cache, so a bad handle is a programming error.
func (c *Cache) Resolve(h Handle) Object {
	if h.cache != c.id {
		panic(fmt.Sprintf("pipeline: %v was not issued by cache %d", h, c.id))
	}
	if c.sealed.Load() {
		return c.entryAt(h)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entryAt(h)
}

func (c *Cache) entryAt(h Handle) Object {
	if c.closed.Load() {
		panic(fmt.Sprintf("pipeline: resolve %v on closed cache", h))
	}
	if int(h.index) >= len(c.entries) {
		panic(fmt.Sprintf("pipeline: %v out of range (%d pipelines)", h, len(c.entries)))
	}
	return c.entries[h.index]
}

// Compute resolves h to a compute pipeline. It panics if h is invalid or
// names a render pipeline.
func (c *Cache) Compute(h Handle) gpucore.ComputePipeline {
	obj := c.Resolve(h)
	if obj.Kind != KindCompute {
		panic(fmt.Sprintf("pipeline: %v is a %s pipeline, want compute", h, obj.Kind))
	}
	return obj.Compute
}

// Render resolves h to a render pipeline. It panics if h is invalid or names
// a compute pipeline.
func (c *Cache) Render(h Handle) gpucore.RenderPipeline {
	obj := c.Resolve(h)
	if obj.Kind != KindRender {
		panic(fmt.Sprintf("pipeline: %v is a %s pipeline, want render", h, obj.Kind))
	}
	return obj.Render
}

// Len returns the number of compiled pipelines.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns registration hit and miss counts. Every miss is one
// compilation.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Close destroys every pipeline. Handles must not be resolved afterwards.
// The device itself is not closed.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return
	}
	for _, e := range c.entries {
		switch e.Kind {
		case KindCompute:
			c.dev.DestroyComputePipeline(e.Compute)
		case KindRender:
			c.dev.DestroyRenderPipeline(e.Render)
		}
	}
	c.closed.Store(true)
	c.log.Debug("pipeline: closed", "pipelines", len(c.entries))
}
